package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/liqcore/liqbot/internal/keyvault"
	"github.com/liqcore/liqbot/internal/rpcpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// clientPool lazily dials and caches one *ethclient.Client per URL, since
// rpcpool.Endpoint only carries a URL and Submitter/Backfiller need a live
// transport to issue the actual RPC.
type clientPool struct {
	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func newClientPool() *clientPool {
	return &clientPool{clients: make(map[string]*ethclient.Client)}
}

// instrumentedHTTPClient wraps the default transport with otelhttp, so every
// outbound RPC call against an http(s) endpoint carries a client span a
// collector can stitch to the server-side span the relay/provider emits.
func instrumentedHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func (p *clientPool) get(ctx context.Context, url string) (*ethclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[url]; ok {
		return c, nil
	}

	var c *ethclient.Client
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		rpcClient, err := rpc.DialHTTPWithClient(url, instrumentedHTTPClient())
		if err != nil {
			return nil, err
		}
		c = ethclient.NewClient(rpcClient)
	} else {
		dialed, err := ethclient.DialContext(ctx, url)
		if err != nil {
			return nil, err
		}
		c = dialed
	}
	p.clients[url] = c
	return c, nil
}

// loadExecutorKeys decrypts every *.key file under dir with passphrase,
// mirroring keyvault's at-rest scrypt+chacha20poly1305 format.
func loadExecutorKeys(dir string, passphrase []byte) ([]keyvault.ExecutorKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read executor key directory %s: %w", dir, err)
	}
	var keys []keyvault.ExecutorKey
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".key") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", entry.Name(), err)
		}
		key, err := keyvault.LoadExecutorKey(passphrase, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt key file %s: %w", entry.Name(), err)
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no executor keys found under %s", dir)
	}
	return keys, nil
}

// newSigner returns a submit.Signer bound to chainID, signing via the
// London dynamic-fee transaction type every attempt is built as.
func newSigner(chainID *big.Int) func(key keyvault.ExecutorKey, tx *types.Transaction) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chainID)
	return func(key keyvault.ExecutorKey, tx *types.Transaction) (*types.Transaction, error) {
		return types.SignTx(tx, signer, key.Private)
	}
}

// newBroadcaster returns a submit.Broadcaster that lazily dials ep.URL and
// sends the raw signed transaction over it.
func newBroadcaster(pool *clientPool) func(ctx context.Context, ep *rpcpool.Endpoint, signed *types.Transaction) error {
	return func(ctx context.Context, ep *rpcpool.Endpoint, signed *types.Transaction) error {
		client, err := pool.get(ctx, ep.URL)
		if err != nil {
			return err
		}
		return client.SendTransaction(ctx, signed)
	}
}

// newMinedChecker returns a submit.MinedChecker backed by a single
// reference client, used to skip a scheduled gas bump once the original
// attempt already landed.
func newMinedChecker(client *ethclient.Client) func(ctx context.Context, hash common.Hash) (bool, error) {
	return func(ctx context.Context, hash common.Hash) (bool, error) {
		_, err := client.TransactionReceipt(ctx, hash)
		if err == ethereum.NotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
}

// newGasEstimator returns an intent.GasEstimator calling eth_estimateGas
// against the pool contract from the first executor key's address.
func newGasEstimator(client *ethclient.Client, from, to common.Address) func(ctx context.Context, calldata []byte) (uint64, error) {
	return func(ctx context.Context, calldata []byte) (uint64, error) {
		return client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: calldata})
	}
}

// unsignedTxBuilder closes over chainID/to/pool address and matches
// submit.Submitter.Submit's unsignedTx callback signature, building the
// same dynamic-fee transaction shape for both the initial attempt and every
// scheduled gas bump.
func unsignedTxBuilder(chainID *big.Int, to common.Address, data []byte) func(nonce uint64, tip, fee *big.Int, gasLimit uint64) *types.Transaction {
	return func(nonce uint64, tip, fee *big.Int, gasLimit uint64) *types.Transaction {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: fee,
			Gas:       gasLimit,
			To:        &to,
			Data:      data,
		})
	}
}
