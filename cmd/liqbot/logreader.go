package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/liqcore/liqbot/internal/backfill"
	"github.com/liqcore/liqbot/internal/ingest"
)

// poolLogReader implements backfill.LogReader over a direct eth_getLogs
// call against the pool address, decoding each returned log through the
// same topic registry the live ingestor uses so Backfiller's notion of
// "a log that touches a user" matches the steady-state decode path exactly.
type poolLogReader struct {
	client   *ethclient.Client
	pool     common.Address
	registry *ingest.Registry
}

func newPoolLogReader(client *ethclient.Client, pool common.Address, registry *ingest.Registry) *poolLogReader {
	return &poolLogReader{client: client, pool: pool, registry: registry}
}

func (r *poolLogReader) GetLogs(ctx context.Context, fromBlock, toBlock uint64) ([]backfill.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{r.pool},
	}
	logs, err := r.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]backfill.Log, 0, len(logs))
	for _, l := range logs {
		ev, ok := r.registry.Decode(l.Topics, l.Data, l.BlockNumber, l.TxHash)
		if !ok || len(ev.Users) == 0 {
			continue
		}
		out = append(out, backfill.Log{Users: ev.Users})
	}
	return out, nil
}
