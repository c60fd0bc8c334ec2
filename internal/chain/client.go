// Package chain is the read/write/decode surface every upstream component
// depends on: ABI-encoded calls, aggregate3 multicalls, and receipt
// waiting.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of ethclient.Client that ContractClient needs,
// narrowed so tests can supply a fake.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*types.Transaction, bool, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ContractClient wraps one deployed contract's ABI and address, exposing the
// read/write/decode operations the rest of liqbot needs without leaking
// go-ethereum call-opts plumbing into every caller.
type ContractClient struct {
	backend Backend
	address common.Address
	abi     abi.ABI
}

// NewContractClient builds a ContractClient bound to one contract address.
func NewContractClient(backend Backend, address common.Address, contractABI abi.ABI) *ContractClient {
	return &ContractClient{backend: backend, address: address, abi: contractABI}
}

func (c *ContractClient) Address() common.Address { return c.address }
func (c *ContractClient) ABI() abi.ABI             { return c.abi }

// Call performs a read-only eth_call against the wrapped contract and
// unpacks the result into the method's declared output types.
func (c *ContractClient) Call(ctx context.Context, from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	msg := ethereum.CallMsg{To: &c.address, Data: data}
	if from != nil {
		msg.From = *from
	}
	out, err := c.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	return c.abi.Unpack(method, out)
}

// RawCall performs an eth_call with caller-supplied calldata, bypassing the
// wrapped ABI entirely. Adapters that hand-pack their own calldata (package
// aave) use this instead of Call.
func (c *ContractClient) RawCall(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.backend.CallContract(ctx, msg, nil)
}

// Pack ABI-encodes a method call without sending it, used to build calldata
// for IntentBuilder and for multicall sub-payloads.
func (c *ContractClient) Pack(method string, args ...interface{}) ([]byte, error) {
	return c.abi.Pack(method, args...)
}

// DecodeTransaction decodes raw input data against this contract's ABI,
// returning the matched method name and its arguments.
func (c *ContractClient) DecodeTransaction(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, errShortInput
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return "", nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, err
	}
	return method.Name, args, nil
}

// TransactionData returns a transaction's full calldata, looked up by hash.
func (c *ContractClient) TransactionData(ctx context.Context, txHash common.Hash) ([]byte, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	return tx.Data(), nil
}
