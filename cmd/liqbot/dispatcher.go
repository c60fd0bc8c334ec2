package main

import (
	"context"
	"math/big"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/execution"
	"github.com/liqcore/liqbot/internal/submit"
)

// txDispatcher adapts *submit.Submitter to execution.Dispatcher: it owns
// nonce assignment (a single atomic counter seeded from the chain, since
// every executor key currently shares one Submitter-managed rotation) and
// the fee suggestion that feeds Submit's unsignedTx builder.
type txDispatcher struct {
	submitter *submit.Submitter
	client    *ethclient.Client
	to        common.Address
	chainID   *big.Int
	gasLimit  uint64

	nonce uint64
}

func newTxDispatcher(ctx context.Context, submitter *submit.Submitter, client *ethclient.Client, to common.Address, chainID *big.Int, from common.Address) (*txDispatcher, error) {
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	return &txDispatcher{submitter: submitter, client: client, to: to, chainID: chainID, nonce: nonce}, nil
}

// Dispatch builds the attempt's fee parameters, reserves the next nonce,
// and hands off to Submitter.Submit under submission mode Race (broadcast
// to every healthy write endpoint and the private relay pool alike is the
// caller's choice; Race is the safest default for a fail-fast critical
// lane).
func (d *txDispatcher) Dispatch(ctx context.Context, in domain.Intent) (execution.DispatchResult, error) {
	tip, err := d.client.SuggestGasTipCap(ctx)
	if err != nil {
		return execution.DispatchResult{}, err
	}
	head, err := d.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return execution.DispatchResult{}, err
	}
	fee := new(big.Int).Add(tip, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))

	gasLimit := in.GasLimit
	if gasLimit == 0 {
		gasLimit = d.gasLimit
	}

	nonce := atomic.AddUint64(&d.nonce, 1) - 1
	attempt := submit.Attempt{
		To: d.to, Data: in.Calldata, GasLimit: gasLimit, Nonce: nonce, ChainID: d.chainID,
		MaxFeePerGas: fee, MaxPriorityFeePerGas: tip, Mode: submit.ModeRace,
	}

	result, err := d.submitter.Submit(ctx, attempt, unsignedTxBuilder(d.chainID, d.to, in.Calldata))
	if err != nil {
		return execution.DispatchResult{Outcome: execution.OutcomeTxFailed}, err
	}
	if result.Failed {
		return execution.DispatchResult{Outcome: execution.OutcomeTxFailed, TxHash: result.TxHash}, nil
	}
	return execution.DispatchResult{Outcome: execution.OutcomeSuccess, TxHash: result.TxHash}, nil
}
