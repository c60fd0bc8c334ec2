// Package multicall implements MicroMulticall: one bounded aggregate3
// batch per user, combining the account-data read with up to K per-reserve
// reads for single-user HF reverification.
package multicall

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/chain"
	"github.com/liqcore/liqbot/internal/domain"
)

// MaxReservesPerBatch bounds K, the per-user reserve reads packed alongside
// the required account-data call.
const MaxReservesPerBatch = 6

// Call3 mirrors the aggregate3 ABI tuple (target, allowFailure, callData).
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result3 mirrors the aggregate3 ABI tuple (success, returnData).
type Result3 struct {
	Success    bool
	ReturnData []byte
}

// Aggregator is the narrow surface MicroMulticall needs from the aggregate3
// contract client.
type Aggregator interface {
	Aggregate3(ctx context.Context, calls []Call3) ([]Result3, error)
}

// PoolDecoder decodes the pool's getUserAccountData / per-reserve call
// results. Kept as an interface so the batch builder stays agnostic of the
// exact pool ABI shape.
type PoolDecoder interface {
	EncodeAccountData(user common.Address) ([]byte, error)
	DecodeAccountData(data []byte) (totalCollateralBase, totalDebtBase *domainUint, liqThresholdBps uint32, err error)
	EncodeReserveData(user common.Address, asset common.Address) ([]byte, error)
	DecodeReserveData(data []byte) (domain.ReservePosition, error)
	PoolAddress() common.Address
}

// domainUint aliases to avoid importing uint256 twice in this file's public
// surface; defined in result.go.

// MicroMulticall batches one account-data read with up to K per-reserve
// reads into a single aggregate3 call.
type MicroMulticall struct {
	agg     Aggregator
	decoder PoolDecoder
}

// New constructs a MicroMulticall over the given aggregator and pool
// decoder.
func New(agg Aggregator, decoder PoolDecoder) *MicroMulticall {
	return &MicroMulticall{agg: agg, decoder: decoder}
}

// BatchResult is the decoded (1+k) slot response attributed back to its
// reserve.
type BatchResult struct {
	TotalCollateralBase *domainUint
	TotalDebtBase       *domainUint
	LiquidationThreshold uint32
	Positions           []domain.ReservePosition
}

// Fetch builds and executes the (1+K) aggregate3 batch for user across
// reserves (capped at MaxReservesPerBatch), with allowFailure=true on the
// per-reserve calls only; the account-data call is required.
func (m *MicroMulticall) Fetch(ctx context.Context, user common.Address, reserves []common.Address) (*BatchResult, error) {
	if len(reserves) > MaxReservesPerBatch {
		reserves = reserves[:MaxReservesPerBatch]
	}

	accountData, err := m.decoder.EncodeAccountData(user)
	if err != nil {
		return nil, domain.Wrap("multicall.Fetch.encode", domain.KindDecodeError, err)
	}

	calls := make([]Call3, 0, 1+len(reserves))
	calls = append(calls, Call3{Target: m.decoder.PoolAddress(), AllowFailure: false, CallData: accountData})
	for _, r := range reserves {
		data, err := m.decoder.EncodeReserveData(user, r)
		if err != nil {
			return nil, domain.Wrap("multicall.Fetch.encodeReserve", domain.KindDecodeError, err)
		}
		calls = append(calls, Call3{Target: m.decoder.PoolAddress(), AllowFailure: true, CallData: data})
	}

	results, err := m.agg.Aggregate3(ctx, calls)
	if err != nil {
		return nil, domain.New("multicall.Fetch", domain.KindRpcNetwork, "aggregate3 call failed")
	}
	if len(results) != len(calls) {
		return nil, domain.New("multicall.Fetch", domain.KindDecodeError, "slot count mismatch")
	}
	if !results[0].Success {
		return nil, domain.New("multicall.Fetch", domain.KindRpcCallReverted, "account data slot missing")
	}

	totalCollateral, totalDebt, liqThreshold, err := m.decoder.DecodeAccountData(results[0].ReturnData)
	if err != nil {
		return nil, domain.Wrap("multicall.Fetch.decode", domain.KindDecodeError, err)
	}

	out := &BatchResult{
		TotalCollateralBase:  totalCollateral,
		TotalDebtBase:        totalDebt,
		LiquidationThreshold: liqThreshold,
	}
	for i, r := range reserves {
		slot := results[i+1]
		if !slot.Success {
			continue // allowFailure: skip positions that revert, best-effort
		}
		pos, err := m.decoder.DecodeReserveData(slot.ReturnData)
		if err != nil {
			continue
		}
		pos.Asset = r
		out.Positions = append(out.Positions, pos)
	}
	return out, nil
}
