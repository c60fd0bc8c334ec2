package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
	"github.com/liqcore/liqbot/internal/health"
	"github.com/liqcore/liqbot/internal/intent"
	"github.com/liqcore/liqbot/internal/prices"
	"github.com/liqcore/liqbot/internal/reserves"
	"github.com/liqcore/liqbot/internal/tokens"
)

// newPositionsFetcher builds execution.PositionsFetcher from the same
// borrower state HealthResolver's micro-multicall tier already populated:
// no extra RPC round trip, just USD valuation over the cached positions.
func newPositionsFetcher(resolver *health.Resolver, catalog *reserves.Catalog, registry *tokens.Registry, svc *prices.Service, latestBlock func() uint64) func(ctx context.Context, user common.Address) ([]intent.PositionValue, error) {
	return func(ctx context.Context, user common.Address) ([]intent.PositionValue, error) {
		borrower, ok := resolver.BorrowerSnapshot(user)
		if !ok {
			return nil, nil
		}
		block := latestBlock()
		out := make([]intent.PositionValue, 0, len(borrower.Positions))
		for _, pos := range borrower.Positions {
			reserve, ok := catalog.Get(pos.Asset)
			if !ok {
				continue
			}
			info, err := registry.Resolve(ctx, pos.Asset)
			if err != nil {
				info = tokens.Info{Symbol: reserve.Symbol, Decimals: reserve.Decimals}
			}
			price, err := svc.PriceAt(ctx, info.Symbol, block)
			if err != nil {
				continue
			}

			pv := intent.PositionValue{
				Asset: pos.Asset, UsageAsCollateralEnabled: pos.UsageAsCollateralEnabled,
				LiquidationBonusBps: reserve.LiquidationBonusBps, Decimals: info.Decimals,
				CollateralPriceUsd: price.Usd,
			}
			if pos.ATokenBalance != nil && !pos.ATokenBalance.IsZero() {
				if usd, err := fixedpoint.ToUsd(pos.ATokenBalance, info.Decimals, price.Usd, 8); err == nil {
					pv.CollateralUsd = toFloatBaseUnits(usd)
				}
			}
			totalDebt := totalDebtOf(pos)
			if totalDebt != nil && !totalDebt.IsZero() {
				pv.Debt = totalDebt
				if usd, err := fixedpoint.ToUsd(totalDebt, info.Decimals, price.Usd, 8); err == nil {
					pv.DebtUsd = toFloatBaseUnits(usd)
				}
			}
			out = append(out, pv)
		}
		return out, nil
	}
}

// newReservesFetcher builds execution.ReservesFetcher: the reserve addresses
// a user's stored position list already names, or every listed reserve as a
// curated default on first contact (before any micro-multicall has ever
// populated that user's Positions).
func newReservesFetcher(resolver *health.Resolver, catalog *reserves.Catalog) func(ctx context.Context, user common.Address) []common.Address {
	return func(ctx context.Context, user common.Address) []common.Address {
		if borrower, ok := resolver.BorrowerSnapshot(user); ok && len(borrower.Positions) > 0 {
			out := make([]common.Address, len(borrower.Positions))
			for i, pos := range borrower.Positions {
				out[i] = pos.Asset
			}
			return out
		}
		all := catalog.All()
		out := make([]common.Address, len(all))
		for i, r := range all {
			out[i] = r.Asset
		}
		return out
	}
}

// totalDebtOf sums stable and variable debt; nil legs are treated as zero.
func totalDebtOf(pos domain.ReservePosition) *uint256.Int {
	total := uint256.NewInt(0)
	if pos.StableDebt != nil {
		total.Add(total, pos.StableDebt)
	}
	if pos.VariableDebt != nil {
		total.Add(total, pos.VariableDebt)
	}
	return total
}

func toFloatBaseUnits(v *uint256.Int) float64 {
	f := new(big.Float).SetInt(v.ToBig())
	f.Quo(f, big.NewFloat(1e8))
	out, _ := f.Float64()
	return out
}
