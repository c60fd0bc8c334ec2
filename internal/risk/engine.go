// Package risk implements RiskEngine: authoritative HF computation
// from a borrower's reserve positions, and scenario-based projection for
// PredictiveOrchestrator.
package risk

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
)

// PriceLookup resolves an asset's current USD price (BaseUnit 10^8) for
// collateral/debt valuation.
type PriceLookup func(asset common.Address) (*uint256.Int, error)

// Engine computes authoritative and projected health factors.
type Engine struct{}

// New constructs a RiskEngine.
func New() *Engine { return &Engine{} }

// HealthFactorFromTotals implements health.RiskEngine: the tier-2 fast path
// that recomputes HF from the already-valued totals MicroMulticall returns
// (getUserAccountData's totalCollateralBase/totalDebtBase plus the user's
// currentLiquidationThreshold). ComputeFromReserves below is the
// authoritative per-reserve recomputation; HealthResolver does not call it,
// and ProjectHF builds on the same computation.
func (e *Engine) HealthFactorFromTotals(totalCollateralBase, totalDebtBase *uint256.Int, liqThresholdBps uint32) (*uint256.Int, error) {
	weighted, err := fixedpoint.WeightedCollateralBase(totalCollateralBase, liqThresholdBps, true)
	if err != nil {
		return nil, err
	}
	return fixedpoint.HealthFactor(weighted, totalDebtBase)
}

// ComputeFromReserves computes authoritative HF from per-reserve positions
// and their live USD valuation:
//
//	weightedCollateralBase = Σ (usageAsCollateralEnabled ? collateralValueBase * liqThresholdBps/BPS : 0)
//	hf = totalDebtBase == 0 ? nil(infinite) : weightedCollateralBase * WAD / totalDebtBase
func (e *Engine) ComputeFromReserves(reserves map[common.Address]domain.Reserve, positions []domain.ReservePosition, price PriceLookup) (*uint256.Int, error) {
	return e.computeFromReserves(reserves, positions, price, price)
}

// computeFromReserves is ComputeFromReserves generalized to distinct
// collateral-side and debt-side price lookups, letting ProjectHF apply
// CollateralMultiplier and DebtMultiplier independently instead of one shock
// to both legs.
func (e *Engine) computeFromReserves(reserves map[common.Address]domain.Reserve, positions []domain.ReservePosition, collateralPrice, debtPrice PriceLookup) (*uint256.Int, error) {
	weightedTotal := uint256.NewInt(0)
	debtTotal := uint256.NewInt(0)

	for _, pos := range positions {
		reserve, ok := reserves[pos.Asset]
		if !ok {
			continue
		}
		cp, err := collateralPrice(pos.Asset)
		if err != nil {
			continue // best-effort: missing price for one reserve must not abort the whole HF
		}
		collateralValue, err := fixedpoint.ToUsd(pos.ATokenBalance, reserve.Decimals, cp, domain.BaseUnitDigits)
		if err != nil {
			return nil, err
		}
		weighted, err := fixedpoint.WeightedCollateralBase(collateralValue, reserve.LiquidationThresholdBps, pos.UsageAsCollateralEnabled)
		if err != nil {
			return nil, err
		}
		weightedTotal = addChecked(weightedTotal, weighted)

		dp, err := debtPrice(pos.Asset)
		if err != nil {
			continue
		}
		debt := addChecked(pos.StableDebt, pos.VariableDebt)
		debtValue, err := fixedpoint.ToUsd(debt, reserve.Decimals, dp, domain.BaseUnitDigits)
		if err != nil {
			return nil, err
		}
		debtTotal = addChecked(debtTotal, debtValue)
	}

	return fixedpoint.HealthFactor(weightedTotal, debtTotal)
}

func addChecked(a, b *uint256.Int) *uint256.Int {
	if a == nil {
		a = uint256.NewInt(0)
	}
	if b == nil {
		b = uint256.NewInt(0)
	}
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return new(uint256.Int).SetAllOne() // saturate; caller compares against thresholds, not exact equality
	}
	return sum
}

// PriceShock is a per-asset multiplicative shock applied to collateral and
// debt prices before recomputing HF. Coefficients are float64 multipliers
// (e.g. 0.85 for a 15% drop; 0 is treated as 1) since they are scenario
// inputs, not contract values; the
// recomputation itself stays entirely fixed-point.
type PriceShock struct {
	Asset              common.Address
	CollateralMultiplier float64 // e.g. 0.85 for a 15% collateral price drop
	DebtMultiplier       float64
}

// ProjectHF applies shocks to a base price lookup and recomputes HF under
// the resulting scenario, used by PredictiveOrchestrator.
func (e *Engine) ProjectHF(reserves map[common.Address]domain.Reserve, positions []domain.ReservePosition, basePrice PriceLookup, shocks []PriceShock) (*uint256.Int, error) {
	shockByAsset := make(map[common.Address]PriceShock, len(shocks))
	for _, s := range shocks {
		shockByAsset[s.Asset] = s
	}
	shockedPrice := func(pick func(PriceShock) float64) PriceLookup {
		return func(asset common.Address) (*uint256.Int, error) {
			p, err := basePrice(asset)
			if err != nil {
				return nil, err
			}
			shock, ok := shockByAsset[asset]
			if !ok {
				return p, nil
			}
			mult := pick(shock)
			if mult == 0 {
				mult = 1
			}
			return applyFloatMultiplier(p, mult), nil
		}
	}
	collateralPrice := shockedPrice(func(s PriceShock) float64 { return s.CollateralMultiplier })
	debtPrice := shockedPrice(func(s PriceShock) float64 { return s.DebtMultiplier })
	return e.computeFromReserves(reserves, positions, collateralPrice, debtPrice)
}

// applyFloatMultiplier scales a fixed-point price by a float coefficient,
// the one place scenario math is allowed to touch float64, per the design:
// outputs are re-quantized back to integer BaseUnit immediately.
func applyFloatMultiplier(p *uint256.Int, mult float64) *uint256.Int {
	if p == nil {
		return nil
	}
	scaledFloat := new(big.Float).SetInt(p.ToBig())
	scaledFloat.Mul(scaledFloat, big.NewFloat(mult))
	out, _ := scaledFloat.Int(nil)
	result, overflow := uint256.FromBig(out)
	if overflow {
		return p
	}
	return result
}
