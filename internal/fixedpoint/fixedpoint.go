// Package fixedpoint implements the WAD/RAY/BPS checked arithmetic the rest
// of liqbot builds on. Every conversion used for contract inputs, threshold
// comparisons, or economic gating goes through here; float64 is only used
// downstream for logging and priority scores, never for these paths.
package fixedpoint

import (
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
)

const (
	Wad      = domain.WAD
	Bps      = domain.BPS
	BaseUnit = domain.BaseUnit
)

var (
	wad      = uint256.NewInt(Wad)
	bps      = uint256.NewInt(Bps)
	ray, _   = uint256.FromDecimal("1000000000000000000000000000") // 10^27
	tenPow9  = uint256.NewInt(1_000_000_000)
)

// Ray returns the RAY scale constant (10^27) as a fresh *uint256.Int so
// callers may mutate the result freely.
func Ray() *uint256.Int { return new(uint256.Int).Set(ray) }

// WadInt returns the WAD scale constant (10^18, i.e. a health factor of
// exactly 1.0) as a fresh *uint256.Int so callers may mutate the result
// freely.
func WadInt() *uint256.Int { return new(uint256.Int).Set(wad) }

// ApplyRay computes x * index / RAY with overflow detection, used to turn a
// scaled balance (e.g. scaledVariableDebt) into its current principal via a
// RAY-scale interest index.
func ApplyRay(x, index *uint256.Int) (*uint256.Int, error) {
	prod, overflow := new(uint256.Int).MulOverflow(x, index)
	if overflow {
		return nil, domain.New("fixedpoint.ApplyRay", domain.KindArithmeticOverflow, "x*index overflow")
	}
	return new(uint256.Int).Div(prod, ray), nil
}

// ToUsd converts a raw token amount into a BaseUnit (10^8) USD value:
//
//	amount * price / (10^decimals * 10^(priceDecimals-8)) * 10^8
//
// priceDecimals is normally BaseUnitDigits (8), making the denominator
// simply 10^decimals; the general form is kept for oracle feeds quoted at a
// different precision.
func ToUsd(amount *uint256.Int, decimals uint8, price *uint256.Int, priceDecimals uint8) (*uint256.Int, error) {
	if amount == nil || price == nil {
		return nil, domain.New("fixedpoint.ToUsd", domain.KindArithmeticOverflow, "nil operand")
	}
	numerator, overflow := new(uint256.Int).MulOverflow(amount, price)
	if overflow {
		return nil, domain.New("fixedpoint.ToUsd", domain.KindArithmeticOverflow, "amount*price overflow")
	}
	numerator, overflow = numerator.MulOverflow(numerator, pow10(domain.BaseUnitDigits))
	if overflow {
		return nil, domain.New("fixedpoint.ToUsd", domain.KindArithmeticOverflow, "*1e8 overflow")
	}
	denomExp := int(decimals)
	if priceDecimals > domain.BaseUnitDigits {
		denomExp += int(priceDecimals - domain.BaseUnitDigits)
	}
	denom := pow10(denomExp)
	if denom.IsZero() {
		return nil, domain.New("fixedpoint.ToUsd", domain.KindArithmeticOverflow, "zero denominator")
	}
	return new(uint256.Int).Div(numerator, denom), nil
}

// FromUsd is the inverse of ToUsd: it converts a BaseUnit (10^8) USD value
// back into a raw token amount at decimals, given the same price this
// amount was (or would be) valued at.
func FromUsd(usdValue *uint256.Int, decimals uint8, price *uint256.Int, priceDecimals uint8) (*uint256.Int, error) {
	if usdValue == nil || price == nil || price.IsZero() {
		return nil, domain.New("fixedpoint.FromUsd", domain.KindArithmeticOverflow, "nil or zero operand")
	}
	denomExp := int(decimals)
	if priceDecimals > domain.BaseUnitDigits {
		denomExp += int(priceDecimals - domain.BaseUnitDigits)
	}
	numerator, overflow := new(uint256.Int).MulOverflow(usdValue, pow10(denomExp))
	if overflow {
		return nil, domain.New("fixedpoint.FromUsd", domain.KindArithmeticOverflow, "usdValue*10^decimals overflow")
	}
	denom, overflow := new(uint256.Int).MulOverflow(price, pow10(domain.BaseUnitDigits))
	if overflow {
		return nil, domain.New("fixedpoint.FromUsd", domain.KindArithmeticOverflow, "price*1e8 overflow")
	}
	if denom.IsZero() {
		return nil, domain.New("fixedpoint.FromUsd", domain.KindArithmeticOverflow, "zero denominator")
	}
	return new(uint256.Int).Div(numerator, denom), nil
}

// WeightedCollateralBase computes collateralValueBase * liqThresholdBps / BPS,
// or zero when usageAsCollateralEnabled is false.
func WeightedCollateralBase(collateralValueBase *uint256.Int, liqThresholdBps uint32, usageAsCollateralEnabled bool) (*uint256.Int, error) {
	if !usageAsCollateralEnabled {
		return uint256.NewInt(0), nil
	}
	prod, overflow := new(uint256.Int).MulOverflow(collateralValueBase, uint256.NewInt(uint64(liqThresholdBps)))
	if overflow {
		return nil, domain.New("fixedpoint.WeightedCollateralBase", domain.KindArithmeticOverflow, "collateral*threshold overflow")
	}
	return new(uint256.Int).Div(prod, bps), nil
}

// HealthFactor computes hf = weightedCollateralBase * WAD / totalDebtBase,
// returning nil (the caller must treat this as "infinite") when debt is zero.
func HealthFactor(weightedCollateralBase, totalDebtBase *uint256.Int) (*uint256.Int, error) {
	if totalDebtBase == nil || totalDebtBase.IsZero() {
		return nil, nil
	}
	prod, overflow := new(uint256.Int).MulOverflow(weightedCollateralBase, wad)
	if overflow {
		return nil, domain.New("fixedpoint.HealthFactor", domain.KindArithmeticOverflow, "weighted*WAD overflow")
	}
	return new(uint256.Int).Div(prod, totalDebtBase), nil
}

// LessThanThreshold reports hf < thresholdBps/BPS using only integer math:
// hf < thresholdBps * WAD / BPS  <=>  hf * BPS < thresholdBps * WAD.
func LessThanThreshold(hf *uint256.Int, thresholdBps uint32) bool {
	if hf == nil {
		return false // infinite HF
	}
	lhs, overflow := new(uint256.Int).MulOverflow(hf, bps)
	if overflow {
		return false
	}
	rhs, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(uint64(thresholdBps)), wad)
	if overflow {
		return false
	}
	return lhs.Lt(rhs)
}

// WorsenedBeyondHysteresis reports hfNew <= hfPrev * (1 - hysteresisBps/BPS),
// i.e. hfNew * BPS <= hfPrev * (BPS - hysteresisBps).
func WorsenedBeyondHysteresis(hfNew, hfPrev *uint256.Int, hysteresisBps uint32) bool {
	if hfNew == nil || hfPrev == nil {
		return false
	}
	lhs, overflow := new(uint256.Int).MulOverflow(hfNew, bps)
	if overflow {
		return true // treat overflow-scale drop as worsened; it cannot be a tiny move
	}
	factor := uint64(Bps) - uint64(hysteresisBps)
	rhs, overflow := new(uint256.Int).MulOverflow(hfPrev, uint256.NewInt(factor))
	if overflow {
		return false
	}
	return lhs.Cmp(rhs) <= 0
}

// SuspiciousScaling flags a usd value that is implausibly large relative to
// a reference unit price, typically indicating a decimals mismatch upstream
// (e.g. treating a 6-decimal token as an 18-decimal one).
func SuspiciousScaling(rawAmount, usdValue *uint256.Int) bool {
	if rawAmount == nil || rawAmount.IsZero() || usdValue == nil {
		return false
	}
	ratio := new(uint256.Int).Div(usdValue, rawAmount)
	return ratio.Gt(tenPow9)
}

func pow10(n int) *uint256.Int {
	r := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := 0; i < n; i++ {
		r, _ = r.MulOverflow(r, ten)
	}
	return r
}
