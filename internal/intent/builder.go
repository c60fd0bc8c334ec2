// Package intent implements IntentBuilder: debt/collateral asset
// selection, close-factor policy, bonus and expected-collateral-out
// computation, calldata encoding, and TTL/price-move-gated caching of the
// resulting liquidationCall intents.
package intent

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
)

// CloseFactorPolicy selects how much of a position may be closed in one
// liquidation call.
type CloseFactorPolicy int

const (
	// CloseFactorFixed50 covers at most half the total debt.
	CloseFactorFixed50 CloseFactorPolicy = iota
	// CloseFactorFull covers the entire debt; only valid when the market
	// permits a 100% close (HF below a sub-threshold).
	CloseFactorFull
)

// PriceLookup resolves an asset's current USD price (BaseUnit 10^8).
type PriceLookup func(asset common.Address) (*uint256.Int, error)

// GasEstimator estimates gas for a prospective liquidationCall, returning
// the base estimate before the configured buffer is applied.
type GasEstimator func(ctx context.Context, calldata []byte) (uint64, error)

// Packer ABI-encodes the pool's liquidationCall, implemented by aave.Pool.
type Packer interface {
	Pack(method string, args ...interface{}) ([]byte, error)
}

// PositionValue is one user reserve position already reduced to the fields
// the selection policy needs: USD-valued balances and reserve parameters.
type PositionValue struct {
	Asset                   common.Address
	CollateralUsd           float64
	DebtUsd                 float64
	Debt                    *uint256.Int // raw debt amount (stable+variable), token decimals
	UsageAsCollateralEnabled bool
	LiquidationBonusBps     uint32
	Decimals                uint8
	// CollateralPriceUsd is the BaseUnit (10^8) price this position's asset
	// was valued at; expectedCollateralOut divides back through it to turn
	// the USD-denominated seize amount into native token units.
	CollateralPriceUsd *uint256.Int
}

// BuildRequest is everything Build needs for one user at one block.
type BuildRequest struct {
	User            common.Address
	DebtAsset       common.Address // zero value: let the selection policy choose
	CollateralAsset common.Address // zero value: let the selection policy choose
	Positions       []PositionValue
	HF              *uint256.Int
	Block           uint64
	ReceiveAToken   bool
	// SkipProfitGate bypasses the MinProfitUsd check: the optimistic-execution
	// path sets this once HF is already confirmed below 1.0, trading the
	// profit-verification step for submission speed against the revert budget.
	SkipProfitGate bool
}

// Config bounds eligibility thresholds, close-factor policy, gas buffering,
// and cache behavior.
type Config struct {
	AllowListDebtAssets   map[common.Address]struct{}
	CloseFactor           CloseFactorPolicy
	FullCloseHfSubThreshold *uint256.Int // HF below this permits CloseFactorFull regardless of the configured policy
	MinDebtUsd            float64
	MinProfitUsd          float64
	GasLimitBuffer        float64
	MaxIntentAge          time.Duration
	RevalidatePriceMoveBps uint32
}

func (c *Config) setDefaults() {
	if c.GasLimitBuffer <= 0 {
		c.GasLimitBuffer = 1.2
	}
	if c.MaxIntentAge <= 0 {
		c.MaxIntentAge = 2 * time.Second
	}
	if c.RevalidatePriceMoveBps == 0 {
		c.RevalidatePriceMoveBps = 500
	}
}

type cachedIntent struct {
	intent      domain.Intent
	builtAt     time.Time
	debtPrice   *uint256.Int
	collPrice   *uint256.Int
}

// Builder implements build(user, debtAsset, collateralAsset, totalDebt, hf,
// block, priceFn, gasFn) -> Intent.
type Builder struct {
	cfg    Config
	packer Packer
	price  PriceLookup
	gas    GasEstimator

	cache map[[3]common.Address]cachedIntent
}

// New constructs a Builder.
func New(cfg Config, packer Packer, price PriceLookup, gas GasEstimator) *Builder {
	cfg.setDefaults()
	return &Builder{cfg: cfg, packer: packer, price: price, gas: gas, cache: make(map[[3]common.Address]cachedIntent)}
}

// Build resolves the debt/collateral pair (if unfixed), applies the
// close-factor policy, computes the bonus-adjusted expected collateral out,
// encodes calldata, and caches the result keyed by (user, debtAsset,
// collateralAsset). Returns a *domain.Error with KindUnbuildable when
// thresholds are not met.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (domain.Intent, error) {
	debt, ok := b.selectDebtAsset(req)
	if !ok {
		return domain.Intent{}, domain.New("intent.Build", domain.KindUnbuildable, string(domain.ReasonZeroDebt))
	}
	collateral, ok := b.selectCollateralAsset(req)
	if !ok {
		return domain.Intent{}, domain.New("intent.Build", domain.KindUnbuildable, string(domain.ReasonNoCollateral))
	}

	key := [3]common.Address{req.User, debt.Asset, collateral.Asset}
	if cached, ok := b.cached(key); ok {
		revalidated, err := b.revalidate(ctx, cached, debt, collateral)
		if err == nil {
			return revalidated, nil
		}
		// fall through to a full rebuild on revalidation failure
	}

	if debt.DebtUsd < b.cfg.MinDebtUsd {
		return domain.Intent{}, domain.New("intent.Build", domain.KindUnbuildable, string(domain.ReasonDebtBelowThreshold))
	}

	debtToCover, debtToCoverUsd := b.applyCloseFactor(debt, req.HF)

	expectedCollateralOut, err := expectedCollateralOut(debtToCoverUsd, collateral.LiquidationBonusBps, collateral)
	if err != nil {
		return domain.Intent{}, err
	}

	profitUsd := estimateProfitUsd(debtToCoverUsd, collateral.LiquidationBonusBps)
	if profitUsd < b.cfg.MinProfitUsd && !req.SkipProfitGate {
		return domain.Intent{}, domain.New("intent.Build", domain.KindUnbuildable, string(domain.ReasonProfitBelowThreshold))
	}

	calldata, err := b.packer.Pack("liquidationCall", collateral.Asset, debt.Asset, req.User, debtToCover, req.ReceiveAToken)
	if err != nil {
		return domain.Intent{}, domain.Wrap("intent.Build", domain.KindDecodeError, err)
	}

	gasLimit := uint64(0)
	if b.gas != nil {
		base, err := b.gas(ctx, calldata)
		if err == nil {
			gasLimit = uint64(float64(base) * b.cfg.GasLimitBuffer)
		}
	}

	result := domain.Intent{
		User: req.User, DebtAsset: debt.Asset, CollateralAsset: collateral.Asset,
		TotalDebt: debt.Debt, DebtToCover: debtToCover, DebtToCoverUsd: debtToCoverUsd,
		LiquidationBonusBps: collateral.LiquidationBonusBps, ExpectedCollateralOut: expectedCollateralOut,
		HealthFactor: req.HF, Block: req.Block, CreatedAt: time.Now(), Calldata: calldata,
		GasLimit: gasLimit, ReceiveAToken: req.ReceiveAToken,
	}

	debtPrice, _ := b.price(debt.Asset)
	collPrice, _ := b.price(collateral.Asset)
	b.cache[key] = cachedIntent{intent: result, builtAt: time.Now(), debtPrice: debtPrice, collPrice: collPrice}

	return result, nil
}

func (b *Builder) cached(key [3]common.Address) (cachedIntent, bool) {
	c, ok := b.cache[key]
	if !ok {
		return cachedIntent{}, false
	}
	if time.Since(c.builtAt) > b.cfg.MaxIntentAge {
		return cachedIntent{}, false
	}
	return c, true
}

// revalidate implements the >5%-price-move rebuild rule: if either leg's
// price has moved more than RevalidatePriceMoveBps since the cached intent
// was built, the caller must rebuild from scratch (signaled by returning an
// error); otherwise the cached USD values are refreshed in place.
func (b *Builder) revalidate(ctx context.Context, cached cachedIntent, debt, collateral PositionValue) (domain.Intent, error) {
	newDebtPrice, err := b.price(cached.intent.DebtAsset)
	if err != nil {
		return domain.Intent{}, err
	}
	newCollPrice, err := b.price(cached.intent.CollateralAsset)
	if err != nil {
		return domain.Intent{}, err
	}
	if priceMovedBeyond(cached.debtPrice, newDebtPrice, b.cfg.RevalidatePriceMoveBps) ||
		priceMovedBeyond(cached.collPrice, newCollPrice, b.cfg.RevalidatePriceMoveBps) {
		return domain.Intent{}, domain.New("intent.revalidate", domain.KindStaleFeed, "price moved beyond revalidation threshold")
	}
	updated := cached.intent
	_, updated.DebtToCoverUsd = b.applyCloseFactor(debt, cached.intent.HealthFactor)
	return updated, nil
}

func priceMovedBeyond(oldPrice, newPrice *uint256.Int, bps uint32) bool {
	if oldPrice == nil || newPrice == nil || oldPrice.IsZero() {
		return true
	}
	diff := new(uint256.Int)
	if newPrice.Gt(oldPrice) {
		diff.Sub(newPrice, oldPrice)
	} else {
		diff.Sub(oldPrice, newPrice)
	}
	diff.Mul(diff, uint256.NewInt(domain.BPS))
	ratio := new(uint256.Int).Div(diff, oldPrice)
	return ratio.Gt(uint256.NewInt(uint64(bps)))
}

// selectDebtAsset prefers a fixed req.DebtAsset, then any allow-listed debt
// asset the user holds, then the single debt asset with the largest USD
// value.
func (b *Builder) selectDebtAsset(req BuildRequest) (PositionValue, bool) {
	if req.DebtAsset != (common.Address{}) {
		for _, p := range req.Positions {
			if p.Asset == req.DebtAsset && p.DebtUsd > 0 {
				return p, true
			}
		}
	}
	if len(b.cfg.AllowListDebtAssets) > 0 {
		for _, p := range req.Positions {
			if p.DebtUsd <= 0 {
				continue
			}
			if _, allowed := b.cfg.AllowListDebtAssets[p.Asset]; allowed {
				return p, true
			}
		}
	}
	var best PositionValue
	found := false
	for _, p := range req.Positions {
		if p.DebtUsd <= 0 {
			continue
		}
		if !found || p.DebtUsd > best.DebtUsd {
			best, found = p, true
		}
	}
	return best, found
}

// selectCollateralAsset prefers a fixed req.CollateralAsset, otherwise picks
// the largest eligible collateral asset by USD value.
func (b *Builder) selectCollateralAsset(req BuildRequest) (PositionValue, bool) {
	if req.CollateralAsset != (common.Address{}) {
		for _, p := range req.Positions {
			if p.Asset == req.CollateralAsset && p.UsageAsCollateralEnabled && p.CollateralUsd > 0 {
				return p, true
			}
		}
	}
	var best PositionValue
	found := false
	for _, p := range req.Positions {
		if !p.UsageAsCollateralEnabled || p.CollateralUsd <= 0 {
			continue
		}
		if !found || p.CollateralUsd > best.CollateralUsd {
			best, found = p, true
		}
	}
	return best, found
}

// applyCloseFactor computes debtToCover per the configured policy, escalated
// to CloseFactorFull when hf is below FullCloseHfSubThreshold regardless of
// the static config (the market permits a full close at that point).
func (b *Builder) applyCloseFactor(debt PositionValue, hf *uint256.Int) (*uint256.Int, float64) {
	policy := b.cfg.CloseFactor
	if b.cfg.FullCloseHfSubThreshold != nil && hf != nil && hf.Lt(b.cfg.FullCloseHfSubThreshold) {
		policy = CloseFactorFull
	}
	if policy == CloseFactorFull {
		return debt.Debt, debt.DebtUsd
	}
	half := new(uint256.Int).Div(debt.Debt, uint256.NewInt(2))
	return half, debt.DebtUsd / 2
}

// expectedCollateralOut computes debtValueUsd * (BPS + bonusBps) / BPS in
// BaseUnit (10^8) USD terms, then divides by the collateral asset's price at
// the same block to return the seize amount in the collateral asset's own
// native token units.
func expectedCollateralOut(debtUsd float64, bonusBps uint32, collateral PositionValue) (*uint256.Int, error) {
	if collateral.CollateralUsd <= 0 {
		return nil, domain.New("intent.expectedCollateralOut", domain.KindUnbuildable, string(domain.ReasonMissingPrice))
	}
	if collateral.CollateralPriceUsd == nil || collateral.CollateralPriceUsd.IsZero() {
		return nil, domain.New("intent.expectedCollateralOut", domain.KindUnbuildable, string(domain.ReasonMissingPrice))
	}
	bonusMultiplier := float64(domain.BPS+uint64(bonusBps)) / float64(domain.BPS)
	grossUsdBaseUnits := debtUsd * bonusMultiplier * float64(domain.BaseUnit)
	grossUsd := uint256.NewInt(uint64(grossUsdBaseUnits))
	return fixedpoint.FromUsd(grossUsd, collateral.Decimals, collateral.CollateralPriceUsd, domain.BaseUnitDigits)
}

func estimateProfitUsd(debtUsd float64, bonusBps uint32) float64 {
	bonusMultiplier := float64(domain.BPS+uint64(bonusBps)) / float64(domain.BPS)
	return debtUsd*bonusMultiplier - debtUsd
}
