// Package audit implements LiquidationAuditor: classification of
// every observed LiquidationCall event, USD valuation, suspicious-scaling
// detection, auto-heal of coverage gaps, and rate-limited notifications.
package audit

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
	"github.com/liqcore/liqbot/internal/queue"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Classification is the outcome tag attached to one observed LiquidationCall.
type Classification string

const (
	ClassOwnSuccess    Classification = "own_success"
	ClassRaced         Classification = "raced"
	ClassNotInWatchSet Classification = "not_in_watch_set"
)

// InfoTag is an additional informational tag, independent of Classification.
type InfoTag string

const InfoMinDebt InfoTag = "info_min_debt"

// LiquidationCall is the decoded on-chain event LiquidationAuditor observes,
// regardless of which liquidator triggered it.
type LiquidationCall struct {
	User                common.Address
	Liquidator          common.Address
	CollateralAsset      common.Address
	DebtAsset            common.Address
	DebtToCover          *uint256.Int
	LiquidatedCollateral *uint256.Int
	Block                uint64
	TxHash               common.Hash
}

// WatchSetChecker reports whether a user was being tracked at the time of
// the event, implemented by health.Resolver.BorrowerSnapshot.
type WatchSetChecker func(user common.Address) (domain.Borrower, bool)

// OraclePriceAt resolves a reserve's BaseUnit-scaled USD price at a specific
// historical block from the pool's own oracle, alongside the reserve's
// token decimals, where feasible.
type OraclePriceAt func(ctx context.Context, asset common.Address, block uint64) (price *uint256.Int, tokenDecimals uint8, ok bool)

// PriceFallback resolves current USD price when the pool oracle can't be
// read at the event's block, implemented by prices.Service.PriceAt.
type PriceFallback func(ctx context.Context, symbol string, block uint64) (domain.Price, error)

// AssetSymbol maps a reserve address to the symbol PriceFallback expects,
// alongside its token decimals.
type AssetSymbol func(asset common.Address) (symbol string, tokenDecimals uint8, ok bool)

// Notifier delivers one audit event to an operator channel (Slack, PagerDuty,
// etc), rate-limited by the Auditor.
type Notifier func(ctx context.Context, outcome Outcome) error

// Config bounds auditor thresholds and notification rate limiting.
type Config struct {
	MinDebtUsd             float64
	NotifyPerMinute        float64
	SuspiciousScalingAlert bool
}

func (c *Config) setDefaults() {
	if c.NotifyPerMinute <= 0 {
		c.NotifyPerMinute = 10
	}
}

// Outcome is the fully classified, USD-valued record of one observed call.
type Outcome struct {
	Call           LiquidationCall
	Classification Classification
	Info           []InfoTag
	DebtUsd        float64
	CollateralUsd  float64
	ObservedAt     time.Time
}

// Auditor observes LiquidationCall events, classifies each, auto-heals
// coverage gaps, and records an append-only outcome stream.
type Auditor struct {
	cfg          Config
	ourAddress   common.Address
	watchSet     WatchSetChecker
	oracleAt     OraclePriceAt
	fallback     PriceFallback
	symbolOf     AssetSymbol
	dirty        *queue.DirtySet
	notify       Notifier
	limiter      *rate.Limiter
	metrics      *telemetry.Metrics
	recorder     Recorder
	log          zerolog.Logger
}

// Recorder persists an Outcome to an append-only store, implemented by
// audit.GormRecorder.
type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}

// New constructs an Auditor.
func New(cfg Config, ourAddress common.Address, watchSet WatchSetChecker, oracleAt OraclePriceAt, fallback PriceFallback, symbolOf AssetSymbol, dirty *queue.DirtySet, notify Notifier, metrics *telemetry.Metrics, recorder Recorder, log zerolog.Logger) *Auditor {
	cfg.setDefaults()
	return &Auditor{
		cfg: cfg, ourAddress: ourAddress, watchSet: watchSet, oracleAt: oracleAt, fallback: fallback,
		symbolOf: symbolOf, dirty: dirty, notify: notify, metrics: metrics, recorder: recorder,
		limiter: rate.NewLimiter(rate.Limit(cfg.NotifyPerMinute/60.0), int(cfg.NotifyPerMinute)),
		log:     log.With().Str("component", "liquidation_auditor").Logger(),
	}
}

// Observe classifies one LiquidationCall, values it in USD, auto-heals
// coverage gaps, records the outcome, and notifies subject to the rate
// limiter. Classification errors are logged, never propagated, so that a
// pricing failure on one event never stalls the observer loop.
func (a *Auditor) Observe(ctx context.Context, call LiquidationCall) {
	classification := a.classify(call)
	debtUsd, collUsd := a.valueUsd(ctx, call)

	var info []InfoTag
	if debtUsd < a.cfg.MinDebtUsd {
		info = append(info, InfoMinDebt)
	}

	outcome := Outcome{Call: call, Classification: classification, Info: info, DebtUsd: debtUsd, CollateralUsd: collUsd, ObservedAt: time.Now()}

	if a.metrics != nil {
		a.metrics.LiquidationOutcome.WithLabelValues(string(classification)).Inc()
	}

	if a.cfg.SuspiciousScalingAlert && call.LiquidatedCollateral != nil && collUsd > 0 {
		collUsdScaled := uint256.NewInt(uint64(collUsd * 1e8))
		if fixedpoint.SuspiciousScaling(call.LiquidatedCollateral, collUsdScaled) {
			a.log.Warn().Str("asset", call.CollateralAsset.Hex()).Msg("suspicious usd scaling on liquidation collateral")
		}
	}

	if classification == ClassNotInWatchSet && a.dirty != nil {
		a.dirty.Mark(call.User, "audit_coverage_gap")
	}

	if a.recorder != nil {
		if err := a.recorder.Record(ctx, outcome); err != nil {
			a.log.Error().Err(err).Str("user", call.User.Hex()).Msg("failed to record liquidation outcome")
		}
	}

	if a.notify != nil && a.limiter.Allow() {
		if err := a.notify(ctx, outcome); err != nil {
			a.log.Warn().Err(err).Msg("notification delivery failed")
		}
	}
}

// classify applies the rule order: our own success first, then raced
// (watched but somebody else got there), then not-in-watch-set.
func (a *Auditor) classify(call LiquidationCall) Classification {
	if call.Liquidator == a.ourAddress {
		return ClassOwnSuccess
	}
	if a.watchSet != nil {
		if _, tracked := a.watchSet(call.User); tracked {
			return ClassRaced
		}
	}
	return ClassNotInWatchSet
}

// valueUsd prices debt and collateral at the event's block via the pool
// oracle where feasible, falling back to PriceService otherwise.
func (a *Auditor) valueUsd(ctx context.Context, call LiquidationCall) (debtUsd, collUsd float64) {
	debtUsd = a.priceAsset(ctx, call.DebtAsset, call.DebtToCover, call.Block)
	collUsd = a.priceAsset(ctx, call.CollateralAsset, call.LiquidatedCollateral, call.Block)
	return debtUsd, collUsd
}

func (a *Auditor) priceAsset(ctx context.Context, asset common.Address, amount *uint256.Int, block uint64) float64 {
	if amount == nil {
		return 0
	}
	if a.oracleAt != nil {
		if price, decimals, ok := a.oracleAt(ctx, asset, block); ok {
			usd, err := fixedpoint.ToUsd(amount, decimals, price, 8)
			if err == nil {
				return toFloatUsd(usd)
			}
		}
	}
	if a.fallback != nil && a.symbolOf != nil {
		if symbol, decimals, ok := a.symbolOf(asset); ok {
			price, err := a.fallback(ctx, symbol, block)
			if err == nil && price.Usd != nil {
				usd, err := fixedpoint.ToUsd(amount, decimals, price.Usd, 8)
				if err == nil {
					return toFloatUsd(usd)
				}
			}
		}
	}
	return 0
}

func toFloatUsd(usdBaseUnits *uint256.Int) float64 {
	f := new(big.Float).SetInt(usdBaseUnits.ToBig())
	scale := new(big.Float).SetInt64(int64(1))
	for i := uint8(0); i < domain.BaseUnitDigits; i++ {
		scale.Mul(scale, big.NewFloat(10))
	}
	f.Quo(f, scale)
	out, _ := f.Float64()
	return out
}
