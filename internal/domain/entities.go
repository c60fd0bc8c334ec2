package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Fixed-point scaling constants shared across WAD/RAY/BPS/BaseUnit math.
const (
	WAD      = 1_000_000_000_000_000_000 // 10^18
	RayDigits = 27
	BpsDigits = 4
	BaseUnitDigits = 8
	BPS      = 10_000
	BaseUnit = 100_000_000 // 10^8
)

// PriceSource tags where a Price was resolved from.
type PriceSource int

const (
	SourceDirect PriceSource = iota
	SourceRatio
	SourceOracleFallback
	SourceStub
)

func (s PriceSource) String() string {
	switch s {
	case SourceDirect:
		return "direct"
	case SourceRatio:
		return "ratio"
	case SourceOracleFallback:
		return "oracle_fallback"
	case SourceStub:
		return "stub"
	default:
		return "unknown"
	}
}

// Price is a USD-denominated quote scaled to BaseUnit (10^8).
type Price struct {
	Usd            *uint256.Int
	Source         PriceSource
	UpdatedAtBlock uint64
	Age            time.Duration
}

// ReservePosition is one borrower's stake in one reserve.
type ReservePosition struct {
	Asset                    common.Address
	ATokenBalance            *uint256.Int
	StableDebt               *uint256.Int
	VariableDebt             *uint256.Int
	ScaledVariableDebt       *uint256.Int
	UsageAsCollateralEnabled bool
}

// Reserve is static per-asset configuration, refreshed on a cadence.
type Reserve struct {
	Asset                    common.Address
	Symbol                   string
	Decimals                 uint8
	LiquidationThresholdBps  uint32
	LiquidationBonusBps      uint32
	IsActive                 bool
	IsFrozen                 bool
	UsageAsCollateralEnabled bool
}

// Borrower is the authoritative per-user state owned by the BorrowerIndex.
type Borrower struct {
	Address              common.Address
	HealthFactor         *uint256.Int
	TotalCollateralBase  *uint256.Int
	TotalDebtBase        *uint256.Int
	LiquidationThreshold uint32 // bps, weighted average from positions
	Positions            []ReservePosition
	LastUpdatedBlock     uint64
	// EmittedBelowThreshold tracks whether an EdgeTrigger has already fired
	// for the current excursion below threshold, implementing the
	// safe<->liquidatable hysteresis state machine.
	EmittedBelowThreshold bool
	LastEmittedHF         *uint256.Int
}

// IsInfinite reports the invariant that zero debt means HF is "infinite"
// and the borrower must never be emitted as liquidatable.
func (b *Borrower) IsInfinite() bool {
	return b.TotalDebtBase == nil || b.TotalDebtBase.IsZero()
}

// TriggerKind narrows the origin of an EdgeTrigger.
type TriggerKind string

const (
	TriggerHead       TriggerKind = "head"
	TriggerEvent      TriggerKind = "event"
	TriggerPrice      TriggerKind = "price"
	TriggerPredictive TriggerKind = "predictive"
)

// TriggerReason explains why an EdgeTrigger fired.
type TriggerReason string

const (
	ReasonSafeToLiq TriggerReason = "safe_to_liq"
	ReasonWorsened  TriggerReason = "worsened"
)

// EdgeTrigger is the one-shot signal consumed by CriticalLaneExecutor.
type EdgeTrigger struct {
	ID           string
	User         common.Address
	HealthFactor *uint256.Int
	Block        uint64
	Kind         TriggerKind
	Reason       TriggerReason
	Timestamp    time.Time
}

// CloseFactorPolicy selects how much debt a plan may cover.
type CloseFactorPolicy string

const (
	CloseFactorFixed50 CloseFactorPolicy = "fixed50"
	CloseFactorFull    CloseFactorPolicy = "full"
)

// Intent is a fully-built, submittable liquidation plan.
type Intent struct {
	User                  common.Address
	DebtAsset             common.Address
	CollateralAsset       common.Address
	TotalDebt             *uint256.Int
	DebtToCover           *uint256.Int
	DebtToCoverUsd        float64
	LiquidationBonusBps   uint32
	ExpectedCollateralOut *uint256.Int
	HealthFactor          *uint256.Int
	Block                 uint64
	CreatedAt             time.Time
	Calldata              []byte
	GasLimit              uint64
	PriorityFeeWei        *uint256.Int
	ReceiveAToken         bool
}

// CacheKey identifies a cacheable Intent slot.
func (i Intent) CacheKey() [3]common.Address {
	return [3]common.Address{i.User, i.DebtAsset, i.CollateralAsset}
}

// QueuePriority is the queue an entry currently lives in.
type QueuePriority int

const (
	PriorityWarm QueuePriority = iota
	PriorityHot
	PriorityCritical
)

// QueueEntry is a single borrower tracked by DirtySet/Hotlist.
type QueueEntry struct {
	User          common.Address
	HealthFactor  *uint256.Int
	TotalDebtUsd  float64
	Priority      QueuePriority
	Score         float64 // lower is more urgent
	Reason        string
	AddedAt       time.Time
	LastCheckedAt time.Time
}

// Scenario names a predictive shock profile.
type Scenario string

const (
	ScenarioBaseline Scenario = "baseline"
	ScenarioAdverse  Scenario = "adverse"
	ScenarioExtreme  Scenario = "extreme"
)

// PredictiveCandidate is a transient projection result consumed synchronously
// by the orchestrator's listeners.
type PredictiveCandidate struct {
	User         common.Address
	Scenario     Scenario
	HfCurrent    *uint256.Int
	HfProjected  *uint256.Int
	EtaSec       float64
	TotalDebtUsd float64
}

// PriceSample is one ring-buffer entry in a PriceWindow.
type PriceSample struct {
	Price  *uint256.Int
	Block  uint64
	WallMs int64
}
