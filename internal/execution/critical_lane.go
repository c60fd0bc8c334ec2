// Package execution implements CriticalLaneExecutor and
// BlockBoundaryController: the fail-fast dispatch path from an
// EdgeTrigger or a block-boundary hot-queue drain through to TxSubmitter.
package execution

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
	"github.com/liqcore/liqbot/internal/intent"
	"github.com/liqcore/liqbot/internal/lockstore"
	"github.com/liqcore/liqbot/internal/queue"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Locker is the distributed per-user attempt lock, implemented by
// *lockstore.Store.
type Locker interface {
	Acquire(ctx context.Context, user common.Address, ttl time.Duration) (*lockstore.Lease, error)
	Release(ctx context.Context, lease *lockstore.Lease) error
}

// SnapshotSource resolves a user's current HF, refreshing through
// HealthResolver's tiered path.
type SnapshotSource interface {
	HfOf(ctx context.Context, user common.Address, block uint64, reserves []common.Address) (HfSnapshot, error)
}

// HfSnapshot mirrors health.Snapshot; redeclared to avoid a direct
// dependency on package health's concrete type. The cmd wiring layer adapts
// *health.Resolver to SnapshotSource with a one-line field copy.
type HfSnapshot struct {
	HF    *uint256.Int
	Block uint64
}

// IntentSource builds a liquidation intent for one user, implemented by
// intent.Builder.
type IntentSource interface {
	Build(ctx context.Context, req intent.BuildRequest) (domain.Intent, error)
}

// Dispatcher hands a built intent to TxSubmitter and reports the outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, in domain.Intent) (DispatchResult, error)
}

// DispatchResult is the terminal outcome TxSubmitter reports back.
type DispatchResult struct {
	Outcome string // "success", "raced", "tx_failed"
	TxHash  common.Hash
}

// Outcome constants recorded for each lifecycle exit.
const (
	OutcomeLockContention  = "lock_contention"
	OutcomeHfAboveThreshold = "hf_above_threshold"
	OutcomeUnbuildable      = "unbuildable"
	OutcomeLatencyAbort     = "latency_abort"
	OutcomeSuccess          = "success"
	OutcomeRaced            = "raced"
	OutcomeTxFailed         = "tx_failed"
)

// Config bounds the per-user lock TTL, snapshot freshness, and the abort
// latency gate.
type Config struct {
	LockTTL       time.Duration
	SnapshotTTL   time.Duration
	LatencyAbort  time.Duration
	ExecutionThresholdBps uint32
}

func (c *Config) setDefaults() {
	if c.LockTTL <= 0 {
		c.LockTTL = 6 * time.Second
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = 500 * time.Millisecond
	}
	if c.LatencyAbort <= 0 {
		c.LatencyAbort = 3 * time.Second
	}
	if c.ExecutionThresholdBps == 0 {
		c.ExecutionThresholdBps = 9800
	}
}

// PositionsFetcher resolves the USD-valued positions IntentBuilder needs for
// one user, sourced from the same micro-multicall result HealthResolver used
// to compute HF.
type PositionsFetcher func(ctx context.Context, user common.Address) ([]intent.PositionValue, error)

// ReservesFetcher resolves the reserve addresses to query for one user's HF:
// their stored position list if already known, or a curated default set on
// first contact.
type ReservesFetcher func(ctx context.Context, user common.Address) []common.Address

// OptimisticGate authorizes submission before the profit-gate step of intent
// building, charged against a daily revert budget. Implemented by
// *submit.Submitter.ConsumeRevertBudget.
type OptimisticGate interface {
	ConsumeRevertBudget(executor common.Address) bool
}

// Executor runs the per-trigger lifecycle: lock, snapshot, gate, plan,
// latency gate, submit, and unconditional lock release.
type Executor struct {
	cfg        Config
	locks      Locker
	snapshots  SnapshotSource
	positions  PositionsFetcher
	reserves   ReservesFetcher
	builder    IntentSource
	dispatch   Dispatcher
	optimistic OptimisticGate
	metrics    *telemetry.Metrics
	log        zerolog.Logger
}

// New constructs an Executor. reserves may be nil, in which case HfOf is
// always called with an empty reserve set (only suitable for a snapshots
// implementation that ignores the reserves argument entirely). optimistic may
// be nil, in which case optimistic execution never triggers and the profit
// gate always applies.
func New(cfg Config, locks Locker, snapshots SnapshotSource, positions PositionsFetcher, reserves ReservesFetcher, builder IntentSource, dispatch Dispatcher, optimistic OptimisticGate, metrics *telemetry.Metrics, log zerolog.Logger) *Executor {
	cfg.setDefaults()
	return &Executor{
		cfg: cfg, locks: locks, snapshots: snapshots, positions: positions, reserves: reserves,
		builder: builder, dispatch: dispatch, optimistic: optimistic, metrics: metrics,
		log: log.With().Str("component", "critical_lane_executor").Logger(),
	}
}

// Handle runs the full lifecycle for one EdgeTrigger. The returned outcome
// string is one of the Outcome* constants; err is non-nil only for
// unexpected failures the caller should log, not branch on.
func (e *Executor) Handle(ctx context.Context, trigger domain.EdgeTrigger) (outcome string, err error) {
	ctx, span := telemetry.Tracer("execution").Start(ctx, "critical_lane.Handle")
	span.SetAttributes(attribute.String("user", trigger.User.Hex()), attribute.Int64("block", int64(trigger.Block)))
	defer func() {
		span.SetAttributes(attribute.String("outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	total := e.metrics.StartPhase("total")
	defer total.Stop()

	lease, lockErr := e.locks.Acquire(ctx, trigger.User, e.cfg.LockTTL)
	if lockErr != nil {
		if lockErr == lockstore.ErrLockContention {
			e.metrics.LockContention.Inc()
			return OutcomeLockContention, nil
		}
		return OutcomeLockContention, lockErr
	}
	defer func() {
		if r := recover(); r != nil {
			_ = e.locks.Release(context.Background(), lease)
			panic(r)
		}
	}()
	defer func() { _ = e.locks.Release(context.Background(), lease) }()

	var reserveAddrs []common.Address
	if e.reserves != nil {
		reserveAddrs = e.reserves(ctx, trigger.User)
	}

	micro := e.metrics.StartPhase("micro")
	snap, err := e.snapshots.HfOf(ctx, trigger.User, trigger.Block, reserveAddrs)
	micro.Stop()
	if err != nil {
		return "", err
	}

	if !fixedpoint.LessThanThreshold(snap.HF, e.cfg.ExecutionThresholdBps) {
		return OutcomeHfAboveThreshold, nil
	}

	planBuild := e.metrics.StartPhase("planBuild")
	positions, err := e.positions(ctx, trigger.User)
	if err != nil {
		planBuild.Stop()
		return "", err
	}
	req := intent.BuildRequest{User: trigger.User, Positions: positions, HF: snap.HF, Block: snap.Block}
	// Optimistic execution: HF already confirmed below 1.0 means this position
	// is liquidatable regardless of how profit estimation lands, so spend one
	// unit of the daily revert budget to submit without waiting on the profit
	// gate. ConsumeRevertBudget's executor argument is a placeholder; actual
	// key selection happens inside TxSubmitter after Build returns.
	if e.optimistic != nil && snap.HF != nil && snap.HF.Lt(fixedpoint.WadInt()) {
		req.SkipProfitGate = e.optimistic.ConsumeRevertBudget(common.Address{})
	}
	plan, err := e.builder.Build(ctx, req)
	planBuild.Stop()
	if err != nil {
		var derr *domain.Error
		if ok := domainErrorAs(err, &derr); ok && derr.Kind == domain.KindUnbuildable {
			return OutcomeUnbuildable, nil
		}
		return "", err
	}

	if time.Since(trigger.Timestamp) > e.cfg.LatencyAbort {
		return OutcomeLatencyAbort, nil
	}

	submit := e.metrics.StartPhase("submit")
	result, err := e.dispatch.Dispatch(ctx, plan)
	submit.Stop()
	if err != nil {
		return OutcomeTxFailed, err
	}
	return result.Outcome, nil
}

func domainErrorAs(err error, target **domain.Error) bool {
	for err != nil {
		if e, ok := err.(*domain.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// BlockBoundaryController drains hot-queue entries at HF <= threshold on
// every new block, capped at MaxDispatchesPerBlock, and fires each through
// the Executor.
type BlockBoundaryController struct {
	hotlist              *queue.Hotlist
	executor              *Executor
	maxDispatchesPerBlock int
	sendDelay             time.Duration
	log                   zerolog.Logger
}

// NewBlockBoundaryController constructs a BlockBoundaryController.
func NewBlockBoundaryController(hotlist *queue.Hotlist, executor *Executor, maxDispatchesPerBlock int, sendDelay time.Duration, log zerolog.Logger) *BlockBoundaryController {
	if maxDispatchesPerBlock <= 0 {
		maxDispatchesPerBlock = 20
	}
	return &BlockBoundaryController{
		hotlist: hotlist, executor: executor, maxDispatchesPerBlock: maxDispatchesPerBlock,
		sendDelay: sendDelay, log: log.With().Str("component", "block_boundary_controller").Logger(),
	}
}

// OnNewBlock drains the hotlist, dispatching at most maxDispatchesPerBlock
// entries. One dispatch's error is logged and never affects the others.
func (c *BlockBoundaryController) OnNewBlock(ctx context.Context, block uint64) {
	if c.sendDelay > 0 {
		select {
		case <-time.After(c.sendDelay):
		case <-ctx.Done():
			return
		}
	}

	entries := c.hotlist.Top(c.maxDispatchesPerBlock)
	for _, entry := range entries {
		trigger := domain.EdgeTrigger{
			User: entry.User, HealthFactor: entry.HealthFactor, Block: block,
			Kind: domain.TriggerHead, Reason: domain.ReasonSafeToLiq, Timestamp: time.Now(),
		}
		outcome, err := c.executor.Handle(ctx, trigger)
		if err != nil {
			c.log.Warn().Err(err).Str("user", entry.User.Hex()).Msg("dispatch failed, continuing with remaining entries")
			continue
		}
		if outcome == OutcomeSuccess || outcome == OutcomeRaced {
			c.hotlist.Remove(entry.User)
		}
	}
}
