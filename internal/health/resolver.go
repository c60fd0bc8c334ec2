// Package health implements HealthResolver, the hard core's
// centerpiece: tiered HF computation (cache -> micro-multicall) with
// per-user TTL caching, in-flight request coalescing, and hysteresis-gated
// edge-trigger emission. There is no full-refresh tier: a cache miss is
// always served by one micro-multicall batch.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
	"github.com/liqcore/liqbot/internal/multicall"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// RiskEngine computes authoritative HF from already-valued totals;
// implemented by package risk. Declared locally to avoid an import cycle
// (risk does not need to know about health).
type RiskEngine interface {
	HealthFactorFromTotals(totalCollateralBase, totalDebtBase *uint256.Int, liqThresholdBps uint32) (*uint256.Int, error)
}

// MicroFetcher is the narrow surface HealthResolver needs from
// MicroMulticall, declared as an interface here so tests can supply a
// fake without wiring a real aggregate3 backend.
type MicroFetcher interface {
	Fetch(ctx context.Context, user common.Address, reserves []common.Address) (*multicall.BatchResult, error)
}

// Config bounds cache freshness and threshold/hysteresis behavior.
type Config struct {
	CacheTTL               time.Duration
	ExecutionThresholdBps  uint32
	HysteresisBps          uint32
}

func (c *Config) setDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = 2 * time.Second
	}
	if c.ExecutionThresholdBps == 0 {
		c.ExecutionThresholdBps = 9800
	}
	if c.HysteresisBps == 0 {
		c.HysteresisBps = 20
	}
}

type cacheKey struct {
	user     common.Address
	blockTag uint64
}

type cacheEntry struct {
	hf        *uint256.Int
	expiresAt time.Time
}

// Snapshot is the resolved HF result for one user at one block.
type Snapshot struct {
	HF    *uint256.Int // nil means infinite (zero debt)
	Block uint64
}

// Resolver implements hf_of(user, block) and recheck(users, reason).
type Resolver struct {
	cfg   Config
	micro MicroFetcher
	risk  RiskEngine
	log   zerolog.Logger

	mu        sync.Mutex
	index     map[common.Address]*domain.Borrower
	cache     map[cacheKey]cacheEntry
	triggers  chan domain.EdgeTrigger

	group singleflight.Group

	// emittedBlocks enforces at-most-one EdgeTrigger per (user, block).
	emittedBlocks map[cacheKey]struct{}
}

// New constructs a Resolver. triggerBuf sizes the EdgeTrigger output
// channel.
func New(cfg Config, micro MicroFetcher, risk RiskEngine, log zerolog.Logger, triggerBuf int) *Resolver {
	cfg.setDefaults()
	if triggerBuf <= 0 {
		triggerBuf = 256
	}
	return &Resolver{
		cfg: cfg, micro: micro, risk: risk,
		log:           log.With().Str("component", "health_resolver").Logger(),
		index:         make(map[common.Address]*domain.Borrower),
		cache:         make(map[cacheKey]cacheEntry),
		emittedBlocks: make(map[cacheKey]struct{}),
		triggers:      make(chan domain.EdgeTrigger, triggerBuf),
	}
}

// Triggers returns the EdgeTrigger output stream.
func (r *Resolver) Triggers() <-chan domain.EdgeTrigger { return r.triggers }

// Seed registers a borrower discovered by Backfiller or by observing a pool
// event, without computing its HF yet.
func (r *Resolver) Seed(user common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.index[user]; !ok {
		r.index[user] = &domain.Borrower{Address: user}
	}
}

// Invalidate clears any cached (user, *) entries, called on a pool event
// (Borrow, Repay, Supply, Withdraw, LiquidationCall) for that user and
// before each dirty-set recheck.
func (r *Resolver) Invalidate(user common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.cache {
		if k.user == user {
			delete(r.cache, k)
		}
	}
}

// HfOf resolves a user's HF at block, through the cache -> micro-multicall
// tier, coalescing concurrent callers for the same (user, block) into one
// in-flight future.
func (r *Resolver) HfOf(ctx context.Context, user common.Address, block uint64, reserves []common.Address) (Snapshot, error) {
	key := cacheKey{user: user, blockTag: block}

	if snap, ok := r.cachedSnapshot(key); ok {
		return snap, nil
	}

	sfKey := user.Hex() + ":" + blockString(block)
	v, err, _ := r.group.Do(sfKey, func() (interface{}, error) {
		return r.computeViaMicro(ctx, user, block, reserves)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

func (r *Resolver) cachedSnapshot(key cacheKey) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.cache[key]
	if !ok || time.Now().After(e.expiresAt) {
		return Snapshot{}, false
	}
	return Snapshot{HF: e.hf, Block: key.blockTag}, true
}

func (r *Resolver) computeViaMicro(ctx context.Context, user common.Address, block uint64, reserves []common.Address) (Snapshot, error) {
	result, err := r.micro.Fetch(ctx, user, reserves)
	if err != nil {
		// Transient RPC errors must surface as Unknown, not Safe: the
		// caller gets an error and must not treat this as a healthy user.
		return Snapshot{}, domain.Wrap("health.computeViaMicro", domain.KindRpcNetwork, err)
	}

	hf, err := r.risk.HealthFactorFromTotals(result.TotalCollateralBase, result.TotalDebtBase, result.LiquidationThreshold)
	if err != nil {
		return Snapshot{}, err
	}

	key := cacheKey{user: user, blockTag: block}
	r.mu.Lock()
	r.cache[key] = cacheEntry{hf: hf, expiresAt: time.Now().Add(r.cfg.CacheTTL)}
	b, ok := r.index[user]
	if !ok {
		b = &domain.Borrower{Address: user}
		r.index[user] = b
	}
	b.HealthFactor = hf
	b.TotalCollateralBase = result.TotalCollateralBase
	b.TotalDebtBase = result.TotalDebtBase
	b.LiquidationThreshold = result.LiquidationThreshold
	b.Positions = result.Positions
	b.LastUpdatedBlock = block
	r.mu.Unlock()

	r.maybeEmit(b, hf, block, domain.TriggerHead)
	return Snapshot{HF: hf, Block: block}, nil
}

// maybeEmit applies the edge-trigger rules in order: suppress zero-debt
// borrowers, emit at most once per (user, block), gate on safe->liquidatable
// or hysteresis-worsened transitions, and clear the emitted flag on
// recovery above threshold.
func (r *Resolver) maybeEmit(b *domain.Borrower, hf *uint256.Int, block uint64, kind domain.TriggerKind) {
	if hf == nil {
		return // zero debt: invariant 1, never emitted
	}

	blockKey := cacheKey{user: b.Address, blockTag: block}
	r.mu.Lock()
	if _, already := r.emittedBlocks[blockKey]; already {
		r.mu.Unlock()
		return
	}

	belowThreshold := fixedpoint.LessThanThreshold(hf, r.cfg.ExecutionThresholdBps)
	var reason domain.TriggerReason
	emit := false

	if !belowThreshold {
		b.EmittedBelowThreshold = false
		r.mu.Unlock()
		return
	}

	if !b.EmittedBelowThreshold {
		reason = domain.ReasonSafeToLiq
		emit = true
	} else if fixedpoint.WorsenedBeyondHysteresis(hf, b.LastEmittedHF, r.cfg.HysteresisBps) {
		reason = domain.ReasonWorsened
		emit = true
	}

	if emit {
		b.EmittedBelowThreshold = true
		b.LastEmittedHF = hf
		r.emittedBlocks[blockKey] = struct{}{}
	}
	r.mu.Unlock()

	if !emit {
		return
	}
	trigger := domain.EdgeTrigger{
		ID: uuid.NewString(), User: b.Address, HealthFactor: hf, Block: block,
		Kind: kind, Reason: reason, Timestamp: time.Now(),
	}
	select {
	case r.triggers <- trigger:
	default:
		r.log.Warn().Str("user", b.Address.Hex()).Msg("trigger channel full, dropping")
	}
}

// Recheck forces re-resolution for the given users under the stated reason
// (e.g. a pool event or price update), invalidating their cache first.
func (r *Resolver) Recheck(ctx context.Context, users []common.Address, block uint64, reserves []common.Address, reason string) {
	for _, u := range users {
		r.Invalidate(u)
		if _, err := r.HfOf(ctx, u, block, reserves); err != nil {
			r.log.Debug().Err(err).Str("user", u.Hex()).Str("reason", reason).Msg("recheck failed")
		}
	}
}

// BorrowerSnapshot returns a read-only copy of the tracked borrower, if present.
func (r *Resolver) BorrowerSnapshot(user common.Address) (domain.Borrower, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.index[user]
	if !ok {
		return domain.Borrower{}, false
	}
	return *b, true
}

func blockString(block uint64) string {
	if block == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for block > 0 {
		i--
		buf[i] = byte('0' + block%10)
		block /= 10
	}
	return string(buf[i:])
}
