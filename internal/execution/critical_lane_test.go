package execution

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/intent"
	"github.com/liqcore/liqbot/internal/lockstore"
	"github.com/liqcore/liqbot/internal/queue"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLocker struct {
	denyUser common.Address
	released bool
}

func (f *fakeLocker) Acquire(ctx context.Context, user common.Address, ttl time.Duration) (*lockstore.Lease, error) {
	if user == f.denyUser {
		return nil, lockstore.ErrLockContention
	}
	return &lockstore.Lease{}, nil
}

func (f *fakeLocker) Release(ctx context.Context, lease *lockstore.Lease) error {
	f.released = true
	return nil
}

type fakeSnapshots struct {
	hf  *uint256.Int
	err error
}

func (f *fakeSnapshots) HfOf(ctx context.Context, user common.Address, block uint64, reserves []common.Address) (HfSnapshot, error) {
	if f.err != nil {
		return HfSnapshot{}, f.err
	}
	return HfSnapshot{HF: f.hf, Block: block}, nil
}

type fakeBuilder struct {
	err    error
	intent domain.Intent
}

func (f *fakeBuilder) Build(ctx context.Context, req intent.BuildRequest) (domain.Intent, error) {
	if f.err != nil {
		return domain.Intent{}, f.err
	}
	return f.intent, nil
}

type fakeDispatcher struct {
	result DispatchResult
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, in domain.Intent) (DispatchResult, error) {
	return f.result, f.err
}

func noopPositions(ctx context.Context, user common.Address) ([]intent.PositionValue, error) {
	return nil, nil
}

func noopReserves(ctx context.Context, user common.Address) []common.Address {
	return nil
}

func newTestExecutor(locker Locker, snap SnapshotSource, builder IntentSource, dispatch Dispatcher) *Executor {
	return New(Config{ExecutionThresholdBps: 9800}, locker, snap, noopPositions, noopReserves, builder, dispatch, nil, telemetry.New(), zerolog.Nop())
}

func TestHandle_LockContentionReturnsWithoutCallingSnapshot(t *testing.T) {
	user := common.HexToAddress("0x1")
	locker := &fakeLocker{denyUser: user}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.NewInt(9000)}, &fakeBuilder{}, &fakeDispatcher{})

	outcome, err := e.Handle(context.Background(), domain.EdgeTrigger{User: user, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLockContention, outcome)
	assert.False(t, locker.released, "never acquired, so nothing should be released")
}

func TestHandle_HfAboveThresholdSkipsBuild(t *testing.T) {
	locker := &fakeLocker{}
	builder := &fakeBuilder{}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.MustFromDecimal("1050000000000000000")}, builder, &fakeDispatcher{})

	outcome, err := e.Handle(context.Background(), domain.EdgeTrigger{User: common.HexToAddress("0x2"), Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeHfAboveThreshold, outcome)
	assert.True(t, locker.released)
}

func TestHandle_UnbuildablePlanReturnsUnbuildableOutcome(t *testing.T) {
	locker := &fakeLocker{}
	builder := &fakeBuilder{err: domain.New("intent.Build", domain.KindUnbuildable, string(domain.ReasonNoCollateral))}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.NewInt(9000)}, builder, &fakeDispatcher{})

	outcome, err := e.Handle(context.Background(), domain.EdgeTrigger{User: common.HexToAddress("0x3"), Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnbuildable, outcome)
	assert.True(t, locker.released)
}

func TestHandle_LatencyAbortWhenTriggerTooOld(t *testing.T) {
	locker := &fakeLocker{}
	builder := &fakeBuilder{intent: domain.Intent{User: common.HexToAddress("0x4")}}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.NewInt(9000)}, builder, &fakeDispatcher{})
	e.cfg.LatencyAbort = time.Millisecond

	outcome, err := e.Handle(context.Background(), domain.EdgeTrigger{
		User: common.HexToAddress("0x4"), Timestamp: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeLatencyAbort, outcome)
}

func TestHandle_SuccessfulDispatchReleasesLockAndReturnsOutcome(t *testing.T) {
	locker := &fakeLocker{}
	builder := &fakeBuilder{intent: domain.Intent{User: common.HexToAddress("0x5")}}
	dispatcher := &fakeDispatcher{result: DispatchResult{Outcome: OutcomeSuccess}}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.NewInt(9000)}, builder, dispatcher)

	outcome, err := e.Handle(context.Background(), domain.EdgeTrigger{User: common.HexToAddress("0x5"), Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.True(t, locker.released)
}

func TestHandle_PanicDuringBuildStillReleasesLock(t *testing.T) {
	locker := &fakeLocker{}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.NewInt(9000)}, &panicBuilder{}, &fakeDispatcher{})

	assert.Panics(t, func() {
		_, _ = e.Handle(context.Background(), domain.EdgeTrigger{User: common.HexToAddress("0x6"), Timestamp: time.Now()})
	})
	assert.True(t, locker.released)
}

type panicBuilder struct{}

func (panicBuilder) Build(ctx context.Context, req intent.BuildRequest) (domain.Intent, error) {
	panic("simulated build panic")
}

func TestBlockBoundaryController_DrainsTopEntriesCappedAtMax(t *testing.T) {
	hotlist := queue.NewHotlist(10)
	for i := 1; i <= 5; i++ {
		addr := common.BigToAddress(big.NewInt(int64(i)))
		hotlist.Upsert(domain.QueueEntry{User: addr, HealthFactor: uint256.NewInt(9000), Score: float64(i)})
	}

	locker := &fakeLocker{}
	builder := &fakeBuilder{intent: domain.Intent{}}
	dispatcher := &fakeDispatcher{result: DispatchResult{Outcome: OutcomeSuccess}}
	e := newTestExecutor(locker, &fakeSnapshots{hf: uint256.NewInt(9000)}, builder, dispatcher)

	var dispatched int
	countingDispatcher := &countingDispatcher{fakeDispatcher: dispatcher, count: &dispatched}
	e.dispatch = countingDispatcher

	ctrl := NewBlockBoundaryController(hotlist, e, 2, 0, zerolog.Nop())
	ctrl.OnNewBlock(context.Background(), 100)

	assert.Equal(t, 2, dispatched)
}

type countingDispatcher struct {
	*fakeDispatcher
	count *int
}

func (c *countingDispatcher) Dispatch(ctx context.Context, in domain.Intent) (DispatchResult, error) {
	*c.count++
	return c.fakeDispatcher.Dispatch(ctx, in)
}
