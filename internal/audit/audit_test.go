package audit

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/queue"
	"github.com/liqcore/liqbot/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ourAddress = common.HexToAddress("0xFEED")

type fakeRecorder struct {
	recorded []Outcome
}

func (f *fakeRecorder) Record(ctx context.Context, outcome Outcome) error {
	f.recorded = append(f.recorded, outcome)
	return nil
}

func noWatchSet(user common.Address) (domain.Borrower, bool) { return domain.Borrower{}, false }

func watchSetOf(users ...common.Address) WatchSetChecker {
	set := make(map[common.Address]bool, len(users))
	for _, u := range users {
		set[u] = true
	}
	return func(user common.Address) (domain.Borrower, bool) {
		return domain.Borrower{}, set[user]
	}
}

func newTestAuditor(watchSet WatchSetChecker, recorder Recorder, notify Notifier) *Auditor {
	return New(Config{MinDebtUsd: 100, NotifyPerMinute: 1000}, ourAddress, watchSet, nil, nil, nil, queue.NewDirtySet(), notify, telemetry.New(), recorder, zerolog.Nop())
}

func TestClassify_OwnAddressIsOwnSuccess(t *testing.T) {
	rec := &fakeRecorder{}
	a := newTestAuditor(noWatchSet, rec, nil)
	call := LiquidationCall{User: common.HexToAddress("0x1"), Liquidator: ourAddress}

	assert.Equal(t, ClassOwnSuccess, a.classify(call))
}

func TestClassify_WatchedUserOtherLiquidatorIsRaced(t *testing.T) {
	user := common.HexToAddress("0x2")
	a := newTestAuditor(watchSetOf(user), &fakeRecorder{}, nil)
	call := LiquidationCall{User: user, Liquidator: common.HexToAddress("0xOTHER")}

	assert.Equal(t, ClassRaced, a.classify(call))
}

func TestClassify_UntrackedUserIsNotInWatchSet(t *testing.T) {
	a := newTestAuditor(noWatchSet, &fakeRecorder{}, nil)
	call := LiquidationCall{User: common.HexToAddress("0x3"), Liquidator: common.HexToAddress("0xOTHER")}

	assert.Equal(t, ClassNotInWatchSet, a.classify(call))
}

func TestObserve_NotInWatchSetMarksUserDirty(t *testing.T) {
	dirty := queue.NewDirtySet()
	a := New(Config{NotifyPerMinute: 1000}, ourAddress, noWatchSet, nil, nil, nil, dirty, nil, telemetry.New(), &fakeRecorder{}, zerolog.Nop())
	user := common.HexToAddress("0x4")

	a.Observe(context.Background(), LiquidationCall{User: user, Liquidator: common.HexToAddress("0xOTHER")})

	drained := dirty.Drain()
	require.Contains(t, drained, user)
}

func TestObserve_OwnSuccessRecordsOutcomeWithoutMarkingDirty(t *testing.T) {
	dirty := queue.NewDirtySet()
	rec := &fakeRecorder{}
	a := New(Config{NotifyPerMinute: 1000}, ourAddress, noWatchSet, nil, nil, nil, dirty, nil, telemetry.New(), rec, zerolog.Nop())
	user := common.HexToAddress("0x5")

	a.Observe(context.Background(), LiquidationCall{User: user, Liquidator: ourAddress})

	require.Len(t, rec.recorded, 1)
	assert.Equal(t, ClassOwnSuccess, rec.recorded[0].Classification)
	assert.NotContains(t, dirty.Drain(), user)
}

func TestObserve_BelowMinDebtUsdTagsInfoMinDebt(t *testing.T) {
	rec := &fakeRecorder{}
	oracleAt := func(ctx context.Context, asset common.Address, block uint64) (*uint256.Int, uint8, bool) {
		return uint256.NewInt(1 * 1e8), 8, true // $1 price, 8 decimals
	}
	a := New(Config{MinDebtUsd: 100, NotifyPerMinute: 1000}, ourAddress, noWatchSet, oracleAt, nil, nil, queue.NewDirtySet(), nil, telemetry.New(), rec, zerolog.Nop())

	a.Observe(context.Background(), LiquidationCall{
		User: common.HexToAddress("0x6"), Liquidator: ourAddress,
		DebtAsset: common.HexToAddress("0xDEBT"), DebtToCover: uint256.NewInt(10), // 10 raw units at $1/unit, 8 decimals price => tiny usd
	})

	require.Len(t, rec.recorded, 1)
	assert.Contains(t, rec.recorded[0].Info, InfoMinDebt)
}

func TestObserve_NotifierRespectsRateLimiter(t *testing.T) {
	var calls int
	notify := func(ctx context.Context, outcome Outcome) error {
		calls++
		return nil
	}
	a := New(Config{NotifyPerMinute: 0.0001}, ourAddress, noWatchSet, nil, nil, nil, queue.NewDirtySet(), notify, telemetry.New(), &fakeRecorder{}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		a.Observe(context.Background(), LiquidationCall{User: common.HexToAddress("0x7"), Liquidator: ourAddress})
	}

	assert.LessOrEqual(t, calls, 1, "burst must be capped by the sliding-window limiter")
}
