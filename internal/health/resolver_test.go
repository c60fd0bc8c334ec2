package health

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/fixedpoint"
	"github.com/liqcore/liqbot/internal/multicall"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMicro struct {
	result *multicall.BatchResult
	err    error
	calls  int
}

func (f *fakeMicro) Fetch(ctx context.Context, user common.Address, reserves []common.Address) (*multicall.BatchResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeRisk struct{}

func (fakeRisk) HealthFactorFromTotals(totalCollateralBase, totalDebtBase *uint256.Int, liqThresholdBps uint32) (*uint256.Int, error) {
	weighted, err := fixedpoint.WeightedCollateralBase(totalCollateralBase, liqThresholdBps, true)
	if err != nil {
		return nil, err
	}
	return fixedpoint.HealthFactor(weighted, totalDebtBase)
}

func TestHfOf_SafeToLiqEmitsOnce(t *testing.T) {
	// collateral 1e9 base, debt 1.5e9 base, liqThresholdBps 8500 -> hf
	// ~0.567, below threshold, emitted once.
	micro := &fakeMicro{result: &multicall.BatchResult{
		TotalCollateralBase: uint256.NewInt(1_000_000_000),
		TotalDebtBase:       uint256.NewInt(1_500_000_000),
		LiquidationThreshold: 8500,
	}}
	r := New(Config{ExecutionThresholdBps: 9800}, micro, fakeRisk{}, zerolog.Nop(), 8)
	user := common.HexToAddress("0xAAA")

	snap, err := r.HfOf(context.Background(), user, 100, nil)
	require.NoError(t, err)
	assert.NotNil(t, snap.HF)

	select {
	case trig := <-r.Triggers():
		assert.Equal(t, "safe_to_liq", string(trig.Reason))
	default:
		t.Fatal("expected an edge trigger")
	}
}

func TestHfOf_CacheHitAvoidsSecondFetch(t *testing.T) {
	micro := &fakeMicro{result: &multicall.BatchResult{
		TotalCollateralBase: uint256.NewInt(2_000_000_000),
		TotalDebtBase:       uint256.NewInt(1_000_000_000),
		LiquidationThreshold: 8500,
	}}
	r := New(Config{CacheTTL: 0}, micro, fakeRisk{}, zerolog.Nop(), 8) // defaults to 2s TTL
	user := common.HexToAddress("0xBBB")

	_, err := r.HfOf(context.Background(), user, 1, nil)
	require.NoError(t, err)
	_, err = r.HfOf(context.Background(), user, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, micro.calls)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	micro := &fakeMicro{result: &multicall.BatchResult{
		TotalCollateralBase: uint256.NewInt(2_000_000_000),
		TotalDebtBase:       uint256.NewInt(1_000_000_000),
		LiquidationThreshold: 8500,
	}}
	r := New(Config{}, micro, fakeRisk{}, zerolog.Nop(), 8)
	user := common.HexToAddress("0xCCC")

	_, _ = r.HfOf(context.Background(), user, 1, nil)
	r.Invalidate(user)
	_, _ = r.HfOf(context.Background(), user, 1, nil)
	assert.Equal(t, 2, micro.calls)
}

func TestMaybeEmit_ZeroDebtNeverEmits(t *testing.T) {
	micro := &fakeMicro{result: &multicall.BatchResult{
		TotalCollateralBase: uint256.NewInt(2_000_000_000),
		TotalDebtBase:       uint256.NewInt(0),
		LiquidationThreshold: 8500,
	}}
	r := New(Config{}, micro, fakeRisk{}, zerolog.Nop(), 8)
	user := common.HexToAddress("0xDDD")

	snap, err := r.HfOf(context.Background(), user, 1, nil)
	require.NoError(t, err)
	assert.Nil(t, snap.HF)

	select {
	case <-r.Triggers():
		t.Fatal("zero-debt borrower must never emit")
	default:
	}
}

func TestMaybeEmit_HysteresisSuppressesSmallWorsening(t *testing.T) {
	r := New(Config{ExecutionThresholdBps: 9800, HysteresisBps: 20}, &fakeMicro{}, fakeRisk{}, zerolog.Nop(), 8)
	b := &domain.Borrower{Address: common.HexToAddress("0xEEE")}

	hf95, _ := uint256.FromDecimal("950000000000000000")
	r.maybeEmit(b, hf95, 1, "head")
	assert.Len(t, drainTriggers(r), 1, "first dip below threshold emits")

	hf949, _ := uint256.FromDecimal("949000000000000000")
	r.maybeEmit(b, hf949, 2, "head")
	assert.Len(t, drainTriggers(r), 0, "0.1%% drop is within 0.2%% hysteresis")

	hf947, _ := uint256.FromDecimal("947000000000000000")
	r.maybeEmit(b, hf947, 3, "head")
	assert.Len(t, drainTriggers(r), 1, "drop beyond hysteresis re-emits")
}

func drainTriggers(r *Resolver) []int {
	var out []int
	for {
		select {
		case <-r.Triggers():
			out = append(out, 1)
		default:
			return out
		}
	}
}
