package prices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDirect struct {
	answer          *uint256.Int
	roundId         uint64
	answeredInRound uint64
	updatedAt       time.Time
	err             error
}

func (f *fakeDirect) LatestRoundData(ctx context.Context, symbol string) (*uint256.Int, uint64, uint64, time.Time, error) {
	return f.answer, f.roundId, f.answeredInRound, f.updatedAt, f.err
}

func TestPriceAt_DirectFeedFresh(t *testing.T) {
	direct := &fakeDirect{answer: uint256.NewInt(2000_00000000), roundId: 5, answeredInRound: 5, updatedAt: time.Now()}
	s := New(Config{StalenessSeconds: 60}, direct, nil, nil, nil)

	p, err := s.PriceAt(context.Background(), "ETH", 100)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceDirect, p.Source)
}

func TestPriceAt_StaleNonStablecoinRejected(t *testing.T) {
	direct := &fakeDirect{answer: uint256.NewInt(2000_00000000), roundId: 5, answeredInRound: 5, updatedAt: time.Now().Add(-2 * time.Hour)}
	s := New(Config{StalenessSeconds: 60}, direct, nil, nil, nil)

	_, err := s.PriceAt(context.Background(), "ETH", 100)
	require.Error(t, err)
	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, domain.KindStaleFeed, derr.Kind)
}

func TestPriceAt_StaleStablecoinAcceptedWithinDrift(t *testing.T) {
	// USDC feed age 2h, answer 0.9998, stalenessSeconds exceeded but
	// drift 0.02% <= 5% -> accepted.
	direct := &fakeDirect{answer: uint256.NewInt(99980000), roundId: 1, answeredInRound: 1, updatedAt: time.Now().Add(-2 * time.Hour)}
	cfg := Config{StalenessSeconds: 60, StablecoinSymbols: map[string]bool{"USDC": true}, StablecoinDriftBps: 500}
	s := New(cfg, direct, nil, nil, nil)

	p, err := s.PriceAt(context.Background(), "USDC", 100)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(99980000), p.Usd)
}

func TestPriceAt_FallsBackToOracleThenStub(t *testing.T) {
	direct := &fakeDirect{err: errors.New("feed down")}
	s := New(Config{StalenessSeconds: 60}, direct, nil, nil, map[string]*uint256.Int{"XYZ": uint256.NewInt(1_00000000)})

	p, err := s.PriceAt(context.Background(), "XYZ", 1)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStub, p.Source)
}

func TestPriceAt_CoalescesWithinBlock(t *testing.T) {
	direct := &fakeDirect{answer: uint256.NewInt(1_00000000), roundId: 1, answeredInRound: 1, updatedAt: time.Now()}
	s := New(Config{StalenessSeconds: 600}, direct, nil, nil, nil)

	p1, err1 := s.PriceAt(context.Background(), "DAI", 42)
	p2, err2 := s.PriceAt(context.Background(), "DAI", 42)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, p1, p2)
}

func TestEnqueuePending_DropsOldestAtCapacity(t *testing.T) {
	s := New(Config{MaxPendingQueue: 2}, nil, nil, nil, nil)
	s.EnqueuePending("a", uint256.NewInt(1))
	s.EnqueuePending("b", uint256.NewInt(2))
	s.EnqueuePending("c", uint256.NewInt(3))

	pending := s.FlushPending()
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].user)
	assert.Equal(t, "c", pending[1].user)
}

func TestWindow_VolatilityInvariantToRescaling(t *testing.T) {
	w1 := NewWindow(16)
	w2 := NewWindow(16)
	base := []int64{100, 102, 101, 105, 103, 110}
	for i, v := range base {
		w1.Add(domain.PriceSample{Price: uint256.NewInt(uint64(v)), Block: uint64(i)})
		w2.Add(domain.PriceSample{Price: uint256.NewInt(uint64(v * 1000)), Block: uint64(i)})
	}
	vol1 := w1.Volatility(10)
	vol2 := w2.Volatility(10)
	assert.InDelta(t, vol1, vol2, 1e-9)
}
