package predictive

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/risk"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRiskEngine struct {
	projected *uint256.Int
	err       error
}

func (f *fakeRiskEngine) ProjectHF(reserves map[common.Address]domain.Reserve, positions []domain.ReservePosition, basePrice risk.PriceLookup, shocks []risk.PriceShock) (*uint256.Int, error) {
	return f.projected, f.err
}

type spyListener struct {
	received []domain.PredictiveCandidate
	failOnce bool
	failed   bool
}

func (s *spyListener) OnPredictiveCandidate(c domain.PredictiveCandidate) error {
	if s.failOnce && !s.failed {
		s.failed = true
		return assert.AnError
	}
	s.received = append(s.received, c)
	return nil
}

func noopPrice(common.Address) (*uint256.Int, error) { return uint256.NewInt(1), nil }

func TestInNearBand_ExcludesClearlySafeHF(t *testing.T) {
	o := New(Config{ExecutionThresholdBps: 9800, NearBandBps: 500}, &fakeRiskEngine{}, noopPrice, nil, zerolog.Nop())
	safe, _ := uint256.FromDecimal("1170000000000000000") // 1.17, clearly safe
	assert.False(t, o.inNearBand(safe, 500))
}

func TestInNearBand_IncludesNearThreshold(t *testing.T) {
	o := New(Config{ExecutionThresholdBps: 9800, NearBandBps: 500}, &fakeRiskEngine{}, noopPrice, nil, zerolog.Nop())
	near, _ := uint256.FromDecimal("1020000000000000000") // 1.02
	assert.True(t, o.inNearBand(near, 500))
}

func TestInNearBand_NilHfAlwaysExcluded(t *testing.T) {
	o := New(Config{}, &fakeRiskEngine{}, noopPrice, nil, zerolog.Nop())
	assert.False(t, o.inNearBand(nil, 500))
}

func TestDynamicCap_FloorAndCeiling(t *testing.T) {
	assert.Equal(t, 100, dynamicCap(0, 500))
	assert.Equal(t, 100, dynamicCap(20, 500))
	assert.Equal(t, 500, dynamicCap(1000, 500))
}

func TestTick_ListenerFailureIsolatesFromOthers(t *testing.T) {
	projected, _ := uint256.FromDecimal("1000000000000000000")
	o := New(Config{ExecutionThresholdBps: 9800, NearBandBps: 500}, &fakeRiskEngine{projected: projected}, noopPrice, nil, zerolog.Nop())
	failing := &spyListener{failOnce: true}
	healthy := &spyListener{}
	o.Register(failing)
	o.Register(healthy)

	near, _ := uint256.FromDecimal("1020000000000000000")
	o.Tick([]Candidate{{User: common.HexToAddress("0x1"), HF: near, TotalDebtUsd: 1000}}, 1)

	require.NotEmpty(t, healthy.received, "a failing listener must not block delivery to other listeners")
}

func TestTick_DropsCandidatesOutsideNearBand(t *testing.T) {
	projected, _ := uint256.FromDecimal("1000000000000000000")
	o := New(Config{ExecutionThresholdBps: 9800, NearBandBps: 500}, &fakeRiskEngine{projected: projected}, noopPrice, nil, zerolog.Nop())
	l := &spyListener{}
	o.Register(l)

	safe, _ := uint256.FromDecimal("1170000000000000000")
	o.Tick([]Candidate{{User: common.HexToAddress("0x1"), HF: safe, TotalDebtUsd: 1000}}, 1)

	assert.Empty(t, l.received)
}
