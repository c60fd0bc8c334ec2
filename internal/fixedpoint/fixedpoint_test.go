package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthFactor_SafeToLiqScenario(t *testing.T) {
	// collateral 2e9 base, debt 1.5e9 base, liqThresholdBps 8500 -> hf
	// ~= 1.1333 WAD, no emission.
	collateral := uint256.NewInt(2_000_000_000)
	debt := uint256.NewInt(1_500_000_000)

	weighted, err := WeightedCollateralBase(collateral, 8500, true)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(1_700_000_000), weighted)

	hf, err := HealthFactor(weighted, debt)
	require.NoError(t, err)
	// 1700000000 * 1e18 / 1500000000 = 1133333333333333333 (truncated)
	expected, _ := uint256.FromDecimal("1133333333333333333")
	assert.Equal(t, expected, hf)
	assert.False(t, LessThanThreshold(hf, 9800))
}

func TestHealthFactor_PriceShockTriggersEdge(t *testing.T) {
	collateral := uint256.NewInt(1_000_000_000) // halved by shock
	debt := uint256.NewInt(1_500_000_000)

	weighted, err := WeightedCollateralBase(collateral, 8500, true)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(850_000_000), weighted)

	hf, err := HealthFactor(weighted, debt)
	require.NoError(t, err)
	assert.True(t, LessThanThreshold(hf, 9800))
}

func TestHealthFactor_ZeroDebtIsInfinite(t *testing.T) {
	hf, err := HealthFactor(uint256.NewInt(123), uint256.NewInt(0))
	require.NoError(t, err)
	assert.Nil(t, hf)
	assert.False(t, LessThanThreshold(hf, 9800))
}

func TestWorsenedBeyondHysteresis(t *testing.T) {
	// prior 0.95 WAD, next 0.949 WAD (0.1% drop) must NOT cross a 0.2%
	// (20bps) hysteresis gate; 0.947 WAD (>0.2%) must cross.
	prev, _ := uint256.FromDecimal("950000000000000000")
	next949, _ := uint256.FromDecimal("949000000000000000")
	next947, _ := uint256.FromDecimal("947000000000000000")

	assert.False(t, WorsenedBeyondHysteresis(next949, prev, 20))
	assert.True(t, WorsenedBeyondHysteresis(next947, prev, 20))
}

func TestSuspiciousScaling(t *testing.T) {
	raw := uint256.NewInt(1000)
	plausibleUsd := uint256.NewInt(5000)
	assert.False(t, SuspiciousScaling(raw, plausibleUsd))

	implausibleUsd := new(uint256.Int).Mul(raw, uint256.NewInt(2_000_000_000))
	assert.True(t, SuspiciousScaling(raw, implausibleUsd))
}

func TestToUsd(t *testing.T) {
	// 1 WETH (18 decimals) at an 8-decimal oracle reading of $2000.
	amount, _ := uint256.FromDecimal("1000000000000000000")
	price := uint256.NewInt(2000_00000000)
	usd, err := ToUsd(amount, 18, price, 8)
	require.NoError(t, err)
	expected, _ := uint256.FromDecimal("20000000000000000000")
	assert.Equal(t, expected, usd)
}
