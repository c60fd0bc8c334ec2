package risk

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthFactorFromTotals_SafeToLiqScenario(t *testing.T) {
	e := New()
	collateral := uint256.NewInt(1_000_000_000)
	debt := uint256.NewInt(1_500_000_000)

	hf, err := e.HealthFactorFromTotals(collateral, debt, 8500)
	require.NoError(t, err)
	require.NotNil(t, hf)
	assert.Equal(t, "566666666666666666", hf.Dec())
}

func TestHealthFactorFromTotals_ZeroDebtIsInfinite(t *testing.T) {
	e := New()
	hf, err := e.HealthFactorFromTotals(uint256.NewInt(1_000_000_000), uint256.NewInt(0), 8500)
	require.NoError(t, err)
	assert.Nil(t, hf)
}

func TestComputeFromReserves_MultiPositionWeightedSum(t *testing.T) {
	e := New()
	weth := common.HexToAddress("0xWETH")
	usdc := common.HexToAddress("0xUSDC")
	reserves := map[common.Address]domain.Reserve{
		weth: {Asset: weth, Decimals: 18, LiquidationThresholdBps: 8000},
		usdc: {Asset: usdc, Decimals: 6, LiquidationThresholdBps: 9000},
	}
	positions := []domain.ReservePosition{
		{Asset: weth, ATokenBalance: mustUint("1000000000000000000"), UsageAsCollateralEnabled: true},
		{Asset: usdc, VariableDebt: mustUint("500000000")},
	}
	price := func(asset common.Address) (*uint256.Int, error) {
		switch asset {
		case weth:
			return uint256.NewInt(200_000_000_000), nil // $2000 at 8 decimals
		case usdc:
			return uint256.NewInt(100_000_000), nil // $1 at 8 decimals
		}
		return nil, domain.New("test", domain.KindDecodeError, "unknown asset")
	}

	hf, err := e.ComputeFromReserves(reserves, positions, price)
	require.NoError(t, err)
	require.NotNil(t, hf)
}

func TestComputeFromReserves_MissingPriceSkipsPositionBestEffort(t *testing.T) {
	e := New()
	weth := common.HexToAddress("0xWETH")
	missing := common.HexToAddress("0xMISSING")
	reserves := map[common.Address]domain.Reserve{
		weth:    {Asset: weth, Decimals: 18, LiquidationThresholdBps: 8000},
		missing: {Asset: missing, Decimals: 18, LiquidationThresholdBps: 8000},
	}
	positions := []domain.ReservePosition{
		{Asset: weth, ATokenBalance: mustUint("1000000000000000000"), UsageAsCollateralEnabled: true},
		{Asset: missing, ATokenBalance: mustUint("1000000000000000000"), UsageAsCollateralEnabled: true},
	}
	price := func(asset common.Address) (*uint256.Int, error) {
		if asset == weth {
			return uint256.NewInt(200_000_000_000), nil
		}
		return nil, domain.New("test", domain.KindRpcNetwork, "no price")
	}

	hf, err := e.ComputeFromReserves(reserves, positions, price)
	require.NoError(t, err)
	assert.Nil(t, hf) // zero debt overall, still resolves rather than erroring
}

func TestProjectHF_ShockedCollateralLowersHF(t *testing.T) {
	e := New()
	weth := common.HexToAddress("0xWETH")
	usdc := common.HexToAddress("0xUSDC")
	reserves := map[common.Address]domain.Reserve{
		weth: {Asset: weth, Decimals: 18, LiquidationThresholdBps: 8000},
		usdc: {Asset: usdc, Decimals: 6, LiquidationThresholdBps: 9000},
	}
	positions := []domain.ReservePosition{
		{Asset: weth, ATokenBalance: mustUint("1000000000000000000"), UsageAsCollateralEnabled: true},
		{Asset: usdc, VariableDebt: mustUint("1500000000")},
	}
	basePrice := func(asset common.Address) (*uint256.Int, error) {
		switch asset {
		case weth:
			return uint256.NewInt(200_000_000_000), nil
		case usdc:
			return uint256.NewInt(100_000_000), nil
		}
		return nil, domain.New("test", domain.KindDecodeError, "unknown")
	}

	baseline, err := e.ComputeFromReserves(reserves, positions, basePrice)
	require.NoError(t, err)

	shocked, err := e.ProjectHF(reserves, positions, basePrice, []PriceShock{
		{Asset: weth, CollateralMultiplier: 0.85},
	})
	require.NoError(t, err)
	require.NotNil(t, baseline)
	require.NotNil(t, shocked)
	assert.True(t, shocked.Lt(baseline), "a 15%% collateral price drop must lower the projected HF")
}

func mustUint(dec string) *uint256.Int {
	v, _ := uint256.FromDecimal(dec)
	return v
}
