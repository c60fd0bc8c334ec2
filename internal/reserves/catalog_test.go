package reserves

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	addrs []common.Address
	cfg   map[common.Address]domain.Reserve
	err   error
}

func (f *fakeReader) ListReserves(ctx context.Context) ([]common.Address, error) {
	return f.addrs, f.err
}

func (f *fakeReader) ReserveConfiguration(ctx context.Context, asset common.Address) (domain.Reserve, error) {
	cfg, ok := f.cfg[asset]
	if !ok {
		return domain.Reserve{}, errors.New("not found")
	}
	return cfg, nil
}

func TestRefresh_PopulatesCatalog(t *testing.T) {
	weth := common.HexToAddress("0xWETH")
	usdc := common.HexToAddress("0xUSDC")
	reader := &fakeReader{
		addrs: []common.Address{weth, usdc},
		cfg: map[common.Address]domain.Reserve{
			weth: {Symbol: "WETH", Decimals: 18, IsActive: true, UsageAsCollateralEnabled: true},
			usdc: {Symbol: "USDC", Decimals: 6, IsActive: true, IsFrozen: true},
		},
	}
	c := New(reader, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	assert.True(t, c.IsEligibleCollateral(weth))
	assert.False(t, c.IsEligibleCollateral(usdc), "frozen reserve excluded from collateral selection")
	assert.False(t, c.IsEligibleDebt(usdc), "frozen reserve excluded from debt selection")
}

func TestRefresh_SkipsFailingReserveButKeepsOthers(t *testing.T) {
	weth := common.HexToAddress("0xWETH")
	bad := common.HexToAddress("0xBAD")
	reader := &fakeReader{
		addrs: []common.Address{weth, bad},
		cfg: map[common.Address]domain.Reserve{
			weth: {Symbol: "WETH", Decimals: 18, IsActive: true},
		},
	}
	c := New(reader, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))
	assert.Len(t, c.All(), 1)
}

func TestLookup_ImplementsTokenReserveSource(t *testing.T) {
	weth := common.HexToAddress("0xWETH")
	reader := &fakeReader{addrs: []common.Address{weth}, cfg: map[common.Address]domain.Reserve{
		weth: {Symbol: "WETH", Decimals: 18, IsActive: true},
	}}
	c := New(reader, zerolog.Nop())
	require.NoError(t, c.Refresh(context.Background()))

	info, ok := c.Lookup(weth)
	require.True(t, ok)
	assert.Equal(t, "WETH", info.Symbol)
}
