package tokens

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReserves struct {
	known map[common.Address]Info
}

func (f *fakeReserves) Lookup(address common.Address) (Info, bool) {
	info, ok := f.known[address]
	return info, ok
}

type fakeOnChain struct {
	calls int
	info  Info
	err   error
}

func (f *fakeOnChain) ReadSymbolDecimals(ctx context.Context, address common.Address) (Info, error) {
	f.calls++
	return f.info, f.err
}

func TestResolve_ReserveCatalogWins(t *testing.T) {
	addr := common.HexToAddress("0x1")
	reserves := &fakeReserves{known: map[common.Address]Info{addr: {Symbol: "USDC", Decimals: 6}}}
	r := New(reserves, nil, nil, &fakeOnChain{}, 0)

	info, err := r.Resolve(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, Info{Symbol: "USDC", Decimals: 6}, info)
}

func TestResolve_OverrideMapBeatsOnChain(t *testing.T) {
	addr := common.HexToAddress("0x2")
	reserves := &fakeReserves{known: map[common.Address]Info{}}
	overrides := map[common.Address]Info{addr: {Symbol: "WETH", Decimals: 18}}
	onChain := &fakeOnChain{info: Info{Symbol: "WRONG", Decimals: 1}}
	r := New(reserves, overrides, nil, onChain, 0)

	info, err := r.Resolve(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, Info{Symbol: "WETH", Decimals: 18}, info)
	assert.Equal(t, 0, onChain.calls)
}

func TestResolve_OnChainFallbackAndCaching(t *testing.T) {
	addr := common.HexToAddress("0x3")
	reserves := &fakeReserves{known: map[common.Address]Info{}}
	onChain := &fakeOnChain{info: Info{Symbol: "DAI", Decimals: 18}}
	r := New(reserves, nil, nil, onChain, 1000)

	info, err := r.Resolve(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, Info{Symbol: "DAI", Decimals: 18}, info)

	_, _ = r.Resolve(context.Background(), addr)
	assert.Equal(t, 1, onChain.calls, "second resolve should hit the TTL cache, not the chain")
}

func TestResolve_UnknownAfterRetriesExhaust(t *testing.T) {
	addr := common.HexToAddress("0x4")
	reserves := &fakeReserves{known: map[common.Address]Info{}}
	onChain := &fakeOnChain{err: errors.New("rpc down")}
	r := New(reserves, nil, nil, onChain, 1000)

	info, err := r.Resolve(context.Background(), addr)
	require.Error(t, err)
	assert.Equal(t, Unknown, info)
	assert.Equal(t, maxRetries, onChain.calls)
}
