package submit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/liqcore/liqbot/internal/keyvault"
	"github.com/liqcore/liqbot/internal/rpcpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSigner(key keyvault.ExecutorKey, tx *types.Transaction) (*types.Transaction, error) {
	return tx, nil
}

func unsignedTxFactory(nonce uint64, tip, fee *big.Int, gasLimit uint64) *types.Transaction {
	return types.NewTx(&types.DynamicFeeTx{
		Nonce: nonce, GasTipCap: tip, GasFeeCap: fee, Gas: gasLimit,
		To: &common.Address{}, Value: big.NewInt(0), Data: nil,
	})
}

func TestSubmit_NoExecutorKeysConfiguredErrors(t *testing.T) {
	pool := rpcpool.New(rpcpool.KindWrite, rpcpool.Config{URLs: []string{"http://a"}}, zerolog.Nop())
	broadcast := func(ctx context.Context, ep *rpcpool.Endpoint, signed *types.Transaction) error { return nil }
	s := New(Config{}, pool, pool, fakeSigner, broadcast, nil, nil, zerolog.Nop())

	_, err := s.Submit(context.Background(), Attempt{
		MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1), GasLimit: 21000,
	}, unsignedTxFactory)
	require.Error(t, err)
}

func TestSubmit_BroadcastsAndReturnsEndpoint(t *testing.T) {
	pool := rpcpool.New(rpcpool.KindWrite, rpcpool.Config{URLs: []string{"http://a", "http://b"}}, zerolog.Nop())
	broadcast := func(ctx context.Context, ep *rpcpool.Endpoint, signed *types.Transaction) error { return nil }
	keys := []keyvault.ExecutorKey{{Address: common.HexToAddress("0xEXEC")}}
	s := New(Config{FirstBumpDelay: time.Hour}, pool, pool, fakeSigner, broadcast, nil, keys, zerolog.Nop())

	result, err := s.Submit(context.Background(), Attempt{
		MaxFeePerGas: big.NewInt(10), MaxPriorityFeePerGas: big.NewInt(1), GasLimit: 21000, Mode: ModePublic,
	}, unsignedTxFactory)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Endpoint)
}

func TestConsumeBumpBudget_ExhaustsAtMaxBumpsPerDay(t *testing.T) {
	pool := rpcpool.New(rpcpool.KindWrite, rpcpool.Config{URLs: []string{"http://a"}}, zerolog.Nop())
	keys := []keyvault.ExecutorKey{{Address: common.HexToAddress("0xEXEC")}}
	s := New(Config{MaxBumpsPerDay: 2}, pool, pool, fakeSigner, nil, nil, keys, zerolog.Nop())

	assert.True(t, s.consumeBumpBudget(keys[0].Address))
	assert.True(t, s.consumeBumpBudget(keys[0].Address))
	assert.False(t, s.consumeBumpBudget(keys[0].Address))
}

func TestConsumeRevertBudget_SharedVsPerKey(t *testing.T) {
	pool := rpcpool.New(rpcpool.KindWrite, rpcpool.Config{URLs: []string{"http://a"}}, zerolog.Nop())
	k1 := keyvault.ExecutorKey{Address: common.HexToAddress("0x1")}
	k2 := keyvault.ExecutorKey{Address: common.HexToAddress("0x2")}

	shared := New(Config{RevertBudgetSharedAcrossKeys: true, MaxRevertsPerDay: 1}, pool, pool, fakeSigner, nil, nil, []keyvault.ExecutorKey{k1, k2}, zerolog.Nop())
	assert.True(t, shared.ConsumeRevertBudget(k1.Address))
	assert.False(t, shared.ConsumeRevertBudget(k2.Address), "shared budget must be exhausted across keys")

	perKey := New(Config{RevertBudgetSharedAcrossKeys: false, MaxRevertsPerDay: 1}, pool, pool, fakeSigner, nil, nil, []keyvault.ExecutorKey{k1, k2}, zerolog.Nop())
	assert.True(t, perKey.ConsumeRevertBudget(k1.Address))
	assert.True(t, perKey.ConsumeRevertBudget(k2.Address), "independent per-key budgets must not share state")
}

func TestResetDailyBudgets_ClearsCounters(t *testing.T) {
	pool := rpcpool.New(rpcpool.KindWrite, rpcpool.Config{URLs: []string{"http://a"}}, zerolog.Nop())
	keys := []keyvault.ExecutorKey{{Address: common.HexToAddress("0xEXEC")}}
	s := New(Config{MaxBumpsPerDay: 1}, pool, pool, fakeSigner, nil, nil, keys, zerolog.Nop())

	assert.True(t, s.consumeBumpBudget(keys[0].Address))
	assert.False(t, s.consumeBumpBudget(keys[0].Address))
	s.ResetDailyBudgets()
	assert.True(t, s.consumeBumpBudget(keys[0].Address))
}
