// Package submit implements TxSubmitter: submission-mode dispatch
// (Public, PrivateRelay, Race, Bundle), gas-bump/RBF scheduling within a
// per-key daily budget, round-robin executor key rotation, and optimistic
// pre-verification submission under a daily revert budget.
package submit

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/keyvault"
	"github.com/liqcore/liqbot/internal/rpcpool"
	"github.com/rs/zerolog"
)

// Mode names a submission strategy.
type Mode string

const (
	ModePublic       Mode = "public"
	ModePrivateRelay Mode = "private_relay"
	ModeRace         Mode = "race"
	ModeBundle       Mode = "bundle"
)

// Attempt is everything needed to build and (re)broadcast one transaction.
type Attempt struct {
	To                   common.Address
	Data                 []byte
	GasLimit             uint64
	Nonce                uint64
	ChainID              *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Mode                 Mode
}

// Signer signs a dynamic-fee transaction with the given executor key.
type Signer func(key keyvault.ExecutorKey, tx *types.Transaction) (*types.Transaction, error)

// Broadcaster sends a signed transaction to one RPC endpoint, the transport
// rpcpool.Pool.WriteRace races across every healthy endpoint in a pool.
type Broadcaster func(ctx context.Context, ep *rpcpool.Endpoint, signed *types.Transaction) error

// MinedChecker reports whether a transaction hash already has a receipt,
// used to skip a scheduled gas bump once the original attempt landed.
type MinedChecker func(ctx context.Context, hash common.Hash) (bool, error)

// Config bounds gas-bump timing/budget and revert-budget behavior.
type Config struct {
	FirstBumpDelay  time.Duration
	SecondBumpDelay time.Duration
	FirstBumpFactor float64
	MaxBumps        int
	MaxBumpsPerDay  int
	// RevertBudgetSharedAcrossKeys selects whether the daily revert budget
	// for optimistic execution is one pool shared by every executor key, or
	// tracked independently per key; source material disagreed, so this is
	// left to the operator.
	RevertBudgetSharedAcrossKeys bool
	MaxRevertsPerDay             int
}

func (c *Config) setDefaults() {
	if c.FirstBumpDelay <= 0 {
		c.FirstBumpDelay = 2 * time.Second
	}
	if c.SecondBumpDelay <= 0 {
		c.SecondBumpDelay = 5 * time.Second
	}
	if c.FirstBumpFactor <= 0 {
		c.FirstBumpFactor = 1.3
	}
	if c.MaxBumps == 0 {
		c.MaxBumps = 2
	}
	if c.MaxBumpsPerDay == 0 {
		c.MaxBumpsPerDay = 50
	}
	if c.MaxRevertsPerDay == 0 {
		c.MaxRevertsPerDay = 10
	}
}

// Result is the outcome of Submit.
type Result struct {
	TxHash   common.Hash
	Endpoint string
	Raced    bool
	Failed   bool
	Reason   domain.SubmissionFailReason
}

// keyBudget tracks one executor key's remaining daily gas-bump and revert
// allowances. Reset is the caller's responsibility (a daily cron tick).
type keyBudget struct {
	bumpsUsed    int32
	revertsUsed  int32
}

// Submitter dispatches liquidation transactions per Mode, manages a
// round-robin executor key pool, and schedules RBF gas bumps.
type Submitter struct {
	cfg     Config
	writes    *rpcpool.Pool
	relay     *rpcpool.Pool
	sign      Signer
	broadcast Broadcaster
	mined     MinedChecker
	keys      []keyvault.ExecutorKey
	log       zerolog.Logger

	mu        sync.Mutex
	nextKey   int
	budgets   map[common.Address]*keyBudget
	sharedRevertsUsed int32

	bumpsDisabled bool
}

// New constructs a Submitter over the Write and Relay rpcpool sub-pools and
// a pool of executor keys rotated round-robin per attempt.
func New(cfg Config, writes, relay *rpcpool.Pool, sign Signer, broadcast Broadcaster, mined MinedChecker, keys []keyvault.ExecutorKey, log zerolog.Logger) *Submitter {
	cfg.setDefaults()
	budgets := make(map[common.Address]*keyBudget, len(keys))
	for _, k := range keys {
		budgets[k.Address] = &keyBudget{}
	}
	return &Submitter{
		cfg: cfg, writes: writes, relay: relay, sign: sign, broadcast: broadcast, mined: mined, keys: keys,
		log: log.With().Str("component", "submitter").Logger(), budgets: budgets,
	}
}

// nextExecutorKey rotates through the configured key pool round-robin.
func (s *Submitter) nextExecutorKey() (keyvault.ExecutorKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.keys) == 0 {
		return keyvault.ExecutorKey{}, false
	}
	k := s.keys[s.nextKey%len(s.keys)]
	s.nextKey++
	return k, true
}

// Submit builds, signs, and dispatches one attempt per its Mode, then
// schedules gas-bump rebroadcasts in the background until inclusion, bump
// budget exhaustion, or ctx cancellation.
func (s *Submitter) Submit(ctx context.Context, attempt Attempt, unsignedTx func(nonce uint64, tip, fee *big.Int, gasLimit uint64) *types.Transaction) (Result, error) {
	key, ok := s.nextExecutorKey()
	if !ok {
		return Result{}, domain.New("submit.Submit", domain.KindConfigError, "no executor keys configured")
	}

	tx := unsignedTx(attempt.Nonce, attempt.MaxPriorityFeePerGas, attempt.MaxFeePerGas, attempt.GasLimit)
	signed, err := s.sign(key, tx)
	if err != nil {
		return Result{}, domain.Wrap("submit.Submit", domain.KindSubmissionFailed, err)
	}

	result, err := s.dispatch(ctx, attempt.Mode, signed)
	if err != nil {
		return Result{Failed: true, Reason: domain.SubmitReverted}, err
	}

	go s.scheduleBumps(context.Background(), attempt, key, result.TxHash, unsignedTx)
	return result, nil
}

func (s *Submitter) dispatch(ctx context.Context, mode Mode, signed *types.Transaction) (Result, error) {
	pool := s.writes
	if mode == ModePrivateRelay {
		pool = s.relay
	}
	_, endpoint, err := pool.WriteRace(ctx, func(ctx context.Context, ep *rpcpool.Endpoint) (interface{}, error) {
		return nil, s.broadcast(ctx, ep, signed)
	})
	if err != nil {
		return Result{}, err
	}
	return Result{TxHash: signed.Hash(), Endpoint: endpoint, Raced: mode == ModeRace}, nil
}

// scheduleBumps implements the gas-bump/RBF ladder: a first bump at
// FirstBumpDelay with priorityFee * FirstBumpFactor, a second at
// SecondBumpDelay, both same nonce, skipped if already mined, MaxBumps
// reached, the per-key daily budget is exhausted, or bumping is disabled.
func (s *Submitter) scheduleBumps(ctx context.Context, attempt Attempt, key keyvault.ExecutorKey, firstHash common.Hash, unsignedTx func(nonce uint64, tip, fee *big.Int, gasLimit uint64) *types.Transaction) {
	if s.bumpsDisabled {
		return
	}
	delays := []time.Duration{s.cfg.FirstBumpDelay, s.cfg.SecondBumpDelay}
	currentTip := new(big.Int).Set(attempt.MaxPriorityFeePerGas)
	currentFee := new(big.Int).Set(attempt.MaxFeePerGas)

	for i, delay := range delays {
		if i >= s.cfg.MaxBumps {
			return
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		if s.mined != nil {
			if ok, err := s.mined(ctx, firstHash); err == nil && ok {
				return
			}
		}
		if !s.consumeBumpBudget(key.Address) {
			s.log.Debug().Str("executor", key.Address.Hex()).Msg("daily bump budget exhausted")
			return
		}
		currentTip = scaleBigFloat(currentTip, s.cfg.FirstBumpFactor)
		currentFee = scaleBigFloat(currentFee, s.cfg.FirstBumpFactor)
		tx := unsignedTx(attempt.Nonce, currentTip, currentFee, attempt.GasLimit)
		signed, err := s.sign(key, tx)
		if err != nil {
			s.log.Warn().Err(err).Msg("bump resign failed")
			return
		}
		if _, _, err := s.writes.WriteRace(ctx, func(ctx context.Context, ep *rpcpool.Endpoint) (interface{}, error) {
			return nil, s.broadcast(ctx, ep, signed)
		}); err != nil {
			s.log.Debug().Err(err).Msg("bump broadcast failed")
		}
	}
}

func (s *Submitter) consumeBumpBudget(executor common.Address) bool {
	s.mu.Lock()
	b, ok := s.budgets[executor]
	if !ok {
		b = &keyBudget{}
		s.budgets[executor] = b
	}
	s.mu.Unlock()
	if int(atomic.LoadInt32(&b.bumpsUsed)) >= s.cfg.MaxBumpsPerDay {
		return false
	}
	atomic.AddInt32(&b.bumpsUsed, 1)
	return true
}

// ConsumeRevertBudget decrements the optimistic-execution revert budget,
// shared or per-key per Config.RevertBudgetSharedAcrossKeys. Returns false
// once exhausted, which disables optimistic execution until a daily reset.
func (s *Submitter) ConsumeRevertBudget(executor common.Address) bool {
	if s.cfg.RevertBudgetSharedAcrossKeys {
		if int(atomic.LoadInt32(&s.sharedRevertsUsed)) >= s.cfg.MaxRevertsPerDay {
			return false
		}
		atomic.AddInt32(&s.sharedRevertsUsed, 1)
		return true
	}
	s.mu.Lock()
	b, ok := s.budgets[executor]
	if !ok {
		b = &keyBudget{}
		s.budgets[executor] = b
	}
	s.mu.Unlock()
	if int(atomic.LoadInt32(&b.revertsUsed)) >= s.cfg.MaxRevertsPerDay {
		return false
	}
	atomic.AddInt32(&b.revertsUsed, 1)
	return true
}

// ResetDailyBudgets clears every key's bump/revert counters; wired to a
// daily robfig/cron job at the supervisor layer.
func (s *Submitter) ResetDailyBudgets() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.budgets {
		atomic.StoreInt32(&b.bumpsUsed, 0)
		atomic.StoreInt32(&b.revertsUsed, 0)
	}
	atomic.StoreInt32(&s.sharedRevertsUsed, 0)
	s.bumpsDisabled = false
}

func scaleBigFloat(v *big.Int, factor float64) *big.Int {
	f := new(big.Float).SetInt(v)
	f.Mul(f, big.NewFloat(factor))
	out, _ := f.Int(nil)
	return out
}
