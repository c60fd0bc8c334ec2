package prices

import (
	"context"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/domain"
	"golang.org/x/sync/singleflight"
)

// DirectFeed is a Chainlink-style aggregator reader.
type DirectFeed interface {
	LatestRoundData(ctx context.Context, symbol string) (answer *uint256.Int, roundId, answeredInRound uint64, updatedAt time.Time, err error)
}

// OracleFallback is the money-market's own getAssetPrice(address) oracle.
type OracleFallback interface {
	AssetPrice(ctx context.Context, symbol string) (*uint256.Int, error)
}

// RatioFeed quotes one asset in units of another (e.g. wstETH/ETH); USD
// price is composed with a base-to-USD feed.
type RatioFeed struct {
	QuoteSymbol string // e.g. "ETH", composed via the USD feed for QuoteSymbol
	Ratio       func(ctx context.Context) (*uint256.Int, error)
}

// Config configures staleness and stablecoin gating.
type Config struct {
	StalenessSeconds      int
	StablecoinSymbols     map[string]bool
	StablecoinDriftBps    uint32 // max drift from $1 accepted for stale stablecoin reads
	PollDisableAfterErrors int
	MaxPendingQueue       int
}

type pendingRequest struct {
	user   string
	amount *uint256.Int
}

// Service implements PriceService's layered resolution with per-block
// coalescing and a bounded deferred-valuation queue.
type Service struct {
	cfg      Config
	direct   DirectFeed
	oracle   OracleFallback
	ratios   map[string]RatioFeed
	stubs    map[string]*uint256.Int

	mu           sync.Mutex
	errorCounts  map[string]int
	disabledFeed map[string]bool
	pending      []pendingRequest

	coalesce singleflight.Group
	blockCache sync.Map // key: symbol|block -> domain.Price
}

// New constructs a Service. ratios and stubs may be nil/empty.
func New(cfg Config, direct DirectFeed, oracle OracleFallback, ratios map[string]RatioFeed, stubs map[string]*uint256.Int) *Service {
	if cfg.MaxPendingQueue <= 0 {
		cfg.MaxPendingQueue = 500
	}
	if cfg.PollDisableAfterErrors <= 0 {
		cfg.PollDisableAfterErrors = 5
	}
	return &Service{
		cfg: cfg, direct: direct, oracle: oracle, ratios: ratios, stubs: stubs,
		errorCounts: make(map[string]int), disabledFeed: make(map[string]bool),
	}
}

// PriceAt resolves symbol's USD price as of block, coalescing concurrent
// callers within the same block into one underlying resolution.
func (s *Service) PriceAt(ctx context.Context, symbol string, block uint64) (domain.Price, error) {
	key := cacheKey(symbol, block)
	if v, ok := s.blockCache.Load(key); ok {
		return v.(domain.Price), nil
	}

	v, err, _ := s.coalesce.Do(key, func() (interface{}, error) {
		p, err := s.resolve(ctx, symbol, block)
		if err != nil {
			return domain.Price{}, err
		}
		s.blockCache.Store(key, p)
		return p, nil
	})
	if err != nil {
		return domain.Price{}, err
	}
	return v.(domain.Price), nil
}

func cacheKey(symbol string, block uint64) string {
	return symbol + "|" + uint64ToString(block)
}

func uint64ToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (s *Service) feedDisabled(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabledFeed[symbol]
}

func (s *Service) recordFeedError(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCounts[symbol]++
	if s.errorCounts[symbol] >= s.cfg.PollDisableAfterErrors {
		s.disabledFeed[symbol] = true
	}
}

func (s *Service) recordFeedSuccess(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCounts[symbol] = 0
}

// resolve implements the direct -> ratio -> oracle fallback -> stub chain.
func (s *Service) resolve(ctx context.Context, symbol string, block uint64) (domain.Price, error) {
	if !s.feedDisabled(symbol) && s.direct != nil {
		if p, ok, err := s.tryDirect(ctx, symbol, block); err != nil {
			return domain.Price{}, err
		} else if ok {
			return p, nil
		}
	}
	if ratio, ok := s.ratios[symbol]; ok {
		if p, err := s.tryRatio(ctx, symbol, ratio, block); err == nil {
			return p, nil
		}
	}
	if s.oracle != nil {
		if v, err := s.oracle.AssetPrice(ctx, symbol); err == nil {
			return domain.Price{Usd: v, Source: domain.SourceOracleFallback, UpdatedAtBlock: block}, nil
		}
	}
	if stub, ok := s.stubs[symbol]; ok {
		return domain.Price{Usd: stub, Source: domain.SourceStub, UpdatedAtBlock: block}, nil
	}
	return domain.Price{}, domain.New("prices.resolve", domain.KindStaleFeed, "no source available for "+symbol)
}

func (s *Service) tryDirect(ctx context.Context, symbol string, block uint64) (domain.Price, bool, error) {
	answer, roundId, answeredInRound, updatedAt, err := s.direct.LatestRoundData(ctx, symbol)
	if err != nil {
		s.recordFeedError(symbol)
		return domain.Price{}, false, nil
	}
	if answer == nil || answer.IsZero() || answeredInRound < roundId {
		s.recordFeedError(symbol)
		return domain.Price{}, false, nil
	}
	age := time.Since(updatedAt)
	if int(age.Seconds()) > s.cfg.StalenessSeconds {
		if s.isAcceptableStaleStablecoin(symbol, answer) {
			s.recordFeedSuccess(symbol)
			return domain.Price{Usd: answer, Source: domain.SourceDirect, UpdatedAtBlock: block, Age: age}, true, nil
		}
		return domain.Price{}, false, domain.New("prices.tryDirect", domain.KindStaleFeed, symbol)
	}
	s.recordFeedSuccess(symbol)
	return domain.Price{Usd: answer, Source: domain.SourceDirect, UpdatedAtBlock: block, Age: age}, true, nil
}

func (s *Service) isAcceptableStaleStablecoin(symbol string, answer *uint256.Int) bool {
	if !s.cfg.StablecoinSymbols[symbol] {
		return false
	}
	one := uint256.NewInt(domain.BaseUnit)
	driftBps := s.cfg.StablecoinDriftBps
	if driftBps == 0 {
		driftBps = 500 // default 5%
	}
	var diff uint256.Int
	if answer.Cmp(one) >= 0 {
		diff.Sub(answer, one)
	} else {
		diff.Sub(one, answer)
	}
	limit := new(uint256.Int).Mul(one, uint256.NewInt(uint64(driftBps)))
	limit.Div(limit, uint256.NewInt(domain.BPS))
	return diff.Cmp(limit) <= 0
}

func (s *Service) tryRatio(ctx context.Context, symbol string, ratio RatioFeed, block uint64) (domain.Price, error) {
	r, err := ratio.Ratio(ctx)
	if err != nil {
		return domain.Price{}, err
	}
	quote, err := s.PriceAt(ctx, ratio.QuoteSymbol, block)
	if err != nil {
		return domain.Price{}, err
	}
	prod, overflow := new(uint256.Int).MulOverflow(r, quote.Usd)
	if overflow {
		return domain.Price{}, domain.New("prices.tryRatio", domain.KindArithmeticOverflow, symbol)
	}
	usd := prod.Div(prod, uint256.NewInt(domain.BaseUnit))
	return domain.Price{Usd: usd, Source: domain.SourceRatio, UpdatedAtBlock: block}, nil
}

// EnqueuePending records a (user, amount) pair awaiting valuation once feeds
// become ready, evicting the oldest entry if the bounded queue is full.
func (s *Service) EnqueuePending(user string, amount *uint256.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) >= s.cfg.MaxPendingQueue {
		s.pending = s.pending[1:]
	}
	s.pending = append(s.pending, pendingRequest{user: user, amount: amount})
}

// FlushPending drains and returns every pending valuation request, intended
// to be called once feeds transition to ready.
func (s *Service) FlushPending() []pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}
