// Package tokens implements TokenRegistry: address -> (symbol,
// decimals) resolution with layered fallback, rate-limited on-chain lookups,
// in-flight deduplication, and TTL caching.
package tokens

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/domain"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Info is the resolved (symbol, decimals) pair for an address.
type Info struct {
	Symbol   string
	Decimals uint8
}

// Unknown is returned once retries exhaust; callers must treat it as
// non-actionable.
var Unknown = Info{Symbol: "UNKNOWN", Decimals: 18}

// ReserveSource exposes ReserveCatalog's symbol/decimals for known reserves,
// the first-priority resolution tier.
type ReserveSource interface {
	Lookup(address common.Address) (Info, bool)
}

// OnChainReader performs the ERC-20 symbol()/decimals() calls, the
// last-resort resolution tier.
type OnChainReader interface {
	ReadSymbolDecimals(ctx context.Context, address common.Address) (Info, error)
}

type cacheEntry struct {
	info      Info
	expiresAt time.Time
	negative  bool
}

const (
	ttl              = 5 * time.Minute
	negativeTTL      = 60 * time.Second
	maxRetries       = 3
)

// Registry resolves token metadata via a layered fallback: ReserveCatalog ->
// compile-time override map -> on-chain lookup.
type Registry struct {
	reserves  ReserveSource
	overrides map[common.Address]Info
	aliases   map[string]string
	onChain   OnChainReader
	limiter   *rate.Limiter

	mu    sync.RWMutex
	cache map[common.Address]cacheEntry

	group singleflight.Group
}

// New constructs a Registry. overrides is the compile-time well-known
// address map; aliases maps e.g. lowercase symbols to their canonical form
// and is applied to the symbol whichever tier resolves it.
func New(reserves ReserveSource, overrides map[common.Address]Info, aliases map[string]string, onChain OnChainReader, rps float64) *Registry {
	if rps <= 0 {
		rps = 5
	}
	return &Registry{
		reserves:  reserves,
		overrides: overrides,
		aliases:   aliases,
		onChain:   onChain,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		cache:     make(map[common.Address]cacheEntry),
	}
}

// Resolve implements the full layered fallback for address.
func (r *Registry) Resolve(ctx context.Context, address common.Address) (Info, error) {
	if info, ok := r.reserves.Lookup(address); ok {
		return applyAlias(info, r.aliases), nil
	}
	if info, ok := r.overrides[address]; ok {
		return applyAlias(info, r.aliases), nil
	}

	if cached, ok := r.getCached(address); ok {
		if cached.negative {
			return Unknown, domain.New("tokens.Resolve", domain.KindDecodeError, "negatively cached")
		}
		return cached.info, nil
	}

	v, err, _ := r.group.Do(address.Hex(), func() (interface{}, error) {
		return r.lookupOnChain(ctx, address)
	})
	if err != nil {
		return Unknown, err
	}
	return v.(Info), nil
}

func (r *Registry) getCached(address common.Address) (cacheEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[address]
	if !ok || time.Now().After(e.expiresAt) {
		return cacheEntry{}, false
	}
	return e, true
}

func (r *Registry) setCached(address common.Address, e cacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[address] = e
}

func (r *Registry) lookupOnChain(ctx context.Context, address common.Address) (Info, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return Unknown, err
		}
		info, err := r.onChain.ReadSymbolDecimals(ctx, address)
		if err == nil {
			info = applyAlias(info, r.aliases)
			r.setCached(address, cacheEntry{info: info, expiresAt: time.Now().Add(ttl)})
			return info, nil
		}
		lastErr = err
	}
	r.setCached(address, cacheEntry{negative: true, expiresAt: time.Now().Add(negativeTTL)})
	return Unknown, domain.Wrap("tokens.lookupOnChain", domain.KindRpcNetwork, lastErr)
}

func applyAlias(info Info, aliases map[string]string) Info {
	if canonical, ok := aliases[strings.ToLower(info.Symbol)]; ok {
		info.Symbol = canonical
	}
	return info
}
