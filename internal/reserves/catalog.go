// Package reserves implements ReserveCatalog: the enumerated set of
// active reserves and their per-asset risk parameters, refreshed on a cron
// cadence.
package reserves

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/tokens"
	"github.com/rs/zerolog"
)

// PoolReader is the narrow on-chain surface ReserveCatalog needs: list
// reserves, then per-asset configuration and token metadata.
type PoolReader interface {
	ListReserves(ctx context.Context) ([]common.Address, error)
	ReserveConfiguration(ctx context.Context, asset common.Address) (domain.Reserve, error)
}

// Catalog maintains map<address, Reserve>, refreshed at init and on a
// recurring schedule.
type Catalog struct {
	reader PoolReader
	log    zerolog.Logger

	mu       sync.RWMutex
	reserves map[common.Address]domain.Reserve
}

// New constructs an empty Catalog; call Refresh once before first use.
func New(reader PoolReader, log zerolog.Logger) *Catalog {
	return &Catalog{
		reader:   reader,
		log:      log.With().Str("component", "reserve_catalog").Logger(),
		reserves: make(map[common.Address]domain.Reserve),
	}
}

// Refresh re-enumerates active reserves and their configuration. Inactive or
// frozen reserves are still catalogued (for TokenRegistry/auditor lookups);
// IsEligibleCollateral/IsEligibleDebt report them as ineligible.
func (c *Catalog) Refresh(ctx context.Context) error {
	addrs, err := c.reader.ListReserves(ctx)
	if err != nil {
		return domain.Wrap("reserves.Refresh", domain.KindRpcNetwork, err)
	}

	next := make(map[common.Address]domain.Reserve, len(addrs))
	for _, a := range addrs {
		cfg, err := c.reader.ReserveConfiguration(ctx, a)
		if err != nil {
			c.log.Warn().Err(err).Str("asset", a.Hex()).Msg("reserve configuration fetch failed, skipping this cycle")
			continue
		}
		cfg.Asset = a
		next[a] = cfg
	}

	c.mu.Lock()
	c.reserves = next
	c.mu.Unlock()
	c.log.Info().Int("count", len(next)).Msg("reserve catalog refreshed")
	return nil
}

// Get returns the Reserve for an asset, if catalogued.
func (c *Catalog) Get(asset common.Address) (domain.Reserve, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reserves[asset]
	return r, ok
}

// All returns a read-only snapshot of every catalogued reserve.
func (c *Catalog) All() []domain.Reserve {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Reserve, 0, len(c.reserves))
	for _, r := range c.reserves {
		out = append(out, r)
	}
	return out
}

// IsEligibleCollateral reports whether asset may be selected as collateral:
// active, not frozen, and usageAsCollateralEnabled.
func (c *Catalog) IsEligibleCollateral(asset common.Address) bool {
	r, ok := c.Get(asset)
	return ok && r.IsActive && !r.IsFrozen && r.UsageAsCollateralEnabled
}

// IsEligibleDebt reports whether asset may be selected as the debt side of
// a liquidation: active and not frozen.
func (c *Catalog) IsEligibleDebt(asset common.Address) bool {
	r, ok := c.Get(asset)
	return ok && r.IsActive && !r.IsFrozen
}

// Lookup implements tokens.ReserveSource, the highest-priority tier of
// TokenRegistry's resolution order.
func (c *Catalog) Lookup(asset common.Address) (tokens.Info, bool) {
	r, ok := c.Get(asset)
	if !ok {
		return tokens.Info{}, false
	}
	return tokens.Info{Symbol: r.Symbol, Decimals: r.Decimals}, true
}
