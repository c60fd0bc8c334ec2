package main

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/aave"
	"github.com/liqcore/liqbot/internal/config"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/prices"
	"github.com/liqcore/liqbot/internal/tokens"
)

// symbolPriceLookup resolves an asset address to its current block-tagged
// USD price by first resolving its symbol through the token registry, then
// asking the price service for that symbol at the latest known block.
// risk.PriceLookup and intent.PriceLookup both take this shape.
func symbolPriceLookup(registry *tokens.Registry, svc *prices.Service, latestBlock func() uint64) func(asset common.Address) (*uint256.Int, error) {
	return func(asset common.Address) (*uint256.Int, error) {
		info, err := registry.Resolve(context.Background(), asset)
		if err != nil {
			return nil, err
		}
		price, err := svc.PriceAt(context.Background(), info.Symbol, latestBlock())
		if err != nil {
			return nil, err
		}
		return price.Usd, nil
	}
}

// assetSymbolOf builds audit.AssetSymbol from the token registry, used by
// LiquidationAuditor's fallback valuation path.
func assetSymbolOf(registry *tokens.Registry) func(asset common.Address) (string, uint8, bool) {
	return func(asset common.Address) (string, uint8, bool) {
		info, err := registry.Resolve(context.Background(), asset)
		if err != nil {
			return "", 0, false
		}
		return info.Symbol, info.Decimals, true
	}
}

// oraclePriceAt implements audit.OraclePriceAt over the pool's own
// getAssetPrice oracle, the preferred path before PriceService's fallback.
// The block argument is not used: the oracle is read at the latest state.
func oraclePriceAt(oracle *aave.Oracle, registry *tokens.Registry) func(ctx context.Context, asset common.Address, block uint64) (*uint256.Int, uint8, bool) {
	return func(ctx context.Context, asset common.Address, block uint64) (*uint256.Int, uint8, bool) {
		if oracle == nil {
			return nil, 0, false
		}
		info, err := registry.Resolve(ctx, asset)
		if err != nil {
			return nil, 0, false
		}
		price, err := oracle.AssetPrice(ctx, info.Symbol)
		if err != nil {
			return nil, 0, false
		}
		return price, info.Decimals, true
	}
}

// buildRatioFeeds converts the static TOML ratio table into prices.Service's
// runtime RatioFeed map, using a fixed ratio closure: config.RatioFeedEntry
// carries a hand-maintained constant rather than an on-chain-read ratio
// (e.g. a wrapped asset with a live exchange rate would need its own
// on-chain Ratio func, not currently wired since none of the sample
// reserves require it).
func buildRatioFeeds(table *config.RatioTable) map[string]prices.RatioFeed {
	if table == nil {
		return nil
	}
	out := make(map[string]prices.RatioFeed, len(table.RatioFeeds))
	for symbol, entry := range table.RatioFeeds {
		ratio := fixedRatio(entry.Ratio)
		out[symbol] = prices.RatioFeed{QuoteSymbol: entry.BaseSymbol, Ratio: ratio}
	}
	return out
}

func fixedRatio(ratio float64) func(ctx context.Context) (*uint256.Int, error) {
	scaled := new(big.Float).Mul(big.NewFloat(ratio), big.NewFloat(domain.BaseUnit))
	v, _ := scaled.Int(nil)
	value, overflow := uint256.FromBig(v)
	if overflow {
		value = uint256.NewInt(0)
	}
	return func(ctx context.Context) (*uint256.Int, error) {
		return new(uint256.Int).Set(value), nil
	}
}
