package main

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/liqcore/liqbot/internal/execution"
	"github.com/liqcore/liqbot/internal/health"
	"github.com/liqcore/liqbot/internal/lockstore"
)

// resolverSnapshotSource adapts *health.Resolver to execution.SnapshotSource.
// It checks the distributed snapshot cache first, since two executor
// replicas can race the same trigger within the same SnapshotTTL window.
type resolverSnapshotSource struct {
	resolver *health.Resolver
	cache    *lockstore.Store
	cacheTTL time.Duration
}

func (s *resolverSnapshotSource) HfOf(ctx context.Context, user common.Address, block uint64, reserves []common.Address) (execution.HfSnapshot, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.GetSnapshot(ctx, user); err == nil && ok && cached.Block == block {
			if hf, err := uint256.FromDecimal(cached.HfWei); err == nil {
				return execution.HfSnapshot{HF: hf, Block: cached.Block}, nil
			}
		}
	}

	snap, err := s.resolver.HfOf(ctx, user, block, reserves)
	if err != nil {
		return execution.HfSnapshot{}, err
	}
	out := execution.HfSnapshot{HF: snap.HF, Block: snap.Block}
	if s.cache != nil && out.HF != nil {
		_ = s.cache.PutSnapshot(ctx, user, lockstore.CachedSnapshot{HfWei: out.HF.Dec(), Block: out.Block}, s.cacheTTL)
	}
	return out, nil
}
