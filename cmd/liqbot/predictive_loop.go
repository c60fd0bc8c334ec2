package main

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/liqcore/liqbot/internal/config"
	"github.com/liqcore/liqbot/internal/domain"
	"github.com/liqcore/liqbot/internal/health"
	"github.com/liqcore/liqbot/internal/predictive"
	"github.com/liqcore/liqbot/internal/queue"
	"github.com/liqcore/liqbot/internal/reserves"
)

// dirtySetListener forwards a surviving predictive candidate into the dirty
// set so the next health-resolver pass rechecks it ahead of its actual
// threshold crossing, rather than waiting for a pool event or block tick.
type dirtySetListener struct {
	dirty *queue.DirtySet
}

func (l dirtySetListener) OnPredictiveCandidate(c domain.PredictiveCandidate) error {
	l.dirty.Mark(c.User, "predictive_"+string(c.Scenario))
	return nil
}

// runPredictiveLoop ticks the orchestrator over the hotlist's current
// membership on a fallback timer, since Resolver does not expose a full
// borrower enumeration: only users already tracked as near-threshold are
// worth projecting. This is tier (b), the periodic fallback; tier (a), an
// extra tick on busy new blocks, runs from runDispatchLoop via the same
// buildPredictiveCandidates helper.
func runPredictiveLoop(ctx context.Context, orch *predictive.Orchestrator, resolver *health.Resolver, hotlist *queue.Hotlist, catalog *reserves.Catalog, cfg *config.Config) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			candidates, lowHfCount := buildPredictiveCandidates(hotlist, resolver, catalog)
			orch.Tick(candidates, lowHfCount)
		}
	}
}

// buildPredictiveCandidates snapshots the hotlist's current membership into
// the Candidate shape PredictiveOrchestrator.Tick expects, looking up each
// entry's latest HF/positions from the resolver's index.
func buildPredictiveCandidates(hotlist *queue.Hotlist, resolver *health.Resolver, catalog *reserves.Catalog) ([]predictive.Candidate, int) {
	entries := hotlist.Snapshot()
	reserveMap := reservesByAddress(catalog)
	candidates := make([]predictive.Candidate, 0, len(entries))
	for _, e := range entries {
		borrower, ok := resolver.BorrowerSnapshot(e.User)
		if !ok {
			continue
		}
		candidates = append(candidates, predictive.Candidate{
			User: e.User, HF: borrower.HealthFactor, TotalDebtUsd: e.TotalDebtUsd,
			Reserves: reserveMap, Positions: borrower.Positions,
		})
	}
	return candidates, len(entries)
}

// reservesByAddress snapshots the catalog into the address-keyed map
// predictive.Candidate expects.
func reservesByAddress(catalog *reserves.Catalog) map[common.Address]domain.Reserve {
	all := catalog.All()
	out := make(map[common.Address]domain.Reserve, len(all))
	for _, r := range all {
		out[r.Asset] = r
	}
	return out
}
