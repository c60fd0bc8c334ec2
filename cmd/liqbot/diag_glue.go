package main

import (
	"github.com/liqcore/liqbot/internal/diagapi"
	"github.com/liqcore/liqbot/internal/queue"
)

// hotlistView adapts *queue.Hotlist to diagapi.HotlistLookup.
func hotlistView(hotlist *queue.Hotlist) diagapi.HotlistLookup {
	return func() []diagapi.HotlistEntry {
		entries := hotlist.Snapshot()
		out := make([]diagapi.HotlistEntry, 0, len(entries))
		for _, e := range entries {
			view := diagapi.HotlistEntry{User: e.User.Hex(), TotalDebtUsd: e.TotalDebtUsd, Reason: e.Reason}
			if e.HealthFactor != nil {
				view.HealthFactor = e.HealthFactor.Dec()
			}
			out = append(out, view)
		}
		return out
	}
}
