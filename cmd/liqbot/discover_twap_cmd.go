package main

import (
	"fmt"
	"os"

	"github.com/liqcore/liqbot/internal/config"
	"github.com/spf13/cobra"
)

// newDiscoverTwapCmd walks the ratio table's symbol-resolution graph ahead
// of time: prices.Service.tryRatio recurses into RatioFeed.QuoteSymbol at
// runtime with no cycle guard, so a ratio feed that eventually quotes back
// to itself would recurse until the call stack gives out. This command
// walks the chain of every ratio feed (or of one --symbol) and reports each
// one that cycles. Only RatioFeeds is walked: aliases and derived assets are
// not checked, and a base symbol with no ratio entry counts as terminal, so
// dangling references are not reported.
func newDiscoverTwapCmd() *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "discover-twap",
		Short: "check the ratio-feed resolution chains for cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := config.LoadRatioTable(ratiosPath)
			if err != nil {
				return fmt.Errorf("ratio table: %w", err)
			}
			if symbol != "" {
				if err := walkRatioChain(table, symbol, nil); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "%s: resolves cleanly\n", symbol)
				return nil
			}
			failures := 0
			for sym := range table.RatioFeeds {
				if err := walkRatioChain(table, sym, nil); err != nil {
					failures++
					fmt.Fprintf(os.Stdout, "%s: %v\n", sym, err)
				}
			}
			fmt.Fprintf(os.Stdout, "checked %d ratio feeds, %d failures\n", len(table.RatioFeeds), failures)
			if failures > 0 {
				return fmt.Errorf("%d ratio feed(s) failed validation", failures)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "check a single symbol instead of the whole table")
	return cmd
}

// walkRatioChain follows RatioFeeds[symbol].BaseSymbol recursively, failing
// on a cycle back to any symbol already on the current path.
func walkRatioChain(table *config.RatioTable, symbol string, path []string) error {
	for _, seen := range path {
		if seen == symbol {
			return fmt.Errorf("cycle detected: %v -> %s", append(path, symbol), symbol)
		}
	}
	entry, ok := table.RatioFeeds[symbol]
	if !ok {
		return nil // terminal symbol, priced directly off-chain
	}
	return walkRatioChain(table, entry.BaseSymbol, append(path, symbol))
}
