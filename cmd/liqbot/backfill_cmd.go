package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/liqcore/liqbot/internal/backfill"
	"github.com/liqcore/liqbot/internal/config"
	"github.com/liqcore/liqbot/internal/ingest"
	"github.com/liqcore/liqbot/internal/logging"
	"github.com/spf13/cobra"
)

// newBackfillCmd runs the same log scan the `run` service does at startup,
// standalone, so an operator can reseed or diagnose the discovery step
// without starting the dispatch loop.
func newBackfillCmd() *cobra.Command {
	var blocks uint64
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "scan recent pool events and print every user discovered",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if err := config.LoadSecrets(secretsPath); err != nil {
				return fmt.Errorf("secrets: %w", err)
			}
			log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: true})

			ctx := cmd.Context()
			readClient, err := ethclient.DialContext(ctx, firstOrEmpty(cfg.ReadEndpoints))
			if err != nil {
				return fmt.Errorf("dial read endpoint: %w", err)
			}

			registry := ingest.NewRegistry()
			registerPoolDecoders(registry)
			poolAddress := common.HexToAddress(cfg.PoolAddress)
			backfiller := backfill.New(newPoolLogReader(readClient, poolAddress, registry), log)

			head, err := readClient.HeaderByNumber(ctx, nil)
			if err != nil {
				return fmt.Errorf("fetch head: %w", err)
			}
			if blocks == 0 {
				blocks = cfg.BackfillBlocks
			}
			result, err := backfiller.RunWithConfig(ctx, head.Number.Uint64(), backfill.Config{
				Blocks: blocks, ChunkBlocks: cfg.BackfillChunkBlocks, MaxLogs: cfg.BackfillMaxLogs,
			})
			if err != nil {
				return fmt.Errorf("backfill: %w", err)
			}
			fmt.Fprintf(os.Stdout, "scanned %d logs over %d blocks, found %d users\n", result.LogsScanned, blocks, len(result.Users))
			for user := range result.Users {
				fmt.Fprintln(os.Stdout, user.Hex())
			}
			return nil
		},
	}
	cmd.Flags().Uint64Var(&blocks, "blocks", 0, "number of blocks to scan back from the current head (defaults to config)")
	return cmd
}
