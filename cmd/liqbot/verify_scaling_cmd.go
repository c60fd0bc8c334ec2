package main

import (
	"fmt"
	"os"

	"github.com/liqcore/liqbot/internal/audit"
	"github.com/liqcore/liqbot/internal/config"
	"github.com/spf13/cobra"
)

// newVerifyScalingCmd replays a user's recorded outcomes looking for a
// collateral/debt USD ratio far outside what any real liquidation bonus
// produces, the signature of a decimals mismatch (e.g. a 6-decimal token
// read as 18-decimal) slipping past the live audit pipeline.
func newVerifyScalingCmd() *cobra.Command {
	var user string
	var limit int
	cmd := &cobra.Command{
		Use:   "verify-scaling",
		Short: "check a user's recorded liquidation outcomes for decimals-scaling anomalies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if user == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.MysqlDSN == "" {
				return fmt.Errorf("mysqlDsn is not configured")
			}
			recorder, err := audit.NewGormRecorder(cfg.MysqlDSN)
			if err != nil {
				return fmt.Errorf("open recorder: %w", err)
			}
			defer recorder.Close()

			records, err := recorder.RecentByUser(cmd.Context(), user, limit)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}

			const maxPlausibleRatio = 2.0 // liquidation bonuses never exceed ~20%
			flagged := 0
			for _, rec := range records {
				if rec.DebtUsd <= 0 {
					continue
				}
				ratio := rec.CollateralUsd / rec.DebtUsd
				if ratio > maxPlausibleRatio || ratio < 1/maxPlausibleRatio {
					flagged++
					fmt.Fprintf(os.Stdout, "SUSPICIOUS block=%d tx=%s debtUsd=%.2f collateralUsd=%.2f ratio=%.3f\n",
						rec.Block, rec.TxHash, rec.DebtUsd, rec.CollateralUsd, ratio)
				}
			}
			fmt.Fprintf(os.Stdout, "checked %d records, %d flagged\n", len(records), flagged)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "borrower address to check")
	cmd.Flags().IntVar(&limit, "limit", 50, "number of recent records to check")
	return cmd
}
