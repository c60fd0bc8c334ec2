// Command liqbot is the process entrypoint: a cobra CLI wiring every
// internal component into the long-lived `run` service plus a handful of
// one-shot operator utilities (`backfill`, `verify-scaling`,
// `discover-twap`).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath  string
	secretsPath string
	ratiosPath  string
)

func main() {
	os.Exit(run())
}

// run builds the root command and executes it, returning the process exit
// code: 0 normal, 1 fatal startup failure, 2 graceful shutdown after signal.
func run() int {
	root := &cobra.Command{
		Use:   "liqbot",
		Short: "Aave-v3-style liquidation bot",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yml", "path to the primary YAML config")
	root.PersistentFlags().StringVar(&secretsPath, "secrets", ".env", "path to the local secrets file")
	root.PersistentFlags().StringVar(&ratiosPath, "ratios", "ratios.toml", "path to the ratio/alias/derived-asset TOML table")

	root.AddCommand(newRunCmd())
	root.AddCommand(newBackfillCmd())
	root.AddCommand(newVerifyScalingCmd())
	root.AddCommand(newDiscoverTwapCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return lastExitCode
}

// lastExitCode lets the `run` subcommand hand back supervisor.Run's exit
// code (0/1/2) through cobra's error-only RunE contract.
var lastExitCode int
