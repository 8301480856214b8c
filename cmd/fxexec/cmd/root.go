package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fxexec",
	Short: "FX signal execution and risk engine",
	Long: `fxexec turns classified FX trading signals into broker orders.

Every cycle it:
  - refuses to run unless simulation and bot_enabled are both set
  - halts on a 5% daily drawdown or three failed executions in a row
  - takes each pending signal through duplicate, freshness, exposure,
    risk and margin guards
  - sizes entries from a per instrument/direction baseline
  - records one ledger row per signal and broker

A halted cycle exits with status 2 so a supervisor can stop scheduling.`,
	SilenceUsage: true,
}

var (
	cfgPath    string
	dbPathFlag string
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVarP(&dbPathFlag, "db", "d", "", "override journal.db_path")
}
