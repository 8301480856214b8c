package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create or check the engine configuration",
	Long: `Manage engine configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Environment variables (and a .env file) override file values:
  SAXO_ENV, BOT_ENABLED, DRY_RUN, SAXO_ACCOUNT_KEY, SAXO_CLIENT_KEY,
  SAXO_CLIENT_ID, SAXO_CLIENT_SECRET, SAXO_ACCESS_TOKEN, SAXO_REFRESH_TOKEN,
  SAXO_BASE_URL, FXEXEC_DB_PATH, LOG_LEVEL, METRICS_ADDR

Examples:
  fxexec config init -o fxexec.yaml
  fxexec config validate -f fxexec.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to a file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file for errors",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "fxexec.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	_ = configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Wrote default configuration to %s\n", configInitOutput)
	fmt.Println("\nSet broker.uic_map and engine.bot_enabled, then run:")
	fmt.Printf("  fxexec cycle -c %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("config %s: %w", configValidatePath, err)
	}

	fmt.Printf("✓ %s is valid\n", configValidatePath)
	fmt.Printf("  Broker: %s (env %s, %d instruments mapped)\n", cfg.Broker.Name, cfg.Broker.Env, len(cfg.Broker.UICMap))
	fmt.Printf("  Gate: simulation=%t bot_enabled=%t dry_run=%t\n", cfg.IsSimulation(), cfg.Engine.BotEnabled, cfg.Engine.DryRun)
	fmt.Printf("  Limits: drawdown %.1f%%, risk %.1f%%, notional %.1f%%, margin %.1f%%\n",
		cfg.Limits.MaxDailyDrawdownPct*100, cfg.Limits.MaxRiskPct*100,
		cfg.Limits.MaxNotionalPct*100, cfg.Limits.MaxMarginPct*100)
	fmt.Printf("  Journal: %s\n", cfg.Journal.DBPath)
	return nil
}
