package cmd

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/market"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage per instrument/direction baseline sizes",
	Long: `A baseline is the largest order size the broker's margin model accepts
for an instrument and direction. Add-on signals size from the stored baseline.

Subcommands:
  set   - Size a baseline from live equity and store it
  show  - List stored baselines
  clear - Remove a baseline

Examples:
  fxexec baseline set USDJPY BUY 0.5
  fxexec baseline clear USDJPY`,
}

var baselineSetCmd = &cobra.Command{
	Use:   "set <instrument> <BUY|SELL> [ratio]",
	Short: "Run the sizing search and store the result",
	Args:  cobra.RangeArgs(2, 3),
	RunE:  runBaselineSet,
}

var baselineShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List stored baselines",
	Args:  cobra.NoArgs,
	RunE:  runBaselineShow,
}

var baselineClearCmd = &cobra.Command{
	Use:   "clear <instrument> [BUY|SELL]",
	Short: "Remove the baseline for one or both directions",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runBaselineClear,
}

func init() {
	rootCmd.AddCommand(baselineCmd)
	baselineCmd.AddCommand(baselineSetCmd)
	baselineCmd.AddCommand(baselineShowCmd)
	baselineCmd.AddCommand(baselineClearCmd)
}

func runBaselineSet(cmd *cobra.Command, args []string) error {
	dir, err := market.ParseDirection(args[1])
	if err != nil {
		return err
	}
	ratio := 1.0
	if len(args) == 3 {
		if ratio, err = strconv.ParseFloat(args[2], 64); err != nil || ratio <= 0 {
			return fmt.Errorf("ratio must be a positive number, got %q", args[2])
		}
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gw, err := a.gateway(cmd.Context())
	if err != nil {
		return err
	}

	instrument := market.Normalize(args[0])
	units, err := a.engine(gw).EstablishBaseline(cmd.Context(), instrument, dir)
	if err != nil {
		return fmt.Errorf("baseline %s %s: %w", instrument, dir, err)
	}

	ratio = math.Min(ratio, a.cfg.Engine.MaxLotRatio)
	fmt.Printf("✓ Baseline set: %s %s baseline_units=%d\n", instrument, dir, units)
	fmt.Printf("  Entry at ratio %g: %d units\n", ratio, int64(math.Round(float64(units)*ratio)))
	return nil
}

func runBaselineShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.ListBaselines(cmd.Context())
	if err != nil {
		return err
	}
	printBaselines(os.Stdout, rows, a.cfg.Broker.UICMap)
	return nil
}

func runBaselineClear(cmd *cobra.Command, args []string) error {
	var dir market.Direction
	if len(args) == 2 {
		d, err := market.ParseDirection(args[1])
		if err != nil {
			return err
		}
		dir = d
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	instrument := market.Normalize(args[0])
	if err := a.store.ClearBaseline(cmd.Context(), instrument, dir); err != nil {
		return err
	}
	if dir == "" {
		fmt.Printf("✓ Cleared baselines for %s\n", instrument)
	} else {
		fmt.Printf("✓ Cleared baseline for %s %s\n", instrument, dir)
	}
	return nil
}
