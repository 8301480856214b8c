package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/journal"
	"github.com/rustyeddy/fxexec/market"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest signal, recent executions and baselines",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var statusLimit int

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 5, "number of executions to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()
	out := os.Stdout

	fmt.Fprintf(out, "Broker: %s (env %s)  simulation=%t bot_enabled=%t dry_run=%t\n\n",
		a.cfg.Broker.Name, a.cfg.Broker.Env, a.cfg.IsSimulation(), a.cfg.Engine.BotEnabled, a.cfg.Engine.DryRun)

	sig, ok, err := a.source.Latest(ctx)
	if err != nil {
		return fmt.Errorf("latest signal: %w", err)
	}
	st := table.NewWriter()
	st.SetOutputMirror(out)
	st.SetStyle(table.StyleRounded)
	st.SetTitle("Latest signal")
	if !ok {
		st.AppendRow(table.Row{"none"})
	} else {
		ratio := "-"
		if sig.LotRatio != nil {
			ratio = fmt.Sprintf("%g", *sig.LotRatio)
		}
		st.AppendRows([]table.Row{
			{"Hash", short(sig.SegmentHash)},
			{"Action", sig.Action},
			{"Instrument", fmt.Sprintf("%s (uic %d)", sig.Instrument, sig.UIC)},
			{"Direction", sig.Direction},
			{"Lot ratio", ratio},
			{"Add-on", sig.IsAdd},
			{"Age", time.Since(sig.SignalAt).Round(time.Second)},
		})
	}
	st.Render()

	rows, err := a.store.ListExecutions(ctx, "", statusLimit)
	if err != nil {
		return err
	}
	printExecutions(out, rows)

	baselines, err := a.store.ListBaselines(ctx)
	if err != nil {
		return err
	}
	printBaselines(out, baselines, a.cfg.Broker.UICMap)

	eq, ok, err := a.store.GetDailyEquity(ctx, journal.DateKey(time.Now()))
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintf(out, "Daily equity baseline: %.2f\n", eq)
	}
	return nil
}

// printBaselines lists stored baselines and, for mapped instruments without
// one, an N/A row per direction.
func printBaselines(out io.Writer, rows []journal.Baseline, uics map[string]int) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Baselines")
	t.AppendHeader(table.Row{"Instrument", "Direction", "Units", "Updated"})

	seen := map[string]bool{}
	for _, b := range rows {
		seen[b.Instrument+"/"+string(b.Direction)] = true
		t.AppendRow(table.Row{b.Instrument, b.Direction, b.Units, b.UpdatedAt.Format(time.RFC3339)})
	}
	for name := range uics {
		inst := market.Normalize(name)
		for _, d := range []market.Direction{market.Buy, market.Sell} {
			if !seen[inst+"/"+string(d)] {
				t.AppendRow(table.Row{inst, d, "N/A", ""})
			}
		}
	}
	t.SortBy([]table.SortBy{{Number: 1}, {Number: 2}})
	t.Render()
}
