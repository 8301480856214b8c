package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/engine"
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run a single execution cycle",
	Long: `Run one execution cycle against the configured broker and print the
summary. Exits with status 2 when the cycle halts.

Example:
  fxexec cycle -c fxexec.yaml`,
	Args: cobra.NoArgs,
	RunE: runCycle,
}

func init() {
	rootCmd.AddCommand(cycleCmd)
}

func runCycle(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	gw, err := a.gateway(cmd.Context())
	if err != nil {
		return err
	}

	sum, err := a.engine(gw).RunCycle(cmd.Context())
	printSummary(os.Stdout, sum)
	return err
}

func printSummary(w io.Writer, s engine.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("Cycle: %s", s.Broker))
	t.AppendRows([]table.Row{
		{"Equity", fmt.Sprintf("%.2f", s.Equity)},
		{"Dry run", s.DryRun},
		{"Processed", s.Processed},
		{"Submitted", s.Submitted},
		{"Failed", s.Failed},
		{"Skipped", s.Skipped},
		{"Duplicates", s.Duplicates},
	})
	if s.Halted != "" {
		t.AppendSeparator()
		t.AppendRow(table.Row{"HALTED", s.Halted})
	}

	reasons := make([]string, 0, len(s.SkipReasons))
	for r := range s.SkipReasons {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	if len(reasons) > 0 {
		t.AppendSeparator()
		for _, r := range reasons {
			t.AppendRow(table.Row{"skip: " + r, s.SkipReasons[r]})
		}
	}
	t.Render()

	if len(s.Results) == 0 {
		return
	}
	rt := table.NewWriter()
	rt.SetOutputMirror(w)
	rt.SetStyle(table.StyleRounded)
	rt.AppendHeader(table.Row{"Signal", "Instrument", "Status", "Units", "Order", "Reason"})
	for _, r := range s.Results {
		rt.AppendRow(table.Row{short(r.SegmentHash), r.Instrument, r.Status, r.Units, r.OrderID, r.Reason})
	}
	rt.Render()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
