package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Query the execution ledger",
	Long: `Query and export the execution ledger.

Subcommands:
  executions - List recent ledger rows
  audit      - List recent audit entries
  export     - Write ledger rows as CSV

Examples:
  fxexec journal executions -n 20
  fxexec journal export -o executions.csv`,
}

var journalExecutionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "List recent ledger rows, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJournalExecutions,
}

var journalAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List recent audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJournalAudit,
}

var journalExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger rows as CSV",
	Args:  cobra.NoArgs,
	RunE:  runJournalExport,
}

var (
	journalLimit  int
	journalBroker string
	journalOutput string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalExecutionsCmd)
	journalCmd.AddCommand(journalAuditCmd)
	journalCmd.AddCommand(journalExportCmd)

	journalCmd.PersistentFlags().IntVarP(&journalLimit, "limit", "n", 50, "maximum rows")
	journalCmd.PersistentFlags().StringVarP(&journalBroker, "broker", "b", "", "only rows for this broker")
	journalExportCmd.Flags().StringVarP(&journalOutput, "output", "o", "", "output file (default stdout)")
}

func runJournalExecutions(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.ListExecutions(cmd.Context(), journalBroker, journalLimit)
	if err != nil {
		return err
	}
	printExecutions(os.Stdout, rows)
	return nil
}

func runJournalAudit(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.ListAudit(cmd.Context(), journalLimit)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Broker", "Signal", "Action", "Instrument", "Dir", "Units", "OK", "Reason"})
	for _, e := range rows {
		t.AppendRow(table.Row{
			e.Time.Format(time.RFC3339), e.Broker, short(e.SegmentHash), e.Action,
			e.Instrument, e.Direction, e.Units, e.OK, e.Reason,
		})
	}
	t.Render()
	return nil
}

func runJournalExport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.ListExecutions(cmd.Context(), journalBroker, journalLimit)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if journalOutput != "" {
		f, err := os.Create(journalOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := journal.WriteExecutionsCSV(w, rows); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if journalOutput != "" {
		fmt.Printf("✓ Exported %d rows to %s\n", len(rows), journalOutput)
	}
	return nil
}

func printExecutions(w io.Writer, rows []journal.Execution) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Executions")
	t.AppendHeader(table.Row{"Time", "Broker", "Signal", "Status", "Order", "Error"})
	for _, e := range rows {
		t.AppendRow(table.Row{e.CreatedAt.Format(time.RFC3339), e.Broker, short(e.SegmentHash), e.Status, e.OrderID, e.Error})
	}
	t.Render()
}
