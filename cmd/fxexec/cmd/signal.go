package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/signal"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Add or list trading signals",
	Long: `Signals are normally written by the upstream parser. These commands
inject a signal by hand and list the pending log.

Examples:
  fxexec signal add --action ENTRY --instrument USDJPY --direction BUY --ratio 0.5
  fxexec signal add --action CLOSE_TP --instrument USDJPY --text "tp hit 151.20"
  fxexec signal list`,
}

var signalAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a signal to the log",
	Args:  cobra.NoArgs,
	RunE:  runSignalAdd,
}

var signalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signals, newest first",
	Args:  cobra.NoArgs,
	RunE:  runSignalList,
}

var (
	sigAction     string
	sigInstrument string
	sigDirection  string
	sigUIC        int
	sigAsset      string
	sigRatio      float64
	sigAdd        bool
	sigEntry      float64
	sigStop       float64
	sigTake       float64
	sigHash       string
	sigText       string
	sigListLimit  int
)

func init() {
	rootCmd.AddCommand(signalCmd)
	signalCmd.AddCommand(signalAddCmd)
	signalCmd.AddCommand(signalListCmd)

	f := signalAddCmd.Flags()
	f.StringVar(&sigAction, "action", "ENTRY", "ENTRY, CLOSE_TP or CLOSE_SL")
	f.StringVar(&sigInstrument, "instrument", "", "instrument, e.g. USDJPY (required)")
	f.StringVar(&sigDirection, "direction", "", "BUY or SELL (ENTRY only)")
	f.IntVar(&sigUIC, "uic", 0, "broker instrument id (default from broker.uic_map)")
	f.StringVar(&sigAsset, "asset-type", signal.AssetFxSpot, "asset type")
	f.Float64Var(&sigRatio, "ratio", 0, "lot ratio of the baseline (ENTRY only)")
	f.BoolVar(&sigAdd, "add", false, "add-on entry sized from the stored baseline")
	f.Float64Var(&sigEntry, "entry", 0, "entry price")
	f.Float64Var(&sigStop, "stop", 0, "stop loss price")
	f.Float64Var(&sigTake, "take", 0, "take profit price")
	f.StringVar(&sigHash, "hash", "", "segment hash (default: hash of --text)")
	f.StringVar(&sigText, "text", "", "message text the hash is computed from")
	_ = signalAddCmd.MarkFlagRequired("instrument")

	signalListCmd.Flags().IntVarP(&sigListLimit, "limit", "n", 20, "maximum rows")
}

func runSignalAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().UTC()
	instrument := market.Normalize(sigInstrument)
	sig := signal.TradingSignal{
		SegmentHash: sigHash,
		Action:      signal.Action(strings.ToUpper(sigAction)),
		Instrument:  instrument,
		UIC:         sigUIC,
		AssetType:   sigAsset,
		IsAdd:       sigAdd,
		SignalAt:    now,
	}
	if sig.UIC == 0 {
		sig.UIC = a.cfg.Broker.UICMap[instrument]
	}
	if sigDirection != "" {
		if sig.Direction, err = market.ParseDirection(sigDirection); err != nil {
			return err
		}
	}
	if sigRatio > 0 {
		sig.LotRatio = signal.Float(sigRatio)
	}
	if sigEntry > 0 {
		sig.EntryPrice = signal.Float(sigEntry)
	}
	if sigStop > 0 {
		sig.StopPrice = signal.Float(sigStop)
	}
	if sigTake > 0 {
		sig.TakePrice = signal.Float(sigTake)
	}

	text := sigText
	if sigHash == "" && text == "" {
		// unique per invocation so repeated manual signals are not deduplicated
		text = fmt.Sprintf("%s %s %s %s", sig.Action, instrument, sig.Direction, now.Format(time.RFC3339Nano))
	}

	added, err := a.source.Add(cmd.Context(), sig, text)
	if err != nil {
		return err
	}
	if !added {
		fmt.Println("Signal already present, nothing added")
		return nil
	}
	fmt.Printf("✓ Added %s %s %s (uic %d)\n", sig.Action, instrument, sig.Direction, sig.UIC)
	return nil
}

func runSignalList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	sigs, err := a.source.ListPending(cmd.Context(), sigListLimit)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Signal", "Action", "Instrument", "UIC", "Dir", "Ratio", "Add", "Executed"})
	for _, s := range sigs {
		ratio := ""
		if s.LotRatio != nil {
			ratio = fmt.Sprintf("%g", *s.LotRatio)
		}
		executed, err := a.store.WasExecuted(cmd.Context(), s.SegmentHash, a.cfg.Broker.Name)
		if err != nil {
			return err
		}
		t.AppendRow(table.Row{
			s.SignalAt.Format(time.RFC3339), short(s.SegmentHash), s.Action, s.Instrument,
			s.UIC, s.Direction, ratio, s.IsAdd, executed,
		})
	}
	t.Render()
	return nil
}
