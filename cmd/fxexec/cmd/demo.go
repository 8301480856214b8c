package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/fxexec/broker/sim"
	"github.com/rustyeddy/fxexec/config"
	"github.com/rustyeddy/fxexec/engine"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/signal"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run one cycle against the simulated broker with sample signals",
	Long: `Create a scratch journal, inject a few sample signals and run a
single cycle against the in-process simulated broker. Nothing leaves the
machine.

Example:
  fxexec demo
  fxexec demo --db /tmp/demo.db --dry-run`,
	Args: cobra.NoArgs,
	RunE: runDemo,
}

var demoDryRun bool

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().BoolVar(&demoDryRun, "dry-run", false, "submit orders as dry runs")
}

// demoSignals is a small session. The log is read newest first: a fresh
// USDJPY entry, a priced EURUSD short, a take profit on the seeded GBPUSD
// position and one signal too old to trade.
func demoSignals(now time.Time) []signal.TradingSignal {
	at := func(ago time.Duration) time.Time { return now.Add(-ago) }
	return []signal.TradingSignal{
		{
			Action: signal.Entry, Direction: market.Buy, Instrument: "USDJPY",
			LotRatio: signal.Float(0.1), SignalAt: at(30 * time.Second),
		},
		{
			Action: signal.Entry, Direction: market.Sell, Instrument: "EURUSD",
			LotRatio: signal.Float(0.1), SignalAt: at(60 * time.Second),
			EntryPrice: signal.Float(1.0800), StopPrice: signal.Float(1.0850),
		},
		{
			Action: signal.CloseTP, Instrument: "GBPUSD", SignalAt: at(90 * time.Second),
		},
		{
			Action: signal.Entry, Direction: market.Sell, Instrument: "USDJPY",
			LotRatio: signal.Float(0.5), SignalAt: at(10 * time.Minute),
		},
	}
}

// demoPosition is the GBPUSD long the simulated account starts with.
const demoPosition = 5000

func runDemo(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	cfg.Broker.Name = "sim"
	cfg.Broker.UICMap = map[string]int{"EURUSD": 21, "USDJPY": 42, "GBPUSD": 31}
	cfg.Engine.Simulation = true
	cfg.Engine.BotEnabled = true
	cfg.Engine.DryRun = demoDryRun
	cfg.Engine.AccountCurrency = "USD"
	cfg.Engine.AllowMarketWithoutPrices = true
	cfg.Logging.Level = "warn"

	cfg.Journal.DBPath = dbPathFlag
	if cfg.Journal.DBPath == "" {
		dir, err := os.MkdirTemp("", "fxexec-demo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		cfg.Journal.DBPath = filepath.Join(dir, "demo.db")
	}

	a, err := openAppWith(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	now := time.Now().UTC()
	for i, s := range demoSignals(now) {
		s.AssetType = signal.AssetFxSpot
		s.UIC = cfg.Broker.UICMap[s.Instrument]
		text := fmt.Sprintf("demo %d %s %s %s", i, s.Action, s.Instrument, now.Format(time.RFC3339Nano))
		if _, err := a.source.Add(cmd.Context(), s, text); err != nil {
			return err
		}
	}

	gw := sim.New(simEquity)
	gw.AccountCurrency = cfg.Engine.AccountCurrency
	gw.Seed(cfg.Broker.UICMap)
	gw.LivePrices = true
	gw.SpreadPips = simSpreadPips
	gw.SetPosition(cfg.Broker.UICMap["GBPUSD"], demoPosition)

	sum, err := a.engine(gw).RunCycle(cmd.Context())
	printSummary(os.Stdout, sum)
	if err != nil && !engine.IsHalt(err) {
		return err
	}

	rows, lerr := a.store.ListBaselines(cmd.Context())
	if lerr == nil {
		printBaselines(os.Stdout, rows, cfg.Broker.UICMap)
	}
	return err
}
