package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/broker/sim"
	"github.com/rustyeddy/fxexec/journal"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/signal"
)

type staticSource struct {
	sigs []signal.TradingSignal
}

func (s *staticSource) ListPending(_ context.Context, limit int) ([]signal.TradingSignal, error) {
	if len(s.sigs) > limit {
		return s.sigs[:limit], nil
	}
	return s.sigs, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

type fixture struct {
	eng   *Engine
	gw    *sim.Gateway
	store *journal.SQLite
	src   *staticSource
	clk   *clock
}

// newFixture builds an engine over a sim gateway with 50000 equity and a
// margin of 0.12 per unit, so 20000 units need 2400 and 10000 need 1200.
func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	store, err := journal.NewSQLite(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	clk := &clock{t: time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC)}
	store.SetClock(clk.now)

	gw := sim.New(50000)
	gw.MarginFunc = func(_ int, _ market.Direction, units int64) (float64, error) {
		return float64(units) * 0.12, nil
	}

	opts := DefaultOptions()
	opts.BotEnabled = true
	opts.MaxTotalUnits = 20000
	opts.AllowMarketWithoutPrices = true
	opts.UICMap = map[string]int{"USDJPY": 22, "EURUSD": 21, "GBPUSD": 31, "AUDUSD": 4}
	if mutate != nil {
		mutate(&opts)
	}

	src := &staticSource{}
	eng := New(gw, store, src, opts, WithClock(clk.now))
	return &fixture{eng: eng, gw: gw, store: store, src: src, clk: clk}
}

func (f *fixture) entry(hash, instrument string, uic int, dir market.Direction, ratio float64, isAdd bool) signal.TradingSignal {
	return signal.TradingSignal{
		SegmentHash: hash,
		Action:      signal.Entry,
		Direction:   dir,
		Instrument:  instrument,
		UIC:         uic,
		AssetType:   signal.AssetFxSpot,
		LotRatio:    signal.Float(ratio),
		IsAdd:       isAdd,
		SignalAt:    f.clk.t.Add(-10 * time.Second),
	}
}

func (f *fixture) close(hash, instrument string, uic int) signal.TradingSignal {
	return signal.TradingSignal{
		SegmentHash: hash,
		Action:      signal.CloseTP,
		Instrument:  instrument,
		UIC:         uic,
		AssetType:   signal.AssetFxSpot,
		SignalAt:    f.clk.t.Add(-10 * time.Second),
	}
}

func (f *fixture) execution(t *testing.T, hash string) journal.Execution {
	t.Helper()
	e, ok, err := f.store.GetExecution(context.Background(), hash, sim.Name)
	require.NoError(t, err)
	require.True(t, ok, "no ledger row for %s", hash)
	return e
}

func TestEndToEndEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Submitted)
	assert.Zero(t, sum.Skipped)
	assert.Equal(t, 50000.0, sum.Equity)

	orders := f.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, 22, orders[0].UIC)
	assert.Equal(t, market.Buy, orders[0].Direction)
	assert.Equal(t, int64(10000), orders[0].Units)
	assert.Equal(t, broker.IdempotencyKey("h1", sim.Name), orders[0].IdempotencyKey)

	assert.Equal(t, journal.StatusFilled, f.execution(t, "h1").Status)

	baseline, ok, err := f.store.GetBaseline(ctx, "USDJPY", market.Buy)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(20000), baseline)

	units, err := f.gw.GetOpenPositionUnits(ctx, 22)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), units)

	eq, ok, err := f.store.GetDailyEquity(ctx, "2024-05-06")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 50000.0, eq)

	audit, err := f.store.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, audit)
	assert.True(t, audit[0].OK)
}

func TestIdempotency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	sig := f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)
	f.src.sigs = []signal.TradingSignal{sig, sig}

	sum, err := f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Submitted)
	assert.Equal(t, 1, sum.Duplicates)

	sum, err = f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)
	assert.Equal(t, 2, sum.Duplicates)

	assert.Len(t, f.gw.Orders(), 1)
	assert.Equal(t, journal.StatusFilled, f.execution(t, "h1").Status)
}

func TestConflictPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.SetPosition(22, -10000)
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonConflictPosition])
	assert.Empty(t, f.gw.Orders())

	e := f.execution(t, "h1")
	assert.Equal(t, journal.StatusSkipped, e.Status)
	assert.True(t, strings.HasPrefix(e.Error, ReasonConflictPosition))
}

func TestConsecutiveFailureBreaker(t *testing.T) {
	t.Parallel()

	t.Run("three failures halt", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newFixture(t, nil)
		for _, h := range []string{"a", "b", "c"} {
			require.NoError(t, f.store.RecordOutcome(ctx, h, sim.Name, journal.Outcome{Status: journal.StatusFailed}))
		}
		f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

		sum, err := f.eng.RunCycle(ctx)
		require.Error(t, err)
		assert.True(t, IsHalt(err))
		assert.Equal(t, HaltConsecutiveFailure, HaltReason(err))
		assert.Equal(t, HaltConsecutiveFailure, sum.Halted)
		assert.Zero(t, sum.Processed)
		assert.Empty(t, f.gw.Orders())
	})

	t.Run("a fill after two failures does not", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newFixture(t, nil)
		require.NoError(t, f.store.RecordOutcome(ctx, "a", sim.Name, journal.Outcome{Status: journal.StatusFailed}))
		require.NoError(t, f.store.RecordOutcome(ctx, "b", sim.Name, journal.Outcome{Status: journal.StatusFailed}))
		require.NoError(t, f.store.RecordOutcome(ctx, "c", sim.Name, journal.Outcome{Status: journal.StatusFilled}))
		f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

		sum, err := f.eng.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, sum.Submitted)
	})

	t.Run("other broker failures are ignored", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := newFixture(t, nil)
		for _, h := range []string{"a", "b", "c"} {
			require.NoError(t, f.store.RecordOutcome(ctx, h, "saxo", journal.Outcome{Status: journal.StatusFailed}))
		}

		_, err := f.eng.RunCycle(ctx)
		require.NoError(t, err)
	})
}

func TestAddWithoutBaseline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.src.sigs = []signal.TradingSignal{f.entry("add1", "USDJPY", 22, market.Buy, 0.5, true)}

	sum, err := f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonMissingBaseline])
	assert.Empty(t, f.gw.Orders())
	assert.Zero(t, f.gw.Prechecks())

	require.NoError(t, f.store.SetBaseline(ctx, "USDJPY", market.Buy, 8000))
	f.src.sigs = []signal.TradingSignal{f.entry("add2", "USDJPY", 22, market.Buy, 0.25, true)}

	sum, err = f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Submitted)
	orders := f.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(2000), orders[0].Units)

	baseline, _, err := f.store.GetBaseline(ctx, "USDJPY", market.Buy)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), baseline)
}

func TestEnvironmentGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		simulation bool
		botEnabled bool
	}{
		{"bot disabled", true, false},
		{"not simulation", false, true},
		{"neither", false, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(o *Options) {
				o.Simulation = tt.simulation
				o.BotEnabled = tt.botEnabled
			})
			f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

			_, err := f.eng.RunCycle(context.Background())
			require.Error(t, err)
			assert.Equal(t, HaltEnvironment, HaltReason(err))
			assert.Empty(t, f.gw.Orders())

			rows, err := f.store.ListExecutions(context.Background(), "", 10)
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestEquityUnavailableHalts(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.EquityFunc = func() (float64, error) { return 0, broker.ErrUnavailable }

	_, err := f.eng.RunCycle(context.Background())
	assert.Equal(t, HaltEquityUnavailable, HaltReason(err))
	assert.ErrorIs(t, err, broker.ErrUnavailable)
}

func TestDailyDrawdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		equity float64
		halt   bool
	}{
		{"six percent down halts", 9400, true},
		{"four percent down proceeds", 9600, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			f := newFixture(t, nil)
			require.NoError(t, f.store.SetDailyEquity(ctx, journal.DateKey(f.clk.t), 10000))
			f.gw.SetEquity(tt.equity)

			_, err := f.eng.RunCycle(ctx)
			if tt.halt {
				assert.Equal(t, HaltDailyDrawdown, HaltReason(err))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrderRejectionsHalt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.gw.OrderFunc = func(broker.OrderRequest) (broker.OrderResult, error) {
		return broker.OrderResult{OK: false, Error: "400: insufficient funds"}, nil
	}
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		f.src.sigs = append(f.src.sigs, f.entry(h, "USDJPY", 22, market.Buy, 0.5, false))
	}

	sum, err := f.eng.RunCycle(ctx)
	require.Error(t, err)
	assert.Equal(t, HaltOrderRejections, HaltReason(err))
	assert.Equal(t, 3, sum.Failed)
	assert.Len(t, f.gw.Orders(), 3)

	assert.Equal(t, journal.StatusFailed, f.execution(t, "h3").Status)
	assert.Equal(t, "400: insufficient funds", f.execution(t, "h3").Error)
	ok, err := f.store.WasExecuted(ctx, "h4", sim.Name)
	require.NoError(t, err)
	assert.False(t, ok)

	// the ledger now trips the breaker on the next cycle
	_, err = f.eng.RunCycle(ctx)
	assert.Equal(t, HaltConsecutiveFailure, HaltReason(err))
}

func TestRejectionCounterResetsOnSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	calls := 0
	f.gw.OrderFunc = func(broker.OrderRequest) (broker.OrderResult, error) {
		calls++
		if calls == 3 {
			return broker.OrderResult{OK: true, OrderID: "ok"}, nil
		}
		return broker.OrderResult{}, errors.New("connection reset")
	}
	for _, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
		f.src.sigs = append(f.src.sigs, f.entry(h, "USDJPY", 22, market.Buy, 0.5, false))
	}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Failed)
	assert.Equal(t, 1, sum.Submitted)
}

func TestMarginAPIErrorsHalt(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.MarginFunc = func(_ int, _ market.Direction, units int64) (float64, error) {
		if units == 10000 {
			return 0, errors.New("timeout")
		}
		return float64(units) * 0.12, nil
	}
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		f.src.sigs = append(f.src.sigs, f.entry(h, "USDJPY", 22, market.Buy, 0.5, false))
	}

	sum, err := f.eng.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, HaltMarginAPIErrors, HaltReason(err))
	assert.ErrorIs(t, err, broker.ErrUnavailable)
	assert.Equal(t, 3, sum.SkipReasons[ReasonMarginUnavailable])
	assert.Empty(t, f.gw.Orders())
	assert.Equal(t, journal.StatusSkipped, f.execution(t, "h3").Status)
}

func TestMarginTooHigh(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.MarginFunc = func(_ int, _ market.Direction, units int64) (float64, error) {
		return float64(units) * 0.2, nil
	}
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonMarginTooHigh])
	assert.Empty(t, f.gw.Orders())
}

func TestMaxOpenPositions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.SetPosition(21, 1000)
	f.gw.SetPosition(31, 1000)
	f.gw.SetPosition(4, -1000)
	f.src.sigs = []signal.TradingSignal{
		f.entry("new", "USDJPY", 22, market.Buy, 0.5, false),
		f.entry("existing", "EURUSD", 21, market.Buy, 0.5, false),
	}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonMaxOpenPositions])
	assert.Equal(t, 1, sum.Submitted)
	assert.Equal(t, journal.StatusSkipped, f.execution(t, "new").Status)
	assert.Equal(t, journal.StatusFilled, f.execution(t, "existing").Status)
}

func TestCloseSignal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.gw.SetPosition(22, -15000)
	require.NoError(t, f.store.SetBaseline(ctx, "USDJPY", market.Sell, 20000))
	f.src.sigs = []signal.TradingSignal{
		f.close("c1", "USDJPY", 22),
		f.close("c2", "EURUSD", 21),
	}

	sum, err := f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Submitted)
	assert.Equal(t, 1, sum.SkipReasons[ReasonNoPosition])

	orders := f.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, market.Buy, orders[0].Direction)
	assert.Equal(t, int64(15000), orders[0].Units)

	_, ok, err := f.store.GetBaseline(ctx, "USDJPY", market.Sell)
	require.NoError(t, err)
	assert.False(t, ok)

	units, _ := f.gw.GetOpenPositionUnits(ctx, 22)
	assert.Zero(t, units)
}

func TestStrictModeNeedsPrices(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(o *Options) {
		o.AllowMarketWithoutPrices = false
		o.AccountCurrency = "USD"
	})
	// 4000 units at 150.00 is 4000 USD notional with 0.53 USD at risk
	withPrices := f.entry("priced", "USDJPY", 22, market.Buy, 0.2, false)
	withPrices.EntryPrice = signal.Float(150.00)
	withPrices.StopPrice = signal.Float(149.98)
	f.src.sigs = []signal.TradingSignal{
		f.entry("bare", "USDJPY", 22, market.Buy, 0.5, false),
		withPrices,
	}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonMissingPrices])
	assert.Equal(t, journal.StatusSkipped, f.execution(t, "bare").Status)
	assert.Equal(t, journal.StatusFilled, f.execution(t, "priced").Status)
}

func TestPriceLimits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		entry, stop float64
		reason      string
	}{
		// 10000 units: risk 10000*0.1 = 1000 > 500
		{"risk", 1.2, 1.1, ReasonRiskTooHigh},
		// risk 20 but notional 12000 > 5000
		{"notional", 1.2, 1.198, ReasonNotionalTooHigh},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			sig := f.entry("h1", "EURUSD", 21, market.Buy, 0.5, false)
			sig.EntryPrice = signal.Float(tt.entry)
			sig.StopPrice = signal.Float(tt.stop)
			f.src.sigs = []signal.TradingSignal{sig}

			sum, err := f.eng.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, sum.SkipReasons[tt.reason])
			assert.Empty(t, f.gw.Orders())
		})
	}
}

func TestValidationSkips(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*signal.TradingSignal)
		opts   func(*Options)
		reason string
	}{
		{"missing uic", func(s *signal.TradingSignal) { s.UIC = 0 }, nil, ReasonMissingFields},
		{"missing timestamp", func(s *signal.TradingSignal) { s.SignalAt = time.Time{} }, nil, ReasonMissingFields},
		{"unknown action", func(s *signal.TradingSignal) { s.Action = "CANCEL" }, nil, ReasonUnsupportedAction},
		{"cfd", func(s *signal.TradingSignal) { s.AssetType = "CfdOnIndex" }, nil, ReasonUnsupportedAsset},
		{"unmapped instrument", func(s *signal.TradingSignal) { s.Instrument = "USDCHF" }, nil, ReasonUnknownInstrument},
		{"uic mismatch", func(s *signal.TradingSignal) { s.UIC = 99 }, nil, ReasonUICMismatch},
		{"stale", func(s *signal.TradingSignal) { s.SignalAt = s.SignalAt.Add(-171 * time.Second) }, nil, ReasonStale},
		{"pair not allowed", nil, func(o *Options) { o.AllowedPairs = []string{"EURUSD"} }, ReasonPairNotAllowed},
		{"missing direction", func(s *signal.TradingSignal) { s.Direction = "" }, nil, ReasonMissingDirection},
		{"missing ratio", func(s *signal.TradingSignal) { s.LotRatio = nil }, nil, ReasonMissingLotRatio},
		{"negative ratio", func(s *signal.TradingSignal) { s.LotRatio = signal.Float(-1) }, nil, ReasonInvalidLotRatio},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.opts)
			sig := f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)
			if tt.mutate != nil {
				tt.mutate(&sig)
			}
			f.src.sigs = []signal.TradingSignal{sig}

			sum, err := f.eng.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, sum.Skipped)
			assert.Equal(t, 1, sum.SkipReasons[tt.reason], "%v", sum.SkipReasons)
			assert.Empty(t, f.gw.Orders())
			assert.Equal(t, journal.StatusSkipped, f.execution(t, "h1").Status)
		})
	}
}

func TestFreshSignalAtLimitPasses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	sig := f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)
	sig.SignalAt = f.clk.t.Add(-180 * time.Second)
	f.src.sigs = []signal.TradingSignal{sig}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Submitted)
}

func TestLotRatioClampedToMax(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(o *Options) { o.MaxLotRatio = 0.5 })
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.9, false)}

	_, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	orders := f.gw.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, int64(10000), orders[0].Units)
}

func TestDryRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.DryRun = true })
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := f.eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.True(t, sum.DryRun)

	e := f.execution(t, "h1")
	assert.Equal(t, journal.StatusDryRun, e.Status)
	assert.True(t, strings.HasPrefix(e.OrderID, "dryrun-"))

	units, _ := f.gw.GetOpenPositionUnits(ctx, 22)
	assert.Zero(t, units)
}

func TestPrecheckUnsupported(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.NoPrecheck = true
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonPrecheckUnsupported])
}

func TestSizingUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.MarginFunc = func(int, market.Direction, int64) (float64, error) {
		return 0, errors.New("503")
	}
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.SkipReasons[ReasonSizingUnavailable])

	_, ok, err := f.store.GetBaseline(context.Background(), "USDJPY", market.Buy)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCycleInProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)

	ok, err := f.store.AcquireLease(ctx, sim.Name, "someone-else", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.eng.RunCycle(ctx)
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.False(t, IsHalt(err))

	require.NoError(t, f.store.ReleaseLease(ctx, sim.Name, "someone-else"))
	_, err = f.eng.RunCycle(ctx)
	assert.NoError(t, err)
}

func TestEstablishBaseline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(o *Options) { o.MaxTotalUnits = 500000 })
	f.gw.MarginFunc = func(_ int, _ market.Direction, units int64) (float64, error) {
		return float64(units) * 2, nil
	}

	units, err := f.eng.EstablishBaseline(ctx, "usd/jpy", market.Sell)
	require.NoError(t, err)
	assert.Equal(t, int64(25000), units)

	stored, ok, err := f.store.GetBaseline(ctx, "USDJPY", market.Sell)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, units, stored)

	_, err = f.eng.EstablishBaseline(ctx, "USDCHF", market.Buy)
	assert.Error(t, err)
}

func TestHaltError(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	err := fmtWrap(halt(HaltDailyDrawdown, base))
	assert.True(t, IsHalt(err))
	assert.Equal(t, HaltDailyDrawdown, HaltReason(err))
	assert.ErrorIs(t, err, base)
	assert.False(t, IsHalt(base))
	assert.Empty(t, HaltReason(base))
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("cycle"), err)
}

func TestSizingErrorsTripMarginBreaker(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.gw.MarginFunc = func(int, market.Direction, int64) (float64, error) {
		return 0, broker.ErrUnavailable
	}
	for _, h := range []string{"h1", "h2", "h3", "h4", "h5"} {
		f.src.sigs = append(f.src.sigs, f.entry(h, "USDJPY", 22, market.Buy, 0.5, false))
	}

	sum, err := f.eng.RunCycle(context.Background())
	require.Error(t, err)
	assert.Equal(t, HaltMarginAPIErrors, HaltReason(err))
	assert.Equal(t, 3, sum.SkipReasons[ReasonSizingUnavailable])
	assert.Equal(t, 3, f.gw.Prechecks())
	assert.Equal(t, journal.StatusSkipped, f.execution(t, "h3").Status)

	_, ok, err := f.store.GetExecution(context.Background(), "h4", sim.Name)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNonMonotonicSizingDoesNotTripBreaker(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(o *Options) { o.Policy.MonotonicCheck = true })
	f.gw.MarginFunc = func(_ int, _ market.Direction, units int64) (float64, error) {
		if units == 20000 {
			return 60000, nil
		}
		return 70000, nil
	}
	for _, h := range []string{"h1", "h2", "h3", "h4"} {
		f.src.sigs = append(f.src.sigs, f.entry(h, "USDJPY", 22, market.Buy, 0.5, false))
	}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, sum.SkipReasons[ReasonSizingUnavailable])
}

func TestUnitsRoundHalfToEven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		baseline int64
		want     int64
	}{
		{5, 2}, // 2.5
		{7, 4}, // 3.5
		{3, 2}, // 1.5
		{9, 4}, // 4.5
	}

	for _, tt := range tests {
		f := newFixture(t, func(o *Options) { o.MaxTotalUnits = tt.baseline })
		f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

		_, err := f.eng.RunCycle(context.Background())
		require.NoError(t, err)
		orders := f.gw.Orders()
		require.Len(t, orders, 1)
		assert.Equal(t, tt.want, orders[0].Units, "baseline %d", tt.baseline)
	}
}

func TestLivePriceGuard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		price    float64
		spread   float64
		noQuote  bool
		reason   string
		requests int
	}{
		{"tight quote", 150.00, 1, false, "", 1},
		{"spread too wide", 150.00, 10, false, ReasonSpreadTooWide, 3},
		{"mid too far from entry", 150.10, 1, false, ReasonPriceOutOfRange, 3},
		{"no quote", 0, 0, true, ReasonPriceUnavailable, 3},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, func(o *Options) { o.AccountCurrency = "USD" })
			f.gw.LivePrices = true
			f.gw.SpreadPips = tt.spread
			if !tt.noQuote {
				f.gw.SetPrice(22, "USDJPY", tt.price)
			}
			sig := f.entry("h1", "USDJPY", 22, market.Buy, 0.2, false)
			sig.EntryPrice = signal.Float(150.00)
			sig.StopPrice = signal.Float(149.98)
			f.src.sigs = []signal.TradingSignal{sig}

			sum, err := f.eng.RunCycle(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.requests, f.gw.PriceRequests())
			if tt.reason == "" {
				assert.Equal(t, 1, sum.Submitted)
				assert.Equal(t, journal.StatusFilled, f.execution(t, "h1").Status)
				return
			}
			assert.Equal(t, 1, sum.SkipReasons[tt.reason], "%v", sum.SkipReasons)
			assert.Empty(t, f.gw.Orders())
			assert.True(t, strings.HasPrefix(f.execution(t, "h1").Error, tt.reason))
		})
	}
}

func TestLivePriceRetriesThenPasses(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(o *Options) { o.AccountCurrency = "USD" })
	calls := 0
	f.gw.PriceFunc = func(int) (broker.Quote, error) {
		calls++
		if calls == 1 {
			return broker.Quote{}, broker.ErrUnavailable
		}
		return broker.Quote{Bid: 149.995, Ask: 150.005}, nil
	}
	sig := f.entry("h1", "USDJPY", 22, market.Buy, 0.2, false)
	sig.EntryPrice = signal.Float(150.00)
	sig.StopPrice = signal.Float(149.98)
	f.src.sigs = []signal.TradingSignal{sig}

	sum, err := f.eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Submitted)
	assert.Equal(t, 2, calls)
}

// deadlineStore records store calls that arrive without a deadline.
type deadlineStore struct {
	Store
	calls   int
	missing []string
}

func (d *deadlineStore) note(ctx context.Context, name string) {
	d.calls++
	if _, ok := ctx.Deadline(); !ok {
		d.missing = append(d.missing, name)
	}
}

func (d *deadlineStore) WasExecuted(ctx context.Context, hash, broker string) (bool, error) {
	d.note(ctx, "WasExecuted")
	return d.Store.WasExecuted(ctx, hash, broker)
}

func (d *deadlineStore) RecordOutcome(ctx context.Context, hash, broker string, o journal.Outcome) error {
	d.note(ctx, "RecordOutcome")
	return d.Store.RecordOutcome(ctx, hash, broker, o)
}

func (d *deadlineStore) GetDailyEquity(ctx context.Context, date string) (float64, bool, error) {
	d.note(ctx, "GetDailyEquity")
	return d.Store.GetDailyEquity(ctx, date)
}

func (d *deadlineStore) SetDailyEquity(ctx context.Context, date string, equity float64) error {
	d.note(ctx, "SetDailyEquity")
	return d.Store.SetDailyEquity(ctx, date, equity)
}

func (d *deadlineStore) RecentOutcomes(ctx context.Context, broker string, n int) ([]journal.Execution, error) {
	d.note(ctx, "RecentOutcomes")
	return d.Store.RecentOutcomes(ctx, broker, n)
}

func (d *deadlineStore) SetBaseline(ctx context.Context, instrument string, dir market.Direction, units int64) error {
	d.note(ctx, "SetBaseline")
	return d.Store.SetBaseline(ctx, instrument, dir, units)
}

func (d *deadlineStore) ReleaseLease(ctx context.Context, broker, owner string) error {
	d.note(ctx, "ReleaseLease")
	return d.Store.ReleaseLease(ctx, broker, owner)
}

func TestStoreCallsHaveDeadline(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	ds := &deadlineStore{Store: f.store}
	eng := New(f.gw, ds, f.src, f.eng.Options(), WithClock(f.clk.now))
	f.src.sigs = []signal.TradingSignal{f.entry("h1", "USDJPY", 22, market.Buy, 0.5, false)}

	sum, err := eng.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Submitted)
	assert.GreaterOrEqual(t, ds.calls, 6)
	assert.Empty(t, ds.missing)
}
