package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxexec/config"
	"github.com/rustyeddy/fxexec/internal/metrics"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/risk"
)

// Options are the operator settings the engine runs with.
type Options struct {
	// Both must be set or every cycle halts.
	Simulation bool
	BotEnabled bool

	DryRun bool

	// AllowedPairs narrows trading to a subset; empty allows every mapped
	// instrument.
	AllowedPairs []string

	// UICMap is the instrument to broker id mapping signals must agree with.
	UICMap map[string]int

	Freshness time.Duration

	// Under StrictMode an ENTRY without entry and stop prices is skipped
	// unless AllowMarketWithoutPrices is set.
	StrictMode               bool
	AllowMarketWithoutPrices bool

	MaxTotalUnits   int64
	MaxLotRatio     float64
	SignalLimit     int
	RecentWindow    time.Duration
	AccountCurrency string

	// CallTimeout bounds every broker and storage call.
	CallTimeout time.Duration
	LeaseTTL    time.Duration

	// A live quote is fetched up to 1+PriceRetries times, PriceRetryDelay
	// apart, before a priced ENTRY is skipped.
	PriceRetries    int
	PriceRetryDelay time.Duration

	Policy risk.Policy
}

func DefaultOptions() Options {
	return Options{
		Simulation:    true,
		Freshness:     180 * time.Second,
		StrictMode:    true,
		MaxTotalUnits: 500000,
		MaxLotRatio:   1.0,
		SignalLimit:   500,
		RecentWindow:  600 * time.Second,
		CallTimeout:   10 * time.Second,
		LeaseTTL:      5 * time.Minute,
		PriceRetries:  2,
		Policy:        risk.DefaultPolicy(),
	}
}

// OptionsFromConfig maps the loaded configuration onto engine options.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	o.Simulation = cfg.IsSimulation()
	o.BotEnabled = cfg.Engine.BotEnabled
	o.DryRun = cfg.Engine.DryRun
	o.AllowedPairs = cfg.Engine.AllowedPairs
	o.UICMap = normalizeUICMap(cfg.Broker.UICMap)
	o.Freshness = time.Duration(cfg.Engine.FreshnessSeconds) * time.Second
	o.StrictMode = cfg.Engine.StrictMode
	o.AllowMarketWithoutPrices = cfg.Engine.AllowMarketWithoutPrices
	o.MaxTotalUnits = cfg.Engine.MaxTotalUnits
	o.MaxLotRatio = cfg.Engine.MaxLotRatio
	o.SignalLimit = cfg.Engine.SignalLimit
	o.RecentWindow = cfg.Engine.RecentWindow
	o.AccountCurrency = cfg.Engine.AccountCurrency
	o.PriceRetries = cfg.Engine.PriceRetries
	o.PriceRetryDelay = cfg.Engine.PriceRetryDelay
	if cfg.Broker.Timeout > 0 {
		o.CallTimeout = cfg.Broker.Timeout
	}

	l := cfg.Limits
	o.Policy = risk.Policy{
		MaxDailyDrawdownPct:     l.MaxDailyDrawdownPct,
		ConsecutiveFailureLimit: l.ConsecutiveFailureLimit,
		RejectionLimit:          l.RejectionLimit,
		APIErrorLimit:           l.APIErrorLimit,
		MaxRiskPct:              l.MaxRiskPct,
		MaxNotionalPct:          l.MaxNotionalPct,
		MaxMarginPct:            l.MaxMarginPct,
		MaxOpenPositions:        l.MaxOpenPositions,
		MonotonicCheck:          l.MonotonicCheck,
		MaxSpreadPips:           l.MaxSpreadPips,
		MaxSlippagePips:         l.MaxSlippagePips,
	}
	return o
}

func normalizeUICMap(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[market.Normalize(k)] = v
	}
	return out
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
