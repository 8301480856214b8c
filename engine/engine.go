// Package engine runs execution cycles: it gates the whole cycle on the
// account's state, then takes every pending signal through the guard
// pipeline and submits the orders that pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/internal/metrics"
	"github.com/rustyeddy/fxexec/journal"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/pkg/id"
	"github.com/rustyeddy/fxexec/risk"
	"github.com/rustyeddy/fxexec/signal"
)

// Store is the persisted state the engine owns. journal.SQLite implements it.
type Store interface {
	WasExecuted(ctx context.Context, hash, broker string) (bool, error)
	WasExecutedRecently(ctx context.Context, hash, broker string, window time.Duration) (bool, error)
	RecordOutcome(ctx context.Context, hash, broker string, o journal.Outcome) error
	RecentOutcomes(ctx context.Context, broker string, n int) ([]journal.Execution, error)

	GetBaseline(ctx context.Context, instrument string, dir market.Direction) (int64, bool, error)
	SetBaseline(ctx context.Context, instrument string, dir market.Direction, units int64) error
	ClearBaseline(ctx context.Context, instrument string, dir market.Direction) error

	GetDailyEquity(ctx context.Context, date string) (float64, bool, error)
	SetDailyEquity(ctx context.Context, date string, equity float64) error

	AppendAudit(ctx context.Context, e journal.AuditEntry) error

	AcquireLease(ctx context.Context, broker, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, broker, owner string) error
}

var _ Store = (*journal.SQLite)(nil)

type Engine struct {
	opts    Options
	gw      broker.Gateway
	store   Store
	source  signal.Source
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// running makes cycles single-flight within the process; the lease
	// row covers other processes.
	running sync.Mutex
}

func New(gw broker.Gateway, store Store, source signal.Source, opts Options, options ...Option) *Engine {
	e := &Engine{
		opts:   opts,
		gw:     gw,
		store:  store,
		source: source,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range options {
		o(e)
	}
	if e.opts.CallTimeout <= 0 {
		e.opts.CallTimeout = 10 * time.Second
	}
	if e.opts.LeaseTTL <= 0 {
		e.opts.LeaseTTL = 5 * time.Minute
	}
	if e.opts.SignalLimit <= 0 {
		e.opts.SignalLimit = 500
	}
	e.opts.UICMap = normalizeUICMap(e.opts.UICMap)
	e.store = timeoutStore{s: e.store, d: e.opts.CallTimeout}
	return e
}

func (e *Engine) Options() Options { return e.opts }

// RunCycle runs one execution cycle. A *HaltError means the cycle was
// abandoned on a hard stop; the returned Summary still reports what was
// done before it.
func (e *Engine) RunCycle(ctx context.Context) (Summary, error) {
	start := e.now()

	if !e.running.TryLock() {
		e.metrics.Cycle("busy", 0)
		return Summary{Broker: e.gw.Name()}, ErrCycleInProgress
	}
	defer e.running.Unlock()

	owner := id.New()
	ok, err := e.store.AcquireLease(ctx, e.gw.Name(), owner, e.opts.LeaseTTL)
	if err != nil {
		return Summary{Broker: e.gw.Name()}, fmt.Errorf("acquire cycle lease: %w", err)
	}
	if !ok {
		e.metrics.Cycle("busy", 0)
		return Summary{Broker: e.gw.Name()}, ErrCycleInProgress
	}
	defer func() {
		// released on a fresh context so a cancelled cycle still frees the lease
		if err := e.store.ReleaseLease(context.Background(), e.gw.Name(), owner); err != nil {
			e.log.Warn("release cycle lease", zap.Error(err))
		}
	}()

	st := newCycleState(e.gw.Name(), e.opts.DryRun)
	err = e.runCycle(ctx, st)

	result := "ok"
	switch {
	case IsHalt(err):
		result = "halt"
		st.summary.Halted = HaltReason(err)
		e.metrics.Halt(st.summary.Halted)
		e.log.Error("cycle halted", zap.String("reason", st.summary.Halted), zap.Error(err))
		e.audit(ctx, journal.AuditEntry{Action: "halt", Reason: err.Error()})
	case err != nil:
		result = "error"
		e.log.Warn("cycle failed", zap.Error(err))
	default:
		e.log.Info("cycle complete",
			zap.Int("processed", st.summary.Processed),
			zap.Int("submitted", st.summary.Submitted),
			zap.Int("failed", st.summary.Failed),
			zap.Int("skipped", st.summary.Skipped),
			zap.Int("duplicates", st.summary.Duplicates))
	}
	e.metrics.Cycle(result, e.now().Sub(start).Seconds())

	return *st.summary, err
}

func (e *Engine) runCycle(ctx context.Context, st *cycleState) error {
	if err := e.checkCycleGuards(ctx, st); err != nil {
		return err
	}

	pos, err := call(ctx, e.opts.CallTimeout, e.gw.RefreshPositions)
	if err != nil {
		// positions are looked up per instrument as signals need them
		e.log.Warn("position snapshot unavailable", zap.Error(err))
	} else {
		for uic, u := range pos {
			st.setPosition(uic, u)
		}
	}

	sigs, err := e.listPending(ctx)
	if err != nil {
		return fmt.Errorf("list signals: %w", err)
	}
	e.log.Debug("pending signals", zap.Int("count", len(sigs)))

	for _, sig := range sigs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.processSignal(ctx, st, sig); err != nil {
			return err
		}
	}
	return nil
}

// checkCycleGuards runs the checks that gate the whole cycle, in order:
// environment, equity, daily drawdown, consecutive ledger failures.
func (e *Engine) checkCycleGuards(ctx context.Context, st *cycleState) error {
	if !e.opts.Simulation || !e.opts.BotEnabled {
		return halt(HaltEnvironment, fmt.Errorf("simulation=%t bot_enabled=%t", e.opts.Simulation, e.opts.BotEnabled))
	}

	equity, err := call(ctx, e.opts.CallTimeout, e.gw.GetEquity)
	if err != nil {
		return halt(HaltEquityUnavailable, err)
	}
	st.equity = equity
	st.summary.Equity = equity

	date := journal.DateKey(e.now())
	base, ok, err := e.store.GetDailyEquity(ctx, date)
	if err != nil {
		return halt(HaltStorage, err)
	}
	if !ok {
		if err := e.store.SetDailyEquity(ctx, date, equity); err != nil {
			return halt(HaltStorage, err)
		}
		base = equity
		e.log.Info("daily equity baseline set", zap.String("date", date), zap.Float64("equity", equity))
	}

	dd := risk.CheckDrawdown(e.opts.Policy, base, equity)
	ddRatio, _ := risk.Drawdown(base, equity).Float64()
	e.metrics.Equity(equity, ddRatio)
	if !dd.Allowed {
		return halt(HaltDailyDrawdown, errors.New(dd.Reason()))
	}

	n := e.opts.Policy.ConsecutiveFailureLimit
	if n > 0 {
		recent, err := e.store.RecentOutcomes(ctx, e.gw.Name(), n)
		if err != nil {
			return halt(HaltStorage, err)
		}
		if len(recent) == n && allFailed(recent) {
			return halt(HaltConsecutiveFailure, fmt.Errorf("last %d executions failed", n))
		}
	}
	return nil
}

func allFailed(rows []journal.Execution) bool {
	for _, r := range rows {
		if r.Status != journal.StatusFailed {
			return false
		}
	}
	return true
}

func (e *Engine) listPending(ctx context.Context) ([]signal.TradingSignal, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	return e.source.ListPending(ctx, e.opts.SignalLimit)
}

// audit appends to the audit log. Failures are logged and otherwise ignored.
func (e *Engine) audit(ctx context.Context, a journal.AuditEntry) {
	a.Broker = e.gw.Name()
	a.DryRun = e.opts.DryRun
	if a.Time.IsZero() {
		a.Time = e.now()
	}
	if err := e.store.AppendAudit(context.WithoutCancel(ctx), a); err != nil {
		e.log.Warn("append audit", zap.Error(err))
	}
}
