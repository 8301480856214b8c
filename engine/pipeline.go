package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/journal"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/risk"
	"github.com/rustyeddy/fxexec/signal"
)

// Skip reasons. The ledger row carries the reason plus detail; the summary
// tallies by reason alone.
const (
	ReasonMissingFields       = "missing required fields"
	ReasonUnsupportedAction   = "unsupported action"
	ReasonUnsupportedAsset    = "unsupported asset type"
	ReasonUnknownInstrument   = "instrument not allowed"
	ReasonUICMismatch         = "uic mismatch"
	ReasonStale               = "stale signal"
	ReasonPairNotAllowed      = "pair not allowed"
	ReasonMissingDirection    = "missing direction"
	ReasonMissingLotRatio     = "missing lot ratio"
	ReasonInvalidLotRatio     = "invalid lot ratio"
	ReasonNoPosition          = "no position"
	ReasonPositionUnavailable = "position unavailable"
	ReasonMissingBaseline     = "missing baseline"
	ReasonSizingUnavailable   = "sizing unavailable"
	ReasonZeroUnits           = "zero units"
	ReasonMaxOpenPositions    = "max open positions"
	ReasonConflictPosition    = "conflict position"
	ReasonMissingPrices       = "missing prices"
	ReasonConversion          = "conversion unavailable"
	ReasonRiskTooHigh         = "risk too high"
	ReasonNotionalTooHigh     = "notional too high"
	ReasonPrecheckUnsupported = "margin precheck unsupported"
	ReasonMarginUnavailable   = "margin unavailable"
	ReasonMarginTooHigh       = "margin too high"
	ReasonPriceUnavailable    = "price unavailable"
	ReasonSpreadTooWide       = "spread too wide"
	ReasonPriceOutOfRange     = "price out of range"
)

// skip is a guard failure for one signal.
type skip struct {
	reason string
	detail string
}

func (s *skip) message() string {
	if s.detail == "" {
		return s.reason
	}
	return s.reason + ": " + s.detail
}

func skipf(reason, format string, args ...any) *skip {
	return &skip{reason: reason, detail: fmt.Sprintf(format, args...)}
}

// processSignal takes one signal through the pipeline. It returns an error
// only for conditions that end the cycle.
func (e *Engine) processSignal(ctx context.Context, st *cycleState, sig signal.TradingSignal) error {
	log := e.log.With(zap.String("segment_hash", sig.SegmentHash), zap.String("instrument", sig.Instrument))
	name := e.gw.Name()

	done, err := e.store.WasExecuted(ctx, sig.SegmentHash, name)
	if err != nil {
		return halt(HaltStorage, err)
	}
	if done {
		st.summary.Duplicates++
		return nil
	}
	if e.opts.RecentWindow > 0 {
		recent, err := e.store.WasExecutedRecently(ctx, sig.SegmentHash, name, e.opts.RecentWindow)
		if err != nil {
			return halt(HaltStorage, err)
		}
		if recent {
			st.summary.Duplicates++
			return nil
		}
	}

	st.summary.Processed++

	if s := e.validate(sig); s != nil {
		return e.recordSkip(ctx, st, sig, s, log)
	}

	if sig.Action.IsClose() {
		return e.processClose(ctx, st, sig, log)
	}
	return e.processEntry(ctx, st, sig, log)
}

// validate runs the field, allow-list and freshness guards.
func (e *Engine) validate(sig signal.TradingSignal) *skip {
	var missing []string
	if sig.Action == "" {
		missing = append(missing, "action")
	}
	if sig.Instrument == "" {
		missing = append(missing, "instrument")
	}
	if sig.UIC == 0 {
		missing = append(missing, "uic")
	}
	if sig.AssetType == "" {
		missing = append(missing, "asset_type")
	}
	if sig.SignalAt.IsZero() {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return &skip{reason: ReasonMissingFields, detail: strings.Join(missing, ",")}
	}

	if !sig.Action.Valid() {
		return &skip{reason: ReasonUnsupportedAction, detail: string(sig.Action)}
	}
	if sig.AssetType != signal.AssetFxSpot {
		return &skip{reason: ReasonUnsupportedAsset, detail: sig.AssetType}
	}

	instrument := market.Normalize(sig.Instrument)
	want, ok := e.opts.UICMap[instrument]
	if _, known := market.Lookup(instrument); !known || !ok {
		return &skip{reason: ReasonUnknownInstrument, detail: instrument}
	}
	if want != sig.UIC {
		return skipf(ReasonUICMismatch, "%s uic %d, configured %d", instrument, sig.UIC, want)
	}

	if age := sig.Age(e.now()); age > e.opts.Freshness {
		return skipf(ReasonStale, "age %s > %s", age.Round(time.Second), e.opts.Freshness)
	}

	if !e.pairAllowed(instrument) {
		return &skip{reason: ReasonPairNotAllowed, detail: instrument}
	}

	if sig.Action == signal.Entry {
		if !sig.Direction.Valid() {
			return &skip{reason: ReasonMissingDirection}
		}
		if sig.LotRatio == nil {
			return &skip{reason: ReasonMissingLotRatio}
		}
		if *sig.LotRatio <= 0 || math.IsNaN(*sig.LotRatio) {
			return skipf(ReasonInvalidLotRatio, "%g", *sig.LotRatio)
		}
	}
	return nil
}

func (e *Engine) pairAllowed(instrument string) bool {
	if len(e.opts.AllowedPairs) == 0 {
		return true
	}
	for _, p := range e.opts.AllowedPairs {
		if market.Normalize(p) == instrument {
			return true
		}
	}
	return false
}

func (e *Engine) processClose(ctx context.Context, st *cycleState, sig signal.TradingSignal, log *zap.Logger) error {
	existing, err := e.positionUnits(ctx, st, sig.UIC)
	if err != nil {
		return e.recordSkip(ctx, st, sig, &skip{reason: ReasonPositionUnavailable, detail: err.Error()}, log)
	}
	held, ok := market.DirectionOf(existing)
	if !ok {
		return e.recordSkip(ctx, st, sig, &skip{reason: ReasonNoPosition}, log)
	}

	req := broker.OrderRequest{
		UIC:        sig.UIC,
		Instrument: market.Normalize(sig.Instrument),
		Direction:  held.Opposite(),
		Units:      abs(existing),
	}
	filled, err := e.submit(ctx, st, sig, req, log)
	if err != nil || !filled {
		return err
	}

	if !e.opts.DryRun {
		st.setPosition(sig.UIC, 0)
		if err := e.store.ClearBaseline(ctx, req.Instrument, ""); err != nil {
			return halt(HaltStorage, err)
		}
		log.Info("baseline cleared after close")
	}
	return nil
}

func (e *Engine) processEntry(ctx context.Context, st *cycleState, sig signal.TradingSignal, log *zap.Logger) error {
	instrument := market.Normalize(sig.Instrument)
	dir := sig.Direction

	// baseline: stored for add-ons, sized by the margin search otherwise
	var baseline int64
	if sig.IsAdd {
		b, ok, err := e.store.GetBaseline(ctx, instrument, dir)
		if err != nil {
			return halt(HaltStorage, err)
		}
		if !ok {
			return e.recordSkip(ctx, st, sig, &skip{reason: ReasonMissingBaseline, detail: instrument + " " + string(dir)}, log)
		}
		baseline = b
	} else {
		if !e.gw.Capabilities().MarginPrecheck {
			return e.recordSkip(ctx, st, sig, &skip{reason: ReasonPrecheckUnsupported}, log)
		}
		b, ok, err := e.findBaseline(ctx, sig.UIC, dir, st.equity)
		// a broker that stops answering prechecks mid-search counts towards
		// the margin API breaker; a non-monotonic answer does not
		apiErr := errors.Is(err, broker.ErrUnavailable) && !errors.Is(err, risk.ErrNonMonotonic)
		if !ok {
			s := &skip{reason: ReasonSizingUnavailable}
			if err != nil {
				s.detail = err.Error()
			}
			if serr := e.recordSkip(ctx, st, sig, s, log); serr != nil || !apiErr {
				return serr
			}
			return e.marginAPIError(st, err)
		}
		if err != nil {
			log.Warn("sizing search ended early", zap.Int64("baseline", b), zap.Error(err))
			if apiErr {
				if herr := e.marginAPIError(st, err); herr != nil {
					return herr
				}
			}
		}
		if err := e.store.SetBaseline(ctx, instrument, dir, b); err != nil {
			return halt(HaltStorage, err)
		}
		log.Info("baseline established", zap.Int64("units", b), zap.String("direction", string(dir)))
		baseline = b
	}

	ratio := math.Min(*sig.LotRatio, e.opts.MaxLotRatio)
	units := int64(math.RoundToEven(float64(baseline) * ratio))
	if units <= 0 {
		return e.recordSkip(ctx, st, sig, skipf(ReasonZeroUnits, "baseline %d ratio %g", baseline, ratio), log)
	}

	// exposure
	existing, err := e.positionUnits(ctx, st, sig.UIC)
	if err != nil {
		return e.recordSkip(ctx, st, sig, &skip{reason: ReasonPositionUnavailable, detail: err.Error()}, log)
	}
	if d := risk.CheckOpenPositions(e.opts.Policy, st.openCount(), existing != 0); !d.Allowed {
		return e.recordSkip(ctx, st, sig, &skip{reason: ReasonMaxOpenPositions, detail: d.Reason()}, log)
	}
	if held, ok := market.DirectionOf(existing); ok && held != dir {
		return e.recordSkip(ctx, st, sig, skipf(ReasonConflictPosition, "holding %d", existing), log)
	}

	// price based limits
	if !sig.HasRiskPrices() {
		if e.opts.StrictMode && !e.opts.AllowMarketWithoutPrices {
			return e.recordSkip(ctx, st, sig, &skip{reason: ReasonMissingPrices}, log)
		}
		log.Debug("no entry/stop prices, risk checks skipped")
	} else {
		rate, err := market.QuoteToAccountRate(instrument, e.opts.AccountCurrency, *sig.EntryPrice)
		if err != nil {
			return e.recordSkip(ctx, st, sig, &skip{reason: ReasonConversion, detail: err.Error()}, log)
		}
		d := risk.Evaluate(e.opts.Policy, risk.TradeIntent{
			Instrument: instrument,
			Units:      units,
			Entry:      *sig.EntryPrice,
			Stop:       *sig.StopPrice,
		}, st.equity, rate)
		if !d.Allowed {
			reason := ReasonRiskTooHigh
			if d.Violations[0].Code == risk.CodeNotionalTooHigh {
				reason = ReasonNotionalTooHigh
			}
			return e.recordSkip(ctx, st, sig, &skip{reason: reason, detail: d.Reason()}, log)
		}
	}

	if sig.EntryPrice != nil && e.gw.Capabilities().Prices {
		s, err := e.checkLivePrice(ctx, sig.UIC, instrument, *sig.EntryPrice, log)
		if err != nil {
			return err
		}
		if s != nil {
			return e.recordSkip(ctx, st, sig, s, log)
		}
	}

	// margin
	if !e.gw.Capabilities().MarginPrecheck {
		return e.recordSkip(ctx, st, sig, &skip{reason: ReasonPrecheckUnsupported}, log)
	}
	margin, err := e.precheck(ctx, sig.UIC, dir, units)
	if err != nil {
		if serr := e.recordSkip(ctx, st, sig, &skip{reason: ReasonMarginUnavailable, detail: err.Error()}, log); serr != nil {
			return serr
		}
		return e.marginAPIError(st, err)
	}
	st.apiErrors = 0
	if d := risk.CheckMargin(e.opts.Policy, margin, st.equity); !d.Allowed {
		return e.recordSkip(ctx, st, sig, &skip{reason: ReasonMarginTooHigh, detail: d.Reason()}, log)
	}

	req := broker.OrderRequest{
		UIC:        sig.UIC,
		Instrument: instrument,
		Direction:  dir,
		Units:      units,
		StopLoss:   sig.StopPrice,
		TakeProfit: sig.TakePrice,
	}
	filled, err := e.submit(ctx, st, sig, req, log)
	if err != nil || !filled {
		return err
	}
	if !e.opts.DryRun {
		st.setPosition(sig.UIC, existing+dir.Sign()*units)
	}
	return nil
}

// submit places the order and records the outcome. It reports whether the
// broker accepted it; the error is a halt.
func (e *Engine) submit(ctx context.Context, st *cycleState, sig signal.TradingSignal, req broker.OrderRequest, log *zap.Logger) (bool, error) {
	req.IdempotencyKey = broker.IdempotencyKey(sig.SegmentHash, e.gw.Name())
	req.DryRun = e.opts.DryRun

	octx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	res, err := e.gw.PlaceMarketOrder(octx, req)
	cancel()

	payload := res.Payload
	if len(payload) == 0 {
		payload, _ = json.Marshal(req)
	}

	if err != nil || !res.OK {
		msg := res.Error
		if err != nil {
			msg = err.Error()
		}
		if msg == "" {
			msg = "order rejected"
		}
		st.rejections++
		st.summary.Failed++
		e.metrics.Outcome(string(journal.StatusFailed))
		st.summary.Results = append(st.summary.Results, Result{
			SegmentHash: sig.SegmentHash, Instrument: req.Instrument, Status: journal.StatusFailed,
			Reason: msg, Units: req.Units,
		})
		log.Warn("order failed", zap.String("reason", msg), zap.Int64("units", req.Units), zap.Int("rejections", st.rejections))
		e.audit(ctx, journal.AuditEntry{
			SegmentHash: sig.SegmentHash, Action: string(sig.Action), Instrument: req.Instrument,
			Direction: string(req.Direction), Units: req.Units, Reason: msg, Payload: string(payload),
		})
		if rerr := e.store.RecordOutcome(ctx, sig.SegmentHash, e.gw.Name(), journal.Outcome{
			Status: journal.StatusFailed, Error: msg, Payload: payload,
		}); rerr != nil {
			return false, halt(HaltStorage, rerr)
		}
		if st.rejections >= e.opts.Policy.RejectionLimit {
			return false, halt(HaltOrderRejections, fmt.Errorf("%d consecutive order rejections: %s", st.rejections, msg))
		}
		return false, nil
	}

	status := journal.StatusFilled
	if req.DryRun {
		status = journal.StatusDryRun
	}
	st.rejections = 0
	st.summary.Submitted++
	e.metrics.Outcome(string(status))
	st.summary.Results = append(st.summary.Results, Result{
		SegmentHash: sig.SegmentHash, Instrument: req.Instrument, Status: status,
		OrderID: res.OrderID, Units: req.Units,
	})
	log.Info("order placed",
		zap.String("order_id", res.OrderID),
		zap.String("direction", string(req.Direction)),
		zap.Int64("units", req.Units),
		zap.Bool("dry_run", req.DryRun))
	e.audit(ctx, journal.AuditEntry{
		SegmentHash: sig.SegmentHash, Action: string(sig.Action), Instrument: req.Instrument,
		Direction: string(req.Direction), Units: req.Units, OK: true, Payload: string(payload),
	})
	if err := e.store.RecordOutcome(ctx, sig.SegmentHash, e.gw.Name(), journal.Outcome{
		Status: status, OrderID: res.OrderID, Payload: payload,
	}); err != nil {
		return true, halt(HaltStorage, err)
	}
	return true, nil
}

// recordSkip writes a skipped ledger row. The error is a halt.
func (e *Engine) recordSkip(ctx context.Context, st *cycleState, sig signal.TradingSignal, s *skip, log *zap.Logger) error {
	msg := s.message()
	st.summary.Skipped++
	st.summary.SkipReasons[s.reason]++
	st.summary.Results = append(st.summary.Results, Result{
		SegmentHash: sig.SegmentHash, Instrument: sig.Instrument, Status: journal.StatusSkipped, Reason: msg,
	})
	e.metrics.Skip(s.reason)
	e.metrics.Outcome(string(journal.StatusSkipped))
	log.Info("signal skipped", zap.String("reason", msg))

	e.audit(ctx, journal.AuditEntry{
		SegmentHash: sig.SegmentHash, Action: string(sig.Action), Instrument: sig.Instrument,
		Direction: string(sig.Direction), Reason: msg,
	})
	if err := e.store.RecordOutcome(ctx, sig.SegmentHash, e.gw.Name(), journal.Outcome{
		Status: journal.StatusSkipped, Error: msg,
	}); err != nil {
		return halt(HaltStorage, err)
	}
	return nil
}

// positionUnits is the signed position for uic, from the cycle snapshot or
// fetched and cached on first use.
func (e *Engine) positionUnits(ctx context.Context, st *cycleState, uic int) (int64, error) {
	if st.fetched[uic] {
		return st.positions[uic], nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	u, err := e.gw.GetOpenPositionUnits(ctx, uic)
	if err != nil {
		return 0, err
	}
	st.setPosition(uic, u)
	return u, nil
}

func (e *Engine) precheck(ctx context.Context, uic int, dir market.Direction, units int64) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()
	m, err := e.gw.PrecheckOrder(ctx, uic, dir, units)
	if err != nil && !errors.Is(err, broker.ErrUnavailable) {
		err = fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	return m, err
}

// marginAPIError counts a failed margin precheck and returns the halt once
// APIErrorLimit is reached.
func (e *Engine) marginAPIError(st *cycleState, err error) error {
	st.apiErrors++
	if st.apiErrors >= e.opts.Policy.APIErrorLimit {
		return halt(HaltMarginAPIErrors, fmt.Errorf("%d consecutive margin precheck errors: %w", st.apiErrors, err))
	}
	return nil
}

// checkLivePrice fetches a quote and holds it against the spread and
// slippage limits, retrying up to PriceRetries times. The skip is the last
// failure seen; the error is a cancelled context.
func (e *Engine) checkLivePrice(ctx context.Context, uic int, instrument string, entry float64, log *zap.Logger) (*skip, error) {
	var last *skip
	for attempt := 0; attempt <= e.opts.PriceRetries; attempt++ {
		if attempt > 0 && e.opts.PriceRetryDelay > 0 {
			t := time.NewTimer(e.opts.PriceRetryDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		q, err := call(ctx, e.opts.CallTimeout, func(ctx context.Context) (broker.Quote, error) {
			return e.gw.GetPrice(ctx, uic)
		})
		if err != nil {
			last = &skip{reason: ReasonPriceUnavailable, detail: err.Error()}
			continue
		}
		d := risk.CheckPrice(e.opts.Policy, instrument, q.Bid, q.Ask, entry)
		if d.Allowed {
			log.Debug("live price ok", zap.Float64("mid", q.Mid()), zap.Float64("spread", q.Spread()))
			return nil, nil
		}
		reason := ReasonSpreadTooWide
		if d.Violations[0].Code == risk.CodePriceOutOfRange {
			reason = ReasonPriceOutOfRange
		}
		last = &skip{reason: reason, detail: d.Reason()}
	}
	return last, nil
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
