package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/risk"
)

// findBaseline runs the sizing search for uic/dir against equity.
func (e *Engine) findBaseline(ctx context.Context, uic int, dir market.Direction, equity float64) (int64, bool, error) {
	margin := func(ctx context.Context, units int64) (float64, error) {
		return e.precheck(ctx, uic, dir, units)
	}
	return risk.FindMaxUnits(ctx, equity, e.opts.MaxTotalUnits, margin, risk.SizingOptions{
		MonotonicCheck: e.opts.Policy.MonotonicCheck,
	})
}

// EstablishBaseline sizes and stores the baseline for instrument/dir from
// live equity, outside of a cycle. It is the operator's manual reset.
func (e *Engine) EstablishBaseline(ctx context.Context, instrument string, dir market.Direction) (int64, error) {
	instrument = market.Normalize(instrument)
	if !dir.Valid() {
		return 0, fmt.Errorf("invalid direction %q", dir)
	}
	uic, ok := e.opts.UICMap[instrument]
	if !ok {
		return 0, fmt.Errorf("no uic mapped for %s", instrument)
	}
	if !e.gw.Capabilities().MarginPrecheck {
		return 0, errors.New(ReasonPrecheckUnsupported)
	}

	equity, err := call(ctx, e.opts.CallTimeout, e.gw.GetEquity)
	if err != nil {
		return 0, fmt.Errorf("equity: %w", err)
	}

	units, ok, err := e.findBaseline(ctx, uic, dir, equity)
	if !ok {
		if err != nil {
			return 0, fmt.Errorf("%s: %w", ReasonSizingUnavailable, err)
		}
		return 0, errors.New(ReasonSizingUnavailable)
	}
	if err := e.store.SetBaseline(ctx, instrument, dir, units); err != nil {
		return 0, err
	}
	return units, nil
}
