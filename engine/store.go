package engine

import (
	"context"
	"time"

	"github.com/rustyeddy/fxexec/journal"
	"github.com/rustyeddy/fxexec/market"
)

// timeoutStore bounds every Store call by d.
type timeoutStore struct {
	s Store
	d time.Duration
}

var _ Store = timeoutStore{}

// call runs fn under a timeout of d.
func call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func (t timeoutStore) run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return fn(ctx)
}

func (t timeoutStore) WasExecuted(ctx context.Context, hash, broker string) (bool, error) {
	return call(ctx, t.d, func(ctx context.Context) (bool, error) {
		return t.s.WasExecuted(ctx, hash, broker)
	})
}

func (t timeoutStore) WasExecutedRecently(ctx context.Context, hash, broker string, window time.Duration) (bool, error) {
	return call(ctx, t.d, func(ctx context.Context) (bool, error) {
		return t.s.WasExecutedRecently(ctx, hash, broker, window)
	})
}

func (t timeoutStore) RecordOutcome(ctx context.Context, hash, broker string, o journal.Outcome) error {
	return t.run(ctx, func(ctx context.Context) error {
		return t.s.RecordOutcome(ctx, hash, broker, o)
	})
}

func (t timeoutStore) RecentOutcomes(ctx context.Context, broker string, n int) ([]journal.Execution, error) {
	return call(ctx, t.d, func(ctx context.Context) ([]journal.Execution, error) {
		return t.s.RecentOutcomes(ctx, broker, n)
	})
}

func (t timeoutStore) GetBaseline(ctx context.Context, instrument string, dir market.Direction) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.GetBaseline(ctx, instrument, dir)
}

func (t timeoutStore) SetBaseline(ctx context.Context, instrument string, dir market.Direction, units int64) error {
	return t.run(ctx, func(ctx context.Context) error {
		return t.s.SetBaseline(ctx, instrument, dir, units)
	})
}

func (t timeoutStore) ClearBaseline(ctx context.Context, instrument string, dir market.Direction) error {
	return t.run(ctx, func(ctx context.Context) error {
		return t.s.ClearBaseline(ctx, instrument, dir)
	})
}

func (t timeoutStore) GetDailyEquity(ctx context.Context, date string) (float64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.GetDailyEquity(ctx, date)
}

func (t timeoutStore) SetDailyEquity(ctx context.Context, date string, equity float64) error {
	return t.run(ctx, func(ctx context.Context) error {
		return t.s.SetDailyEquity(ctx, date, equity)
	})
}

func (t timeoutStore) AppendAudit(ctx context.Context, a journal.AuditEntry) error {
	return t.run(ctx, func(ctx context.Context) error {
		return t.s.AppendAudit(ctx, a)
	})
}

func (t timeoutStore) AcquireLease(ctx context.Context, broker, owner string, ttl time.Duration) (bool, error) {
	return call(ctx, t.d, func(ctx context.Context) (bool, error) {
		return t.s.AcquireLease(ctx, broker, owner, ttl)
	})
}

func (t timeoutStore) ReleaseLease(ctx context.Context, broker, owner string) error {
	return t.run(ctx, func(ctx context.Context) error {
		return t.s.ReleaseLease(ctx, broker, owner)
	})
}
