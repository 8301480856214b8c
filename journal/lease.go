package journal

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the cycle lease for broker on behalf of owner. It
// returns false when another owner holds an unexpired lease.
func (j *SQLite) AcquireLease(ctx context.Context, broker, owner string, ttl time.Duration) (bool, error) {
	now := j.now()

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("journal: acquire lease: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cycle_leases WHERE broker = ? AND expires_at < ?`,
		broker, formatTime(now)); err != nil {
		return false, fmt.Errorf("journal: acquire lease: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO cycle_leases (broker, owner, expires_at) VALUES (?, ?, ?)`,
		broker, owner, formatTime(now.Add(ttl)))
	if err != nil {
		return false, fmt.Errorf("journal: acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("journal: acquire lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (j *SQLite) ReleaseLease(ctx context.Context, broker, owner string) error {
	_, err := j.db.ExecContext(ctx,
		`DELETE FROM cycle_leases WHERE broker = ? AND owner = ?`, broker, owner)
	if err != nil {
		return fmt.Errorf("journal: release lease: %w", err)
	}
	return nil
}
