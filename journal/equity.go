package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (j *SQLite) GetDailyEquity(ctx context.Context, date string) (float64, bool, error) {
	var eq float64
	err := j.db.QueryRowContext(ctx, `SELECT equity FROM daily_equity WHERE date = ?`, date).Scan(&eq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("journal: get daily equity: %w", err)
	}
	return eq, true, nil
}

// SetDailyEquity stores the baseline for date. The first value written for a
// date wins; later writes are ignored.
func (j *SQLite) SetDailyEquity(ctx context.Context, date string, equity float64) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_equity (date, equity, created_at) VALUES (?, ?, ?)`,
		date, equity, formatTime(j.now()))
	if err != nil {
		return fmt.Errorf("journal: set daily equity: %w", err)
	}
	return nil
}
