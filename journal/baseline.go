package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rustyeddy/fxexec/market"
)

func (j *SQLite) GetBaseline(ctx context.Context, instrument string, dir market.Direction) (int64, bool, error) {
	var units int64
	err := j.db.QueryRowContext(ctx,
		`SELECT units FROM baseline_units WHERE instrument = ? AND direction = ?`,
		market.Normalize(instrument), string(dir)).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("journal: get baseline: %w", err)
	}
	return units, true, nil
}

func (j *SQLite) SetBaseline(ctx context.Context, instrument string, dir market.Direction, units int64) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO baseline_units (instrument, direction, units, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instrument, direction) DO UPDATE SET units = excluded.units, updated_at = excluded.updated_at`,
		market.Normalize(instrument), string(dir), units, formatTime(j.now()))
	if err != nil {
		return fmt.Errorf("journal: set baseline: %w", err)
	}
	return nil
}

// ClearBaseline removes the baseline for one direction, or for both when
// dir is empty.
func (j *SQLite) ClearBaseline(ctx context.Context, instrument string, dir market.Direction) error {
	var err error
	if dir == "" {
		_, err = j.db.ExecContext(ctx,
			`DELETE FROM baseline_units WHERE instrument = ?`, market.Normalize(instrument))
	} else {
		_, err = j.db.ExecContext(ctx,
			`DELETE FROM baseline_units WHERE instrument = ? AND direction = ?`,
			market.Normalize(instrument), string(dir))
	}
	if err != nil {
		return fmt.Errorf("journal: clear baseline: %w", err)
	}
	return nil
}

func (j *SQLite) ListBaselines(ctx context.Context) ([]Baseline, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT instrument, direction, units, updated_at FROM baseline_units ORDER BY instrument, direction`)
	if err != nil {
		return nil, fmt.Errorf("journal: list baselines: %w", err)
	}
	defer rows.Close()

	var out []Baseline
	for rows.Next() {
		var (
			b            Baseline
			dir, updated string
		)
		if err := rows.Scan(&b.Instrument, &dir, &b.Units, &updated); err != nil {
			return nil, err
		}
		b.Direction = market.Direction(dir)
		b.UpdatedAt = parseTime(updated)
		out = append(out, b)
	}
	return out, rows.Err()
}
