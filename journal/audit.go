package journal

import (
	"context"
	"fmt"

	"github.com/rustyeddy/fxexec/pkg/id"
)

// AppendAudit inserts a new audit row. Rows are never updated.
func (j *SQLite) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.Time.IsZero() {
		e.Time = j.now()
	}
	if e.ID == "" {
		e.ID = id.At(e.Time)
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trade_audit
		(id, time, broker, segment_hash, action, instrument, direction, units, dry_run, ok, reason, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Time), e.Broker, nullString(e.SegmentHash), nullString(e.Action),
		nullString(e.Instrument), nullString(e.Direction), e.Units, e.DryRun, e.OK,
		nullString(e.Reason), nullString(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("journal: append audit: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit rows, newest first.
func (j *SQLite) ListAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, time, broker, COALESCE(segment_hash, ''), COALESCE(action, ''),
		       COALESCE(instrument, ''), COALESCE(direction, ''), units, dry_run, ok,
		       COALESCE(reason, ''), COALESCE(payload, '')
		FROM trade_audit
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list audit: %w", err)
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var (
			e  AuditEntry
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Broker, &e.SegmentHash, &e.Action, &e.Instrument,
			&e.Direction, &e.Units, &e.DryRun, &e.OK, &e.Reason, &e.Payload); err != nil {
			return nil, err
		}
		e.Time = parseTime(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}
