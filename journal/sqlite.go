package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (or creates) the database at path and applies the schema.
// Writers are serialized on a single connection with a busy timeout.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// DB exposes the handle so other stores (the signal source) can share the file.
func (j *SQLite) DB() *sql.DB { return j.db }

// SetClock overrides the clock used for timestamps and recency windows.
func (j *SQLite) SetClock(now func() time.Time) { j.now = now }

func (j *SQLite) Close() error {
	return j.db.Close()
}

func (j *SQLite) WasExecuted(ctx context.Context, hash, broker string) (bool, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM executed_orders WHERE segment_hash = ? AND broker = ?`,
		hash, broker).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("journal: was executed: %w", err)
	}
	return n > 0, nil
}

func (j *SQLite) WasExecutedRecently(ctx context.Context, hash, broker string, window time.Duration) (bool, error) {
	since := formatTime(j.now().Add(-window))

	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM executed_orders WHERE segment_hash = ? AND broker = ? AND created_at >= ?`,
		hash, broker, since).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("journal: was executed recently: %w", err)
	}
	return n > 0, nil
}

// RecordOutcome upserts the ledger row for (hash, broker). The latest
// attempt replaces any earlier row.
func (j *SQLite) RecordOutcome(ctx context.Context, hash, broker string, o Outcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO executed_orders
		(segment_hash, broker, status, order_id, error_message, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		hash, broker, string(o.Status),
		nullString(o.OrderID), nullString(o.Error), nullString(string(o.Payload)),
		formatTime(j.now()),
	)
	if err != nil {
		return fmt.Errorf("journal: record outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the n most recent ledger rows for broker, newest first.
func (j *SQLite) RecentOutcomes(ctx context.Context, broker string, n int) ([]Execution, error) {
	return j.queryExecutions(ctx, `
		SELECT segment_hash, broker, status, order_id, error_message, payload, created_at
		FROM executed_orders
		WHERE broker = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, broker, n)
}

// ListExecutions returns ledger rows newest first. An empty broker lists all.
func (j *SQLite) ListExecutions(ctx context.Context, broker string, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	if broker == "" {
		return j.queryExecutions(ctx, `
			SELECT segment_hash, broker, status, order_id, error_message, payload, created_at
			FROM executed_orders
			ORDER BY created_at DESC, id DESC
			LIMIT ?`, limit)
	}
	return j.queryExecutions(ctx, `
		SELECT segment_hash, broker, status, order_id, error_message, payload, created_at
		FROM executed_orders
		WHERE broker = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, broker, limit)
}

// GetExecution returns the ledger row for (hash, broker).
func (j *SQLite) GetExecution(ctx context.Context, hash, broker string) (Execution, bool, error) {
	rows, err := j.queryExecutions(ctx, `
		SELECT segment_hash, broker, status, order_id, error_message, payload, created_at
		FROM executed_orders
		WHERE segment_hash = ? AND broker = ?`, hash, broker)
	if err != nil || len(rows) == 0 {
		return Execution{}, false, err
	}
	return rows[0], true, nil
}

func (j *SQLite) queryExecutions(ctx context.Context, q string, args ...any) ([]Execution, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var (
			e                        Execution
			status, created          string
			orderID, errMsg, payload sql.NullString
		)
		if err := rows.Scan(&e.SegmentHash, &e.Broker, &status, &orderID, &errMsg, &payload, &created); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.OrderID = orderID.String
		e.Error = errMsg.String
		e.Payload = payload.String
		e.CreatedAt = parseTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
