// Package journal persists the engine's state in SQLite: the execution
// ledger, position baselines, daily equity baselines, the audit log and
// the per-broker cycle lease.
package journal

import (
	"time"

	"github.com/rustyeddy/fxexec/market"
)

type Status string

const (
	StatusFilled  Status = "filled"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusDryRun  Status = "dry_run"
)

// Outcome is what gets written for one processing attempt of a signal.
type Outcome struct {
	Status  Status
	OrderID string
	Error   string
	Payload []byte
}

// Execution is the current ledger row for a (segment hash, broker) pair.
type Execution struct {
	SegmentHash string
	Broker      string
	Status      Status
	OrderID     string
	Error       string
	Payload     string
	CreatedAt   time.Time
}

type Baseline struct {
	Instrument string
	Direction  market.Direction
	Units      int64
	UpdatedAt  time.Time
}

// AuditEntry is one append-only decision record.
type AuditEntry struct {
	ID          string
	Time        time.Time
	Broker      string
	SegmentHash string
	Action      string
	Instrument  string
	Direction   string
	Units       int64
	DryRun      bool
	OK          bool
	Reason      string
	Payload     string
}

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// DateKey is the UTC calendar date used to key daily equity rows.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
