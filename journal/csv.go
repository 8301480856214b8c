package journal

import (
	"encoding/csv"
	"io"
	"time"
)

var executionHeader = []string{"segment_hash", "broker", "status", "order_id", "error_message", "created_at"}

// WriteExecutionsCSV writes ledger rows as CSV with a header line.
func WriteExecutionsCSV(w io.Writer, rows []Execution) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(executionHeader); err != nil {
		return err
	}
	for _, e := range rows {
		err := cw.Write([]string{
			e.SegmentHash,
			e.Broker,
			string(e.Status),
			e.OrderID,
			e.Error,
			e.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
