package engine

import (
	"errors"
	"fmt"
)

// ErrCycleInProgress is returned when another cycle holds the broker.
var ErrCycleInProgress = errors.New("engine: cycle already in progress")

// Halt reasons.
const (
	HaltEnvironment        = "environment gate"
	HaltEquityUnavailable  = "equity unavailable"
	HaltDailyDrawdown      = "daily drawdown"
	HaltConsecutiveFailure = "consecutive failures"
	HaltOrderRejections    = "order rejections"
	HaltMarginAPIErrors    = "margin api errors"
	HaltStorage            = "storage failure"
)

// HaltError is a hard stop. The current cycle is abandoned and the caller
// should stop scheduling until an operator intervenes.
type HaltError struct {
	Reason string
	Err    error
}

func (e *HaltError) Error() string {
	if e.Err == nil {
		return "halt: " + e.Reason
	}
	return fmt.Sprintf("halt: %s: %v", e.Reason, e.Err)
}

func (e *HaltError) Unwrap() error { return e.Err }

// IsHalt reports whether err is, or wraps, a HaltError.
func IsHalt(err error) bool {
	var h *HaltError
	return errors.As(err, &h)
}

// HaltReason returns the reason of a wrapped HaltError, or "".
func HaltReason(err error) string {
	var h *HaltError
	if errors.As(err, &h) {
		return h.Reason
	}
	return ""
}

func halt(reason string, err error) error {
	return &HaltError{Reason: reason, Err: err}
}
