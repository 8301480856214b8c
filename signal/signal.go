// Package signal defines the classified trading signals consumed by the
// execution engine and a SQLite-backed source for them.
package signal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/rustyeddy/fxexec/market"
)

// Action is what a signal asks the engine to do.
type Action string

const (
	Entry   Action = "ENTRY"
	CloseTP Action = "CLOSE_TP"
	CloseSL Action = "CLOSE_SL"
)

func (a Action) Valid() bool {
	switch a {
	case Entry, CloseTP, CloseSL:
		return true
	}
	return false
}

func (a Action) IsClose() bool {
	return a == CloseTP || a == CloseSL
}

// AssetFxSpot is the only asset type the engine trades.
const AssetFxSpot = "FxSpot"

// TradingSignal is a normalized signal produced by the parser. Optional
// numeric fields are nil when the message did not carry them.
type TradingSignal struct {
	SegmentHash string
	Action      Action
	Direction   market.Direction
	Instrument  string
	UIC         int
	AssetType   string
	LotRatio    *float64
	IsAdd       bool
	SignalAt    time.Time

	EntryPrice *float64
	StopPrice  *float64
	TakePrice  *float64
}

// Age is how old the signal is at now.
func (s TradingSignal) Age(now time.Time) time.Duration {
	return now.Sub(s.SignalAt)
}

// HasRiskPrices reports whether both entry and stop are known.
func (s TradingSignal) HasRiskPrices() bool {
	return s.EntryPrice != nil && s.StopPrice != nil
}

// Source is the append-only, deduplicated signal log.
type Source interface {
	// ListPending returns up to limit signals, newest first.
	ListPending(ctx context.Context, limit int) ([]TradingSignal, error)
}

// Hash is the content fingerprint used as a signal's segment hash.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Float is a helper for building signals with optional prices.
func Float(v float64) *float64 {
	return &v
}
