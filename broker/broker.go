// Package broker defines the gateway contract the execution engine uses to
// talk to a retail FX broker.
package broker

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/rustyeddy/fxexec/market"
)

// ErrUnavailable marks a gateway answer that could not be obtained: network
// errors, 4xx/5xx responses and responses missing the expected field all
// wrap it. Callers never read it as a zero value.
var ErrUnavailable = errors.New("broker: unavailable")

// Positions maps a UIC to a signed position size in units.
type Positions map[int]int64

// Capabilities lists optional gateway features.
type Capabilities struct {
	MarginPrecheck bool
	// Prices means GetPrice serves live quotes.
	Prices bool
}

// Quote is a live bid/ask for one instrument.
type Quote struct {
	Bid float64
	Ask float64
}

func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

func (q Quote) Spread() float64 { return q.Ask - q.Bid }

// Gateway is the broker surface the engine depends on. Every call is
// expected to honor ctx deadlines.
type Gateway interface {
	// Name identifies the broker in the ledger ("saxo", "sim").
	Name() string

	Capabilities() Capabilities

	GetEquity(ctx context.Context) (float64, error)

	// RefreshPositions fetches all open positions and replaces any cached
	// snapshot held by the gateway.
	RefreshPositions(ctx context.Context) (Positions, error)

	// GetOpenPositionUnits returns the signed size for one instrument,
	// zero when flat.
	GetOpenPositionUnits(ctx context.Context, uic int) (int64, error)

	// PrecheckOrder returns the margin a hypothetical market order would
	// require. Gateways without MarginPrecheck return ErrUnavailable.
	PrecheckOrder(ctx context.Context, uic int, dir market.Direction, units int64) (float64, error)

	// GetPrice returns the current quote. Gateways without Prices return
	// ErrUnavailable.
	GetPrice(ctx context.Context, uic int) (Quote, error)

	PlaceMarketOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// OrderRequest is a market order. Units is always positive; the side is in
// Direction.
type OrderRequest struct {
	UIC            int
	Instrument     string
	Direction      market.Direction
	Units          int64
	StopLoss       *float64
	TakeProfit     *float64
	IdempotencyKey string
	DryRun         bool
}

// OrderResult is the broker's answer to a submission. Payload carries the
// request or response body for the ledger.
type OrderResult struct {
	OK      bool
	OrderID string
	Error   string
	Payload json.RawMessage
}

var idempotencyNamespace = uuid.MustParse("0b5cf1c2-4a8e-4c5e-9a53-6f1d2f0f8a11")

// IdempotencyKey derives a stable client reference for a signal so a retried
// submission carries the same key. The result fits Saxo's 50 character
// ExternalReference limit.
func IdempotencyKey(segmentHash, brokerName string) string {
	return uuid.NewSHA1(idempotencyNamespace, []byte(brokerName+":"+segmentHash)).String()
}
