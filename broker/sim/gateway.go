// Package sim is an in-memory broker.Gateway. The demo command trades
// against it and the engine tests use it as their broker.
package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/pkg/id"
)

const Name = "sim"

var _ broker.Gateway = (*Gateway)(nil)

type quote struct {
	instrument string
	price      float64
}

// Gateway keeps equity, prices and positions in memory. The exported
// function fields replace the default behaviour of a call when set, which
// lets tests script failures.
type Gateway struct {
	mu sync.Mutex

	AccountCurrency string
	NoPrecheck      bool

	// LivePrices turns on GetPrice, quoting SpreadPips around the set price.
	LivePrices bool
	SpreadPips float64

	EquityFunc    func() (float64, error)
	PositionsFunc func() (broker.Positions, error)
	MarginFunc    func(uic int, dir market.Direction, units int64) (float64, error)
	OrderFunc     func(req broker.OrderRequest) (broker.OrderResult, error)
	PriceFunc     func(uic int) (broker.Quote, error)

	equity    float64
	quotes    map[int]quote
	positions broker.Positions
	orders    []broker.OrderRequest
	prechecks int
	quotesIn  int
}

func New(equity float64) *Gateway {
	return &Gateway{
		equity:    equity,
		quotes:    make(map[int]quote),
		positions: broker.Positions{},
	}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Capabilities() broker.Capabilities {
	return broker.Capabilities{
		MarginPrecheck: !g.NoPrecheck,
		Prices:         g.LivePrices || g.PriceFunc != nil,
	}
}

// SetPrice registers the current rate for an instrument.
func (g *Gateway) SetPrice(uic int, instrument string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[uic] = quote{instrument: market.Normalize(instrument), price: price}
}

func (g *Gateway) SetEquity(equity float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity = equity
}

func (g *Gateway) SetPosition(uic int, units int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if units == 0 {
		delete(g.positions, uic)
		return
	}
	g.positions[uic] = units
}

// Orders returns every order submitted so far, dry runs included.
func (g *Gateway) Orders() []broker.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]broker.OrderRequest, len(g.orders))
	copy(out, g.orders)
	return out
}

// Prechecks is the number of margin prechecks served.
func (g *Gateway) Prechecks() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prechecks
}

func (g *Gateway) GetEquity(_ context.Context) (float64, error) {
	if g.EquityFunc != nil {
		return g.EquityFunc()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.equity, nil
}

func (g *Gateway) RefreshPositions(_ context.Context) (broker.Positions, error) {
	if g.PositionsFunc != nil {
		return g.PositionsFunc()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(broker.Positions, len(g.positions))
	for k, v := range g.positions {
		out[k] = v
	}
	return out, nil
}

func (g *Gateway) GetOpenPositionUnits(ctx context.Context, uic int) (int64, error) {
	pos, err := g.RefreshPositions(ctx)
	if err != nil {
		return 0, err
	}
	return pos[uic], nil
}

func (g *Gateway) PrecheckOrder(_ context.Context, uic int, dir market.Direction, units int64) (float64, error) {
	g.mu.Lock()
	g.prechecks++
	q, ok := g.quotes[uic]
	g.mu.Unlock()

	if g.NoPrecheck {
		return 0, fmt.Errorf("%w: precheck not supported", broker.ErrUnavailable)
	}
	if g.MarginFunc != nil {
		return g.MarginFunc(uic, dir, units)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no price for uic %d", broker.ErrUnavailable, uic)
	}

	rate, err := market.QuoteToAccountRate(q.instrument, g.AccountCurrency, q.price)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", broker.ErrUnavailable, err)
	}
	return TradeMargin(units, q.price, q.instrument, rate), nil
}

// PriceRequests is the number of quotes served.
func (g *Gateway) PriceRequests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quotesIn
}

func (g *Gateway) GetPrice(_ context.Context, uic int) (broker.Quote, error) {
	g.mu.Lock()
	g.quotesIn++
	q, ok := g.quotes[uic]
	g.mu.Unlock()

	if g.PriceFunc != nil {
		return g.PriceFunc(uic)
	}
	if !g.LivePrices {
		return broker.Quote{}, fmt.Errorf("%w: prices not supported", broker.ErrUnavailable)
	}
	if !ok {
		return broker.Quote{}, fmt.Errorf("%w: no price for uic %d", broker.ErrUnavailable, uic)
	}
	half := g.SpreadPips * market.PipSize(q.instrument) / 2
	return broker.Quote{Bid: q.price - half, Ask: q.price + half}, nil
}

func (g *Gateway) PlaceMarketOrder(_ context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	g.mu.Lock()
	g.orders = append(g.orders, req)
	g.mu.Unlock()

	if g.OrderFunc != nil {
		return g.OrderFunc(req)
	}

	payload, _ := json.Marshal(req)
	if req.DryRun {
		return broker.OrderResult{OK: true, OrderID: "dryrun-" + req.IdempotencyKey, Payload: payload}, nil
	}

	g.mu.Lock()
	g.positions[req.UIC] += req.Direction.Sign() * req.Units
	if g.positions[req.UIC] == 0 {
		delete(g.positions, req.UIC)
	}
	g.mu.Unlock()

	return broker.OrderResult{OK: true, OrderID: id.New(), Payload: payload}, nil
}

// ReferencePrices are rough mid rates used to seed a simulated market.
var ReferencePrices = map[string]float64{
	"EURUSD": 1.08,
	"GBPUSD": 1.27,
	"AUDUSD": 0.66,
	"NZDUSD": 0.61,
	"USDJPY": 150.0,
	"USDCAD": 1.36,
	"USDCHF": 0.88,
	"EURJPY": 162.0,
	"GBPJPY": 190.0,
}

// Seed prices every instrument in uics at its reference rate. Instruments
// without a reference rate are left unpriced.
func (g *Gateway) Seed(uics map[string]int) {
	for name, uic := range uics {
		if p, ok := ReferencePrices[market.Normalize(name)]; ok {
			g.SetPrice(uic, name, p)
		}
	}
}
