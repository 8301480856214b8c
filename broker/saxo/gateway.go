package saxo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/rustyeddy/fxexec/broker"
	"github.com/rustyeddy/fxexec/market"
	"github.com/rustyeddy/fxexec/signal"
)

const Name = "saxo"

var _ broker.Gateway = (*Gateway)(nil)

type Config struct {
	BaseURL    string
	AccountKey string
	ClientKey  string
	Timeout    time.Duration
}

// Gateway talks to the portfolio and trading services of the OpenAPI.
type Gateway struct {
	cfg Config
	c   *client

	mu        sync.Mutex
	positions broker.Positions
}

// New builds a gateway. A nil token source means requests go out without
// authorization, which is only useful against test servers.
func New(ctx context.Context, cfg Config, ts oauth2.TokenSource) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	hc := &http.Client{}
	if ts != nil {
		hc = oauth2.NewClient(ctx, ts)
	}
	hc.Timeout = cfg.Timeout

	return &Gateway{
		cfg:       cfg,
		c:         &client{baseURL: cfg.BaseURL, http: hc},
		positions: broker.Positions{},
	}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) Capabilities() broker.Capabilities {
	return broker.Capabilities{MarginPrecheck: g.cfg.AccountKey != "", Prices: true}
}

func (g *Gateway) accountQuery() url.Values {
	q := url.Values{}
	if g.cfg.AccountKey != "" {
		q.Set("AccountKey", g.cfg.AccountKey)
	}
	if g.cfg.ClientKey != "" {
		q.Set("ClientKey", g.cfg.ClientKey)
	}
	return q
}

// equityFields are tried in order; the first present wins.
var equityFields = []string{"TotalEquity", "NetEquityForMargin", "Equity", "AccountValue"}

func (g *Gateway) GetEquity(ctx context.Context) (float64, error) {
	var body map[string]any
	if err := g.c.do(ctx, http.MethodGet, "/port/v1/balances", g.accountQuery(), nil, &body); err != nil {
		return 0, err
	}
	for _, k := range equityFields {
		if v, ok := body[k]; ok && v != nil {
			f, err := toFloat(v)
			if err != nil {
				return 0, fmt.Errorf("%w: balance field %s: %v", broker.ErrUnavailable, k, err)
			}
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: no equity field in balances", broker.ErrUnavailable)
}

type positionsResponse struct {
	Data []struct {
		Uic          json.Number `json:"Uic"`
		PositionBase struct {
			Uic    json.Number `json:"Uic"`
			Amount json.Number `json:"Amount"`
		} `json:"PositionBase"`
	} `json:"Data"`
}

func (g *Gateway) RefreshPositions(ctx context.Context) (broker.Positions, error) {
	if g.cfg.AccountKey == "" {
		return nil, fmt.Errorf("%w: account key not configured", broker.ErrUnavailable)
	}
	q := url.Values{}
	q.Set("AccountKey", g.cfg.AccountKey)
	q.Set("$top", "200")

	var body positionsResponse
	if err := g.c.do(ctx, http.MethodGet, "/port/v1/positions/me", q, nil, &body); err != nil {
		return nil, err
	}

	out := broker.Positions{}
	for _, item := range body.Data {
		raw := item.PositionBase.Uic
		if raw == "" {
			raw = item.Uic
		}
		uic, err := raw.Int64()
		if err != nil || item.PositionBase.Amount == "" {
			continue
		}
		amount, err := item.PositionBase.Amount.Float64()
		if err != nil {
			continue
		}
		out[int(uic)] += int64(amount)
	}

	g.mu.Lock()
	g.positions = out
	g.mu.Unlock()

	return copyPositions(out), nil
}

func (g *Gateway) GetOpenPositionUnits(ctx context.Context, uic int) (int64, error) {
	g.mu.Lock()
	units, ok := g.positions[uic]
	g.mu.Unlock()
	if ok {
		return units, nil
	}

	positions, err := g.RefreshPositions(ctx)
	if err != nil {
		return 0, err
	}
	return positions[uic], nil
}

type quoteFields struct {
	Bid *json.Number `json:"Bid"`
	Ask *json.Number `json:"Ask"`
}

type infoPriceResponse struct {
	Quote  *quoteFields  `json:"Quote"`
	Quotes []quoteFields `json:"Quotes"`
	Data   []struct {
		Quote *quoteFields `json:"Quote"`
	} `json:"Data"`
}

func (r infoPriceResponse) quote() *quoteFields {
	switch {
	case r.Quote != nil:
		return r.Quote
	case len(r.Quotes) > 0:
		return &r.Quotes[0]
	case len(r.Data) > 0:
		return r.Data[0].Quote
	}
	return nil
}

// GetPrice reads the current bid/ask from the info price service.
func (g *Gateway) GetPrice(ctx context.Context, uic int) (broker.Quote, error) {
	q := g.accountQuery()
	q.Del("ClientKey")
	q.Set("Uic", strconv.Itoa(uic))
	q.Set("AssetType", signal.AssetFxSpot)
	q.Set("FieldGroups", "Quote")

	var body infoPriceResponse
	if err := g.c.do(ctx, http.MethodGet, "/trade/v1/infoprices", q, nil, &body); err != nil {
		return broker.Quote{}, err
	}
	f := body.quote()
	if f == nil || f.Bid == nil || f.Ask == nil {
		return broker.Quote{}, fmt.Errorf("%w: no bid/ask for uic %d", broker.ErrUnavailable, uic)
	}
	bid, err := f.Bid.Float64()
	if err != nil {
		return broker.Quote{}, fmt.Errorf("%w: bid: %v", broker.ErrUnavailable, err)
	}
	ask, err := f.Ask.Float64()
	if err != nil {
		return broker.Quote{}, fmt.Errorf("%w: ask: %v", broker.ErrUnavailable, err)
	}
	return broker.Quote{Bid: bid, Ask: ask}, nil
}

type orderBody struct {
	AccountKey        string `json:"AccountKey,omitempty"`
	Uic               int    `json:"Uic"`
	AssetType         string `json:"AssetType"`
	Amount            int64  `json:"Amount"`
	BuySell           string `json:"BuySell"`
	OrderType         string `json:"OrderType"`
	ManualOrder       bool   `json:"ManualOrder"`
	ExternalReference string `json:"ExternalReference,omitempty"`
}

func (g *Gateway) newOrderBody(uic int, dir market.Direction, units int64) orderBody {
	if units < 0 {
		units = -units
	}
	return orderBody{
		AccountKey: g.cfg.AccountKey,
		Uic:        uic,
		AssetType:  signal.AssetFxSpot,
		Amount:     units,
		BuySell:    dir.BrokerSide(),
		OrderType:  "Market",
	}
}

var marginFields = []string{"MarginRequirement", "MarginRequired"}

func (g *Gateway) PrecheckOrder(ctx context.Context, uic int, dir market.Direction, units int64) (float64, error) {
	if g.cfg.AccountKey == "" {
		return 0, fmt.Errorf("%w: account key not configured", broker.ErrUnavailable)
	}

	var body map[string]any
	req := g.newOrderBody(uic, dir, units)
	if err := g.c.do(ctx, http.MethodPost, "/trade/v2/orders/precheck", nil, req, &body); err != nil {
		return 0, err
	}
	for _, k := range marginFields {
		if v, ok := body[k]; ok && v != nil {
			return toFloat(v)
		}
	}
	return 0, fmt.Errorf("%w: precheck response has no margin", broker.ErrUnavailable)
}

func (g *Gateway) PlaceMarketOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	if req.UIC == 0 {
		return broker.OrderResult{Error: "missing UIC for instrument"}, nil
	}
	if g.cfg.AccountKey == "" && !req.DryRun {
		return broker.OrderResult{Error: "missing account key"}, nil
	}

	body := g.newOrderBody(req.UIC, req.Direction, req.Units)
	body.ManualOrder = true
	body.ExternalReference = req.IdempotencyKey
	payload, _ := json.Marshal(body)

	if req.DryRun {
		return broker.OrderResult{
			OK:      true,
			OrderID: "dryrun-" + req.IdempotencyKey,
			Payload: payload,
		}, nil
	}

	var resp map[string]any
	err := g.c.do(ctx, http.MethodPost, "/trade/v2/orders", nil, body, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return broker.OrderResult{
				Error:   fmt.Sprintf("%d: %s", se.Status, se.Body),
				Payload: payload,
			}, nil
		}
		return broker.OrderResult{Error: err.Error(), Payload: payload}, err
	}

	res := broker.OrderResult{OK: true, Payload: payload}
	for _, k := range []string{"OrderId", "orderId", "Id"} {
		if v, ok := resp[k]; ok && v != nil {
			res.OrderID = fmt.Sprint(v)
			break
		}
	}
	return res, nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func copyPositions(p broker.Positions) broker.Positions {
	out := make(broker.Positions, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
