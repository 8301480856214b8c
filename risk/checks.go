package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/fxexec/market"
)

const (
	CodeNoUnits          = "NO_UNITS"
	CodeNoPrices         = "NO_ENTRY_OR_STOP"
	CodeRiskTooHigh      = "RISK_TOO_HIGH"
	CodeNotionalTooHigh  = "NOTIONAL_TOO_HIGH"
	CodeMarginTooHigh    = "MARGIN_TOO_HIGH"
	CodeDailyDrawdown    = "DAILY_DRAWDOWN"
	CodeTooManyPositions = "TOO_MANY_POSITIONS"
	CodeSpreadTooWide    = "SPREAD_TOO_WIDE"
	CodePriceOutOfRange  = "PRICE_OUT_OF_RANGE"
)

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation

	PlannedRisk    float64
	PlannedRiskPct float64
	Notional       float64
	NotionalPct    float64
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Reason is the first violation message, or "" when allowed.
func (d Decision) Reason() string {
	if len(d.Violations) == 0 {
		return ""
	}
	return d.Violations[0].Msg
}

// Evaluate runs the price-based limits: risk to stop first, then notional.
// It stops at the first breach.
func Evaluate(p Policy, intent TradeIntent, equity, quoteToAccountRate float64) Decision {
	d := Decision{Allowed: true}

	if intent.Units == 0 {
		d.add(CodeNoUnits, "units must be non-zero")
		return d
	}
	if intent.Entry == 0 || intent.Stop == 0 {
		d.add(CodeNoPrices, "entry/stop must be set")
		return d
	}

	d.PlannedRisk = PlannedRisk(intent.Units, intent.Entry, intent.Stop, quoteToAccountRate)
	d.PlannedRiskPct = RiskPct(d.PlannedRisk, equity)
	if exceeds(d.PlannedRisk, p.MaxRiskPct, equity) {
		d.add(CodeRiskTooHigh,
			fmt.Sprintf("risk too high: %.2f > %.2f", d.PlannedRisk, p.MaxRiskPct*equity))
		return d
	}

	d.Notional = Notional(intent.Units, intent.Entry, quoteToAccountRate)
	d.NotionalPct = RiskPct(d.Notional, equity)
	if exceeds(d.Notional, p.MaxNotionalPct, equity) {
		d.add(CodeNotionalTooHigh,
			fmt.Sprintf("notional too high: %.2f > %.2f", d.Notional, p.MaxNotionalPct*equity))
	}
	return d
}

// CheckMargin compares a broker-reported margin requirement with the cap.
func CheckMargin(p Policy, margin, equity float64) Decision {
	d := Decision{Allowed: true}
	if exceeds(margin, p.MaxMarginPct, equity) {
		d.add(CodeMarginTooHigh,
			fmt.Sprintf("margin too high: %.2f > %.2f", margin, p.MaxMarginPct*equity))
	}
	return d
}

// CheckDrawdown trips when the intraday drawdown reaches the daily limit.
func CheckDrawdown(p Policy, baseline, current float64) Decision {
	d := Decision{Allowed: true}
	dd := Drawdown(baseline, current)
	if dd.GreaterThanOrEqual(decimal.NewFromFloat(p.MaxDailyDrawdownPct)) {
		pct := dd.Mul(decimal.NewFromInt(100)).StringFixed(2)
		d.add(CodeDailyDrawdown, fmt.Sprintf("daily drawdown %s%% >= %.2f%%", pct, 100*p.MaxDailyDrawdownPct))
	}
	return d
}

// CheckOpenPositions limits distinct instruments with a position. A
// candidate on an instrument that is already open does not add to the count.
func CheckOpenPositions(p Policy, open int, instrumentOpen bool) Decision {
	d := Decision{Allowed: true}
	if !instrumentOpen && open >= p.MaxOpenPositions {
		d.add(CodeTooManyPositions,
			fmt.Sprintf("max open positions reached: %d >= %d", open, p.MaxOpenPositions))
	}
	return d
}

// CheckPrice compares a live bid/ask with the signal's entry price: the
// spread first, then the distance from mid to entry. Both are measured in
// pips of instrument.
func CheckPrice(p Policy, instrument string, bid, ask, entry float64) Decision {
	d := Decision{Allowed: true}
	pip := decimal.NewFromFloat(market.PipSize(instrument))
	b, a := decimal.NewFromFloat(bid), decimal.NewFromFloat(ask)

	spread := a.Sub(b).Div(pip)
	if p.MaxSpreadPips > 0 && spread.GreaterThan(decimal.NewFromFloat(p.MaxSpreadPips)) {
		d.add(CodeSpreadTooWide, fmt.Sprintf("spread %s pips > %g", spread.Round(1), p.MaxSpreadPips))
		return d
	}

	mid := b.Add(a).Div(decimal.NewFromInt(2))
	slip := mid.Sub(decimal.NewFromFloat(entry)).Abs().Div(pip)
	if p.MaxSlippagePips > 0 && slip.GreaterThan(decimal.NewFromFloat(p.MaxSlippagePips)) {
		d.add(CodePriceOutOfRange, fmt.Sprintf("mid %s is %s pips from entry %g > %g",
			mid.String(), slip.Round(1), entry, p.MaxSlippagePips))
	}
	return d
}
