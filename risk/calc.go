package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// PlannedRisk is the loss in account currency if the stop is hit.
func PlannedRisk(units int64, entry, stop, quoteToAccountRate float64) float64 {
	move := math.Abs(entry - stop)
	plQuote := float64(absUnits(units)) * move
	return plQuote * quoteToAccountRate
}

// Notional is the position value in account currency.
func Notional(units int64, entry, quoteToAccountRate float64) float64 {
	return float64(absUnits(units)) * math.Abs(entry) * quoteToAccountRate
}

func RiskPct(amount, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return amount / equity
}

// Drawdown is (baseline - current) / baseline. A non-positive baseline
// yields zero.
func Drawdown(baseline, current float64) decimal.Decimal {
	b := decimal.NewFromFloat(baseline)
	if !b.IsPositive() {
		return decimal.Zero
	}
	return b.Sub(decimal.NewFromFloat(current)).Div(b)
}

// exceeds reports amount > pct * equity using decimal arithmetic so values
// sitting exactly on a limit are not pushed over by float rounding.
func exceeds(amount, pct, equity float64) bool {
	limit := decimal.NewFromFloat(pct).Mul(decimal.NewFromFloat(equity))
	return decimal.NewFromFloat(amount).GreaterThan(limit)
}

func absUnits(u int64) int64 {
	if u < 0 {
		return -u
	}
	return u
}
