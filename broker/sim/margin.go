package sim

import "github.com/rustyeddy/fxexec/market"

// TradeMargin is the margin a position of units would tie up: notional in
// account currency times the pair's margin rate.
func TradeMargin(units int64, price float64, instrument string, quoteToAccount float64) float64 {
	meta, _ := market.Lookup(instrument)
	notionalQuote := float64(abs(units)) * price
	notionalAccount := notionalQuote * quoteToAccount
	return notionalAccount * meta.MarginRate
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
