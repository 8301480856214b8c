// Package market holds static metadata for the spot FX pairs the engine is
// able to trade, plus the direction type shared by signals and orders.
package market

import (
	"math"
	"strings"
)

// InstrumentMeta describes a spot FX pair. UICs are broker specific and are
// configured separately; see config.BrokerConfig.UICMap.
type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
	MarginRate    float64
}

// Instruments is keyed by the normalized pair name ("USDJPY").
var Instruments = map[string]InstrumentMeta{
	"EURUSD": {Name: "EURUSD", BaseCurrency: "EUR", QuoteCurrency: "USD", PipLocation: -4, MarginRate: 0.04},
	"GBPUSD": {Name: "GBPUSD", BaseCurrency: "GBP", QuoteCurrency: "USD", PipLocation: -4, MarginRate: 0.04},
	"AUDUSD": {Name: "AUDUSD", BaseCurrency: "AUD", QuoteCurrency: "USD", PipLocation: -4, MarginRate: 0.04},
	"NZDUSD": {Name: "NZDUSD", BaseCurrency: "NZD", QuoteCurrency: "USD", PipLocation: -4, MarginRate: 0.04},
	"USDJPY": {Name: "USDJPY", BaseCurrency: "USD", QuoteCurrency: "JPY", PipLocation: -2, MarginRate: 0.04},
	"USDCAD": {Name: "USDCAD", BaseCurrency: "USD", QuoteCurrency: "CAD", PipLocation: -4, MarginRate: 0.04},
	"USDCHF": {Name: "USDCHF", BaseCurrency: "USD", QuoteCurrency: "CHF", PipLocation: -4, MarginRate: 0.04},
	"EURJPY": {Name: "EURJPY", BaseCurrency: "EUR", QuoteCurrency: "JPY", PipLocation: -2, MarginRate: 0.04},
	"GBPJPY": {Name: "GBPJPY", BaseCurrency: "GBP", QuoteCurrency: "JPY", PipLocation: -2, MarginRate: 0.04},
}

// Normalize upper-cases a pair name and strips the separators brokers and
// chat messages like to use ("usd/jpy", "USD_JPY").
func Normalize(name string) string {
	r := strings.NewReplacer("/", "", "_", "", "-", "", " ", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(name)))
}

// Lookup returns metadata for a pair in any of the accepted spellings.
func Lookup(name string) (InstrumentMeta, bool) {
	meta, ok := Instruments[Normalize(name)]
	return meta, ok
}

// PipSize is the price increment of one pip, 0.0001 for most pairs and
// 0.01 for JPY quotes. Unknown instruments fall back to 0.0001.
func PipSize(name string) float64 {
	meta, ok := Lookup(name)
	if !ok {
		return 0.0001
	}
	return math.Pow10(meta.PipLocation)
}
