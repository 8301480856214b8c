package market

import "fmt"

// QuoteToAccountRate converts an amount in the pair's quote currency into
// the account currency, using price as the pair's current rate.
//
// An empty account currency disables conversion and returns 1, so amounts
// stay in quote currency.
func QuoteToAccountRate(instrument, accountCurrency string, price float64) (float64, error) {
	if accountCurrency == "" {
		return 1.0, nil
	}

	meta, ok := Lookup(instrument)
	if !ok {
		return 0, fmt.Errorf("unknown instrument %s", instrument)
	}

	// EURUSD in a USD account
	if meta.QuoteCurrency == accountCurrency {
		return 1.0, nil
	}

	// USDJPY in a USD account: price is JPY per USD, we want USD per JPY
	if meta.BaseCurrency == accountCurrency {
		if price <= 0 {
			return 0, fmt.Errorf("cannot convert %s without a price", instrument)
		}
		return 1.0 / price, nil
	}

	return 0, fmt.Errorf(
		"cross conversion not implemented for %s -> %s",
		meta.QuoteCurrency,
		accountCurrency,
	)
}
