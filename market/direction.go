package market

import (
	"fmt"
	"strings"
)

// Direction is the side of an order or position.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// ParseDirection accepts BUY/SELL and the LONG/SHORT aliases used by the
// signal feed.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return Buy, nil
	case "SELL", "SHORT":
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) Valid() bool {
	return d == Buy || d == Sell
}

func (d Direction) Opposite() Direction {
	if d == Buy {
		return Sell
	}
	return Buy
}

// Sign is +1 for BUY and -1 for SELL.
func (d Direction) Sign() int64 {
	if d == Sell {
		return -1
	}
	return 1
}

// DirectionOf returns the direction of a signed position size. Zero has no
// direction.
func DirectionOf(units int64) (Direction, bool) {
	switch {
	case units > 0:
		return Buy, true
	case units < 0:
		return Sell, true
	default:
		return "", false
	}
}

// BrokerSide is the Saxo spelling ("Buy"/"Sell").
func (d Direction) BrokerSide() string {
	if d == Sell {
		return "Sell"
	}
	return "Buy"
}
