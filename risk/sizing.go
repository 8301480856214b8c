package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrNonMonotonic is returned when the broker reports a smaller margin for
// a larger order than for a smaller one.
var ErrNonMonotonic = errors.New("risk: margin not monotonic in size")

// MarginFunc asks the broker what margin an order of units would need.
type MarginFunc func(ctx context.Context, units int64) (float64, error)

type SizingOptions struct {
	MonotonicCheck bool
}

type quote struct {
	units  int64
	margin float64
}

// FindMaxUnits binary-searches [0, ceiling] for the largest size whose
// margin fits in equity. ok is false when no size was found affordable.
// A failed margin quote ends the search with the best size found so far
// and the broker error.
func FindMaxUnits(ctx context.Context, equity float64, ceiling int64, margin MarginFunc, opts SizingOptions) (units int64, ok bool, err error) {
	if ceiling <= 0 {
		return 0, false, nil
	}

	var quotes []quote
	check := func(u int64) (float64, error) {
		m, err := margin(ctx, u)
		if err != nil {
			return 0, err
		}
		if opts.MonotonicCheck {
			if err := checkMonotonic(quotes, quote{u, m}); err != nil {
				return 0, err
			}
			quotes = append(quotes, quote{u, m})
		}
		return m, nil
	}

	m, err := check(ceiling)
	if err != nil {
		return 0, false, err
	}
	if m <= equity {
		return ceiling, true, nil
	}

	var lastOK int64
	low, high := int64(0), ceiling
	for low <= high {
		if err := ctx.Err(); err != nil {
			return lastOK, lastOK > 0, err
		}

		mid := low + (high-low)/2
		if mid == 0 {
			break
		}

		m, err := check(mid)
		if err != nil {
			return lastOK, lastOK > 0, err
		}
		if m <= equity {
			lastOK = mid
			low = mid + 1
		} else {
			high = mid - 1
		}
	}
	return lastOK, lastOK > 0, nil
}

func checkMonotonic(seen []quote, p quote) error {
	sorted := append([]quote(nil), seen...)
	sorted = append(sorted, p)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].units < sorted[j].units })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].margin < sorted[i-1].margin {
			return fmt.Errorf("%w: %d units needs %.2f, %d units needs %.2f",
				ErrNonMonotonic, sorted[i-1].units, sorted[i-1].margin, sorted[i].units, sorted[i].margin)
		}
	}
	return nil
}
