package risk

// Policy holds the account-level limits the engine enforces. Percentages
// are fractions of current equity (0.01 == 1%).
type Policy struct {
	// Circuit breakers
	MaxDailyDrawdownPct     float64 // 0.05
	ConsecutiveFailureLimit int     // 3 failed ledger rows
	RejectionLimit          int     // 3 order rejections in one cycle
	APIErrorLimit           int     // 3 margin precheck errors in one cycle

	// Per-order limits
	MaxRiskPct     float64 // 0.01
	MaxNotionalPct float64 // 0.10
	MaxMarginPct   float64 // 0.03

	// Exposure
	MaxOpenPositions int // 3 distinct instruments

	// Reject margin responses that shrink as size grows.
	MonotonicCheck bool

	// Live price guard in pips; zero disables.
	MaxSpreadPips   float64 // 8
	MaxSlippagePips float64 // 5, live mid against the signal's entry
}

func DefaultPolicy() Policy {
	return Policy{
		MaxDailyDrawdownPct:     0.05,
		ConsecutiveFailureLimit: 3,
		RejectionLimit:          3,
		APIErrorLimit:           3,
		MaxRiskPct:              0.01,
		MaxNotionalPct:          0.10,
		MaxMarginPct:            0.03,
		MaxOpenPositions:        3,
		MaxSpreadPips:           8,
		MaxSlippagePips:         5,
	}
}

// TradeIntent is an order the engine is about to place. Entry and Stop are
// zero when the signal carried no prices.
type TradeIntent struct {
	Instrument string
	Units      int64
	Entry      float64
	Stop       float64
}
