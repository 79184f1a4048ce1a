package signal

// Direction is the side a signal argues for, and the side of a position.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Sign returns +1 for LONG and -1 for SHORT.
func (d Direction) Sign() float64 {
	if d == Long {
		return 1
	}
	return -1
}

// Kind is the closed enumeration of signal components. The scorer's
// combination logic is exhaustive over this set; there are no free-form
// signal names.
type Kind int

const (
	KindPriceRange       Kind = iota // price position within recent high/low range
	KindMomentum                     // short-term momentum
	KindTrend1h                      // 1h trend bias
	KindTrend1d                      // 1d trend bias
	KindHighVolatility               // elevated volatility flag
	KindVolumePower                  // volume-weighted buy/sell pressure
	KindConsecutiveTrend             // run of same-direction candles
	KindBreakout                     // close above recent range high
	KindBreakdown                    // close below recent range low
	kindCount
)

var kindNames = [...]string{
	KindPriceRange:       "price_range",
	KindMomentum:         "momentum",
	KindTrend1h:          "trend_1h",
	KindTrend1d:          "trend_1d",
	KindHighVolatility:   "high_volatility",
	KindVolumePower:      "volume_power",
	KindConsecutiveTrend: "consecutive_trend",
	KindBreakout:         "breakout",
	KindBreakdown:        "breakdown",
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return "unknown"
	}
	return kindNames[k]
}

// Valid reports whether k is a member of the closed set.
func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

// Kinds returns every signal kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Activation records that one signal component fired for one direction,
// with its kind-specific numeric payload (magnitude, ratio, streak length).
// The activation set at entry time is stored with the position for audit and
// consumed later by weight adaptation.
type Activation struct {
	Kind      Kind      `json:"kind"`
	Direction Direction `json:"direction"`
	Value     float64   `json:"value"`
}
