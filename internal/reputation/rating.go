package reputation

import "time"

// Level is the reputation tier of a symbol. Higher levels mean less trust.
type Level int

const (
	LevelNeutral    Level = 0 // full margin
	LevelWatch      Level = 1 // quarter margin
	LevelRestricted Level = 2 // eighth margin
	LevelBanned     Level = 3 // ineligible for new positions
)

func (l Level) String() string {
	switch l {
	case LevelNeutral:
		return "neutral"
	case LevelWatch:
		return "watch"
	case LevelRestricted:
		return "restricted"
	case LevelBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// MarginMultiplier is the deterministic margin scale for the level.
func (l Level) MarginMultiplier() float64 {
	switch l {
	case LevelNeutral:
		return 1.0
	case LevelWatch:
		return 0.25
	case LevelRestricted:
		return 0.125
	default:
		return 0.0
	}
}

// Rating is the durable reputation record for one symbol. Ratings are never
// deleted, only re-leveled; every change carries a reason and timestamp.
type Rating struct {
	Symbol     string    `json:"symbol"`
	Level      Level     `json:"level"`
	TradeCount int       `json:"trade_count"`
	WinRate    float64   `json:"win_rate"`
	LossUSD    float64   `json:"loss_usd"`
	ProfitUSD  float64   `json:"profit_usd"`
	Reason     string    `json:"reason,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Eligible reports whether new positions may be opened on the symbol.
func (r Rating) Eligible() bool { return r.Level != LevelBanned }

// WindowStats are the rolling-window trade statistics for one symbol,
// computed by the caller from the closed-trade journal.
type WindowStats struct {
	TradeCount int
	Wins       int
	NetPnLUSD  float64
	LossUSD    float64 // gross losses, negative or zero
	ProfitUSD  float64 // gross profits, positive or zero
}

// WinRate returns wins/trades, 0 for an empty window.
func (s WindowStats) WinRate() float64 {
	if s.TradeCount == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.TradeCount)
}
