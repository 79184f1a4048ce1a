package regime

import (
	"time"
)

// Direction is the overall market direction inferred from the reference basket.
type Direction string

const (
	Bullish Direction = "BULLISH"
	Bearish Direction = "BEARISH"
	Neutral Direction = "NEUTRAL"
)

// SymbolDetail is the per-reference-symbol breakdown kept for audit.
type SymbolDetail struct {
	Symbol         string `json:"symbol"`
	NetPowerShort  int    `json:"net_power_short"`
	NetPowerMedium int    `json:"net_power_medium"`
	Excluded       bool   `json:"excluded"`
	ExcludedReason string `json:"excluded_reason,omitempty"`
}

// State is the regime/emergency record for one account/trading-type. Each
// detector cycle produces a fresh State that supersedes the previous one;
// block flags auto-expire via ExpiresAt.
type State struct {
	Direction      Direction      `json:"direction"`
	Strength       float64        `json:"strength"` // 0..100
	Details        []SymbolDetail `json:"details"`
	BottomDetected bool           `json:"bottom_detected"`
	TopDetected    bool           `json:"top_detected"`
	BlockLong      bool           `json:"block_long"`
	BlockShort     bool           `json:"block_short"`
	ExpiresAt      time.Time      `json:"expires_at"`
	Reason         string         `json:"reason,omitempty"`
	Degraded       bool           `json:"degraded"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// emergencyActive reports whether the emergency flags are still in force.
func (s State) emergencyActive(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// BlocksLong reports whether LONG entries are vetoed right now.
func (s State) BlocksLong(now time.Time) bool {
	return s.BlockLong && s.emergencyActive(now)
}

// BlocksShort reports whether SHORT entries are vetoed right now.
func (s State) BlocksShort(now time.Time) bool {
	return s.BlockShort && s.emergencyActive(now)
}
