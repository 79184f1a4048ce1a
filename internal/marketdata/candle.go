package marketdata

import (
	"fmt"
	"strings"
	"time"
)

// Timeframe identifies a candle aggregation interval, e.g. "15m", "1h".
type Timeframe string

const (
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// Candle is one OHLCV record for a symbol/timeframe.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	OpenTime  time.Time `json:"open_time"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// ValidateCandle rejects malformed records fail-closed before they reach any
// detector. A bad candle is excluded, never repaired.
func ValidateCandle(c *Candle) error {
	if c == nil {
		return fmt.Errorf("candle is nil")
	}
	c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
	if c.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return fmt.Errorf("invalid candle prices: o=%.8f h=%.8f l=%.8f c=%.8f",
			c.Open, c.High, c.Low, c.Close)
	}
	if c.High < c.Low {
		return fmt.Errorf("invalid candle range: high(%.8f) < low(%.8f)", c.High, c.Low)
	}
	if c.Volume < 0 {
		return fmt.Errorf("negative volume: %f", c.Volume)
	}
	if c.OpenTime.IsZero() {
		return fmt.Errorf("zero open time")
	}
	return nil
}

// NetPower is the bullish-candle count minus the bearish-candle count over the
// series, a crude trend-strength proxy used by the regime detector.
func NetPower(candles []Candle) int {
	power := 0
	for _, c := range candles {
		switch {
		case c.IsBullish():
			power++
		case c.IsBearish():
			power--
		}
	}
	return power
}

// MarkPrice is a current mark-price observation for one symbol.
type MarkPrice struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
