package marketdata

import (
	"context"
	"fmt"
	"time"
)

// View is the read-only accessor over recent candle series and mark prices.
// Implementations must never block indefinitely: every call honors ctx and
// returns a typed DataError on failure so callers can degrade per-symbol.
type View interface {
	RecentCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error)
	CurrentMark(ctx context.Context, symbol string) (MarkPrice, error)
}

// DataError classifies market-data failures.
type DataError struct {
	Type    string // "network", "unavailable", "bad_symbol", "stale"
	Symbol  string
	Message string
	Cause   error
}

func (e *DataError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *DataError {
	return &DataError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewUnavailableError(symbol, message string) *DataError {
	return &DataError{Type: "unavailable", Symbol: symbol, Message: message}
}

func NewBadSymbolError(symbol, message string) *DataError {
	return &DataError{Type: "bad_symbol", Symbol: symbol, Message: message}
}

func NewStaleError(symbol string, age time.Duration) *DataError {
	return &DataError{Type: "stale", Symbol: symbol, Message: fmt.Sprintf("data too stale: %v", age)}
}
