// Package venue abstracts the external execution venue. The engine only ever
// sees fill confirmations and typed errors; order routing and matching are
// the venue's problem.
package venue

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfall/futures-engine/internal/signal"
)

// Fill is a confirmed execution from the venue.
type Fill struct {
	Symbol    string           `json:"symbol"`
	Direction signal.Direction `json:"direction"`
	Price     float64          `json:"price"`
	Quantity  float64          `json:"quantity"`
	Timestamp time.Time        `json:"timestamp"`
}

// Venue places and closes orders. Every call honors ctx; failures surface as
// *OrderError so callers can distinguish retryable faults from rejections.
type Venue interface {
	PlaceOrder(ctx context.Context, symbol string, dir signal.Direction, qty float64) (Fill, error)
	ClosePosition(ctx context.Context, symbol string, dir signal.Direction, qty float64) (Fill, error)
}

// OrderError classifies venue failures.
type OrderError struct {
	Type    string // "timeout", "rejected", "insufficient_liquidity", "network"
	Symbol  string
	Message string
	Cause   error
}

func (e *OrderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *OrderError) Unwrap() error { return e.Cause }

// Retryable reports whether the failure class can heal on retry. Rejections
// and liquidity failures will not.
func (e *OrderError) Retryable() bool {
	return e.Type == "timeout" || e.Type == "network"
}

func NewTimeoutError(symbol, message string, cause error) *OrderError {
	return &OrderError{Type: "timeout", Symbol: symbol, Message: message, Cause: cause}
}

func NewRejectedError(symbol, message string) *OrderError {
	return &OrderError{Type: "rejected", Symbol: symbol, Message: message}
}

func NewLiquidityError(symbol, message string) *OrderError {
	return &OrderError{Type: "insufficient_liquidity", Symbol: symbol, Message: message}
}

func NewNetworkError(symbol, message string, cause error) *OrderError {
	return &OrderError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}
