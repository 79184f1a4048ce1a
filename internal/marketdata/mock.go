package marketdata

import (
	"context"
	"sync"
	"time"
)

// MockView is an in-memory View for tests and dry runs.
type MockView struct {
	mu      sync.RWMutex
	candles map[string][]Candle // key: symbol|timeframe
	marks   map[string]float64
	errs    map[string]error // per-symbol forced errors
}

func NewMockView() *MockView {
	return &MockView{
		candles: make(map[string][]Candle),
		marks:   make(map[string]float64),
		errs:    make(map[string]error),
	}
}

func candleKey(symbol string, tf Timeframe) string { return symbol + "|" + string(tf) }

func (m *MockView) SetCandles(symbol string, tf Timeframe, candles []Candle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[candleKey(symbol, tf)] = candles
}

func (m *MockView) SetMark(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks[symbol] = price
}

// FailSymbol makes every call for symbol return err.
func (m *MockView) FailSymbol(symbol string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[symbol] = err
}

func (m *MockView) RecentCandles(_ context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[symbol]; ok {
		return nil, err
	}
	series, ok := m.candles[candleKey(symbol, tf)]
	if !ok || len(series) == 0 {
		return nil, NewUnavailableError(symbol, "no candles configured")
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	out := make([]Candle, len(series))
	copy(out, series)
	return out, nil
}

func (m *MockView) CurrentMark(_ context.Context, symbol string) (MarkPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err, ok := m.errs[symbol]; ok {
		return MarkPrice{}, err
	}
	price, ok := m.marks[symbol]
	if !ok {
		return MarkPrice{}, NewUnavailableError(symbol, "no mark configured")
	}
	return MarkPrice{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}, nil
}
