// Package tradelog is the append-only record of closed trades. It feeds the
// weight adaptation engine, the symbol reputation manager and the circuit
// breaker; entries are never mutated or deleted.
package tradelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantfall/futures-engine/internal/reputation"
	"github.com/quantfall/futures-engine/internal/signal"
)

// ClosedTrade is one settled position outcome.
type ClosedTrade struct {
	ID          string              `json:"id"`
	Symbol      string              `json:"symbol"`
	Direction   signal.Direction    `json:"direction"`
	Quantity    float64             `json:"quantity"`
	EntryPrice  float64             `json:"entry_price"`
	ClosePrice  float64             `json:"close_price"`
	Leverage    float64             `json:"leverage"`
	MarginUSD   float64             `json:"margin_usd"`
	FeesUSD     float64             `json:"fees_usd"`
	RealizedPnL float64             `json:"realized_pnl"`
	EntryScore  float64             `json:"entry_score"`
	Components  []signal.Activation `json:"components"`
	ExitReason  string              `json:"exit_reason"`
	OpenedAt    time.Time           `json:"opened_at"`
	ClosedAt    time.Time           `json:"closed_at"`
}

// Journal persists closed trades as one JSON object per line and keeps them
// in memory for window queries.
type Journal struct {
	mu     sync.RWMutex
	path   string
	trades []ClosedTrade
}

// Open loads an existing journal or starts a fresh one.
func Open(path string) (*Journal, error) {
	j := &Journal{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var t ClosedTrade
		if err := json.Unmarshal(scanner.Bytes(), &t); err != nil {
			// skip corrupt lines rather than refusing to start
			continue
		}
		j.trades = append(j.trades, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal line %d: %w", line, err)
	}
	return j, nil
}

// Append records a closed trade durably before it becomes visible to queries.
func (j *Journal) Append(t ClosedTrade) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal trade %s: %w", t.ID, err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("append trade %s: %w", t.ID, err)
	}

	j.trades = append(j.trades, t)
	return nil
}

// Window returns all trades closed at or after from, oldest first.
func (j *Journal) Window(from time.Time) []ClosedTrade {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]ClosedTrade, 0)
	for _, t := range j.trades {
		if !t.ClosedAt.Before(from) {
			out = append(out, t)
		}
	}
	return out
}

// SymbolWindow returns trades for one symbol closed at or after from.
func (j *Journal) SymbolWindow(symbol string, from time.Time) []ClosedTrade {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]ClosedTrade, 0)
	for _, t := range j.trades {
		if t.Symbol == symbol && !t.ClosedAt.Before(from) {
			out = append(out, t)
		}
	}
	return out
}

// Symbols returns the distinct symbols with at least one trade in the window.
func (j *Journal) Symbols(from time.Time) []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	seen := map[string]bool{}
	out := []string{}
	for _, t := range j.trades {
		if t.ClosedAt.Before(from) || seen[t.Symbol] {
			continue
		}
		seen[t.Symbol] = true
		out = append(out, t.Symbol)
	}
	return out
}

// Outcomes maps the window into the adaptation engine's input form.
func (j *Journal) Outcomes(from time.Time) []signal.Outcome {
	trades := j.Window(from)
	out := make([]signal.Outcome, 0, len(trades))
	for _, t := range trades {
		kinds := make([]signal.Kind, 0, len(t.Components))
		for _, c := range t.Components {
			// only components that argued for the taken direction contributed
			if c.Direction == t.Direction {
				kinds = append(kinds, c.Kind)
			}
		}
		out = append(out, signal.Outcome{
			TradeID:   t.ID,
			Direction: t.Direction,
			Kinds:     kinds,
			PnLUSD:    t.RealizedPnL,
			ClosedAt:  t.ClosedAt,
		})
	}
	return out
}

// WindowStats aggregates one symbol's window into reputation inputs.
func (j *Journal) WindowStats(symbol string, from time.Time) reputation.WindowStats {
	var stats reputation.WindowStats
	for _, t := range j.SymbolWindow(symbol, from) {
		stats.TradeCount++
		stats.NetPnLUSD += t.RealizedPnL
		if t.RealizedPnL > 0 {
			stats.Wins++
			stats.ProfitUSD += t.RealizedPnL
		} else {
			stats.LossUSD += t.RealizedPnL
		}
	}
	return stats
}
