package tradelog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantfall/futures-engine/internal/signal"
)

func testTrade(id, symbol string, dir signal.Direction, pnl float64, closedAt time.Time) ClosedTrade {
	return ClosedTrade{
		ID:          id,
		Symbol:      symbol,
		Direction:   dir,
		Quantity:    10,
		EntryPrice:  100,
		ClosePrice:  100 + pnl/10,
		RealizedPnL: pnl,
		ExitReason:  "take_profit",
		ClosedAt:    closedAt,
	}
}

func TestAppendAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	now := time.Now().UTC().Truncate(time.Millisecond)

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := j.Append(testTrade("t1", "BTCUSDT", signal.Long, 50, now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := j.Append(testTrade("t2", "ETHUSDT", signal.Short, -20, now.Add(time.Minute))); err != nil {
		t.Fatalf("append: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	trades := reopened.Window(time.Time{})
	if len(trades) != 2 {
		t.Fatalf("reopened journal has %d trades, want 2", len(trades))
	}
	if trades[0].ID != "t1" || trades[1].ID != "t2" {
		t.Errorf("order not preserved: %s, %s", trades[0].ID, trades[1].ID)
	}
}

func TestOpenSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	now := time.Now().UTC()

	j, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	j.Append(testTrade("t1", "BTCUSDT", signal.Long, 50, now))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	f.WriteString("{truncated garbage\n")
	f.Close()

	j.Append(testTrade("t2", "BTCUSDT", signal.Long, 30, now.Add(time.Minute)))

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen with corrupt line: %v", err)
	}
	if got := len(reopened.Window(time.Time{})); got != 2 {
		t.Fatalf("corrupt line should be skipped, got %d trades", got)
	}
}

func TestWindowFiltersByClosedAt(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "trades.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UTC()
	j.Append(testTrade("old", "BTCUSDT", signal.Long, 10, now.Add(-48*time.Hour)))
	j.Append(testTrade("new", "BTCUSDT", signal.Long, 10, now))

	got := j.Window(now.Add(-24 * time.Hour))
	if len(got) != 1 || got[0].ID != "new" {
		t.Fatalf("window should contain only the recent trade, got %d", len(got))
	}
}

func TestOutcomesKeepOnlyAlignedComponents(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "trades.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	trade := testTrade("t1", "BTCUSDT", signal.Long, 40, time.Now().UTC())
	trade.Components = []signal.Activation{
		{Kind: signal.KindBreakout, Direction: signal.Long, Value: 1},
		{Kind: signal.KindMomentum, Direction: signal.Long, Value: 2},
		{Kind: signal.KindTrend1h, Direction: signal.Short, Value: 1}, // argued against
	}
	j.Append(trade)

	outcomes := j.Outcomes(time.Time{})
	if len(outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(outcomes))
	}
	if len(outcomes[0].Kinds) != 2 {
		t.Fatalf("only components aligned with the taken direction count, got %v", outcomes[0].Kinds)
	}
	for _, k := range outcomes[0].Kinds {
		if k == signal.KindTrend1h {
			t.Error("opposing component leaked into the outcome")
		}
	}
}

func TestWindowStatsAggregation(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "trades.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UTC()
	j.Append(testTrade("t1", "BTCUSDT", signal.Long, 100, now))
	j.Append(testTrade("t2", "BTCUSDT", signal.Long, -40, now))
	j.Append(testTrade("t3", "BTCUSDT", signal.Short, -60, now))
	j.Append(testTrade("t4", "ETHUSDT", signal.Long, 500, now)) // other symbol

	stats := j.WindowStats("BTCUSDT", time.Time{})
	if stats.TradeCount != 3 || stats.Wins != 1 {
		t.Errorf("count/wins = %d/%d, want 3/1", stats.TradeCount, stats.Wins)
	}
	if stats.NetPnLUSD != 0 {
		t.Errorf("net = %.1f, want 0", stats.NetPnLUSD)
	}
	if stats.ProfitUSD != 100 || stats.LossUSD != -100 {
		t.Errorf("profit/loss = %.1f/%.1f, want 100/-100", stats.ProfitUSD, stats.LossUSD)
	}

	symbols := j.Symbols(time.Time{})
	if len(symbols) != 2 {
		t.Errorf("symbols = %v, want two distinct", symbols)
	}
}
