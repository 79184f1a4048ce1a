package venue

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/marketdata"
	"github.com/quantfall/futures-engine/internal/signal"
)

func paperConfig() config.Venue {
	return config.Venue{
		LatencyMsMin:   0,
		LatencyMsMax:   1,
		SlippageBpsMin: 10,
		SlippageBpsMax: 10,
		OrdersPerSec:   1000,
	}
}

func paperFixture() (*PaperVenue, *marketdata.MockView) {
	view := marketdata.NewMockView()
	view.SetMark("BTCUSDT", 100)
	return NewPaperVenue(view, paperConfig()), view
}

func TestPaperSlippageWorksAgainstTheTaker(t *testing.T) {
	p, _ := paperFixture()
	ctx := context.Background()

	// 10 bps on a 100 mark: entries fill worse, closes fill worse again
	buy, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Long, 1)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if math.Abs(buy.Price-100.1) > 1e-9 {
		t.Errorf("long entry fill = %v, want 100.1 (paying up)", buy.Price)
	}

	sellClose, err := p.ClosePosition(ctx, "BTCUSDT", signal.Long, 1)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if math.Abs(sellClose.Price-99.9) > 1e-9 {
		t.Errorf("long close fill = %v, want 99.9 (selling down)", sellClose.Price)
	}

	short, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Short, 1)
	if err != nil {
		t.Fatalf("place short: %v", err)
	}
	if math.Abs(short.Price-99.9) > 1e-9 {
		t.Errorf("short entry fill = %v, want 99.9", short.Price)
	}
}

func TestPaperRejectsNonPositiveQuantity(t *testing.T) {
	p, _ := paperFixture()

	_, err := p.PlaceOrder(context.Background(), "BTCUSDT", signal.Long, 0)
	var oe *OrderError
	if !errors.As(err, &oe) || oe.Type != "rejected" {
		t.Fatalf("want typed rejection, got %v", err)
	}
}

func TestPaperInjectedFailureFiresOnce(t *testing.T) {
	p, _ := paperFixture()
	ctx := context.Background()
	p.FailNext("BTCUSDT", NewTimeoutError("BTCUSDT", "injected", nil))

	if _, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Long, 1); err == nil {
		t.Fatal("injected failure should fire")
	}
	if _, err := p.PlaceOrder(ctx, "BTCUSDT", signal.Long, 1); err != nil {
		t.Fatalf("injection must clear after one shot: %v", err)
	}
}

func TestPaperSurfacesMarkOutage(t *testing.T) {
	p, view := paperFixture()
	view.FailSymbol("BTCUSDT", marketdata.NewUnavailableError("BTCUSDT", "down"))

	_, err := p.PlaceOrder(context.Background(), "BTCUSDT", signal.Long, 1)
	var oe *OrderError
	if !errors.As(err, &oe) || oe.Type != "network" {
		t.Fatalf("mark outage should map to a network order error, got %v", err)
	}
}
