package venue

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/marketdata"
	"github.com/quantfall/futures-engine/internal/observ"
	"github.com/quantfall/futures-engine/internal/signal"
)

// PaperVenue simulates the execution venue against live mark prices:
// configurable latency and slippage bands, order pacing through a rate
// limiter, and injectable failures for exercising retry paths.
type PaperVenue struct {
	view    marketdata.View
	cfg     config.Venue
	limiter *rate.Limiter

	mu        sync.Mutex
	rng       *rand.Rand
	failNext  map[string]error // symbol -> error returned on next order
}

func NewPaperVenue(view marketdata.View, cfg config.Venue) *PaperVenue {
	return &PaperVenue{
		view:     view,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.OrdersPerSec), 1),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		failNext: make(map[string]error),
	}
}

// FailNext makes the next order for symbol fail with err. Test hook.
func (p *PaperVenue) FailNext(symbol string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[symbol] = err
}

func (p *PaperVenue) PlaceOrder(ctx context.Context, symbol string, dir signal.Direction, qty float64) (Fill, error) {
	return p.execute(ctx, symbol, dir, qty, false)
}

func (p *PaperVenue) ClosePosition(ctx context.Context, symbol string, dir signal.Direction, qty float64) (Fill, error) {
	return p.execute(ctx, symbol, dir, qty, true)
}

func (p *PaperVenue) execute(ctx context.Context, symbol string, dir signal.Direction, qty float64, closing bool) (Fill, error) {
	if qty <= 0 {
		return Fill{}, NewRejectedError(symbol, "non-positive quantity")
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return Fill{}, NewTimeoutError(symbol, "order pacing wait failed", err)
	}

	p.mu.Lock()
	if err, ok := p.failNext[symbol]; ok {
		delete(p.failNext, symbol)
		p.mu.Unlock()
		return Fill{}, err
	}
	latency := p.randRange(p.cfg.LatencyMsMin, p.cfg.LatencyMsMax)
	slippageBps := float64(p.randRange(p.cfg.SlippageBpsMin, p.cfg.SlippageBpsMax))
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return Fill{}, NewTimeoutError(symbol, "order timed out", ctx.Err())
	case <-time.After(time.Duration(latency) * time.Millisecond):
	}

	mark, err := p.view.CurrentMark(ctx, symbol)
	if err != nil {
		return Fill{}, NewNetworkError(symbol, "mark price unavailable", err)
	}

	// slippage works against the taker on both entry and close
	adverse := dir.Sign()
	if closing {
		adverse = -adverse
	}
	price := mark.Price * (1 + adverse*slippageBps/10000)

	observ.IncCounter("venue_fills_total", map[string]string{"symbol": symbol})
	observ.RecordDuration("venue_order_latency", time.Duration(latency)*time.Millisecond, nil)

	return Fill{
		Symbol:    symbol,
		Direction: dir,
		Price:     price,
		Quantity:  qty,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *PaperVenue) randRange(min, max int) int {
	if max <= min {
		return min
	}
	return min + p.rng.Intn(max-min+1)
}
