package position

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/marketdata"
	"github.com/quantfall/futures-engine/internal/observ"
	"github.com/quantfall/futures-engine/internal/reputation"
	"github.com/quantfall/futures-engine/internal/risk"
	"github.com/quantfall/futures-engine/internal/signal"
	"github.com/quantfall/futures-engine/internal/tradelog"
	"github.com/quantfall/futures-engine/internal/venue"
)

// Manager owns the full position lifecycle: staged entry, exit evaluation,
// settlement, and the margin accounting around them. It is the single writer
// of position state; transitions for one position are serialized on a
// per-position lock while different positions proceed concurrently.
type Manager struct {
	cfg     config.Lifecycle
	venue   venue.Venue
	view    marketdata.View
	account *Account
	journal *tradelog.Journal
	breaker *risk.CircuitBreaker
	reput   *reputation.Manager

	maxRetries  int
	backoffBase time.Duration

	mu        sync.RWMutex
	positions map[string]*Position
	locks     map[string]*sync.Mutex
	seq       int64
}

func NewManager(cfg config.Lifecycle, vcfg config.Venue, ven venue.Venue, view marketdata.View,
	account *Account, journal *tradelog.Journal, breaker *risk.CircuitBreaker,
	reput *reputation.Manager) *Manager {
	return &Manager{
		cfg:         cfg,
		venue:       ven,
		view:        view,
		account:     account,
		journal:     journal,
		breaker:     breaker,
		reput:       reput,
		maxRetries:  vcfg.MaxRetries,
		backoffBase: time.Duration(vcfg.BackoffBaseMs) * time.Millisecond,
		positions:   make(map[string]*Position),
		locks:       make(map[string]*sync.Mutex),
	}
}

// Open turns an accepted scorer decision into a position. The circuit
// breaker and reputation gates run first; a denial produces a REJECTED
// record, which is an expected business outcome, not an error. On success
// the position is built through staged entries and ends OPEN (full or
// partial fill) or REJECTED (nothing filled).
func (m *Manager) Open(ctx context.Context, dec signal.Decision, now time.Time) (Position, error) {
	if !dec.Accepted || dec.Direction == "" {
		return Position{}, fmt.Errorf("decision for %s was not an accept", dec.Symbol)
	}

	p := m.register(dec, now)
	res, proceed, err := m.arm(ctx, p, dec, now)
	if !proceed {
		return res, err
	}
	m.buildStages(ctx, p)
	return m.Get(p.ID)
}

// arm runs the entry gates, reserves margin and prices the bracket, all under
// the position lock. proceed is false when a gate denied the entry (res then
// carries the rejection) or pricing failed.
func (m *Manager) arm(ctx context.Context, p *Position, dec signal.Decision, now time.Time) (res Position, proceed bool, err error) {
	lock := m.lockFor(p.ID)
	lock.Lock()
	defer lock.Unlock()

	if ok, reason := m.breaker.Allow(now); !ok {
		return m.reject(p, reason), false, nil
	}

	rating := m.reput.Rating(dec.Symbol)
	multiplier := rating.Level.MarginMultiplier()
	if multiplier == 0 {
		return m.reject(p, "symbol_banned"), false, nil
	}

	margin := m.cfg.MarginUSD * multiplier
	if err := m.account.Reserve(margin); err != nil {
		return m.reject(p, "insufficient_balance"), false, nil
	}

	mark, err := m.view.CurrentMark(ctx, dec.Symbol)
	if err != nil {
		m.account.Release(margin)
		m.reject(p, "mark_unavailable")
		return Position{}, false, fmt.Errorf("mark price for %s: %w", dec.Symbol, err)
	}

	p.MarginUSD = margin
	p.Leverage = m.cfg.Leverage
	p.RequestedQty = margin * m.cfg.Leverage / mark.Price
	p.StopLoss, p.TakeProfit = bracket(dec.Direction, mark.Price, m.cfg.StopLossPct, m.cfg.TakeProfitPct)
	p.Deadline = now.Add(time.Duration(m.cfg.MaxHoldHours) * time.Hour)

	if !bracketValid(dec.Direction, mark.Price, p.StopLoss, p.TakeProfit) {
		m.account.Release(margin)
		return m.reject(p, "invalid_bracket"), false, nil
	}

	if err := p.transition(StateBuilding); err != nil {
		m.account.Release(margin)
		return Position{}, false, err
	}
	observ.Log("position_building", map[string]any{
		"id": p.ID, "symbol": p.Symbol, "direction": string(p.Direction),
		"requested_qty": p.RequestedQty, "margin_usd": margin,
	})
	return Position{}, true, nil
}

// buildStages places the staged entry fills. Forward progress only: a failed
// stage after retries leaves whatever filled; zero fills cancel the position.
// The position lock is held only around state mutations, never across the
// venue calls, so mark ticks for other positions keep flowing while a stage
// waits on the venue.
func (m *Manager) buildStages(ctx context.Context, p *Position) {
	lock := m.lockFor(p.ID)
	stageQty := p.RequestedQty / float64(m.cfg.EntryStages)
	timeout := time.Duration(m.cfg.StageTimeoutMin) * time.Minute

	for stage := 0; stage < m.cfg.EntryStages; stage++ {
		lock.Lock()
		cancelled := p.cancelRequested
		lock.Unlock()
		if cancelled {
			break
		}

		stageCtx, cancel := context.WithTimeout(ctx, timeout)
		fill, err := venue.WithRetry(stageCtx, m.maxRetries, m.backoffBase, func() (venue.Fill, error) {
			return m.venue.PlaceOrder(stageCtx, p.Symbol, p.Direction, stageQty)
		})
		cancel()

		lock.Lock()
		if err != nil {
			p.ErrorFlag = fmt.Sprintf("stage %d failed: %v", stage+1, err)
			lock.Unlock()
			observ.IncCounter("position_stage_failures_total", map[string]string{"symbol": p.Symbol})
			break
		}
		p.applyFill(fill.Price, fill.Quantity)
		lock.Unlock()
		observ.IncCounter("position_stage_fills_total", map[string]string{"symbol": p.Symbol})
	}

	lock.Lock()
	defer lock.Unlock()
	switch {
	case p.FilledQty <= 0:
		// nothing filled: cancel and hand the margin back
		m.account.Release(p.MarginUSD)
		_ = p.transition(StateRejected)
		p.RejectReason = "entry_cancelled"
		observ.Log("position_entry_cancelled", map[string]any{"id": p.ID, "symbol": p.Symbol})
	case p.cancelRequested:
		// gate closed mid-build: keep the fills and head straight for the exit
		_ = p.transition(StateClosing)
		observ.Log("position_build_cancelled", map[string]any{
			"id": p.ID, "symbol": p.Symbol, "filled_qty": p.FilledQty,
		})
	default:
		_ = p.transition(StateOpen)
		p.OpenedAt = time.Now().UTC()
		partial := p.FilledQty < p.RequestedQty
		observ.Log("position_opened", map[string]any{
			"id": p.ID, "symbol": p.Symbol, "avg_entry": p.AvgEntryPrice,
			"filled_qty": p.FilledQty, "partial": partial,
		})
	}
}

// OnMark recomputes unrealized P&L for every live position on the symbol and
// fires the first matching exit condition, in fixed priority order:
// stop-loss, take-profit, deadline, forced exit.
func (m *Manager) OnMark(ctx context.Context, symbol string, mark float64, now time.Time) {
	for _, id := range m.idsFor(symbol) {
		lock := m.lockFor(id)
		lock.Lock()
		p := m.get(id)
		if p == nil {
			lock.Unlock()
			continue
		}

		switch p.State {
		case StateOpen:
			p.markUnrealized(mark)
			observ.SetGauge("position_unrealized_pnl", p.UnrealizedPnL, map[string]string{"symbol": symbol})

			var reason string
			switch {
			case p.stopHit(mark):
				reason = "stop_loss"
			case p.takeProfitHit(mark):
				reason = "take_profit"
			case now.After(p.Deadline):
				reason = "deadline"
			case p.forceExit:
				reason = p.ExitReason
				if reason == "" {
					reason = "forced_exit"
				}
			}
			if reason != "" {
				if err := p.transition(StateClosing); err == nil {
					m.settleAndClose(ctx, p, reason, now)
				}
			}
		case StateClosing:
			// a previously stuck close gets another chance on each tick
			m.settleAndClose(ctx, p, p.ExitReason, now)
		case StateBuilding:
			p.markUnrealized(mark)
		}
		lock.Unlock()
	}
}

// settleAndClose executes the close at the venue and settles from the actual
// fill price. A close that exhausts retries leaves the position CLOSING with
// an error flag for intervention; it is retried on later ticks.
func (m *Manager) settleAndClose(ctx context.Context, p *Position, reason string, now time.Time) {
	if reason == "" {
		reason = "forced_exit"
	}
	p.ExitReason = reason

	fill, err := venue.WithRetry(ctx, m.maxRetries, m.backoffBase, func() (venue.Fill, error) {
		return m.venue.ClosePosition(ctx, p.Symbol, p.Direction, p.FilledQty)
	})
	if err != nil {
		p.ErrorFlag = fmt.Sprintf("close failed: %v", err)
		observ.IncCounter("position_close_failures_total", map[string]string{"symbol": p.Symbol})
		observ.Log("position_close_stuck", map[string]any{"id": p.ID, "error": err.Error()})
		return
	}

	pnl, fees := settle(p.Direction, p.AvgEntryPrice, fill.Price, p.FilledQty, m.cfg.FeeRate)
	p.ClosePrice = fill.Price
	p.RealizedPnL = pnl
	p.FeesUSD = fees
	p.UnrealizedPnL = 0
	p.ErrorFlag = ""
	p.ClosedAt = now.UTC()
	if err := p.transition(StateClosed); err != nil {
		p.ErrorFlag = err.Error()
		return
	}

	m.account.Release(p.MarginUSD)
	m.account.Settle(pnl)

	trade := tradelog.ClosedTrade{
		ID:          p.ID,
		Symbol:      p.Symbol,
		Direction:   p.Direction,
		Quantity:    p.FilledQty,
		EntryPrice:  p.AvgEntryPrice,
		ClosePrice:  fill.Price,
		Leverage:    p.Leverage,
		MarginUSD:   p.MarginUSD,
		FeesUSD:     fees,
		RealizedPnL: pnl,
		EntryScore:  p.EntryScore,
		Components:  p.Components,
		ExitReason:  reason,
		OpenedAt:    p.OpenedAt,
		ClosedAt:    p.ClosedAt,
	}
	if err := m.journal.Append(trade); err != nil {
		observ.IncCounter("tradelog_append_errors_total", nil)
	}

	observ.IncCounter("positions_closed_total", map[string]string{"symbol": p.Symbol, "reason": reason})
	observ.Log("position_closed", map[string]any{
		"id": p.ID, "symbol": p.Symbol, "reason": reason,
		"close_price": fill.Price, "realized_pnl": pnl, "fees": fees,
	})
}

// CancelBuilding stops in-flight staged entries, typically because the
// circuit breaker tripped mid-build. Filled quantity is retained and routed
// toward CLOSING; nothing is ever reverted.
func (m *Manager) CancelBuilding(reason string) {
	for _, id := range m.ids() {
		lock := m.lockFor(id)
		lock.Lock()
		if p := m.get(id); p != nil && p.State == StateBuilding {
			p.cancelRequested = true
			observ.Log("position_cancel_requested", map[string]any{"id": p.ID, "reason": reason})
		}
		lock.Unlock()
	}
}

// ForceExit flags a position for external exit (delisting, emergency
// override); the next mark tick closes it after stop/target/deadline checks.
func (m *Manager) ForceExit(id, reason string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	p := m.get(id)
	if p == nil {
		return ErrNotFound
	}
	if p.State == StateClosed || p.State == StateRejected {
		return ErrPositionClosed
	}
	p.forceExit = true
	if p.ExitReason == "" {
		p.ExitReason = reason
	}
	return nil
}

// Get returns a copy of one position.
func (m *Manager) Get(id string) (Position, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	p := m.get(id)
	if p == nil {
		return Position{}, ErrNotFound
	}
	return *p, nil
}

// Snapshot returns copies of every position, sorted by creation. Each copy
// is taken under that position's lock; the registry lock is never held while
// a position lock is acquired.
func (m *Manager) Snapshot() []Position {
	ids := m.ids()
	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		lock := m.lockFor(id)
		lock.Lock()
		if p := m.get(id); p != nil {
			out = append(out, *p)
		}
		lock.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// LiveSymbols returns symbols with at least one position needing mark ticks.
func (m *Manager) LiveSymbols() []string {
	seen := map[string]bool{}
	out := []string{}
	for _, id := range m.ids() {
		lock := m.lockFor(id)
		lock.Lock()
		if p := m.get(id); p != nil && p.live() && !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
		lock.Unlock()
	}
	sort.Strings(out)
	return out
}

// HasLive reports whether the symbol already has a position in flight,
// used to avoid stacking entries on one symbol.
func (m *Manager) HasLive(symbol string) bool {
	for _, id := range m.idsFor(symbol) {
		lock := m.lockFor(id)
		lock.Lock()
		p := m.get(id)
		live := p != nil && (p.live() || p.State == StatePending)
		lock.Unlock()
		if live {
			return true
		}
	}
	return false
}

func (m *Manager) register(dec signal.Decision, now time.Time) *Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	p := &Position{
		ID:         fmt.Sprintf("pos_%d_%d", now.UnixMilli(), m.seq),
		Symbol:     dec.Symbol,
		Direction:  dec.Direction,
		State:      StatePending,
		EntryScore: dec.FinalScore,
		Components: dec.Activations,
		CreatedAt:  now.UTC(),
	}
	m.positions[p.ID] = p
	m.locks[p.ID] = &sync.Mutex{}
	return p
}

func (m *Manager) reject(p *Position, reason string) Position {
	_ = p.transition(StateRejected)
	p.RejectReason = reason
	observ.IncCounter("positions_rejected_total", map[string]string{"reason": reason})
	observ.Log("position_rejected", map[string]any{"id": p.ID, "symbol": p.Symbol, "reason": reason})
	return *p
}

func (m *Manager) get(id string) *Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positions[id]
}

func (m *Manager) ids() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.positions))
	for id := range m.positions {
		out = append(out, id)
	}
	return out
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

func (m *Manager) idsFor(symbol string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for id, p := range m.positions {
		if p.Symbol == symbol {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// bracket derives stop and target levels around the entry mark.
func bracket(dir signal.Direction, mark, stopPct, targetPct float64) (stop, target float64) {
	if dir == signal.Long {
		return mark * (1 - stopPct/100), mark * (1 + targetPct/100)
	}
	return mark * (1 + stopPct/100), mark * (1 - targetPct/100)
}
