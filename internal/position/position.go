package position

import (
	"errors"
	"fmt"
	"time"

	"github.com/quantfall/futures-engine/internal/signal"
)

// State is a position's lifecycle stage.
type State string

const (
	StatePending  State = "PENDING"
	StateBuilding State = "BUILDING"
	StateOpen     State = "OPEN"
	StateClosing  State = "CLOSING"
	StateClosed   State = "CLOSED"
	StateRejected State = "REJECTED"
)

var (
	// ErrPositionClosed guards the realized-P&L immutability contract:
	// a CLOSED position is never mutated again.
	ErrPositionClosed = errors.New("position is closed")
	// ErrInvalidTransition marks a programming-contract violation in the
	// state machine; such calls fail closed.
	ErrInvalidTransition = errors.New("invalid position state transition")
	// ErrNotFound is returned for unknown position ids.
	ErrNotFound = errors.New("position not found")
)

var transitions = map[State][]State{
	StatePending:  {StateBuilding, StateRejected},
	StateBuilding: {StateOpen, StateClosing, StateRejected},
	StateOpen:     {StateClosing},
	StateClosing:  {StateClosed},
}

// Position is one leveraged exposure to a symbol. It is owned exclusively by
// the lifecycle Manager; everyone else sees value copies.
type Position struct {
	ID        string           `json:"id"`
	Symbol    string           `json:"symbol"`
	Direction signal.Direction `json:"direction"`
	State     State            `json:"state"`

	RequestedQty  float64 `json:"requested_qty"`
	FilledQty     float64 `json:"filled_qty"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	Leverage      float64 `json:"leverage"`
	MarginUSD     float64 `json:"margin_usd"`

	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Deadline   time.Time `json:"deadline"`

	EntryScore float64             `json:"entry_score"`
	Components []signal.Activation `json:"components"`

	UnrealizedPnL float64 `json:"unrealized_pnl"`
	RealizedPnL   float64 `json:"realized_pnl"`
	FeesUSD       float64 `json:"fees_usd"`
	ClosePrice    float64 `json:"close_price,omitempty"`
	ExitReason    string  `json:"exit_reason,omitempty"`

	// ErrorFlag marks a position stuck after exhausting venue retries;
	// it stays in its last state for external intervention.
	ErrorFlag string `json:"error_flag,omitempty"`

	RejectReason string    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	ClosedAt     time.Time `json:"closed_at,omitempty"`

	forceExit       bool
	cancelRequested bool
}

// transition moves the position to a new state, failing closed on anything
// the state machine does not allow.
func (p *Position) transition(to State) error {
	if p.State == StateClosed || p.State == StateRejected {
		return fmt.Errorf("%w: %s -> %s", ErrPositionClosed, p.State, to)
	}
	for _, allowed := range transitions[p.State] {
		if allowed == to {
			p.State = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.State, to)
}

// applyFill folds one staged fill into the quantity-weighted average entry.
// Fills only ever move forward; partial fills are never reverted.
func (p *Position) applyFill(price, qty float64) {
	total := p.FilledQty + qty
	if total <= 0 {
		return
	}
	p.AvgEntryPrice = (p.AvgEntryPrice*p.FilledQty + price*qty) / total
	p.FilledQty = total
}

// live reports whether the position still needs mark ticks.
func (p *Position) live() bool {
	return p.State == StateBuilding || p.State == StateOpen || p.State == StateClosing
}

// markUnrealized recomputes unrealized P&L at the given mark price.
func (p *Position) markUnrealized(mark float64) {
	if p.FilledQty <= 0 || p.AvgEntryPrice <= 0 {
		p.UnrealizedPnL = 0
		return
	}
	p.UnrealizedPnL = (mark - p.AvgEntryPrice) * p.FilledQty * p.Direction.Sign()
}

// stopHit reports whether the mark price crossed the stop-loss level.
func (p *Position) stopHit(mark float64) bool {
	if p.Direction == signal.Long {
		return mark <= p.StopLoss
	}
	return mark >= p.StopLoss
}

// takeProfitHit reports whether the mark price crossed the take-profit level.
func (p *Position) takeProfitHit(mark float64) bool {
	if p.Direction == signal.Long {
		return mark >= p.TakeProfit
	}
	return mark <= p.TakeProfit
}

// bracketValid checks that stop and target bracket the entry consistently
// with the direction.
func bracketValid(dir signal.Direction, entry, stop, target float64) bool {
	if dir == signal.Long {
		return stop < entry && entry < target
	}
	return target < entry && entry < stop
}
