package risk

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/quantfall/futures-engine/internal/observ"
)

// BreakerEvent is one line of the append-only breaker event log. The log is
// replayed at startup so an engine restart cannot silently drop an active
// halt.
type BreakerEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Type          string    `json:"type"` // "activated", "cleared", "cooldown_restarted"
	Reason        string    `json:"reason"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// appendEvent persists one breaker transition; callers hold cb.mu.
func (cb *CircuitBreaker) appendEvent(eventType, reason string, now time.Time) {
	if cb.cfg.EventLogPath == "" {
		return
	}
	event := BreakerEvent{
		Timestamp:     now.UTC(),
		Type:          eventType,
		Reason:        reason,
		CooldownUntil: cb.state.CooldownUntil,
	}
	if err := persistEvent(cb.cfg.EventLogPath, event); err != nil {
		observ.IncCounter("breaker_persist_errors_total", map[string]string{"event_type": eventType})
	}
	observ.IncCounter("breaker_events_total", map[string]string{"event_type": eventType})
}

func persistEvent(path string, event BreakerEvent) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create event log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(f, "%s\n", b)
	return err
}

// replayEvents rebuilds breaker state from the event log. The last event
// wins; an "activated" or "cooldown_restarted" tail leaves the breaker
// active with its original reason and cooldown.
func (cb *CircuitBreaker) replayEvents() error {
	if cb.cfg.EventLogPath == "" {
		return nil
	}
	f, err := os.Open(cb.cfg.EventLogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var last *BreakerEvent
	var activatedAt time.Time
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event BreakerEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			observ.IncCounter("breaker_parse_errors_total", nil)
			continue
		}
		if event.Type == "activated" {
			activatedAt = event.Timestamp
		}
		e := event
		last = &e
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan event log: %w", err)
	}

	if last != nil && last.Type != "cleared" {
		cb.state = State{
			Active:        true,
			ActivatedAt:   activatedAt,
			CooldownUntil: last.CooldownUntil,
			Reason:        last.Reason,
		}
		observ.Log("breaker_state_replayed", map[string]any{"reason": last.Reason})
	}
	return nil
}
