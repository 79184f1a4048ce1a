package signal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/observ"
)

// Outcome is one closed trade as seen by the adaptation engine: the direction
// taken, the components that contributed at entry, and the realized result.
type Outcome struct {
	TradeID   string
	Direction Direction
	Kinds     []Kind
	PnLUSD    float64
	ClosedAt  time.Time
}

// Adjustment describes one applied weight change, for observability.
type Adjustment struct {
	Kind        Kind      `json:"kind"`
	Direction   Direction `json:"direction"`
	OldWeight   float64   `json:"old_weight"`
	NewWeight   float64   `json:"new_weight"`
	Performance float64   `json:"performance"`
	Samples     int       `json:"samples"`
}

// Adapter recomputes component weights from realized trade outcomes over a
// trailing window. A run over an unchanged window is a no-op: the window
// digest is recorded on the produced table and compared on the next run.
type Adapter struct {
	cfg config.Weights
}

func NewAdapter(cfg config.Weights) *Adapter {
	return &Adapter{cfg: cfg}
}

type dirStats struct {
	samples int
	wins    int
	pnlSum  float64
}

// Rebuild returns a new weight table derived from the outcomes, plus the
// adjustments applied. Components with fewer than the minimum sample count
// keep their weight; every new weight stays inside the configured band and
// within the per-run step of the previous value.
func (a *Adapter) Rebuild(table *WeightTable, outcomes []Outcome, now time.Time) (*WeightTable, []Adjustment) {
	digest := windowDigest(outcomes)
	if digest == table.Digest() {
		observ.Log("weight_adaptation_skipped", map[string]any{"reason": "window_unchanged", "digest": digest})
		return table, nil
	}

	stats := map[Kind]map[Direction]*dirStats{}
	for _, o := range outcomes {
		for _, k := range o.Kinds {
			if !k.Valid() {
				continue
			}
			if stats[k] == nil {
				stats[k] = map[Direction]*dirStats{}
			}
			ds := stats[k][o.Direction]
			if ds == nil {
				ds = &dirStats{}
				stats[k][o.Direction] = ds
			}
			ds.samples++
			ds.pnlSum += o.PnLUSD
			if o.PnLUSD > 0 {
				ds.wins++
			}
		}
	}

	records := make(map[Kind]WeightRecord, kindCount)
	var adjustments []Adjustment
	for _, rec := range table.Records() {
		next := rec
		for _, dir := range []Direction{Long, Short} {
			ds := stats[rec.Kind][dir]
			if ds == nil || ds.samples < a.cfg.MinSamples {
				continue
			}
			winRate := float64(ds.wins) / float64(ds.samples)
			avgPnL := ds.pnlSum / float64(ds.samples)
			// average P&L scaled by hit rate so a lucky low-win-rate
			// component earns less than a consistent one
			perf := avgPnL * (0.5 + winRate/2)

			old := weightFor(next, dir)
			updated := a.step(old, perf)
			if updated == old {
				continue
			}
			setWeight(&next, dir, updated)
			next.Performance = perf
			next.Adjustments++
			next.UpdatedAt = now.UTC()
			adjustments = append(adjustments, Adjustment{
				Kind: rec.Kind, Direction: dir,
				OldWeight: old, NewWeight: updated,
				Performance: perf, Samples: ds.samples,
			})
		}
		records[rec.Kind] = next
	}

	for _, adj := range adjustments {
		observ.Log("weight_adjusted", map[string]any{
			"kind":        adj.Kind.String(),
			"direction":   string(adj.Direction),
			"old":         adj.OldWeight,
			"new":         adj.NewWeight,
			"performance": adj.Performance,
			"samples":     adj.Samples,
		})
	}
	observ.IncCounterBy("weight_adjustments_total", nil, int64(len(adjustments)))

	return table.withRecords(records, digest), adjustments
}

// step moves a weight toward better or worse proportionally to performance,
// limited to the per-run step and clamped to the band. The clamp is an
// intentional bound, not an invariant violation.
func (a *Adapter) step(current, perf float64) float64 {
	// normalize performance into a bounded nudge
	delta := math.Tanh(perf/10) * a.cfg.MaxStep
	next := current + delta
	if next < a.cfg.Min {
		next = a.cfg.Min
	}
	if next > a.cfg.Max {
		next = a.cfg.Max
	}
	return next
}

func weightFor(r WeightRecord, d Direction) float64 {
	if d == Long {
		return r.LongWeight
	}
	return r.ShortWeight
}

func setWeight(r *WeightRecord, d Direction, w float64) {
	if d == Long {
		r.LongWeight = w
	} else {
		r.ShortWeight = w
	}
}

// windowDigest fingerprints the trailing window so that re-running over the
// same closed trades produces no further change.
func windowDigest(outcomes []Outcome) string {
	ids := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		ids = append(ids, fmt.Sprintf("%s:%d:%.4f", o.TradeID, o.ClosedAt.UnixMilli(), o.PnLUSD))
	}
	sort.Strings(ids)
	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
