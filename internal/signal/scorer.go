package signal

import (
	"math"
	"time"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/observ"
	"github.com/quantfall/futures-engine/internal/regime"
	"github.com/quantfall/futures-engine/internal/reputation"
)

// VetoScore is the sentinel a direction score is forced to when the regime
// vetoes that direction. It is below any reachable threshold.
const VetoScore = -1

// Contribution is one component's share of a direction score, kept for audit.
type Contribution struct {
	Kind      Kind      `json:"kind"`
	Direction Direction `json:"direction"`
	Weight    float64   `json:"weight"`
}

// Breakdown is the full audit trail of one evaluation. It is stored with the
// resulting position so a closed trade can always explain its entry.
type Breakdown struct {
	Contributions []Contribution `json:"contributions"`
	LongVetoed    bool           `json:"long_vetoed"`
	ShortVetoed   bool           `json:"short_vetoed"`
	VetoReason    string         `json:"veto_reason,omitempty"`
	RegimeBonus   float64        `json:"regime_bonus"`
	Threshold     float64        `json:"threshold"`
	WeightVersion int64          `json:"weight_version"`
}

// Decision is the outcome of scoring one symbol on one tick.
type Decision struct {
	Symbol      string       `json:"symbol"`
	Accepted    bool         `json:"accepted"`
	Direction   Direction    `json:"direction,omitempty"`
	LongScore   float64      `json:"long_score"`
	ShortScore  float64      `json:"short_score"`
	FinalScore  float64      `json:"final_score"`
	Reject      string       `json:"reject_reason,omitempty"`
	Breakdown   Breakdown    `json:"breakdown"`
	Activations []Activation `json:"activations"`
	EvaluatedAt time.Time    `json:"evaluated_at"`
}

// Scorer combines fired signal components into direction scores and an
// accept/reject decision. It holds no mutable state: weights, regime and
// rating arrive as snapshots on every call.
type Scorer struct {
	cfg config.Scorer
}

func NewScorer(cfg config.Scorer) *Scorer {
	return &Scorer{cfg: cfg}
}

// Evaluate scores both directions for one symbol. Gate rejections are
// expected outcomes, recorded in the decision, never errors.
func (s *Scorer) Evaluate(symbol string, acts []Activation, weights *WeightTable,
	reg regime.State, rating reputation.Rating, now time.Time) Decision {

	dec := Decision{
		Symbol:      symbol,
		Activations: acts,
		EvaluatedAt: now.UTC(),
		Breakdown:   Breakdown{WeightVersion: weights.Version()},
	}

	// banned symbols are rejected before any scoring
	if !rating.Eligible() {
		dec.Reject = "symbol_banned"
		s.logDecision(dec)
		return dec
	}

	for _, a := range acts {
		if !a.Kind.Valid() {
			continue
		}
		w := weights.Weight(a.Kind, a.Direction)
		if w == 0 {
			continue
		}
		if a.Direction == Long {
			dec.LongScore += w
		} else {
			dec.ShortScore += w
		}
		dec.Breakdown.Contributions = append(dec.Breakdown.Contributions, Contribution{
			Kind: a.Kind, Direction: a.Direction, Weight: w,
		})
	}

	s.applyVeto(&dec, reg, now)

	winner, winning := s.pickWinner(dec.LongScore, dec.ShortScore)
	if winner == "" {
		if dec.Reject == "" {
			dec.Reject = "ambiguous_or_vetoed"
		}
		s.logDecision(dec)
		return dec
	}

	// regime-aligned bonus, capped
	final := winning
	if aligned(winner, reg.Direction) {
		bonus := math.Min(s.cfg.BonusCap, reg.Strength*s.cfg.BonusFactor)
		final += bonus
		dec.Breakdown.RegimeBonus = bonus
	}

	threshold := s.thresholdFor(rating.Level)
	dec.Breakdown.Threshold = threshold
	dec.FinalScore = final

	// the threshold must be exceeded; an exact hit is not enough
	if final <= threshold {
		dec.Reject = "below_threshold"
		s.logDecision(dec)
		return dec
	}

	dec.Accepted = true
	dec.Direction = winner
	s.logDecision(dec)
	return dec
}

// applyVeto forces a vetoed direction's score to the sentinel. The veto is
// absolute: a blocked direction can never be accepted regardless of score.
// Beyond explicit block flags, trades must align with the regime: BULLISH
// forbids SHORT, BEARISH forbids LONG, NEUTRAL forbids both.
func (s *Scorer) applyVeto(dec *Decision, reg regime.State, now time.Time) {
	vetoLong := reg.BlocksLong(now)
	vetoShort := reg.BlocksShort(now)

	switch reg.Direction {
	case regime.Bullish:
		vetoShort = true
	case regime.Bearish:
		vetoLong = true
	case regime.Neutral:
		vetoLong = true
		vetoShort = true
		dec.Breakdown.VetoReason = "neutral_regime"
	}
	if reg.BlocksLong(now) || reg.BlocksShort(now) {
		dec.Breakdown.VetoReason = "emergency_block"
	}

	if vetoLong {
		dec.LongScore = VetoScore
		dec.Breakdown.LongVetoed = true
	}
	if vetoShort {
		dec.ShortScore = VetoScore
		dec.Breakdown.ShortVetoed = true
	}
	if vetoLong && vetoShort && dec.Reject == "" {
		dec.Reject = "regime_veto"
	}
}

// pickWinner chooses the stronger non-vetoed direction. An exact tie is an
// ambiguous signal and selects nothing.
func (s *Scorer) pickWinner(long, short float64) (Direction, float64) {
	switch {
	case long == VetoScore && short == VetoScore:
		return "", 0
	case long == VetoScore:
		if short > 0 {
			return Short, short
		}
	case short == VetoScore:
		if long > 0 {
			return Long, long
		}
	case long > short && long > 0:
		return Long, long
	case short > long && short > 0:
		return Short, short
	}
	return "", 0
}

// thresholdFor returns the minimum accept score for a rating tier; degraded
// tiers must clear progressively higher bars.
func (s *Scorer) thresholdFor(level reputation.Level) float64 {
	switch level {
	case reputation.LevelWatch:
		return s.cfg.Tier1Threshold
	case reputation.LevelRestricted:
		return s.cfg.Tier2Threshold
	default:
		return s.cfg.BaseThreshold
	}
}

func aligned(d Direction, r regime.Direction) bool {
	return (d == Long && r == regime.Bullish) || (d == Short && r == regime.Bearish)
}

func (s *Scorer) logDecision(dec Decision) {
	if dec.Accepted {
		observ.IncCounter("score_decisions_total", map[string]string{"result": "accept", "direction": string(dec.Direction)})
		observ.Log("decision_accepted", map[string]any{
			"symbol":    dec.Symbol,
			"direction": string(dec.Direction),
			"score":     dec.FinalScore,
			"threshold": dec.Breakdown.Threshold,
			"bonus":     dec.Breakdown.RegimeBonus,
		})
		return
	}
	observ.IncCounter("score_decisions_total", map[string]string{"result": "reject"})
	observ.Log("decision_rejected", map[string]any{
		"symbol":      dec.Symbol,
		"reason":      dec.Reject,
		"long_score":  dec.LongScore,
		"short_score": dec.ShortScore,
	})
}
