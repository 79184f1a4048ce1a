package signal

import (
	"fmt"
	"sort"
	"time"
)

// WeightRecord is the durable row for one signal component. Weights are
// clamped to the configured band by the adaptation engine; deactivating a
// component zeroes both direction weights without deleting its history.
type WeightRecord struct {
	Kind        Kind      `json:"kind"`
	LongWeight  float64   `json:"long_weight"`
	ShortWeight float64   `json:"short_weight"`
	BaseWeight  float64   `json:"base_weight"`
	Performance float64   `json:"performance"`
	Adjustments int       `json:"adjustments"`
	Active      bool      `json:"active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WeightTable is an immutable snapshot of all weight records plus the digest
// of the trade window that produced it. Evaluators read one table for a whole
// cycle; the adaptation engine replaces the table wholesale.
type WeightTable struct {
	version int64
	digest  string
	records map[Kind]WeightRecord
}

// DefaultWeights seeds the table used before any adaptation has run.
func DefaultWeights() *WeightTable {
	now := time.Now().UTC()
	defaults := map[Kind]float64{
		KindPriceRange:       3,
		KindMomentum:         5,
		KindTrend1h:          4,
		KindTrend1d:          6,
		KindHighVolatility:   2,
		KindVolumePower:      4,
		KindConsecutiveTrend: 3,
		KindBreakout:         7,
		KindBreakdown:        7,
	}
	records := make(map[Kind]WeightRecord, kindCount)
	for k, w := range defaults {
		records[k] = WeightRecord{
			Kind:        k,
			LongWeight:  w,
			ShortWeight: w,
			BaseWeight:  w,
			Active:      true,
			UpdatedAt:   now,
		}
	}
	return &WeightTable{version: 1, records: records}
}

// NewWeightTable builds a snapshot from persisted records.
func NewWeightTable(version int64, digest string, records []WeightRecord) (*WeightTable, error) {
	m := make(map[Kind]WeightRecord, len(records))
	for _, r := range records {
		if !r.Kind.Valid() {
			return nil, fmt.Errorf("invalid signal kind %d in weight record", r.Kind)
		}
		m[r.Kind] = r
	}
	// fill gaps with defaults so new kinds pick up seed weights
	for k, r := range DefaultWeights().records {
		if _, ok := m[k]; !ok {
			m[k] = r
		}
	}
	return &WeightTable{version: version, digest: digest, records: m}, nil
}

func (t *WeightTable) Version() int64 { return t.version }

// Digest identifies the closed-trade window the table was last adapted from.
func (t *WeightTable) Digest() string { return t.digest }

// Weight returns the direction-specific weight, 0 for inactive components.
func (t *WeightTable) Weight(k Kind, d Direction) float64 {
	r, ok := t.records[k]
	if !ok || !r.Active {
		return 0
	}
	if d == Long {
		return r.LongWeight
	}
	return r.ShortWeight
}

// Record returns the record for a kind and whether it exists.
func (t *WeightTable) Record(k Kind) (WeightRecord, bool) {
	r, ok := t.records[k]
	return r, ok
}

// Records returns all records sorted by kind, for persistence and reporting.
func (t *WeightTable) Records() []WeightRecord {
	out := make([]WeightRecord, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// withRecords returns a new table holding the replacement records.
func (t *WeightTable) withRecords(records map[Kind]WeightRecord, digest string) *WeightTable {
	return &WeightTable{version: t.version + 1, digest: digest, records: records}
}
