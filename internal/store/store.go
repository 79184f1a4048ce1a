// Package store persists engine state between restarts as a single
// versioned JSON snapshot written atomically (temp file + rename).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/quantfall/futures-engine/internal/observ"
	"github.com/quantfall/futures-engine/internal/reputation"
	"github.com/quantfall/futures-engine/internal/signal"
)

const snapshotVersion = 1

// Snapshot is everything the engine needs back after a restart. Closed
// trades live in the journal and breaker history in its event log, so
// neither is duplicated here.
type Snapshot struct {
	Version       int                   `json:"version"`
	SavedAt       time.Time             `json:"saved_at"`
	BalanceUSD    float64               `json:"balance_usd"`
	WeightVersion int64                 `json:"weight_version"`
	WeightDigest  string                `json:"weight_digest"`
	Weights       []signal.WeightRecord `json:"weights"`
	Ratings       []reputation.Rating   `json:"ratings"`
}

type Store struct {
	path string
}

func New(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{path: filepath.Join(dataDir, "state.json")}, nil
}

// Load reads the last snapshot. A missing file is a clean first start and
// returns (nil, nil); a corrupt or future-versioned file is an error so the
// operator decides rather than silently starting from defaults.
func (s *Store) Load() (*Snapshot, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", s.path, err)
	}
	if snap.Version > snapshotVersion {
		return nil, fmt.Errorf("state %s has version %d, newer than supported %d", s.path, snap.Version, snapshotVersion)
	}
	return &snap, nil
}

// Save writes the snapshot atomically so a crash mid-write never leaves a
// truncated state file behind.
func (s *Store) Save(snap Snapshot) error {
	snap.Version = snapshotVersion
	snap.SavedAt = time.Now().UTC()

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state temp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	observ.IncCounter("state_snapshots_total", nil)
	return nil
}
