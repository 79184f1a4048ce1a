package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/quantfall/futures-engine/internal/reputation"
	"github.com/quantfall/futures-engine/internal/signal"
)

func TestLoadMissingIsCleanStart(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	snap, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap != nil {
		t.Fatal("missing state file should load as nil")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	weights := signal.DefaultWeights()
	in := Snapshot{
		BalanceUSD:    9876.5,
		WeightVersion: weights.Version(),
		WeightDigest:  "abc123",
		Weights:       weights.Records(),
		Ratings: []reputation.Rating{
			{Symbol: "PEPEUSDT", Level: reputation.LevelWatch, Reason: "lossy window"},
		},
	}
	if err := s.Save(in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out == nil {
		t.Fatal("saved snapshot should load")
	}
	if out.BalanceUSD != 9876.5 {
		t.Errorf("balance = %v, want 9876.5", out.BalanceUSD)
	}
	if len(out.Weights) != len(in.Weights) {
		t.Errorf("weights = %d records, want %d", len(out.Weights), len(in.Weights))
	}
	if len(out.Ratings) != 1 || out.Ratings[0].Level != reputation.LevelWatch {
		t.Errorf("ratings did not round-trip: %+v", out.Ratings)
	}
	if out.SavedAt.IsZero() {
		t.Error("save should stamp SavedAt")
	}

	// the restored weight records rebuild into a usable table
	table, err := signal.NewWeightTable(out.WeightVersion, out.WeightDigest, out.Weights)
	if err != nil {
		t.Fatalf("rebuild table: %v", err)
	}
	if table.Digest() != "abc123" {
		t.Errorf("digest = %q, want abc123", table.Digest())
	}
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)

	s.Save(Snapshot{BalanceUSD: 1})
	s.Save(Snapshot{BalanceUSD: 2})

	out, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.BalanceUSD != 2 {
		t.Errorf("balance = %v, want latest 2", out.BalanceUSD)
	}
	if _, err := os.Stat(filepath.Join(dir, "state.json.tmp")); !os.IsNotExist(err) {
		t.Error("temp file should not survive a save")
	}
}

func TestLoadCorruptStateErrors(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	os.WriteFile(filepath.Join(dir, "state.json"), []byte("{half a snapshot"), 0o644)

	if _, err := s.Load(); err == nil {
		t.Fatal("corrupt state must error, not silently reset")
	}
}

func TestLoadFutureVersionErrors(t *testing.T) {
	dir := t.TempDir()
	s, _ := New(dir)
	os.WriteFile(filepath.Join(dir, "state.json"), []byte(`{"version": 99}`), 0o644)

	if _, err := s.Load(); err == nil {
		t.Fatal("a newer snapshot version must be refused")
	}
}
