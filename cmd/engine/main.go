package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/marketdata"
	"github.com/quantfall/futures-engine/internal/observ"
	"github.com/quantfall/futures-engine/internal/position"
	"github.com/quantfall/futures-engine/internal/regime"
	"github.com/quantfall/futures-engine/internal/reputation"
	"github.com/quantfall/futures-engine/internal/risk"
	"github.com/quantfall/futures-engine/internal/signal"
	"github.com/quantfall/futures-engine/internal/store"
	"github.com/quantfall/futures-engine/internal/tradelog"
	"github.com/quantfall/futures-engine/internal/venue"
)

type engine struct {
	cfg       config.Root
	store     *store.Store
	journal   *tradelog.Journal
	account   *position.Account
	detector  *regime.Detector
	extractor *signal.Extractor
	scorer    *signal.Scorer
	adapter   *signal.Adapter
	reput     *reputation.Manager
	breaker   *risk.CircuitBreaker
	manager   *position.Manager
	view      marketdata.View

	mu      sync.RWMutex
	weights *signal.WeightTable
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", envOr("ENGINE_CONFIG", "config.yaml"), "path to YAML config")
	dataDir := flag.String("data-dir", envOr("ENGINE_DATA_DIR", ""), "state directory override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("load config", err)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	eng, err := newEngine(cfg)
	if err != nil {
		fail("init engine", err)
	}

	ctx, stop := osignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observ.Log("engine_started", map[string]any{
		"account":  cfg.AccountID,
		"mode":     cfg.TradingType,
		"symbols":  cfg.Symbols,
		"data_dir": cfg.DataDir,
	})
	eng.run(ctx)

	if err := eng.persist(); err != nil {
		observ.Log("shutdown_persist_failed", map[string]any{"error": err.Error()})
	}
	observ.Log("engine_stopped", nil)
}

func newEngine(cfg config.Root) (*engine, error) {
	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	snap, err := st.Load()
	if err != nil {
		return nil, err
	}

	journal, err := tradelog.Open(filepath.Join(cfg.DataDir, "trades.jsonl"))
	if err != nil {
		return nil, err
	}

	if cfg.Breaker.EventLogPath == "" {
		cfg.Breaker.EventLogPath = filepath.Join(cfg.DataDir, "breaker.jsonl")
	}
	breaker := risk.NewCircuitBreaker(cfg.Breaker)

	balance := cfg.EquityUSD
	weights := signal.DefaultWeights()
	reput := reputation.NewManager(cfg.Reputation)
	if snap != nil {
		balance = snap.BalanceUSD
		reput.Restore(snap.Ratings)
		if restored, err := signal.NewWeightTable(snap.WeightVersion, snap.WeightDigest, snap.Weights); err == nil {
			weights = restored
		} else {
			observ.Log("weights_restore_failed", map[string]any{"error": err.Error()})
		}
	}

	view := marketdata.NewRESTView(cfg.MarketData)
	account := position.NewAccount(balance)
	manager := position.NewManager(cfg.Lifecycle, cfg.Venue, venue.NewPaperVenue(view, cfg.Venue), view,
		account, journal, breaker, reput)

	return &engine{
		cfg:       cfg,
		store:     st,
		journal:   journal,
		account:   account,
		detector:  regime.NewDetector(view, cfg.Regime),
		extractor: signal.NewExtractor(view),
		scorer:    signal.NewScorer(cfg.Scorer),
		adapter:   signal.NewAdapter(cfg.Weights),
		reput:     reput,
		breaker:   breaker,
		manager:   manager,
		view:      view,
		weights:   weights,
	}, nil
}

// run starts every periodic loop and blocks until the context is cancelled.
// Each cycle is isolated: a failure in one symbol or one tick is logged and
// the loop keeps going.
func (e *engine) run(ctx context.Context) {
	var wg sync.WaitGroup

	stream := marketdata.NewStream(e.cfg.MarketData.StreamURL, e.cfg.Symbols)
	if e.cfg.MarketData.StreamURL != "" {
		stream.Start(ctx)
		defer stream.Stop()
	}

	loops := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context, time.Time)
	}{
		{"regime", secs(e.cfg.Regime.IntervalSec), e.regimeCycle},
		{"scorer", secs(e.cfg.Scorer.IntervalSec), e.scorerCycle},
		{"exits", secs(e.cfg.Lifecycle.ExitCheckSec), e.exitCycle},
		{"breaker", time.Minute, e.breakerCycle},
		{"learners", 24 * time.Hour, e.learnerCycle},
		{"persist", time.Minute, e.persistCycle},
	}
	for _, l := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context, time.Time)) {
			defer wg.Done()
			e.loop(ctx, name, interval, fn)
		}(l.name, l.interval, l.fn)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case mark, ok := <-stream.Marks():
				if !ok {
					return
				}
				e.manager.OnMark(ctx, mark.Symbol, mark.Price, mark.Timestamp)
			}
		}
	}()

	server := e.httpServer()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			observ.Log("http_server_failed", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	wg.Wait()
}

func (e *engine) loop(ctx context.Context, name string, interval time.Duration, fn func(context.Context, time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	safe := func(now time.Time) {
		defer func() {
			if r := recover(); r != nil {
				observ.IncCounter("cycle_panics_total", map[string]string{"loop": name})
				observ.Log("cycle_panic", map[string]any{"loop": name, "panic": fmt.Sprint(r)})
			}
		}()
		fn(ctx, now)
	}
	safe(time.Now().UTC())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			safe(now.UTC())
		}
	}
}

func (e *engine) regimeCycle(ctx context.Context, now time.Time) {
	e.detector.RunOnce(ctx, now)
}

// scorerCycle evaluates each configured symbol against the current weight
// table, regime, and rating, and opens positions for accepted decisions.
// Staged entries run for minutes, so accepted opens go to their own goroutine.
func (e *engine) scorerCycle(ctx context.Context, now time.Time) {
	reg := e.detector.Current()
	weights := e.weightsTable()

	for _, symbol := range e.cfg.Symbols {
		if e.manager.HasLive(symbol) {
			continue
		}
		acts, err := e.extractor.Activations(ctx, symbol)
		if err != nil {
			observ.Log("extract_skipped", map[string]any{"symbol": symbol, "error": err.Error()})
			continue
		}
		dec := e.scorer.Evaluate(symbol, acts, weights, reg, e.reput.Rating(symbol), now)
		if !dec.Accepted {
			continue
		}
		go func(dec signal.Decision) {
			if _, err := e.manager.Open(ctx, dec, now); err != nil {
				observ.Log("open_failed", map[string]any{"symbol": dec.Symbol, "error": err.Error()})
			}
		}(dec)
	}
}

// exitCycle is the polling fallback behind the websocket stream; it also
// retries positions stuck in CLOSING.
func (e *engine) exitCycle(ctx context.Context, now time.Time) {
	for _, symbol := range e.manager.LiveSymbols() {
		mark, err := e.view.CurrentMark(ctx, symbol)
		if err != nil {
			observ.Log("exit_check_skipped", map[string]any{"symbol": symbol, "error": err.Error()})
			continue
		}
		e.manager.OnMark(ctx, symbol, mark.Price, now)
	}
}

func (e *engine) breakerCycle(_ context.Context, now time.Time) {
	window := time.Duration(e.cfg.Breaker.DrawdownWindowHrs) * time.Hour
	trades := e.journal.Window(now.Add(-window))
	state := e.breaker.Evaluate(trades, e.account.Equity(), now)
	if state.Active {
		e.manager.CancelBuilding(state.Reason)
	}
}

// learnerCycle runs the two daily jobs: weight adaptation over the trailing
// outcome window, then reputation re-evaluation per traded symbol.
func (e *engine) learnerCycle(_ context.Context, now time.Time) {
	adaptFrom := now.AddDate(0, 0, -e.cfg.Weights.WindowDays)
	outcomes := e.journal.Outcomes(adaptFrom)
	next, adjustments := e.adapter.Rebuild(e.weightsTable(), outcomes, now)
	if len(adjustments) > 0 {
		e.mu.Lock()
		e.weights = next
		e.mu.Unlock()
	}

	reputFrom := now.AddDate(0, 0, -e.cfg.Reputation.WindowDays)
	for _, symbol := range e.journal.Symbols(reputFrom) {
		stats := e.journal.WindowStats(symbol, reputFrom)
		e.reput.Evaluate(symbol, stats, now)
	}
}

func (e *engine) persistCycle(_ context.Context, _ time.Time) {
	if err := e.persist(); err != nil {
		observ.Log("persist_failed", map[string]any{"error": err.Error()})
	}
}

func (e *engine) persist() error {
	weights := e.weightsTable()
	return e.store.Save(store.Snapshot{
		BalanceUSD:    e.account.Balance(),
		WeightVersion: weights.Version(),
		WeightDigest:  weights.Digest(),
		Weights:       weights.Records(),
		Ratings:       e.reput.Snapshot(),
	})
}

func (e *engine) weightsTable() *signal.WeightTable {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.weights
}

func (e *engine) httpServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/healthz", observ.Health())
	mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, e.manager.Snapshot())
	})
	mux.HandleFunc("/weights", func(w http.ResponseWriter, _ *http.Request) {
		weights := e.weightsTable()
		writeJSON(w, map[string]any{
			"version": weights.Version(),
			"digest":  weights.Digest(),
			"records": weights.Records(),
		})
	})
	mux.HandleFunc("/ratings", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, e.reput.Snapshot())
	})
	mux.HandleFunc("/regime", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, e.detector.Current())
	})
	mux.HandleFunc("/breaker", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, e.breaker.Status())
	})
	mux.HandleFunc("/breaker/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		operator := r.FormValue("operator")
		reason := r.FormValue("reason")
		if operator == "" {
			http.Error(w, "operator required", http.StatusBadRequest)
			return
		}
		if err := e.breaker.Resume(operator, reason, time.Now().UTC()); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, e.breaker.Status())
	})
	mux.HandleFunc("/ratings/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		symbol := r.FormValue("symbol")
		reason := r.FormValue("reason")
		if symbol == "" {
			http.Error(w, "symbol required", http.StatusBadRequest)
			return
		}
		if err := e.reput.ResetBan(symbol, reason, time.Now().UTC()); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, e.reput.Rating(symbol))
	})
	return &http.Server{Addr: e.cfg.ListenAddr, Handler: mux}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func secs(n int) time.Duration {
	if n <= 0 {
		n = 60
	}
	return time.Duration(n) * time.Second
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(stage string, err error) {
	fmt.Fprintf(os.Stderr, "engine: %s: %v\n", stage, err)
	os.Exit(1)
}
