package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

type Regime struct {
	Basket             []string `yaml:"basket"`
	ShortTimeframe     string   `yaml:"short_timeframe"`
	MediumTimeframe    string   `yaml:"medium_timeframe"`
	Lookback           int      `yaml:"lookback"`
	DirectionThreshold float64  `yaml:"direction_threshold"`
	EmergencyWindowHrs int      `yaml:"emergency_window_hours"`
	EmergencyMovePct   float64  `yaml:"emergency_move_pct"`
	ReversalConfirmPct float64  `yaml:"reversal_confirm_pct"`
	EmergencyTTLHrs    int      `yaml:"emergency_ttl_hours"`
	IntervalSec        int      `yaml:"interval_seconds"`
}

type Scorer struct {
	BaseThreshold  float64 `yaml:"base_threshold"`
	Tier1Threshold float64 `yaml:"tier1_threshold"`
	Tier2Threshold float64 `yaml:"tier2_threshold"`
	BonusFactor    float64 `yaml:"bonus_factor"`
	BonusCap       float64 `yaml:"bonus_cap"`
	IntervalSec    int     `yaml:"interval_seconds"`
}

type Weights struct {
	Min        float64 `yaml:"min"`
	Max        float64 `yaml:"max"`
	MaxStep    float64 `yaml:"max_step"`
	MinSamples int     `yaml:"min_samples"`
	WindowDays int     `yaml:"window_days"`
}

type Reputation struct {
	WindowDays     int     `yaml:"window_days"`
	DemoteLossUSD  float64 `yaml:"demote_loss_usd"`
	DemoteWinRate  float64 `yaml:"demote_win_rate"`
	DemoteMinTrade int     `yaml:"demote_min_trades"`
	BanLossUSD     float64 `yaml:"ban_loss_usd"`
}

type Breaker struct {
	ConsecutiveLosses int     `yaml:"consecutive_losses"`
	LossWindowMin     int     `yaml:"loss_window_minutes"`
	DrawdownPct       float64 `yaml:"drawdown_pct"`
	DrawdownWindowHrs int     `yaml:"drawdown_window_hours"`
	CooldownMin       int     `yaml:"cooldown_minutes"`
	EventLogPath      string  `yaml:"event_log_path"`
}

type Lifecycle struct {
	EntryStages     int     `yaml:"entry_stages"`
	StageTimeoutMin int     `yaml:"stage_timeout_minutes"`
	ExitCheckSec    int     `yaml:"exit_check_seconds"`
	MaxHoldHours    int     `yaml:"max_hold_hours"`
	Leverage        float64 `yaml:"leverage"`
	FeeRate         float64 `yaml:"fee_rate"`
	MarginUSD       float64 `yaml:"margin_usd"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TakeProfitPct   float64 `yaml:"take_profit_pct"`
}

type Venue struct {
	LatencyMsMin   int     `yaml:"latency_ms_min"`
	LatencyMsMax   int     `yaml:"latency_ms_max"`
	SlippageBpsMin int     `yaml:"slippage_bps_min"`
	SlippageBpsMax int     `yaml:"slippage_bps_max"`
	MaxRetries     int     `yaml:"max_retries"`
	BackoffBaseMs  int     `yaml:"backoff_base_ms"`
	OrdersPerSec   float64 `yaml:"orders_per_sec"`
}

type MarketData struct {
	BaseURL         string `yaml:"base_url"`
	StreamURL       string `yaml:"stream_url"`
	TimeoutMs       int    `yaml:"timeout_ms"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
	BackoffBaseMs   int    `yaml:"backoff_base_ms"`
}

type Root struct {
	AccountID   string     `yaml:"account_id"`
	TradingType string     `yaml:"trading_type"` // futures | paper
	EquityUSD   float64    `yaml:"equity_usd"`
	Symbols     []string   `yaml:"symbols"`
	DataDir     string     `yaml:"data_dir"`
	ListenAddr  string     `yaml:"listen_addr"`
	Regime      Regime     `yaml:"regime"`
	Scorer      Scorer     `yaml:"scorer"`
	Weights     Weights    `yaml:"weights"`
	Reputation  Reputation `yaml:"reputation"`
	Breaker     Breaker    `yaml:"breaker"`
	Lifecycle   Lifecycle  `yaml:"lifecycle"`
	Venue       Venue      `yaml:"venue"`
	MarketData  MarketData `yaml:"market_data"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	applyDefaults(&c)
	return c, nil
}

// Defaults creates a Root with every knob at its fallback value.
func Defaults() Root {
	var c Root
	applyDefaults(&c)
	return c
}

func applyDefaults(c *Root) {
	if c.AccountID == "" {
		c.AccountID = "default"
	}
	if c.TradingType == "" {
		c.TradingType = "paper"
	}
	if c.EquityUSD == 0 {
		c.EquityUSD = 10000
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}

	if len(c.Regime.Basket) == 0 {
		c.Regime.Basket = []string{"BTCUSDT", "ETHUSDT", "BNBUSDT", "SOLUSDT"}
	}
	if c.Regime.ShortTimeframe == "" {
		c.Regime.ShortTimeframe = "15m"
	}
	if c.Regime.MediumTimeframe == "" {
		c.Regime.MediumTimeframe = "1h"
	}
	if c.Regime.Lookback == 0 {
		c.Regime.Lookback = 20
	}
	if c.Regime.DirectionThreshold == 0 {
		c.Regime.DirectionThreshold = 0.60
	}
	if c.Regime.EmergencyWindowHrs == 0 {
		c.Regime.EmergencyWindowHrs = 24
	}
	if c.Regime.EmergencyMovePct == 0 {
		c.Regime.EmergencyMovePct = 5.0
	}
	if c.Regime.ReversalConfirmPct == 0 {
		c.Regime.ReversalConfirmPct = 1.5
	}
	if c.Regime.EmergencyTTLHrs == 0 {
		c.Regime.EmergencyTTLHrs = 4
	}
	if c.Regime.IntervalSec == 0 {
		c.Regime.IntervalSec = 180
	}

	if c.Scorer.BaseThreshold == 0 {
		c.Scorer.BaseThreshold = 30
	}
	if c.Scorer.Tier1Threshold == 0 {
		c.Scorer.Tier1Threshold = 40
	}
	if c.Scorer.Tier2Threshold == 0 {
		c.Scorer.Tier2Threshold = 50
	}
	if c.Scorer.BonusFactor == 0 {
		c.Scorer.BonusFactor = 0.3
	}
	if c.Scorer.BonusCap == 0 {
		c.Scorer.BonusCap = 20
	}
	if c.Scorer.IntervalSec == 0 {
		c.Scorer.IntervalSec = 60
	}

	if c.Weights.Min == 0 {
		c.Weights.Min = 0.5
	}
	if c.Weights.Max == 0 {
		c.Weights.Max = 10
	}
	if c.Weights.MaxStep == 0 {
		c.Weights.MaxStep = 1.0
	}
	if c.Weights.MinSamples == 0 {
		c.Weights.MinSamples = 5
	}
	if c.Weights.WindowDays == 0 {
		c.Weights.WindowDays = 30
	}

	if c.Reputation.WindowDays == 0 {
		c.Reputation.WindowDays = 7
	}
	if c.Reputation.DemoteLossUSD == 0 {
		c.Reputation.DemoteLossUSD = -100
	}
	if c.Reputation.DemoteWinRate == 0 {
		c.Reputation.DemoteWinRate = 0.35
	}
	if c.Reputation.DemoteMinTrade == 0 {
		c.Reputation.DemoteMinTrade = 8
	}
	if c.Reputation.BanLossUSD == 0 {
		c.Reputation.BanLossUSD = -500
	}

	if c.Breaker.ConsecutiveLosses == 0 {
		c.Breaker.ConsecutiveLosses = 4
	}
	if c.Breaker.LossWindowMin == 0 {
		c.Breaker.LossWindowMin = 60
	}
	if c.Breaker.DrawdownPct == 0 {
		c.Breaker.DrawdownPct = 10
	}
	if c.Breaker.DrawdownWindowHrs == 0 {
		c.Breaker.DrawdownWindowHrs = 24
	}
	if c.Breaker.CooldownMin == 0 {
		c.Breaker.CooldownMin = 120
	}

	if c.Lifecycle.EntryStages == 0 {
		c.Lifecycle.EntryStages = 3
	}
	if c.Lifecycle.StageTimeoutMin == 0 {
		c.Lifecycle.StageTimeoutMin = 10
	}
	if c.Lifecycle.ExitCheckSec == 0 {
		c.Lifecycle.ExitCheckSec = 5
	}
	if c.Lifecycle.MaxHoldHours == 0 {
		c.Lifecycle.MaxHoldHours = 48
	}
	if c.Lifecycle.Leverage == 0 {
		c.Lifecycle.Leverage = 5
	}
	if c.Lifecycle.FeeRate == 0 {
		c.Lifecycle.FeeRate = 0.0005
	}
	if c.Lifecycle.MarginUSD == 0 {
		c.Lifecycle.MarginUSD = 200
	}
	if c.Lifecycle.StopLossPct == 0 {
		c.Lifecycle.StopLossPct = 3.0
	}
	if c.Lifecycle.TakeProfitPct == 0 {
		c.Lifecycle.TakeProfitPct = 6.0
	}

	if c.Venue.LatencyMsMin == 0 {
		c.Venue.LatencyMsMin = 50
	}
	if c.Venue.LatencyMsMax == 0 {
		c.Venue.LatencyMsMax = 500
	}
	if c.Venue.SlippageBpsMin == 0 {
		c.Venue.SlippageBpsMin = 1
	}
	if c.Venue.SlippageBpsMax == 0 {
		c.Venue.SlippageBpsMax = 5
	}
	if c.Venue.MaxRetries == 0 {
		c.Venue.MaxRetries = 3
	}
	if c.Venue.BackoffBaseMs == 0 {
		c.Venue.BackoffBaseMs = 500
	}
	if c.Venue.OrdersPerSec == 0 {
		c.Venue.OrdersPerSec = 5
	}

	if c.MarketData.BaseURL == "" {
		c.MarketData.BaseURL = "http://localhost:8091"
	}
	if c.MarketData.StreamURL == "" {
		c.MarketData.StreamURL = "ws://localhost:8091/stream"
	}
	if c.MarketData.TimeoutMs == 0 {
		c.MarketData.TimeoutMs = 5000
	}
	if c.MarketData.RateLimitPerMin == 0 {
		c.MarketData.RateLimitPerMin = 60
	}
	if c.MarketData.MaxRetries == 0 {
		c.MarketData.MaxRetries = 3
	}
	if c.MarketData.BackoffBaseMs == 0 {
		c.MarketData.BackoffBaseMs = 200
	}
}
