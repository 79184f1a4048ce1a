package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/quantfall/futures-engine/internal/config"
	"github.com/quantfall/futures-engine/internal/observ"
)

// RESTView fetches candle windows and mark prices from the market-data
// service over HTTP. Calls are rate limited and retried with bounded
// backoff; exhaustion surfaces as a DataError so one symbol's outage never
// stalls a whole evaluation cycle.
type RESTView struct {
	client  *resty.Client
	limiter *rate.Limiter
	cfg     config.MarketData
}

func NewRESTView(cfg config.MarketData) *RESTView {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(time.Duration(cfg.TimeoutMs) * time.Millisecond)

	return &RESTView{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMin)/60), 1),
		cfg:     cfg,
	}
}

type candlesResponse struct {
	Candles []Candle `json:"candles"`
}

type markResponse struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp_ms"`
}

func (v *RESTView) RecentCandles(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}
	if limit <= 0 {
		limit = 20
	}

	var out candlesResponse
	err := v.do(ctx, symbol, func() (*resty.Response, error) {
		return v.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"symbol":    symbol,
				"timeframe": string(tf),
				"limit":     fmt.Sprintf("%d", limit),
			}).
			SetResult(&out).
			Get("/candles")
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(out.Candles))
	for i := range out.Candles {
		c := out.Candles[i]
		if err := ValidateCandle(&c); err != nil {
			observ.IncCounter("marketdata_invalid_candles_total", map[string]string{"symbol": symbol})
			continue
		}
		candles = append(candles, c)
	}
	if len(candles) == 0 {
		return nil, NewUnavailableError(symbol, fmt.Sprintf("no valid %s candles", tf))
	}
	return candles, nil
}

func (v *RESTView) CurrentMark(ctx context.Context, symbol string) (MarkPrice, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return MarkPrice{}, NewBadSymbolError(symbol, "empty symbol")
	}

	var out markResponse
	err := v.do(ctx, symbol, func() (*resty.Response, error) {
		return v.client.R().
			SetContext(ctx).
			SetQueryParam("symbol", symbol).
			SetResult(&out).
			Get("/mark")
	})
	if err != nil {
		return MarkPrice{}, err
	}
	if out.Price <= 0 {
		return MarkPrice{}, NewUnavailableError(symbol, "invalid mark price")
	}
	return MarkPrice{
		Symbol:    out.Symbol,
		Price:     out.Price,
		Timestamp: time.UnixMilli(out.Timestamp).UTC(),
	}, nil
}

// do runs one request with rate limiting and bounded retry.
func (v *RESTView) do(ctx context.Context, symbol string, fn func() (*resty.Response, error)) error {
	var lastErr error
	for attempt := 0; attempt <= v.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(v.cfg.BackoffBaseMs*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return NewNetworkError(symbol, "context cancelled during backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}

		if err := v.limiter.Wait(ctx); err != nil {
			return NewNetworkError(symbol, "rate limiter wait failed", err)
		}

		resp, err := fn()
		if err != nil {
			lastErr = err
			observ.IncCounter("marketdata_request_errors_total", map[string]string{"symbol": symbol})
			continue
		}
		if resp.IsError() {
			lastErr = fmt.Errorf("status %d", resp.StatusCode())
			observ.IncCounter("marketdata_request_errors_total", map[string]string{"symbol": symbol})
			// 4xx will not heal with retries
			if resp.StatusCode() >= 400 && resp.StatusCode() < 500 {
				return NewUnavailableError(symbol, lastErr.Error())
			}
			continue
		}
		observ.IncCounter("marketdata_requests_total", map[string]string{"symbol": symbol})
		return nil
	}
	return NewNetworkError(symbol, fmt.Sprintf("exhausted %d retries", v.cfg.MaxRetries), lastErr)
}
