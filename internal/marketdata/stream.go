package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfall/futures-engine/internal/observ"
)

// Stream delivers live mark prices over a websocket connection. It owns the
// read pump and reconnects with backoff; consumers range over Marks. Slow
// consumers lose ticks rather than stalling the pump.
type Stream struct {
	url     string
	symbols []string

	mu     sync.Mutex
	conn   *websocket.Conn
	marks  chan MarkPrice
	cancel context.CancelFunc

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
	reconnectMin time.Duration
	reconnectMax time.Duration
}

func NewStream(url string, symbols []string) *Stream {
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(s)))
	}
	return &Stream{
		url:          url,
		symbols:      upper,
		marks:        make(chan MarkPrice, 4096),
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		pingInterval: 20 * time.Second,
		reconnectMin: time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// Marks is the stream of parsed mark prices.
func (s *Stream) Marks() <-chan MarkPrice { return s.marks }

// Start dials and runs the pump until ctx is cancelled. The marks channel is
// closed when the pump exits for good.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.marks)

	backoff := s.reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.dialAndSubscribe(ctx); err != nil {
			observ.Log("stream_connect_failed", map[string]any{"url": s.url, "error": err.Error()})
			observ.IncCounter("stream_reconnects_total", nil)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.reconnectMax {
				backoff = s.reconnectMax
			}
			continue
		}
		backoff = s.reconnectMin

		s.readPump(ctx)
		// pump exited: connection lost, loop back into reconnect
	}
}

type subscribeMsg struct {
	Method  string   `json:"method"`
	Symbols []string `json:"symbols"`
	ID      int64    `json:"id"`
}

type markMsg struct {
	Type        string  `json:"type"`
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp_ms"`
}

func (s *Stream) dialAndSubscribe(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	sub := subscribeMsg{Method: "SUBSCRIBE_MARK", Symbols: s.symbols, ID: time.Now().Unix()}
	payload, err := json.Marshal(sub)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	observ.Log("stream_connected", map[string]any{"url": s.url, "symbols": len(s.symbols)})
	return nil
}

func (s *Stream) readPump(ctx context.Context) {
	conn := s.conn
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	pinger := time.NewTicker(s.pingInterval)
	defer pinger.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-pinger.C:
				conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				observ.Log("stream_disconnected", map[string]any{"error": err.Error()})
			}
			return
		}
		var msg markMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "mark" {
			continue
		}
		if msg.Price <= 0 || msg.Symbol == "" {
			continue
		}
		mark := MarkPrice{
			Symbol:    strings.ToUpper(msg.Symbol),
			Price:     msg.Price,
			Timestamp: time.UnixMilli(msg.TimestampMs).UTC(),
		}
		select {
		case s.marks <- mark:
		default:
			// drop tick if the consumer is behind
			observ.IncCounter("stream_dropped_marks_total", map[string]string{"symbol": mark.Symbol})
		}
	}
}
