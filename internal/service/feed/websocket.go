package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	"TrapFlow/pkg/logger"
)

// WSSource streams ticks from an exchange WebSocket feed.
type WSSource struct {
	url          string
	token        string
	symbol       string
	pingInterval time.Duration
	buffer       int
	log          *logger.Logger
	bo           *backoff

	mu        sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

func NewWSSource(url, token, symbol string, pingInterval, reconnectBase, reconnectCap time.Duration, buffer int, log *logger.Logger) *WSSource {
	if buffer <= 0 {
		buffer = 1024
	}
	return &WSSource{
		url:          url,
		token:        token,
		symbol:       symbol,
		pingInterval: pingInterval,
		buffer:       buffer,
		log:          log,
		bo:           newBackoff(reconnectBase, reconnectCap),
	}
}

func (s *WSSource) Connect(ctx context.Context) error {
	u := s.url
	if s.token != "" {
		u = fmt.Sprintf("%s?token=%s", s.url, s.token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)
	s.bo.Reset()
	s.log.Info("ws feed connected", logger.String("symbol", s.symbol))
	return nil
}

func (s *WSSource) Subscribe(ctx context.Context) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !s.connected.Load() {
		return fmt.Errorf("ws not connected")
	}
	msg := map[string]string{"type": "subscribe", "symbol": s.symbol}
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.symbol, err)
	}
	s.log.Info("ws feed subscribed", logger.String("symbol", s.symbol))
	return nil
}

// wire format: {"type":"trade","data":[{"s":..,"p":..,"v":..,"t":ms}]}
type wsTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	V float64 `json:"v"`
	T int64   `json:"t"`
}

type wsMessage struct {
	Type string    `json:"type"`
	Data []wsTrade `json:"data"`
}

// Read streams ticks until the connection drops; then the error channel
// carries the cause and both channels close. The caller reconnects and
// calls Read again.
func (s *WSSource) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, s.buffer)
	errs := make(chan error, 1)

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	// done ends the ping loop with this read session; Read is called again
	// after every reconnect and each call must not outlive its connection.
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(ticks)
		defer close(errs)
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if conn == nil {
				errs <- fmt.Errorf("ws conn nil")
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				s.connected.Store(false)
				errs <- fmt.Errorf("ws read: %w", err)
				return
			}
			var m wsMessage
			if err := json.Unmarshal(b, &m); err != nil || m.Type != "trade" {
				// non-trade frames (acks, heartbeats) are skipped
				continue
			}
			for _, d := range m.Data {
				t := &models.Tick{
					Timestamp:  d.T,
					Price:      decimal.NewFromFloat(d.P),
					Volume:     decimal.NewFromFloat(d.V),
					Source:     "ws",
					ReceivedAt: time.Now().UTC(),
				}
				select {
				case ticks <- t:
				default:
					// channel backpressure; the ingestor tracks drops
				}
			}
		}
	}()

	return ticks, errs
}

// Reconnect closes the old connection and dials again after a jittered
// exponential delay.
func (s *WSSource) Reconnect(ctx context.Context) error {
	_ = s.Close()
	delay := s.bo.Next()
	s.log.Warn("ws feed reconnecting", logger.Duration("delay", delay))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}
	return s.Subscribe(ctx)
}

func (s *WSSource) Close() error {
	s.connected.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}

func (s *WSSource) IsConnected() bool { return s.connected.Load() }
