package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"TrapFlow/internal/domain/models"
	pkghttp "TrapFlow/pkg/http"
	"TrapFlow/pkg/logger"
)

// RESTSource polls a quote endpoint at a fixed interval. Used when the
// exchange offers no streaming API; pacing goes through a rate limiter so
// config changes cannot hammer the endpoint.
type RESTSource struct {
	url      string
	token    string
	symbol   string
	interval time.Duration
	buffer   int
	client   *pkghttp.Client
	log      *logger.Logger

	limiter   *rate.Limiter
	connected atomic.Bool
}

func NewRESTSource(url, token, symbol string, interval time.Duration, buffer int, client *pkghttp.Client, log *logger.Logger) *RESTSource {
	if interval <= 0 {
		interval = time.Second
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &RESTSource{
		url:      url,
		token:    token,
		symbol:   symbol,
		interval: interval,
		buffer:   buffer,
		client:   client,
		log:      log,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

type restQuote struct {
	Price  float64 `json:"p"`
	Volume float64 `json:"v"`
	TS     int64   `json:"t"` // ms
}

// Connect probes the endpoint once so a bad URL or token fails fast.
func (s *RESTSource) Connect(ctx context.Context) error {
	if _, err := s.fetch(ctx); err != nil {
		return fmt.Errorf("rest connect: %w", err)
	}
	s.connected.Store(true)
	s.log.Info("rest feed ready", logger.String("symbol", s.symbol))
	return nil
}

// Subscribe is a no-op for polling feeds.
func (s *RESTSource) Subscribe(context.Context) error { return nil }

func (s *RESTSource) Read(ctx context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, s.buffer)
	errs := make(chan error, 1)

	go func() {
		defer close(ticks)
		defer close(errs)
		for {
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			q, err := s.fetch(ctx)
			if err != nil {
				s.connected.Store(false)
				errs <- err
				return
			}
			t := &models.Tick{
				Timestamp:  q.TS,
				Price:      decimal.NewFromFloat(q.Price),
				Volume:     decimal.NewFromFloat(q.Volume),
				Source:     "rest",
				ReceivedAt: time.Now().UTC(),
			}
			select {
			case ticks <- t:
			default:
			}
		}
	}()

	return ticks, errs
}

func (s *RESTSource) fetch(ctx context.Context) (*restQuote, error) {
	var q restQuote
	opts := &pkghttp.RequestOptions{
		Method:      http.MethodGet,
		URL:         s.url,
		QueryParams: map[string][]string{"symbol": {s.symbol}},
	}
	if s.token != "" {
		opts.Headers = map[string]string{"Authorization": "Bearer " + s.token}
	}
	if err := s.client.SendAndParse(ctx, opts, &q); err != nil {
		return nil, fmt.Errorf("rest poll: %w", err)
	}
	if q.TS == 0 {
		q.TS = time.Now().UnixMilli()
	}
	return &q, nil
}

// Reconnect re-probes; polling has no connection state to rebuild.
func (s *RESTSource) Reconnect(ctx context.Context) error {
	return s.Connect(ctx)
}

func (s *RESTSource) Close() error {
	s.connected.Store(false)
	return nil
}

func (s *RESTSource) IsConnected() bool { return s.connected.Load() }
