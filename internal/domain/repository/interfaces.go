package repository

import (
	"context"
	"time"

	"TrapFlow/internal/domain/models"
)

// PriceSource streams normalized ticks from an external feed.
type PriceSource interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventFilter narrows journal queries.
type EventFilter struct {
	From          time.Time
	To            time.Time
	TrapTypes     []models.TrapType
	Timeframes    []models.Timeframe
	MinConfidence float64
	Limit         int
}

// EventCursor iterates query results in detected_at order.
type EventCursor interface {
	Next() bool
	Event() *models.TrapEvent
	Err() error
	Close() error
}

// Journal durably stores trap events and answers range queries.
type Journal interface {
	Append(ctx context.Context, e *models.TrapEvent) error
	Query(ctx context.Context, f EventFilter) (EventCursor, error)
	Count(ctx context.Context, f EventFilter) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// Cache is the hot KV store for snapshots and alert records.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Close() error
}

// CandleWindow is the read side of the rolling window store, used by the
// detector rules. Implementations must allow concurrent readers against a
// single writer.
type CandleWindow interface {
	// Window returns the last n closed candles plus the in-progress one
	// (last element), oldest first.
	Window(tf models.Timeframe, n int) []models.Candle
	// Generation increments on every mutation; readers use it to detect
	// whether a snapshot is consistent.
	Generation() uint64
}

// TradeOutcomeProvider supplies external trade results for performance
// aggregation. The pipeline runs without one; snapshots then omit the
// performance section and set a flag.
type TradeOutcomeProvider interface {
	Outcomes(ctx context.Context, from, to time.Time) ([]models.TradeOutcome, error)
}

// Scorer is an optional injected scoring function whose output is merged
// into event indicators. Its internals are opaque to the pipeline.
type Scorer interface {
	Score(e *models.TrapEvent) map[string]float64
}

// Metrics records pipeline observability signals.
type Metrics interface {
	RecordTick(source string)
	RecordDrop(reason string)
	RecordReconnect(source string)
	RecordEvent(trapType, timeframe string)
	RecordAlert(sink, status string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordLastPrice(source string, price float64)
	SetHealth(component string, healthy bool)
}
