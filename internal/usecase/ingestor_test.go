package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	mid "TrapFlow/internal/middleware"
)

type scriptedSource struct {
	ticks     []*models.Tick
	connected bool
}

func (s *scriptedSource) Connect(context.Context) error   { s.connected = true; return nil }
func (s *scriptedSource) Subscribe(context.Context) error { return nil }
func (s *scriptedSource) Reconnect(context.Context) error { return nil }
func (s *scriptedSource) Close() error                    { s.connected = false; return nil }
func (s *scriptedSource) IsConnected() bool               { return s.connected }

func (s *scriptedSource) Read(context.Context) (<-chan *models.Tick, <-chan error) {
	ticks := make(chan *models.Tick, len(s.ticks))
	errs := make(chan error)
	for _, t := range s.ticks {
		ticks <- t
	}
	// leave the channels open; the test drives through accept directly
	return ticks, errs
}

type collectStage struct {
	mu    sync.Mutex
	ticks []*models.Tick
}

func (s *collectStage) Process(_ context.Context, t *models.Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
	return nil
}

func (s *collectStage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticks)
}

func srcTick(src string, ts int64, price float64) *models.Tick {
	return &models.Tick{
		Timestamp: ts,
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1),
		Source:    src,
	}
}

func newTestIngestor(t *testing.T) (*Ingestor, *mid.TickPipeline) {
	t.Helper()
	pipe := mid.NewTickPipeline(&collectStage{}, nopMetrics{})
	ing, err := NewIngestor(&scriptedSource{}, pipe, testLogger(t), nopMetrics{})
	if err != nil {
		t.Fatalf("ingestor: %v", err)
	}
	return ing, pipe
}

func TestIngestorDropsDuplicates(t *testing.T) {
	ing, pipe := newTestIngestor(t)
	ctx := context.Background()

	ing.accept(ctx, srcTick("ws", 1000, 100.5))
	ing.accept(ctx, srcTick("ws", 1000, 100.5)) // identical fingerprint
	ing.accept(ctx, srcTick("ws", 1000, 100.6)) // same ts, new price: kept

	if got := pipe.Depth(); got != 2 {
		t.Errorf("queued = %d ticks, want 2", got)
	}
}

func TestIngestorDropsStaleTimestamps(t *testing.T) {
	ing, pipe := newTestIngestor(t)
	ctx := context.Background()

	ing.accept(ctx, srcTick("ws", 2000, 100))
	ing.accept(ctx, srcTick("ws", 1000, 99)) // behind last ws timestamp
	ing.accept(ctx, srcTick("ws", 2000, 101))
	ing.accept(ctx, srcTick("rest", 1000, 99)) // other source, own clock

	if got := pipe.Depth(); got != 3 {
		t.Errorf("queued = %d ticks, want 3", got)
	}
}

func TestIngestorStartStop(t *testing.T) {
	src := &scriptedSource{ticks: []*models.Tick{srcTick("ws", 1000, 100)}}
	stage := &collectStage{}
	pipe := mid.NewTickPipeline(stage, nopMetrics{})
	ing, err := NewIngestor(src, pipe, testLogger(t), nopMetrics{})
	if err != nil {
		t.Fatalf("ingestor: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ing.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !ing.IsConnected() {
		t.Error("not connected after Start")
	}

	deadline := time.Now().Add(time.Second)
	for stage.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := stage.count(); got != 1 {
		t.Errorf("stage got %d ticks, want 1", got)
	}

	cancel()
	if err := ing.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
