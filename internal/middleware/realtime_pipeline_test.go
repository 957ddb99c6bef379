package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
)

type nopMetrics struct{}

func (nopMetrics) RecordTick(string)               {}
func (nopMetrics) RecordDrop(string)               {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordEvent(string, string)      {}
func (nopMetrics) RecordAlert(string, string)      {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLatency(string, float64)   {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) SetHealth(string, bool)          {}

type captureStage struct {
	ticks chan *models.Tick
}

func (s *captureStage) Process(_ context.Context, t *models.Tick) error {
	s.ticks <- t
	return nil
}

func tick(ts int64, price float64) *models.Tick {
	return &models.Tick{
		Timestamp: ts,
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1),
		Source:    "test",
	}
}

func TestPipelineRejectsInvalidTick(t *testing.T) {
	p := NewTickPipeline(&captureStage{ticks: make(chan *models.Tick, 1)}, nopMetrics{})
	if err := p.Process(context.Background(), tick(0, 100)); err == nil {
		t.Error("zero timestamp accepted")
	}
	if err := p.Process(context.Background(), tick(1, -5)); err == nil {
		t.Error("negative price accepted")
	}
	if p.Depth() != 0 {
		t.Errorf("depth = %d, want 0", p.Depth())
	}
}

func TestPipelineDropsOldestWhenFull(t *testing.T) {
	// Capacity 2, consumer not started: the queue fills and evicts.
	p := NewTickPipeline(&captureStage{ticks: make(chan *models.Tick, 8)}, nopMetrics{}, WithBufferSize(2))
	for ts := int64(1); ts <= 4; ts++ {
		if err := p.Process(context.Background(), tick(ts, 100)); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	if p.Depth() != 2 {
		t.Fatalf("depth = %d, want 2", p.Depth())
	}

	// Oldest two were evicted; ts 3 and 4 remain.
	stage := &captureStage{ticks: make(chan *models.Tick, 8)}
	p2 := NewTickPipeline(stage, nopMetrics{}, WithBufferSize(2))
	_ = p2.Process(context.Background(), tick(1, 100))
	_ = p2.Process(context.Background(), tick(2, 100))
	_ = p2.Process(context.Background(), tick(3, 100))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p2.Start(ctx)
	first := <-stage.ticks
	if first.Timestamp != 2 {
		t.Errorf("first processed ts = %d, want 2 (oldest evicted)", first.Timestamp)
	}
	p2.Stop()
}

func TestPipelineDeliversInOrder(t *testing.T) {
	stage := &captureStage{ticks: make(chan *models.Tick, 8)}
	p := NewTickPipeline(stage, nopMetrics{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	for ts := int64(1); ts <= 3; ts++ {
		_ = p.Process(ctx, tick(ts, 100))
	}
	for want := int64(1); want <= 3; want++ {
		select {
		case got := <-stage.ticks:
			if got.Timestamp != want {
				t.Fatalf("got ts %d, want %d", got.Timestamp, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for tick")
		}
	}
}
