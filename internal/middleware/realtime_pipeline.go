package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
)

// Stage is the downstream the pipeline feeds, normally the detect stage
// (window update + rule evaluation).
type Stage interface {
	Process(ctx context.Context, t *models.Tick) error
}

// TickPipeline sits between the feed and the detect stage. It validates,
// throttles per source, and decouples the feed reader from processing with
// a bounded queue. When the queue is full the OLDEST tick is dropped: a
// fresh price is always worth more than a stale one.
type TickPipeline struct {
	stage   Stage
	metrics domrepo.Metrics
	maxRPS  int
	bufCh   chan *models.Tick
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex

	lastSeen map[string]time.Time // per-source last accepted wall time
}

type PipelineOption func(*TickPipeline)

// WithMaxRPS caps accepted ticks per second per source; 0 disables.
func WithMaxRPS(n int) PipelineOption {
	return func(p *TickPipeline) { p.maxRPS = n }
}

// WithBufferSize sets the queue capacity between feed and detect stage.
func WithBufferSize(n int) PipelineOption {
	return func(p *TickPipeline) {
		if n > 0 {
			p.bufCh = make(chan *models.Tick, n)
		}
	}
}

func NewTickPipeline(stage Stage, metrics domrepo.Metrics, opts ...PipelineOption) *TickPipeline {
	p := &TickPipeline{
		stage:    stage,
		metrics:  metrics,
		bufCh:    make(chan *models.Tick, 4096),
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the single consumer; ordering through the queue is FIFO.
func (p *TickPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		for {
			select {
			case <-p.stopCh:
				return
			case <-ctx.Done():
				return
			case t := <-p.bufCh:
				if t == nil {
					continue
				}
				start := time.Now()
				if err := p.stage.Process(ctx, t); err != nil {
					p.metrics.RecordError("pipeline_process")
				}
				p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
			}
		}
	}()
}

func (p *TickPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and enqueues a tick. Never blocks the feed reader.
func (p *TickPipeline) Process(_ context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick nil")
	}
	if err := t.Validate(); err != nil {
		p.metrics.RecordDrop("invalid")
		return err
	}
	if !p.allow(t.Source, time.Now()) {
		p.metrics.RecordDrop("throttled")
		return nil
	}

	select {
	case p.bufCh <- t:
		return nil
	default:
	}

	// Queue full: evict the oldest, then retry once.
	select {
	case <-p.bufCh:
		p.metrics.RecordDrop("queue_oldest")
	default:
	}
	select {
	case p.bufCh <- t:
	default:
		p.metrics.RecordDrop("queue_full")
	}
	return nil
}

// Depth reports the current queue backlog.
func (p *TickPipeline) Depth() int { return len(p.bufCh) }

func (p *TickPipeline) allow(source string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[source]
	if !last.IsZero() && now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[source] = now
	return true
}
