package usecase

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	mid "TrapFlow/internal/middleware"
	"TrapFlow/pkg/logger"
)

// dedupWindow is how many recent tick fingerprints are remembered.
const dedupWindow = 1024

// Ingestor owns the feed lifecycle: connect, subscribe, read, reconnect.
// It deduplicates and drops stale ticks before they reach the pipeline, so
// everything downstream can assume per-source timestamp monotonicity.
type Ingestor struct {
	source  domrepo.PriceSource
	pipe    *mid.TickPipeline
	log     *logger.Logger
	metrics domrepo.Metrics

	dedup  *lru.Cache[string, struct{}]
	lastTS map[string]int64
}

func NewIngestor(source domrepo.PriceSource, pipe *mid.TickPipeline, log *logger.Logger, metrics domrepo.Metrics) (*Ingestor, error) {
	dedup, err := lru.New[string, struct{}](dedupWindow)
	if err != nil {
		return nil, err
	}
	return &Ingestor{
		source:  source,
		pipe:    pipe,
		log:     log,
		metrics: metrics,
		dedup:   dedup,
		lastTS:  make(map[string]int64),
	}, nil
}

func (i *Ingestor) Start(ctx context.Context) error {
	if err := i.source.Connect(ctx); err != nil {
		return err
	}
	if err := i.source.Subscribe(ctx); err != nil {
		return err
	}
	i.pipe.Start(ctx)
	go i.consume(ctx)
	i.metrics.SetHealth("feed", true)
	return nil
}

func (i *Ingestor) IsConnected() bool { return i.source.IsConnected() }

// consume reads until the source fails, then reconnects and reads again.
// Read channels close on failure, so each reconnect needs fresh ones.
func (i *Ingestor) consume(ctx context.Context) {
	for {
		tickCh, errCh := i.source.Read(ctx)
		if !i.drain(ctx, tickCh, errCh) {
			return
		}
		i.metrics.SetHealth("feed", false)
		if !i.reconnect(ctx) {
			return
		}
		i.metrics.SetHealth("feed", true)
	}
}

// drain pumps one Read session; returns false when ctx ended.
func (i *Ingestor) drain(ctx context.Context, tickCh <-chan *models.Tick, errCh <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case err, ok := <-errCh:
			if !ok {
				return ctx.Err() == nil
			}
			if err != nil {
				i.metrics.RecordError("feed_read")
				i.log.Warn("feed read failed", logger.Error(err))
				return ctx.Err() == nil
			}
		case t, ok := <-tickCh:
			if !ok {
				return ctx.Err() == nil
			}
			if t != nil {
				i.accept(ctx, t)
			}
		}
	}
}

func (i *Ingestor) accept(ctx context.Context, t *models.Tick) {
	i.metrics.RecordTick(t.Source)

	fp := t.Fingerprint()
	if _, dup := i.dedup.Get(fp); dup {
		i.metrics.RecordDrop("duplicate")
		return
	}
	i.dedup.Add(fp, struct{}{})

	if last, ok := i.lastTS[t.Source]; ok && t.Timestamp < last {
		i.metrics.RecordDrop("stale")
		return
	}
	i.lastTS[t.Source] = t.Timestamp

	if err := i.pipe.Process(ctx, t); err != nil {
		// invalid ticks are already counted by the pipeline
		i.log.Debug("tick rejected", logger.Error(err))
		return
	}
	i.metrics.RecordLastPrice(t.Source, t.Price.InexactFloat64())
}

// reconnect retries until the source comes back or ctx ends; the source's
// own backoff paces the attempts.
func (i *Ingestor) reconnect(ctx context.Context) bool {
	for {
		if ctx.Err() != nil {
			return false
		}
		i.metrics.RecordReconnect("feed")
		if err := i.source.Reconnect(ctx); err != nil {
			i.log.Warn("feed reconnect failed", logger.Error(err))
			continue
		}
		i.log.Info("feed reconnected")
		return true
	}
}

func (i *Ingestor) Stop() error {
	i.pipe.Stop()
	return i.source.Close()
}
