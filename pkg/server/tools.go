package server

import (
	"context"
	"fmt"
	"time"

	domrepo "TrapFlow/internal/domain/repository"
	"TrapFlow/internal/repository"
	"TrapFlow/internal/usecase"
	pkgch "TrapFlow/pkg/clickhouse"
	"TrapFlow/pkg/config"
	applogger "TrapFlow/pkg/logger"
	"TrapFlow/pkg/util"
)

// Tools bundles the dependencies of the one-shot subcommands, which run a
// single task against the stores and exit without starting the pipeline.
type Tools struct {
	cfg        *config.Config
	log        *applogger.Logger
	journal    *repository.Journal
	aggregator *usecase.AnalyticsAggregator
	publisher  *usecase.CachePublisher
	chClient   *pkgch.Client
	cache      domrepo.Cache
}

func NewTools(
	cfg *config.Config,
	log *applogger.Logger,
	journal *repository.Journal,
	aggregator *usecase.AnalyticsAggregator,
	publisher *usecase.CachePublisher,
	chClient *pkgch.Client,
	cache domrepo.Cache,
) *Tools {
	return &Tools{
		cfg:        cfg,
		log:        log,
		journal:    journal,
		aggregator: aggregator,
		publisher:  publisher,
		chClient:   chClient,
		cache:      cache,
	}
}

// AnalyticsOnce computes one snapshot from the journal and publishes it.
func (t *Tools) AnalyticsOnce(ctx context.Context) error {
	snap, err := t.aggregator.Compute(ctx)
	if err != nil {
		return fmt.Errorf("analytics compute: %w", err)
	}
	if err := t.publisher.Publish(ctx, snap); err != nil {
		return fmt.Errorf("snapshot publish: %w", err)
	}
	t.log.Info("snapshot published",
		applogger.Int64("total_events", snap.TotalCount),
		applogger.Int("high_confidence", snap.HighConfidenceCount),
		applogger.String("dominant_type", string(snap.DominantType)))
	return nil
}

// ReplayJournal drains dead-lettered events back into the store. The range
// expression is "<from>..<to>" with either side optional; empty replays
// everything.
func (t *Tools) ReplayJournal(ctx context.Context, rangeExpr string) error {
	var from, to time.Time
	if rangeExpr != "" {
		f, tt, ok := util.ParseRange(rangeExpr, time.Now().UTC())
		if !ok {
			return fmt.Errorf("invalid range %q", rangeExpr)
		}
		from, to = f, tt
	}

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := t.chClient.InitSchema(initCtx, repository.SchemaStatements(t.cfg.Journal.Database, t.cfg.Journal.Table)); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}

	n, err := t.journal.ReplayDeadLetterRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("replay (%d restored): %w", n, err)
	}
	t.log.Info("replay complete", applogger.Int("events", n))
	return nil
}

// Close releases the store connections.
func (t *Tools) Close() {
	if err := t.journal.Close(); err != nil {
		t.log.Warn("journal close error", applogger.Error(err))
	}
	if err := t.cache.Close(); err != nil {
		t.log.Warn("cache close error", applogger.Error(err))
	}
	if err := t.chClient.Close(); err != nil {
		t.log.Warn("clickhouse close error", applogger.Error(err))
	}
}
