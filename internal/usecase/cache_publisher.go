package usecase

import (
	"context"
	"fmt"
	"time"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	"TrapFlow/pkg/logger"
)

// Dashboard cache keys. Last-writer-wins; readers always see some complete
// snapshot. The HTTP layer reads the same keys.
const (
	KeyTrapAnalysis = "dashboard:trap_analysis"
	KeyData         = "dashboard:trap_analysis:data"
	KeyPerformance  = "dashboard:trap_analysis:performance"
)

// CachePublisher pushes analytics snapshots into the hot cache. A failed key
// gets one immediate retry and is otherwise dropped; the next period
// republishes everything anyway.
type CachePublisher struct {
	cache   domrepo.Cache
	log     *logger.Logger
	metrics domrepo.Metrics
	prefix  string
	ttl     time.Duration
}

func NewCachePublisher(cache domrepo.Cache, log *logger.Logger, metrics domrepo.Metrics, prefix string, ttl time.Duration) *CachePublisher {
	return &CachePublisher{
		cache:   cache,
		log:     log,
		metrics: metrics,
		prefix:  prefix,
		ttl:     ttl,
	}
}

// dashboardData is the compact payload dashboards poll most often.
type dashboardData struct {
	GeneratedAt  time.Time            `json:"generated_at"`
	TotalCount   int64                `json:"total_count"`
	DominantType models.TrapType      `json:"dominant_type,omitempty"`
	Recent       []models.RecentEvent `json:"recent"`
}

type dashboardPerformance struct {
	GeneratedAt time.Time           `json:"generated_at"`
	Performance *models.Performance `json:"performance,omitempty"`
	Unavailable bool                `json:"unavailable,omitempty"`
}

// Publish writes the snapshot under its stable keys. It returns an error
// only when every key failed; partial publishes are logged and counted.
func (p *CachePublisher) Publish(ctx context.Context, snap *models.AnalyticsSnapshot) error {
	entries := []struct {
		key   string
		value interface{}
	}{
		{KeyTrapAnalysis, snap},
		{KeyData, dashboardData{
			GeneratedAt:  snap.GeneratedAt,
			TotalCount:   snap.TotalCount,
			DominantType: snap.DominantType,
			Recent:       snap.RecentHighConf,
		}},
		{KeyPerformance, dashboardPerformance{
			GeneratedAt: snap.GeneratedAt,
			Performance: snap.Performance,
			Unavailable: snap.PerformanceUnavailable,
		}},
	}

	published := 0
	for _, entry := range entries {
		if err := p.set(ctx, entry.key, entry.value); err != nil {
			p.metrics.RecordDrop("cache_publish")
			p.log.Warn("snapshot key dropped",
				logger.String("key", entry.key),
				logger.Error(err))
			continue
		}
		published++
	}
	if published == 0 {
		p.metrics.SetHealth("cache", false)
		return fmt.Errorf("cache publish: all %d keys failed", len(entries))
	}
	p.metrics.SetHealth("cache", true)
	return nil
}

// set tries once, then retries once immediately.
func (p *CachePublisher) set(ctx context.Context, key string, value interface{}) error {
	full := key
	if p.prefix != "" {
		full = p.prefix + ":" + key
	}
	err := p.cache.Set(ctx, full, value, p.ttl)
	if err == nil {
		return nil
	}
	p.metrics.RecordError("cache_set")
	return p.cache.Set(ctx, full, value, p.ttl)
}
