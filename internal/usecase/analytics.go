package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	"TrapFlow/pkg/logger"
	"TrapFlow/pkg/util"
)

// AnalyticsAggregator periodically reduces the event journal into an
// AnalyticsSnapshot. The snapshot is deterministic for a fixed journal state
// apart from GeneratedAt and the humanized relative times.
type AnalyticsAggregator struct {
	journal  domrepo.Journal
	outcomes domrepo.TradeOutcomeProvider // nil when no provider is wired
	log      *logger.Logger
	metrics  domrepo.Metrics

	window    time.Duration
	recentK   int
	threshold float64

	now func() time.Time
}

type AnalyticsOption func(*AnalyticsAggregator)

// WithTradeOutcomes wires an external outcome provider; without it the
// snapshot omits the performance section.
func WithTradeOutcomes(p domrepo.TradeOutcomeProvider) AnalyticsOption {
	return func(a *AnalyticsAggregator) { a.outcomes = p }
}

// WithAnalyticsClock overrides the aggregator clock.
func WithAnalyticsClock(now func() time.Time) AnalyticsOption {
	return func(a *AnalyticsAggregator) { a.now = now }
}

func NewAnalyticsAggregator(journal domrepo.Journal, log *logger.Logger, metrics domrepo.Metrics, window time.Duration, recentK int, threshold float64, opts ...AnalyticsOption) *AnalyticsAggregator {
	a := &AnalyticsAggregator{
		journal:   journal,
		log:       log,
		metrics:   metrics,
		window:    window,
		recentK:   recentK,
		threshold: threshold,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compute streams the journal window once and builds the snapshot.
func (a *AnalyticsAggregator) Compute(ctx context.Context) (*models.AnalyticsSnapshot, error) {
	start := a.now()
	now := start.UTC()
	from := now.Add(-a.window)

	cursor, err := a.journal.Query(ctx, domrepo.EventFilter{From: from, To: now})
	if err != nil {
		return nil, fmt.Errorf("analytics query: %w", err)
	}
	defer cursor.Close()

	snap := &models.AnalyticsSnapshot{
		GeneratedAt:           now,
		Window:                models.SnapshotWindow{From: from, To: now},
		TypeDistribution:      make(map[models.TrapType]int),
		HourOfDayDistribution: make(map[int]int),
		DayOfWeekDistribution: make(map[string]int),
	}

	var (
		confSum float64
		recent  []models.RecentEvent // detected_at ascending tail, len <= recentK
	)
	for cursor.Next() {
		e := cursor.Event()
		snap.TotalCount++
		confSum += e.Confidence
		snap.TypeDistribution[e.TrapType]++
		at := e.DetectedAt.UTC()
		snap.HourOfDayDistribution[at.Hour()]++
		snap.DayOfWeekDistribution[at.Weekday().String()]++

		if e.Confidence >= a.threshold {
			snap.HighConfidenceCount++
			recent = append(recent, models.RecentEvent{
				ID:         e.ID,
				TrapType:   e.TrapType,
				Timeframe:  e.Timeframe,
				Confidence: e.Confidence,
				DetectedAt: at,
			})
			if len(recent) > a.recentK {
				recent = recent[1:]
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("analytics scan: %w", err)
	}

	// The cursor is ascending; reverse the tail for detected_at desc.
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].DetectedAt.After(recent[j].DetectedAt)
	})
	for i := range recent {
		recent[i].RelativeTime = util.RelativeTime(recent[i].DetectedAt, now)
	}
	snap.RecentHighConf = recent

	if snap.TotalCount > 0 {
		snap.AvgConfidence = confSum / float64(snap.TotalCount)
		snap.DominantType = dominantType(snap.TypeDistribution)
	}

	if a.outcomes != nil {
		perf, err := a.performance(ctx, from, now)
		if err != nil {
			// performance is an enrichment; the snapshot still ships
			a.metrics.RecordError("analytics_performance")
			a.log.Warn("trade outcome provider failed", logger.Error(err))
			snap.PerformanceUnavailable = true
		} else {
			snap.Performance = perf
		}
	} else {
		snap.PerformanceUnavailable = true
	}

	a.metrics.RecordLatency("analytics_compute", time.Since(start).Seconds())
	return snap, nil
}

// dominantType is the argmax of the distribution; ties break alphabetically
// so repeated runs agree.
func dominantType(dist map[models.TrapType]int) models.TrapType {
	var (
		best      models.TrapType
		bestCount = -1
	)
	types := make([]models.TrapType, 0, len(dist))
	for t := range dist {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		if dist[t] > bestCount {
			best = t
			bestCount = dist[t]
		}
	}
	return best
}

func (a *AnalyticsAggregator) performance(ctx context.Context, from, to time.Time) (*models.Performance, error) {
	outcomes, err := a.outcomes.Outcomes(ctx, from, to)
	if err != nil {
		return nil, err
	}

	perf := &models.Performance{
		WinRateByType: make(map[models.TrapType]float64),
		SampleSize:    len(outcomes),
	}
	if len(outcomes) == 0 {
		return perf, nil
	}

	wins := make(map[models.TrapType]int)
	totals := make(map[models.TrapType]int)
	var pnlSum float64
	for _, o := range outcomes {
		totals[o.Type]++
		if o.Win {
			wins[o.Type]++
		}
		pnlSum += o.PnL
	}
	for t, n := range totals {
		perf.WinRateByType[t] = float64(wins[t]) / float64(n)
	}
	perf.AvgPnL = pnlSum / float64(len(outcomes))
	return perf, nil
}
