package models

import "time"

// SnapshotWindow describes the journal range a snapshot covers.
type SnapshotWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RecentEvent is the compact form of a high-confidence event carried in a
// snapshot, with a human-readable relative time for dashboards.
type RecentEvent struct {
	ID           string    `json:"id"`
	TrapType     TrapType  `json:"trap_type"`
	Timeframe    Timeframe `json:"timeframe"`
	Confidence   float64   `json:"confidence"`
	DetectedAt   time.Time `json:"detected_at"`
	RelativeTime string    `json:"relative_time"`
}

// Performance aggregates trade outcomes joined against events. Present only
// when a TradeOutcomeProvider is configured.
type Performance struct {
	WinRateByType map[TrapType]float64 `json:"win_rate_by_type"`
	AvgPnL        float64              `json:"avg_pnl"`
	SampleSize    int                  `json:"sample_size"`
}

// AnalyticsSnapshot is the periodic aggregate over the event journal.
// Cache-only; there is no durable copy.
type AnalyticsSnapshot struct {
	GeneratedAt             time.Time        `json:"generated_at"`
	Window                  SnapshotWindow   `json:"window"`
	TotalCount              int64            `json:"total_count"`
	TypeDistribution        map[TrapType]int `json:"type_distribution"`
	HourOfDayDistribution   map[int]int      `json:"hour_of_day_distribution"`
	DayOfWeekDistribution   map[string]int   `json:"day_of_week_distribution"`
	AvgConfidence           float64          `json:"avg_confidence"`
	HighConfidenceCount     int              `json:"high_confidence_count"`
	RecentHighConf          []RecentEvent    `json:"recent_high_conf"`
	DominantType            TrapType         `json:"dominant_type,omitempty"`
	Performance             *Performance     `json:"performance,omitempty"`
	PerformanceUnavailable  bool             `json:"performance_unavailable,omitempty"`
}
