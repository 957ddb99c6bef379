package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	ticksReceived *prometheus.CounterVec
	ticksDropped  *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	trapEvents    *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	health        *prometheus.GaugeVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		ticksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trapflow_ticks_received_total",
				Help: "Total ticks received from the price feed",
			},
			[]string{"source"},
		),
		ticksDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trapflow_ticks_dropped_total",
				Help: "Ticks dropped, by reason (duplicate, stale, invalid, overflow)",
			},
			[]string{"reason"},
		),
		reconnects: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trapflow_feed_reconnects_total",
				Help: "Feed reconnect attempts",
			},
			[]string{"source"},
		),
		trapEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trapflow_trap_events_total",
				Help: "Trap events emitted by the detector",
			},
			[]string{"trap_type", "timeframe"},
		),
		alerts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trapflow_alerts_total",
				Help: "Alert dispatch outcomes per sink",
			},
			[]string{"sink", "status"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trapflow_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trapflow_last_price",
				Help: "Last observed price per source",
			},
			[]string{"source"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trapflow_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		health: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trapflow_component_healthy",
				Help: "1 when a component reports healthy, 0 otherwise",
			},
			[]string{"component"},
		),
	}
}

func (r *Recorder) RecordTick(source string) {
	r.ticksReceived.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordDrop(reason string) {
	r.ticksDropped.WithLabelValues(reason).Inc()
}

func (r *Recorder) RecordReconnect(source string) {
	r.reconnects.WithLabelValues(source).Inc()
}

func (r *Recorder) RecordEvent(trapType, timeframe string) {
	r.trapEvents.WithLabelValues(trapType, timeframe).Inc()
}

func (r *Recorder) RecordAlert(sink, status string) {
	r.alerts.WithLabelValues(sink, status).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordLastPrice(source string, price float64) {
	r.lastPrice.WithLabelValues(source).Set(price)
}

func (r *Recorder) SetHealth(component string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	r.health.WithLabelValues(component).Set(v)
}
