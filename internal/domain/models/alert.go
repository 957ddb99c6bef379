package models

import "time"

// DeliveryStatus is the state of one alert delivery to one sink.
type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryFailed     DeliveryStatus = "failed"     // terminal after retry exhaustion or 4xx
	DeliverySuppressed DeliveryStatus = "suppressed" // cooldown or below threshold
)

// Terminal reports whether no further attempts will be made.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed || s == DeliverySuppressed
}

// AlertRecord tracks dispatch of one event to one sink, kept in the cache
// keyed by event id for deduplication and retry accounting.
type AlertRecord struct {
	EventID        string         `json:"event_id"`
	DispatchedAt   time.Time      `json:"dispatched_at"`
	Sink           string         `json:"sink"`
	DeliveryStatus DeliveryStatus `json:"delivery_status"`
	Attempts       int            `json:"attempts"`
}

// TradeOutcome is an externally supplied result for an event, used for the
// performance section of snapshots.
type TradeOutcome struct {
	EventID string   `json:"event_id"`
	Type    TrapType `json:"trap_type"`
	Win     bool     `json:"win"`
	PnL     float64  `json:"pnl"`
}
