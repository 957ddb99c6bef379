package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TrapType classifies an adversarial price pattern.
type TrapType string

const (
	BullTrap      TrapType = "BULL_TRAP"
	BearTrap      TrapType = "BEAR_TRAP"
	LiquidityGrab TrapType = "LIQUIDITY_GRAB"
	StopHunt      TrapType = "STOP_HUNT"
	FakeBreakout  TrapType = "FAKE_BREAKOUT"
)

// AllTrapTypes lists every declared trap type.
var AllTrapTypes = []TrapType{BullTrap, BearTrap, LiquidityGrab, StopHunt, FakeBreakout}

// IsValid returns true for declared trap types.
func (t TrapType) IsValid() bool {
	switch t {
	case BullTrap, BearTrap, LiquidityGrab, StopHunt, FakeBreakout:
		return true
	default:
		return false
	}
}

// ReferenceWindow anchors an event to the price range it was judged against.
type ReferenceWindow struct {
	StartTS        time.Time       `json:"start_ts"`
	EndTS          time.Time       `json:"end_ts"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

// TrapEvent is the immutable record of one detected trap. The detector
// mints the id; the journal is the authoritative store.
type TrapEvent struct {
	ID               string             `json:"id"`
	DetectedAt       time.Time          `json:"detected_at"`
	TrapType         TrapType           `json:"trap_type"`
	Timeframe        Timeframe          `json:"timeframe"`
	Confidence       float64            `json:"confidence"`
	PriceAtDetection decimal.Decimal    `json:"price_at_detection"`
	PriceChangePct   float64            `json:"price_change_pct"`
	ReferenceWindow  ReferenceWindow    `json:"reference_window"`
	Indicators       map[string]float64 `json:"indicators,omitempty"`
	RawFeatures      map[string]any     `json:"raw_features,omitempty"`
}

// NewEventID mints a time-ordered UUID v7.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the entropy source does; fall back to v4
		return uuid.NewString()
	}
	return id.String()
}

// Validate checks the event invariants before persistence.
func (e *TrapEvent) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event: missing id")
	}
	if !e.TrapType.IsValid() {
		return fmt.Errorf("event: unknown trap type %q", e.TrapType)
	}
	if !e.Timeframe.IsValid() {
		return fmt.Errorf("event: unknown timeframe %q", e.Timeframe)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("event: confidence %.4f out of range", e.Confidence)
	}
	if e.DetectedAt.IsZero() {
		return fmt.Errorf("event: missing detected_at")
	}
	return nil
}
