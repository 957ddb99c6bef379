package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single normalized price observation. Ticks are never persisted
// individually; they feed the rolling windows and the detector.
type Tick struct {
	Timestamp  int64           `json:"ts_ms"` // exchange time, epoch milliseconds
	Price      decimal.Decimal `json:"price"`
	Volume     decimal.Decimal `json:"volume"`
	Source     string          `json:"source"`
	ReceivedAt time.Time       `json:"-"` // local receipt time
}

// Time converts the exchange timestamp to time.Time.
func (t *Tick) Time() time.Time {
	return time.UnixMilli(t.Timestamp).UTC()
}

// Fingerprint identifies a tick for duplicate suppression.
func (t *Tick) Fingerprint() string {
	return fmt.Sprintf("%s|%d|%s", t.Source, t.Timestamp, t.Price.String())
}

// Validate rejects ticks that must not reach the windows.
func (t *Tick) Validate() error {
	if t.Source == "" {
		return fmt.Errorf("tick: empty source")
	}
	if t.Timestamp <= 0 {
		return fmt.Errorf("tick: invalid timestamp %d", t.Timestamp)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("tick: non-positive price %s", t.Price)
	}
	if t.Volume.IsNegative() {
		return fmt.Errorf("tick: negative volume %s", t.Volume)
	}
	return nil
}
