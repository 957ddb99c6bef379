package detector

import (
	"time"

	"TrapFlow/internal/domain/models"
)

// SwingKind marks a local extreme as a high or a low.
type SwingKind int

const (
	SwingHigh SwingKind = iota
	SwingLow
)

// SwingLevel is a local maximum or minimum within recent closed candles.
type SwingLevel struct {
	Kind  SwingKind
	Price float64
	TS    time.Time
	Index int // position within the closed slice it was computed from
}

// swingPivot is the number of candles on each side a local extreme must
// dominate.
const swingPivot = 2

// FindSwings scans closed candles for local extremes. The trailing
// swingPivot candles cannot be confirmed yet and are excluded.
func FindSwings(closed []models.Candle) []SwingLevel {
	if len(closed) < 2*swingPivot+1 {
		return nil
	}
	var out []SwingLevel
	for i := swingPivot; i < len(closed)-swingPivot; i++ {
		hi, lo := true, true
		for j := i - swingPivot; j <= i+swingPivot; j++ {
			if j == i {
				continue
			}
			if closed[j].HighF() >= closed[i].HighF() {
				hi = false
			}
			if closed[j].LowF() <= closed[i].LowF() {
				lo = false
			}
			if !hi && !lo {
				break
			}
		}
		if hi {
			out = append(out, SwingLevel{Kind: SwingHigh, Price: closed[i].HighF(), TS: closed[i].OpenTS, Index: i})
		}
		if lo {
			out = append(out, SwingLevel{Kind: SwingLow, Price: closed[i].LowF(), TS: closed[i].OpenTS, Index: i})
		}
	}
	return out
}

// nearestSwing returns the most recent swing of the given kind before index
// limit, or nil.
func nearestSwing(swings []SwingLevel, kind SwingKind, limit int) *SwingLevel {
	for i := len(swings) - 1; i >= 0; i-- {
		if swings[i].Kind == kind && swings[i].Index < limit {
			return &swings[i]
		}
	}
	return nil
}
