package detector

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
)

// Config holds the detector thresholds. Values outside a rule's valid range
// simply yield no firing; rules never fail.
type Config struct {
	WickRatio              float64
	SpikeSigma             float64
	VolumeZ                float64
	RetraceFraction        float64
	ConsolidationCandles   int
	BreakoutPersistCandles int
	SwingLookback          int
	Debounce               time.Duration
}

// Firing is one rule's positive result for a single tick.
type Firing struct {
	Type           models.TrapType
	Confidence     float64
	PriceChangePct float64
	Indicators     map[string]float64
	Reference      models.ReferenceWindow
}

// RuleContext carries everything a rule may inspect. Closed excludes the
// in-progress candle; rules judge completed structure only.
type RuleContext struct {
	Tick    *models.Tick
	TF      models.Timeframe
	Closed  []models.Candle
	Current *models.Candle
	Swings  []SwingLevel
	Cfg     *Config
}

// Rule is one member of the detection committee.
type Rule interface {
	Name() string
	Evaluate(rc *RuleContext) *Firing
}

// DefaultRules returns the committee in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		&LiquidityGrabRule{},
		&StopHuntRule{},
		&ConsolidationTrapRule{},
		&FakeBreakoutRule{},
	}
}

// --- shared math ---

func closes(cs []models.Candle) []float64 {
	out := make([]float64, len(cs))
	for i := range cs {
		out[i] = cs[i].CloseF()
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation.
func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

func meanVolume(cs []models.Candle) float64 {
	if len(cs) == 0 {
		return 0
	}
	var sum float64
	for _, c := range cs {
		sum += c.VolF()
	}
	return sum / float64(len(cs))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// squash maps a non-negative ratio onto (0,1) with a sigmoid-like curve:
// 0.5 at x == scale, saturating beyond ~3x scale.
func squash(x, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clamp01(1 / (1 + math.Exp(-2*(x/scale-1))))
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}

func floatDecimal(x float64) decimal.Decimal {
	return decimal.NewFromFloat(x)
}
