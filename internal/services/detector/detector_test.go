package detector

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	"TrapFlow/pkg/logger"
)

var testBase = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(string)               {}
func (nopMetrics) RecordDrop(string)               {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordEvent(string, string)      {}
func (nopMetrics) RecordAlert(string, string)      {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLatency(string, float64)   {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) SetHealth(string, bool)          {}

type fakeWindow struct {
	candles []models.Candle
}

func (w *fakeWindow) Window(models.Timeframe, int) []models.Candle { return w.candles }
func (w *fakeWindow) Generation() uint64                           { return 0 }

func candle(minute int, open, high, low, close, vol float64) models.Candle {
	return models.Candle{
		OpenTS:    testBase.Add(time.Duration(minute) * time.Minute),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(vol),
		TickCount: 1,
	}
}

func flatCandle(minute int, close, vol float64) models.Candle {
	return candle(minute, close, close+0.05, close-0.05, close, vol)
}

func testTick(minute int, price float64) *models.Tick {
	return &models.Tick{
		Timestamp: testBase.Add(time.Duration(minute) * time.Minute).UnixMilli(),
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1),
		Source:    "test",
	}
}

func testCfg() *Config {
	return &Config{
		WickRatio:              2.0,
		SpikeSigma:             3.0,
		VolumeZ:                2.0,
		RetraceFraction:        0.5,
		ConsolidationCandles:   12,
		BreakoutPersistCandles: 3,
		SwingLookback:          50,
		Debounce:               time.Minute,
	}
}

func newTestDetector(t *testing.T, w *fakeWindow, cfg *Config, opts ...Option) *Detector {
	t.Helper()
	return New(w, []models.Timeframe{models.TF1m}, cfg, testLogger(t), nopMetrics{}, opts...)
}

func findEvent(events []*models.TrapEvent, tt models.TrapType) *models.TrapEvent {
	for _, e := range events {
		if e.TrapType == tt {
			return e
		}
	}
	return nil
}

func TestStopHuntFiresOnVolumeSpikeReversion(t *testing.T) {
	// Quiet market, one 5x-volume spike well beyond three sigma, then a
	// close back inside the pre-spike range.
	w := &fakeWindow{candles: []models.Candle{
		flatCandle(0, 100.0, 10),
		flatCandle(1, 100.2, 10),
		flatCandle(2, 100.1, 10),
		flatCandle(3, 100.3, 10),
		candle(4, 100.3, 104.0, 100.3, 104.0, 50),
		candle(5, 104.0, 104.0, 100.0, 100.05, 10),
		flatCandle(6, 100.1, 2), // in-progress
	}}

	d := newTestDetector(t, w, testCfg())
	events := d.OnTick(testTick(6, 100.1))

	e := findEvent(events, models.StopHunt)
	if e == nil {
		t.Fatalf("expected STOP_HUNT event, got %d events", len(events))
	}
	if e.Confidence < 0.7 {
		t.Errorf("confidence = %.3f, want >= 0.7", e.Confidence)
	}
	if e.Timeframe != models.TF1m {
		t.Errorf("timeframe = %s, want 1m", e.Timeframe)
	}
	vr, ok := e.Indicators["volume_ratio"]
	if !ok || vr < 4.9 || vr > 5.1 {
		t.Errorf("volume_ratio = %.3f, want ~5.0", vr)
	}
	if sm := e.Indicators["spike_sigma_multiple"]; sm < 3.0 {
		t.Errorf("spike_sigma_multiple = %.3f, want >= 3", sm)
	}
	if err := e.Validate(); err != nil {
		t.Errorf("event invalid: %v", err)
	}
}

func TestLiquidityGrabFiresOnSwingSweep(t *testing.T) {
	// Swing high at 110, later candle wicks to 111 and closes back below.
	w := &fakeWindow{candles: []models.Candle{
		candle(0, 100, 101, 99, 100, 10),
		candle(1, 100, 102, 100, 101, 10),
		candle(2, 105, 110, 104, 106, 10),
		candle(3, 106, 107, 105, 106, 10),
		candle(4, 106, 107, 105, 105, 10),
		candle(5, 105, 106, 104, 105, 10),
		candle(6, 105, 111, 104, 105.5, 10),
		flatCandle(7, 105.4, 2), // in-progress
	}}

	d := newTestDetector(t, w, testCfg())
	events := d.OnTick(testTick(7, 105.4))

	e := findEvent(events, models.LiquidityGrab)
	if e == nil {
		t.Fatal("expected LIQUIDITY_GRAB event")
	}
	if lvl := e.Indicators["swing_level"]; lvl != 110 {
		t.Errorf("swing_level = %.2f, want 110", lvl)
	}
	if wr := e.Indicators["wick_ratio"]; wr < 2.0 {
		t.Errorf("wick_ratio = %.2f, want >= 2", wr)
	}
}

func TestFakeBreakoutFiresOnFailedRangeBreak(t *testing.T) {
	w := &fakeWindow{candles: []models.Candle{
		candle(0, 100, 101, 99, 100, 10),
		candle(1, 100, 100.5, 99.5, 100.2, 10),
		candle(2, 100.2, 100.8, 99.8, 100.4, 10),
		candle(3, 100.4, 101, 100, 100.6, 10),
		candle(4, 100.6, 103.2, 100.6, 103, 10),
		candle(5, 103, 103, 100, 100.5, 10),
		flatCandle(6, 100.5, 2), // in-progress
	}}

	d := newTestDetector(t, w, testCfg())
	events := d.OnTick(testTick(6, 100.5))

	e := findEvent(events, models.FakeBreakout)
	if e == nil {
		t.Fatal("expected FAKE_BREAKOUT event")
	}
	if lvl := e.Indicators["broken_level"]; lvl != 101 {
		t.Errorf("broken_level = %.2f, want 101", lvl)
	}
	if dir := e.Indicators["breakout_direction"]; dir != 1 {
		t.Errorf("breakout_direction = %.0f, want 1", dir)
	}
}

func TestConsolidationBullTrap(t *testing.T) {
	var cs []models.Candle
	for i := 0; i < 12; i++ {
		c := 100.0
		if i%2 == 1 {
			c = 100.1
		}
		cs = append(cs, flatCandle(i, c, 10))
	}
	cs = append(cs,
		candle(12, 100.1, 100.7, 100.1, 100.6, 10), // breakout above the band
		candle(13, 100.6, 100.6, 99.9, 100.0, 10),  // fails back inside
		flatCandle(14, 100.0, 2),                   // in-progress
	)
	w := &fakeWindow{candles: cs}

	d := newTestDetector(t, w, testCfg())
	events := d.OnTick(testTick(14, 100.0))

	e := findEvent(events, models.BullTrap)
	if e == nil {
		t.Fatal("expected BULL_TRAP event")
	}
	if hi := e.Indicators["band_high"]; hi != 100.1 {
		t.Errorf("band_high = %.2f, want 100.1", hi)
	}
	if p := e.Indicators["persist_candles"]; p != 1 {
		t.Errorf("persist_candles = %.0f, want 1", p)
	}
}

type scriptedRule struct {
	name string
	next *Firing
}

func (r *scriptedRule) Name() string { return r.name }

func (r *scriptedRule) Evaluate(*RuleContext) *Firing { return r.next }

func scriptedFiring(conf float64) *Firing {
	return &Firing{
		Type:       models.StopHunt,
		Confidence: conf,
		Indicators: map[string]float64{"scripted": conf},
	}
}

func TestDebounceSuppressesRepeatFirings(t *testing.T) {
	w := &fakeWindow{candles: []models.Candle{
		flatCandle(0, 100, 10),
		flatCandle(1, 100, 10),
		flatCandle(2, 100, 2), // in-progress
	}}
	rule := &scriptedRule{name: "scripted"}

	clock := testBase
	d := newTestDetector(t, w, testCfg(),
		WithRules([]Rule{rule}),
		WithClock(func() time.Time { return clock }),
	)
	tick := testTick(2, 100)

	rule.next = scriptedFiring(0.8)
	if got := len(d.OnTick(tick)); got != 1 {
		t.Fatalf("first firing: got %d events, want 1", got)
	}

	// 30s later, lower confidence: suppressed within the 60s window.
	clock = clock.Add(30 * time.Second)
	rule.next = scriptedFiring(0.6)
	if got := len(d.OnTick(tick)); got != 0 {
		t.Fatalf("debounced firing: got %d events, want 0", got)
	}

	// Still inside the window, strictly higher confidence passes.
	clock = clock.Add(10 * time.Second)
	rule.next = scriptedFiring(0.9)
	events := d.OnTick(tick)
	if len(events) != 1 {
		t.Fatalf("higher-confidence firing: got %d events, want 1", len(events))
	}
	if events[0].Confidence != 0.9 {
		t.Errorf("confidence = %.2f, want 0.9", events[0].Confidence)
	}

	// Past the window, any confidence passes again.
	clock = clock.Add(2 * time.Minute)
	rule.next = scriptedFiring(0.5)
	if got := len(d.OnTick(tick)); got != 1 {
		t.Fatalf("post-window firing: got %d events, want 1", got)
	}
}

type panicRule struct{}

func (panicRule) Name() string { return "panics" }

func (panicRule) Evaluate(*RuleContext) *Firing { panic("boom") }

func TestRulePanicIsContained(t *testing.T) {
	w := &fakeWindow{candles: []models.Candle{
		flatCandle(0, 100, 10),
		flatCandle(1, 100, 10),
		flatCandle(2, 100, 2),
	}}
	healthy := &scriptedRule{name: "healthy", next: scriptedFiring(0.8)}

	d := newTestDetector(t, w, testCfg(), WithRules([]Rule{panicRule{}, healthy}))
	events := d.OnTick(testTick(2, 100))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 from the healthy rule", len(events))
	}
}

func TestSameTypeFiringsMerge(t *testing.T) {
	w := &fakeWindow{candles: []models.Candle{
		flatCandle(0, 100, 10),
		flatCandle(1, 100, 10),
		flatCandle(2, 100, 2),
	}}
	weak := &scriptedRule{name: "weak", next: &Firing{
		Type:       models.StopHunt,
		Confidence: 0.5,
		Indicators: map[string]float64{"weak_only": 1},
	}}
	strong := &scriptedRule{name: "strong", next: &Firing{
		Type:       models.StopHunt,
		Confidence: 0.9,
		Indicators: map[string]float64{"strong_only": 2},
	}}

	d := newTestDetector(t, w, testCfg(), WithRules([]Rule{weak, strong}))
	events := d.OnTick(testTick(2, 100))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 merged event", len(events))
	}
	e := events[0]
	if e.Confidence != 0.9 {
		t.Errorf("confidence = %.2f, want 0.9", e.Confidence)
	}
	if _, ok := e.Indicators["weak_only"]; !ok {
		t.Error("merged indicators missing weak_only")
	}
	if _, ok := e.Indicators["strong_only"]; !ok {
		t.Error("merged indicators missing strong_only")
	}
}

func TestFindSwings(t *testing.T) {
	cs := []models.Candle{
		candle(0, 100, 101, 99, 100, 10),
		candle(1, 100, 102, 100, 101, 10),
		candle(2, 105, 110, 104, 106, 10), // swing high
		candle(3, 106, 107, 105, 106, 10),
		candle(4, 106, 107, 95, 105, 10), // swing low
		candle(5, 105, 106, 104, 105, 10),
		candle(6, 105, 106, 104, 105.5, 10),
	}
	swings := FindSwings(cs)
	if len(swings) != 2 {
		t.Fatalf("got %d swings, want 2", len(swings))
	}
	if swings[0].Kind != SwingHigh || swings[0].Price != 110 || swings[0].Index != 2 {
		t.Errorf("swing[0] = %+v, want high 110 at index 2", swings[0])
	}
	if swings[1].Kind != SwingLow || swings[1].Price != 95 || swings[1].Index != 4 {
		t.Errorf("swing[1] = %+v, want low 95 at index 4", swings[1])
	}
}
