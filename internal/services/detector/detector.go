package detector

import (
	"time"

	"TrapFlow/internal/domain/models"
	"TrapFlow/internal/domain/repository"
	"TrapFlow/pkg/logger"
)

type debounceKey struct {
	trapType models.TrapType
	tf       models.Timeframe
}

type debounceEntry struct {
	at         time.Time
	confidence float64
}

type swingCacheEntry struct {
	lastOpen time.Time
	count    int
	swings   []SwingLevel
}

// Detector runs the rule committee against every timeframe on each tick.
// It is single-writer: OnTick must be called from one goroutine, matching
// the window store's writer.
type Detector struct {
	window     repository.CandleWindow
	timeframes []models.Timeframe
	cfg        *Config
	rules      []Rule
	log        *logger.Logger
	metrics    repository.Metrics
	scorer     repository.Scorer

	// now is injectable so debounce behavior is testable
	now func() time.Time

	debounce map[debounceKey]debounceEntry
	swings   map[models.Timeframe]*swingCacheEntry
}

// Option configures optional detector collaborators.
type Option func(*Detector)

// WithScorer merges an external score map into each event's indicators.
func WithScorer(s repository.Scorer) Option {
	return func(d *Detector) { d.scorer = s }
}

// WithRules replaces the default committee.
func WithRules(rules []Rule) Option {
	return func(d *Detector) { d.rules = rules }
}

// WithClock overrides the detector clock.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

func New(window repository.CandleWindow, timeframes []models.Timeframe, cfg *Config, log *logger.Logger, metrics repository.Metrics, opts ...Option) *Detector {
	d := &Detector{
		window:     window,
		timeframes: timeframes,
		cfg:        cfg,
		rules:      DefaultRules(),
		log:        log,
		metrics:    metrics,
		now:        time.Now,
		debounce:   make(map[debounceKey]debounceEntry),
		swings:     make(map[models.Timeframe]*swingCacheEntry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// lookback is how many closed candles the rules need at most.
func (d *Detector) lookback() int {
	n := d.cfg.SwingLookback
	if d.cfg.ConsolidationCandles > n {
		n = d.cfg.ConsolidationCandles
	}
	return n + d.cfg.BreakoutPersistCandles + 2
}

// OnTick evaluates every timeframe and returns the minted events, which may
// be empty. The tick must already be applied to the window store.
func (d *Detector) OnTick(t *models.Tick) []*models.TrapEvent {
	start := d.now()
	var events []*models.TrapEvent

	for _, tf := range d.timeframes {
		win := d.window.Window(tf, d.lookback())
		if len(win) < 2 {
			continue
		}
		closed := win[:len(win)-1]
		current := win[len(win)-1]

		rc := &RuleContext{
			Tick:    t,
			TF:      tf,
			Closed:  closed,
			Current: &current,
			Swings:  d.swingsFor(tf, closed),
			Cfg:     d.cfg,
		}

		firings := d.evaluate(rc)
		for _, f := range d.mergeByType(firings) {
			if !d.admit(f, tf) {
				continue
			}
			e := d.mint(t, tf, f, closed)
			if err := e.Validate(); err != nil {
				d.metrics.RecordError("invalid_event")
				d.log.Error("detector produced invalid event", logger.Error(err))
				continue
			}
			d.metrics.RecordEvent(string(e.TrapType), string(e.Timeframe))
			events = append(events, e)
		}
	}

	d.metrics.RecordLatency("detect", d.now().Sub(start).Seconds())
	return events
}

// evaluate runs the committee; a panicking rule is skipped, never fatal.
func (d *Detector) evaluate(rc *RuleContext) []*Firing {
	var firings []*Firing
	for _, rule := range d.rules {
		if f := d.safeEvaluate(rule, rc); f != nil {
			firings = append(firings, f)
		}
	}
	return firings
}

func (d *Detector) safeEvaluate(rule Rule, rc *RuleContext) (f *Firing) {
	defer func() {
		if r := recover(); r != nil {
			d.metrics.RecordError("rule_panic")
			d.log.Error("detection rule panicked",
				logger.String("rule", rule.Name()),
				logger.Any("panic", r),
				logger.String("timeframe", string(rc.TF)))
			f = nil
		}
	}()
	return rule.Evaluate(rc)
}

// mergeByType collapses firings of the same trap type into one, keeping the
// highest confidence and unioning indicators (the winner's keys prevail).
func (d *Detector) mergeByType(firings []*Firing) []*Firing {
	if len(firings) <= 1 {
		return firings
	}
	byType := make(map[models.TrapType]*Firing, len(firings))
	var order []models.TrapType
	for _, f := range firings {
		prev, ok := byType[f.Type]
		if !ok {
			byType[f.Type] = f
			order = append(order, f.Type)
			continue
		}
		winner, loser := prev, f
		if f.Confidence > prev.Confidence {
			winner, loser = f, prev
		}
		merged := make(map[string]float64, len(winner.Indicators)+len(loser.Indicators))
		for k, v := range loser.Indicators {
			merged[k] = v
		}
		for k, v := range winner.Indicators {
			merged[k] = v
		}
		winner.Indicators = merged
		byType[winner.Type] = winner
	}
	out := make([]*Firing, 0, len(order))
	for _, t := range order {
		out = append(out, byType[t])
	}
	return out
}

// admit applies the per-(type, timeframe) debounce: within the window a new
// firing passes only with strictly higher confidence.
func (d *Detector) admit(f *Firing, tf models.Timeframe) bool {
	if d.cfg.Debounce <= 0 {
		return true
	}
	key := debounceKey{trapType: f.Type, tf: tf}
	now := d.now()
	if prev, ok := d.debounce[key]; ok && now.Sub(prev.at) < d.cfg.Debounce && f.Confidence <= prev.confidence {
		d.log.Debug("firing suppressed by debounce",
			logger.String("trap_type", string(f.Type)),
			logger.String("timeframe", string(tf)),
			logger.Float64("confidence", f.Confidence))
		return false
	}
	d.debounce[key] = debounceEntry{at: now, confidence: f.Confidence}
	return true
}

func (d *Detector) mint(t *models.Tick, tf models.Timeframe, f *Firing, closed []models.Candle) *models.TrapEvent {
	indicators := make(map[string]float64, len(f.Indicators)+4)
	for k, v := range f.Indicators {
		indicators[k] = v
	}
	addContextIndicators(indicators, closed)

	e := &models.TrapEvent{
		ID:               models.NewEventID(),
		DetectedAt:       d.now(),
		TrapType:         f.Type,
		Timeframe:        tf,
		Confidence:       f.Confidence,
		PriceAtDetection: t.Price,
		PriceChangePct:   f.PriceChangePct,
		ReferenceWindow:  f.Reference,
		Indicators:       indicators,
		RawFeatures: map[string]any{
			"tick_source": t.Source,
			"tick_ts":     t.Timestamp,
		},
	}

	if d.scorer != nil {
		for k, v := range d.scorer.Score(e) {
			e.Indicators[k] = v
		}
	}
	return e
}

// addContextIndicators attaches market context every event carries
// regardless of which rule fired.
func addContextIndicators(ind map[string]float64, closed []models.Candle) {
	cs := closes(closed)
	last := cs[len(cs)-1]
	for _, span := range []struct {
		key string
		n   int
	}{
		{"change_short_pct", 5},
		{"change_medium_pct", 20},
		{"change_long_pct", 60},
	} {
		if len(cs) > span.n {
			ind[span.key] = pctChange(cs[len(cs)-1-span.n], last)
		}
	}
	if v := stddev(cs); v > 0 {
		ind["volatility"] = v
	}
	if len(closed) >= 2 {
		mv := meanVolume(closed[:len(closed)-1])
		if mv > 0 {
			ind["volume_ratio_last"] = closed[len(closed)-1].VolF() / mv
		}
	}
}

// swingsFor returns cached swing levels, recomputing only when a new candle
// has closed on that timeframe.
func (d *Detector) swingsFor(tf models.Timeframe, closed []models.Candle) []SwingLevel {
	if len(closed) == 0 {
		return nil
	}
	lastOpen := closed[len(closed)-1].OpenTS
	if c, ok := d.swings[tf]; ok && c.lastOpen.Equal(lastOpen) && c.count == len(closed) {
		return c.swings
	}
	sw := FindSwings(closed)
	d.swings[tf] = &swingCacheEntry{lastOpen: lastOpen, count: len(closed), swings: sw}
	return sw
}
