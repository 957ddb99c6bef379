package detector

import "TrapFlow/internal/domain/models"

// FakeBreakoutRule fires when price closes beyond the structural extreme of
// the lookback window and then closes back inside within
// breakout_persist_candles. Unlike the consolidation trap it needs no tight
// range first; the broken level is the window high or low itself.
type FakeBreakoutRule struct{}

func (r *FakeBreakoutRule) Name() string { return "fake_breakout" }

func (r *FakeBreakoutRule) Evaluate(rc *RuleContext) *Firing {
	cfg := rc.Cfg
	if cfg.BreakoutPersistCandles < 2 || cfg.SwingLookback < minPreCandles {
		return nil
	}
	closed := rc.Closed
	if len(closed) < minPreCandles+2 {
		return nil
	}

	last := closed[len(closed)-1]
	lastClose := last.CloseF()

	for p := 1; p < cfg.BreakoutPersistCandles; p++ {
		refTo := len(closed) - 1 - p
		refFrom := refTo - cfg.SwingLookback
		if refFrom < 0 {
			refFrom = 0
		}
		ref := closed[refFrom:refTo]
		if len(ref) < minPreCandles {
			break
		}

		hi, lo := ref[0].HighF(), ref[0].LowF()
		for _, c := range ref {
			if c.HighF() > hi {
				hi = c.HighF()
			}
			if c.LowF() < lo {
				lo = c.LowF()
			}
		}

		run := closed[refTo : len(closed)-1]
		above, below := true, true
		var maxBeyond float64
		for _, c := range run {
			cc := c.CloseF()
			if cc <= hi {
				above = false
			}
			if cc >= lo {
				below = false
			}
			b := cc - hi
			if lo-cc > b {
				b = lo - cc
			}
			if b > maxBeyond {
				maxBeyond = b
			}
		}

		var (
			level     float64
			direction float64
		)
		switch {
		case above && lastClose <= hi:
			level, direction = hi, 1
		case below && lastClose >= lo:
			level, direction = lo, -1
		default:
			continue
		}

		sigma := stddev(closes(ref))
		beyondSigma := 0.0
		if sigma > 0 {
			beyondSigma = maxBeyond / sigma
		}

		brevity := float64(cfg.BreakoutPersistCandles-p) / float64(cfg.BreakoutPersistCandles)
		conf := clamp01(
			0.45*squash(beyondSigma, 1.0) +
				0.30*brevity +
				0.25*clamp01(absF(lastClose-level)/(maxBeyond+1e-12)),
		)

		return &Firing{
			Type:           models.FakeBreakout,
			Confidence:     conf,
			PriceChangePct: pctChange(level, lastClose),
			Indicators: map[string]float64{
				"broken_level":       level,
				"breakout_direction": direction,
				"beyond_sigma":       beyondSigma,
				"max_beyond":         maxBeyond,
				"persist_candles":    float64(p),
			},
			Reference: models.ReferenceWindow{
				StartTS:        closed[refFrom].OpenTS,
				EndTS:          closed[refTo-1].OpenTS,
				ReferencePrice: floatDecimal(level),
			},
		}
	}
	return nil
}
