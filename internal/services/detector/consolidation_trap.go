package detector

import "TrapFlow/internal/domain/models"

// ConsolidationTrapRule fires when a breakout from a tight consolidation
// band fails within breakout_persist_candles and price closes back inside.
// Breakouts above the band trap longs (BULL_TRAP), below trap shorts
// (BEAR_TRAP).
type ConsolidationTrapRule struct{}

func (r *ConsolidationTrapRule) Name() string { return "consolidation_trap" }

// consolidationBandSigma bounds the band width relative to the longer-run
// close volatility; wider ranges are not consolidations.
const consolidationBandSigma = 2.0

func (r *ConsolidationTrapRule) Evaluate(rc *RuleContext) *Firing {
	cfg := rc.Cfg
	if cfg.ConsolidationCandles < 2 || cfg.BreakoutPersistCandles < 2 {
		return nil
	}
	closed := rc.Closed

	// re-entry candle + breakout run + consolidation window
	minLen := 1 + 1 + cfg.ConsolidationCandles
	if len(closed) < minLen {
		return nil
	}

	last := closed[len(closed)-1]
	lastClose := last.CloseF()

	// Try run lengths shortest-first; the breakout must fail in fewer than
	// breakout_persist_candles.
	for p := 1; p < cfg.BreakoutPersistCandles; p++ {
		bandTo := len(closed) - 1 - p
		bandFrom := bandTo - cfg.ConsolidationCandles
		if bandFrom < 0 {
			break
		}

		band := closes(closed[bandFrom:bandTo])
		lo, hi := band[0], band[0]
		for _, c := range band {
			if c < lo {
				lo = c
			}
			if c > hi {
				hi = c
			}
		}

		refFrom := bandTo - cfg.SwingLookback
		if refFrom < 0 {
			refFrom = 0
		}
		sigma := stddev(closes(closed[refFrom:bandTo]))
		if sigma == 0 || hi-lo > consolidationBandSigma*sigma {
			continue
		}

		run := closed[bandTo : len(closed)-1]
		above, below := true, true
		var maxDist float64
		for _, c := range run {
			cc := c.CloseF()
			if cc <= hi {
				above = false
			}
			if cc >= lo {
				below = false
			}
			d := cc - hi
			if lo-cc > d {
				d = lo - cc
			}
			if d > maxDist {
				maxDist = d
			}
		}

		var (
			trapType models.TrapType
			edge     float64
		)
		switch {
		case above && lastClose <= hi:
			trapType = models.BullTrap
			edge = hi
		case below && lastClose >= lo:
			trapType = models.BearTrap
			edge = lo
		default:
			continue
		}

		brevity := float64(cfg.BreakoutPersistCandles-p) / float64(cfg.BreakoutPersistCandles)
		conf := clamp01(
			0.4*squash(maxDist/sigma, 1.0) +
				0.3*brevity +
				0.3*clamp01((hi-lo-absF(lastClose-midpoint(lo, hi)))/(hi-lo+1e-12)),
		)

		return &Firing{
			Type:           trapType,
			Confidence:     conf,
			PriceChangePct: pctChange(edge, lastClose),
			Indicators: map[string]float64{
				"band_low":          lo,
				"band_high":         hi,
				"band_width_sigma":  (hi - lo) / sigma,
				"breakout_distance": maxDist,
				"persist_candles":   float64(p),
			},
			Reference: models.ReferenceWindow{
				StartTS:        closed[bandFrom].OpenTS,
				EndTS:          closed[bandTo-1].OpenTS,
				ReferencePrice: floatDecimal(edge),
			},
		}
	}
	return nil
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func midpoint(lo, hi float64) float64 { return (lo + hi) / 2 }
