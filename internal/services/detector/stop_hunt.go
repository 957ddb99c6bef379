package detector

import (
	"math"

	"TrapFlow/internal/domain/models"
)

// StopHuntRule fires on a volume-backed price spike of at least
// spike_sigma standard deviations that returns to the pre-spike range
// within breakout_persist_candles closed candles.
type StopHuntRule struct{}

func (r *StopHuntRule) Name() string { return "stop_hunt" }

// minPreCandles is the smallest pre-spike window the volatility estimate
// is meaningful for.
const minPreCandles = 3

func (r *StopHuntRule) Evaluate(rc *RuleContext) *Firing {
	cfg := rc.Cfg
	if cfg.SpikeSigma <= 0 || cfg.VolumeZ <= 0 || cfg.BreakoutPersistCandles <= 0 {
		return nil
	}
	closed := rc.Closed
	if len(closed) < minPreCandles+2 {
		return nil
	}

	lastClose := closed[len(closed)-1].CloseF()

	// Scan recent candles for the spike; the most recent qualifying spike
	// wins. The candle after the spike must already be closed, so the scan
	// stops at len-2.
	for j := len(closed) - 2; j >= minPreCandles && j >= len(closed)-1-cfg.BreakoutPersistCandles; j-- {
		preFrom := j - cfg.ConsolidationCandles
		if preFrom < 0 {
			preFrom = 0
		}
		pre := closed[preFrom:j]
		if len(pre) < minPreCandles {
			continue
		}

		preCloses := closes(pre)
		sigma := stddev(preCloses)
		if sigma == 0 {
			continue
		}
		m := mean(preCloses)
		spike := closed[j]
		dev := math.Abs(spike.CloseF() - m)
		sigmaMult := dev / sigma
		if sigmaMult < cfg.SpikeSigma {
			continue
		}

		mv := meanVolume(pre)
		if mv <= 0 {
			continue
		}
		volRatio := spike.VolF() / mv
		if volRatio < cfg.VolumeZ {
			continue
		}

		// Reversion: price back inside the pre-spike close range.
		lo, hi := preCloses[0], preCloses[0]
		for _, c := range preCloses {
			if c < lo {
				lo = c
			}
			if c > hi {
				hi = c
			}
		}
		if lastClose < lo || lastClose > hi {
			continue
		}

		retraceQuality := 1 - math.Abs(lastClose-m)/dev
		conf := clamp01(
			0.5*squash(sigmaMult, 2*cfg.SpikeSigma) +
				0.3*squash(volRatio, cfg.VolumeZ) +
				0.2*clamp01(retraceQuality),
		)

		return &Firing{
			Type:           models.StopHunt,
			Confidence:     conf,
			PriceChangePct: pctChange(m, spike.CloseF()),
			Indicators: map[string]float64{
				"spike_sigma_multiple": sigmaMult,
				"volume_ratio":         volRatio,
				"pre_range_low":        lo,
				"pre_range_high":       hi,
				"retrace_quality":      clamp01(retraceQuality),
			},
			Reference: models.ReferenceWindow{
				StartTS:        pre[0].OpenTS,
				EndTS:          spike.OpenTS,
				ReferencePrice: floatDecimal(m),
			},
		}
	}
	return nil
}
