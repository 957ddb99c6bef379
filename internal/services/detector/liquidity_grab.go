package detector

import "TrapFlow/internal/domain/models"

// LiquidityGrabRule fires when the last closed candle wicks through a known
// swing level and closes back on the original side within the same candle.
// The long wick is the footprint of resting stops being swept.
type LiquidityGrabRule struct{}

func (r *LiquidityGrabRule) Name() string { return "liquidity_grab" }

func (r *LiquidityGrabRule) Evaluate(rc *RuleContext) *Firing {
	cfg := rc.Cfg
	if len(rc.Closed) < 2*swingPivot+2 || cfg.WickRatio <= 0 || cfg.RetraceFraction <= 0 {
		return nil
	}

	last := rc.Closed[len(rc.Closed)-1]
	body := last.Body()
	if body == 0 {
		// doji: use a fraction of the range so the ratio stays finite
		body = (last.HighF() - last.LowF()) / 10
		if body == 0 {
			return nil
		}
	}

	// Only swings confirmed before the last candle count as "known" levels.
	limit := len(rc.Closed) - 1
	lookFrom := limit - cfg.SwingLookback
	if lookFrom < 0 {
		lookFrom = 0
	}

	if f := r.side(rc, last, body, SwingHigh, limit, lookFrom); f != nil {
		return f
	}
	return r.side(rc, last, body, SwingLow, limit, lookFrom)
}

func (r *LiquidityGrabRule) side(rc *RuleContext, last models.Candle, body float64, kind SwingKind, limit, lookFrom int) *Firing {
	cfg := rc.Cfg
	sw := nearestSwing(rc.Swings, kind, limit)
	if sw == nil || sw.Index < lookFrom {
		return nil
	}

	var (
		wick, beyond, retrace float64
		pierced               bool
	)
	if kind == SwingHigh {
		wick = last.UpperWick()
		beyond = last.HighF() - sw.Price
		pierced = beyond > 0 && last.CloseF() < sw.Price
		if pierced {
			retrace = (last.HighF() - last.CloseF()) / (last.HighF() - sw.Price + body)
		}
	} else {
		wick = last.LowerWick()
		beyond = sw.Price - last.LowF()
		pierced = beyond > 0 && last.CloseF() > sw.Price
		if pierced {
			retrace = (last.CloseF() - last.LowF()) / (sw.Price - last.LowF() + body)
		}
	}
	if !pierced {
		return nil
	}

	wickRatio := wick / body
	if wickRatio < cfg.WickRatio {
		return nil
	}
	retrace = clamp01(retrace)
	if retrace < cfg.RetraceFraction {
		return nil
	}

	vol := stddev(closes(rc.Closed))
	beyondSigma := 0.0
	if vol > 0 {
		beyondSigma = beyond / vol
	}

	conf := clamp01(
		0.45*squash(wickRatio, cfg.WickRatio) +
			0.25*squash(beyondSigma, 1.0) +
			0.30*retrace,
	)

	return &Firing{
		Type:           models.LiquidityGrab,
		Confidence:     conf,
		PriceChangePct: pctChange(sw.Price, last.CloseF()),
		Indicators: map[string]float64{
			"wick_ratio":       wickRatio,
			"swing_level":      sw.Price,
			"beyond_sigma":     beyondSigma,
			"retrace_fraction": retrace,
		},
		Reference: models.ReferenceWindow{
			StartTS:        sw.TS,
			EndTS:          last.OpenTS,
			ReferencePrice: floatDecimal(sw.Price),
		},
	}
}
