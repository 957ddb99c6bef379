package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Candle is an OHLCV bucket for one timeframe. Prices are fixed-point
// decimals; volume is accumulated exactly, not in floating point.
type Candle struct {
	OpenTS    time.Time       `json:"open_ts"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	TickCount int             `json:"tick_count"`
	Synthetic bool            `json:"synthetic,omitempty"` // gap fill, zero volume
}

// NewCandle opens a candle from its first tick.
func NewCandle(openTS time.Time, price, volume decimal.Decimal) Candle {
	return Candle{
		OpenTS:    openTS,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    volume,
		TickCount: 1,
	}
}

// SyntheticCandle fills a gap bucket carrying the last known close.
func SyntheticCandle(openTS time.Time, carry decimal.Decimal) Candle {
	return Candle{
		OpenTS:    openTS,
		Open:      carry,
		High:      carry,
		Low:       carry,
		Close:     carry,
		Synthetic: true,
	}
}

// Apply integrates one more tick into the candle.
func (c *Candle) Apply(price, volume decimal.Decimal) {
	if price.GreaterThan(c.High) {
		c.High = price
	}
	if price.LessThan(c.Low) {
		c.Low = price
	}
	c.Close = price
	c.Volume = c.Volume.Add(volume)
	c.TickCount++
	c.Synthetic = false
}

// Valid checks the OHLC ordering invariant.
func (c *Candle) Valid() bool {
	lo := decimal.Min(c.Open, c.Close)
	hi := decimal.Max(c.Open, c.Close)
	if c.Low.GreaterThan(lo) || c.High.LessThan(hi) {
		return false
	}
	return c.Synthetic || c.TickCount >= 1
}

// Float helpers for indicator math. Rule computations run on float64;
// exact decimals remain the stored representation.

func (c *Candle) OpenF() float64  { return c.Open.InexactFloat64() }
func (c *Candle) HighF() float64  { return c.High.InexactFloat64() }
func (c *Candle) LowF() float64   { return c.Low.InexactFloat64() }
func (c *Candle) CloseF() float64 { return c.Close.InexactFloat64() }
func (c *Candle) VolF() float64   { return c.Volume.InexactFloat64() }

// Body returns the absolute open-close distance.
func (c *Candle) Body() float64 {
	b := c.CloseF() - c.OpenF()
	if b < 0 {
		return -b
	}
	return b
}

// UpperWick returns the distance from the body top to the high.
func (c *Candle) UpperWick() float64 {
	top := c.OpenF()
	if c.CloseF() > top {
		top = c.CloseF()
	}
	return c.HighF() - top
}

// LowerWick returns the distance from the body bottom to the low.
func (c *Candle) LowerWick() float64 {
	bot := c.OpenF()
	if c.CloseF() < bot {
		bot = c.CloseF()
	}
	return bot - c.LowF()
}

// IsBull reports whether the candle closed above its open.
func (c *Candle) IsBull() bool { return c.Close.GreaterThan(c.Open) }
