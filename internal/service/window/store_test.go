package window

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
)

func tick(ts time.Time, price, vol float64) *models.Tick {
	return &models.Tick{
		Timestamp: ts.UnixMilli(),
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromFloat(vol),
		Source:    "test",
	}
}

func TestUpdateBuildsCandle(t *testing.T) {
	s := New([]models.Timeframe{models.TF1m}, 10)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Update(tick(base.Add(1*time.Second), 100, 1))
	s.Update(tick(base.Add(10*time.Second), 105, 2))
	s.Update(tick(base.Add(20*time.Second), 99, 1))
	s.Update(tick(base.Add(30*time.Second), 101, 1))

	w := s.Window(models.TF1m, 5)
	if len(w) != 1 {
		t.Fatalf("expected only in-progress candle, got %d", len(w))
	}
	c := w[0]
	if got := c.OpenF(); got != 100 {
		t.Errorf("open = %v, want 100", got)
	}
	if got := c.HighF(); got != 105 {
		t.Errorf("high = %v, want 105", got)
	}
	if got := c.LowF(); got != 99 {
		t.Errorf("low = %v, want 99", got)
	}
	if got := c.CloseF(); got != 101 {
		t.Errorf("close = %v, want 101", got)
	}
	if c.TickCount != 4 {
		t.Errorf("tick_count = %d, want 4", c.TickCount)
	}
	if got := c.VolF(); got != 5 {
		t.Errorf("volume = %v, want 5", got)
	}
	if !c.Valid() {
		t.Error("candle invariant violated")
	}
}

func TestRolloverClosesCandle(t *testing.T) {
	s := New([]models.Timeframe{models.TF1m}, 10)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Update(tick(base.Add(5*time.Second), 100, 1))
	s.Update(tick(base.Add(65*time.Second), 102, 1)) // next bucket

	w := s.Window(models.TF1m, 5)
	if len(w) != 2 {
		t.Fatalf("expected 1 closed + 1 in-progress, got %d", len(w))
	}
	if w[0].CloseF() != 100 || w[0].Synthetic {
		t.Errorf("closed candle wrong: %+v", w[0])
	}
	if w[1].OpenF() != 102 {
		t.Errorf("new candle open = %v, want 102", w[1].OpenF())
	}
	if !w[1].OpenTS.Equal(base.Add(time.Minute)) {
		t.Errorf("new candle bucket = %v", w[1].OpenTS)
	}
}

func TestGapSynthesizesCandles(t *testing.T) {
	s := New([]models.Timeframe{models.TF1m}, 10)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Update(tick(base, 100, 1))
	// jump 3 buckets ahead: two gap candles expected
	s.Update(tick(base.Add(3*time.Minute), 110, 1))

	w := s.Window(models.TF1m, 10)
	if len(w) != 4 {
		t.Fatalf("expected 3 closed + 1 in-progress, got %d", len(w))
	}
	for i := 1; i <= 2; i++ {
		g := w[i]
		if !g.Synthetic {
			t.Errorf("candle %d should be synthetic", i)
		}
		if g.OpenF() != 100 || g.CloseF() != 100 || g.HighF() != 100 || g.LowF() != 100 {
			t.Errorf("gap candle %d should carry close 100: %+v", i, g)
		}
		if !g.Volume.IsZero() {
			t.Errorf("gap candle %d should have zero volume", i)
		}
	}
}

func TestRingBufferBounded(t *testing.T) {
	const capacity = 5
	s := New([]models.Timeframe{models.TF1m}, capacity)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 20; i++ {
		s.Update(tick(base.Add(time.Duration(i)*time.Minute), 100+float64(i), 1))
	}

	if got := s.ClosedCount(models.TF1m); got != capacity {
		t.Fatalf("closed count = %d, want %d", got, capacity)
	}
	w := s.Window(models.TF1m, capacity)
	// oldest retained closed candle is i=14 (i=19 still in progress)
	if got := w[0].OpenF(); got != 114 {
		t.Errorf("oldest retained open = %v, want 114", got)
	}
	if got := w[len(w)-1].OpenF(); got != 119 {
		t.Errorf("in-progress open = %v, want 119", got)
	}
}

func TestGenerationAdvances(t *testing.T) {
	s := New([]models.Timeframe{models.TF1m, models.TF5m}, 10)
	g0 := s.Generation()
	s.Update(tick(time.Now().UTC(), 100, 1))
	if s.Generation() != g0+1 {
		t.Errorf("generation should advance by 1 per update")
	}
}

func TestWindowUnknownTimeframe(t *testing.T) {
	s := New([]models.Timeframe{models.TF1m}, 10)
	if w := s.Window(models.TF4h, 5); w != nil {
		t.Errorf("expected nil window for unmaintained timeframe, got %v", w)
	}
}
