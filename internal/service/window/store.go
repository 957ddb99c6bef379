package window

import (
	"sync"
	"sync/atomic"
	"time"

	"TrapFlow/internal/domain/models"
)

// Store maintains bounded multi-timeframe candle series. It is safe for a
// single writer (Update) with many concurrent readers (Window). Readers get
// copies, never views into writer-owned memory; the generation counter lets
// callers detect mutation between two reads.
type Store struct {
	mu         sync.RWMutex
	gen        atomic.Uint64
	maxCandles int
	series     map[models.Timeframe]*series
}

type series struct {
	tf      models.Timeframe
	closed  []models.Candle // ring, oldest at head
	head    int
	count   int
	current *models.Candle
}

// New creates a store for the given timeframes, each bounded to maxCandles
// closed candles.
func New(timeframes []models.Timeframe, maxCandles int) *Store {
	if maxCandles < 2 {
		maxCandles = 2
	}
	s := &Store{
		maxCandles: maxCandles,
		series:     make(map[models.Timeframe]*series, len(timeframes)),
	}
	for _, tf := range timeframes {
		if !tf.IsValid() {
			continue
		}
		s.series[tf] = &series{tf: tf, closed: make([]models.Candle, maxCandles)}
	}
	return s
}

// Timeframes returns the maintained timeframes.
func (s *Store) Timeframes() []models.Timeframe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Timeframe, 0, len(s.series))
	for _, tf := range models.AllTimeframes {
		if _, ok := s.series[tf]; ok {
			out = append(out, tf)
		}
	}
	return out
}

// Update integrates a tick into every maintained series. Single writer only.
func (s *Store) Update(t *models.Tick) {
	s.mu.Lock()
	for _, ser := range s.series {
		ser.apply(t, s.maxCandles)
	}
	s.mu.Unlock()
	s.gen.Add(1)
}

func (ser *series) apply(t *models.Tick, maxCandles int) {
	bucket := ser.tf.Bucket(t.Time())

	if ser.current == nil {
		c := models.NewCandle(bucket, t.Price, t.Volume)
		ser.current = &c
		return
	}

	switch {
	case bucket.Equal(ser.current.OpenTS):
		ser.current.Apply(t.Price, t.Volume)

	case bucket.After(ser.current.OpenTS):
		carry := ser.current.Close
		ser.push(*ser.current)

		// Synthesize zero-volume candles for skipped buckets, carrying the
		// last close. A jump wider than the ring only needs the tail.
		d := ser.tf.Duration()
		gaps := int(bucket.Sub(ser.current.OpenTS)/d) - 1
		if gaps > maxCandles {
			gaps = maxCandles
		}
		for i := gaps; i >= 1; i-- {
			ser.push(models.SyntheticCandle(bucket.Add(-time.Duration(i)*d), carry))
		}

		c := models.NewCandle(bucket, t.Price, t.Volume)
		ser.current = &c

	default:
		// Tick behind the open bucket. The ingestor enforces per-source
		// monotonicity, so this only happens across sources; fold into the
		// current candle rather than rewriting closed history.
		ser.current.Apply(t.Price, t.Volume)
	}
}

func (ser *series) push(c models.Candle) {
	if ser.count < len(ser.closed) {
		ser.closed[(ser.head+ser.count)%len(ser.closed)] = c
		ser.count++
		return
	}
	ser.closed[ser.head] = c
	ser.head = (ser.head + 1) % len(ser.closed)
}

// Window returns the last n closed candles plus the in-progress one as the
// final element, oldest first. Returns nil for an unknown timeframe.
func (s *Store) Window(tf models.Timeframe, n int) []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.series[tf]
	if !ok {
		return nil
	}
	if n > ser.count {
		n = ser.count
	}
	out := make([]models.Candle, 0, n+1)
	for i := ser.count - n; i < ser.count; i++ {
		out = append(out, ser.closed[(ser.head+i)%len(ser.closed)])
	}
	if ser.current != nil {
		out = append(out, *ser.current)
	}
	return out
}

// ClosedCount returns the number of closed candles held for tf.
func (s *Store) ClosedCount(tf models.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.series[tf]; ok {
		return ser.count
	}
	return 0
}

// Generation returns the mutation counter.
func (s *Store) Generation() uint64 { return s.gen.Load() }
