package feed

import (
	"math/rand"
	"sync"
	"time"
)

// backoff yields full-jitter exponential delays: uniform in (0, min(cap,
// base*2^attempt)].
type backoff struct {
	base time.Duration
	cap  time.Duration

	mu      sync.Mutex
	attempt int
}

func newBackoff(base, cap time.Duration) *backoff {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if cap <= 0 {
		cap = 30 * time.Second
	}
	return &backoff{base: base, cap: cap}
}

func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.base << b.attempt
	if d > b.cap || d <= 0 {
		d = b.cap
	} else {
		b.attempt++
	}
	return time.Duration(rand.Int63n(int64(d))) + time.Millisecond
}

// Reset is called after a healthy connection so the next failure starts
// from the base delay again.
func (b *backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}
