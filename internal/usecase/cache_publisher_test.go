package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TrapFlow/internal/domain/models"
)

type fakeCache struct {
	mu       sync.Mutex
	failures int // sets that fail before the cache recovers
	sets     int
	stored   map[string]interface{}
}

func newFakeCache(failures int) *fakeCache {
	return &fakeCache{failures: failures, stored: make(map[string]interface{})}
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.sets <= c.failures {
		return errors.New("connection reset")
	}
	c.stored[key] = value
	return nil
}

func (c *fakeCache) Get(context.Context, string, interface{}) error { return errors.New("miss") }
func (c *fakeCache) Close() error                                   { return nil }

func snapshotFixture() *models.AnalyticsSnapshot {
	return &models.AnalyticsSnapshot{
		GeneratedAt:            analyticsBase,
		TotalCount:             3,
		DominantType:           models.StopHunt,
		PerformanceUnavailable: true,
	}
}

func TestPublishWritesAllKeys(t *testing.T) {
	cache := newFakeCache(0)
	p := NewCachePublisher(cache, testLogger(t), nopMetrics{}, "trapflow", time.Minute)

	if err := p.Publish(context.Background(), snapshotFixture()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	for _, key := range []string{
		"trapflow:dashboard:trap_analysis",
		"trapflow:dashboard:trap_analysis:data",
		"trapflow:dashboard:trap_analysis:performance",
	} {
		if _, ok := cache.stored[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
}

func TestPublishRetriesOnceThenDrops(t *testing.T) {
	// First set fails, its immediate retry succeeds.
	cache := newFakeCache(1)
	p := NewCachePublisher(cache, testLogger(t), nopMetrics{}, "trapflow", time.Minute)

	if err := p.Publish(context.Background(), snapshotFixture()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(cache.stored) != 3 {
		t.Errorf("stored %d keys, want 3", len(cache.stored))
	}
	if cache.sets != 4 {
		t.Errorf("set calls = %d, want 4 (one retry)", cache.sets)
	}
}

func TestPublishFailsWhenEverythingDrops(t *testing.T) {
	cache := newFakeCache(100)
	p := NewCachePublisher(cache, testLogger(t), nopMetrics{}, "trapflow", time.Minute)

	if err := p.Publish(context.Background(), snapshotFixture()); err == nil {
		t.Fatal("publish returned nil with a dead cache")
	}
}
