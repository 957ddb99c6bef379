package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired. A miss
// is an expected outcome, not a transport failure; callers check it with
// errors.Is before treating a read as unhealthy.
var ErrCacheMiss = errors.New("cache: key not found")

// Service is the hot store behind dashboard snapshots and alert records.
// Values round-trip as JSON except plain strings, which pass through raw.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	Close() error
}
