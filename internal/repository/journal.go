package repository

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"TrapFlow/internal/domain/models"
	"TrapFlow/internal/domain/repository"
	"TrapFlow/pkg/logger"
)

// ErrDeadLettered reports that an event could not reach the store but was
// preserved on disk. Callers treat it as degraded, not fatal.
var ErrDeadLettered = errors.New("event dead-lettered")

// EventMirror publishes successfully journaled events to a side channel.
type EventMirror interface {
	Publish(ctx context.Context, e *models.TrapEvent) error
}

// Journal wraps an EventStore with bounded retries, a dead-letter fallback
// and a degraded flag surfaced through health checks.
type Journal struct {
	store   EventStore
	dead    *DeadLetter
	mirror  EventMirror
	log     *logger.Logger
	metrics repository.Metrics

	writeTimeout time.Duration
	maxAttempts  int
	backoffBase  time.Duration

	degraded atomic.Bool

	// sleep is swapped in tests to avoid real backoff waits
	sleep func(ctx context.Context, d time.Duration) error
}

type JournalOption func(*Journal)

// WithMirror publishes each journaled event to a Kafka topic as well.
func WithMirror(m EventMirror) JournalOption {
	return func(j *Journal) { j.mirror = m }
}

// WithBackoffBase overrides the retry backoff base.
func WithBackoffBase(d time.Duration) JournalOption {
	return func(j *Journal) { j.backoffBase = d }
}

func NewJournal(store EventStore, dead *DeadLetter, log *logger.Logger, metrics repository.Metrics, writeTimeout time.Duration, maxAttempts int, opts ...JournalOption) *Journal {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	j := &Journal{
		store:        store,
		dead:         dead,
		log:          log,
		metrics:      metrics,
		writeTimeout: writeTimeout,
		maxAttempts:  maxAttempts,
		backoffBase:  100 * time.Millisecond,
		sleep:        sleepCtx,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Append persists the event, retrying transient failures with exponential
// backoff. After max attempts the event goes to the dead letter and
// ErrDeadLettered is returned; the caller keeps running.
func (j *Journal) Append(ctx context.Context, e *models.TrapEvent) error {
	var lastErr error
	for attempt := 1; attempt <= j.maxAttempts; attempt++ {
		wctx, cancel := context.WithTimeout(ctx, j.writeTimeout)
		err := j.store.Insert(wctx, e)
		cancel()
		if err == nil {
			j.degraded.Store(false)
			j.metrics.SetHealth("journal", true)
			if attempt > 1 {
				j.log.Info("journal append recovered",
					logger.String("event_id", e.ID),
					logger.Int("attempts", attempt))
			}
			j.publishMirror(ctx, e)
			return nil
		}

		lastErr = err
		j.metrics.RecordError("journal_write")
		j.log.Warn("journal append failed",
			logger.String("event_id", e.ID),
			logger.Int("attempt", attempt),
			logger.Error(err))

		if attempt < j.maxAttempts {
			if serr := j.sleep(ctx, j.backoffBase<<(attempt-1)); serr != nil {
				lastErr = serr
				break
			}
		}
	}

	j.degraded.Store(true)
	j.metrics.SetHealth("journal", false)
	if derr := j.dead.Write(e, lastErr.Error()); derr != nil {
		j.metrics.RecordError("dead_letter_write")
		return fmt.Errorf("append %s: %v; dead letter: %w", e.ID, lastErr, derr)
	}
	j.metrics.RecordError("journal_dead_lettered")
	return fmt.Errorf("append %s: %v: %w", e.ID, lastErr, ErrDeadLettered)
}

func (j *Journal) publishMirror(ctx context.Context, e *models.TrapEvent) {
	if j.mirror == nil {
		return
	}
	if err := j.mirror.Publish(ctx, e); err != nil {
		// mirror is best effort; the journal row is already durable
		j.metrics.RecordError("mirror_publish")
		j.log.Warn("event mirror publish failed",
			logger.String("event_id", e.ID),
			logger.Error(err))
	}
}

func (j *Journal) Query(ctx context.Context, f repository.EventFilter) (repository.EventCursor, error) {
	return j.store.Query(ctx, f)
}

func (j *Journal) Count(ctx context.Context, f repository.EventFilter) (int64, error) {
	return j.store.Count(ctx, f)
}

// Degraded reports whether the last append exhausted its retries.
func (j *Journal) Degraded() bool { return j.degraded.Load() }

func (j *Journal) Health(ctx context.Context) error {
	if err := j.store.Health(ctx); err != nil {
		return err
	}
	if j.degraded.Load() {
		return errors.New("journal degraded: events in dead letter")
	}
	return nil
}

// ReplayDeadLetter drains the dead-letter file back into the store in
// detected_at order. Used by `journal replay` and on startup.
func (j *Journal) ReplayDeadLetter(ctx context.Context) (int, error) {
	return j.ReplayDeadLetterRange(ctx, time.Time{}, time.Time{})
}

// ReplayDeadLetterRange replays only events with detected_at in [from, to);
// a zero time disables that bound. Out-of-range events stay dead-lettered.
func (j *Journal) ReplayDeadLetterRange(ctx context.Context, from, to time.Time) (int, error) {
	var requeue []*models.TrapEvent
	replayed := 0

	_, err := j.dead.Drain(func(e *models.TrapEvent) error {
		if (!from.IsZero() && e.DetectedAt.Before(from)) || (!to.IsZero() && !e.DetectedAt.Before(to)) {
			requeue = append(requeue, e)
			return nil
		}
		wctx, cancel := context.WithTimeout(ctx, j.writeTimeout)
		defer cancel()
		if err := j.store.Insert(wctx, e); err != nil {
			return err
		}
		replayed++
		return nil
	})
	if err != nil {
		// partial drain leaves the file intact; do not requeue or we
		// would duplicate the skipped events
		return replayed, err
	}

	for _, e := range requeue {
		if werr := j.dead.Write(e, "outside replay range"); werr != nil {
			j.metrics.RecordError("dead_letter_write")
			j.log.Error("dead letter requeue failed",
				logger.String("event_id", e.ID),
				logger.Error(werr))
		}
	}

	if replayed > 0 {
		j.degraded.Store(false)
		j.metrics.SetHealth("journal", true)
		j.log.Info("dead letter replayed", logger.Int("events", replayed))
	}
	return replayed, nil
}

func (j *Journal) Close() error {
	if err := j.dead.Close(); err != nil {
		j.log.Warn("dead letter close failed", logger.Error(err))
	}
	return j.store.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
