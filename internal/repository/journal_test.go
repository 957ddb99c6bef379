package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	"TrapFlow/internal/domain/repository"
	"TrapFlow/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type nopMetrics struct{}

func (nopMetrics) RecordTick(string)               {}
func (nopMetrics) RecordDrop(string)               {}
func (nopMetrics) RecordReconnect(string)          {}
func (nopMetrics) RecordEvent(string, string)      {}
func (nopMetrics) RecordAlert(string, string)      {}
func (nopMetrics) RecordError(string)              {}
func (nopMetrics) RecordLatency(string, float64)   {}
func (nopMetrics) RecordLastPrice(string, float64) {}
func (nopMetrics) SetHealth(string, bool)          {}

type flakyStore struct {
	failures int // inserts that fail before the store recovers
	inserts  int
	stored   []*models.TrapEvent
}

func (s *flakyStore) Insert(_ context.Context, e *models.TrapEvent) error {
	s.inserts++
	if s.inserts <= s.failures {
		return errors.New("connection refused")
	}
	s.stored = append(s.stored, e)
	return nil
}

func (s *flakyStore) Query(context.Context, repository.EventFilter) (repository.EventCursor, error) {
	return nil, errors.New("not implemented")
}

func (s *flakyStore) Count(context.Context, repository.EventFilter) (int64, error) {
	return int64(len(s.stored)), nil
}

func (s *flakyStore) Health(context.Context) error { return nil }
func (s *flakyStore) Close() error                 { return nil }

func testEvent(id string, detectedAt time.Time) *models.TrapEvent {
	return &models.TrapEvent{
		ID:               id,
		DetectedAt:       detectedAt,
		TrapType:         models.StopHunt,
		Timeframe:        models.TF1m,
		Confidence:       0.8,
		PriceAtDetection: decimal.NewFromFloat(100.5),
	}
}

func newTestJournal(t *testing.T, store EventStore, deadPath string) *Journal {
	t.Helper()
	j := NewJournal(store, NewDeadLetter(deadPath), testLogger(t), nopMetrics{}, time.Second, 3)
	j.sleep = func(context.Context, time.Duration) error { return nil }
	return j
}

func TestAppendSucceedsOnThirdAttempt(t *testing.T) {
	store := &flakyStore{failures: 2}
	j := newTestJournal(t, store, filepath.Join(t.TempDir(), "dead.jsonl"))

	err := j.Append(context.Background(), testEvent("ev-1", time.Now()))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if store.inserts != 3 {
		t.Errorf("insert attempts = %d, want 3", store.inserts)
	}
	if len(store.stored) != 1 {
		t.Errorf("stored = %d events, want 1", len(store.stored))
	}
	if j.Degraded() {
		t.Error("journal marked degraded after successful append")
	}
}

func TestAppendDeadLettersAfterExhaustion(t *testing.T) {
	store := &flakyStore{failures: 100}
	dead := filepath.Join(t.TempDir(), "dead.jsonl")
	j := newTestJournal(t, store, dead)

	err := j.Append(context.Background(), testEvent("ev-2", time.Now()))
	if !errors.Is(err, ErrDeadLettered) {
		t.Fatalf("err = %v, want ErrDeadLettered", err)
	}
	if store.inserts != 3 {
		t.Errorf("insert attempts = %d, want 3", store.inserts)
	}
	if !j.Degraded() {
		t.Error("journal not marked degraded")
	}
	if err := j.Health(context.Background()); err == nil {
		t.Error("Health() = nil, want degraded error")
	}
}

func TestReplayDeadLetterRestoresOrder(t *testing.T) {
	dead := filepath.Join(t.TempDir(), "dead.jsonl")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Fail everything so both events land in the dead letter, newest first.
	broken := &flakyStore{failures: 100}
	j := newTestJournal(t, broken, dead)
	_ = j.Append(context.Background(), testEvent("ev-late", base.Add(time.Minute)))
	_ = j.Append(context.Background(), testEvent("ev-early", base))

	// Replay into a healthy store.
	healthy := &flakyStore{}
	j2 := newTestJournal(t, healthy, dead)
	n, err := j2.ReplayDeadLetter(context.Background())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 2 {
		t.Fatalf("replayed %d events, want 2", n)
	}
	if healthy.stored[0].ID != "ev-early" || healthy.stored[1].ID != "ev-late" {
		t.Errorf("replay order = [%s, %s], want detected_at ascending",
			healthy.stored[0].ID, healthy.stored[1].ID)
	}

	// A second replay finds nothing: the file was consumed.
	n, err = j2.ReplayDeadLetter(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second replay = (%d, %v), want (0, nil)", n, err)
	}
}

func TestReplayDeadLetterRangeKeepsOutsideEvents(t *testing.T) {
	dead := filepath.Join(t.TempDir(), "dead.jsonl")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	broken := &flakyStore{failures: 100}
	j := newTestJournal(t, broken, dead)
	_ = j.Append(context.Background(), testEvent("ev-before", base.Add(-time.Hour)))
	_ = j.Append(context.Background(), testEvent("ev-inside", base.Add(time.Minute)))
	_ = j.Append(context.Background(), testEvent("ev-after", base.Add(2*time.Hour)))

	healthy := &flakyStore{}
	j2 := newTestJournal(t, healthy, dead)
	n, err := j2.ReplayDeadLetterRange(context.Background(), base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 1 {
		t.Fatalf("replayed %d events, want 1", n)
	}
	if healthy.stored[0].ID != "ev-inside" {
		t.Errorf("replayed %s, want ev-inside", healthy.stored[0].ID)
	}

	// The two out-of-range events went back to the file and replay
	// without bounds.
	n, err = j2.ReplayDeadLetter(context.Background())
	if err != nil {
		t.Fatalf("second replay: %v", err)
	}
	if n != 2 {
		t.Errorf("second replay = %d events, want 2", n)
	}
}

func TestBuildWhere(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f := repository.EventFilter{
		From:          from,
		To:            from.Add(24 * time.Hour),
		TrapTypes:     []models.TrapType{models.BullTrap, models.StopHunt},
		MinConfidence: 0.7,
	}
	where, args := buildWhere(f)
	want := " WHERE detected_at >= ? AND detected_at < ? AND trap_type IN (?, ?) AND confidence >= ?"
	if where != want {
		t.Errorf("where = %q, want %q", where, want)
	}
	if len(args) != 5 {
		t.Errorf("args = %d, want 5", len(args))
	}
}
