package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	pkgcache "TrapFlow/pkg/cache"
	xlogger "TrapFlow/pkg/logger"
)

func testLogger(t *testing.T) *xlogger.Logger {
	t.Helper()
	l, err := xlogger.New(&xlogger.Config{Level: "error", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type sliceCursor struct {
	events []*models.TrapEvent
	pos    int
}

func (c *sliceCursor) Next() bool {
	if c.pos >= len(c.events) {
		return false
	}
	c.pos++
	return true
}

func (c *sliceCursor) Event() *models.TrapEvent { return c.events[c.pos-1] }
func (c *sliceCursor) Err() error               { return nil }
func (c *sliceCursor) Close() error             { return nil }

type stubJournal struct {
	events   []*models.TrapEvent
	healthy  bool
	degraded bool
}

func (j *stubJournal) Append(context.Context, *models.TrapEvent) error { return nil }

func (j *stubJournal) Query(_ context.Context, f domrepo.EventFilter) (domrepo.EventCursor, error) {
	matched := j.match(f)
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return &sliceCursor{events: matched}, nil
}

func (j *stubJournal) Count(_ context.Context, f domrepo.EventFilter) (int64, error) {
	return int64(len(j.match(f))), nil
}

func (j *stubJournal) match(f domrepo.EventFilter) []*models.TrapEvent {
	var out []*models.TrapEvent
	for _, e := range j.events {
		if !f.From.IsZero() && e.DetectedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !e.DetectedAt.Before(f.To) {
			continue
		}
		if e.Confidence < f.MinConfidence {
			continue
		}
		if len(f.TrapTypes) > 0 && !containsType(f.TrapTypes, e.TrapType) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DetectedAt.Before(out[b].DetectedAt) })
	return out
}

func containsType(ts []models.TrapType, t models.TrapType) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func (j *stubJournal) Health(context.Context) error {
	if !j.healthy {
		return errors.New("store unreachable")
	}
	return nil
}

func (j *stubJournal) Degraded() bool { return j.degraded }
func (j *stubJournal) Close() error   { return nil }

type stubCache struct {
	stored map[string][]byte
	err    error
}

func (c *stubCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	if c.stored == nil {
		c.stored = make(map[string][]byte)
	}
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.stored[key] = b
	return nil
}

func (c *stubCache) Get(_ context.Context, key string, dest interface{}) error {
	if c.err != nil {
		return c.err
	}
	b, ok := c.stored[key]
	if !ok {
		return pkgcache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *stubCache) Close() error { return nil }

type stubFeed struct{ connected bool }

func (f stubFeed) IsConnected() bool { return f.connected }

type stubPipe struct{ depth int }

func (p stubPipe) Depth() int { return p.depth }

func newStatusServer(t *testing.T, journal *stubJournal, cache *stubCache, feed stubFeed) *echo.Echo {
	t.Helper()
	h := NewStatusHandler(testLogger(t), journal, cache, feed, stubPipe{depth: 3})
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func apiEvent(id string, tt models.TrapType, conf float64, at time.Time) *models.TrapEvent {
	return &models.TrapEvent{
		ID:         id,
		DetectedAt: at,
		TrapType:   tt,
		Timeframe:  models.TF1m,
		Confidence: conf,
	}
}

func TestHealthAllComponentsUp(t *testing.T) {
	e := newStatusServer(t, &stubJournal{healthy: true}, &stubCache{}, stubFeed{connected: true})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.PipelineDepth != 3 {
		t.Errorf("pipeline depth = %d, want 3", resp.PipelineDepth)
	}
}

func TestHealthDegradedJournal(t *testing.T) {
	journal := &stubJournal{healthy: true, degraded: true}
	e := newStatusServer(t, journal, &stubCache{}, stubFeed{connected: true})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Components["journal"].Healthy {
		t.Error("journal reported healthy while degraded")
	}
	if !resp.Components["feed"].Healthy {
		t.Error("feed should stay healthy")
	}
}

func TestEventsFilterAndLimit(t *testing.T) {
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	journal := &stubJournal{healthy: true, events: []*models.TrapEvent{
		apiEvent("e1", models.StopHunt, 0.9, base),
		apiEvent("e2", models.BullTrap, 0.8, base.Add(time.Minute)),
		apiEvent("e3", models.StopHunt, 0.5, base.Add(2*time.Minute)),
		apiEvent("e4", models.StopHunt, 0.95, base.Add(3*time.Minute)),
	}}
	e := newStatusServer(t, journal, &stubCache{}, stubFeed{connected: true})

	url := "/api/events?types=stop_hunt&min_conf=0.7&limit=1&from=" + base.Format(time.RFC3339)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Data struct {
			Rows  []models.TrapEvent `json:"rows"`
			Total int64              `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(resp.Data.Rows))
	}
	if resp.Data.Rows[0].ID != "e1" {
		t.Errorf("first row = %s, want e1 (ascending order)", resp.Data.Rows[0].ID)
	}
	if resp.Data.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Data.Total)
	}
}

func TestEventsRejectsUnknownType(t *testing.T) {
	e := newStatusServer(t, &stubJournal{healthy: true}, &stubCache{}, stubFeed{connected: true})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/events?types=nonsense", nil))

	var resp struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusBadRequest {
		t.Errorf("status field = %d, want 400", resp.Status)
	}
}

func TestDashboardServesCachedSnapshot(t *testing.T) {
	cache := &stubCache{}
	snap := &models.AnalyticsSnapshot{
		GeneratedAt: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		TotalCount:  7,
	}
	if err := cache.Set(context.Background(), "dashboard:trap_analysis", snap, 0); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	e := newStatusServer(t, &stubJournal{healthy: true}, cache, stubFeed{connected: true})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Data models.AnalyticsSnapshot `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.TotalCount != 7 {
		t.Errorf("total count = %d, want 7", resp.Data.TotalCount)
	}
}

func TestAPIThrottleRejectsBurst(t *testing.T) {
	e := newStatusServer(t, &stubJournal{healthy: true}, &stubCache{}, stubFeed{connected: true})

	throttled := 0
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

		var resp struct {
			Status int `json:"status"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Status == http.StatusTooManyRequests {
			throttled++
		}
	}
	if throttled == 0 {
		t.Error("burst of 20 requests was never throttled")
	}
}

func TestDashboardMissReturnsNotFound(t *testing.T) {
	e := newStatusServer(t, &stubJournal{healthy: true}, &stubCache{}, stubFeed{connected: true})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard", nil))

	var resp struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != http.StatusNotFound {
		t.Errorf("status field = %d, want 404", resp.Status)
	}
}
