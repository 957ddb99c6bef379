package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"TrapFlow/internal/domain/models"
	pkghttp "TrapFlow/pkg/http"
)

type sinkRecorder struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   []models.TrapEvent
	status   int
	statuses []int // per-request status codes; overrides status when set
}

func (r *sinkRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		defer r.mu.Unlock()
		var e models.TrapEvent
		_ = json.NewDecoder(req.Body).Decode(&e)
		r.requests = append(r.requests, req.Clone(context.Background()))
		r.bodies = append(r.bodies, e)
		status := r.status
		if len(r.statuses) >= len(r.requests) {
			status = r.statuses[len(r.requests)-1]
		}
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func alertEvent(id string, tt models.TrapType, conf float64) *models.TrapEvent {
	return &models.TrapEvent{
		ID:               id,
		DetectedAt:       analyticsBase,
		TrapType:         tt,
		Timeframe:        models.TF1m,
		Confidence:       conf,
		PriceAtDetection: decimal.NewFromInt(100),
	}
}

func newDispatcher(t *testing.T, url string, opts ...DispatcherOption) (*AlertDispatcher, *fakeCache) {
	t.Helper()
	cache := newFakeCache(0)
	opts = append(opts, WithDispatchBackoff(time.Millisecond))
	d := NewAlertDispatcher(
		[]Sink{{Name: "primary", URL: url, Secret: "s3cret"}},
		pkghttp.NewClient(pkghttp.WithTimeout(2*time.Second)),
		cache,
		testLogger(t),
		nopMetrics{},
		0.7,            // threshold
		5*time.Minute,  // cooldown
		3,              // max attempts
		5*time.Second,  // grace
		opts...,
	)
	d.Start()
	return d, cache
}

func stopDispatcher(t *testing.T, d *AlertDispatcher) {
	t.Helper()
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCooldownSuppressesSecondAlert(t *testing.T) {
	rec := &sinkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	clock := analyticsBase
	d, cache := newDispatcher(t, srv.URL, WithDispatcherClock(func() time.Time { return clock }))

	// Two BULL_TRAP events 60s apart, cooldown 5min: one delivery.
	d.Submit(alertEvent("a1", models.BullTrap, 0.8))
	clock = clock.Add(time.Minute)
	d.Submit(alertEvent("a2", models.BullTrap, 0.9))
	stopDispatcher(t, d)

	if rec.count() != 1 {
		t.Fatalf("sink got %d requests, want 1", rec.count())
	}
	if rec.bodies[0].ID != "a1" {
		t.Errorf("delivered event = %s, want a1", rec.bodies[0].ID)
	}

	// The suppressed event still leaves an AlertRecord behind.
	stored, ok := cache.stored["alerts:a2:all"]
	if !ok {
		t.Fatal("no alert record for suppressed event a2")
	}
	record, ok := stored.(*models.AlertRecord)
	if !ok {
		t.Fatalf("record type = %T, want *models.AlertRecord", stored)
	}
	if record.DeliveryStatus != models.DeliverySuppressed {
		t.Errorf("record status = %s, want %s", record.DeliveryStatus, models.DeliverySuppressed)
	}
}

func TestCooldownIsPerType(t *testing.T) {
	rec := &sinkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d, _ := newDispatcher(t, srv.URL)
	d.Submit(alertEvent("a1", models.BullTrap, 0.8))
	d.Submit(alertEvent("a2", models.StopHunt, 0.8))
	stopDispatcher(t, d)

	if rec.count() != 2 {
		t.Fatalf("sink got %d requests, want 2 (one per type)", rec.count())
	}
}

func TestBelowThresholdNeverLeaves(t *testing.T) {
	rec := &sinkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d, _ := newDispatcher(t, srv.URL)
	d.Submit(alertEvent("a1", models.BullTrap, 0.69))
	stopDispatcher(t, d)

	if rec.count() != 0 {
		t.Fatalf("sink got %d requests, want 0", rec.count())
	}
}

func TestSignatureHeader(t *testing.T) {
	rec := &sinkRecorder{}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d, _ := newDispatcher(t, srv.URL)
	e := alertEvent("sig-1", models.LiquidityGrab, 0.85)
	d.Submit(e)
	stopDispatcher(t, d)

	if rec.count() != 1 {
		t.Fatalf("sink got %d requests, want 1", rec.count())
	}
	req := rec.requests[0]
	ts, err := strconv.ParseInt(req.Header.Get("X-Timestamp"), 10, 64)
	if err != nil {
		t.Fatalf("X-Timestamp: %v", err)
	}

	payload := fmt.Sprintf("%d:%s:%s:%s", ts, e.ID, e.TrapType,
		strconv.FormatFloat(e.Confidence, 'f', -1, 64))
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write([]byte(payload))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := req.Header.Get("X-Signature"); got != want {
		t.Errorf("X-Signature = %s, want %s", got, want)
	}
}

func TestClientErrorIsTerminal(t *testing.T) {
	rec := &sinkRecorder{status: http.StatusBadRequest}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d, cache := newDispatcher(t, srv.URL)
	d.Submit(alertEvent("a1", models.BullTrap, 0.8))
	stopDispatcher(t, d)

	if rec.count() != 1 {
		t.Fatalf("sink got %d requests, want 1 (4xx must not retry)", rec.count())
	}
	rec2, ok := cache.stored["alerts:a1:primary"].(*models.AlertRecord)
	if !ok {
		t.Fatal("alert record not cached")
	}
	if rec2.DeliveryStatus != models.DeliveryFailed {
		t.Errorf("status = %s, want failed", rec2.DeliveryStatus)
	}
}

func TestServerErrorRetriesThenDelivers(t *testing.T) {
	rec := &sinkRecorder{statuses: []int{http.StatusBadGateway, http.StatusBadGateway, http.StatusOK}}
	srv := httptest.NewServer(rec.handler())
	defer srv.Close()

	d, cache := newDispatcher(t, srv.URL)
	d.Submit(alertEvent("a1", models.BullTrap, 0.8))
	stopDispatcher(t, d)

	if rec.count() != 3 {
		t.Fatalf("sink got %d requests, want 3", rec.count())
	}
	rec2, ok := cache.stored["alerts:a1:primary"].(*models.AlertRecord)
	if !ok {
		t.Fatal("alert record not cached")
	}
	if rec2.DeliveryStatus != models.DeliveryDelivered {
		t.Errorf("status = %s, want delivered", rec2.DeliveryStatus)
	}
	if rec2.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec2.Attempts)
	}
}
