package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	pkghttp "TrapFlow/pkg/http"
	"TrapFlow/pkg/logger"
	"TrapFlow/pkg/queue"
)

// Sink is one webhook destination.
type Sink struct {
	Name   string
	URL    string
	Secret string
}

// PendingAlertType is the queue message type for alerts persisted at
// shutdown and drained on the next startup.
const PendingAlertType = "alert.pending"

// AlertDispatcher pushes high-confidence events to webhook sinks. Each sink
// has its own single-consumer queue so deliveries to one sink stay ordered
// while sinks run concurrently.
type AlertDispatcher struct {
	sinks   []Sink
	client  *pkghttp.Client
	cache   domrepo.Cache
	pending queue.QueueService // nil disables shutdown persistence
	log     *logger.Logger
	metrics domrepo.Metrics

	threshold   float64
	cooldown    time.Duration
	maxAttempts int
	backoffBase time.Duration
	grace       time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	lastSent map[models.TrapType]time.Time
	stopped  bool

	graceExpired atomic.Bool

	queues map[string]chan *models.TrapEvent
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type DispatcherOption func(*AlertDispatcher)

// WithPendingQueue persists undelivered alerts to Redis on shutdown.
func WithPendingQueue(q queue.QueueService) DispatcherOption {
	return func(d *AlertDispatcher) { d.pending = q }
}

// WithDispatcherClock overrides the cooldown clock.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *AlertDispatcher) { d.now = now }
}

// WithDispatchBackoff overrides the retry backoff base.
func WithDispatchBackoff(base time.Duration) DispatcherOption {
	return func(d *AlertDispatcher) { d.backoffBase = base }
}

func NewAlertDispatcher(sinks []Sink, client *pkghttp.Client, cache domrepo.Cache, log *logger.Logger, metrics domrepo.Metrics, threshold float64, cooldown time.Duration, maxAttempts int, grace time.Duration, opts ...DispatcherOption) *AlertDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	d := &AlertDispatcher{
		sinks:       sinks,
		client:      client,
		cache:       cache,
		log:         log,
		metrics:     metrics,
		threshold:   threshold,
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		backoffBase: time.Second,
		grace:       grace,
		now:         time.Now,
		sleep:       sleepAlertCtx,
		lastSent:    make(map[models.TrapType]time.Time),
		queues:      make(map[string]chan *models.TrapEvent),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches one delivery worker per sink.
func (d *AlertDispatcher) Start() {
	for _, sink := range d.sinks {
		ch := make(chan *models.TrapEvent, 64)
		d.queues[sink.Name] = ch
		d.wg.Add(1)
		go d.worker(sink, ch)
	}
	d.log.Info("alert dispatcher started",
		logger.Int("sinks", len(d.sinks)),
		logger.Float64("threshold", d.threshold))
}

// Submit filters and fans the event out to every sink queue. It never
// blocks; a full sink queue drops with a counter.
func (d *AlertDispatcher) Submit(e *models.TrapEvent) {
	if e.Confidence < d.threshold {
		return
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	now := d.now()
	if last, ok := d.lastSent[e.TrapType]; ok && now.Sub(last) < d.cooldown {
		d.mu.Unlock()
		d.metrics.RecordAlert("all", string(models.DeliverySuppressed))
		// Suppression is still an outcome; the record keeps dedup
		// accounting complete for the event.
		d.storeRecord(context.Background(), &models.AlertRecord{
			EventID:        e.ID,
			DispatchedAt:   now.UTC(),
			Sink:           "all",
			DeliveryStatus: models.DeliverySuppressed,
		})
		d.log.Debug("alert suppressed by cooldown",
			logger.String("event_id", e.ID),
			logger.String("trap_type", string(e.TrapType)))
		return
	}
	d.lastSent[e.TrapType] = now
	d.mu.Unlock()

	for name, ch := range d.queues {
		select {
		case ch <- e:
		default:
			d.metrics.RecordDrop("alert_queue_full")
			d.log.Warn("alert queue full, dropping",
				logger.String("sink", name),
				logger.String("event_id", e.ID))
		}
	}
}

func (d *AlertDispatcher) worker(sink Sink, ch chan *models.TrapEvent) {
	defer d.wg.Done()
	for {
		select {
		case e := <-ch:
			d.deliver(sink, e)
		case <-d.stopCh:
			d.flush(sink, ch)
			return
		}
	}
}

// flush delivers whatever is already queued while the grace period lasts;
// once it expires the remainder is persisted instead.
func (d *AlertDispatcher) flush(sink Sink, ch chan *models.TrapEvent) {
	for {
		select {
		case e := <-ch:
			if d.graceExpired.Load() {
				d.toPending(sink, e)
				continue
			}
			d.deliver(sink, e)
		default:
			return
		}
	}
}

// deliver posts the event to one sink with bounded retries. 4xx means the
// sink rejected the payload and will keep rejecting it; only 5xx and
// transport errors retry.
func (d *AlertDispatcher) deliver(sink Sink, e *models.TrapEvent) {
	record := models.AlertRecord{
		EventID:        e.ID,
		DispatchedAt:   d.now().UTC(),
		Sink:           sink.Name,
		DeliveryStatus: models.DeliveryPending,
	}

	ctx := context.Background()
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		record.Attempts = attempt
		status, err := d.post(ctx, sink, e)
		switch {
		case err == nil && status >= 200 && status < 300:
			record.DeliveryStatus = models.DeliveryDelivered
		case err == nil && status >= 400 && status < 500:
			record.DeliveryStatus = models.DeliveryFailed
			d.log.Warn("sink rejected alert",
				logger.String("sink", sink.Name),
				logger.String("event_id", e.ID),
				logger.Int("status", status))
		default:
			if attempt < d.maxAttempts {
				if serr := d.sleep(ctx, d.backoffBase<<(attempt-1)); serr != nil {
					record.DeliveryStatus = models.DeliveryFailed
				}
			}
		}

		if record.DeliveryStatus.Terminal() {
			break
		}
	}

	if record.DeliveryStatus == models.DeliveryPending {
		record.DeliveryStatus = models.DeliveryFailed
		d.log.Error("alert delivery exhausted retries",
			logger.String("sink", sink.Name),
			logger.String("event_id", e.ID),
			logger.Int("attempts", record.Attempts))
	}

	d.metrics.RecordAlert(sink.Name, string(record.DeliveryStatus))
	d.storeRecord(ctx, &record)
}

func (d *AlertDispatcher) post(ctx context.Context, sink Sink, e *models.TrapEvent) (int, error) {
	ts := d.now().Unix()
	resp, err := d.client.SendRequest(ctx, &pkghttp.RequestOptions{
		Method: http.MethodPost,
		URL:    sink.URL,
		Headers: map[string]string{
			"Content-Type": "application/json",
			"X-Signature":  signAlert(sink.Secret, ts, e),
			"X-Timestamp":  strconv.FormatInt(ts, 10),
		},
		Body: e,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// signAlert computes the hex HMAC-SHA256 over
// "timestamp:event_id:type:confidence".
func signAlert(secret string, ts int64, e *models.TrapEvent) string {
	payload := fmt.Sprintf("%d:%s:%s:%s",
		ts, e.ID, e.TrapType, strconv.FormatFloat(e.Confidence, 'f', -1, 64))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (d *AlertDispatcher) storeRecord(ctx context.Context, r *models.AlertRecord) {
	key := fmt.Sprintf("alerts:%s:%s", r.EventID, r.Sink)
	if err := d.cache.Set(ctx, key, r, 24*time.Hour); err != nil {
		d.metrics.RecordError("alert_record")
		d.log.Warn("alert record write failed",
			logger.String("event_id", r.EventID),
			logger.Error(err))
	}
}

// toPending persists one undelivered event so the next run can resubmit it.
func (d *AlertDispatcher) toPending(sink Sink, e *models.TrapEvent) {
	if d.pending == nil {
		d.metrics.RecordDrop("alert_shutdown")
		return
	}
	if err := d.pending.PublishMessage(context.Background(), PendingAlertType, e); err != nil {
		d.metrics.RecordDrop("alert_shutdown")
		d.log.Error("pending alert persist failed",
			logger.String("sink", sink.Name),
			logger.String("event_id", e.ID),
			logger.Error(err))
	}
}

// Stop closes the intake, lets workers flush within the grace period and
// persists whatever is still queued after it elapses.
func (d *AlertDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	close(d.stopCh)
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	gctx, cancel := context.WithTimeout(ctx, d.grace)
	defer cancel()

	select {
	case <-done:
		d.log.Info("alert dispatcher stopped")
		return nil
	case <-gctx.Done():
	}

	// Grace elapsed: stop delivering, persist the remainder, wait it out.
	d.graceExpired.Store(true)
	d.log.Warn("alert dispatcher grace period elapsed, persisting queued alerts")
	<-done
	return gctx.Err()
}

func sleepAlertCtx(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
