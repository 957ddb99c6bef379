package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	"TrapFlow/internal/service/ratelimit"
	"TrapFlow/internal/usecase"
	pkgcache "TrapFlow/pkg/cache"
	xhttp "TrapFlow/pkg/http"
	xlogger "TrapFlow/pkg/logger"
)

// FeedStatus reports feed connectivity.
type FeedStatus interface {
	IsConnected() bool
}

// PipelineStatus exposes the tick queue depth.
type PipelineStatus interface {
	Depth() int
}

// EventJournal is the journal as the HTTP layer sees it: queryable, with
// degraded-mode visibility on top of the plain health probe.
type EventJournal interface {
	domrepo.Journal
	Degraded() bool
}

// StatusHandler serves the operational surface: component health, dashboard
// snapshot reads, and journal queries.
type StatusHandler struct {
	log     *xlogger.Logger
	journal EventJournal
	cache   domrepo.Cache
	feed    FeedStatus
	pipe    PipelineStatus
	limiter *ratelimit.Limiter
}

func NewStatusHandler(log *xlogger.Logger, journal EventJournal, cache domrepo.Cache, feed FeedStatus, pipe PipelineStatus) *StatusHandler {
	return &StatusHandler{
		log:     log,
		journal: journal,
		cache:   cache,
		feed:    feed,
		pipe:    pipe,
		limiter: ratelimit.New(),
	}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api", h.throttle)
	g.GET("/events", h.Events)
	g.GET("/dashboard", h.Dashboard)
	g.GET("/dashboard/performance", h.Performance)
}

// throttle rate limits per client IP and path. Health stays unthrottled so
// orchestrator probes never see a 429.
func (h *StatusHandler) throttle(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		key := c.RealIP() + ":" + c.Path()
		if !h.limiter.Allow(key, 5, 2) {
			return xhttp.TooManyRequestsResponse(c)
		}
		return next(c)
	}
}

type componentHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status        string                     `json:"status"`
	Components    map[string]componentHealth `json:"components"`
	PipelineDepth int                        `json:"pipeline_depth"`
	RecentErrors  []xlogger.Entry            `json:"recent_errors,omitempty"`
}

// Health returns 200 when every component is healthy, 503 otherwise. The
// body always carries the full breakdown so a degraded component is visible
// either way.
func (h *StatusHandler) Health(c echo.Context) error {
	ctx := c.Request().Context()
	comps := make(map[string]componentHealth, 3)

	comps["feed"] = componentHealth{Healthy: h.feed.IsConnected()}

	journal := componentHealth{Healthy: true}
	if err := h.journal.Health(ctx); err != nil {
		journal = componentHealth{Healthy: false, Detail: err.Error()}
	}
	if h.journal.Degraded() && journal.Detail == "" {
		journal = componentHealth{Healthy: false, Detail: "writes diverted to dead letter"}
	}
	comps["journal"] = journal

	// A cache miss is a healthy cache; only transport errors count.
	cacheHealth := componentHealth{Healthy: true}
	var snap models.AnalyticsSnapshot
	if err := h.cache.Get(ctx, usecase.KeyTrapAnalysis, &snap); err != nil && !errors.Is(err, pkgcache.ErrCacheMiss) {
		cacheHealth = componentHealth{Healthy: false, Detail: err.Error()}
	}
	comps["cache"] = cacheHealth

	resp := healthResponse{
		Status:        "ok",
		Components:    comps,
		PipelineDepth: h.pipe.Depth(),
	}
	if col := h.log.Collector(); col != nil {
		resp.RecentErrors = col.Recent(20)
	}

	code := http.StatusOK
	for _, comp := range comps {
		if !comp.Healthy {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			break
		}
	}
	return c.JSON(code, resp)
}

// Events queries the journal with the request filter and returns matches in
// detected_at order.
func (h *StatusHandler) Events(c echo.Context) error {
	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	f, err := eventFilter(req)
	if err != nil {
		return xhttp.BadRequestResponse(c, err.Error())
	}

	ctx := c.Request().Context()
	cur, err := h.journal.Query(ctx, f)
	if err != nil {
		h.log.Error("event query failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	defer cur.Close()

	events := make([]*models.TrapEvent, 0, f.Limit)
	for cur.Next() {
		events = append(events, cur.Event())
	}
	if err := cur.Err(); err != nil {
		h.log.Error("event cursor failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	unlimited := f
	unlimited.Limit = 0
	total, err := h.journal.Count(ctx, unlimited)
	if err != nil {
		h.log.Error("event count failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.ListResponse(c, events, total)
}

// Dashboard returns the latest full analytics snapshot from the cache.
func (h *StatusHandler) Dashboard(c echo.Context) error {
	var snap models.AnalyticsSnapshot
	if err := h.cache.Get(c.Request().Context(), usecase.KeyTrapAnalysis, &snap); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return xhttp.NotFoundResponse(c, "no snapshot published yet")
		}
		h.log.Error("snapshot read failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, snap)
}

// Performance returns the cached performance section, which may be flagged
// unavailable when no trade outcome provider is configured.
func (h *StatusHandler) Performance(c echo.Context) error {
	var perf map[string]interface{}
	if err := h.cache.Get(c.Request().Context(), usecase.KeyPerformance, &perf); err != nil {
		if errors.Is(err, pkgcache.ErrCacheMiss) {
			return xhttp.NotFoundResponse(c, "no snapshot published yet")
		}
		h.log.Error("performance read failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.SuccessResponse(c, perf)
}

func eventFilter(req *models.EventsRequest) (domrepo.EventFilter, error) {
	f := domrepo.EventFilter{
		MinConfidence: req.MinConf,
		Limit:         req.Limit,
	}

	if req.From != "" {
		t, err := time.Parse(time.RFC3339, req.From)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.From = t
	} else {
		f.From = time.Now().UTC().Add(-24 * time.Hour)
	}
	if req.To != "" {
		t, err := time.Parse(time.RFC3339, req.To)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.To = t
	}

	for _, s := range splitCSV(req.Types) {
		tt := models.TrapType(strings.ToUpper(s))
		if !tt.IsValid() {
			return f, fmt.Errorf("unknown trap type %q", s)
		}
		f.TrapTypes = append(f.TrapTypes, tt)
	}
	for _, s := range splitCSV(req.TF) {
		tf := models.Timeframe(s)
		if !tf.IsValid() {
			return f, fmt.Errorf("unknown timeframe %q", s)
		}
		f.Timeframes = append(f.Timeframes, tf)
	}
	return f, nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
