package scoring

import (
	"context"
	"time"

	"TrapFlow/internal/domain/models"
	"TrapFlow/internal/domain/repository"
	xhttp "TrapFlow/pkg/http"
	"TrapFlow/pkg/logger"
)

// HTTPScorer posts detected events to an external scoring service and
// merges the returned indicator map into the event. Scoring is advisory:
// any transport or decode failure yields a nil map and the event proceeds
// with its rule-based confidence untouched.
type HTTPScorer struct {
	url     string
	timeout time.Duration
	client  *xhttp.Client
	log     *logger.Logger
}

func NewHTTPScorer(url string, timeout time.Duration, client *xhttp.Client, log *logger.Logger) *HTTPScorer {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPScorer{url: url, timeout: timeout, client: client, log: log}
}

type scoreRequest struct {
	TrapType   string             `json:"trap_type"`
	Timeframe  string             `json:"timeframe"`
	Confidence float64            `json:"confidence"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

type scoreResponse struct {
	Scores map[string]float64 `json:"scores"`
}

// Score satisfies repository.Scorer. The detector calls it inline on the
// tick path, so the request is bounded by its own timeout rather than the
// caller's context.
func (s *HTTPScorer) Score(e *models.TrapEvent) map[string]float64 {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req := scoreRequest{
		TrapType:   string(e.TrapType),
		Timeframe:  string(e.Timeframe),
		Confidence: e.Confidence,
		Indicators: e.Indicators,
	}

	var resp scoreResponse
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    s.url,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
		Body: req,
	}, &resp)
	if err != nil {
		s.log.Warn("external scorer unavailable",
			logger.String("event_id", e.ID),
			logger.Error(err),
		)
		return nil
	}
	return resp.Scores
}

var _ repository.Scorer = (*HTTPScorer)(nil)
