package usecase

import (
	"context"
	"errors"

	"TrapFlow/internal/domain/models"
	domrepo "TrapFlow/internal/domain/repository"
	"TrapFlow/internal/repository"
	"TrapFlow/pkg/logger"
)

// WindowUpdater is the write side of the rolling window store.
type WindowUpdater interface {
	Update(t *models.Tick)
}

// TrapScanner turns one tick into zero or more events.
type TrapScanner interface {
	OnTick(t *models.Tick) []*models.TrapEvent
}

// AlertSink accepts events for delivery.
type AlertSink interface {
	Submit(e *models.TrapEvent)
}

// DetectStage is the pipeline consumer: apply the tick to every window,
// run the detector, then fan detected events out to alerts and the journal.
// Alerts go first; journal retries must not delay notification.
type DetectStage struct {
	window   WindowUpdater
	detector TrapScanner
	journal  domrepo.Journal
	alerts   AlertSink
	log      *logger.Logger
	metrics  domrepo.Metrics
}

func NewDetectStage(window WindowUpdater, detector TrapScanner, journal domrepo.Journal, alerts AlertSink, log *logger.Logger, metrics domrepo.Metrics) *DetectStage {
	return &DetectStage{
		window:   window,
		detector: detector,
		journal:  journal,
		alerts:   alerts,
		log:      log,
		metrics:  metrics,
	}
}

func (s *DetectStage) Process(ctx context.Context, t *models.Tick) error {
	s.window.Update(t)

	for _, e := range s.detector.OnTick(t) {
		s.log.Info("trap detected",
			logger.String("event_id", e.ID),
			logger.String("trap_type", string(e.TrapType)),
			logger.String("timeframe", string(e.Timeframe)),
			logger.Float64("confidence", e.Confidence))

		if s.alerts != nil {
			s.alerts.Submit(e)
		}
		if err := s.journal.Append(ctx, e); err != nil {
			if errors.Is(err, repository.ErrDeadLettered) {
				continue // preserved on disk; keep processing
			}
			s.log.Error("event lost", logger.String("event_id", e.ID), logger.Error(err))
		}
	}
	return nil
}
