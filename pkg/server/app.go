package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	domrepo "TrapFlow/internal/domain/repository"
	"TrapFlow/internal/repository"
	"TrapFlow/internal/usecase"
	pkgch "TrapFlow/pkg/clickhouse"
	"TrapFlow/pkg/config"
	xhttp "TrapFlow/pkg/http"
	applogger "TrapFlow/pkg/logger"
	"TrapFlow/pkg/queue"
)

// ErrStartup marks failures during the bring-up phase, before the pipeline
// is accepting ticks. main maps it to a distinct exit code.
var ErrStartup = errors.New("startup failed")

// App supervises the pipeline. Components start back-to-front so every
// consumer exists before its producer; shutdown walks the same order
// forward so no stage writes into a stopped one.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	ingestor   *usecase.Ingestor
	journal    *repository.Journal
	aggregator *usecase.AnalyticsAggregator
	publisher  *usecase.CachePublisher
	dispatcher *usecase.AlertDispatcher
	pending    *queue.RedisQueue
	httpServer *xhttp.Server
	chClient   *pkgch.Client
	cache      domrepo.Cache
	cron       *cron.Cron
}

func New(
	cfg *config.Config,
	log *applogger.Logger,
	ingestor *usecase.Ingestor,
	journal *repository.Journal,
	aggregator *usecase.AnalyticsAggregator,
	publisher *usecase.CachePublisher,
	dispatcher *usecase.AlertDispatcher,
	pending *queue.RedisQueue,
	httpServer *xhttp.Server,
	chClient *pkgch.Client,
	cache domrepo.Cache,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		ingestor:   ingestor,
		journal:    journal,
		aggregator: aggregator,
		publisher:  publisher,
		dispatcher: dispatcher,
		pending:    pending,
		httpServer: httpServer,
		chClient:   chClient,
		cache:      cache,
		cron:       cron.New(),
	}
}

// Run starts every component and blocks until a signal or ctx cancellation,
// then shuts down in order. Startup failures come back wrapped in ErrStartup.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return fmt.Errorf("%w: %v", ErrStartup, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		a.log.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case <-ctx.Done():
		a.log.Info("context cancelled")
	}
	cancel()
	return a.shutdown()
}

func (a *App) start(ctx context.Context) error {
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := a.chClient.InitSchema(initCtx, repository.SchemaStatements(a.cfg.Journal.Database, a.cfg.Journal.Table)); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}

	// Events stranded on disk by a previous run go back to the store first,
	// so this run's queries see them.
	if n, err := a.journal.ReplayDeadLetter(initCtx); err != nil {
		a.log.Warn("dead letter replay failed", applogger.Error(err))
	} else if n > 0 {
		a.log.Info("dead letter replayed", applogger.Int("events", n))
	}

	a.dispatcher.Start()
	if a.pending != nil {
		a.pending.RegisterJob(usecase.NewPendingAlertJob(a.dispatcher))
		if err := a.pending.Start(); err != nil {
			return fmt.Errorf("pending queue: %w", err)
		}
	}

	if err := a.ingestor.Start(ctx); err != nil {
		return fmt.Errorf("ingestor: %w", err)
	}

	if _, err := a.cron.AddFunc("@every "+a.cfg.Analytics.Period.String(), a.analyticsTick); err != nil {
		return fmt.Errorf("analytics schedule: %w", err)
	}
	a.cron.Start()

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	a.log.Info("pipeline running",
		applogger.String("feed", a.cfg.Feed.Kind),
		applogger.String("symbol", a.cfg.Feed.Symbol),
		applogger.Int("port", a.cfg.Server.Port))
	return nil
}

// analyticsTick is one scheduled aggregate-and-publish pass. A failed pass
// is logged and skipped; the next period recomputes from the journal anyway.
func (a *App) analyticsTick() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Analytics.Period)
	defer cancel()

	snap, err := a.aggregator.Compute(ctx)
	if err != nil {
		a.log.Error("analytics compute failed", applogger.Error(err))
		return
	}
	if err := a.publisher.Publish(ctx, snap); err != nil {
		a.log.Error("snapshot publish failed", applogger.Error(err))
	}
}

// stopStep is one ordered shutdown action.
type stopStep struct {
	name string
	fn   func() error
}

// runStops runs every step in order. A failing step never blocks the steps
// after it; the joined error goes back to main as a fatal runtime result.
func runStops(log *applogger.Logger, steps []stopStep) error {
	var errs []error
	for _, s := range steps {
		if err := s.fn(); err != nil {
			log.Warn(s.name+" stop error", applogger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// shutdown stops feed-side first so nothing new enters, then drains the
// delivery and persistence tail.
func (a *App) shutdown() error {
	steps := []stopStep{
		{"ingestor", a.ingestor.Stop},
		{"analytics", func() error {
			cronCtx := a.cron.Stop()
			select {
			case <-cronCtx.Done():
			case <-time.After(a.cfg.Analytics.Period):
				a.log.Warn("analytics job still running at shutdown")
			}
			return nil
		}},
		{"alert dispatcher", func() error {
			graceCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Alerts.GracePeriod)
			defer cancel()
			if err := a.dispatcher.Stop(graceCtx); err != nil {
				// queued alerts were persisted for the next run; not fatal
				a.log.Warn("alert queues not drained", applogger.Error(err))
			}
			return nil
		}},
	}
	if a.pending != nil {
		steps = append(steps, stopStep{"pending queue", func() error {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.pending.Stop(stopCtx)
		}})
	}
	steps = append(steps,
		stopStep{"http server", func() error {
			httpCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()
			return a.httpServer.Stop(httpCtx)
		}},
		stopStep{"journal", a.journal.Close},
		stopStep{"cache", a.cache.Close},
		stopStep{"clickhouse", a.chClient.Close},
	)

	err := runStops(a.log, steps)
	if err != nil {
		a.log.Warn("shutdown finished with errors", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
