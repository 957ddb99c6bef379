package di

import (
	"fmt"
	"time"

	"TrapFlow/internal/domain/models"
	"TrapFlow/internal/domain/repository"
	"TrapFlow/internal/handler/api"
	mid "TrapFlow/internal/middleware"
	internalrepo "TrapFlow/internal/repository"
	"TrapFlow/internal/service/feed"
	"TrapFlow/internal/service/window"
	"TrapFlow/internal/services/detector"
	"TrapFlow/internal/services/scoring"
	"TrapFlow/internal/usecase"
	pkgcache "TrapFlow/pkg/cache"
	pkgch "TrapFlow/pkg/clickhouse"
	"TrapFlow/pkg/config"
	xhttp "TrapFlow/pkg/http"
	pkgkafka "TrapFlow/pkg/kafka"
	applogger "TrapFlow/pkg/logger"
	"TrapFlow/pkg/metrics"
	"TrapFlow/pkg/queue"
	"TrapFlow/pkg/server"
)

// ProvideLogger creates the application logger with an error collector the
// health endpoint reads from.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l.AttachCollector(applogger.NewCollector(100))
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates the journal's ClickHouse pool. Schema init
// happens in the supervisor so one-shot commands skip it.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.Journal.Host),
		pkgch.WithPort(cfg.Journal.Port),
		pkgch.WithDatabase(cfg.Journal.Database),
		pkgch.WithCredentials(cfg.Journal.User, cfg.Journal.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithTimeouts(5*time.Second, 10*time.Second, cfg.Journal.WriteTimeout),
		// Events arrive one row at a time; async insert batches them
		// server side without the journal waiting on merges.
		pkgch.WithAsyncInsert(true, true),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideEventStore creates the ClickHouse-backed event store.
func ProvideEventStore(chClient *pkgch.Client, cfg *config.Config) internalrepo.EventStore {
	return internalrepo.NewClickHouseEventStore(chClient.DB(), cfg.Journal.Database+"."+cfg.Journal.Table)
}

// ProvideEventMirror creates the optional Kafka mirror. Disabled config
// yields a nil mirror, which the journal treats as absent.
func ProvideEventMirror(cfg *config.Config) (internalrepo.EventMirror, error) {
	if !cfg.Journal.Mirror.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Journal.Mirror.Brokers),
		pkgkafka.WithCompression(cfg.Journal.Mirror.Compression),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("mirror producer: %w", err)
	}
	return internalrepo.NewKafkaEventMirror(producer, cfg.Journal.Mirror.Topic), nil
}

// ProvideJournal assembles the retrying journal with its dead letter.
func ProvideJournal(
	store internalrepo.EventStore,
	mirror internalrepo.EventMirror,
	log *applogger.Logger,
	m repository.Metrics,
	cfg *config.Config,
) *internalrepo.Journal {
	dead := internalrepo.NewDeadLetter(cfg.Journal.DeadLetterPath)
	opts := []internalrepo.JournalOption{}
	if mirror != nil {
		opts = append(opts, internalrepo.WithMirror(mirror))
	}
	return internalrepo.NewJournal(store, dead, log, m, cfg.Journal.WriteTimeout, cfg.Journal.MaxWriteAttempts, opts...)
}

// ProvideRedisCache creates the hot cache client. The configured prefix
// namespaces every key, so callers work with bare keys.
func ProvideRedisCache(cfg *config.Config) (*pkgcache.RedisCache, error) {
	return pkgcache.NewRedisCache(
		pkgcache.WithRedisHost(cfg.Cache.Host),
		pkgcache.WithRedisPort(cfg.Cache.Port),
		pkgcache.WithRedisPassword(cfg.Cache.Password),
		pkgcache.WithRedisDB(cfg.Cache.DB),
		pkgcache.WithRedisPrefix(cfg.Cache.KeyPrefix),
	)
}

// ProvideCache layers an in-process LRU in front of Redis. Dashboard reads
// land on the memory layer between analytics publishes.
func ProvideCache(c *pkgcache.RedisCache) repository.Cache {
	return pkgcache.NewLayeredCache(c)
}

// ProvidePendingQueue creates the Redis queue holding alerts that could not
// be flushed at shutdown. Producer and consumer share one queue so a restart
// picks up its own leftovers.
func ProvidePendingQueue(log *applogger.Logger, c *pkgcache.RedisCache) *queue.RedisQueue {
	return queue.NewRedisQueue(log, &queue.QueueConfig{
		Workers:    1,
		RetryLimit: 3,
		RetryDelay: 10 * time.Second,
	}, c.Client())
}

// ProvideHTTPClient creates the outbound HTTP client shared by the REST feed
// and the alert dispatcher.
func ProvideHTTPClient() *xhttp.Client {
	return xhttp.NewClient(xhttp.WithTimeout(10 * time.Second))
}

// ProvideFeedSource selects the price source by configured kind.
func ProvideFeedSource(cfg *config.Config, client *xhttp.Client, log *applogger.Logger) (repository.PriceSource, error) {
	f := cfg.Feed
	switch f.Kind {
	case "ws":
		return feed.NewWSSource(f.URL, f.AuthToken, f.Symbol, f.PingInterval, f.ReconnectBase, f.ReconnectCap, f.BufferSize, log), nil
	case "rest":
		return feed.NewRESTSource(f.URL, f.AuthToken, f.Symbol, f.PollInterval, f.BufferSize, client, log), nil
	case "kafka":
		return feed.NewKafkaSource(f.Kafka.Brokers, f.Kafka.Topic, f.Kafka.GroupID, f.BufferSize, log), nil
	default:
		return nil, fmt.Errorf("unknown feed kind %q", f.Kind)
	}
}

// ProvideWindowStore builds the rolling candle store over the configured
// timeframes.
func ProvideWindowStore(cfg *config.Config) (*window.Store, error) {
	tfs := make([]models.Timeframe, 0, len(cfg.Windows.Timeframes))
	for _, s := range cfg.Windows.Timeframes {
		tf := models.Timeframe(s)
		if !tf.IsValid() {
			return nil, fmt.Errorf("unknown timeframe %q", s)
		}
		tfs = append(tfs, tf)
	}
	return window.New(tfs, cfg.Windows.MaxCandles), nil
}

// ProvideDetector builds the rule committee from configured thresholds. An
// external scorer is attached only when a scorer URL is configured.
func ProvideDetector(store *window.Store, cfg *config.Config, client *xhttp.Client, log *applogger.Logger, m repository.Metrics) *detector.Detector {
	dcfg := &detector.Config{
		WickRatio:              cfg.Detector.WickRatio,
		SpikeSigma:             cfg.Detector.SpikeSigma,
		VolumeZ:                cfg.Detector.VolumeZ,
		RetraceFraction:        cfg.Detector.RetraceFraction,
		ConsolidationCandles:   cfg.Detector.ConsolidationCandles,
		BreakoutPersistCandles: cfg.Detector.BreakoutPersistCandles,
		SwingLookback:          cfg.Detector.SwingLookback,
		Debounce:               cfg.Detector.Debounce,
	}
	opts := []detector.Option{}
	if cfg.Detector.ScorerURL != "" {
		opts = append(opts, detector.WithScorer(
			scoring.NewHTTPScorer(cfg.Detector.ScorerURL, cfg.Detector.ScorerTimeout, client, log),
		))
	}
	return detector.New(store, store.Timeframes(), dcfg, log, m, opts...)
}

// ProvideAlertDispatcher builds the dispatcher with its webhook sinks and
// pending-alert queue.
func ProvideAlertDispatcher(
	cfg *config.Config,
	client *xhttp.Client,
	cache repository.Cache,
	pending *queue.RedisQueue,
	log *applogger.Logger,
	m repository.Metrics,
) *usecase.AlertDispatcher {
	sinks := make([]usecase.Sink, 0, len(cfg.Alerts.Sinks))
	for _, s := range cfg.Alerts.Sinks {
		sinks = append(sinks, usecase.Sink{Name: s.Name, URL: s.URL, Secret: s.Secret})
	}
	return usecase.NewAlertDispatcher(sinks, client, cache, log, m,
		cfg.Alerts.Threshold, cfg.Alerts.Cooldown, cfg.Alerts.MaxAttempts, cfg.Alerts.GracePeriod,
		usecase.WithPendingQueue(pending),
		usecase.WithDispatchBackoff(cfg.Alerts.BackoffBase),
	)
}

// ProvideDetectStage wires window, detector, journal and alerts into the
// pipeline consumer.
func ProvideDetectStage(
	store *window.Store,
	det *detector.Detector,
	journal *internalrepo.Journal,
	dispatcher *usecase.AlertDispatcher,
	log *applogger.Logger,
	m repository.Metrics,
) *usecase.DetectStage {
	return usecase.NewDetectStage(store, det, journal, dispatcher, log, m)
}

// ProvideTickPipeline builds the bounded queue between feed and detect stage.
func ProvideTickPipeline(stage *usecase.DetectStage, m repository.Metrics, cfg *config.Config) *mid.TickPipeline {
	return mid.NewTickPipeline(stage, m, mid.WithBufferSize(cfg.Feed.BufferSize))
}

// ProvideIngestor owns the feed lifecycle in front of the pipeline.
func ProvideIngestor(source repository.PriceSource, pipe *mid.TickPipeline, log *applogger.Logger, m repository.Metrics) (*usecase.Ingestor, error) {
	return usecase.NewIngestor(source, pipe, log, m)
}

// ProvideAnalyticsAggregator builds the periodic journal aggregator.
func ProvideAnalyticsAggregator(journal *internalrepo.Journal, log *applogger.Logger, m repository.Metrics, cfg *config.Config) *usecase.AnalyticsAggregator {
	return usecase.NewAnalyticsAggregator(journal, log, m,
		cfg.Analytics.Window, cfg.Analytics.RecentK, cfg.Analytics.HighConfThreshold)
}

// ProvideCachePublisher builds the snapshot publisher. The cache client
// already namespaces keys, so no extra prefix here.
func ProvideCachePublisher(cache repository.Cache, log *applogger.Logger, m repository.Metrics, cfg *config.Config) *usecase.CachePublisher {
	return usecase.NewCachePublisher(cache, log, m, "", cfg.Cache.TTL)
}

// ProvideStatusHandler builds the HTTP surface over journal, cache and feed.
func ProvideStatusHandler(
	log *applogger.Logger,
	journal *internalrepo.Journal,
	cache repository.Cache,
	source repository.PriceSource,
	pipe *mid.TickPipeline,
) xhttp.Handler {
	return api.NewStatusHandler(log, journal, cache, source, pipe)
}

// ProvideHTTPServer creates the Echo server with routes registered.
func ProvideHTTPServer(handler xhttp.Handler, log *applogger.Logger, cfg *config.Config) *xhttp.Server {
	return xhttp.NewServer(handler, log,
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
	)
}

// ProvideTools assembles the one-shot command dependencies.
func ProvideTools(
	cfg *config.Config,
	log *applogger.Logger,
	journal *internalrepo.Journal,
	aggregator *usecase.AnalyticsAggregator,
	publisher *usecase.CachePublisher,
	chClient *pkgch.Client,
	cache repository.Cache,
) *server.Tools {
	return server.NewTools(cfg, log, journal, aggregator, publisher, chClient, cache)
}

// ProvideApp assembles the supervisor.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	ingestor *usecase.Ingestor,
	journal *internalrepo.Journal,
	aggregator *usecase.AnalyticsAggregator,
	publisher *usecase.CachePublisher,
	dispatcher *usecase.AlertDispatcher,
	pending *queue.RedisQueue,
	httpServer *xhttp.Server,
	chClient *pkgch.Client,
	cache repository.Cache,
) *server.App {
	return server.New(cfg, log, ingestor, journal, aggregator, publisher, dispatcher, pending, httpServer, chClient, cache)
}
