package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"SnipeRadar/internal/domain/models"
	"SnipeRadar/internal/domain/repository"
	domsvc "SnipeRadar/internal/domain/service"
	"SnipeRadar/internal/handler/api"
	mid "SnipeRadar/internal/middleware"
	internalrepo "SnipeRadar/internal/repository"
	icache "SnipeRadar/internal/service/cache"
	svcmetrics "SnipeRadar/internal/service/metrics"
	"SnipeRadar/internal/service/mexc"
	"SnipeRadar/internal/service/notify"
	"SnipeRadar/internal/services/activity"
	"SnipeRadar/internal/services/confidence"
	"SnipeRadar/internal/usecase"
	"SnipeRadar/pkg/cache"
	pkgch "SnipeRadar/pkg/clickhouse"
	"SnipeRadar/pkg/config"
	xhttp "SnipeRadar/pkg/http"
	pkgkafka "SnipeRadar/pkg/kafka"
	applogger "SnipeRadar/pkg/logger"
	"SnipeRadar/pkg/metrics"
	"SnipeRadar/pkg/postgres"
	"SnipeRadar/pkg/queue"
	"SnipeRadar/pkg/server"
)

// TargetRepository is the target store plus the per-user listing the API serves.
type TargetRepository interface {
	repository.TargetStore
	api.TargetLister
}

func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

func ProvideRegisterer() prometheus.Registerer { return prometheus.DefaultRegisterer }

func ProvideGatherer() prometheus.Gatherer { return prometheus.DefaultGatherer }

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg prometheus.Registerer) repository.Metrics {
	return metrics.New(reg)
}

func ProvideAPIMetrics(reg prometheus.Registerer) *svcmetrics.APIMetrics {
	return svcmetrics.NewAPIMetrics(reg)
}

// ProvideRedisClient returns nil when redis is disabled.
func ProvideRedisClient(cfg *config.Config, l *applogger.Logger) (*redis.Client, func(), error) {
	if !cfg.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, _, err := cache.NewRedisClient(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.MinIdleConns, cfg.Redis.PoolTimeout),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis client: %w", err)
	}
	l.Info("redis connected", applogger.String("addr", cfg.Redis.Addr))
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("redis close error", applogger.Error(err))
		}
	}, nil
}

// ProvidePostgresPool returns nil when no DSN is configured; targets then
// live in memory.
func ProvidePostgresPool(cfg *config.Config, l *applogger.Logger) (*postgres.Pool, func(), error) {
	if cfg.Postgres.DSN == "" {
		l.Warn("postgres dsn not set, using in-memory target store")
		return nil, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Postgres.DSN,
		postgres.WithMinConns(cfg.Postgres.MinConns),
		postgres.WithMaxConns(cfg.Postgres.MaxConns),
		postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres pool: %w", err)
	}
	if cfg.Postgres.Migrate {
		applied, err := pool.Migrate(ctx)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrate: %w", err)
		}
		l.Info("postgres migrations applied", applogger.Strings("files", applied))
	}
	return pool, pool.Close, nil
}

// ProvideClickHouseClient returns nil when analytics storage is disabled.
func ProvideClickHouseClient(cfg *config.Config, l *applogger.Logger) (*pkgch.Client, func(), error) {
	if !cfg.ClickHouse.Enabled {
		return nil, func() {}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithAddress(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.DetectionSchema); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	l.Info("clickhouse connected", applogger.String("database", cfg.ClickHouse.Database))
	return client, func() {
		if err := client.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}, nil
}

// ProvideKafkaProducer returns nil when kafka is disabled. When the log
// collector is enabled, aggregated errors are shipped through the producer.
func ProvideKafkaProducer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithDelivery(cfg.Kafka.RequiredAcks, cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithAutoCreateTopics(cfg.Kafka.Producer.AutoCreateTopics),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	if cfg.Logging.Collector.Enabled {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Logging.Collector.Interval,
			CountThreshold: cfg.Logging.Collector.Threshold,
			Topic:          cfg.Logging.Collector.Topic,
			Publisher:      producer,
		})
	}
	return producer, func() {
		l.RemoveCollector()
		if err := producer.Close(); err != nil {
			l.Warn("kafka producer close error", applogger.Error(err))
		}
	}, nil
}

func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, internalrepo.Topics{
		Patterns:    cfg.Kafka.Topics.Patterns,
		NewListings: cfg.Kafka.Topics.NewListings,
		Targets:     cfg.Kafka.Topics.Targets,
	})
}

func ProvideTargetRepository(pool *postgres.Pool, l *applogger.Logger) TargetRepository {
	if pool == nil {
		return internalrepo.NewMemoryTargetStore()
	}
	return internalrepo.NewPGTargetStore(pool, l)
}

func ProvidePreferenceStore(pool *postgres.Pool, l *applogger.Logger) repository.PreferenceStore {
	if pool == nil {
		return internalrepo.NewMemoryPreferenceStore()
	}
	return internalrepo.NewPGPreferenceStore(pool, l)
}

// ProvideDetectionSink returns nil when ClickHouse is disabled.
func ProvideDetectionSink(client *pkgch.Client, l *applogger.Logger) *internalrepo.CHDetectionSink {
	if client == nil {
		return nil
	}
	return internalrepo.NewCHDetectionSink(client, l)
}

func ProvideExchangeClient(cfg *config.Config, m repository.Metrics, l *applogger.Logger) *mexc.Client {
	return mexc.NewClient(mexc.Config{
		WebBaseURL:      cfg.Exchange.WebBaseURL,
		APIBaseURL:      cfg.Exchange.APIBaseURL,
		Timeout:         cfg.Exchange.Timeout,
		RatePerSecond:   cfg.Exchange.RatePerSecond,
		Burst:           cfg.Exchange.Burst,
		BreakerFailures: cfg.Exchange.BreakerFailures,
		BreakerCooldown: cfg.Exchange.BreakerCooldown,
	}, m, l.With(applogger.String("component", "mexc_client")))
}

// ProvidePushStream returns a nil interface when the stream layer is off.
func ProvidePushStream(cfg *config.Config, l *applogger.Logger) repository.PushStream {
	if !cfg.Detection.EnableStream {
		return nil
	}
	return mexc.NewStream(mexc.StreamConfig{
		URL:      cfg.Exchange.StreamURL,
		Channels: cfg.Exchange.StreamChannels,
	}, l.With(applogger.String("component", "mexc_stream")))
}

// ProvideActivityProvider caches exchange activity lookups, in redis behind
// a small local layer when redis is available.
func ProvideActivityProvider(cfg *config.Config, client *mexc.Client, rdb *redis.Client, l *applogger.Logger) *activity.CachedProvider {
	var c cache.Service
	if rdb != nil {
		c = cache.NewLayeredCache(cache.NewRedisCache(rdb, cfg.Redis.Prefix), 1000, 30*time.Second)
	} else {
		c = cache.NewMemoryCache(cache.WithMemoryMaxSize(10000), cache.WithMemoryCleanup(time.Minute))
	}
	return activity.NewCachedProvider(client, c, cfg.Analyzer.ActivityCacheTTL, l)
}

func ProvideConfidenceStrategy(cfg *config.Config, l *applogger.Logger) domsvc.ConfidenceStrategy {
	rules := confidence.NewRuleBased()
	if cfg.Analyzer.Strategy != "remote" {
		return rules
	}
	return confidence.NewRemote(cfg.Analyzer.RemoteURL, cfg.Analyzer.RemoteTimeout, cfg.Analyzer.RemoteAttempts, rules,
		l.With(applogger.String("component", "remote_confidence")))
}

func ProvidePatternAnalyzer(cfg *config.Config, strategy domsvc.ConfidenceStrategy, provider *activity.CachedProvider, m repository.Metrics, l *applogger.Logger) *usecase.PatternAnalyzer {
	return usecase.NewPatternAnalyzer(usecase.AnalyzerConfig{
		ReadyMinConfidence:    cfg.Analyzer.ReadyMinConfidence,
		AdvanceMinConfidence:  cfg.Analyzer.AdvanceMinConfidence,
		PreReadyMinConfidence: cfg.Analyzer.PreReadyMinConfidence,
		AdvanceBoostScale:     cfg.Analyzer.AdvanceBoostScale,
		Workers:               cfg.Analyzer.Workers,
		ActivityTimeout:       cfg.Analyzer.ActivityTimeout,
	}, strategy, provider, m, l)
}

// ProvideListingRegistry is the known-listings registry shared by every
// detection layer.
func ProvideListingRegistry(cfg *config.Config, rdb *redis.Client) repository.ListingRegistry {
	if cfg.Detection.RegistryBackend == "redis" && rdb != nil {
		return icache.NewRedisRegistry(rdb, cfg.Redis.Prefix+":known_listings", cfg.Detection.RegistryTTL, cfg.Detection.RegistryMaxSize)
	}
	return icache.NewTTLSet(cfg.Detection.RegistryTTL, cfg.Detection.RegistryMaxSize)
}

func ProvideDetectionCoordinator(cfg *config.Config, client *mexc.Client, stream repository.PushStream, analyzer *usecase.PatternAnalyzer, registry repository.ListingRegistry, m repository.Metrics, l *applogger.Logger) *usecase.DetectionCoordinator {
	return usecase.NewDetectionCoordinator(usecase.CoordinatorConfig{
		CalendarInterval:     cfg.Detection.CalendarInterval,
		SymbolsInterval:      cfg.Detection.SymbolsInterval,
		ExchangeInfoInterval: cfg.Detection.ExchangeInfoInterval,
		PollTimeout:          cfg.Detection.PollTimeout,
		ResultBuffer:         cfg.Detection.ResultBuffer,
		ListingBuffer:        cfg.Detection.ResultBuffer,
		EnableStream:         cfg.Detection.EnableStream,
	}, client, stream, analyzer, registry, m, l)
}

// ProvideNotifier returns a nil interface when telegram is disabled.
func ProvideNotifier(cfg *config.Config, l *applogger.Logger) (repository.Notifier, error) {
	if !cfg.Telegram.Enabled {
		return nil, nil
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelay, l)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	return tg, nil
}

// ProvideReadyQueue returns a nil interface without redis; ready targets
// are then only published as events.
func ProvideReadyQueue(cfg *config.Config, rdb *redis.Client, l *applogger.Logger) (repository.ReadyQueue, func(), error) {
	if rdb == nil {
		return nil, func() {}, nil
	}
	q := queue.NewRedisQueue(l, rdb,
		queue.WithKeyPrefix(cfg.Redis.Prefix),
		queue.WithQueueName(cfg.Bridge.ReadyQueue),
		queue.WithMaxLen(10000),
	)
	if err := q.Start(); err != nil {
		return nil, nil, fmt.Errorf("ready queue: %w", err)
	}
	return q, func() { _ = q.Stop(context.Background()) }, nil
}

func ProvideTargetDispatcher(cfg *config.Config, publisher repository.EventPublisher, q repository.ReadyQueue, notifier repository.Notifier, m repository.Metrics, l *applogger.Logger) *usecase.TargetDispatcher {
	return usecase.NewTargetDispatcher(publisher, q, notifier, cfg.Bridge.UrgentPriority, m, l)
}

func ProvideTargetBridge(cfg *config.Config, targets TargetRepository, prefs repository.PreferenceStore, rdb *redis.Client, dispatcher *usecase.TargetDispatcher, m repository.Metrics, l *applogger.Logger) (*usecase.TargetBridge, error) {
	bc, err := bridgeConfig(cfg)
	if err != nil {
		return nil, err
	}

	// keys outlive one granularity bucket so adjacent polls still collapse
	ttl := 2 * bc.DedupGranularity
	var dedup repository.ListingRegistry
	if cfg.Bridge.DedupBackend == "redis" && rdb != nil {
		dedup = icache.NewRedisRegistry(rdb, cfg.Redis.Prefix+":bridge_dedup", ttl, 100000)
	} else {
		dedup = icache.NewTTLSet(ttl, 100000)
	}

	b := usecase.NewTargetBridge(bc, targets, prefs, dedup, dispatcher, m, l)
	if err := b.UpdateConfig(bc); err != nil {
		return nil, err
	}
	return b, nil
}

func bridgeConfig(cfg *config.Config) (usecase.BridgeConfig, error) {
	size, err := decimal.NewFromString(cfg.Bridge.Defaults.PositionSizeUsdt)
	if err != nil {
		return usecase.BridgeConfig{}, fmt.Errorf("bridge.defaults.position_size_usdt: %w", err)
	}
	patterns := make([]models.PatternType, 0, len(cfg.Bridge.SupportedPatterns))
	for _, p := range cfg.Bridge.SupportedPatterns {
		patterns = append(patterns, models.PatternType(p))
	}
	return usecase.BridgeConfig{
		SupportedPatterns:    patterns,
		MinConfidence:        cfg.Bridge.MinConfidence,
		RejectHighRisk:       cfg.Bridge.RejectHighRisk,
		MaxConcurrentPerUser: cfg.Bridge.MaxConcurrentPerUser,
		DedupGranularity:     cfg.Bridge.DedupGranularity,
		ReadyBuffer:          cfg.Bridge.ReadyBuffer,
		PreReadyDelay:        cfg.Bridge.PreReadyDelay,
		DefaultUserIDs:       cfg.Bridge.DefaultUserIDs,
		Defaults: usecase.TargetDefaults{
			PositionSizeUsdt: size,
			StopLossPercent:  cfg.Bridge.Defaults.StopLossPercent,
			TakeProfitLevel:  cfg.Bridge.Defaults.TakeProfitLevel,
			EntryStrategy:    cfg.Bridge.Defaults.EntryStrategy,
		},
	}, nil
}

func ProvideMatchPipeline(cfg *config.Config, bridge *usecase.TargetBridge, m repository.Metrics, l *applogger.Logger) *mid.MatchPipeline {
	return mid.NewMatchPipeline(bridge, m, l,
		mid.WithBufferSize(cfg.Pipeline.BufferSize),
		mid.WithPolicy(cfg.Pipeline.Policy),
		mid.WithEnqueueTimeout(cfg.Pipeline.EnqueueTimeout),
		mid.WithMaxRetries(cfg.Pipeline.MaxRetries),
	)
}

func ProvideDetectionProcessor(coordinator *usecase.DetectionCoordinator, publisher repository.EventPublisher, sink *internalrepo.CHDetectionSink, pipeline *mid.MatchPipeline, notifier repository.Notifier, m repository.Metrics, l *applogger.Logger) *usecase.DetectionProcessor {
	var s repository.DetectionSink = internalrepo.NopDetectionSink{}
	if sink != nil {
		s = sink
	}
	return usecase.NewDetectionProcessor(coordinator, publisher, s, pipeline, notifier, m, l)
}

// ProvideKafkaConsumer returns nil unless the activity consumer is enabled.
func ProvideKafkaConsumer(cfg *config.Config, provider *activity.CachedProvider, m repository.Metrics, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerStartOffset(cfg.Kafka.Consumer.StartOffset),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook())
	consumer.RegisterHandler(usecase.NewActivitySignalsHandler(cfg.Kafka.Topics.Activity, provider, m, l))
	return consumer, nil
}

func ProvideStatusHandler(cfg *config.Config, coordinator *usecase.DetectionCoordinator, pipeline *mid.MatchPipeline, analyzer *usecase.PatternAnalyzer, sink *internalrepo.CHDetectionSink, targets TargetRepository, pool *postgres.Pool, rdb *redis.Client, l *applogger.Logger) *api.StatusHandler {
	checks := map[string]api.HealthCheck{"targets": targets.Health}
	if pool != nil {
		checks["postgres"] = pool.Health
	}
	if rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}
	var counter api.PatternCounter
	if sink != nil {
		checks["clickhouse"] = sink.Health
		counter = sink
	}
	return api.NewStatusHandler(api.BuildInfo{
		Version:     cfg.Version,
		Environment: cfg.Environment,
		StartedAt:   time.Now(),
	}, coordinator, pipeline, analyzer, counter, checks, l)
}

func ProvideBridgeHandler(bridge *usecase.TargetBridge, targets TargetRepository, l *applogger.Logger) *api.BridgeHandler {
	return api.NewBridgeHandler(bridge, targets, l)
}

func ProvideHTTPServer(cfg *config.Config, status *api.StatusHandler, bridge *api.BridgeHandler, apiMetrics *svcmetrics.APIMetrics, g prometheus.Gatherer, l *applogger.Logger) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(xhttp.Handlers{status, bridge}, l,
		xhttp.WithHost(cfg.Server.Host),
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithServerTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORS(cfg.Server.CORS),
		xhttp.WithMetrics(metricsPath, g),
		xhttp.WithRequestMetrics(apiMetrics, cfg.Server.SlowRequest),
	)
}

// ProvideApp orders components so that consumers of a stage start before
// its producers: pipeline, processor, coordinator, activity consumer, HTTP.
func ProvideApp(cfg *config.Config, l *applogger.Logger, pipeline *mid.MatchPipeline, processor *usecase.DetectionProcessor, coordinator *usecase.DetectionCoordinator, consumer *pkgkafka.Consumer, httpServer *xhttp.Server) *server.App {
	components := []server.Component{
		{
			Name:  "match_pipeline",
			Start: func(ctx context.Context) error { pipeline.Start(ctx); return nil },
			Stop:  func(context.Context) error { pipeline.Stop(); return nil },
		},
		{
			Name:  "detection_processor",
			Start: func(ctx context.Context) error { processor.Start(ctx); return nil },
			Stop:  func(context.Context) error { processor.Stop(); return nil },
		},
		{
			Name:  "detection_coordinator",
			Start: coordinator.Start,
			Stop:  func(context.Context) error { return coordinator.Stop() },
		},
	}
	if consumer != nil {
		components = append(components, server.Component{
			Name: "activity_consumer",
			Start: func(context.Context) error {
				go func() {
					if err := consumer.Start(); err != nil {
						l.Error("kafka consumer error", applogger.Error(err))
					}
				}()
				return nil
			},
			Stop: consumer.Stop,
		})
	}
	components = append(components, server.Component{
		Name:  "http_server",
		Start: func(context.Context) error { return httpServer.Start() },
		Stop:  httpServer.Stop,
	})
	return server.New(l, cfg.Server.ShutdownTimeout, components...)
}
