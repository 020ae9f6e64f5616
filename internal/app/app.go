// Package app wires configuration into the running service: storage, locks, events, the domain
// services and the processes that drive them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/db"
	"github.com/Ramsey-B/clover/pkg/ai"
	"github.com/Ramsey-B/clover/pkg/connectors"
	"github.com/Ramsey-B/clover/pkg/connectors/providers"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/dedup"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/feedback"
	"github.com/Ramsey-B/clover/pkg/health"
	"github.com/Ramsey-B/clover/pkg/httpclient"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/keylock"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/repositories"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/similarity"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/store/memstore"
	"github.com/Ramsey-B/clover/pkg/syncer"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

const lockPrefix = "clover:lock:"

// App holds every wired component. Close releases them in reverse order of creation.
type App struct {
	Config     *config.Config
	Logger     ectologger.Logger
	Store      *repositories.Store
	Locker     keylock.Locker
	Emitter    *events.Emitter
	Tracker    *feedback.Tracker
	Merger     *merging.Engine
	Detector   *dedup.Detector
	Syncer     *syncer.Service
	Dispatcher syncer.Dispatcher
	Health     *health.Checker

	db      database.DB
	redis   *redis.Client
	streams *redis.Streams
	closers []func() error
}

// New connects to the configured backends and builds the domain services. Migrations are not run.
func New(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Health: health.NewChecker(cfg.Version),
	}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if err := a.setupTracing(ctx); err != nil {
		return err
	}

	backends := startup.New(a.Logger, cfg.StartupMaxAttempts)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return backends.Stop(ctx)
	})
	a.setupStore(backends)
	a.setupLocker(backends)
	if err := backends.Start(ctx); err != nil {
		return err
	}
	a.setupEvents()

	var (
		oracle  similarity.Oracle
		advisor feedback.Advisor
	)
	if cfg.OpenAIAPIKey != "" {
		client, err := ai.NewClient(ai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.OpenAIChatModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
			Mode:           cfg.OpenAISimilarityMode,
		}, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to create ai client: %w", err)
		}
		oracle, advisor = client, client
	}

	a.Tracker = feedback.NewTracker(a.Store, advisor, feedback.DefaultConfig(), a.Logger)
	a.Merger = merging.NewEngine(a.Store, a.Locker, a.Emitter, a.Tracker, merging.DefaultConfig(), a.Logger)

	scorer := similarity.NewScorer(similarity.DefaultConfig(), oracle, a.Logger)
	a.Detector = dedup.NewDetector(a.Store, scorer, a.Merger, a.Tracker, a.Emitter, dedup.Config{
		MinSimilarity:          cfg.DedupMinSimilarity,
		BlockSize:              cfg.DedupBlockSize,
		PageSize:               cfg.DedupPageSize,
		MaxBlocksPerInvocation: cfg.DedupMaxBlocks,
		AutoMerge:              cfg.DedupAutoMerge,
		AutoMergeThreshold:     cfg.DedupAutoMergeThreshold,
	}, a.Logger)

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.HTTPClientTimeout
	httpCfg.MaxRetries = cfg.HTTPClientMaxRetries
	registry := providers.NewRegistry(connectors.Deps{
		HTTP:   httpclient.NewClient(httpCfg, a.Logger),
		Logger: a.Logger,
	})
	a.Syncer = syncer.NewService(a.Store, registry, a.Locker, a.Tracker, a.Emitter, syncer.DefaultConfig(), a.Logger)

	if cfg.SyncQueueEnabled {
		a.Dispatcher = syncer.NewQueue(a.streams, cfg.RedisStreamsSyncQueue, a.Syncer)
	} else {
		a.Dispatcher = syncer.NewInline(a.Syncer)
	}
	return nil
}

func (a *App) setupTracing(ctx context.Context) error {
	if !a.Config.OTLPEnabled {
		return nil
	}
	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: a.Config.OTLPEndpoint,
		Protocol: a.Config.OTLPProtocol,
		Insecure: a.Config.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to create otlp exporter: %w", err)
	}
	shutdown := tracing.Setup(a.Config.AppName, a.Config.Version, exporter)
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(ctx)
	})
	return nil
}

func (a *App) setupStore(backends *startup.Startup) {
	if a.Config.StoreDriver == config.StoreDriverMemory {
		a.Logger.Warn("using the in-memory store, data is lost on restart")
		a.Store = memstore.NewStore()
		return
	}

	backends.Add(startup.Dependency{
		Name: "database",
		Start: func(ctx context.Context) error {
			conn, err := database.Connect(ctx, database.PoolConfig{
				DSN:             a.Config.DatabaseDSN(),
				MaxOpenConns:    a.Config.DatabaseMaxOpenConns,
				MaxIdleConns:    a.Config.DatabaseMaxIdleConns,
				ConnMaxLifetime: a.Config.DatabaseConnMaxLifetime,
			}, a.Logger)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			a.db = conn
			a.Store = repositories.NewPostgresStore(conn, a.Logger)
			a.Health.AddCheck("database", conn.Unwrap().PingContext, true)
			return nil
		},
		Stop: func(context.Context) error {
			return a.db.Unwrap().Close()
		},
	})
}

func (a *App) setupLocker(backends *startup.Startup) {
	if a.Config.LockDriver == config.LockDriverLocal {
		a.Locker = keylock.NewLocal()
		return
	}

	backends.Add(startup.Dependency{
		Name: "redis",
		Start: func(ctx context.Context) error {
			client, err := redis.NewClient(ctx, redis.Config{
				Host:     a.Config.RedisHost,
				Port:     a.Config.RedisPort,
				Password: a.Config.RedisPassword,
				DB:       a.Config.RedisDB,
			}, a.Logger)
			if err != nil {
				return fmt.Errorf("failed to connect to redis: %w", err)
			}
			a.redis = client
			a.streams = redis.NewStreams(client)
			a.Locker = keylock.NewRedis(redis.NewLocker(client, lockPrefix))
			a.Health.AddCheck("redis", client.Ping, true)
			return nil
		},
		Stop: func(context.Context) error {
			return a.redis.Close()
		},
	})
}

func (a *App) setupEvents() {
	brokers := a.Config.KafkaBrokerList()
	if len(brokers) == 0 {
		a.Emitter = events.NewEmitter(nil, a.Logger)
		return
	}

	producer := kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      brokers,
		Topic:        a.Config.KafkaEventsTopic,
		BatchSize:    a.Config.KafkaBatchSize,
		BatchTimeout: a.Config.KafkaBatchTimeout,
		RequiredAcks: a.Config.KafkaRequiredAcks,
		Compression:  a.Config.KafkaCompression,
	}, a.Logger)
	a.closers = append(a.closers, producer.Close)
	a.Emitter = events.NewEmitter(producer, a.Logger)
}

// Migrate applies the embedded migrations. It is a no-op for the in-memory store.
func (a *App) Migrate() error {
	if a.db == nil {
		return nil
	}
	return migrate(a.db, a.Config, a.Logger)
}

// MigrateDatabase connects to the database only and applies the embedded migrations.
func MigrateDatabase(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		return fmt.Errorf("nothing to migrate with STORE_DRIVER=%s", cfg.StoreDriver)
	}
	conn, err := database.Connect(ctx, database.PoolConfig{DSN: cfg.DatabaseDSN(), MaxOpenConns: 2, MaxIdleConns: 1}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Unwrap().Close()
	return migrate(conn, cfg, logger)
}

func migrate(conn database.DB, cfg *config.Config, logger ectologger.Logger) error {
	return database.NewMigrationService(logger, database.MigrationConfig{
		Version: uint(cfg.DatabaseMigrationVersion),
		Force:   cfg.DatabaseMigrationForce,
	}).Migrate(conn, db.Migrations, db.MigrationsDir)
}

// Server builds the HTTP server for the API.
func (a *App) Server(ctx context.Context) (*echo.Echo, error) {
	var verifier middleware.TokenVerifier
	if a.Config.AuthEnabled {
		v, err := middleware.NewOIDCVerifier(ctx, a.Config.AuthIssuerURL, a.Config.AuthClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to create oidc verifier: %w", err)
		}
		verifier = v
	}

	return routes.NewServer(a.Config.AppName, routes.Services{
		Store:      a.Store,
		Detector:   a.Detector,
		Merger:     a.Merger,
		Syncer:     a.Syncer,
		Dispatcher: a.Dispatcher,
		Feedback:   a.Tracker,
		Health:     a.Health,
		Verifier:   verifier,
	}, a.Logger), nil
}

// Serve runs the HTTP server, the sync worker and the scheduler until ctx is cancelled, then
// shuts them down.
func (a *App) Serve(ctx context.Context) error {
	e, err := a.Server(ctx)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(a.Config.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.Config.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.Config.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.Config.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.Config.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.WithFields(map[string]any{"port": a.Config.Port}).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if a.Config.SyncQueueEnabled {
		workerCfg := syncer.DefaultWorkerConfig()
		workerCfg.Stream = a.Config.RedisStreamsSyncQueue
		workerCfg.ConsumerGroup = a.Config.RedisStreamsConsumerGroup
		workerCfg.Concurrency = a.Config.WorkerConcurrency
		if a.Config.RedisStreamsConsumerName != "" {
			workerCfg.ConsumerName = a.Config.RedisStreamsConsumerName
		}
		worker := syncer.NewWorker(a.streams, a.Syncer, workerCfg, a.Logger)
		g.Go(func() error { return worker.Run(gctx) })
	}

	if a.Config.SchedulerEnabled {
		schedCfg := syncer.DefaultSchedulerConfig()
		schedCfg.PollInterval = a.Config.SchedulerPollInterval
		schedCfg.SyncInterval = a.Config.SchedulerSyncInterval
		scheduler := syncer.NewScheduler(a.Store.Connections, a.Dispatcher, a.Locker, schedCfg, a.Logger)
		if err := scheduler.Start(gctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
			defer cancel()
			_ = scheduler.Stop(stopCtx)
		}()
	}

	a.Health.SetReady(true)

	g.Go(func() error {
		<-gctx.Done()
		a.Health.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
		defer cancel()
		a.Logger.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
