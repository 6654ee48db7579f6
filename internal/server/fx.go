// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/competitor-monitor/internal/api"
	"github.com/JakeFAU/competitor-monitor/internal/changedetect"
	"github.com/JakeFAU/competitor-monitor/internal/clock/system"
	"github.com/JakeFAU/competitor-monitor/internal/config"
	"github.com/JakeFAU/competitor-monitor/internal/fetcher"
	collyfetcher "github.com/JakeFAU/competitor-monitor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/competitor-monitor/internal/fetcher/headless"
	"github.com/JakeFAU/competitor-monitor/internal/hash/sha256"
	"github.com/JakeFAU/competitor-monitor/internal/id/uuid"
	"github.com/JakeFAU/competitor-monitor/internal/logging"
	"github.com/JakeFAU/competitor-monitor/internal/metrics"
	"github.com/JakeFAU/competitor-monitor/internal/monitor"
	"github.com/JakeFAU/competitor-monitor/internal/policy/blocklist"
	"github.com/JakeFAU/competitor-monitor/internal/policy/budget"
	"github.com/JakeFAU/competitor-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/competitor-monitor/internal/processor"
	amqppublisher "github.com/JakeFAU/competitor-monitor/internal/publisher/amqp"
	memorypublisher "github.com/JakeFAU/competitor-monitor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/competitor-monitor/internal/publisher/pubsub"
	"github.com/JakeFAU/competitor-monitor/internal/scheduler"
	gcsstorage "github.com/JakeFAU/competitor-monitor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/competitor-monitor/internal/storage/local"
	memorystorage "github.com/JakeFAU/competitor-monitor/internal/storage/memory"
	pgstore "github.com/JakeFAU/competitor-monitor/internal/storage/postgres"
	"github.com/JakeFAU/competitor-monitor/internal/telemetry"
	"github.com/JakeFAU/competitor-monitor/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	processor *processor.Processor

	pool          *pgxpool.Pool
	pubsubClient  *pubsub.Client
	gcpPublisher  *gcppublisher.Publisher
	amqpPublisher *amqppublisher.Publisher
	storage       *storage.Client
	headless      *headlessfetcher.Fetcher
	telemetry     telemetry.Providers
}

type stores struct {
	jobs       monitor.JobStore
	executions monitor.ExecutionStore
}

// Build creates the application's dependencies. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config) (app *App, err error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
	)

	app.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, nil)
	if err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}

	st, err := app.setupStores(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupArchive(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	fetch, err := app.setupFetcher()
	if err != nil {
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	exec, err := worker.NewExecutor(worker.Deps{
		Jobs:       st.jobs,
		Executions: st.executions,
		Fetcher:    fetch,
		Robots: monitor.NewRobotsEnforcer(
			cfg.Fetch.RespectRobots,
			cfg.Fetch.UserAgent,
			cfg.Fetch.RobotsTTL,
			logger.Named("robots"),
		),
		Limiter:   ratelimit.New(cfg.RateLimit),
		Detector:  changedetect.New(0),
		Retry:     monitor.NewExponentialRetryPolicy(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.Jitter),
		Blobs:     blobs,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
		IDs:       ids,
	}, worker.Config{
		ContentType:      cfg.Archive.ContentType,
		BlobPrefix:       cfg.Archive.Prefix,
		Topic:            cfg.Publisher.Topic,
		WritebackTimeout: cfg.Processor.WritebackTimeout,
	}, logger.Named("executor"))
	if err != nil {
		return nil, fmt.Errorf("executor init failed: %w", err)
	}

	app.processor, err = processor.New(processor.Deps{
		Jobs:       st.jobs,
		Executions: st.executions,
		Scheduler: scheduler.New(st.jobs, scheduler.Config{
			InitialJitter: cfg.Scheduler.InitialJitter,
			DueBatchSize:  cfg.Scheduler.DueBatchSize,
		}),
		Runner:    exec,
		Flags:     budget.NewStaticFlags(cfg.Budget.DefaultHourlyCap, cfg.Budget.UserCaps),
		Blocklist: blocklist.New(cfg.Fetch.BlockedDomains),
		Clock:     clock,
		IDs:       ids,
	}, processor.Config{
		TickInterval:     cfg.Processor.TickInterval,
		MaxConcurrent:    cfg.Processor.MaxConcurrent,
		MaxPerUser:       cfg.Processor.MaxPerUser,
		StaleAfter:       cfg.Processor.StaleAfter,
		RecoveryInterval: cfg.Processor.RecoveryInterval,
		HistoryWindow:    cfg.Health.HistoryWindow,
	}, logger.Named("processor"))
	if err != nil {
		return nil, fmt.Errorf("processor init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.processor, app.ready, cfg, logger.Named("api"))
	return app, nil
}

func (a *App) setupStores(ctx context.Context) (stores, error) {
	if a.cfg.Storage.Backend != "postgres" {
		a.logger.Info("using in-memory job store")
		return stores{
			jobs:       memorystorage.NewJobStore(),
			executions: memorystorage.NewExecutionStore(a.cfg.Storage.ExecutionRetention),
		}, nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return stores{}, fmt.Errorf("postgres pool init failed: %w", err)
	}
	a.pool = pool
	if err := pgstore.EnsureSchema(ctx, pool, a.cfg.Database.JobsTable, a.cfg.Database.ExecutionsTable); err != nil {
		return stores{}, fmt.Errorf("postgres schema init failed: %w", err)
	}
	jobs, err := pgstore.NewJobStore(pool, a.cfg.Database.JobsTable)
	if err != nil {
		return stores{}, fmt.Errorf("postgres job store init failed: %w", err)
	}
	executions, err := pgstore.NewExecutionStore(pool, a.cfg.Database.ExecutionsTable)
	if err != nil {
		return stores{}, fmt.Errorf("postgres execution store init failed: %w", err)
	}
	a.logger.Info("using postgres job store",
		zap.String("jobs_table", a.cfg.Database.JobsTable),
		zap.String("executions_table", a.cfg.Database.ExecutionsTable),
	)
	return stores{jobs: jobs, executions: executions}, nil
}

func (a *App) setupArchive(ctx context.Context) (monitor.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, a.cfg.Archive.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Archive.GCS.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(a.cfg.Archive.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to local disk", zap.String("path", a.cfg.Archive.Local.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("archiving snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("snapshot archive disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (monitor.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.gcpPublisher = gcppublisher.New(client)
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Publisher.PubSub.ProjectID),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
		return a.gcpPublisher, nil
	case "amqp":
		pub, err := amqppublisher.New(amqppublisher.Config{
			URL:      a.cfg.Publisher.AMQP.URL,
			Exchange: a.cfg.Publisher.AMQP.Exchange,
		}, uuid.New().NewID)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher init failed: %w", err)
		}
		a.amqpPublisher = pub
		a.logger.Info("AMQP publisher initialized",
			zap.String("exchange", a.cfg.Publisher.AMQP.Exchange),
			zap.String("topic", a.cfg.Publisher.Topic),
		)
		return pub, nil
	case "memory":
		a.logger.Warn("using in-memory publisher; change events are not delivered")
		return memorypublisher.New(), nil
	default:
		a.logger.Info("change event publishing disabled")
		return nil, nil
	}
}

func (a *App) setupFetcher() (monitor.Fetcher, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Fetch.UserAgent,
		DefaultTimeout: a.cfg.Fetch.DefaultTimeout,
		MaxBodyBytes:   a.cfg.Fetch.MaxBodyBytes,
	})
	a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Fetch.UserAgent))
	var headless monitor.Fetcher
	if a.cfg.Headless.Enabled {
		hf, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavigationTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = hf
		headless = hf
		a.logger.Info("using headless fetcher for social jobs", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}
	router, err := fetcher.NewRouter(static, headless)
	if err != nil {
		return nil, fmt.Errorf("fetch router init failed: %w", err)
	}
	if headless != nil && a.cfg.Headless.AutoPromote {
		router = router.WithPromoter(fetcher.NewShellDetector(a.cfg.Headless.PromoteMaxBytes))
	}
	return router, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping: %w", err)
		}
	}
	if !a.processor.IsRunning() {
		return errors.New("processor not running")
	}
	return nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the processor and HTTP server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.processor.Start(ctx); err != nil {
		return fmt.Errorf("start processor: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// Close stops the processor, then releases infrastructure clients.
func (a *App) Close(ctx context.Context) error {
	if a.processor != nil {
		a.processor.Stop()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.amqpPublisher != nil {
		if err := a.amqpPublisher.Close(); err != nil {
			a.logger.Warn("amqp publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}
