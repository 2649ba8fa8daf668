// Command agent runs the reminder and re-engagement messaging agent: the
// HTTP API, the job workers, the dead-letter consumer and the reminder
// scheduler, in one process.
//
// @title       Reminder Agent API
// @version     1.0
// @description Multi-tenant appointment reminders, re-engagement campaigns and inbound intent handling.
// @BasePath    /
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-reminder-agent/internal/config"
	"github.com/tbourn/go-reminder-agent/internal/dlq"
	"github.com/tbourn/go-reminder-agent/internal/domain"
	httpapi "github.com/tbourn/go-reminder-agent/internal/http"
	"github.com/tbourn/go-reminder-agent/internal/idempotency"
	"github.com/tbourn/go-reminder-agent/internal/observability"
	"github.com/tbourn/go-reminder-agent/internal/queue"
	"github.com/tbourn/go-reminder-agent/internal/quota"
	"github.com/tbourn/go-reminder-agent/internal/repo"
	"github.com/tbourn/go-reminder-agent/internal/services"
	"github.com/tbourn/go-reminder-agent/internal/sysutil"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg     config.Config
	log     zerolog.Logger
	version string

	db       *gorm.DB
	redis    *redis.Client
	notifier queue.Notifier
	tracing  observability.Shutdown

	idem      *idempotency.Manager
	quotas    *quota.Manager
	pool      *queue.Pool
	dead      *dlq.Manager
	sender    *services.Sender
	batches   *services.Batches
	webhooks  *services.Webhooks
	scheduler *services.Scheduler

	server *http.Server
	cancel context.CancelFunc
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		app.Close()
		os.Exit(1)
	}

	serverErrors := make(chan error, 1)
	go func() { serverErrors <- app.Start(ctx) }()

	code := 0
	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.log.Error().Err(err).Msg("server error")
			code = 1
		}
	case <-ctx.Done():
		app.log.Info().Msg("shutdown signal received")
	}
	app.Stop()
	app.Close()
	os.Exit(code)
}

// NewApp connects the store and optional infrastructure, then builds the
// services. Nothing runs until Start. On error the partially built App is
// returned so that Close can release what was opened.
func NewApp(ctx context.Context, cfg config.Config) (*App, error) {
	version := sysutil.Version()
	a := &App{
		cfg:     cfg,
		version: version,
		log:     sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stdout, cfg.OTEL.ServiceName, version),
	}
	a.log.Info().Str("port", cfg.Port).Str("db_driver", cfg.Store.Driver).Msg("starting")

	var err error
	if a.tracing, err = observability.SetupTracing(ctx, cfg.OTEL, version, cfg.Provider.Channel, a.log); err != nil {
		return a, fmt.Errorf("tracing: %w", err)
	}
	if err := a.initStore(ctx); err != nil {
		return a, err
	}
	if err := a.initIdempotency(ctx); err != nil {
		return a, err
	}
	if err := a.initQueue(); err != nil {
		return a, err
	}
	a.initServices()
	a.initServer()
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	db, err := repo.Open(repo.Options{
		Driver:  a.cfg.Store.Driver,
		Path:    a.cfg.Store.Path,
		DSN:     a.cfg.Store.DSN,
		Tracing: a.cfg.OTEL.Enabled,
		Verbose: a.cfg.Store.Verbose,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.db = db
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// Seeded only when absent; an existing default row is never overwritten.
	if _, err := repo.GetQuotaConfig(ctx, db, domain.DefaultQuotaTenant); errors.Is(err, repo.ErrNotFound) {
		q := &domain.QuotaConfig{
			TenantID:    domain.DefaultQuotaTenant,
			DailyLimit:  a.cfg.Quota.Daily,
			HourlyLimit: a.cfg.Quota.Hourly,
			BurstLimit:  a.cfg.Quota.Burst,
		}
		if err := repo.UpsertQuotaConfig(ctx, db, q); err != nil {
			return fmt.Errorf("seed default quota: %w", err)
		}
		a.log.Info().Int("daily", q.DailyLimit).Int("hourly", q.HourlyLimit).Int("burst", q.BurstLimit).Msg("default quota seeded")
	} else if err != nil {
		return fmt.Errorf("read default quota: %w", err)
	}
	return nil
}

func (a *App) initIdempotency(ctx context.Context) error {
	ic := a.cfg.Idempotency
	var cache idempotency.Cache = idempotency.NopCache{}
	switch {
	case ic.RedisAddr != "":
		client, err := idempotency.NewRedisClient(ctx, ic.RedisAddr, ic.RedisPassword, ic.RedisDB)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		cache = idempotency.NewRedisCache(client, "")
		a.log.Info().Str("addr", ic.RedisAddr).Msg("idempotency cache: redis")
	case ic.CacheSize > 0:
		cache = idempotency.NewMemoryCache(ic.CacheSize)
	}
	a.idem = idempotency.NewManager(idempotency.GormStore{DB: a.db}, cache, idempotency.Options{
		TTL:             ic.TTL,
		HeuristicWindow: ic.HeuristicWindow,
		Logger:          a.log,
	})
	return nil
}

func (a *App) initQueue() error {
	qc := a.cfg.Queue
	if qc.AMQPURL != "" {
		n, err := queue.NewAMQPNotifier(qc.AMQPURL, qc.AMQPExchange, a.log)
		if err != nil {
			return fmt.Errorf("amqp: %w", err)
		}
		a.notifier = n
	} else {
		a.notifier = queue.NewLocalNotifier()
	}
	a.pool = queue.NewPool(queue.NewStore(a.db, nil), a.notifier, queue.PoolOptions{
		PollInterval: qc.PollInterval,
		StaleAfter:   qc.StaleAfter,
		Backoff: queue.Backoff{
			Initial:       qc.BackoffInitial,
			Max:           qc.BackoffMax,
			Multiplier:    qc.BackoffMultiplier,
			Randomization: qc.BackoffJitter,
		},
		Logger: a.log,
	})
	return nil
}

func (a *App) initServices() {
	cfg := a.cfg
	policies := &services.PolicyService{DB: a.db, DefaultLocale: cfg.DefaultLocale, Log: a.log}
	a.quotas = quota.NewManager(quota.GormStore{DB: a.db}, nil, a.log)

	var provider services.Provider = services.DryRunProvider{Log: a.log}
	if cfg.Provider.URL != "" {
		provider = services.NewHTTPProvider(cfg.Provider.Name, cfg.Provider.URL, cfg.Provider.Token, cfg.Provider.Timeout)
	} else {
		a.log.Warn().Msg("PROVIDER_URL not set; messages are logged, not delivered")
	}

	a.sender = &services.Sender{
		DB:          a.db,
		Idempotency: a.idem,
		Quota:       a.quotas,
		Policies:    policies,
		Composer:    services.TemplateComposer{},
		Provider:    provider,
		Channel:     cfg.Provider.Channel,
		Log:         a.log,
	}
	a.sender.Register(a.pool,
		queue.QueueConfig{Concurrency: cfg.Queue.ReminderConcurrency, MaxAttempts: cfg.Queue.MaxAttempts, Timeout: cfg.Queue.JobTimeout},
		queue.QueueConfig{Concurrency: cfg.Queue.ReengagementConcurrency, MaxAttempts: cfg.Queue.MaxAttempts, Timeout: cfg.Queue.JobTimeout},
	)
	a.dead = dlq.NewManager(a.db, a.pool, nil, dlq.Options{Logger: a.log})
	a.dead.Attach()

	a.batches = &services.Batches{DB: a.db, Queue: a.pool, Policies: policies, Log: a.log}
	a.webhooks = &services.Webhooks{DB: a.db, Idempotency: a.idem, Policies: policies, Log: a.log}

	if cfg.Scheduler.ReminderInterval > 0 {
		a.scheduler = services.NewScheduler("reminders", cfg.Scheduler.ReminderInterval, func(ctx context.Context) error {
			_, err := a.batches.RunReminders(ctx, services.ReminderBatch{})
			return err
		}, a.log)
	}
}

func (a *App) initServer() {
	gin.SetMode(a.cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Webhooks:    a.webhooks,
		Batches:     a.batches,
		Sender:      a.sender,
		DeadLetters: a.dead,
		Quotas:      a.quotas,
	}, a.cfg)

	a.server = &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadTimeout:       a.cfg.ReadTimeout,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}
}

// Start launches the workers and background loops, then serves HTTP until
// the server is shut down.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.pool.Start(ctx)
	go a.idem.Run(ctx, a.cfg.Idempotency.SweepInterval)
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}
	a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
	return a.server.ListenAndServe()
}

// Stop drains HTTP first so no new work is enqueued, then stops the
// scheduler and waits for in-flight jobs.
func (a *App) Stop() {
	a.log.Info().Msg("graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	a.server.SetKeepAlivesEnabled(false)
	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("http shutdown failed")
		_ = a.server.Close()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.pool.Stop()
	if err := a.tracing(ctx); err != nil {
		a.log.Warn().Err(err).Msg("tracing shutdown failed")
	}
	a.log.Info().Msg("stopped")
}

// Close releases connections. A partially built App is fine.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.log.Warn().Err(err).Msg("notifier close failed")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close failed")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
