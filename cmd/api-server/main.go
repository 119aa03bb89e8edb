package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/api"
	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/config"
	"github.com/hackgods/clinic-booking-scheduler/internal/db"
	"github.com/hackgods/clinic-booking-scheduler/internal/logging"
	"github.com/hackgods/clinic-booking-scheduler/internal/notify"
	"github.com/hackgods/clinic-booking-scheduler/internal/observability/metrics"
	"github.com/hackgods/clinic-booking-scheduler/internal/profile"
	redisclient "github.com/hackgods/clinic-booking-scheduler/internal/redis"
	"github.com/hackgods/clinic-booking-scheduler/internal/slots"
	"github.com/hackgods/clinic-booking-scheduler/internal/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Bool("memory_store", cfg.UseMemoryStore).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewSchedulerMetrics(reg)

	var (
		repo     appointment.Repository
		profiles profile.Store
		locker   redisclient.Locker
		drafts   workflow.DraftStore
		notifier notify.Notifier
		health   []api.Dependency
	)

	if cfg.UseMemoryStore {
		repo = appointment.NewMemoryRepository()
		profiles = profile.NewMemoryStore()
		locker = redisclient.NewLocalCalendarLocker(cfg.LockWait)
		drafts = workflow.NewMemoryDraftStore(cfg.DraftTTL)
		notifier = notify.NewLogNotifier(logger)
		logger.Warn().Msg("using in-memory stores, data is lost on restart")
	} else {
		if cfg.MigrateOnStart {
			if err := migrateUp(cfg, logger); err != nil {
				logger.Fatal().Err(err).Msg("schema migration failed")
			}
		}

		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg)
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		redisNotifier := notify.NewRedisNotifier(rdb, cfg.NotifyChannel, logger)
		defer redisNotifier.Close()

		repo = appointment.NewPgRepository(pgPool)
		profiles = profile.NewPgStore(pgPool)
		locker = redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL, cfg.LockWait)
		drafts = workflow.NewRedisDraftStore(rdb, cfg.DraftTTL)
		notifier = redisNotifier
		health = []api.Dependency{
			{Name: "postgres", Critical: true, Ping: db.PoolPing(pgPool)},
			{Name: "redis", Critical: true, Ping: api.RedisPing(rdb)},
		}
	}

	ledger := appointment.NewService(repo, locker, cfg,
		appointment.WithNotifier(notifier),
		appointment.WithMetrics(m),
		appointment.WithLogger(logger.With().Str("component", "ledger").Logger()),
	)
	finder := slots.NewFinder(profiles, slots.NewGenerator(ledger, nil, cfg.MaxHorizonDays, m))
	wf := workflow.New(ledger, finder, nil, cfg.DefaultLocale, m, logger.With().Str("component", "workflow").Logger())

	router := api.NewRouter(api.RouterConfig{
		Ledger:         ledger,
		Slots:          finder,
		Profiles:       profiles,
		Workflow:       wf,
		Drafts:         drafts,
		Health:         health,
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:         logger,
		Env:            cfg.Env,
		Version:        cfg.Version,
		MaxHorizonDays: cfg.MaxHorizonDays,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}

func migrateUp(cfg config.Config, logger zerolog.Logger) error {
	mg, err := db.NewMigrator(cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := mg.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing migrator")
		}
	}()
	return mg.Up()
}
