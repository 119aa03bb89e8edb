package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking-scheduler/internal/appointment"
	"github.com/hackgods/clinic-booking-scheduler/internal/config"
	"github.com/hackgods/clinic-booking-scheduler/internal/db"
	"github.com/hackgods/clinic-booking-scheduler/internal/logging"
	"github.com/hackgods/clinic-booking-scheduler/internal/notify"
	redisclient "github.com/hackgods/clinic-booking-scheduler/internal/redis"
)

// batchSize bounds how many stale holds one query returns; a run keeps
// fetching batches until one comes back short.
const batchSize = 500

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "expiry-worker")
	if cfg.UseMemoryStore {
		logger.Fatal().Msg("expiry-worker needs Postgres; unset USE_MEMORY_STORE")
	}
	logger.Info().Dur("interval", cfg.WorkerInterval).Dur("hold_ttl", cfg.PendingHoldTTL).Msg("expiry-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing redis")
		}
	}()

	notifier := notify.NewRedisNotifier(rdb, cfg.NotifyChannel, logger)
	defer notifier.Close()

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		redisclient.NewRedisCalendarLocker(rdb, cfg.LockTTL, cfg.LockWait),
		cfg,
		appointment.WithNotifier(notifier),
		appointment.WithLogger(logger),
	)

	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	total := 0
	for {
		n, err := svc.ExpireStalePending(runCtx, batchSize)
		total += n
		if err != nil {
			logger.Error().Err(err).Int("expired", total).Msg("expiry run error")
			return
		}
		if n < batchSize {
			break
		}
	}
	logger.Info().Int("expired", total).Dur("took", time.Since(start)).Msg("expiry run complete")
}
