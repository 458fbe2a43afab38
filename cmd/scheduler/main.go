package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"follower-radar/internal/adapters/repo"
	"follower-radar/internal/infra/bus"
	"follower-radar/internal/infra/config"
	"follower-radar/internal/infra/db"
	applog "follower-radar/internal/infra/log"
	"follower-radar/internal/infra/metrics"
	"follower-radar/internal/usecase/enqueue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "scheduler").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("scheduler: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	busClient, err := bus.NewClient(cfg.RabbitURL, bus.Topology{
		Exchange:    cfg.Bus.Exchange,
		FetchQueue:  cfg.Queues.Fetch,
		DiffQueue:   cfg.Queues.Diff,
		NotifyQueue: cfg.Bus.NotifyQueue,
		SignupQueue: cfg.Bus.SignupQueue,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось подключиться к RabbitMQ")
	}
	defer busClient.Close()

	enqueuer := enqueue.NewService(repoAdapter, busClient.FetchQueue(), cfg.Scheduler.PageSize, cfg.Scheduler.FanoutWorkers, logger)

	ticker := time.NewTicker(cfg.Scheduler.Interval)
	defer ticker.Stop()
	sweeper := time.NewTicker(cfg.Scheduler.SweepEvery)
	defer sweeper.Stop()

	logger.Info().Dur("interval", cfg.Scheduler.Interval).Msg("scheduler: запущен")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("scheduler: остановлен")
			return
		case <-ticker.C:
			result, err := enqueuer.EnqueueAll(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("scheduler: обход пользователей завершился ошибкой")
				continue
			}
			logger.Info().Int("enqueued", result.Enqueued).Int("failed", result.Failed).Msg("scheduler: обход завершён")
		case <-sweeper.C:
			if deleted, err := repoAdapter.DeleteExpiredEvents(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler: очистка событий завершилась ошибкой")
			} else if deleted > 0 {
				logger.Info().Int64("deleted", deleted).Msg("scheduler: удалены истёкшие события")
			}
			if deleted, err := repoAdapter.DeleteExpiredSnapshots(ctx); err != nil {
				logger.Error().Err(err).Msg("scheduler: очистка снимков завершилась ошибкой")
			} else if deleted > 0 {
				logger.Info().Int64("deleted", deleted).Msg("scheduler: удалены истёкшие снимки")
			}
		}
	}
}
