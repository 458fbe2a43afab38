package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"follower-radar/internal/adapters/repo"
	"follower-radar/internal/adapters/webhook"
	"follower-radar/internal/domain"
	"follower-radar/internal/infra/bus"
	"follower-radar/internal/infra/config"
	"follower-radar/internal/infra/db"
	applog "follower-radar/internal/infra/log"
	"follower-radar/internal/infra/metrics"
	"follower-radar/internal/usecase/notify"
)

const maxDeliveryAttempts = 5

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "notifier").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("notifier: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	busClient, err := bus.NewClient(cfg.RabbitURL, bus.Topology{
		Exchange:    cfg.Bus.Exchange,
		FetchQueue:  cfg.Queues.Fetch,
		DiffQueue:   cfg.Queues.Diff,
		NotifyQueue: cfg.Bus.NotifyQueue,
		SignupQueue: cfg.Bus.SignupQueue,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("notifier: не удалось подключиться к RabbitMQ")
	}
	defer busClient.Close()

	sender := webhook.NewSlackSender(cfg.Notify.Username, cfg.Notify.IconURL)
	svc := notify.NewService(repoAdapter, sender, logger)
	eventBus := busClient.EventBus()

	logger.Info().Msg("notifier: запуск обработки событий")

	for {
		event, ack, err := eventBus.Receive(ctx, domain.BusEventFollowerChange)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info().Msg("notifier: остановлен")
				return
			}
			logger.Error().Err(err).Msg("notifier: ошибка чтения шины событий")
			time.Sleep(time.Second)
			continue
		}
		if event.Change == nil {
			logger.Error().Msg("notifier: событие без полезной нагрузки")
			_ = ack(true)
			continue
		}
		eventLog := logger.With().Str("event", event.Change.ID).Str("user", event.Change.UserID).Int("attempt", event.Attempt).Logger()

		if err := svc.Notify(ctx, *event.Change); err != nil {
			eventLog.Error().Err(err).Msg("notifier: доставка завершилась ошибкой")
			if event.Attempt+1 >= maxDeliveryAttempts {
				eventLog.Error().Msg("notifier: достигнут предел попыток, событие отброшено")
				_ = ack(true)
				continue
			}
			event.Attempt++
			if pubErr := eventBus.Publish(ctx, event); pubErr != nil {
				eventLog.Error().Err(pubErr).Msg("notifier: не удалось переотправить событие, возврат в очередь")
				_ = ack(false)
				continue
			}
			_ = ack(true)
			continue
		}
		if err := ack(true); err != nil {
			eventLog.Error().Err(err).Msg("notifier: не удалось подтвердить событие")
		}
	}
}
