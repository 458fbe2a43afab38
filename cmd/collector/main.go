package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"follower-radar/internal/adapters/directory"
	"follower-radar/internal/adapters/repo"
	"follower-radar/internal/domain"
	"follower-radar/internal/infra/blob"
	"follower-radar/internal/infra/bus"
	"follower-radar/internal/infra/config"
	"follower-radar/internal/infra/db"
	applog "follower-radar/internal/infra/log"
	"follower-radar/internal/infra/metrics"
	diffusecase "follower-radar/internal/usecase/diff"
	fetchusecase "follower-radar/internal/usecase/fetch"
)

const maxDeliveryAttempts = 5

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "collector").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, logger.With().Str("component", "metrics").Logger(), cfg.MetricsAddr)

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.RedisAddr == "" {
		logger.Fatal().Msg("collector: не указан адрес Redis (REDIS_ADDR)")
	}
	blobStore := blob.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("collector: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	busClient, err := bus.NewClient(cfg.RabbitURL, bus.Topology{
		Exchange:    cfg.Bus.Exchange,
		FetchQueue:  cfg.Queues.Fetch,
		DiffQueue:   cfg.Queues.Diff,
		NotifyQueue: cfg.Bus.NotifyQueue,
		SignupQueue: cfg.Bus.SignupQueue,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("collector: не удалось подключиться к RabbitMQ")
	}
	defer busClient.Close()

	if cfg.Directory.BaseURL == "" {
		logger.Fatal().Msg("collector: не указан адрес каталога (DIRECTORY_BASE_URL)")
	}
	dir := directory.NewClient(directory.Config{
		BaseURL: cfg.Directory.BaseURL,
		Token:   cfg.Directory.Token,
		RPS:     cfg.Directory.RPS,
		Burst:   cfg.Directory.Burst,
	})

	fetcher := fetchusecase.NewService(fetchusecase.Params{
		Users:       repoAdapter,
		Snapshots:   repoAdapter,
		Baselines:   repoAdapter,
		Blobs:       blobStore,
		Directory:   dir,
		FetchQueue:  busClient.FetchQueue(),
		DiffQueue:   busClient.DiffQueue(),
		PageBudget:  cfg.Fetch.PageBudget,
		SnapshotTTL: cfg.Retention.Snapshot,
		ProgressTTL: cfg.Fetch.ProgressTTL,
		Log:         logger,
	})

	differ := diffusecase.NewService(repoAdapter, repoAdapter, repoAdapter, blobStore, dir, busClient.EventBus(), cfg.Retention.Event, logger)

	w := &worker{
		log:        logger,
		fetchQueue: busClient.FetchQueue(),
		diffQueue:  busClient.DiffQueue(),
		bus:        busClient.EventBus(),
		fetcher:    fetcher,
		differ:     differ,
	}

	logger.Info().Msg("collector: запуск обработки очередей")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); w.runFetch(ctx) }()
	go func() { defer wg.Done(); w.runDiff(ctx) }()
	go func() { defer wg.Done(); w.runSignup(ctx) }()
	wg.Wait()

	logger.Info().Msg("collector: остановлен")
}

type worker struct {
	log        zerolog.Logger
	fetchQueue domain.FetchQueue
	diffQueue  domain.DiffQueue
	bus        domain.EventBus
	fetcher    *fetchusecase.Service
	differ     *diffusecase.Service
}

// runFetch обрабатывает очередь заданий на выгрузку.
func (w *worker) runFetch(ctx context.Context) {
	for {
		job, ack, err := w.fetchQueue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("collector: ошибка чтения очереди выгрузок")
			time.Sleep(time.Second)
			continue
		}
		jobLog := w.log.With().Str("job_id", job.ID).Str("user", job.UserID).Int("attempt", job.Attempt).Logger()

		if err := w.fetcher.Process(ctx, job); err != nil {
			jobLog.Error().Err(err).Msg("collector: выгрузка завершилась ошибкой")
			w.retry(ctx, ack, jobLog, job.Attempt, func(attempt int) error {
				job.Attempt = attempt
				return w.fetchQueue.Enqueue(ctx, job)
			})
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("collector: не удалось подтвердить задание")
		}
	}
}

// runDiff обрабатывает сигналы о завершённых выгрузках.
func (w *worker) runDiff(ctx context.Context) {
	for {
		job, ack, err := w.diffQueue.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("collector: ошибка чтения очереди диффов")
			time.Sleep(time.Second)
			continue
		}
		jobLog := w.log.With().Str("job_id", job.ID).Str("user", job.UserID).Int("attempt", job.Attempt).Logger()

		if err := w.differ.Process(ctx, job); err != nil {
			jobLog.Error().Err(err).Msg("collector: дифф завершился ошибкой")
			w.retry(ctx, ack, jobLog, job.Attempt, func(attempt int) error {
				job.Attempt = attempt
				return w.diffQueue.Enqueue(ctx, job)
			})
			continue
		}
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("collector: не удалось подтвердить дифф")
		}
	}
}

// runSignup ставит первую выгрузку новому пользователю сразу после регистрации,
// не дожидаясь планового обхода.
func (w *worker) runSignup(ctx context.Context) {
	for {
		event, ack, err := w.bus.Receive(ctx, domain.BusEventUserSignup)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			w.log.Error().Err(err).Msg("collector: ошибка чтения событий регистрации")
			time.Sleep(time.Second)
			continue
		}
		if event.Signup == nil {
			w.log.Error().Msg("collector: событие регистрации без полезной нагрузки")
			_ = ack(true)
			continue
		}
		job := domain.FetchJob{
			ID:          uuid.NewString(),
			UserID:      event.Signup.UserID,
			Handle:      event.Signup.Handle,
			RequestedAt: time.Now().UTC(),
		}
		if err := w.fetchQueue.Enqueue(ctx, job); err != nil {
			w.log.Error().Err(err).Str("user", job.UserID).Msg("collector: не удалось поставить первую выгрузку")
			_ = ack(false)
			continue
		}
		_ = ack(true)
	}
}

// retry переотправляет задание с увеличенным счётчиком попыток. После
// исчерпания лимита задание подтверждается и отбрасывается: следующий плановый
// обход всё равно поставит свежую выгрузку.
func (w *worker) retry(ctx context.Context, ack domain.AckFunc, jobLog zerolog.Logger, attempt int, requeue func(attempt int) error) {
	if attempt+1 >= maxDeliveryAttempts {
		jobLog.Error().Msg("collector: достигнут предел попыток, задание отброшено")
		if err := ack(true); err != nil {
			jobLog.Error().Err(err).Msg("collector: не удалось подтвердить отброшенное задание")
		}
		return
	}
	if err := requeue(attempt + 1); err != nil {
		jobLog.Error().Err(err).Msg("collector: не удалось переотправить задание, возврат в очередь")
		if ackErr := ack(false); ackErr != nil {
			jobLog.Error().Err(ackErr).Msg("collector: не удалось вернуть задание в очередь")
		}
		return
	}
	if err := ack(true); err != nil {
		jobLog.Error().Err(err).Msg("collector: не удалось подтвердить переотправленное задание")
	}
}
