package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	FetchPagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fetch_pages_total",
		Help: "Количество выгруженных страниц подписчиков",
	})
	FetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fetch_errors_total",
		Help: "Ошибки выгрузки списков подписчиков",
	})
	FetchContinuations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fetch_continuations_total",
		Help: "Выгрузки, продолженные в следующем вызове",
	})
	DiffSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "diff_seconds",
		Help:    "Время расчёта диффа снимков",
		Buckets: prometheus.DefBuckets,
	})
	DiffEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "diff_events_total",
		Help: "Количество зафиксированных переходов подписчиков",
	}, []string{"state", "reason"})
	BaselineConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "baseline_conflicts_total",
		Help: "Проигранные условные записи указателя базового снимка",
	})
	NotifyDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_deliveries_total",
		Help: "Доставки уведомлений по вебхуку",
	}, []string{"status"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: prometheus.DefBuckets,
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		FetchPagesTotal,
		FetchErrors,
		FetchContinuations,
		DiffSeconds,
		DiffEventsTotal,
		BaselineConflicts,
		NotifyDeliveries,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveFollowerEvent увеличивает счётчик переходов.
func ObserveFollowerEvent(state, reason string) {
	DiffEventsTotal.WithLabelValues(state, reason).Inc()
}

// ObserveNotifyDelivery фиксирует исход доставки уведомления.
func ObserveNotifyDelivery(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NotifyDeliveries.WithLabelValues(status).Inc()
}
