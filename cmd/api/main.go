package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"follower-radar/internal/adapters/repo"
	"follower-radar/internal/domain"
	"follower-radar/internal/infra/bus"
	"follower-radar/internal/infra/config"
	"follower-radar/internal/infra/db"
	httpinfra "follower-radar/internal/infra/http"
	applog "follower-radar/internal/infra/log"
	"follower-radar/internal/infra/metrics"
	"follower-radar/internal/usecase/access"
)

const (
	defaultEventsLimit = 50
	maxEventsLimit     = 200
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv).With().Str("component", "api").Logger()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()

	repoAdapter := repo.NewPostgres(pool)

	if cfg.RabbitURL == "" {
		logger.Fatal().Msg("api: не указан адрес RabbitMQ (RABBITMQ_URL)")
	}
	busClient, err := bus.NewClient(cfg.RabbitURL, bus.Topology{
		Exchange:    cfg.Bus.Exchange,
		FetchQueue:  cfg.Queues.Fetch,
		DiffQueue:   cfg.Queues.Diff,
		NotifyQueue: cfg.Bus.NotifyQueue,
		SignupQueue: cfg.Bus.SignupQueue,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не удалось подключиться к RabbitMQ")
	}
	defer busClient.Close()
	eventBus := busClient.EventBus()

	if cfg.JWTSecret == "" {
		logger.Fatal().Msg("api: не указан секрет токенов (JWT_SECRET)")
	}

	srv := httpinfra.NewServer(logger)

	srv.Router.Group(func(protected chi.Router) {
		protected.Use(httpinfra.BearerAuthMiddleware(cfg.JWTSecret))

		// authorize сверяет subject токена с целевым пользователем из пути.
		// Любой запрос к чужому пользователю отклоняется до обращения к БД.
		authorize := func(w http.ResponseWriter, r *http.Request) (string, bool) {
			id, err := access.Authorize(httpinfra.Subject(r), chi.URLParam(r, "id"))
			if err != nil {
				httpinfra.WriteError(w, http.StatusForbidden, err)
				return "", false
			}
			return id, true
		}

		protected.Get("/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := authorize(w, r)
			if !ok {
				return
			}
			user, err := repoAdapter.GetUser(r.Context(), id)
			if errors.Is(err, domain.ErrUserNotFound) {
				httpinfra.WriteError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				logger.Error().Err(err).Str("user", id).Msg("api: не удалось получить пользователя")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, user)
		})

		protected.Post("/v1/users/{id}/register", func(w http.ResponseWriter, r *http.Request) {
			id, ok := authorize(w, r)
			if !ok {
				return
			}
			defer r.Body.Close()
			var req registerRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
				return
			}
			if req.Handle == "" {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("handle is required"))
				return
			}
			user, created, err := repoAdapter.RegisterUser(r.Context(), domain.User{
				ID:              id,
				Handle:          req.Handle,
				Name:            req.Name,
				Location:        req.Location,
				Bio:             req.Bio,
				ProfileImageURL: req.ProfileImageURL,
				IDP:             httpinfra.Subject(r),
			})
			if err != nil {
				logger.Error().Err(err).Str("user", id).Msg("api: не удалось зарегистрировать пользователя")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			if created {
				// Первая выгрузка ставится немедленно, не дожидаясь
				// планового обхода: без неё у пользователя нет базовой точки.
				signupErr := eventBus.Publish(r.Context(), domain.BusEvent{
					Kind:   domain.BusEventUserSignup,
					Signup: &domain.UserSignup{UserID: user.ID, Handle: user.Handle},
					SentAt: time.Now().UTC(),
				})
				if signupErr != nil {
					logger.Error().Err(signupErr).Str("user", user.ID).Msg("api: не удалось опубликовать событие регистрации")
				}
			}
			status := http.StatusOK
			if created {
				status = http.StatusCreated
			}
			httpinfra.WriteJSON(w, status, user)
		})

		protected.Put("/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := authorize(w, r)
			if !ok {
				return
			}
			defer r.Body.Close()
			var upd domain.UserUpdate
			if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
				httpinfra.WriteError(w, http.StatusBadRequest, errors.New("invalid request body"))
				return
			}
			user, err := repoAdapter.UpdateUser(r.Context(), id, upd)
			if errors.Is(err, domain.ErrUserNotFound) {
				httpinfra.WriteError(w, http.StatusNotFound, err)
				return
			}
			if err != nil {
				logger.Error().Err(err).Str("user", id).Msg("api: не удалось обновить пользователя")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, user)
		})

		protected.Delete("/v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, ok := authorize(w, r)
			if !ok {
				return
			}
			if err := repoAdapter.DeleteUser(r.Context(), id); err != nil {
				logger.Error().Err(err).Str("user", id).Msg("api: не удалось удалить пользователя")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			w.WriteHeader(http.StatusNoContent)
		})

		protected.Get("/v1/users/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			id, ok := authorize(w, r)
			if !ok {
				return
			}
			limit := defaultEventsLimit
			if raw := r.URL.Query().Get("limit"); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed <= 0 {
					httpinfra.WriteError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
					return
				}
				limit = parsed
			}
			if limit > maxEventsLimit {
				limit = maxEventsLimit
			}
			events, err := repoAdapter.LatestFollowerEvents(r.Context(), id, limit)
			if err != nil {
				logger.Error().Err(err).Str("user", id).Msg("api: не удалось получить события")
				httpinfra.WriteError(w, http.StatusInternalServerError, errors.New("internal error"))
				return
			}
			httpinfra.WriteJSON(w, http.StatusOK, eventsResponse{Events: events, Count: len(events)})
		})
	})

	go func() {
		<-ctx.Done()
		logger.Info().Msg("api: остановка")
	}()

	if err := srv.Start(":" + strconv.Itoa(cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("api: сервер завершился с ошибкой")
	}
}

type registerRequest struct {
	Handle          string `json:"handle"`
	Name            string `json:"name"`
	Location        string `json:"location,omitempty"`
	Bio             string `json:"bio,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
}

type eventsResponse struct {
	Events []domain.FollowerEvent `json:"events"`
	Count  int                    `json:"count"`
}
