package diff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

// Service считает дифф двух снимков, классифицирует переходы и публикует
// события.
type Service struct {
	users     domain.UserRepo
	events    domain.EventRepo
	baselines domain.BaselineRepo
	blobs     domain.BlobStore
	directory domain.Directory
	bus       domain.EventBus
	eventTTL  time.Duration
	log       zerolog.Logger
}

// NewService создаёт сервис диффа.
func NewService(users domain.UserRepo, events domain.EventRepo, baselines domain.BaselineRepo, blobs domain.BlobStore, directory domain.Directory, bus domain.EventBus, eventTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		users:     users,
		events:    events,
		baselines: baselines,
		blobs:     blobs,
		directory: directory,
		bus:       bus,
		eventTTL:  eventTTL,
		log:       logger,
	}
}

// Process обрабатывает сигнал о завершённой выгрузке. Указатель базового
// снимка продвигается только после успешного сохранения всех событий, поэтому
// упавшая посередине обработка при повторе считается заново против того же
// предыдущего снимка.
func (s *Service) Process(ctx context.Context, job domain.DiffJob) error {
	jobLog := s.log.With().Str("user", job.UserID).Str("new_key", job.NewKey).Logger()

	if job.FetchFailed {
		// Провал выгрузки — не пустой список. Дифф против него дал бы
		// массовый ложный UNFOLLOWED.
		jobLog.Warn().Msg("diff: выгрузка провалилась, дифф пропущен")
		return nil
	}

	if job.PrevKey == job.NewKey {
		jobLog.Debug().Msg("diff: список подписчиков не изменился")
		return nil
	}

	user, err := s.users.GetUser(ctx, job.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		jobLog.Warn().Msg("diff: пользователь удалён, дифф пропущен")
		return nil
	}
	if err != nil {
		return fmt.Errorf("получение пользователя: %w", err)
	}

	if job.PrevKey == "" {
		// Самая первая выгрузка: сравнивать не с чем, новый снимок просто
		// становится базой.
		return s.advance(ctx, job, jobLog)
	}

	prev, err := s.blobs.GetSnapshot(ctx, job.PrevKey)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		jobLog.Warn().Str("prev_key", job.PrevKey).Msg("diff: предыдущий снимок истёк, новый становится базой")
		return s.advance(ctx, job, jobLog)
	}
	if err != nil {
		return fmt.Errorf("загрузка предыдущего снимка: %w", err)
	}

	next, err := s.blobs.GetSnapshot(ctx, job.NewKey)
	if err != nil {
		return fmt.Errorf("загрузка нового снимка: %w", err)
	}

	start := time.Now()
	events, err := s.deriveEvents(ctx, &user, job, prev, next)
	metrics.DiffSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}

	for i := range events {
		event := events[i]
		inserted, err := s.events.CreateFollowerEvent(ctx, event)
		if err != nil {
			return fmt.Errorf("сохранение события %s: %w", event.ID, err)
		}
		if inserted {
			metrics.ObserveFollowerEvent(string(event.State), string(event.StateReason))
		}
		if err := s.bus.Publish(ctx, domain.BusEvent{Kind: domain.BusEventFollowerChange, Change: &event}); err != nil {
			return fmt.Errorf("публикация события %s: %w", event.ID, err)
		}
	}

	jobLog.Info().Int("events", len(events)).Msg("diff: дифф рассчитан")

	return s.advance(ctx, job, jobLog)
}

func (s *Service) advance(ctx context.Context, job domain.DiffJob, jobLog zerolog.Logger) error {
	advanced, err := s.baselines.AdvanceBaseline(ctx, job.UserID, job.PrevKey, job.NewKey, job.NewTakenAt)
	if err != nil {
		return fmt.Errorf("продвижение базового снимка: %w", err)
	}
	if !advanced {
		// Конкурирующий дифф уже продвинул указатель. Наши события
		// остаются валидными, продвижение просто отбрасывается.
		metrics.BaselineConflicts.Inc()
		jobLog.Warn().Msg("diff: проиграна гонка за указатель базового снимка")
	}
	return nil
}

// deriveEvents строит события по диффу. Подписчики из списка исключений не
// порождают событий вовсе. Причина потери определяется контрольным запросом в
// каталог: аккаунта нет — DELETED, заблокирован — SUSPENDED, жив и просто
// отсутствует в новом списке — UNFOLLOWED.
func (s *Service) deriveEvents(ctx context.Context, user *domain.User, job domain.DiffJob, prev, next []domain.Follower) ([]domain.FollowerEvent, error) {
	added, removed := diffFollowers(prev, next)

	events := make([]domain.FollowerEvent, 0, len(added)+len(removed))
	now := time.Now().UTC()

	for _, follower := range added {
		if user.IgnoresFollower(follower.ID, follower.Handle) {
			s.log.Debug().Str("user", user.ID).Str("follower", follower.ID).Msg("diff: новый подписчик в списке исключений")
			continue
		}
		fresh, err := s.directory.UserByID(ctx, follower.ID)
		if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrUserSuspended) {
			// Подписчик успел пропасть между снимком и проверкой.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("проверка нового подписчика %s: %w", follower.ID, err)
		}
		events = append(events, domain.FollowerEvent{
			ID:             EventID(user.ID, follower.ID, job.NewTakenAt, domain.FollowerStateNew),
			UserID:         user.ID,
			Follower:       fresh,
			State:          domain.FollowerStateNew,
			StateReason:    domain.FollowerReasonFollowed,
			TotalFollowers: job.TotalFollowers,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.eventTTL),
		})
	}

	for _, follower := range removed {
		if user.IgnoresFollower(follower.ID, follower.Handle) {
			s.log.Debug().Str("user", user.ID).Str("follower", follower.ID).Msg("diff: потерянный подписчик в списке исключений")
			continue
		}

		attrs := follower
		reason := domain.FollowerReasonUnfollowed
		fresh, err := s.directory.UserByID(ctx, follower.ID)
		switch {
		case errors.Is(err, domain.ErrUserNotFound):
			reason = domain.FollowerReasonDeleted
		case errors.Is(err, domain.ErrUserSuspended):
			reason = domain.FollowerReasonSuspended
		case err != nil:
			return nil, fmt.Errorf("проверка потерянного подписчика %s: %w", follower.ID, err)
		default:
			attrs = fresh
		}

		events = append(events, domain.FollowerEvent{
			ID:             EventID(user.ID, follower.ID, job.NewTakenAt, domain.FollowerStateLost),
			UserID:         user.ID,
			Follower:       attrs,
			State:          domain.FollowerStateLost,
			StateReason:    reason,
			TotalFollowers: job.TotalFollowers,
			CreatedAt:      now,
			ExpiresAt:      now.Add(s.eventTTL),
		})
	}

	return events, nil
}
