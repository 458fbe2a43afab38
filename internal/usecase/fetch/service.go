package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

// Service выгружает полный список подписчиков пользователя.
//
// Каталог постраничный и лимитированный, а у одного вызова есть жёсткий
// бюджет страниц: если аккаунт не помещается в бюджет, прогресс сохраняется и
// в очередь ставится продолжение — список никогда не обрезается молча.
type Service struct {
	users       domain.UserRepo
	snapshots   domain.SnapshotRepo
	baselines   domain.BaselineRepo
	blobs       domain.BlobStore
	directory   domain.Directory
	fetchQueue  domain.FetchQueue
	diffQueue   domain.DiffQueue
	pageBudget  int
	snapshotTTL time.Duration
	progressTTL time.Duration
	log         zerolog.Logger
}

// Params собирает зависимости сервиса выгрузки.
type Params struct {
	Users       domain.UserRepo
	Snapshots   domain.SnapshotRepo
	Baselines   domain.BaselineRepo
	Blobs       domain.BlobStore
	Directory   domain.Directory
	FetchQueue  domain.FetchQueue
	DiffQueue   domain.DiffQueue
	PageBudget  int
	SnapshotTTL time.Duration
	ProgressTTL time.Duration
	Log         zerolog.Logger
}

// NewService создаёт сервис выгрузки.
func NewService(p Params) *Service {
	if p.PageBudget <= 0 {
		p.PageBudget = 15
	}
	return &Service{
		users:       p.Users,
		snapshots:   p.Snapshots,
		baselines:   p.Baselines,
		blobs:       p.Blobs,
		directory:   p.Directory,
		fetchQueue:  p.FetchQueue,
		diffQueue:   p.DiffQueue,
		pageBudget:  p.PageBudget,
		snapshotTTL: p.SnapshotTTL,
		progressTTL: p.ProgressTTL,
		log:         p.Log,
	}
}

// Process выполняет одно задание выгрузки.
func (s *Service) Process(ctx context.Context, job domain.FetchJob) error {
	jobLog := s.log.With().Str("user", job.UserID).Str("handle", job.Handle).Logger()

	user, err := s.users.GetUser(ctx, job.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		jobLog.Warn().Msg("fetch: пользователь удалён, задание пропущено")
		return nil
	}
	if err != nil {
		return fmt.Errorf("получение пользователя: %w", err)
	}

	progress, resumed, err := s.blobs.LoadFetchProgress(ctx, job.UserID)
	if err != nil {
		return fmt.Errorf("загрузка прогресса: %w", err)
	}
	if resumed {
		jobLog.Info().Int("pages", progress.Pages).Int("collected", len(progress.Collected)).Msg("fetch: продолжение незавершённой выгрузки")
	}

	cursor := progress.Cursor
	collected := progress.Collected

	for page := 0; page < s.pageBudget; page++ {
		dirPage, err := s.directory.FollowersPage(ctx, job.Handle, cursor)
		if errors.Is(err, domain.ErrUserNotFound) || errors.Is(err, domain.ErrUserSuspended) {
			// Терминальное, но ожидаемое состояние аккаунта-источника.
			// Фиксируется провальный снимок с явным сигналом для диффа —
			// ни в коем случае не «ноль подписчиков».
			metrics.FetchErrors.Inc()
			jobLog.Warn().Err(err).Msg("fetch: аккаунт-источник недоступен")
			return s.recordFailure(ctx, user)
		}
		if err != nil {
			metrics.FetchErrors.Inc()
			if len(collected) > 0 || cursor != "" {
				if saveErr := s.blobs.SaveFetchProgress(ctx, job.UserID, domain.FetchProgress{
					Cursor:    cursor,
					Pages:     progress.Pages,
					Collected: collected,
				}, s.progressTTL); saveErr != nil {
					jobLog.Error().Err(saveErr).Msg("fetch: не удалось сохранить прогресс")
				}
			}
			return fmt.Errorf("страница подписчиков: %w", err)
		}

		metrics.FetchPagesTotal.Inc()
		progress.Pages++
		collected = append(collected, dirPage.Followers...)
		cursor = dirPage.NextCursor
		if cursor == "" {
			return s.finalize(ctx, user, collected, jobLog)
		}
	}

	// Бюджет вызова исчерпан, страницы ещё остались.
	if err := s.blobs.SaveFetchProgress(ctx, job.UserID, domain.FetchProgress{
		Cursor:    cursor,
		Pages:     progress.Pages,
		Collected: collected,
	}, s.progressTTL); err != nil {
		return fmt.Errorf("сохранение прогресса: %w", err)
	}
	metrics.FetchContinuations.Inc()
	jobLog.Info().Int("pages", progress.Pages).Msg("fetch: бюджет страниц исчерпан, выгрузка продолжится отдельным заданием")

	continuation := job
	continuation.ID = uuid.NewString()
	continuation.RequestedAt = time.Now().UTC()
	if err := s.fetchQueue.Enqueue(ctx, continuation); err != nil {
		return fmt.Errorf("постановка продолжения: %w", err)
	}
	return nil
}

// finalize пишет снимок и сигналит диффу.
func (s *Service) finalize(ctx context.Context, user domain.User, followers []domain.Follower, jobLog zerolog.Logger) error {
	// Устойчивый порядок даёт устойчивый хэш: неизменившийся список
	// подписчиков получает тот же ключ, и дифф обходится без скачивания.
	sort.Slice(followers, func(i, j int) bool { return followers[i].ID < followers[j].ID })

	body, err := json.Marshal(followers)
	if err != nil {
		return fmt.Errorf("кодирование снимка: %w", err)
	}
	digest := sha256.Sum256(body)
	key := fmt.Sprintf("snapshot:%s:%s", user.ID, hex.EncodeToString(digest[:]))

	if err := s.blobs.PutSnapshot(ctx, key, followers, s.snapshotTTL); err != nil {
		return fmt.Errorf("запись снимка: %w", err)
	}

	now := time.Now().UTC()
	if err := s.snapshots.CreateSnapshot(ctx, domain.Snapshot{
		UserID:         user.ID,
		BlobKey:        key,
		TotalFollowers: len(followers),
		Status:         domain.SnapshotStatusOK,
		TakenAt:        now,
		ExpiresAt:      now.Add(s.snapshotTTL),
	}); err != nil {
		return fmt.Errorf("сохранение метаданных снимка: %w", err)
	}

	prevKey := ""
	baseline, err := s.baselines.GetBaseline(ctx, user.ID)
	switch {
	case errors.Is(err, domain.ErrBaselineNotFound):
	case err != nil:
		return fmt.Errorf("получение базового снимка: %w", err)
	default:
		prevKey = baseline.BlobKey
	}

	if err := s.blobs.DeleteFetchProgress(ctx, user.ID); err != nil {
		jobLog.Error().Err(err).Msg("fetch: не удалось удалить прогресс")
	}

	if err := s.diffQueue.Enqueue(ctx, domain.DiffJob{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		NewKey:         key,
		NewTakenAt:     now,
		PrevKey:        prevKey,
		TotalFollowers: len(followers),
	}); err != nil {
		return fmt.Errorf("сигнал диффу: %w", err)
	}

	jobLog.Info().Int("followers", len(followers)).Str("key", key).Msg("fetch: снимок записан")
	return nil
}

// recordFailure фиксирует провал выгрузки без падения конвейера.
func (s *Service) recordFailure(ctx context.Context, user domain.User) error {
	now := time.Now().UTC()
	if err := s.snapshots.CreateSnapshot(ctx, domain.Snapshot{
		UserID:    user.ID,
		Status:    domain.SnapshotStatusFailed,
		TakenAt:   now,
		ExpiresAt: now.Add(s.snapshotTTL),
	}); err != nil {
		return fmt.Errorf("сохранение провального снимка: %w", err)
	}
	if err := s.blobs.DeleteFetchProgress(ctx, user.ID); err != nil {
		s.log.Error().Err(err).Str("user", user.ID).Msg("fetch: не удалось удалить прогресс")
	}
	if err := s.diffQueue.Enqueue(ctx, domain.DiffJob{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		NewTakenAt:  now,
		FetchFailed: true,
	}); err != nil {
		return fmt.Errorf("сигнал диффу о провале: %w", err)
	}
	return nil
}
