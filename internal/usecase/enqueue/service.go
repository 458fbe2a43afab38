package enqueue

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"follower-radar/internal/domain"
)

// Service обходит всех зарегистрированных пользователей и ставит по заданию
// выгрузки на каждого.
type Service struct {
	users    domain.UserRepo
	queue    domain.FetchQueue
	pageSize int
	workers  int
	log      zerolog.Logger
}

// NewService создаёт сервис обхода.
func NewService(users domain.UserRepo, queue domain.FetchQueue, pageSize, workers int, logger zerolog.Logger) *Service {
	if pageSize <= 0 {
		pageSize = 100
	}
	if workers <= 0 {
		workers = 8
	}
	return &Service{users: users, queue: queue, pageSize: pageSize, workers: workers, log: logger}
}

// Result — итог одного обхода.
type Result struct {
	Enqueued int
	Failed   int
}

// EnqueueAll постранично перечисляет пользователей и раздаёт задания через
// ограниченный пул. Ошибка постановки одного пользователя не останавливает
// остальных: она считается и логируется, батч продолжается. Ошибка самого
// перечисления возвращается наверх — планировщик повторит на следующем тике.
// Дубликат тика безопасен: дифф идемпотентен по паре снимков.
func (s *Service) EnqueueAll(ctx context.Context) (Result, error) {
	var enqueued, failed atomic.Int64

	afterID := ""
	for {
		users, err := s.users.ListUsers(ctx, afterID, s.pageSize)
		if err != nil {
			return Result{Enqueued: int(enqueued.Load()), Failed: int(failed.Load())},
				fmt.Errorf("выборка пользователей: %w", err)
		}
		if len(users) == 0 {
			break
		}

		p := pool.New().WithMaxGoroutines(s.workers)
		for _, user := range users {
			user := user // go <1.22: переменная цикла общая для итераций
			p.Go(func() {
				job := domain.FetchJob{
					ID:          uuid.NewString(),
					UserID:      user.ID,
					Handle:      user.Handle,
					RequestedAt: time.Now().UTC(),
				}
				if err := s.queue.Enqueue(ctx, job); err != nil {
					failed.Add(1)
					s.log.Error().Err(err).Str("user", user.ID).Msg("enqueue: не удалось поставить задание")
					return
				}
				enqueued.Add(1)
			})
		}
		p.Wait()

		afterID = users[len(users)-1].ID
		if len(users) < s.pageSize {
			break
		}
	}

	return Result{Enqueued: int(enqueued.Load()), Failed: int(failed.Load())}, nil
}
