package blob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

// RedisStore хранит тела снимков и прогресс выгрузок в Redis с TTL.
type RedisStore struct {
	client *redis.Client
}

var _ domain.BlobStore = (*RedisStore)(nil)

// NewRedis создаёт хранилище.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func progressKey(userID string) string {
	return "fetch:progress:" + userID
}

// PutSnapshot сохраняет тело снимка по ключу.
func (s *RedisStore) PutSnapshot(ctx context.Context, key string, followers []domain.Follower, ttl time.Duration) error {
	body, err := json.Marshal(followers)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	start := time.Now()
	err = s.client.Set(ctx, key, body, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "snapshot_set", "snapshot", start, err)
	if err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

// GetSnapshot возвращает тело снимка.
func (s *RedisStore) GetSnapshot(ctx context.Context, key string) ([]domain.Follower, error) {
	start := time.Now()
	body, err := s.client.Get(ctx, key).Bytes()
	metrics.ObserveNetworkRequest("redis", "snapshot_get", "snapshot", start, err)
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot %s: %w", key, domain.ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var followers []domain.Follower
	if err := json.Unmarshal(body, &followers); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return followers, nil
}

// SaveFetchProgress сохраняет прогресс незавершённой выгрузки.
func (s *RedisStore) SaveFetchProgress(ctx context.Context, userID string, p domain.FetchProgress, ttl time.Duration) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	start := time.Now()
	err = s.client.Set(ctx, progressKey(userID), body, ttl).Err()
	metrics.ObserveNetworkRequest("redis", "progress_set", "progress", start, err)
	return err
}

// LoadFetchProgress возвращает прогресс и признак его наличия.
func (s *RedisStore) LoadFetchProgress(ctx context.Context, userID string) (domain.FetchProgress, bool, error) {
	start := time.Now()
	body, err := s.client.Get(ctx, progressKey(userID)).Bytes()
	metrics.ObserveNetworkRequest("redis", "progress_get", "progress", start, err)
	if errors.Is(err, redis.Nil) {
		return domain.FetchProgress{}, false, nil
	}
	if err != nil {
		return domain.FetchProgress{}, false, fmt.Errorf("load progress: %w", err)
	}
	var p domain.FetchProgress
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.FetchProgress{}, false, fmt.Errorf("decode progress: %w", err)
	}
	return p, true, nil
}

// DeleteFetchProgress удаляет сохранённый прогресс.
func (s *RedisStore) DeleteFetchProgress(ctx context.Context, userID string) error {
	return s.client.Del(ctx, progressKey(userID)).Err()
}
