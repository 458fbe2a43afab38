package domain

import (
	"context"
	"errors"
	"time"
)

// ErrUserNotFound возвращается хранилищем и каталогом, если аккаунт не существует.
var ErrUserNotFound = errors.New("user not found")

// ErrUserSuspended возвращается каталогом для заблокированного аккаунта.
var ErrUserSuspended = errors.New("user suspended")

// ErrRateLimited возвращается каталогом при исчерпании квоты запросов.
var ErrRateLimited = errors.New("rate limit exceeded")

// ErrBaselineNotFound возвращается, если у пользователя ещё нет базового снимка.
var ErrBaselineNotFound = errors.New("baseline not found")

// ErrSnapshotNotFound возвращается, если тело снимка отсутствует в blob-хранилище
// (например, истёк срок хранения).
var ErrSnapshotNotFound = errors.New("snapshot not found")

// UserRepo управляет пользователями.
type UserRepo interface {
	GetUser(ctx context.Context, id string) (User, error)
	// RegisterUser создаёт либо обновляет пользователя по профилю входа и
	// возвращает признак первого появления.
	RegisterUser(ctx context.Context, u User) (User, bool, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id string) error
	// ListUsers возвращает страницу пользователей с ID строго больше afterID.
	ListUsers(ctx context.Context, afterID string, limit int) ([]User, error)
}

// SnapshotRepo хранит метаданные выгрузок.
type SnapshotRepo interface {
	CreateSnapshot(ctx context.Context, s Snapshot) error
	DeleteExpiredSnapshots(ctx context.Context) (int64, error)
}

// BaselineRepo управляет указателем базового снимка.
type BaselineRepo interface {
	GetBaseline(ctx context.Context, userID string) (Baseline, error)
	// AdvanceBaseline переводит указатель на newKey условной записью: запись
	// проходит, только если текущее значение совпадает с expectedKey
	// (пустой expectedKey означает отсутствие указателя). Возвращает false
	// без ошибки, если запись проиграла гонку.
	AdvanceBaseline(ctx context.Context, userID, expectedKey, newKey string, takenAt time.Time) (bool, error)
}

// EventRepo хранит события переходов.
type EventRepo interface {
	// CreateFollowerEvent идемпотентно сохраняет событие и возвращает,
	// была ли строка записана впервые.
	CreateFollowerEvent(ctx context.Context, e FollowerEvent) (bool, error)
	LatestFollowerEvents(ctx context.Context, userID string, limit int) ([]FollowerEvent, error)
	DeleteExpiredEvents(ctx context.Context) (int64, error)
}

// DirectoryPage — одна страница перечисления подписчиков.
type DirectoryPage struct {
	Followers  []Follower
	NextCursor string
	Total      int
}

// Directory — внешний каталог аккаунтов.
type Directory interface {
	// FollowersPage возвращает страницу подписчиков; пустой NextCursor
	// означает конец перечисления.
	FollowersPage(ctx context.Context, handle, cursor string) (DirectoryPage, error)
	// UserByID возвращает актуальные атрибуты аккаунта либо
	// ErrUserNotFound / ErrUserSuspended.
	UserByID(ctx context.Context, id string) (Follower, error)
}

// FetchProgress — сохранённый прогресс незавершённой выгрузки.
type FetchProgress struct {
	Cursor    string     `json:"cursor"`
	Pages     int        `json:"pages"`
	Collected []Follower `json:"collected"`
}

// BlobStore хранит тела снимков и прогресс выгрузок.
type BlobStore interface {
	PutSnapshot(ctx context.Context, key string, followers []Follower, ttl time.Duration) error
	GetSnapshot(ctx context.Context, key string) ([]Follower, error)
	SaveFetchProgress(ctx context.Context, userID string, p FetchProgress, ttl time.Duration) error
	// LoadFetchProgress возвращает прогресс и признак его наличия.
	LoadFetchProgress(ctx context.Context, userID string) (FetchProgress, bool, error)
	DeleteFetchProgress(ctx context.Context, userID string) error
}
