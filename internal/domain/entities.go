package domain

import (
	"fmt"
	"strings"
	"time"
)

// FollowerState описывает направление перехода подписчика.
type FollowerState string

// FollowerStateReason описывает причину перехода.
type FollowerStateReason string

const (
	// FollowerStateNew — аккаунт появился в списке подписчиков.
	FollowerStateNew FollowerState = "NEW"
	// FollowerStateLost — аккаунт пропал из списка подписчиков.
	FollowerStateLost FollowerState = "LOST"

	// FollowerReasonFollowed — подписчик подписался.
	FollowerReasonFollowed FollowerStateReason = "FOLLOWED"
	// FollowerReasonUnfollowed — подписчик отписался сам.
	FollowerReasonUnfollowed FollowerStateReason = "UNFOLLOWED"
	// FollowerReasonDeleted — аккаунт подписчика удалён в источнике.
	FollowerReasonDeleted FollowerStateReason = "DELETED"
	// FollowerReasonSuspended — аккаунт подписчика заблокирован в источнике.
	FollowerReasonSuspended FollowerStateReason = "SUSPENDED"
)

// Follower содержит публичные атрибуты подписчика на момент выгрузки.
type Follower struct {
	ID              string `json:"id"`
	Handle          string `json:"handle,omitempty"`
	Name            string `json:"name,omitempty"`
	Location        string `json:"location,omitempty"`
	Bio             string `json:"bio,omitempty"`
	ProfileImageURL string `json:"profileImageUrl,omitempty"`
	Protected       bool   `json:"protected"`
	TotalFollowers  int    `json:"totalFollowers"`
}

// NotificationConfig хранит настройки доставки уведомлений пользователя.
type NotificationConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhookUrl,omitempty"`
	Channel    string `json:"channel,omitempty"`
}

// User описывает отслеживаемого пользователя.
type User struct {
	ID              string             `json:"id"`
	Handle          string             `json:"handle"`
	Name            string             `json:"name"`
	Location        string             `json:"location,omitempty"`
	Bio             string             `json:"bio,omitempty"`
	ProfileImageURL string             `json:"profileImageUrl,omitempty"`
	Notify          NotificationConfig `json:"notify"`
	IgnoreFollowers []string           `json:"ignoreFollowers,omitempty"`
	IDP             string             `json:"-"`
	LoginsCount     int64              `json:"-"`
	LastLogin       time.Time          `json:"lastLogin"`
	CreatedAt       time.Time          `json:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt"`
}

// IgnoresFollower сообщает, входит ли подписчик в список исключений.
// Совпадение ищется по ID либо по handle (с необязательным префиксом «@»).
func (u *User) IgnoresFollower(id, handle string) bool {
	for _, ignore := range u.IgnoreFollowers {
		if ignore == id {
			return true
		}
		if handle != "" && strings.TrimPrefix(ignore, "@") == handle {
			return true
		}
	}
	return false
}

// UserUpdate описывает изменяемые пользователем поля. nil — оставить как есть.
type UserUpdate struct {
	Notify          *NotificationConfig `json:"notify,omitempty"`
	IgnoreFollowers *[]string           `json:"ignoreFollowers,omitempty"`
}

// SnapshotStatus описывает итог выгрузки подписчиков.
type SnapshotStatus string

const (
	// SnapshotStatusOK — выгрузка завершилась полным списком.
	SnapshotStatusOK SnapshotStatus = "ok"
	// SnapshotStatusFailed — источник недоступен, списка нет.
	SnapshotStatusFailed SnapshotStatus = "failed"
)

// Snapshot описывает метаданные одной выгрузки подписчиков.
// Тело выгрузки лежит в blob-хранилище по BlobKey.
type Snapshot struct {
	UserID         string
	BlobKey        string
	TotalFollowers int
	Status         SnapshotStatus
	TakenAt        time.Time
	ExpiresAt      time.Time
}

// Baseline указывает на снимок, относительно которого считается следующий дифф.
type Baseline struct {
	UserID    string
	BlobKey   string
	TakenAt   time.Time
	UpdatedAt time.Time
}

// FollowerEvent фиксирует один переход подписчика.
type FollowerEvent struct {
	ID             string              `json:"id"`
	UserID         string              `json:"userId"`
	Follower       Follower            `json:"follower"`
	State          FollowerState       `json:"followerState"`
	StateReason    FollowerStateReason `json:"followerStateReason"`
	TotalFollowers int                 `json:"totalFollowers"`
	CreatedAt      time.Time           `json:"createdAt"`
	ExpiresAt      time.Time           `json:"-"`
}

// Validate проверяет связку состояния и причины.
func (e *FollowerEvent) Validate() error {
	switch e.State {
	case FollowerStateNew:
		if e.StateReason != FollowerReasonFollowed {
			return fmt.Errorf("event %s: state NEW requires reason FOLLOWED, got %s", e.ID, e.StateReason)
		}
	case FollowerStateLost:
		switch e.StateReason {
		case FollowerReasonUnfollowed, FollowerReasonDeleted, FollowerReasonSuspended:
		default:
			return fmt.Errorf("event %s: state LOST requires reason UNFOLLOWED, DELETED or SUSPENDED, got %s", e.ID, e.StateReason)
		}
	default:
		return fmt.Errorf("event %s: unknown state %q", e.ID, e.State)
	}
	if e.UserID == "" {
		return fmt.Errorf("event %s: empty user id", e.ID)
	}
	return nil
}
