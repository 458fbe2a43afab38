package domain

import (
	"context"
	"time"
)

// FetchJob — задание на выгрузку полного списка подписчиков пользователя.
type FetchJob struct {
	ID          string    `json:"job_id"`
	UserID      string    `json:"user_id"`
	Handle      string    `json:"handle"`
	Attempt     int       `json:"attempt"`
	RequestedAt time.Time `json:"requested_at"`
}

// DiffJob — сигнал о завершённой выгрузке для расчёта диффа.
// PrevKey пуст при самой первой выгрузке. FetchFailed означает, что выгрузка
// провалилась и диффа быть не должно: пустой список и отсутствующий список —
// разные вещи.
type DiffJob struct {
	ID             string    `json:"job_id"`
	UserID         string    `json:"user_id"`
	NewKey         string    `json:"new_key,omitempty"`
	NewTakenAt     time.Time `json:"new_taken_at"`
	PrevKey        string    `json:"prev_key,omitempty"`
	TotalFollowers int       `json:"total_followers"`
	FetchFailed    bool      `json:"fetch_failed,omitempty"`
	Attempt        int       `json:"attempt"`
}

// AckFunc подтверждает обработку сообщения либо возвращает его в очередь.
type AckFunc func(success bool) error

// FetchQueue — очередь заданий на выгрузку.
type FetchQueue interface {
	Enqueue(ctx context.Context, job FetchJob) error
	Receive(ctx context.Context) (FetchJob, AckFunc, error)
}

// DiffQueue — очередь сигналов о завершённых выгрузках.
type DiffQueue interface {
	Enqueue(ctx context.Context, job DiffJob) error
	Receive(ctx context.Context) (DiffJob, AckFunc, error)
}

// BusEventKind перечисляет виды событий шины.
type BusEventKind string

const (
	// BusEventFollowerChange — зафиксирован переход подписчика.
	BusEventFollowerChange BusEventKind = "Twitter Follower Change"
	// BusEventUserSignup — первый вход нового пользователя.
	BusEventUserSignup BusEventKind = "New User Signup"
)

// UserSignup — полезная нагрузка события регистрации.
type UserSignup struct {
	UserID string `json:"userId"`
	Handle string `json:"handle"`
}

// BusEvent — размеченное объединение событий шины: заполнено ровно одно из
// полей полезной нагрузки, соответствующее Kind.
type BusEvent struct {
	Kind    BusEventKind   `json:"kind"`
	Change  *FollowerEvent `json:"change,omitempty"`
	Signup  *UserSignup    `json:"signup,omitempty"`
	Attempt int            `json:"attempt"`
	SentAt  time.Time      `json:"sent_at"`
}

// EventBus — шина событий с доставкой как минимум один раз.
type EventBus interface {
	Publish(ctx context.Context, event BusEvent) error
	Receive(ctx context.Context, kind BusEventKind) (BusEvent, AckFunc, error)
}
