package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

// Message — отрисованное уведомление.
type Message struct {
	Header string
	Text   string
	Footer string
}

// Delivery — уведомление вместе с адресом доставки.
type Delivery struct {
	WebhookURL string
	Channel    string
	ImageURL   string
	Message    Message
}

// Sender доставляет уведомление в настроенный канал.
type Sender interface {
	Send(ctx context.Context, d Delivery) error
}

// Service обрабатывает события переходов и доставляет уведомления.
type Service struct {
	users  domain.UserRepo
	sender Sender
	log    zerolog.Logger
}

// NewService создаёт сервис уведомлений.
func NewService(users domain.UserRepo, sender Sender, logger zerolog.Logger) *Service {
	return &Service{users: users, sender: sender, log: logger}
}

const sep = "\n\n"

// Render строит текст уведомления. Функция чистая: повторный вызов для того же
// события даёт тот же результат, что делает доставку безопасной при повторах.
func Render(event domain.FollowerEvent, user domain.User) Message {
	var (
		follower = event.Follower
		p        = message.NewPrinter(language.English)
	)

	var header string
	switch event.State {
	case domain.FollowerStateNew:
		header = "New follower"
	case domain.FollowerStateLost:
		header = "Lost follower"
	}

	var text string
	switch event.StateReason {
	case domain.FollowerReasonFollowed:
		text = p.Sprintf("%s (<https://twitter.com/%s|@%s>) followed you :tada:", follower.Name, follower.Handle, follower.Handle)
	case domain.FollowerReasonUnfollowed:
		text = p.Sprintf("%s (<https://twitter.com/%s|@%s>) unfollowed you", follower.Name, follower.Handle, follower.Handle)
	case domain.FollowerReasonDeleted:
		text = p.Sprintf("User with ID %s was deleted", follower.ID)
	case domain.FollowerReasonSuspended:
		text = p.Sprintf("User with ID %s was suspended", follower.ID)
	}

	text += sep
	if follower.Bio != "" {
		text += p.Sprintf("*Bio:* %s%s", follower.Bio, sep)
	}
	if follower.Location != "" {
		text += p.Sprintf("*Location:* %s%s", follower.Location, sep)
	}
	if follower.Name != "" {
		text += p.Sprintf("*Followers:* %d%s", follower.TotalFollowers, sep)
	}

	footer := p.Sprintf("You (@%s) now have %d followers", user.Handle, event.TotalFollowers)

	return Message{Header: header, Text: text, Footer: footer}
}

// Notify доставляет уведомление о событии владельцу. Отключённые или
// незаполненные настройки — не ошибка: событие просто подтверждается без
// доставки.
func (s *Service) Notify(ctx context.Context, event domain.FollowerEvent) error {
	user, err := s.users.GetUser(ctx, event.UserID)
	if errors.Is(err, domain.ErrUserNotFound) {
		s.log.Warn().Str("user", event.UserID).Str("event", event.ID).Msg("notify: пользователь удалён, уведомление пропущено")
		return nil
	}
	if err != nil {
		return fmt.Errorf("получение пользователя: %w", err)
	}

	if !user.Notify.Enabled || user.Notify.WebhookURL == "" {
		s.log.Debug().Str("user", user.ID).Str("event", event.ID).Msg("notify: уведомления отключены")
		return nil
	}

	imageURL := ""
	if event.Follower.ProfileImageURL != "" {
		imageURL = strings.Replace(event.Follower.ProfileImageURL, "_normal.", "_400x400.", 1)
	}

	err = s.sender.Send(ctx, Delivery{
		WebhookURL: user.Notify.WebhookURL,
		Channel:    user.Notify.Channel,
		ImageURL:   imageURL,
		Message:    Render(event, user),
	})
	metrics.ObserveNotifyDelivery(err)
	if err != nil {
		return fmt.Errorf("доставка уведомления: %w", err)
	}
	return nil
}
