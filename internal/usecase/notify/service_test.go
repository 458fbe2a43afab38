package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"follower-radar/internal/domain"
)

type stubUsers struct {
	user domain.User
	err  error
}

func (s *stubUsers) GetUser(context.Context, string) (domain.User, error) { return s.user, s.err }
func (s *stubUsers) RegisterUser(_ context.Context, u domain.User) (domain.User, bool, error) {
	return u, false, nil
}
func (s *stubUsers) UpdateUser(context.Context, string, domain.UserUpdate) (domain.User, error) {
	return s.user, nil
}
func (s *stubUsers) DeleteUser(context.Context, string) error { return nil }
func (s *stubUsers) ListUsers(context.Context, string, int) ([]domain.User, error) {
	return []domain.User{s.user}, nil
}

type stubSender struct {
	deliveries []Delivery
	err        error
}

func (s *stubSender) Send(_ context.Context, d Delivery) error {
	if s.err != nil {
		return s.err
	}
	s.deliveries = append(s.deliveries, d)
	return nil
}

func enabledUser() domain.User {
	return domain.User{
		ID:     "u1",
		Handle: "owner",
		Notify: domain.NotificationConfig{Enabled: true, WebhookURL: "https://hooks.example/T/B/x", Channel: "#followers"},
	}
}

func newFollowerEvent() domain.FollowerEvent {
	return domain.FollowerEvent{
		ID:     "e1",
		UserID: "u1",
		Follower: domain.Follower{
			ID:              "f1",
			Handle:          "alice",
			Name:            "Alice",
			Bio:             "gopher",
			Location:        "Berlin",
			ProfileImageURL: "https://img.example/alice_normal.jpg",
			TotalFollowers:  12,
		},
		State:          domain.FollowerStateNew,
		StateReason:    domain.FollowerReasonFollowed,
		TotalFollowers: 1234,
	}
}

func TestNotifyDeliversToConfiguredWebhook(t *testing.T) {
	users := &stubUsers{user: enabledUser()}
	sender := &stubSender{}
	svc := NewService(users, sender, zerolog.Nop())

	if err := svc.Notify(context.Background(), newFollowerEvent()); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(sender.deliveries) != 1 {
		t.Fatalf("ожидали 1 доставку, получили %d", len(sender.deliveries))
	}
	d := sender.deliveries[0]
	if d.WebhookURL != "https://hooks.example/T/B/x" || d.Channel != "#followers" {
		t.Fatalf("доставка ушла не туда: %+v", d)
	}
	if !strings.Contains(d.ImageURL, "_400x400.") {
		t.Fatalf("ожидали увеличенную аватарку, получили %q", d.ImageURL)
	}
}

func TestNotifyDisabledConfigIsNoop(t *testing.T) {
	user := enabledUser()
	user.Notify.Enabled = false
	users := &stubUsers{user: user}
	sender := &stubSender{}
	svc := NewService(users, sender, zerolog.Nop())

	if err := svc.Notify(context.Background(), newFollowerEvent()); err != nil {
		t.Fatalf("отключённые уведомления не ошибка: %v", err)
	}
	if len(sender.deliveries) != 0 {
		t.Fatalf("доставки быть не должно")
	}
}

func TestNotifyEmptyWebhookIsNoop(t *testing.T) {
	user := enabledUser()
	user.Notify.WebhookURL = ""
	users := &stubUsers{user: user}
	sender := &stubSender{}
	svc := NewService(users, sender, zerolog.Nop())

	if err := svc.Notify(context.Background(), newFollowerEvent()); err != nil {
		t.Fatalf("пустой webhook не ошибка: %v", err)
	}
	if len(sender.deliveries) != 0 {
		t.Fatalf("доставки быть не должно")
	}
}

func TestNotifyDeletedUserIsNoop(t *testing.T) {
	users := &stubUsers{err: domain.ErrUserNotFound}
	sender := &stubSender{}
	svc := NewService(users, sender, zerolog.Nop())

	if err := svc.Notify(context.Background(), newFollowerEvent()); err != nil {
		t.Fatalf("удалённый пользователь не ошибка: %v", err)
	}
	if len(sender.deliveries) != 0 {
		t.Fatalf("доставки быть не должно")
	}
}

func TestRenderNewFollower(t *testing.T) {
	msg := Render(newFollowerEvent(), enabledUser())
	if msg.Header != "New follower" {
		t.Fatalf("ожидали заголовок New follower, получили %q", msg.Header)
	}
	if !strings.Contains(msg.Text, "Alice (<https://twitter.com/alice|@alice>) followed you :tada:") {
		t.Fatalf("текст не содержит строку о подписке: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "*Bio:* gopher") || !strings.Contains(msg.Text, "*Location:* Berlin") {
		t.Fatalf("текст не содержит атрибуты подписчика: %q", msg.Text)
	}
	if msg.Footer != "You (@owner) now have 1,234 followers" {
		t.Fatalf("неожиданный футер: %q", msg.Footer)
	}
}

func TestRenderLostReasons(t *testing.T) {
	cases := []struct {
		reason domain.FollowerStateReason
		want   string
	}{
		{domain.FollowerReasonUnfollowed, "Alice (<https://twitter.com/alice|@alice>) unfollowed you"},
		{domain.FollowerReasonDeleted, "User with ID f1 was deleted"},
		{domain.FollowerReasonSuspended, "User with ID f1 was suspended"},
	}
	for _, tc := range cases {
		event := newFollowerEvent()
		event.State = domain.FollowerStateLost
		event.StateReason = tc.reason
		msg := Render(event, enabledUser())
		if msg.Header != "Lost follower" {
			t.Fatalf("%s: ожидали заголовок Lost follower, получили %q", tc.reason, msg.Header)
		}
		if !strings.Contains(msg.Text, tc.want) {
			t.Fatalf("%s: текст %q не содержит %q", tc.reason, msg.Text, tc.want)
		}
	}
}

func TestRenderIsPure(t *testing.T) {
	event := newFollowerEvent()
	user := enabledUser()
	first := Render(event, user)
	second := Render(event, user)
	if first != second {
		t.Fatalf("повторный рендер того же события должен совпадать")
	}
}
