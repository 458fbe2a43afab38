package domain

import "testing"

func TestIgnoresFollower(t *testing.T) {
	user := User{IgnoreFollowers: []string{"123", "@spam_bot", "plainhandle"}}

	cases := []struct {
		name   string
		id     string
		handle string
		want   bool
	}{
		{"по идентификатору", "123", "whoever", true},
		{"по handle с @", "999", "spam_bot", true},
		{"по handle без @", "999", "plainhandle", true},
		{"не в списке", "999", "alice", false},
		{"пустой handle не совпадает с пустой записью", "999", "", false},
	}
	for _, tc := range cases {
		if got := user.IgnoresFollower(tc.id, tc.handle); got != tc.want {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, got)
		}
	}

	empty := User{}
	if empty.IgnoresFollower("123", "spam_bot") {
		t.Fatalf("пустой список исключений не должен ничего исключать")
	}
}

func TestFollowerEventValidate(t *testing.T) {
	valid := []FollowerEvent{
		{ID: "e1", UserID: "u1", State: FollowerStateNew, StateReason: FollowerReasonFollowed},
		{ID: "e2", UserID: "u1", State: FollowerStateLost, StateReason: FollowerReasonUnfollowed},
		{ID: "e3", UserID: "u1", State: FollowerStateLost, StateReason: FollowerReasonDeleted},
		{ID: "e4", UserID: "u1", State: FollowerStateLost, StateReason: FollowerReasonSuspended},
	}
	for _, e := range valid {
		if err := e.Validate(); err != nil {
			t.Fatalf("событие %s должно быть валидным: %v", e.ID, err)
		}
	}

	invalid := []FollowerEvent{
		{ID: "b1", UserID: "u1", State: FollowerStateNew, StateReason: FollowerReasonUnfollowed},
		{ID: "b2", UserID: "u1", State: FollowerStateLost, StateReason: FollowerReasonFollowed},
		{ID: "b3", UserID: "u1", State: "WAT", StateReason: FollowerReasonFollowed},
		{ID: "b4", UserID: "", State: FollowerStateNew, StateReason: FollowerReasonFollowed},
	}
	for _, e := range invalid {
		if err := e.Validate(); err == nil {
			t.Fatalf("событие %s должно быть отклонено", e.ID)
		}
	}
}
