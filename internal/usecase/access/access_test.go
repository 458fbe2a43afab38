package access

import (
	"errors"
	"testing"
)

func TestNormalizeStripsProviderPrefix(t *testing.T) {
	if got := Normalize("twitter|12345"); got != "12345" {
		t.Fatalf("ожидали 12345, получили %q", got)
	}
	if got := Normalize("12345"); got != "12345" {
		t.Fatalf("subject без префикса должен остаться как есть, получили %q", got)
	}
}

func TestAuthorize(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		target  string
		wantID  string
		wantErr bool
	}{
		{"совпадение с префиксом", "twitter|u1", "u1", "u1", false},
		{"совпадение без префикса", "u1", "u1", "u1", false},
		{"чужой пользователь", "twitter|u1", "u2", "", true},
		{"пустой subject", "", "u1", "", true},
		{"subject из одного префикса", "twitter|", "u1", "", true},
		{"пустая цель", "twitter|u1", "", "", true},
	}
	for _, tc := range cases {
		id, err := Authorize(tc.subject, tc.target)
		if tc.wantErr {
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("%s: ожидали ErrUnauthorized, получили %v", tc.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: не ожидали ошибку: %v", tc.name, err)
		}
		if id != tc.wantID {
			t.Fatalf("%s: ожидали %q, получили %q", tc.name, tc.wantID, id)
		}
	}
}
