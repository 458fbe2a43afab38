package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"follower-radar/internal/domain"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, Token: "t0k3n", RPS: 1000, Burst: 1000})
}

func TestFollowersPage(t *testing.T) {
	var gotAuth, gotCursor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCursor = r.URL.Query().Get("cursor")
		if r.URL.Path != "/v1/users/owner/followers" {
			t.Errorf("неожиданный путь %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"followers":  []map[string]any{{"id": "f1", "handle": "alice"}, {"id": "f2", "handle": "bob"}},
			"nextCursor": "c2",
			"total":      42,
		})
	}))
	defer srv.Close()

	page, err := newTestClient(srv.URL).FollowersPage(context.Background(), "owner", "c1")
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if gotAuth != "Bearer t0k3n" {
		t.Fatalf("ожидали bearer-токен, получили %q", gotAuth)
	}
	if gotCursor != "c1" {
		t.Fatalf("курсор не передан, получили %q", gotCursor)
	}
	if len(page.Followers) != 2 || page.NextCursor != "c2" || page.Total != 42 {
		t.Fatalf("неожиданная страница: %+v", page)
	}
}

func TestUserByIDSuspendedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "f1", "suspended": true})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).UserByID(context.Background(), "f1")
	if !errors.Is(err, domain.ErrUserSuspended) {
		t.Fatalf("ожидали ErrUserSuspended, получили %v", err)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   int
		want   error
	}{
		{"код not found", http.StatusNotFound, codeNotFound, domain.ErrUserNotFound},
		{"код suspended", http.StatusForbidden, codeSuspended, domain.ErrUserSuspended},
		{"http 404 без тела", http.StatusNotFound, 0, domain.ErrUserNotFound},
		{"http 403 без тела", http.StatusForbidden, 0, domain.ErrUserSuspended},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			if tc.code != 0 {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"errors": []map[string]any{{"code": tc.code, "message": tc.name}},
				})
			}
		}))
		_, err := newTestClient(srv.URL).UserByID(context.Background(), "f1")
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, err)
		}
	}
}

func TestTerminalErrorsAreNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).UserByID(context.Background(), "gone")
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("ожидали ErrUserNotFound, получили %v", err)
	}
	if calls != 1 {
		t.Fatalf("терминальная ошибка не должна повторяться, вызовов: %d", calls)
	}
}

func TestTransientErrorsAreRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "f1", "handle": "alice"})
	}))
	defer srv.Close()

	follower, err := newTestClient(srv.URL).UserByID(context.Background(), "f1")
	if err != nil {
		t.Fatalf("не ожидали ошибку после повторов: %v", err)
	}
	if follower.Handle != "alice" {
		t.Fatalf("неожиданный ответ: %+v", follower)
	}
	if calls != 3 {
		t.Fatalf("ожидали 3 вызова, получили %d", calls)
	}
}

func TestRateLimitMapsToDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).UserByID(context.Background(), "f1")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("ожидали ErrRateLimited, получили %v", err)
	}
}
