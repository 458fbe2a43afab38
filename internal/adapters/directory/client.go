package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

const (
	codeNotFound    = 50
	codeSuspended   = 63
	codeRateLimited = 88

	maxAttempts = 4
)

// Config описывает подключение к каталогу аккаунтов.
type Config struct {
	BaseURL string
	Token   string
	RPS     float64
	Burst   int
}

// Client — HTTP-клиент внешнего каталога. Каталог отдаёт подписчиков
// постранично и ограничивает частоту запросов, поэтому каждый вызов проходит
// через локальный rate limiter, а транзиентные ошибки повторяются с бэкоффом
// ограниченное число раз.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	limiter *rate.Limiter
}

var _ domain.Directory = (*Client)(nil)

// NewClient создаёт клиент каталога.
func NewClient(cfg Config) *Client {
	rps := cfg.RPS
	if rps <= 0 {
		rps = 2
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type errorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

type followersResponse struct {
	Followers  []domain.Follower `json:"followers"`
	NextCursor string            `json:"nextCursor,omitempty"`
	Total      int               `json:"total"`
}

type accountResponse struct {
	domain.Follower
	Suspended bool `json:"suspended"`
}

// FollowersPage возвращает одну страницу подписчиков аккаунта.
func (c *Client) FollowersPage(ctx context.Context, handle, cursor string) (domain.DirectoryPage, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}
	var resp followersResponse
	err := c.getJSON(ctx, "followers_page", "/v1/users/"+url.PathEscape(handle)+"/followers", query, &resp)
	if err != nil {
		return domain.DirectoryPage{}, err
	}
	return domain.DirectoryPage{Followers: resp.Followers, NextCursor: resp.NextCursor, Total: resp.Total}, nil
}

// UserByID возвращает актуальные атрибуты одного аккаунта.
func (c *Client) UserByID(ctx context.Context, id string) (domain.Follower, error) {
	var resp accountResponse
	err := c.getJSON(ctx, "account_lookup", "/v1/accounts/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		return domain.Follower{}, err
	}
	if resp.Suspended {
		return domain.Follower{}, domain.ErrUserSuspended
	}
	return resp.Follower, nil
}

func (c *Client) getJSON(ctx context.Context, operation, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return retry.Do(
		func() error {
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if c.token != "" {
				req.Header.Set("Authorization", "Bearer "+c.token)
			}
			start := time.Now()
			resp, err := c.http.Do(req)
			metrics.ObserveNetworkRequest("directory", operation, "api", start, err)
			if err != nil {
				return fmt.Errorf("execute request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 300 {
				return mapError(resp)
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxAttempts),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// mapError переводит ответ каталога в ошибки домена. Удалённый или
// заблокированный аккаунт — терминальное состояние, его повторять бессмысленно;
// всё остальное считается транзиентным и уходит на повтор.
func mapError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil && len(body.Errors) > 0 {
		switch body.Errors[0].Code {
		case codeNotFound:
			return retry.Unrecoverable(domain.ErrUserNotFound)
		case codeSuspended:
			return retry.Unrecoverable(domain.ErrUserSuspended)
		case codeRateLimited:
			return domain.ErrRateLimited
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return retry.Unrecoverable(domain.ErrUserNotFound)
	case http.StatusForbidden:
		return retry.Unrecoverable(domain.ErrUserSuspended)
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return fmt.Errorf("directory: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
