package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"follower-radar/internal/domain"
	"follower-radar/internal/infra/metrics"
)

// Postgres реализует репозитории на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo     = (*Postgres)(nil)
	_ domain.SnapshotRepo = (*Postgres)(nil)
	_ domain.BaselineRepo = (*Postgres)(nil)
	_ domain.EventRepo    = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

const userColumns = `id, handle, name, COALESCE(location,''), COALESCE(bio,''), COALESCE(profile_image_url,''),
notify_enabled, COALESCE(notify_webhook_url,''), COALESCE(notify_channel,''), COALESCE(ignore_followers,'{}'),
COALESCE(idp,''), logins_count, last_login, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var (
		user      domain.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&user.ID, &user.Handle, &user.Name, &user.Location, &user.Bio, &user.ProfileImageURL,
		&user.Notify.Enabled, &user.Notify.WebhookURL, &user.Notify.Channel, &user.IgnoreFollowers,
		&user.IDP, &user.LoginsCount, &lastLogin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return domain.User{}, err
	}
	if lastLogin.Valid {
		user.LastLogin = lastLogin.Time
	}
	return user, nil
}

// GetUser возвращает пользователя по ID.
func (p *Postgres) GetUser(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	metrics.ObserveNetworkRequest("postgres", "users_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("получение пользователя: %w", err)
	}
	return user, nil
}

// RegisterUser создаёт либо обновляет пользователя по профилю входа.
func (p *Postgres) RegisterUser(ctx context.Context, u domain.User) (domain.User, bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		user      domain.User
		lastLogin sql.NullTime
		created   bool
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (id, handle, name, location, bio, profile_image_url, notify_enabled, ignore_followers, idp, logins_count, last_login)
VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), false, '{}', NULLIF($7,''), 1, now())
ON CONFLICT (id) DO UPDATE SET
  handle = EXCLUDED.handle,
  name = EXCLUDED.name,
  location = EXCLUDED.location,
  bio = EXCLUDED.bio,
  profile_image_url = EXCLUDED.profile_image_url,
  idp = COALESCE(EXCLUDED.idp, users.idp),
  logins_count = users.logins_count + 1,
  last_login = now(),
  updated_at = now()
RETURNING id, handle, name, COALESCE(location,''), COALESCE(bio,''), COALESCE(profile_image_url,''),
  notify_enabled, COALESCE(notify_webhook_url,''), COALESCE(notify_channel,''), COALESCE(ignore_followers,'{}'),
  COALESCE(idp,''), logins_count, last_login, created_at, updated_at, (xmax = 0) AS inserted
`, u.ID, u.Handle, u.Name, u.Location, u.Bio, u.ProfileImageURL, u.IDP).
		Scan(&user.ID, &user.Handle, &user.Name, &user.Location, &user.Bio, &user.ProfileImageURL,
			&user.Notify.Enabled, &user.Notify.WebhookURL, &user.Notify.Channel, &user.IgnoreFollowers,
			&user.IDP, &user.LoginsCount, &lastLogin, &user.CreatedAt, &user.UpdatedAt, &created)
	metrics.ObserveNetworkRequest("postgres", "users_register", "users", start, err)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("регистрация пользователя: %w", err)
	}
	if lastLogin.Valid {
		user.LastLogin = lastLogin.Time
	}
	return user, created, nil
}

// UpdateUser изменяет настройки уведомлений и список исключений.
func (p *Postgres) UpdateUser(ctx context.Context, id string, upd domain.UserUpdate) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		enabled sql.NullBool
		webhook sql.NullString
		channel sql.NullString
		ignores []string
	)
	if upd.Notify != nil {
		enabled = sql.NullBool{Bool: upd.Notify.Enabled, Valid: true}
		webhook = sql.NullString{String: upd.Notify.WebhookURL, Valid: true}
		channel = sql.NullString{String: upd.Notify.Channel, Valid: true}
	}
	if upd.IgnoreFollowers != nil {
		ignores = *upd.IgnoreFollowers
		if ignores == nil {
			ignores = []string{}
		}
	}

	start := time.Now()
	user, err := scanUser(p.pool.QueryRow(ctx, `
UPDATE users SET
  notify_enabled = COALESCE($2, notify_enabled),
  notify_webhook_url = CASE WHEN $2 IS NULL THEN notify_webhook_url ELSE NULLIF($3,'') END,
  notify_channel = CASE WHEN $2 IS NULL THEN notify_channel ELSE NULLIF($4,'') END,
  ignore_followers = COALESCE($5, ignore_followers),
  updated_at = now()
WHERE id = $1
RETURNING `+userColumns, id, enabled, webhook, channel, ignores))
	metrics.ObserveNetworkRequest("postgres", "users_update", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("обновление пользователя: %w", err)
	}
	return user, nil
}

// DeleteUser удаляет пользователя вместе с его указателем и метаданными
// снимков; события и тела снимков исчезают сами по истечении срока хранения.
func (p *Postgres) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	metrics.ObserveNetworkRequest("postgres", "users_delete", "users", start, err)
	if err != nil {
		return fmt.Errorf("удаление пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	_, _ = p.pool.Exec(ctx, `DELETE FROM follower_baselines WHERE user_id=$1`, id)
	_, _ = p.pool.Exec(ctx, `DELETE FROM follower_snapshots WHERE user_id=$1`, id)
	return nil
}

// ListUsers возвращает страницу пользователей для обхода по ключу.
func (p *Postgres) ListUsers(ctx context.Context, afterID string, limit int) ([]domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	metrics.ObserveNetworkRequest("postgres", "users_list", "users", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка пользователей: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("чтение пользователя: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// CreateSnapshot сохраняет метаданные выгрузки.
func (p *Postgres) CreateSnapshot(ctx context.Context, s domain.Snapshot) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO follower_snapshots (user_id, blob_key, total_followers, status, taken_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, taken_at) DO NOTHING
`, s.UserID, s.BlobKey, s.TotalFollowers, string(s.Status), s.TakenAt, s.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "snapshots_insert", "follower_snapshots", start, err)
	if err != nil {
		return fmt.Errorf("сохранение снимка: %w", err)
	}
	return nil
}

// DeleteExpiredSnapshots удаляет метаданные с истёкшим сроком хранения.
func (p *Postgres) DeleteExpiredSnapshots(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM follower_snapshots WHERE expires_at < now()`)
	metrics.ObserveNetworkRequest("postgres", "snapshots_sweep", "follower_snapshots", start, err)
	if err != nil {
		return 0, fmt.Errorf("очистка снимков: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetBaseline возвращает указатель базового снимка.
func (p *Postgres) GetBaseline(ctx context.Context, userID string) (domain.Baseline, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	b := domain.Baseline{UserID: userID}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT blob_key, taken_at, updated_at FROM follower_baselines WHERE user_id=$1
`, userID).Scan(&b.BlobKey, &b.TakenAt, &b.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "baselines_get", "follower_baselines", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Baseline{}, domain.ErrBaselineNotFound
	}
	if err != nil {
		return domain.Baseline{}, fmt.Errorf("получение базового снимка: %w", err)
	}
	return b, nil
}

// AdvanceBaseline переводит указатель условной записью. Возвращает false, если
// текущее значение не совпало с ожидаемым: проигравший гонку не продвигает
// указатель.
func (p *Postgres) AdvanceBaseline(ctx context.Context, userID, expectedKey, newKey string, takenAt time.Time) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO follower_baselines (user_id, blob_key, taken_at, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE SET
  blob_key = EXCLUDED.blob_key,
  taken_at = EXCLUDED.taken_at,
  updated_at = now()
WHERE follower_baselines.blob_key = $4
`, userID, newKey, takenAt, expectedKey)
	metrics.ObserveNetworkRequest("postgres", "baselines_advance", "follower_baselines", start, err)
	if err != nil {
		return false, fmt.Errorf("продвижение базового снимка: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateFollowerEvent идемпотентно сохраняет событие перехода.
func (p *Postgres) CreateFollowerEvent(ctx context.Context, e domain.FollowerEvent) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	follower, err := json.Marshal(e.Follower)
	if err != nil {
		return false, fmt.Errorf("кодирование подписчика: %w", err)
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
INSERT INTO follower_events (id, user_id, follower, state, state_reason, total_followers, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING
`, e.ID, e.UserID, follower, string(e.State), string(e.StateReason), e.TotalFollowers, e.CreatedAt, e.ExpiresAt)
	metrics.ObserveNetworkRequest("postgres", "events_insert", "follower_events", start, err)
	if err != nil {
		return false, fmt.Errorf("сохранение события: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LatestFollowerEvents возвращает события пользователя, свежие первыми.
func (p *Postgres) LatestFollowerEvents(ctx context.Context, userID string, limit int) ([]domain.FollowerEvent, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT id, user_id, follower, state, state_reason, total_followers, created_at, expires_at
FROM follower_events
WHERE user_id = $1 AND expires_at > now()
ORDER BY created_at DESC
LIMIT $2
`, userID, limit)
	metrics.ObserveNetworkRequest("postgres", "events_latest", "follower_events", start, err)
	if err != nil {
		return nil, fmt.Errorf("выборка событий: %w", err)
	}
	defer rows.Close()

	var events []domain.FollowerEvent
	for rows.Next() {
		var (
			e        domain.FollowerEvent
			follower []byte
			state    string
			reason   string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &follower, &state, &reason, &e.TotalFollowers, &e.CreatedAt, &e.ExpiresAt); err != nil {
			return nil, fmt.Errorf("чтение события: %w", err)
		}
		if err := json.Unmarshal(follower, &e.Follower); err != nil {
			return nil, fmt.Errorf("декодирование подписчика: %w", err)
		}
		e.State = domain.FollowerState(state)
		e.StateReason = domain.FollowerStateReason(reason)
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteExpiredEvents удаляет события с истёкшим сроком хранения.
func (p *Postgres) DeleteExpiredEvents(ctx context.Context) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `DELETE FROM follower_events WHERE expires_at < now()`)
	metrics.ObserveNetworkRequest("postgres", "events_sweep", "follower_events", start, err)
	if err != nil {
		return 0, fmt.Errorf("очистка событий: %w", err)
	}
	return tag.RowsAffected(), nil
}
