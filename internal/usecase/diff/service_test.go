package diff

import (
	"context"
	"testing"
	"time"

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

type stubEvents struct {
	created []domain.FollowerEvent
	seen    map[string]bool
}

func (s *stubEvents) CreateFollowerEvent(_ context.Context, e domain.FollowerEvent) (bool, error) {
	if s.seen == nil {
		s.seen = map[string]bool{}
	}
	if s.seen[e.ID] {
		return false, nil
	}
	s.seen[e.ID] = true
	s.created = append(s.created, e)
	return true, nil
}
func (s *stubEvents) LatestFollowerEvents(context.Context, string, int) ([]domain.FollowerEvent, error) {
	return s.created, nil
}
func (s *stubEvents) DeleteExpiredEvents(context.Context) (int64, error) { return 0, nil }

type stubBaselines struct {
	key      string
	advanced int
}

func (s *stubBaselines) GetBaseline(context.Context, string) (domain.Baseline, error) {
	if s.key == "" {
		return domain.Baseline{}, domain.ErrBaselineNotFound
	}
	return domain.Baseline{BlobKey: s.key}, nil
}
func (s *stubBaselines) AdvanceBaseline(_ context.Context, _ string, expectedKey, newKey string, _ time.Time) (bool, error) {
	if s.key != expectedKey {
		return false, nil
	}
	s.key = newKey
	s.advanced++
	return true, nil
}

type stubBlobs struct {
	snapshots map[string][]domain.Follower
}

func (s *stubBlobs) PutSnapshot(_ context.Context, key string, followers []domain.Follower, _ time.Duration) error {
	if s.snapshots == nil {
		s.snapshots = map[string][]domain.Follower{}
	}
	s.snapshots[key] = followers
	return nil
}
func (s *stubBlobs) GetSnapshot(_ context.Context, key string) ([]domain.Follower, error) {
	followers, ok := s.snapshots[key]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return followers, nil
}
func (s *stubBlobs) SaveFetchProgress(context.Context, string, domain.FetchProgress, time.Duration) error {
	return nil
}
func (s *stubBlobs) LoadFetchProgress(context.Context, string) (domain.FetchProgress, bool, error) {
	return domain.FetchProgress{}, false, nil
}
func (s *stubBlobs) DeleteFetchProgress(context.Context, string) error { return nil }

// stubDirectory отвечает на контрольные запросы по таблице ошибок.
type stubDirectory struct {
	errs map[string]error
}

func (s *stubDirectory) FollowersPage(context.Context, string, string) (domain.DirectoryPage, error) {
	return domain.DirectoryPage{}, nil
}
func (s *stubDirectory) UserByID(_ context.Context, id string) (domain.Follower, error) {
	if err, ok := s.errs[id]; ok {
		return domain.Follower{}, err
	}
	return domain.Follower{ID: id, Handle: "h_" + id, Name: "name " + id}, nil
}

type stubBus struct {
	published []domain.BusEvent
}

func (s *stubBus) Publish(_ context.Context, e domain.BusEvent) error {
	s.published = append(s.published, e)
	return nil
}
func (s *stubBus) Receive(context.Context, domain.BusEventKind) (domain.BusEvent, domain.AckFunc, error) {
	return domain.BusEvent{}, nil, nil
}

func followers(ids ...string) []domain.Follower {
	out := make([]domain.Follower, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Follower{ID: id, Handle: "h_" + id})
	}
	return out
}

type fixture struct {
	svc       *Service
	users     *stubUsers
	events    *stubEvents
	baselines *stubBaselines
	blobs     *stubBlobs
	directory *stubDirectory
	bus       *stubBus
}

func newFixture() *fixture {
	f := &fixture{
		users:     &stubUsers{user: domain.User{ID: "u1", Handle: "owner"}},
		events:    &stubEvents{},
		baselines: &stubBaselines{},
		blobs:     &stubBlobs{snapshots: map[string][]domain.Follower{}},
		directory: &stubDirectory{errs: map[string]error{}},
		bus:       &stubBus{},
	}
	f.svc = NewService(f.users, f.events, f.baselines, f.blobs, f.directory, f.bus, time.Hour, zerolog.Nop())
	return f
}

func TestProcessPartitionsAddedAndRemoved(t *testing.T) {
	f := newFixture()
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.blobs.snapshots["prev"] = followers("a", "b", "c")
	f.blobs.snapshots["next"] = followers("b", "c", "d")
	f.baselines.key = "prev"
	f.directory.errs["a"] = domain.ErrUserNotFound

	job := domain.DiffJob{UserID: "u1", PrevKey: "prev", NewKey: "next", NewTakenAt: takenAt, TotalFollowers: 3}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	if len(f.events.created) != 2 {
		t.Fatalf("ожидали 2 события, получили %d", len(f.events.created))
	}
	byID := map[string]domain.FollowerEvent{}
	for _, e := range f.events.created {
		byID[e.Follower.ID] = e
	}
	added, ok := byID["d"]
	if !ok || added.State != domain.FollowerStateNew || added.StateReason != domain.FollowerReasonFollowed {
		t.Fatalf("ожидали NEW/FOLLOWED для d, получили %+v", added)
	}
	removed, ok := byID["a"]
	if !ok || removed.State != domain.FollowerStateLost || removed.StateReason != domain.FollowerReasonDeleted {
		t.Fatalf("ожидали LOST/DELETED для a, получили %+v", removed)
	}
	if f.baselines.key != "next" {
		t.Fatalf("ожидали продвижение базы на next, получили %q", f.baselines.key)
	}
	if len(f.bus.published) != 2 {
		t.Fatalf("ожидали 2 публикации в шину, получили %d", len(f.bus.published))
	}
}

func TestProcessFirstSnapshotProducesNoEvents(t *testing.T) {
	f := newFixture()
	f.blobs.snapshots["next"] = followers("a", "b")

	job := domain.DiffJob{UserID: "u1", NewKey: "next", NewTakenAt: time.Now().UTC(), TotalFollowers: 2}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(f.events.created) != 0 {
		t.Fatalf("первая выгрузка не должна порождать события, получили %d", len(f.events.created))
	}
	if f.baselines.key != "next" {
		t.Fatalf("ожидали продвижение базы на next, получили %q", f.baselines.key)
	}
}

func TestProcessFetchFailedLeavesBaselineUntouched(t *testing.T) {
	f := newFixture()
	f.baselines.key = "prev"

	job := domain.DiffJob{UserID: "u1", FetchFailed: true, NewTakenAt: time.Now().UTC()}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(f.events.created) != 0 {
		t.Fatalf("провал выгрузки не должен порождать события")
	}
	if f.baselines.key != "prev" {
		t.Fatalf("провал выгрузки не должен двигать базу, получили %q", f.baselines.key)
	}
}

func TestProcessUnchangedKeyShortCircuits(t *testing.T) {
	f := newFixture()
	f.baselines.key = "same"

	job := domain.DiffJob{UserID: "u1", PrevKey: "same", NewKey: "same"}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if f.baselines.advanced != 0 {
		t.Fatalf("совпавшие ключи не должны трогать базу")
	}
}

func TestProcessIsIdempotentOnRedelivery(t *testing.T) {
	f := newFixture()
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	f.blobs.snapshots["prev"] = followers("a")
	f.blobs.snapshots["next"] = followers("a", "b")
	f.baselines.key = "prev"

	job := domain.DiffJob{UserID: "u1", PrevKey: "prev", NewKey: "next", NewTakenAt: takenAt, TotalFollowers: 2}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	// Повторная доставка того же сигнала.
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку при повторе: %v", err)
	}

	if len(f.events.created) != 1 {
		t.Fatalf("повтор не должен плодить дубликаты, получили %d событий", len(f.events.created))
	}
	if f.baselines.advanced != 1 {
		t.Fatalf("повтор не должен продвигать базу второй раз")
	}
}

func TestProcessSkipsIgnoredFollowers(t *testing.T) {
	f := newFixture()
	f.users.user.IgnoreFollowers = []string{"bot1", "@h_spam"}
	f.blobs.snapshots["prev"] = followers("bot1", "keep")
	f.blobs.snapshots["next"] = followers("keep", "spam")
	f.baselines.key = "prev"

	job := domain.DiffJob{UserID: "u1", PrevKey: "prev", NewKey: "next", NewTakenAt: time.Now().UTC()}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(f.events.created) != 0 {
		t.Fatalf("исключённые подписчики не должны порождать события, получили %d", len(f.events.created))
	}
}

func TestProcessClassifiesRemovals(t *testing.T) {
	f := newFixture()
	f.blobs.snapshots["prev"] = followers("gone", "banned", "left")
	f.blobs.snapshots["next"] = []domain.Follower{}
	f.baselines.key = "prev"
	f.directory.errs["gone"] = domain.ErrUserNotFound
	f.directory.errs["banned"] = domain.ErrUserSuspended

	job := domain.DiffJob{UserID: "u1", PrevKey: "prev", NewKey: "next", NewTakenAt: time.Now().UTC()}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}

	reasons := map[string]domain.FollowerStateReason{}
	for _, e := range f.events.created {
		if e.State != domain.FollowerStateLost {
			t.Fatalf("ожидали только LOST, получили %s", e.State)
		}
		reasons[e.Follower.ID] = e.StateReason
	}
	if reasons["gone"] != domain.FollowerReasonDeleted {
		t.Fatalf("ожидали DELETED для gone, получили %s", reasons["gone"])
	}
	if reasons["banned"] != domain.FollowerReasonSuspended {
		t.Fatalf("ожидали SUSPENDED для banned, получили %s", reasons["banned"])
	}
	if reasons["left"] != domain.FollowerReasonUnfollowed {
		t.Fatalf("ожидали UNFOLLOWED для left, получили %s", reasons["left"])
	}
}

func TestProcessExpiredPrevSnapshotAdvancesWithoutEvents(t *testing.T) {
	f := newFixture()
	f.blobs.snapshots["next"] = followers("a")
	f.baselines.key = "prev" // тела prev в хранилище уже нет

	job := domain.DiffJob{UserID: "u1", PrevKey: "prev", NewKey: "next", NewTakenAt: time.Now().UTC()}
	if err := f.svc.Process(context.Background(), job); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(f.events.created) != 0 {
		t.Fatalf("истёкший прошлый снимок не должен порождать события")
	}
	if f.baselines.key != "next" {
		t.Fatalf("ожидали продвижение базы на next, получили %q", f.baselines.key)
	}
}

func TestEventIDDeterministic(t *testing.T) {
	takenAt := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	a := EventID("u1", "f1", takenAt, domain.FollowerStateNew)
	b := EventID("u1", "f1", takenAt, domain.FollowerStateNew)
	if a != b {
		t.Fatalf("одинаковый вход должен давать одинаковый ID: %s != %s", a, b)
	}
	if c := EventID("u1", "f1", takenAt, domain.FollowerStateLost); c == a {
		t.Fatalf("направление перехода должно менять ID")
	}
	if c := EventID("u1", "f1", takenAt.Add(time.Second), domain.FollowerStateNew); c == a {
		t.Fatalf("время снимка должно менять ID")
	}
}

func TestDiffFollowersSortedAndDisjoint(t *testing.T) {
	added, removed := diffFollowers(followers("b", "a", "c"), followers("c", "e", "d", "a"))
	if len(added) != 2 || added[0].ID != "d" || added[1].ID != "e" {
		t.Fatalf("ожидали добавленных [d e], получили %+v", added)
	}
	if len(removed) != 1 || removed[0].ID != "b" {
		t.Fatalf("ожидали удалённых [b], получили %+v", removed)
	}
}
