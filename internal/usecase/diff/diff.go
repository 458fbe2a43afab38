package diff

import (
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"follower-radar/internal/domain"
)

// Пространство имён для детерминированных идентификаторов событий.
var eventNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// EventID детерминированно выводит идентификатор события из владельца,
// подписчика, времени нового снимка и направления перехода. Повторный расчёт
// того же диффа даёт те же идентификаторы, поэтому повторная доставка сигнала
// не плодит дубликатов.
func EventID(userID, followerID string, takenAt time.Time, state domain.FollowerState) string {
	name := strings.Join([]string{
		userID,
		followerID,
		takenAt.UTC().Format(time.RFC3339Nano),
		string(state),
	}, "|")
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// diffFollowers сравнивает два снимка по идентификаторам подписчиков.
// added — записи нового снимка, отсутствующие в предыдущем; removed — записи
// предыдущего, отсутствующие в новом. Пересечение переходов не порождает.
// Результат отсортирован по ID для устойчивости.
func diffFollowers(prev, next []domain.Follower) (added, removed []domain.Follower) {
	prevByID := make(map[string]domain.Follower, len(prev))
	prevSet := mapset.NewThreadUnsafeSet[string]()
	for _, f := range prev {
		prevByID[f.ID] = f
		prevSet.Add(f.ID)
	}

	nextByID := make(map[string]domain.Follower, len(next))
	nextSet := mapset.NewThreadUnsafeSet[string]()
	for _, f := range next {
		nextByID[f.ID] = f
		nextSet.Add(f.ID)
	}

	for id := range nextSet.Difference(prevSet).Iter() {
		added = append(added, nextByID[id])
	}
	for id := range prevSet.Difference(nextSet).Iter() {
		removed = append(removed, prevByID[id])
	}

	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })

	return added, removed
}
