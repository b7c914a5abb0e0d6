package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"lms-activity-service/internal/domain"
)

// ActivityLoader fetches activity metadata from a backing store (LMS API, Postgres).
type ActivityLoader interface {
	LoadActivity(ctx context.Context, activityID string) (domain.Activity, error)
}

// ActivityRepository caches activities with TTL to avoid repeated backend hits.
type ActivityRepository struct {
	loader ActivityLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedActivity
}

type cachedActivity struct {
	activity  domain.Activity
	expiresAt time.Time
}

func NewActivityRepository(loader ActivityLoader, ttl time.Duration) *ActivityRepository {
	return &ActivityRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedActivity),
	}
}

func (r *ActivityRepository) GetActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	if activity, ok := r.cached(activityID); ok {
		return activity, nil
	}

	result, err, _ := r.sf.Do(activityID, func() (interface{}, error) {
		if activity, ok := r.cached(activityID); ok {
			return activity, nil
		}

		activity, err := r.loader.LoadActivity(ctx, activityID)
		if err != nil {
			return domain.Activity{}, err
		}

		r.mu.Lock()
		r.cache[activityID] = cachedActivity{
			activity:  activity,
			expiresAt: r.clock().Add(r.ttlWithJitterLocked()),
		}
		r.mu.Unlock()
		return activity, nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return result.(domain.Activity), nil
}

func (r *ActivityRepository) cached(activityID string) (domain.Activity, bool) {
	now := r.clock()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.cache[activityID]; ok && entry.expiresAt.After(now) {
		return entry.activity, true
	}
	return domain.Activity{}, false
}

// add up to 10% jitter to spread expirations
func (r *ActivityRepository) ttlWithJitterLocked() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}

// StaticActivityLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticActivityLoader struct {
	activities map[string]domain.Activity
}

func NewStaticActivityLoader(activities map[string]domain.Activity) *StaticActivityLoader {
	return &StaticActivityLoader{activities: activities}
}

func (l *StaticActivityLoader) LoadActivity(_ context.Context, activityID string) (domain.Activity, error) {
	if activity, ok := l.activities[activityID]; ok {
		return activity, nil
	}
	return domain.Activity{}, domain.ErrActivityNotFound
}

// SampleActivities is the demo catalog: one activity per playable variant.
func SampleActivities() map[string]domain.Activity {
	return map[string]domain.Activity{
		"count-the-fruit": {
			ID:          "count-the-fruit",
			Name:        "Count the Fruit",
			Description: "Count the fruit shown and type the number.",
			Content:     "count-the-fruit",
			Points:      10,
		},
		"find-the-missing-letter": {
			ID:          "find-the-missing-letter",
			Name:        "Find the Missing Letter",
			Description: "Pick the letter that completes the word.",
			Content:     "find-the-missing-letter",
			Points:      10,
		},
		"name-the-color": {
			ID:          "name-the-color",
			Name:        "Name the Color",
			Description: "Pick the name of the color shown.",
			Content:     "name-the-color",
			Points:      10,
		},
	}
}
