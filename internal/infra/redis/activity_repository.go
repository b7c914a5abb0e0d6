package redis

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"lms-activity-service/internal/domain"
)

// ActivityLoader fetches activity metadata from a backing store (LMS API, Postgres).
type ActivityLoader interface {
	LoadActivity(ctx context.Context, activityID string) (domain.Activity, error)
}

// ActivityRepository caches activities in Redis (hash per activity) and falls back to a loader on cache miss.
// Activities are stored as: HSET activity:{activityID} name .. description .. content .. points ..
type ActivityRepository struct {
	client *redis.Client
	loader ActivityLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewActivityRepository(client *redis.Client, loader ActivityLoader, ttl time.Duration) *ActivityRepository {
	return &ActivityRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *ActivityRepository) GetActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	key := r.key(activityID)

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err == nil && len(fields) > 0 {
		return activityFromHash(activityID, fields), nil
	}

	result, err, _ := r.sf.Do(activityID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err == nil && len(fields) > 0 {
			return activityFromHash(activityID, fields), nil
		}

		activity, err := r.loader.LoadActivity(ctx, activityID)
		if err != nil {
			return domain.Activity{}, err
		}

		ttl := r.ttlWithJitter()
		pipe := r.client.Pipeline()
		pipe.HSet(ctx, key, map[string]interface{}{
			"name":        activity.Name,
			"description": activity.Description,
			"content":     activity.Content,
			"points":      activity.Points,
		})
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		// best-effort: a failed cache fill only costs another load
		_, _ = pipe.Exec(ctx)

		return activity, nil
	})
	if err != nil {
		return domain.Activity{}, err
	}
	return result.(domain.Activity), nil
}

func (r *ActivityRepository) key(activityID string) string {
	return "activity:" + activityID
}

func activityFromHash(activityID string, fields map[string]string) domain.Activity {
	points, _ := strconv.Atoi(fields["points"])
	return domain.Activity{
		ID:          activityID,
		Name:        fields["name"],
		Description: fields["description"],
		Content:     fields["content"],
		Points:      points,
	}
}

func (r *ActivityRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
