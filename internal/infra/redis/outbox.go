package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-activity-service/internal/domain"
)

const (
	pendingKey = "activity:reports:pending" // hash id -> json
	dueKey     = "activity:reports:due"     // zset id scored by next attempt (unix ms)
)

// Outbox keeps pending score reports in Redis.
type Outbox struct {
	client *redis.Client
}

func NewOutbox(client *redis.Client) *Outbox {
	return &Outbox{client: client}
}

func (o *Outbox) Enqueue(ctx context.Context, pending domain.PendingReport) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending report: %w", err)
	}
	added, err := o.client.HSetNX(ctx, pendingKey, pending.ID, raw).Result()
	if err != nil {
		return fmt.Errorf("enqueue pending report: %w", err)
	}
	if !added {
		return nil
	}
	return o.client.ZAdd(ctx, dueKey, redis.Z{Score: score(pending.NextAttemptAt), Member: pending.ID}).Err()
}

func (o *Outbox) Due(ctx context.Context, now time.Time, limit int) ([]domain.PendingReport, error) {
	ids, err := o.client.ZRangeByScore(ctx, dueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list due reports: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := o.client.HMGet(ctx, pendingKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("load due reports: %w", err)
	}
	out := make([]domain.PendingReport, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without payload
			_ = o.client.ZRem(ctx, dueKey, ids[i]).Err()
			continue
		}
		var pending domain.PendingReport
		if err := json.Unmarshal([]byte(raw), &pending); err != nil {
			return nil, fmt.Errorf("unmarshal pending report %s: %w", ids[i], err)
		}
		out = append(out, pending)
	}
	return out, nil
}

func (o *Outbox) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	raw, err := o.client.HGet(ctx, pendingKey, id).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load pending report: %w", err)
	}
	var pending domain.PendingReport
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return fmt.Errorf("unmarshal pending report %s: %w", id, err)
	}
	pending.Attempts = attempts
	pending.NextAttemptAt = next
	pending.LastError = lastErr

	updated, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal pending report: %w", err)
	}
	pipe := o.client.TxPipeline()
	pipe.HSet(ctx, pendingKey, id, updated)
	pipe.ZAdd(ctx, dueKey, redis.Z{Score: score(next), Member: id})
	_, err = pipe.Exec(ctx)
	return err
}

func (o *Outbox) Remove(ctx context.Context, id string) error {
	pipe := o.client.TxPipeline()
	pipe.HDel(ctx, pendingKey, id)
	pipe.ZRem(ctx, dueKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}
