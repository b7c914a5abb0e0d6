package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"lms-activity-service/internal/domain"
)

// ActivityLoader loads activity JSONB from Postgres.
type ActivityLoader struct {
	pool *pgxpool.Pool
}

func NewActivityLoader(pool *pgxpool.Pool) *ActivityLoader {
	return &ActivityLoader{pool: pool}
}

func (l *ActivityLoader) LoadActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM activities WHERE id=$1`, activityID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Activity{}, domain.ErrActivityNotFound
	}
	if err != nil {
		return domain.Activity{}, fmt.Errorf("load activity: %w", err)
	}
	var activity domain.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return domain.Activity{}, fmt.Errorf("unmarshal activity: %w", err)
	}
	if activity.ID == "" {
		activity.ID = activityID
	}
	return activity, nil
}
