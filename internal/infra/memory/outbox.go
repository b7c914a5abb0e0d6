package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"lms-activity-service/internal/domain"
)

// Outbox keeps pending score reports in process memory. Reports are lost on restart;
// use the Redis or Postgres outbox for durability.
type Outbox struct {
	mu      sync.Mutex
	pending map[string]domain.PendingReport
}

func NewOutbox() *Outbox {
	return &Outbox{pending: make(map[string]domain.PendingReport)}
}

func (o *Outbox) Enqueue(_ context.Context, pending domain.PendingReport) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[pending.ID]; ok {
		return nil
	}
	o.pending[pending.ID] = pending
	return nil
}

func (o *Outbox) Due(_ context.Context, now time.Time, limit int) ([]domain.PendingReport, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	due := make([]domain.PendingReport, 0, len(o.pending))
	for _, p := range o.pending {
		if !p.NextAttemptAt.After(now) {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (o *Outbox) Reschedule(_ context.Context, id string, attempts int, next time.Time, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[id]
	if !ok {
		return nil
	}
	p.Attempts = attempts
	p.NextAttemptAt = next
	p.LastError = lastErr
	o.pending[id] = p
	return nil
}

func (o *Outbox) Remove(_ context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, id)
	return nil
}

// Len reports how many reports are pending.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}
