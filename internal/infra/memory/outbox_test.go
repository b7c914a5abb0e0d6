package memory

import (
	"context"
	"testing"
	"time"

	"lms-activity-service/internal/domain"
)

func TestOutboxDueAndReschedule(t *testing.T) {
	ctx := context.Background()
	outbox := NewOutbox()
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)

	_ = outbox.Enqueue(ctx, domain.PendingReport{ID: "a", NextAttemptAt: now, CreatedAt: now})
	_ = outbox.Enqueue(ctx, domain.PendingReport{ID: "b", NextAttemptAt: now.Add(time.Hour), CreatedAt: now})
	// same id is queued once
	_ = outbox.Enqueue(ctx, domain.PendingReport{ID: "a", NextAttemptAt: now.Add(time.Hour), CreatedAt: now})

	due, err := outbox.Due(ctx, now, 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "a" {
		t.Fatalf("expected only a due, got %+v", due)
	}

	if err := outbox.Reschedule(ctx, "a", 2, now.Add(2*time.Hour), "boom"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	due, _ = outbox.Due(ctx, now.Add(90*time.Minute), 10)
	if len(due) != 1 || due[0].ID != "b" {
		t.Fatalf("expected only b due, got %+v", due)
	}

	_ = outbox.Remove(ctx, "a")
	_ = outbox.Remove(ctx, "b")
	if outbox.Len() != 0 {
		t.Fatalf("expected empty outbox, got %d", outbox.Len())
	}
}
