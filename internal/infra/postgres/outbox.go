package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"lms-activity-service/internal/domain"
)

type pendingReportRow struct {
	bun.BaseModel `bun:"table:pending_score_reports"`

	ID            string    `bun:"id,pk"`
	SessionID     string    `bun:"session_id"`
	StudentID     string    `bun:"student_id"`
	ActivityID    string    `bun:"activity_id"`
	Score         int       `bun:"score"`
	CompletedAt   time.Time `bun:"completed_at"`
	Attempts      int       `bun:"attempts"`
	NextAttemptAt time.Time `bun:"next_attempt_at"`
	LastError     string    `bun:"last_error"`
	CreatedAt     time.Time `bun:"created_at"`
}

func rowFromPending(p domain.PendingReport) pendingReportRow {
	return pendingReportRow{
		ID:            p.ID,
		SessionID:     p.Report.SessionID,
		StudentID:     p.Report.SubjectID,
		ActivityID:    p.Report.ActivityID,
		Score:         p.Report.FinalScore,
		CompletedAt:   p.Report.CompletedAt,
		Attempts:      p.Attempts,
		NextAttemptAt: p.NextAttemptAt,
		LastError:     p.LastError,
		CreatedAt:     p.CreatedAt,
	}
}

func (r pendingReportRow) pending() domain.PendingReport {
	return domain.PendingReport{
		ID: r.ID,
		Report: domain.ScoreReport{
			SessionID:   r.SessionID,
			SubjectID:   r.StudentID,
			ActivityID:  r.ActivityID,
			FinalScore:  r.Score,
			CompletedAt: r.CompletedAt,
		},
		Attempts:      r.Attempts,
		NextAttemptAt: r.NextAttemptAt,
		LastError:     r.LastError,
		CreatedAt:     r.CreatedAt,
	}
}

// Outbox keeps pending score reports in the pending_score_reports table.
type Outbox struct {
	db *bun.DB
}

func NewOutbox(db *bun.DB) *Outbox {
	return &Outbox{db: db}
}

func (o *Outbox) Enqueue(ctx context.Context, pending domain.PendingReport) error {
	row := rowFromPending(pending)
	if _, err := o.db.NewInsert().Model(&row).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("enqueue pending report: %w", err)
	}
	return nil
}

func (o *Outbox) Due(ctx context.Context, now time.Time, limit int) ([]domain.PendingReport, error) {
	var rows []pendingReportRow
	err := o.db.NewSelect().
		Model(&rows).
		Where("next_attempt_at <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list due reports: %w", err)
	}
	out := make([]domain.PendingReport, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.pending())
	}
	return out, nil
}

func (o *Outbox) Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := o.db.NewUpdate().
		Model((*pendingReportRow)(nil)).
		Set("attempts = ?", attempts).
		Set("next_attempt_at = ?", next).
		Set("last_error = ?", lastErr).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("reschedule pending report: %w", err)
	}
	return nil
}

func (o *Outbox) Remove(ctx context.Context, id string) error {
	_, err := o.db.NewDelete().
		Model((*pendingReportRow)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("remove pending report: %w", err)
	}
	return nil
}
