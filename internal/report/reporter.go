// Package report delivers final activity scores to the LMS API and keeps
// undelivered ones in an outbox until they are redelivered or reconciled.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lms-activity-service/internal/domain"
)

// Submitter performs the remote submit-final-score call.
type Submitter interface {
	SubmitFinalScore(ctx context.Context, report domain.ScoreReport) error
}

// Outbox stores reports whose delivery failed.
type Outbox interface {
	Enqueue(ctx context.Context, pending domain.PendingReport) error
	Due(ctx context.Context, now time.Time, limit int) ([]domain.PendingReport, error)
	Reschedule(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error
	Remove(ctx context.Context, id string) error
}

// Backoff is an exponential schedule between Initial and Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

func (b Backoff) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.Multiplier = 2
	if b.Initial > 0 {
		eb.InitialInterval = b.Initial
	}
	if b.Max > 0 {
		eb.MaxInterval = b.Max
	}
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// Delay is the wait before the given attempt (1-based), without jitter.
func (b Backoff) Delay(attempt int) time.Duration {
	eb := b.exponential()
	eb.RandomizationFactor = 0
	eb.Reset()
	d := eb.InitialInterval
	for i := 0; i < attempt; i++ {
		d = eb.NextBackOff()
	}
	return d
}

// Config tunes delivery. Retries are in-process attempts after the first one;
// Redelivery schedules outbox attempts.
type Config struct {
	Retries    int
	Retry      Backoff
	Redelivery Backoff
}

// Reporter delivers exactly the reports it is given; the state machine guarantees one per session.
type Reporter struct {
	submitter Submitter
	outbox    Outbox
	cfg       Config
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewReporter builds a Reporter. A nil outbox gives fire-and-forget delivery.
func NewReporter(submitter Submitter, outbox Outbox, cfg Config, log logrus.FieldLogger) *Reporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reporter{
		submitter: submitter,
		outbox:    outbox,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Report delivers a final score. Missing identifiers skip delivery entirely.
func (r *Reporter) Report(ctx context.Context, report domain.ScoreReport) domain.DeliveryResult {
	if report.SubjectID == "" || report.ActivityID == "" {
		return domain.DeliveryResult{Status: domain.DeliverySkipped, Err: domain.ErrMissingIdentifier}
	}

	err := r.deliver(ctx, report)
	if err == nil {
		return domain.DeliveryResult{Status: domain.DeliveryDelivered}
	}
	failure := fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
	if r.outbox == nil || domain.IsPermanent(err) {
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: failure}
	}

	now := r.now()
	attempts := r.cfg.Retries + 1
	pending := domain.PendingReport{
		ID:            pendingID(report),
		Report:        report,
		Attempts:      attempts,
		NextAttemptAt: now.Add(r.cfg.Redelivery.Delay(attempts)),
		LastError:     err.Error(),
		CreatedAt:     now,
	}
	if err := r.outbox.Enqueue(ctx, pending); err != nil {
		r.log.WithError(err).WithField("session_id", report.SessionID).Error("enqueue pending report")
		return domain.DeliveryResult{Status: domain.DeliveryFailed, Err: fmt.Errorf("%w (outbox: %v)", failure, err)}
	}
	return domain.DeliveryResult{Status: domain.DeliveryPending, Err: failure}
}

func (r *Reporter) deliver(ctx context.Context, report domain.ScoreReport) error {
	var policy backoff.BackOff = r.cfg.Retry.exponential()
	policy = backoff.WithMaxRetries(policy, uint64(max(r.cfg.Retries, 0)))
	return backoff.Retry(func() error {
		err := r.submitter.SubmitFinalScore(ctx, report)
		if err != nil && domain.IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// The session id doubles as the outbox key so a session is queued at most once.
func pendingID(report domain.ScoreReport) string {
	if report.SessionID != "" {
		return report.SessionID
	}
	return uuid.NewString()
}
