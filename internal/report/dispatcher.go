package report

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"lms-activity-service/internal/domain"
)

// CompletionChecker is the remote source of truth for completed activities.
type CompletionChecker interface {
	HasCompletedActivity(ctx context.Context, subjectID, activityID string) (bool, error)
}

type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int // 0 retries forever
	Redelivery  Backoff
}

// DrainStats counts what one drain pass did.
type DrainStats struct {
	Delivered   int
	Reconciled  int
	Rescheduled int
	Dropped     int
}

// Dispatcher redelivers pending reports from the outbox.
type Dispatcher struct {
	outbox    Outbox
	submitter Submitter
	checker   CompletionChecker
	cfg       DispatcherConfig
	log       logrus.FieldLogger
	now       func() time.Time
}

// NewDispatcher builds a Dispatcher. checker may be nil, in which case no reconciliation happens.
func NewDispatcher(outbox Outbox, submitter Submitter, checker CompletionChecker, cfg DispatcherConfig, log logrus.FieldLogger) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{
		outbox:    outbox,
		submitter: submitter,
		checker:   checker,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Run drains the outbox every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats, err := d.DrainOnce(ctx)
			if err != nil {
				d.log.WithError(err).Error("drain pending reports")
				continue
			}
			if stats != (DrainStats{}) {
				d.log.WithFields(logrus.Fields{
					"delivered":   stats.Delivered,
					"reconciled":  stats.Reconciled,
					"rescheduled": stats.Rescheduled,
					"dropped":     stats.Dropped,
				}).Info("pending reports drained")
			}
		}
	}
}

// DrainOnce processes the reports that are due now.
func (d *Dispatcher) DrainOnce(ctx context.Context) (DrainStats, error) {
	var stats DrainStats

	due, err := d.outbox.Due(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return stats, err
	}

	for _, pending := range due {
		log := d.log.WithFields(logrus.Fields{
			"report_id":   pending.ID,
			"activity_id": pending.Report.ActivityID,
			"subject_id":  pending.Report.SubjectID,
		})

		if d.reconciled(ctx, pending, log) {
			if err := d.outbox.Remove(ctx, pending.ID); err != nil {
				return stats, err
			}
			stats.Reconciled++
			continue
		}

		sendErr := d.submitter.SubmitFinalScore(ctx, pending.Report)
		if sendErr == nil {
			if err := d.outbox.Remove(ctx, pending.ID); err != nil {
				return stats, err
			}
			stats.Delivered++
			continue
		}

		attempts := pending.Attempts + 1
		if domain.IsPermanent(sendErr) || (d.cfg.MaxAttempts > 0 && attempts >= d.cfg.MaxAttempts) {
			log.WithError(sendErr).WithField("attempts", attempts).Error("dropping pending report")
			if err := d.outbox.Remove(ctx, pending.ID); err != nil {
				return stats, err
			}
			stats.Dropped++
			continue
		}

		next := d.now().Add(d.cfg.Redelivery.Delay(attempts))
		if err := d.outbox.Reschedule(ctx, pending.ID, attempts, next, sendErr.Error()); err != nil {
			return stats, err
		}
		stats.Rescheduled++
	}
	return stats, nil
}

func (d *Dispatcher) reconciled(ctx context.Context, pending domain.PendingReport, log logrus.FieldLogger) bool {
	if d.checker == nil {
		return false
	}
	done, err := d.checker.HasCompletedActivity(ctx, pending.Report.SubjectID, pending.Report.ActivityID)
	if err != nil {
		log.WithError(err).Warn("completion check failed")
		return false
	}
	return done
}
