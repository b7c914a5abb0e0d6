package report

import (
	"context"

	"github.com/sirupsen/logrus"

	"lms-activity-service/internal/domain"
)

// LogSubmitter only logs scores. It stands in for the LMS API in local runs.
type LogSubmitter struct {
	Log logrus.FieldLogger
}

func (s LogSubmitter) SubmitFinalScore(_ context.Context, report domain.ScoreReport) error {
	s.Log.WithFields(logrus.Fields{
		"session_id":  report.SessionID,
		"activity_id": report.ActivityID,
		"subject_id":  report.SubjectID,
		"score":       report.FinalScore,
	}).Info("final score (no LMS API configured)")
	return nil
}
