package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"lms-activity-service/internal/domain"
)

// LessonMarker is the remote side of lesson completion.
type LessonMarker interface {
	MarkLessonDone(ctx context.Context, subjectID, lessonID string) error
	HasCompletedLesson(ctx context.Context, subjectID, lessonID string) (bool, error)
}

// LessonService marks lessons as done, once per subject.
type LessonService struct {
	marker LessonMarker
	log    logrus.FieldLogger
	now    func() time.Time
	sf     singleflight.Group
}

func NewLessonService(marker LessonMarker, log logrus.FieldLogger) *LessonService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LessonService{marker: marker, log: log, now: time.Now}
}

// MarkDone reports a lesson completion for the calling student.
func (s *LessonService) MarkDone(ctx context.Context, sc domain.SessionContext, lessonID string) (domain.LessonCompletion, error) {
	if sc.Role != domain.RoleStudent {
		return domain.LessonCompletion{}, domain.ErrForbidden
	}
	if sc.SubjectID == "" || lessonID == "" {
		return domain.LessonCompletion{}, domain.ErrMissingIdentifier
	}

	result, err, _ := s.sf.Do(sc.SubjectID+"|"+lessonID, func() (interface{}, error) {
		done, err := s.marker.HasCompletedLesson(ctx, sc.SubjectID, lessonID)
		if err != nil {
			if errors.Is(err, domain.ErrLessonNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("check lesson completion: %w", err)
		}
		if done {
			return nil, domain.ErrAlreadyCompleted
		}
		if err := s.marker.MarkLessonDone(ctx, sc.SubjectID, lessonID); err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrDeliveryFailure, err)
		}
		return domain.LessonCompletion{
			SubjectID:   sc.SubjectID,
			LessonID:    lessonID,
			CompletedAt: s.now(),
		}, nil
	})
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"lesson_id":  lessonID,
			"subject_id": sc.SubjectID,
		}).Warn("mark lesson done failed")
		return domain.LessonCompletion{}, err
	}

	s.log.WithFields(logrus.Fields{
		"lesson_id":  lessonID,
		"subject_id": sc.SubjectID,
	}).Info("lesson marked as done")
	return result.(domain.LessonCompletion), nil
}
