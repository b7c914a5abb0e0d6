package http

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"lms-activity-service/internal/app"
	"lms-activity-service/internal/domain"
	"lms-activity-service/internal/infra/memory"
)

type recordingReporter struct {
	mu      sync.Mutex
	reports []domain.ScoreReport
}

func (r *recordingReporter) Report(_ context.Context, report domain.ScoreReport) domain.DeliveryResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return domain.DeliveryResult{Status: domain.DeliveryDelivered}
}

func (r *recordingReporter) Reports() []domain.ScoreReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.ScoreReport(nil), r.reports...)
}

type stubLessons struct {
	mu     sync.Mutex
	done   map[string]bool
	marked int
}

func (s *stubLessons) MarkLessonDone(_ context.Context, subjectID, lessonID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[subjectID+"|"+lessonID] = true
	s.marked++
	return nil
}

func (s *stubLessons) HasCompletedLesson(_ context.Context, subjectID, lessonID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[subjectID+"|"+lessonID], nil
}

type fixture struct {
	activities *app.ActivityService
	lessons    *app.LessonService
	reporter   *recordingReporter
	marker     *stubLessons
	log        *logrus.Logger
}

func newFixture(t *testing.T, revealDelay time.Duration) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	reporter := &recordingReporter{}
	marker := &stubLessons{done: map[string]bool{}}
	activities := app.NewActivityService(app.Options{
		Sessions:    memory.NewSessionStore(),
		Activities:  memory.NewActivityRepository(memory.NewStaticActivityLoader(memory.SampleActivities()), time.Minute),
		Reporter:    reporter,
		Questions:   app.NewSeededQuestionSource(7),
		RevealDelay: revealDelay,
		Logger:      log,
	})
	return &fixture{
		activities: activities,
		lessons:    app.NewLessonService(marker, log),
		reporter:   reporter,
		marker:     marker,
		log:        log,
	}
}
