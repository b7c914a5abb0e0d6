package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"lms-activity-service/internal/app"
	"lms-activity-service/internal/domain"
	"lms-activity-service/internal/infra/memory"
	"lms-activity-service/internal/report"
)

type countingSubmitter struct {
	mu      sync.Mutex
	calls   int
	reports []domain.ScoreReport
	err     error
}

func (s *countingSubmitter) SubmitFinalScore(_ context.Context, r domain.ScoreReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.reports = append(s.reports, r)
	return s.err
}

func (s *countingSubmitter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubChecker struct {
	done bool
	err  error
}

func (c stubChecker) HasCompletedActivity(context.Context, string, string) (bool, error) {
	return c.done, c.err
}

type harness struct {
	service   *app.ActivityService
	sessions  *memory.SessionStore
	submitter *countingSubmitter
	scheduler *manualScheduler
	hook      *test.Hook
}

func newHarness(t *testing.T, opts app.Options) *harness {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	h := &harness{
		sessions:  memory.NewSessionStore(),
		submitter: &countingSubmitter{},
		scheduler: &manualScheduler{},
		hook:      hook,
	}
	opts.Sessions = h.sessions
	if opts.Activities == nil {
		opts.Activities = memory.NewActivityRepository(memory.NewStaticActivityLoader(memory.SampleActivities()), time.Minute)
	}
	if opts.Reporter == nil {
		opts.Reporter = report.NewReporter(h.submitter, nil, report.Config{}, log)
	}
	opts.Scheduler = h.scheduler
	opts.Questions = app.NewSeededQuestionSource(11)
	opts.Logger = log
	h.service = app.NewActivityService(opts)
	return h
}

var alice = domain.SessionContext{SubjectID: "student-1", DisplayName: "Alice", Role: domain.RoleStudent}

// playColors answers every name-the-color question, correctly when correct(i) says so.
func playColors(t *testing.T, h *harness, sc domain.SessionContext, correct func(i int) bool) domain.PlayView {
	t.Helper()
	ctx := context.Background()
	view, err := h.service.Start(ctx, sc, "name-the-color")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answers := []string{"Red", "Blue", "Green", "Yellow", "Purple", "Orange", "Pink", "Cyan", "Brown", "Gray"}
	for i := 0; i < view.Total; i++ {
		answer := answers[i]
		if !correct(i) {
			answer = "Nope"
		}
		if _, err := h.service.SubmitAnswer(ctx, sc, view.SessionID, answer); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if n := h.scheduler.fire(app.DefaultRevealDelay); n != 1 {
			t.Fatalf("expected one advance scheduled, got %d", n)
		}
	}
	final, err := h.service.Session(ctx, sc, view.SessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return final
}

func TestPlayThroughReportsExactlyOnce(t *testing.T) {
	h := newHarness(t, app.Options{})

	final := playColors(t, h, alice, func(i int) bool { return i%2 == 0 })
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("expected completed, got %s", final.Phase)
	}
	if final.FinalScore == nil || *final.FinalScore != 5 {
		t.Fatalf("expected final score 5, got %v", final.FinalScore)
	}
	if final.Delivery == nil || final.Delivery.Status != domain.DeliveryDelivered {
		t.Fatalf("expected delivered, got %+v", final.Delivery)
	}
	if h.submitter.Calls() != 1 {
		t.Fatalf("expected exactly one submit, got %d", h.submitter.Calls())
	}
	sent := h.submitter.reports[0]
	if sent.SessionID != final.SessionID || sent.SubjectID != "student-1" || sent.ActivityID != "name-the-color" || sent.FinalScore != 5 {
		t.Fatalf("unexpected report %+v", sent)
	}

	// no advance is left to run and nothing else is reported
	h.scheduler.fire(app.DefaultRevealDelay)
	if _, err := h.service.SubmitAnswer(context.Background(), alice, final.SessionID, "Red"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after completion, got %v", err)
	}
	if h.submitter.Calls() != 1 {
		t.Fatalf("expected still one submit, got %d", h.submitter.Calls())
	}

	lb := h.service.Leaderboard(context.Background(), "name-the-color")
	if len(lb.Entries) != 1 || lb.Entries[0].DisplayName != "Alice" || lb.Entries[0].Score != 5 {
		t.Fatalf("unexpected leaderboard %+v", lb)
	}
}

func TestCompletedSessionIsEvictedAfterRetention(t *testing.T) {
	h := newHarness(t, app.Options{RetainCompleted: time.Minute})
	final := playColors(t, h, alice, func(int) bool { return true })

	if h.scheduler.pending() != 1 {
		t.Fatalf("expected eviction scheduled, got %d pending", h.scheduler.pending())
	}
	h.scheduler.fire(time.Minute)
	if _, err := h.service.Session(context.Background(), alice, final.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected evicted session, got %v", err)
	}
}

func TestMissingSubjectSkipsDelivery(t *testing.T) {
	h := newHarness(t, app.Options{Completions: stubChecker{}})
	anonymous := domain.SessionContext{Role: domain.RoleStudent}

	final := playColors(t, h, anonymous, func(int) bool { return true })
	if final.Delivery == nil || final.Delivery.Status != domain.DeliverySkipped {
		t.Fatalf("expected skipped delivery, got %+v", final.Delivery)
	}
	if h.submitter.Calls() != 0 {
		t.Fatalf("expected no submit without a subject, got %d", h.submitter.Calls())
	}
	if final.Phase != domain.PhaseCompleted {
		t.Fatalf("local completion stands, got %s", final.Phase)
	}
	if lb := h.service.Leaderboard(context.Background(), "name-the-color"); len(lb.Entries) != 0 {
		t.Fatalf("anonymous play must not reach the leaderboard")
	}
}

func TestDeliveryFailureKeepsCompletion(t *testing.T) {
	h := newHarness(t, app.Options{})
	h.submitter.err = &domain.RemoteError{Op: "submit final score", StatusCode: 500}

	final := playColors(t, h, alice, func(int) bool { return true })
	if final.Phase != domain.PhaseCompleted || final.FinalScore == nil || *final.FinalScore != 10 {
		t.Fatalf("expected completed with 10, got %+v", final)
	}
	if final.Delivery == nil || final.Delivery.Status != domain.DeliveryFailed || final.Delivery.Error == "" {
		t.Fatalf("expected failed delivery, got %+v", final.Delivery)
	}
}

func TestAbandonMidSessionNeverReports(t *testing.T) {
	h := newHarness(t, app.Options{})
	ctx := context.Background()

	view, err := h.service.Start(ctx, alice, "name-the-color")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, alice, view.SessionID, "Red"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.service.Abandon(ctx, alice, view.SessionID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if n := h.scheduler.fire(time.Hour); n != 0 {
		t.Fatalf("expected pending advance cancelled, %d ran", n)
	}
	if h.submitter.Calls() != 0 {
		t.Fatalf("abandoned session reported %d times", h.submitter.Calls())
	}
	if _, err := h.service.Session(ctx, alice, view.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected session gone, got %v", err)
	}
	if h.sessions.Len() != 0 {
		t.Fatalf("expected empty session store")
	}
}

func TestStartGuards(t *testing.T) {
	ctx := context.Background()

	h := newHarness(t, app.Options{})
	teacher := domain.SessionContext{SubjectID: "t1", Role: domain.RoleTeacher}
	if _, err := h.service.Start(ctx, teacher, "name-the-color"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := h.service.Start(ctx, alice, "missing"); !errors.Is(err, domain.ErrActivityNotFound) {
		t.Fatalf("expected ErrActivityNotFound, got %v", err)
	}

	unknown := newHarness(t, app.Options{
		Activities: memory.NewActivityRepository(memory.NewStaticActivityLoader(map[string]domain.Activity{
			"quiz": {ID: "quiz", Content: "lesson1"},
		}), time.Minute),
	})
	if _, err := unknown.service.Start(ctx, alice, "quiz"); !errors.Is(err, domain.ErrUnknownVariant) {
		t.Fatalf("expected ErrUnknownVariant, got %v", err)
	}

	done := newHarness(t, app.Options{Completions: stubChecker{done: true}})
	if _, err := done.service.Start(ctx, alice, "name-the-color"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}

	flaky := newHarness(t, app.Options{Completions: stubChecker{err: errors.New("lms down")}})
	if _, err := flaky.service.Start(ctx, alice, "name-the-color"); err != nil {
		t.Fatalf("a failed completion check should not block play: %v", err)
	}
	if flaky.hook.LastEntry() == nil {
		t.Fatalf("expected log entries")
	}
	warned := false
	for _, entry := range flaky.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning for the failed completion check")
	}
}

func TestSessionsAreScopedToSubject(t *testing.T) {
	h := newHarness(t, app.Options{})
	ctx := context.Background()

	view, err := h.service.Start(ctx, alice, "find-the-missing-letter")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	bob := domain.SessionContext{SubjectID: "student-2", Role: domain.RoleStudent}
	if _, err := h.service.SubmitAnswer(ctx, bob, view.SessionID, "p"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := h.service.Abandon(ctx, bob, view.SessionID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLegacyBonusPolicy(t *testing.T) {
	h := newHarness(t, app.Options{Policies: app.Policies{domain.VariantNameTheColor: app.ScoreLegacyBonus}})

	final := playColors(t, h, alice, func(int) bool { return true })
	if final.FinalScore == nil || *final.FinalScore != 11 {
		t.Fatalf("expected legacy final score 11, got %v", final.FinalScore)
	}
	if final.Score != 10 {
		t.Fatalf("session score stays 10, got %d", final.Score)
	}
}

func TestSubscribeStreamsUpdates(t *testing.T) {
	h := newHarness(t, app.Options{})
	ctx := context.Background()

	view, err := h.service.Start(ctx, alice, "name-the-color")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	updates, cancel, err := h.service.Subscribe(ctx, alice, view.SessionID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if first := <-updates; first.Phase != domain.PhaseAwaitingAnswer {
		t.Fatalf("expected awaiting view first, got %s", first.Phase)
	}
	if _, err := h.service.SubmitAnswer(ctx, alice, view.SessionID, "Red"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case update := <-updates:
		if update.Phase != domain.PhaseRevealed {
			t.Fatalf("expected revealed update, got %s", update.Phase)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for update")
	}

	boardUpdates, boardCancel := h.service.SubscribeLeaderboard(ctx, "name-the-color")
	defer boardCancel()
	if lb := <-boardUpdates; len(lb.Entries) != 0 {
		t.Fatalf("expected empty board, got %+v", lb.Entries)
	}
}

func TestIdleSessionsAreAbandonedWithoutReport(t *testing.T) {
	h := newHarness(t, app.Options{IdleTimeout: time.Hour})
	ctx := context.Background()

	var ids []string
	for _, subject := range []string{"student-1", "student-2", "student-3"} {
		sc := domain.SessionContext{SubjectID: subject, Role: domain.RoleStudent}
		view, err := h.service.Start(ctx, sc, "name-the-color")
		if err != nil {
			t.Fatalf("start %s: %v", subject, err)
		}
		ids = append(ids, view.SessionID)
	}

	// answering re-arms the idle timer instead of adding one
	bob := domain.SessionContext{SubjectID: "student-2", Role: domain.RoleStudent}
	if _, err := h.service.SubmitAnswer(ctx, bob, ids[1], "Red"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if n := h.scheduler.fire(app.DefaultRevealDelay); n != 1 {
		t.Fatalf("expected one advance, got %d", n)
	}
	if h.scheduler.pending() != 3 {
		t.Fatalf("expected one idle timer per session, got %d pending", h.scheduler.pending())
	}

	if n := h.scheduler.fire(time.Hour); n != 3 {
		t.Fatalf("expected three idle timers to fire, got %d", n)
	}
	if h.sessions.Len() != 0 {
		t.Fatalf("expected idle sessions dropped, %d held", h.sessions.Len())
	}
	if h.submitter.Calls() != 0 {
		t.Fatalf("idle sessions reported %d times", h.submitter.Calls())
	}
	if _, err := h.service.Session(ctx, bob, ids[1]); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if h.scheduler.pending() != 0 {
		t.Fatalf("expected nothing left scheduled, got %d", h.scheduler.pending())
	}
}

func TestCompletedSessionHasNoIdleTimer(t *testing.T) {
	h := newHarness(t, app.Options{IdleTimeout: time.Hour, RetainCompleted: 2 * time.Hour})
	final := playColors(t, h, alice, func(int) bool { return true })

	if n := h.scheduler.fire(time.Hour); n != 0 {
		t.Fatalf("expected no idle timer after completion, %d ran", n)
	}
	if _, err := h.service.Session(context.Background(), alice, final.SessionID); err != nil {
		t.Fatalf("completed session should be retained: %v", err)
	}
}

func TestStartResumesLiveSession(t *testing.T) {
	h := newHarness(t, app.Options{})
	ctx := context.Background()

	first, err := h.service.Start(ctx, alice, "name-the-color")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.service.SubmitAnswer(ctx, alice, first.SessionID, "Red"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := h.service.Start(ctx, alice, "name-the-color")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.SessionID != first.SessionID || second.Phase != domain.PhaseRevealed {
		t.Fatalf("expected the live session back, got %s in %s", second.SessionID, second.Phase)
	}
	if h.sessions.Len() != 1 {
		t.Fatalf("expected one session, got %d", h.sessions.Len())
	}

	bob := domain.SessionContext{SubjectID: "student-2", Role: domain.RoleStudent}
	other, err := h.service.Start(ctx, bob, "name-the-color")
	if err != nil {
		t.Fatalf("bob start: %v", err)
	}
	if other.SessionID == first.SessionID {
		t.Fatalf("subjects must not share sessions")
	}

	if err := h.service.Abandon(ctx, alice, first.SessionID); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	fresh, err := h.service.Start(ctx, alice, "name-the-color")
	if err != nil {
		t.Fatalf("start after abandon: %v", err)
	}
	if fresh.SessionID == first.SessionID || fresh.Phase != domain.PhaseAwaitingAnswer {
		t.Fatalf("expected a new session after abandon, got %+v", fresh)
	}
}
