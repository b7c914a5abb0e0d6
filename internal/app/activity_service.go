package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lms-activity-service/internal/domain"
)

// SessionRepository abstracts where live play-throughs are kept (in-memory, Redis, etc).
type SessionRepository interface {
	Put(play *Play)
	Get(sessionID string) (*Play, bool)
	Delete(sessionID string)
}

// ActivityRepository loads activity metadata (from cache/backing store).
type ActivityRepository interface {
	GetActivity(ctx context.Context, activityID string) (domain.Activity, error)
}

// CompletionReporter hands a final score to the LMS API.
type CompletionReporter interface {
	Report(ctx context.Context, report domain.ScoreReport) domain.DeliveryResult
}

// CompletionChecker answers whether a subject already completed an activity remotely.
type CompletionChecker interface {
	HasCompletedActivity(ctx context.Context, subjectID, activityID string) (bool, error)
}

const (
	DefaultRevealDelay     = 1500 * time.Millisecond
	DefaultRetainCompleted = 10 * time.Minute
	DefaultIdleTimeout     = 30 * time.Minute
)

// Options wires an ActivityService. Completions, Boards, Scheduler, Questions and Logger are optional.
type Options struct {
	Sessions        SessionRepository
	Activities      ActivityRepository
	Reporter        CompletionReporter
	Completions     CompletionChecker
	Questions       *QuestionSource
	Boards          *Boards
	Scheduler       Scheduler
	Policies        Policies
	RevealDelay     time.Duration
	RetainCompleted time.Duration
	IdleTimeout     time.Duration
	Logger          logrus.FieldLogger
	NewID           func() string
	Now             func() time.Time
}

// ActivityService contains the activity play-through use cases.
type ActivityService struct {
	sessions        SessionRepository
	activities      ActivityRepository
	reporter        CompletionReporter
	completions     CompletionChecker
	questions       *QuestionSource
	boards          *Boards
	scheduler       Scheduler
	policies        Policies
	revealDelay     time.Duration
	retainCompleted time.Duration
	idleTimeout     time.Duration
	log             logrus.FieldLogger
	newID           func() string
	now             func() time.Time

	// live play-throughs by subject and activity
	mu   sync.Mutex
	live map[string]*Play
}

func NewActivityService(opts Options) *ActivityService {
	s := &ActivityService{
		sessions:        opts.Sessions,
		activities:      opts.Activities,
		reporter:        opts.Reporter,
		completions:     opts.Completions,
		questions:       opts.Questions,
		boards:          opts.Boards,
		scheduler:       opts.Scheduler,
		policies:        opts.Policies,
		revealDelay:     opts.RevealDelay,
		retainCompleted: opts.RetainCompleted,
		idleTimeout:     opts.IdleTimeout,
		log:             opts.Logger,
		newID:           opts.NewID,
		now:             opts.Now,
		live:            make(map[string]*Play),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.questions == nil {
		s.questions = NewQuestionSource()
	}
	if s.boards == nil {
		s.boards = NewBoards(s.now)
	}
	if s.scheduler == nil {
		s.scheduler = TimerScheduler{}
	}
	if s.revealDelay <= 0 {
		s.revealDelay = DefaultRevealDelay
	}
	if s.retainCompleted <= 0 {
		s.retainCompleted = DefaultRetainCompleted
	}
	if s.idleTimeout <= 0 {
		s.idleTimeout = DefaultIdleTimeout
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	return s
}

// Activity returns the activity metadata.
func (s *ActivityService) Activity(ctx context.Context, activityID string) (domain.Activity, error) {
	return s.activities.GetActivity(ctx, activityID)
}

// Start begins a new play-through. Only students play; an activity already completed
// remotely cannot be replayed. A subject with a live play-through of the activity gets
// that one back instead of a second one.
func (s *ActivityService) Start(ctx context.Context, sc domain.SessionContext, activityID string) (domain.PlayView, error) {
	if sc.Role != domain.RoleStudent {
		return domain.PlayView{}, domain.ErrForbidden
	}

	activity, err := s.activities.GetActivity(ctx, activityID)
	if err != nil {
		return domain.PlayView{}, err
	}
	if play, ok := s.liveFor(sc.SubjectID, activity.ID); ok {
		return play.View(), nil
	}
	variant := activity.Variant()
	questions, err := s.questions.Build(variant)
	if err != nil {
		return domain.PlayView{}, err
	}

	// Without a subject the missing identifier is surfaced at completion instead.
	if sc.SubjectID != "" && s.completions != nil {
		done, err := s.completions.HasCompletedActivity(ctx, sc.SubjectID, activity.ID)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"activity_id": activity.ID,
				"subject_id":  sc.SubjectID,
			}).Warn("completion check failed, starting anyway")
		} else if done {
			return domain.PlayView{}, domain.ErrAlreadyCompleted
		}
	}

	play := NewPlay(PlayParams{
		ID:         s.newID(),
		ActivityID: activity.ID,
		Subject:    sc,
		Variant:    variant,
		Questions:  questions,
		Policy:     s.policies.For(variant),
		Shuffle:    s.questions.Shuffle,
		Now:        s.now,
	})
	if existing, ok := s.register(play); !ok {
		return existing.View(), nil
	}
	s.sessions.Put(play)
	s.armIdle(play)

	s.log.WithFields(logrus.Fields{
		"session_id":  play.ID(),
		"activity_id": activity.ID,
		"subject_id":  sc.SubjectID,
		"variant":     variant.String(),
	}).Info("activity session started")
	return play.View(), nil
}

// SubmitAnswer checks an answer for the current question and schedules the advance
// after the reveal delay.
func (s *ActivityService) SubmitAnswer(_ context.Context, sc domain.SessionContext, sessionID, answer string) (domain.Reveal, error) {
	play, err := s.lookup(sc, sessionID)
	if err != nil {
		return domain.Reveal{}, err
	}

	reveal, err := play.submit(answer)
	if err != nil {
		return domain.Reveal{}, err
	}

	cancel := s.scheduler.AfterFunc(s.revealDelay, func() { s.advance(play) })
	play.setAdvanceCancel(cancel)
	s.armIdle(play)
	return reveal, nil
}

// Session returns the current view of a play-through.
func (s *ActivityService) Session(_ context.Context, sc domain.SessionContext, sessionID string) (domain.PlayView, error) {
	play, err := s.lookup(sc, sessionID)
	if err != nil {
		return domain.PlayView{}, err
	}
	return play.View(), nil
}

// Abandon discards a play-through. Nothing is ever reported for an abandoned session.
func (s *ActivityService) Abandon(_ context.Context, sc domain.SessionContext, sessionID string) error {
	play, err := s.lookup(sc, sessionID)
	if err != nil {
		return err
	}
	if play.abandon() {
		s.log.WithFields(logrus.Fields{
			"session_id":  play.ID(),
			"activity_id": play.ActivityID(),
			"subject_id":  play.SubjectID(),
		}).Info("activity session abandoned")
	}
	s.release(play)
	s.sessions.Delete(sessionID)
	return nil
}

// Subscribe returns a channel that receives session updates.
// The caller must invoke the returned cancel function to avoid leaks.
func (s *ActivityService) Subscribe(_ context.Context, sc domain.SessionContext, sessionID string) (<-chan domain.PlayView, func(), error) {
	play, err := s.lookup(sc, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := play.subscribe()
	return ch, cancel, nil
}

// Leaderboard returns the current scoreboard of an activity.
func (s *ActivityService) Leaderboard(_ context.Context, activityID string) domain.Leaderboard {
	return s.boards.get(activityID).snapshot()
}

// SubscribeLeaderboard streams scoreboard updates of an activity.
func (s *ActivityService) SubscribeLeaderboard(_ context.Context, activityID string) (<-chan domain.Leaderboard, func()) {
	return s.boards.get(activityID).subscribe()
}

func (s *ActivityService) lookup(sc domain.SessionContext, sessionID string) (*Play, error) {
	play, ok := s.sessions.Get(sessionID)
	if !ok || play.SubjectID() != sc.SubjectID {
		return nil, domain.ErrSessionNotFound
	}
	return play, nil
}

func (s *ActivityService) advance(play *Play) {
	report, err := play.advance()
	if err != nil {
		// abandoned while the reveal was showing
		s.log.WithField("session_id", play.ID()).WithError(err).Debug("advance skipped")
		return
	}
	if report == nil {
		s.armIdle(play)
		return
	}
	s.complete(context.Background(), play, *report)
}

func (s *ActivityService) complete(ctx context.Context, play *Play, report domain.ScoreReport) {
	log := s.log.WithFields(logrus.Fields{
		"session_id":  report.SessionID,
		"activity_id": report.ActivityID,
		"subject_id":  report.SubjectID,
		"score":       report.FinalScore,
	})
	log.Info("activity session completed")
	s.release(play)

	if report.SubjectID != "" {
		s.boards.get(report.ActivityID).record(report.SubjectID, play.subject.DisplayName, report.FinalScore)
	}

	result := s.reporter.Report(ctx, report)
	play.recordDelivery(result)
	switch result.Status {
	case domain.DeliveryDelivered:
		log.Info("score delivered")
	case domain.DeliveryPending:
		log.WithError(result.Err).Warn("score delivery deferred")
	case domain.DeliveryFailed, domain.DeliverySkipped:
		log.WithError(result.Err).Error("score not delivered")
	}

	s.scheduler.AfterFunc(s.retainCompleted, func() { s.sessions.Delete(play.ID()) })
}

// liveFor returns the unfinished play-through of a subject, if any.
func (s *ActivityService) liveFor(subjectID, activityID string) (*Play, bool) {
	if subjectID == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	play, ok := s.live[subjectID+"|"+activityID]
	if !ok || play.Phase().Terminal() {
		return nil, false
	}
	return play, true
}

// register records play as the live play-through of its subject. It returns the
// existing one and false when another start got there first.
func (s *ActivityService) register(play *Play) (*Play, bool) {
	if play.SubjectID() == "" {
		return play, true
	}
	key := play.SubjectID() + "|" + play.ActivityID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.live[key]; ok && !existing.Phase().Terminal() {
		return existing, false
	}
	s.live[key] = play
	return play, true
}

func (s *ActivityService) release(play *Play) {
	key := play.SubjectID() + "|" + play.ActivityID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.live[key] == play {
		delete(s.live, key)
	}
}

// armIdle (re)starts the timer that abandons a play-through nobody touches.
func (s *ActivityService) armIdle(play *Play) {
	gen, ok := play.nextIdle()
	if !ok {
		return
	}
	cancel := s.scheduler.AfterFunc(s.idleTimeout, func() { s.expireIdle(play, gen) })
	play.setIdleCancel(gen, cancel)
}

func (s *ActivityService) expireIdle(play *Play, gen uint64) {
	if !play.abandonIdle(gen) {
		return
	}
	s.log.WithFields(logrus.Fields{
		"session_id":  play.ID(),
		"activity_id": play.ActivityID(),
		"subject_id":  play.SubjectID(),
	}).Info("idle activity session abandoned")
	s.release(play)
	s.sessions.Delete(play.ID())
}
