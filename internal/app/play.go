package app

import (
	"sync"
	"time"

	"lms-activity-service/internal/domain"
)

// Play is one play-through of an activity by one subject.
//
// The phase moves AwaitingAnswer -> Revealed -> AwaitingAnswer ... -> Completed, or to
// Abandoned from any non-terminal phase. Only the service drives advance, on a timer.
type Play struct {
	id         string
	activityID string
	subject    domain.SessionContext
	variant    domain.Variant
	questions  []domain.QuestionItem
	policy     ScoringPolicy
	shuffle    func([]string) []string
	now        func() time.Time

	mu            sync.RWMutex
	phase         domain.Phase
	index         int
	score         int
	reveal        *domain.Reveal
	report        *domain.ScoreReport
	delivery      *domain.DeliveryView
	cancelAdvance func() bool
	cancelIdle    func() bool
	idleGen       uint64
	updatedAt     time.Time
	subscribers   map[chan domain.PlayView]struct{}
}

// PlayParams holds everything needed to start a play-through.
type PlayParams struct {
	ID         string
	ActivityID string
	Subject    domain.SessionContext
	Variant    domain.Variant
	Questions  []domain.QuestionItem
	Policy     ScoringPolicy
	Shuffle    func([]string) []string
	Now        func() time.Time
}

// NewPlay is exported for infrastructure layers and tests that need to seed sessions.
func NewPlay(p PlayParams) *Play {
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Shuffle == nil {
		p.Shuffle = func(options []string) []string { return options }
	}
	return &Play{
		id:          p.ID,
		activityID:  p.ActivityID,
		subject:     p.Subject,
		variant:     p.Variant,
		questions:   p.Questions,
		policy:      p.Policy,
		shuffle:     p.Shuffle,
		now:         p.Now,
		phase:       domain.PhaseAwaitingAnswer,
		updatedAt:   p.Now(),
		subscribers: make(map[chan domain.PlayView]struct{}),
	}
}

func (p *Play) ID() string         { return p.id }
func (p *Play) ActivityID() string { return p.activityID }
func (p *Play) SubjectID() string  { return p.subject.SubjectID }

func (p *Play) Phase() domain.Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

// Report returns the score report once the play-through completed.
func (p *Play) Report() (domain.ScoreReport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.report == nil {
		return domain.ScoreReport{}, false
	}
	return *p.report, true
}

func (p *Play) submit(answer string) (domain.Reveal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != domain.PhaseAwaitingAnswer {
		return domain.Reveal{}, domain.ErrInvalidTransition
	}

	q := p.questions[p.index]
	correct := q.Matches(answer)
	if correct {
		p.score++
	}
	p.reveal = &domain.Reveal{
		Index:         p.index,
		Answer:        answer,
		Correct:       correct,
		CorrectAnswer: q.CorrectAnswer,
		Score:         p.score,
	}
	p.phase = domain.PhaseRevealed
	p.touchLocked()
	return *p.reveal, nil
}

// advance returns a report only on the transition into Completed.
func (p *Play) advance() (*domain.ScoreReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.phase != domain.PhaseRevealed {
		return nil, domain.ErrInvalidTransition
	}

	p.reveal = nil
	p.cancelAdvance = nil
	p.index++
	if p.index < len(p.questions) {
		p.phase = domain.PhaseAwaitingAnswer
		p.touchLocked()
		return nil, nil
	}

	p.phase = domain.PhaseCompleted
	p.stopIdleLocked()
	report := domain.ScoreReport{
		SessionID:   p.id,
		SubjectID:   p.subject.SubjectID,
		ActivityID:  p.activityID,
		FinalScore:  p.policy.FinalScore(p.score),
		CompletedAt: p.now(),
	}
	p.report = &report
	p.touchLocked()
	return &report, nil
}

// abandon discards a non-terminal play-through and cancels its pending timers.
func (p *Play) abandon() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abandonLocked()
}

// abandonIdle abandons the play-through only if gen is still its current idle timer.
func (p *Play) abandonIdle(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.idleGen {
		return false
	}
	p.cancelIdle = nil
	return p.abandonLocked()
}

func (p *Play) abandonLocked() bool {
	if p.phase.Terminal() {
		return false
	}
	if p.cancelAdvance != nil {
		p.cancelAdvance()
		p.cancelAdvance = nil
	}
	p.stopIdleLocked()
	p.phase = domain.PhaseAbandoned
	p.reveal = nil
	p.touchLocked()
	return true
}

// nextIdle stops the current idle timer and returns the generation of the next one.
// It reports false once the play-through is terminal.
func (p *Play) nextIdle() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase.Terminal() {
		return 0, false
	}
	p.stopIdleLocked()
	return p.idleGen, true
}

func (p *Play) setIdleCancel(gen uint64, cancel func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.idleGen || p.phase.Terminal() {
		cancel()
		return
	}
	p.cancelIdle = cancel
}

func (p *Play) stopIdleLocked() {
	if p.cancelIdle != nil {
		p.cancelIdle()
		p.cancelIdle = nil
	}
	p.idleGen++
}

func (p *Play) setAdvanceCancel(cancel func() bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelAdvance = cancel
}

func (p *Play) recordDelivery(result domain.DeliveryResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivery = result.View()
	p.touchLocked()
}

func (p *Play) touchLocked() {
	p.updatedAt = p.now()
	p.broadcastLocked()
}

// View returns a snapshot with freshly shuffled options.
func (p *Play) View() domain.PlayView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Play) snapshotLocked() domain.PlayView {
	view := domain.PlayView{
		SessionID:  p.id,
		ActivityID: p.activityID,
		Variant:    p.variant,
		Phase:      p.phase,
		Index:      p.index,
		Total:      len(p.questions),
		Score:      p.score,
		Delivery:   p.delivery,
		UpdatedAt:  p.updatedAt,
	}
	if p.index < len(p.questions) && !p.phase.Terminal() {
		q := p.questions[p.index]
		view.Question = &domain.QuestionView{
			Number:  p.index + 1,
			Prompt:  q.Prompt,
			Options: p.shuffle(q.Options),
		}
	}
	if p.reveal != nil {
		reveal := *p.reveal
		view.Reveal = &reveal
	}
	if p.report != nil {
		final := p.report.FinalScore
		view.FinalScore = &final
	}
	return view
}

func (p *Play) subscribe() (<-chan domain.PlayView, func()) {
	ch := make(chan domain.PlayView, 8)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	initial := p.snapshotLocked()
	p.mu.Unlock()

	ch <- initial

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

func (p *Play) broadcastLocked() {
	if len(p.subscribers) == 0 {
		return
	}
	view := p.snapshotLocked()
	for ch := range p.subscribers {
		select {
		case ch <- view:
		default:
			// drop the oldest update so a slow reader never blocks a transition
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}
