package memory

import (
	"context"
	"sync"
)

// LessonLedger records lesson completions in process memory. Used when no LMS API is configured.
type LessonLedger struct {
	mu   sync.RWMutex
	done map[string]struct{}
}

func NewLessonLedger() *LessonLedger {
	return &LessonLedger{done: make(map[string]struct{})}
}

func (l *LessonLedger) MarkLessonDone(_ context.Context, subjectID, lessonID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.done[subjectID+"|"+lessonID] = struct{}{}
	return nil
}

func (l *LessonLedger) HasCompletedLesson(_ context.Context, subjectID, lessonID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.done[subjectID+"|"+lessonID]
	return ok, nil
}
