package memory

import (
	"sync"

	"lms-activity-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Play
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Play),
	}
}

func (s *SessionStore) Put(play *app.Play) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[play.ID()] = play
}

func (s *SessionStore) Get(sessionID string) (*app.Play, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	play, ok := s.sessions[sessionID]
	return play, ok
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// Len reports how many sessions are held.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
