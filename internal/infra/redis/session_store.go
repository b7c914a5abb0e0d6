package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lms-activity-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Plays stay in a local map; their timers and subscribers only live in this process.
//   - Redis holds a liveness marker per session (subject and activity) so operators and
//     other instances can see which play-throughs are in flight.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Play
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Play),
	}
}

func (s *SessionStore) Put(play *app.Play) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[play.ID()] = play
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(play.ID()), play.SubjectID()+"|"+play.ActivityID(), s.ttl).Err()
}

// Get also refreshes the marker so it outlives the play-through while it is in use.
func (s *SessionStore) Get(sessionID string) (*app.Play, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	play, ok := s.sessions[sessionID]
	if ok {
		_ = s.client.Expire(context.Background(), s.key(sessionID), s.ttl).Err()
	}
	return play, ok
}

func (s *SessionStore) Delete(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return
	}
	delete(s.sessions, sessionID)
	_ = s.client.Del(context.Background(), s.key(sessionID)).Err()
}

func (s *SessionStore) key(sessionID string) string {
	return "activity:session:" + sessionID
}
