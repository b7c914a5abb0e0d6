package app

import (
	"sort"
	"sync"
	"time"

	"lms-activity-service/internal/domain"
)

// Board is the in-memory scoreboard of one activity.
type Board struct {
	activityID   string
	now          func() time.Time
	mu           sync.RWMutex
	participants map[string]*domain.Participant
	subscribers  map[chan domain.Leaderboard]struct{}
}

func newBoard(activityID string, now func() time.Time) *Board {
	return &Board{
		activityID:   activityID,
		now:          now,
		participants: make(map[string]*domain.Participant),
		subscribers:  make(map[chan domain.Leaderboard]struct{}),
	}
}

// record keeps the best final score of a subject.
func (b *Board) record(subjectID, displayName string, score int) domain.Leaderboard {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	participant, ok := b.participants[subjectID]
	if !ok {
		b.participants[subjectID] = &domain.Participant{
			SubjectID:   subjectID,
			DisplayName: displayName,
			Score:       score,
			LastUpdated: now,
		}
		return b.broadcastLocked()
	}
	if displayName != "" {
		participant.DisplayName = displayName
	}
	if score > participant.Score {
		participant.Score = score
		participant.LastUpdated = now
	}
	return b.broadcastLocked()
}

func (b *Board) snapshot() domain.Leaderboard {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Board) subscribe() (<-chan domain.Leaderboard, func()) {
	ch := make(chan domain.Leaderboard, 8)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	initial := b.snapshotLocked()
	b.mu.Unlock()

	ch <- initial

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

func (b *Board) broadcastLocked() domain.Leaderboard {
	lb := b.snapshotLocked()
	for ch := range b.subscribers {
		select {
		case ch <- lb:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- lb
		}
	}
	return lb
}

func (b *Board) snapshotLocked() domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(b.participants))
	for _, participant := range b.participants {
		entries = append(entries, domain.LeaderboardEntry{
			SubjectID:   participant.SubjectID,
			DisplayName: participant.DisplayName,
			Score:       participant.Score,
		})
	}

	// score desc, then whoever reached it first, then name
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi := b.participants[entries[i].SubjectID]
		pj := b.participants[entries[j].SubjectID]
		if pi != nil && pj != nil && !pi.LastUpdated.Equal(pj.LastUpdated) {
			return pi.LastUpdated.Before(pj.LastUpdated)
		}
		return entries[i].DisplayName < entries[j].DisplayName
	})

	return domain.Leaderboard{
		ActivityID: b.activityID,
		Entries:    entries,
		UpdatedAt:  b.now(),
	}
}

// Boards holds one Board per activity.
type Boards struct {
	now    func() time.Time
	mu     sync.Mutex
	boards map[string]*Board
}

func NewBoards(now func() time.Time) *Boards {
	if now == nil {
		now = time.Now
	}
	return &Boards{now: now, boards: make(map[string]*Board)}
}

func (b *Boards) get(activityID string) *Board {
	b.mu.Lock()
	defer b.mu.Unlock()
	board, ok := b.boards[activityID]
	if !ok {
		board = newBoard(activityID, b.now)
		b.boards[activityID] = board
	}
	return board
}
