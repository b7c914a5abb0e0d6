package domain

import (
	"strconv"
	"strings"
	"time"
)

// Role gates what a caller may do.
type Role string

const (
	RoleAdmin   Role = "Admin"
	RoleTeacher Role = "Teacher"
	RoleStudent Role = "Student"
)

// SessionContext is the caller identity handed to the use cases.
type SessionContext struct {
	SubjectID   string
	DisplayName string
	Role        Role
}

// Activity is the catalog entry served by the LMS API.
type Activity struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Content     string `json:"content"`
	Points      int    `json:"points"`
}

// Variant resolves the game played by the activity.
func (a Activity) Variant() Variant {
	return ParseVariant(a.Content)
}

// PromptKind tells the presentation layer how to render a prompt.
type PromptKind string

const (
	PromptCount  PromptKind = "count"
	PromptWord   PromptKind = "word"
	PromptSwatch PromptKind = "swatch"
)

// Prompt is the display payload of a question.
type Prompt struct {
	Kind  PromptKind `json:"kind"`
	Label string     `json:"label,omitempty"`
	Emoji string     `json:"emoji,omitempty"`
	Count int        `json:"count,omitempty"`
	Color string     `json:"color,omitempty"`
}

// QuestionItem is one question of a play-through. Options is nil for free numeric entry.
type QuestionItem struct {
	Prompt        Prompt   `json:"prompt"`
	CorrectAnswer string   `json:"-"`
	Numeric       bool     `json:"-"`
	Options       []string `json:"options,omitempty"`
}

// Matches compares a candidate answer by exact equality: integers for numeric items, strings otherwise.
func (q QuestionItem) Matches(candidate string) bool {
	if !q.Numeric {
		return candidate == q.CorrectAnswer
	}
	got, err := strconv.Atoi(strings.TrimSpace(candidate))
	if err != nil {
		return false
	}
	want, err := strconv.Atoi(q.CorrectAnswer)
	if err != nil {
		return false
	}
	return got == want
}

// Phase is the state of a play-through.
type Phase string

const (
	PhaseAwaitingAnswer Phase = "awaiting_answer"
	PhaseRevealed       Phase = "revealed"
	PhaseCompleted      Phase = "completed"
	PhaseAbandoned      Phase = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned
}

// Reveal is the feedback shown between answering and advancing.
type Reveal struct {
	Index         int    `json:"index"`
	Answer        string `json:"answer"`
	Correct       bool   `json:"correct"`
	CorrectAnswer string `json:"correctAnswer"`
	Score         int    `json:"score"`
}

// QuestionView is the current question as rendered to the subject.
type QuestionView struct {
	Number  int      `json:"number"`
	Prompt  Prompt   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// DeliveryStatus is the outcome of handing a ScoreReport to the LMS API.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliverySkipped   DeliveryStatus = "skipped"
)

// DeliveryResult is returned by the completion reporter. Err is set for every status but delivered.
type DeliveryResult struct {
	Status DeliveryStatus
	Err    error
}

// DeliveryView is the JSON-friendly form of a DeliveryResult.
type DeliveryView struct {
	Status DeliveryStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

func (r DeliveryResult) View() *DeliveryView {
	v := &DeliveryView{Status: r.Status}
	if r.Err != nil {
		v.Error = r.Err.Error()
	}
	return v
}

// PlayView is a snapshot of an activity session.
type PlayView struct {
	SessionID  string        `json:"sessionId"`
	ActivityID string        `json:"activityId"`
	Variant    Variant       `json:"variant"`
	Phase      Phase         `json:"phase"`
	Index      int           `json:"index"`
	Total      int           `json:"total"`
	Score      int           `json:"score"`
	Question   *QuestionView `json:"question,omitempty"`
	Reveal     *Reveal       `json:"reveal,omitempty"`
	FinalScore *int          `json:"finalScore,omitempty"`
	Delivery   *DeliveryView `json:"delivery,omitempty"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// ScoreReport is produced once, when a session completes.
type ScoreReport struct {
	SessionID   string    `json:"sessionId"`
	SubjectID   string    `json:"studentId"`
	ActivityID  string    `json:"activityId"`
	FinalScore  int       `json:"score"`
	CompletedAt time.Time `json:"completedAt"`
}

// PendingReport is a ScoreReport waiting for redelivery.
type PendingReport struct {
	ID            string      `json:"id"`
	Report        ScoreReport `json:"report"`
	Attempts      int         `json:"attempts"`
	NextAttemptAt time.Time   `json:"nextAttemptAt"`
	LastError     string      `json:"lastError,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Participant represents a subject on an activity leaderboard.
type Participant struct {
	SubjectID   string
	DisplayName string
	Score       int
	LastUpdated time.Time
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	SubjectID   string `json:"subjectId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard for an activity.
type Leaderboard struct {
	ActivityID string             `json:"activityId"`
	Entries    []LeaderboardEntry `json:"entries"`
	UpdatedAt  time.Time          `json:"updatedAt"`
}

// LessonCompletion records a lesson marked as done.
type LessonCompletion struct {
	SubjectID   string    `json:"studentId"`
	LessonID    string    `json:"lessonId"`
	CompletedAt time.Time `json:"completedAt"`
}
