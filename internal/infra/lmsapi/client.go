// Package lmsapi talks to the learning platform's REST API: activity metadata,
// final score submission and lesson completion.
package lmsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"lms-activity-service/internal/domain"
)

type Config struct {
	BaseURL string
	// Token is a service bearer token; empty sends unauthenticated requests.
	Token   string
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

func New(cfg Config) *Client {
	h := &http.Client{}
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		h = oauth2.NewClient(context.Background(), ts)
	}
	if cfg.Timeout > 0 {
		h.Timeout = cfg.Timeout
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), http: h}
}

type studentRef struct {
	StudentID string `json:"studentId"`
}

type activityPayload struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	Description     string       `json:"description"`
	Content         string       `json:"content"`
	Points          int          `json:"points"`
	StudentActivity []studentRef `json:"StudentActivity"`
}

type lessonPayload struct {
	ID            string       `json:"id"`
	StudentLesson []studentRef `json:"StudentLesson"`
}

// LoadActivity fetches GET /api/activities/{id}.
func (c *Client) LoadActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	payload, err := c.activity(ctx, activityID)
	if err != nil {
		return domain.Activity{}, err
	}
	id := payload.ID
	if id == "" {
		id = activityID
	}
	return domain.Activity{
		ID:          id,
		Name:        payload.Name,
		Description: payload.Description,
		Content:     payload.Content,
		Points:      payload.Points,
	}, nil
}

// HasCompletedActivity reports whether the activity's StudentActivity list contains the subject.
func (c *Client) HasCompletedActivity(ctx context.Context, subjectID, activityID string) (bool, error) {
	payload, err := c.activity(ctx, activityID)
	if err != nil {
		return false, err
	}
	return containsStudent(payload.StudentActivity, subjectID), nil
}

// SubmitFinalScore posts the final score. The session id is sent as the idempotency key.
func (c *Client) SubmitFinalScore(ctx context.Context, report domain.ScoreReport) error {
	body := map[string]any{
		"studentId":  report.SubjectID,
		"activityId": report.ActivityID,
		"score":      report.FinalScore,
	}
	headers := map[string]string{}
	if report.SessionID != "" {
		headers["Idempotency-Key"] = report.SessionID
	}
	return c.do(ctx, "submit final score", http.MethodPost, "/api/activities/submit-score", body, headers, nil)
}

// MarkLessonDone posts to /api/lessons/mark-as-done.
func (c *Client) MarkLessonDone(ctx context.Context, subjectID, lessonID string) error {
	body := map[string]any{
		"studentId": subjectID,
		"lessonId":  lessonID,
	}
	return c.do(ctx, "mark lesson done", http.MethodPost, "/api/lessons/mark-as-done", body, nil, nil)
}

// HasCompletedLesson reports whether the lesson's StudentLesson list contains the subject.
func (c *Client) HasCompletedLesson(ctx context.Context, subjectID, lessonID string) (bool, error) {
	var payload lessonPayload
	err := c.do(ctx, "get lesson", http.MethodGet, "/api/lessons/"+url.PathEscape(lessonID), nil, nil, &payload)
	if err != nil {
		if domain.StatusOf(err) == http.StatusNotFound {
			return false, domain.ErrLessonNotFound
		}
		return false, err
	}
	return containsStudent(payload.StudentLesson, subjectID), nil
}

func (c *Client) activity(ctx context.Context, activityID string) (activityPayload, error) {
	var payload activityPayload
	err := c.do(ctx, "get activity", http.MethodGet, "/api/activities/"+url.PathEscape(activityID), nil, nil, &payload)
	if err != nil {
		if domain.StatusOf(err) == http.StatusNotFound {
			return activityPayload{}, domain.ErrActivityNotFound
		}
		return activityPayload{}, err
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in any, headers map[string]string, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, res.Body)
		return &domain.RemoteError{Op: op, StatusCode: res.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}

func containsStudent(refs []studentRef, subjectID string) bool {
	for _, ref := range refs {
		if ref.StudentID == subjectID {
			return true
		}
	}
	return false
}
