package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"lms-activity-service/internal/app"
	"lms-activity-service/internal/domain"
)

type RouterConfig struct {
	Activities     *app.ActivityService
	Lessons        *app.LessonService
	Auth           *Authenticator
	AllowedOrigins []string
	Logger         logrus.FieldLogger
}

// NewRouter wires the REST API and the websocket endpoint.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("")
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	h := &handlers{activities: cfg.Activities, lessons: cfg.Lessons, log: cfg.Logger}
	ws := NewWSHandler(cfg.Activities, cfg.Auth, cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(cfg.Logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Subject-ID", "X-Role", "X-Display-Name"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/ws", ws.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Get("/activities/{activityID}", h.getActivity)
		r.Post("/activities/{activityID}/sessions", h.startSession)
		r.Get("/activities/{activityID}/leaderboard", h.leaderboard)

		r.Get("/sessions/{sessionID}", h.getSession)
		r.Post("/sessions/{sessionID}/answers", h.submitAnswer)
		r.Delete("/sessions/{sessionID}", h.abandon)

		r.Post("/lessons/{lessonID}/done", h.markLessonDone)
	})
	return r
}

type handlers struct {
	activities *app.ActivityService
	lessons    *app.LessonService
	log        logrus.FieldLogger
}

func (h *handlers) getActivity(w http.ResponseWriter, r *http.Request) {
	activity, err := h.activities.Activity(r.Context(), chi.URLParam(r, "activityID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (h *handlers) startSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.activities.Start(r.Context(), SessionFrom(r.Context()), chi.URLParam(r, "activityID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.activities.Session(r.Context(), SessionFrom(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (h *handlers) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid answer payload"})
		return
	}
	reveal, err := h.activities.SubmitAnswer(r.Context(), SessionFrom(r.Context()), chi.URLParam(r, "sessionID"), req.Answer)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reveal)
}

func (h *handlers) abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.activities.Abandon(r.Context(), SessionFrom(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) leaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.activities.Leaderboard(r.Context(), chi.URLParam(r, "activityID")))
}

func (h *handlers) markLessonDone(w http.ResponseWriter, r *http.Request) {
	done, err := h.lessons.MarkDone(r.Context(), SessionFrom(r.Context()), chi.URLParam(r, "lessonID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, done)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrActivityNotFound),
		errors.Is(err, domain.ErrLessonNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAlreadyCompleted),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingIdentifier),
		errors.Is(err, domain.ErrUnknownVariant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrDeliveryFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func requestLogger(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Debug("http request")
		})
	}
}
