package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lms-activity-service/internal/app"
	"lms-activity-service/internal/domain"
)

type WSHandler struct {
	service  *app.ActivityService
	auth     *Authenticator
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.ActivityService, auth *Authenticator, log logrus.FieldLogger) *WSHandler {
	if auth == nil {
		auth = NewAuthenticator("")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &WSHandler{
		service: service,
		auth:    auth,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and runs one activity play-through over them.
// Closing the socket before completion abandons the session.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	activityID := r.URL.Query().Get("activityId")
	if activityID == "" {
		http.Error(w, "missing activityId", http.StatusBadRequest)
		return
	}
	sc, err := h.auth.Identify(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("ws upgrade failed")
		return
	}
	defer conn.Close()

	// the play-through outlives request cancellation until the socket closes
	ctx := context.WithoutCancel(r.Context())

	started, err := h.service.Start(ctx, sc, activityID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	sessionID := started.SessionID
	log := h.log.WithFields(logrus.Fields{"session_id": sessionID, "activity_id": activityID})

	updates, cancel, err := h.service.Subscribe(ctx, sc, sessionID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.abandonUnfinished(ctx, sc, sessionID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.WithError(err).Debug("ws write error")
				// unblock the read loop
				_ = conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: messageType(update), Payload: update}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			// the reveal reaches the client through the session updates
			if _, err := h.service.SubmitAnswer(ctx, sc, sessionID, payload.Answer); err != nil {
				enqueue(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		default:
			enqueue(send, writerDone, outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// enqueue hands msg to the writer unless the writer has already stopped.
func enqueue(send chan<- outboundMessage[any], writerDone <-chan struct{}, msg outboundMessage[any]) bool {
	select {
	case send <- msg:
		return true
	case <-writerDone:
		return false
	}
}

func (h *WSHandler) abandonUnfinished(ctx context.Context, sc domain.SessionContext, sessionID string) {
	view, err := h.service.Session(ctx, sc, sessionID)
	if err != nil || view.Phase.Terminal() {
		return
	}
	_ = h.service.Abandon(ctx, sc, sessionID)
}

func messageType(view domain.PlayView) string {
	switch view.Phase {
	case domain.PhaseRevealed:
		return "revealed"
	case domain.PhaseCompleted:
		if view.Delivery != nil {
			return "delivery"
		}
		return "completed"
	default:
		return "session"
	}
}
