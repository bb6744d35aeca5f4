package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
	"quiz-attempt-service/internal/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// WSHandler turns a WebSocket connection into a leaderboard viewer session.
type WSHandler struct {
	broadcaster *app.LeaderboardBroadcaster
	coordinator *app.SubmissionCoordinator
	log         *logger.Logger
	upgrader    websocket.Upgrader
}

func NewWSHandler(broadcaster *app.LeaderboardBroadcaster, coordinator *app.SubmissionCoordinator, log *logger.Logger) *WSHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &WSHandler{
		broadcaster: broadcaster,
		coordinator: coordinator,
		log:         log.With("component", "WSHandler"),
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

type topicPayload struct {
	Topic string `json:"topic"`
}

type subscribedPayload struct {
	Topic       string              `json:"topic"`
	Leaderboard *domain.Leaderboard `json:"leaderboard,omitempty"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

// ServeWS upgrades the request and streams leaderboard events for the
// topics the viewer subscribes to, either via ?topic= or subscribe messages.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	caller := callerFrom(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := h.broadcaster.NewSession(caller.ID)
	log := h.log.With("sessionID", session.ID, "viewerID", caller.ID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	// single writer; gorilla connections allow one concurrent writer
	go func() {
		defer close(writerDone)
		ping := time.NewTicker(pingPeriod)
		defer ping.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("ws write failed", "error", err)
					// unblocks the reader
					_ = conn.Close()
					return
				}
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		case <-closeSignals:
		}
	}

	go func() {
		defer close(eventsDone)
		for event := range session.Events() {
			push(outboundMessage[any]{Type: "leaderboard", Payload: event})
		}
	}()

	for _, topic := range r.URL.Query()["topic"] {
		h.subscribe(r, session, topic, push)
	}

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var payload topicPayload
		if len(inbound.Payload) > 0 {
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(errorMessage("invalid payload"))
				continue
			}
		}
		switch inbound.Type {
		case "subscribe":
			h.subscribe(r, session, payload.Topic, push)
		case "unsubscribe":
			h.broadcaster.Unsubscribe(session, payload.Topic)
			push(outboundMessage[any]{Type: "unsubscribed", Payload: topicPayload{Topic: payload.Topic}})
		default:
			push(errorMessage("unsupported message type"))
		}
	}

	close(closeSignals)
	h.broadcaster.Disconnect(session)
	<-eventsDone
	close(send)
	<-writerDone
	log.Debug("viewer session closed", "dropped", session.Dropped())
}

// subscribe registers the topic and answers with the current standings: the
// quiz board for a quiz topic, the cross-quiz top list for the global one.
func (h *WSHandler) subscribe(r *http.Request, session *app.ViewerSession, topic string, push func(outboundMessage[any])) {
	if err := h.broadcaster.Subscribe(session, topic); err != nil {
		push(errorMessage(err.Error()))
		return
	}
	payload := subscribedPayload{Topic: topic}
	if h.coordinator != nil {
		board, err := h.snapshot(r, topic)
		if err != nil {
			h.log.Warn("leaderboard snapshot failed", "topic", topic, "error", err)
		} else {
			payload.Leaderboard = board
		}
	}
	push(outboundMessage[any]{Type: "subscribed", Payload: payload})
}

// snapshot returns nil for topics without a board.
func (h *WSHandler) snapshot(r *http.Request, topic string) (*domain.Leaderboard, error) {
	if topic == domain.GlobalTopic {
		board, err := h.coordinator.GlobalLeaderboard(r.Context(), 0)
		return &board, err
	}
	if quizID, ok := domain.QuizIDFromTopic(topic); ok {
		board, err := h.coordinator.Leaderboard(r.Context(), quizID)
		return &board, err
	}
	return nil, nil
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
