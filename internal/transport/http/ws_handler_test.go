package http

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/domain"
)

func (e *testEnv) dialViewer(viewer domain.Student, topics ...string) *websocket.Conn {
	e.t.Helper()
	q := url.Values{}
	q.Set("token", e.token(viewer))
	for _, topic := range topics {
		q.Add("topic", topic)
	}
	u := "ws" + e.server.URL[len("http"):] + "/ws/leaderboard?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		e.t.Fatalf("dial: %v", err)
	}
	e.t.Cleanup(func() { conn.Close() })
	return conn
}

func TestViewerReceivesSubmittedResults(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialViewer(teacher, domain.QuizTopic("quiz-1"))

	_, payload := readNext(conn, t, "subscribed")
	if payload["topic"] != "quiz:quiz-1" {
		t.Fatalf("unexpected subscribed payload: %v", payload)
	}
	if _, ok := payload["leaderboard"]; !ok {
		t.Fatalf("expected a leaderboard snapshot for a quiz topic")
	}

	var handle app.AttemptHandle
	env.do(&alice, http.MethodPost, "/api/quizzes/quiz-1/attempts", nil, &handle)
	env.do(&alice, http.MethodPost, "/api/attempts/"+handle.Attempt.ID+"/submit", map[string]any{"answers": map[string]string{"q1": "o2"}}, nil)

	_, event := readNext(conn, t, "leaderboard")
	if event["attemptId"] != handle.Attempt.ID || event["displayName"] != "Alice" || event["score"] != float64(1) {
		t.Fatalf("unexpected event: %v", event)
	}
}

func TestViewerSubscribeMessages(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dialViewer(bob)

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "payload": map[string]string{"topic": domain.GlobalTopic}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	_, payload := readNext(conn, t, "subscribed")
	if payload["topic"] != domain.GlobalTopic {
		t.Fatalf("unexpected subscribed payload: %v", payload)
	}
	board, ok := payload["leaderboard"].(map[string]any)
	if !ok {
		t.Fatalf("expected a global leaderboard snapshot, got %v", payload)
	}
	if _, hasQuiz := board["quizId"]; hasQuiz {
		t.Fatalf("global snapshot is not scoped to a quiz: %v", board)
	}

	if err := conn.WriteJSON(map[string]any{"type": "subscribe", "payload": map[string]string{"topic": " "}}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	readNext(conn, t, "error")

	if err := conn.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readNext(conn, t, "error")

	var handle app.AttemptHandle
	env.do(&alice, http.MethodPost, "/api/quizzes/quiz-1/attempts", nil, &handle)
	env.do(&alice, http.MethodPost, "/api/attempts/"+handle.Attempt.ID+"/submit", nil, nil)
	_, event := readNext(conn, t, "leaderboard")
	if event["quizId"] != "quiz-1" {
		t.Fatalf("unexpected event: %v", event)
	}

	if err := conn.WriteJSON(map[string]any{"type": "unsubscribe", "payload": map[string]string{"topic": domain.GlobalTopic}}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	readNext(conn, t, "unsubscribed")
}

func TestViewerRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	u := "ws" + env.server.URL[len("http"):] + "/ws/leaderboard"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake to fail without a token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}
