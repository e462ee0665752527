package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-rewards-service/internal/app"
	"quiz-rewards-service/internal/domain"
)

func TestWebSocketAnswerFlow(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws/quiz?sessionId=client-1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect the current state first.
	msgType, payload := readNext(conn, t, "state")
	if payload["state"] != "in_progress" || payload["questionIndex"] != float64(0) {
		t.Fatalf("unexpected initial state %s %+v", msgType, payload)
	}

	for i, option := range []int{1, 0} {
		answer := map[string]any{
			"type":    "answer",
			"payload": map[string]any{"question": i, "option": option},
		}
		if err := conn.WriteJSON(answer); err != nil {
			t.Fatalf("write answer: %v", err)
		}
		_, payload = readNext(conn, t, "state")
	}
	if payload["state"] != "completed" {
		t.Fatalf("expected completed, got %+v", payload)
	}

	// A stale answer is reported, not applied.
	_ = conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{"question": 1, "option": 1}})
	if _, payload = readNext(conn, t, "error"); payload["message"] == "" {
		t.Fatalf("expected error message")
	}

	env.quiz.WaitForClaims()
	if v, _, _ := env.prefs.Get(env.ctx, "client-1", app.PrefHasPlayedQuiz); v != "true" {
		t.Fatalf("expected played preference")
	}
}

func TestWebSocketRetryAfterAllWrong(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):]+"/ws/quiz?sessionId=client-2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t, "state")

	var payload map[string]any
	for i, option := range []int{0, 1} {
		_ = conn.WriteJSON(map[string]any{"type": "answer", "payload": map[string]any{"question": i, "option": option}})
		_, payload = readNext(conn, t, "state")
	}
	if payload["state"] != "retry_required" || payload["questionIndex"] != float64(-1) {
		t.Fatalf("expected retry required, got %+v", payload)
	}

	_ = conn.WriteJSON(map[string]any{"type": "retry"})
	if _, payload = readNext(conn, t, "state"); payload["state"] != "in_progress" {
		t.Fatalf("expected fresh playthrough, got %+v", payload)
	}
}

func TestWebSocketRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	server := httptest.NewServer(env.router)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):]+"/ws/quiz", nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %+v", resp)
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
		t.Fatalf("expected type %s, got %s (%+v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func sampleQuiz() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"daily": {
			ID: "daily",
			Questions: []domain.Question{
				{Prompt: "What is 2 + 2?", Options: []string{"3", "4", "5"}, Correct: 1},
				{Prompt: "Capital of India?", Options: []string{"New Delhi", "Mumbai"}, Correct: 0},
			},
		},
	}
}
