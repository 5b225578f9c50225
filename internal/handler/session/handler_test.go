package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/talkgpt/backend/internal/service/chat"
	"github.com/zhouzirui/talkgpt/backend/internal/store"
)

func setupRouter(t *testing.T) (*chi.Mux, *chatservice.Service) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	chatSvc := chatservice.NewService(st)
	handler := New(chatSvc)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body err: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionGeneratedID(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(t, r, http.MethodPost, "/sessions/create", map[string]string{})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}

	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response err: %v", err)
	}
	if body.SessionID == "" {
		t.Fatal("expected generated session_id in response")
	}
}

func TestCreateSessionDuplicateConflict(t *testing.T) {
	r, _ := setupRouter(t)

	if resp := doJSON(t, r, http.MethodPost, "/sessions/create", map[string]string{"session_id": "dup"}); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	if resp := doJSON(t, r, http.MethodPost, "/sessions/create", map[string]string{"session_id": "dup"}); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
}

func TestRenameMissingSession(t *testing.T) {
	r, _ := setupRouter(t)

	resp := doJSON(t, r, http.MethodPut, "/sessions/missing", map[string]string{"name": "renamed"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestDeleteSessionCascades(t *testing.T) {
	r, chatSvc := setupRouter(t)
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "doomed")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := chatSvc.SaveMessage(ctx, chat.Message{SessionID: session.SessionID, Role: chat.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	if resp := doJSON(t, r, http.MethodDelete, "/sessions/doomed", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	resp := doJSON(t, r, http.MethodGet, "/sessions/doomed/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response err: %v", err)
	}
	if len(body.Messages) != 0 {
		t.Fatalf("expected no messages after cascade delete, got %d", len(body.Messages))
	}

	if resp := doJSON(t, r, http.MethodDelete, "/sessions/doomed", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.Code)
	}
}

func TestListSessionsIncludesMessageCount(t *testing.T) {
	r, chatSvc := setupRouter(t)
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	for _, content := range []string{"one", "two"} {
		if _, err := chatSvc.SaveMessage(ctx, chat.Message{SessionID: session.SessionID, Role: chat.RoleUser, Content: content}); err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}

	resp := doJSON(t, r, http.MethodGet, "/sessions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Sessions []chat.SessionSummary `json:"sessions"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response err: %v", err)
	}
	if len(body.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(body.Sessions))
	}
	if body.Sessions[0].MessageCount != 2 {
		t.Fatalf("expected message_count 2, got %d", body.Sessions[0].MessageCount)
	}
}

func TestListMessagesOrdered(t *testing.T) {
	r, chatSvc := setupRouter(t)
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "ordered")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	for _, content := range []string{"a", "b", "c"} {
		if _, err := chatSvc.SaveMessage(ctx, chat.Message{SessionID: session.SessionID, Role: chat.RoleUser, Content: content}); err != nil {
			t.Fatalf("SaveMessage err: %v", err)
		}
	}

	resp := doJSON(t, r, http.MethodGet, "/sessions/ordered/messages", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []chat.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response err: %v", err)
	}
	if len(body.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(body.Messages))
	}
	for i, msg := range body.Messages {
		if msg.SequenceNumber != i+1 {
			t.Fatalf("message %d out of order: sequence %d", i, msg.SequenceNumber)
		}
	}
}
