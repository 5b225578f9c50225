package chat_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/talkgpt/backend/internal/service/chat"
	"github.com/zhouzirui/talkgpt/backend/internal/store"
)

func newService(t *testing.T) *chatservice.Service {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open err: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return chatservice.NewService(st)
}

func TestCreateSessionGeneratesID(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.SessionID == "" {
		t.Fatal("expected generated session id")
	}
	if !strings.HasPrefix(session.Name, "Chat ") {
		t.Fatalf("unexpected default name: %q", session.Name)
	}
}

func TestCreateSessionDuplicate(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.CreateSession(ctx, "mine"); err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if _, err := svc.CreateSession(ctx, "mine"); !errors.Is(err, chatservice.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestEnsureSessionCreatesRecord(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	session, err := svc.EnsureSession(ctx, "fresh")
	if err != nil {
		t.Fatalf("EnsureSession err: %v", err)
	}
	if session.SessionID != "fresh" {
		t.Fatalf("expected session id fresh, got %s", session.SessionID)
	}

	// Second call resolves the same record instead of failing on conflict.
	again, err := svc.EnsureSession(ctx, "fresh")
	if err != nil {
		t.Fatalf("EnsureSession second call err: %v", err)
	}
	if !again.CreatedAt.Equal(session.CreatedAt) {
		t.Fatal("expected EnsureSession to return the existing record")
	}

	sessions, err := svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions err: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
}

func TestRenameSessionRequiresName(t *testing.T) {
	svc := newService(t)

	err := svc.RenameSession(context.Background(), "any", "   ")
	if !errors.Is(err, chatservice.ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestLoadTranscriptUnknownSessionIsEmpty(t *testing.T) {
	svc := newService(t)

	messages, err := svc.LoadTranscript(context.Background(), "missing")
	if err != nil {
		t.Fatalf("LoadTranscript err: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected empty transcript, got %d messages", len(messages))
	}
}

func TestSaveMessageAssignsSequence(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}

	first, err := svc.SaveMessage(ctx, chat.Message{SessionID: session.SessionID, Role: chat.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}
	second, err := svc.SaveMessage(ctx, chat.Message{SessionID: session.SessionID, Role: chat.RoleAssistant, Content: "hello"})
	if err != nil {
		t.Fatalf("SaveMessage err: %v", err)
	}

	if first.SequenceNumber != 1 || second.SequenceNumber != 2 {
		t.Fatalf("expected sequence 1 and 2, got %d and %d", first.SequenceNumber, second.SequenceNumber)
	}
}
