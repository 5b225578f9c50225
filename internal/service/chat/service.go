package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
	"github.com/zhouzirui/talkgpt/backend/internal/store"
)

var (
	ErrSessionNotFound = store.ErrSessionNotFound
	ErrSessionExists   = store.ErrSessionExists
	ErrNameRequired    = errors.New("session name is required")
)

// Service encapsulates conversation state management on top of the store.
type Service struct {
	store *store.Store
}

// NewService wires the chat service to its persistence layer.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// CreateSession provisions a session record. When requestedID is empty a
// new identifier is generated; an already-taken identifier is rejected
// with ErrSessionExists.
func (s *Service) CreateSession(ctx context.Context, requestedID string) (chat.Session, error) {
	sessionID := strings.TrimSpace(requestedID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := time.Now().UTC()
	session := chat.Session{
		SessionID:    sessionID,
		Name:         chat.DefaultName(sessionID),
		CreatedAt:    now,
		LastActivity: now,
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// EnsureSession resolves the session a chat turn belongs to. An empty id
// gets a fresh session; an unknown id gets a record created for it, so a
// message never exists without a parent session.
func (s *Service) EnsureSession(ctx context.Context, sessionID string) (chat.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return s.CreateSession(ctx, "")
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return s.CreateSession(ctx, sessionID)
	}
	if err != nil {
		return chat.Session{}, err
	}
	return session, nil
}

// ListSessions returns all sessions newest-activity first, annotated with
// message counts.
func (s *Service) ListSessions(ctx context.Context) ([]chat.SessionSummary, error) {
	return s.store.ListSessions(ctx)
}

// RenameSession updates a session's display name.
func (s *Service) RenameSession(ctx context.Context, sessionID, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrNameRequired
	}
	return s.store.RenameSession(ctx, sessionID, name, time.Now().UTC())
}

// DeleteSession removes a session and all dependent messages.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	return s.store.DeleteSession(ctx, sessionID)
}

// LoadTranscript returns stored messages for the session ordered by
// sequence number. Unknown sessions yield an empty transcript.
func (s *Service) LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return s.store.ListMessages(ctx, sessionID)
}

// SaveMessage appends a message to the session history, assigning the next
// sequence number.
func (s *Service) SaveMessage(ctx context.Context, message chat.Message) (chat.Message, error) {
	if message.SessionID == "" {
		return chat.Message{}, ErrSessionNotFound
	}

	saved, err := s.store.AppendMessage(ctx, message)
	if err != nil {
		return chat.Message{}, fmt.Errorf("failed to save %s message: %w", message.Role, err)
	}
	return saved, nil
}
