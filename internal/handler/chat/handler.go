package chat

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
	chatService "github.com/zhouzirui/talkgpt/backend/internal/service/chat"
	"github.com/zhouzirui/talkgpt/backend/pkg/utils"
)

// Completer is the blocking completion call the handler depends on.
// Implemented by the ai service; faked in tests.
type Completer interface {
	Complete(ctx context.Context, history []chat.Message, userMessage string) (*schema.Message, error)
}

// Handler serves the synchronous chat turn endpoint.
type Handler struct {
	chatSvc   *chatService.Service
	completer Completer
}

// New creates the chat handler. A nil completer means the model provider is
// not configured; requests are rejected with 503.
func New(chatSvc *chatService.Service, completer Completer) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		completer: completer,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// Request is the shared chat turn payload.
type Request struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// handleChat runs one full turn: resolve session, replay history, complete,
// persist the user/assistant pair.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.completer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	var payload Request
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	ctx := r.Context()

	session, err := h.chatSvc.EnsureSession(ctx, payload.SessionID)
	if err != nil {
		log.Printf("[chat] failed to ensure session: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "chat completion failed")
		return
	}

	history, err := h.chatSvc.LoadTranscript(ctx, session.SessionID)
	if err != nil {
		log.Printf("[chat] failed to load transcript: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "chat completion failed")
		return
	}

	response, err := h.completer.Complete(ctx, history, payload.Message)
	if err != nil {
		log.Printf("[chat] completion failed for session=%s: %v", session.SessionID, err)
		utils.RespondError(w, http.StatusInternalServerError, "chat completion failed")
		return
	}

	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: session.SessionID,
		Role:      chat.RoleUser,
		Content:   payload.Message,
	}); err != nil {
		log.Printf("[chat] failed to save user message: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "chat completion failed")
		return
	}

	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: session.SessionID,
		Role:      chat.RoleAssistant,
		Content:   response.Content,
	}); err != nil {
		log.Printf("[chat] failed to save assistant message: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "chat completion failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"response":   response.Content,
		"session_id": session.SessionID,
	})
}
