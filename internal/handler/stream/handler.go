package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/talkgpt/backend/internal/model/chat"
	chatService "github.com/zhouzirui/talkgpt/backend/internal/service/chat"
	"github.com/zhouzirui/talkgpt/backend/pkg/utils"
)

// Completer is the completion surface the stream handler depends on.
// Implemented by the ai service; faked in tests.
type Completer interface {
	StreamingEnabled() bool
	Complete(ctx context.Context, history []chat.Message, userMessage string) (*schema.Message, error)
	Stream(ctx context.Context, history []chat.Message, userMessage string) (*schema.StreamReader[*schema.Message], error)
}

// Handler relays streamed completion fragments to the client as
// Server-Sent Events and persists the finished turn.
type Handler struct {
	chatSvc   *chatService.Service
	completer Completer
}

// New creates the stream handler.
func New(chatSvc *chatService.Service, completer Completer) *Handler {
	return &Handler{
		chatSvc:   chatSvc,
		completer: completer,
	}
}

// RegisterRoutes 注册流式聊天路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleChatStream)
}

// handleChatStream runs a streamed chat turn in three phases: persist the
// user message, relay fragments as they arrive, then persist the assistant
// message only after the stream ends cleanly. A mid-stream failure emits an
// in-band error event and drops the accumulated partial text — truncated
// responses are never saved.
func (h *Handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if h.completer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai service unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var payload struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
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
		log.Printf("[stream] failed to ensure session: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "streaming failed")
		return
	}

	history, err := h.chatSvc.LoadTranscript(ctx, session.SessionID)
	if err != nil {
		log.Printf("[stream] failed to load transcript: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "streaming failed")
		return
	}

	// The user message is persisted before any fragment arrives; it
	// survives even if the completion fails afterwards.
	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: session.SessionID,
		Role:      chat.RoleUser,
		Content:   payload.Message,
	}); err != nil {
		log.Printf("[stream] failed to save user message: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "streaming failed")
		return
	}

	utils.SetupSSEHeaders(w)

	response, err := h.relayResponse(ctx, w, flusher, session.SessionID, history, payload.Message)
	if err != nil {
		// Headers are already out; report in-band and keep only the
		// user message.
		log.Printf("[stream] completion failed for session=%s: %v", session.SessionID, err)
		utils.SendSSEChunk(w, flusher, map[string]string{"error": err.Error()})
		return
	}

	if _, err := h.chatSvc.SaveMessage(ctx, chat.Message{
		SessionID: session.SessionID,
		Role:      chat.RoleAssistant,
		Content:   response.Content,
	}); err != nil {
		log.Printf("[stream] failed to save assistant message: %v", err)
		utils.SendSSEChunk(w, flusher, map[string]string{"error": "failed to save assistant message"})
		return
	}

	utils.SendSSEChunk(w, flusher, map[string]any{
		"done":       true,
		"session_id": session.SessionID,
	})

	log.Printf("[stream] completed response for session=%s, length=%d", session.SessionID, len(response.Content))
}

// relayResponse forwards fragments to the client as they arrive and returns
// the concatenated response once the stream is exhausted. Falls back to a
// single blocking completion when streaming is disabled by configuration.
func (h *Handler) relayResponse(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID string, history []chat.Message, userMessage string) (*schema.Message, error) {
	if !h.completer.StreamingEnabled() {
		response, err := h.completer.Complete(ctx, history, userMessage)
		if err != nil {
			return nil, err
		}
		h.sendFragment(w, flusher, sessionID, response.Content)
		return response, nil
	}

	stream, err := h.completer.Stream(ctx, history, userMessage)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)

	for {
		if err := ctx.Err(); err != nil {
			// Client went away; stop relaying and persist nothing.
			return nil, err
		}

		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			h.sendFragment(w, flusher, sessionID, chunk.Content)
		}
	}

	return schema.ConcatMessages(chunks)
}

func (h *Handler) sendFragment(w http.ResponseWriter, flusher http.Flusher, sessionID, content string) {
	utils.SendSSEChunk(w, flusher, map[string]string{
		"content":    content,
		"session_id": sessionID,
	})
}
