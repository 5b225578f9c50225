package session

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/talkgpt/backend/internal/service/chat"
	"github.com/zhouzirui/talkgpt/backend/pkg/utils"
)

// Handler 会话管理的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
}

// New 创建会话处理器
func New(chatSvc *chatService.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/sessions/create", h.handleCreateSession)
	r.Get("/sessions", h.handleListSessions)
	r.Put("/sessions/{sessionID}", h.handleRenameSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/messages", h.handleListMessages)
}

// handleCreateSession 创建会话，可携带自定义 session_id
func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID string `json:"session_id"`
	}

	// An empty body is fine; the identifier is generated then.
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.chatSvc.CreateSession(r.Context(), payload.SessionID)
	if err != nil {
		if errors.Is(err, chatService.ErrSessionExists) {
			utils.RespondError(w, http.StatusConflict, "session already exists")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.SessionID,
		"created_at": session.CreatedAt,
	})
}

// handleListSessions 返回全部会话，按最近活动排序
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.chatSvc.ListSessions(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// handleRenameSession 更新会话名称
func (h *Handler) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var payload struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.RenameSession(r.Context(), sessionID, payload.Name); err != nil {
		switch {
		case errors.Is(err, chatService.ErrSessionNotFound):
			utils.RespondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, chatService.ErrNameRequired):
			utils.RespondError(w, http.StatusBadRequest, "name is required")
		default:
			utils.RespondError(w, http.StatusInternalServerError, "failed to update session")
		}
		return
	}

	utils.RespondMessage(w, http.StatusOK, "Session updated successfully")
}

// handleDeleteSession 删除会话及其全部消息
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.chatSvc.DeleteSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, chatService.ErrSessionNotFound) {
			utils.RespondError(w, http.StatusNotFound, "session not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	utils.RespondMessage(w, http.StatusOK, "Session deleted successfully")
}

// handleListMessages 按序列号返回会话消息
func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	messages, err := h.chatSvc.LoadTranscript(r.Context(), sessionID)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
