package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/talkgpt/backend/internal/handler/chat"
	"github.com/zhouzirui/talkgpt/backend/internal/handler/session"
	"github.com/zhouzirui/talkgpt/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/talkgpt/backend/internal/middleware"
	aiService "github.com/zhouzirui/talkgpt/backend/internal/service/ai"
	chatService "github.com/zhouzirui/talkgpt/backend/internal/service/chat"
	"github.com/zhouzirui/talkgpt/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. aiSvc may be nil when the
// model provider is not configured; chat endpoints then answer 503 while
// session management keeps working.
func NewRouter(chatSvc *chatService.Service, aiSvc *aiService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondMessage(w, http.StatusOK, "TalkGPT Chat Application API")
	})

	sessionHandler := session.New(chatSvc)

	// A nil *ai.Service must stay a nil interface inside the handlers.
	var chatHandler *chat.Handler
	var streamHandler *stream.Handler
	if aiSvc != nil {
		chatHandler = chat.New(chatSvc, aiSvc)
		streamHandler = stream.New(chatSvc, aiSvc)
	} else {
		chatHandler = chat.New(chatSvc, nil)
		streamHandler = stream.New(chatSvc, nil)
	}

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	return r
}
