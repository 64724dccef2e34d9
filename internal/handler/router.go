package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/handler/auth"
	"github.com/zhouzirui/instachat/backend/internal/handler/chat"
	"github.com/zhouzirui/instachat/backend/internal/handler/persona"
	"github.com/zhouzirui/instachat/backend/internal/handler/stream"
	"github.com/zhouzirui/instachat/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/instachat/backend/internal/middleware"
	personaModel "github.com/zhouzirui/instachat/backend/internal/model/persona"
	chatService "github.com/zhouzirui/instachat/backend/internal/service/chat"
	"github.com/zhouzirui/instachat/backend/internal/service/reply"
	sessionService "github.com/zhouzirui/instachat/backend/internal/service/session"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is built on.
type Dependencies struct {
	Personas personaModel.Store
	Sessions *sessionService.Service
	Chats    *chatService.Service
	Replies  *reply.Orchestrator
	Logger   *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	authHandler := auth.New(deps.Sessions)
	personaHandler := persona.New(deps.Personas)
	chatHandler := chat.New(deps.Sessions, deps.Chats, deps.Replies, deps.Personas, logger)
	streamHandler := stream.New(deps.Sessions, deps.Chats, logger)
	wsHandler := ws.New(deps.Sessions, deps.Chats, deps.Replies, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		authHandler.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.RequireSession(deps.Sessions))

			authHandler.RegisterSessionRoutes(protected)
			personaHandler.RegisterRoutes(protected)
			chatHandler.RegisterRoutes(protected)
			streamHandler.RegisterRoutes(protected)
			wsHandler.RegisterRoutes(protected)
		})
	})

	return r
}
