package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/handler/chat"
	"github.com/zhouzirui/instachat/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/instachat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/instachat/backend/internal/service/chat"
	sessionService "github.com/zhouzirui/instachat/backend/internal/service/session"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// Handler pushes conversation events to browsers via Server-Sent Events.
type Handler struct {
	sessions  *sessionService.Service
	chatSvc   *chatService.Service
	heartbeat time.Duration
	logger    *zap.Logger
}

// New creates a stream handler.
func New(sessions *sessionService.Service, chatSvc *chatService.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  sessions,
		chatSvc:   chatSvc,
		heartbeat: defaultHeartbeat,
		logger:    logger.Named("handler.stream"),
	}
}

// RegisterRoutes registers the event stream under the session-protected router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/events", h.handleEvents)
}

// handleEvents sends a snapshot first, then every conversation event until the client
// leaves or the conversation is discarded.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx := r.Context()
	sess, _ := middleware.SessionFromContext(ctx)
	id := chi.URLParam(r, "conversationID")

	if err := h.sessions.Authorize(ctx, sess.ID, id); err != nil {
		utils.RespondError(w, chat.StatusFor(err), err.Error())
		return
	}

	// Subscribe before the snapshot so nothing between the two is lost.
	events, err := h.chatSvc.Subscribe(ctx, id)
	if err != nil {
		utils.RespondError(w, chat.StatusFor(err), err.Error())
		return
	}
	snap, err := h.chatSvc.Snapshot(ctx, id)
	if err != nil {
		utils.RespondError(w, chat.StatusFor(err), err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	h.logger.Debug("opening event stream", zap.String("conversation_id", id))
	defer h.logger.Debug("closing event stream", zap.String("conversation_id", id))

	if err := utils.SendSSEEvent(w, flusher, "snapshot", snap); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				h.logger.Debug("event stream write failed", zap.String("conversation_id", id), zap.Error(err))
				return
			}
			if ev.Type == chatmodel.EventClosed {
				return
			}
		}
	}
}
