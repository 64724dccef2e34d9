package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/middleware"
	"github.com/zhouzirui/instachat/backend/internal/model/chat"
	"github.com/zhouzirui/instachat/backend/internal/model/persona"
	chatService "github.com/zhouzirui/instachat/backend/internal/service/chat"
	"github.com/zhouzirui/instachat/backend/internal/service/reply"
	sessionService "github.com/zhouzirui/instachat/backend/internal/service/session"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

// Handler 会话服务的HTTP处理器
type Handler struct {
	sessions *sessionService.Service
	chatSvc  *chatService.Service
	replies  *reply.Orchestrator
	personas persona.Store
	logger   *zap.Logger
}

// New 创建会话处理器
func New(sessions *sessionService.Service, chatSvc *chatService.Service, replies *reply.Orchestrator, personas persona.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		chatSvc:  chatSvc,
		replies:  replies,
		personas: personas,
		logger:   logger.Named("handler.chat"),
	}
}

// RegisterRoutes 注册会话相关的路由，调用方负责挂载会话中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/conversations", h.handleOpen)
	r.Get("/conversations/{conversationID}", h.handleSnapshot)
	r.Delete("/conversations/{conversationID}", h.handleClose)
	r.Put("/conversations/{conversationID}/draft", h.handleDraft)
	r.Post("/conversations/{conversationID}/messages", h.handleSend)
	r.Post("/conversations/{conversationID}/recording", h.handleBeginRecording)
	r.Delete("/conversations/{conversationID}/recording", h.handleCancelRecording)
	r.Post("/conversations/{conversationID}/recording/finish", h.handleFinishRecording)
	r.Post("/conversations/{conversationID}/attachments", h.handleAttach)
}

type actionResponse struct {
	Message chat.Message  `json:"message"`
	Reply   *chat.Message `json:"reply,omitempty"`
}

// handleOpen 打开与某个persona的会话，并关闭当前会话之前打开的会话
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())

	var payload struct {
		PersonaID string `json:"personaId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PersonaID == "" {
		utils.RespondError(w, http.StatusBadRequest, "personaId is required")
		return
	}

	friend, ok := h.personas.FindByID(payload.PersonaID)
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "persona not found")
		return
	}

	snap, err := h.sessions.OpenConversation(r.Context(), sess.ID, friend)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, snap)
}

// handleSnapshot 返回会话的消息与输入框状态
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	snap, err := h.chatSvc.Snapshot(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, snap)
}

// handleClose 丢弃会话
func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	id := chi.URLParam(r, "conversationID")

	if err := h.sessions.CloseConversation(r.Context(), sess.ID, id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondNoContent(w)
}

// handleDraft 保存输入框中的草稿
func (h *Handler) handleDraft(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.chatSvc.SetDraft(r.Context(), id, payload.Text); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondNoContent(w)
}

// handleSend 发送文本消息并触发persona回复；wait=true 时等待回复返回
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.replies.Send(r.Context(), id, payload.Text)
	h.respondAction(w, r, result, err)
}

// handleBeginRecording 开始录制语音消息
func (h *Handler) handleBeginRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.chatSvc.BeginRecording(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondNoContent(w)
}

// handleCancelRecording 取消录制，不产生消息
func (h *Handler) handleCancelRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.chatSvc.CancelRecording(r.Context(), id); err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondNoContent(w)
}

// handleFinishRecording 结束录制并以语音消息的形式发送
func (h *Handler) handleFinishRecording(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	result, err := h.replies.FinishRecording(r.Context(), id)
	h.respondAction(w, r, result, err)
}

// handleAttach 发送附件占位消息，不传输文件内容
func (h *Handler) handleAttach(w http.ResponseWriter, r *http.Request) {
	id, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var payload struct {
		Filename string `json:"filename"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.replies.AttachFile(r.Context(), id, payload.Filename)
	h.respondAction(w, r, result, err)
}

func (h *Handler) respondAction(w http.ResponseWriter, r *http.Request, result reply.Result, err error) {
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	resp := actionResponse{Message: result.Message}
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		select {
		case msg, ok := <-result.Reply:
			if ok {
				resp.Reply = &msg
			}
		case <-r.Context().Done():
			return
		}
	}
	utils.RespondJSON(w, http.StatusCreated, resp)
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	sess, _ := middleware.SessionFromContext(r.Context())
	id := chi.URLParam(r, "conversationID")

	if err := h.sessions.Authorize(r.Context(), sess.ID, id); err != nil {
		h.respondServiceError(w, err)
		return "", false
	}
	return id, true
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusNoContent {
		utils.RespondNoContent(w)
		return
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("conversation request failed", zap.Error(err))
	}
	utils.RespondError(w, status, err.Error())
}

// StatusFor maps store and session errors onto HTTP status codes. Empty operator input is
// inert rather than an error.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		return http.StatusNoContent
	case errors.Is(err, chatService.ErrConversationNotFound), errors.Is(err, sessionService.ErrNotOwner):
		return http.StatusNotFound
	case errors.Is(err, sessionService.ErrSessionNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, chatService.ErrReplyPending),
		errors.Is(err, chatService.ErrComposerBusy),
		errors.Is(err, chatService.ErrRecordingActive),
		errors.Is(err, chatService.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, chatService.ErrPersonaRequired), errors.Is(err, chatService.ErrUnknownAuthor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
