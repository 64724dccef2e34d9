package auth

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/instachat/backend/internal/middleware"
	sessionService "github.com/zhouzirui/instachat/backend/internal/service/session"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

// Handler 登录会话的HTTP处理器
type Handler struct {
	sessions *sessionService.Service
}

// New 创建登录处理器
func New(sessions *sessionService.Service) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册无需会话的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.handleLogin)
}

// RegisterSessionRoutes 注册需要会话的路由
func (h *Handler) RegisterSessionRoutes(r chi.Router) {
	r.Post("/auth/logout", h.handleLogout)
	r.Get("/me", h.handleMe)
}

// handleLogin 登录；任何非空的姓名与用户名都被接受，密码被忽略
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		FullName string `json:"fullName"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.sessions.Login(r.Context(), payload.FullName, payload.Username)
	if err != nil {
		if errors.Is(err, sessionService.ErrMissingIdentity) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, sess)
}

// handleLogout 登出并丢弃该会话的所有对话
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	if err := h.sessions.Logout(r.Context(), sess.ID); err != nil {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	utils.RespondNoContent(w)
}

// handleMe 返回当前会话
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	current, err := h.sessions.Get(r.Context(), sess.ID)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, current)
}
