package persona

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/instachat/backend/internal/model/persona"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

// Handler persona服务的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建persona处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/personas", h.handleListPersonas)
	r.Post("/personas", h.handleCreatePersona)
}

// handleListPersonas 列出所有persona，q 参数按名称或用户名过滤
func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.RespondJSON(w, http.StatusOK, h.personas.List())
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.personas.Search(query))
}

// handleCreatePersona 创建新的AI persona
func (h *Handler) handleCreatePersona(w http.ResponseWriter, r *http.Request) {
	var draft persona.Draft
	if err := utils.DecodeJSON(r, &draft); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := h.personas.Create(draft)
	if err != nil {
		if errors.Is(err, persona.ErrInvalidPersona) {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusCreated, created)
}
