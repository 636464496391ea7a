package tag

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/tag/entity"
)

type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

type CreateRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=50"`
	NameEn      string  `json:"name_en" validate:"max=50"`
	Category    string  `json:"category" validate:"max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

type UpdateRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=50"`
	NameEn      *string `json:"name_en" validate:"omitempty,max=50"`
	Category    *string `json:"category" validate:"omitempty,max=50"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

type MergeRequest struct {
	SourceID int64 `json:"sourceId" validate:"required,gt=0"`
	TargetID int64 `json:"targetId" validate:"required,gt=0"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, ErrNotFound) {
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, "Tag not found")
		return
	}
	api.Respond(w, r, h.logger, msg, err)
}

// List handles GET /api/tags?category=&orderBy=&orderDir=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tags, err := h.svc.List(r.Context(), entity.ListOptions{
		Category: q.Get("category"),
		OrderBy:  q.Get("orderBy"),
		OrderDir: q.Get("orderDir"),
		Limit:    api.QueryInt(r, "limit", 0),
	})
	if err != nil {
		api.Internal(w, r, h.logger, "list tags failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", tags)
}

func (h *Handler) Popular(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Popular(r.Context(), api.QueryInt(r, "limit", 10))
	if err != nil {
		api.Internal(w, r, h.logger, "popular tags failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", tags)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		api.Fail(w, http.StatusBadRequest, api.CodeValidation, "Search query is required")
		return
	}
	tags, err := h.svc.Search(r.Context(), q)
	if err != nil {
		api.Internal(w, r, h.logger, "search tags failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", tags)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Get(r.Context(), r.PathValue("identifier"))
	if err != nil {
		h.fail(w, r, "get tag failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", d)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !api.Bind(w, r, &req) {
		return
	}
	t, err := h.svc.Create(r.Context(), Input{
		Name: req.Name, NameEn: strings.TrimSpace(req.NameEn), Category: strings.TrimSpace(req.Category), Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "create tag failed", err)
		return
	}
	api.OK(w, http.StatusCreated, api.MsgCreated, t)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !api.Bind(w, r, &req) {
		return
	}
	d, err := h.svc.Update(r.Context(), r.PathValue("identifier"), entity.Patch{
		Name: req.Name, NameEn: req.NameEn, Category: req.Category, Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, "update tag failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgUpdated, d)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), r.PathValue("identifier")); err != nil {
		h.fail(w, r, "delete tag failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgDeleted, nil)
}

func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !api.Bind(w, r, &req) {
		return
	}
	res, err := h.svc.Merge(r.Context(), req.SourceID, req.TargetID)
	if err != nil {
		h.fail(w, r, "merge tags failed", err)
		return
	}
	api.OK(w, http.StatusOK, fmt.Sprintf("Tags merged successfully. %d projects updated.", res.MergedCount), res)
}

func (h *Handler) UpdateCounts(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RecountUsage(r.Context()); err != nil {
		api.Internal(w, r, h.logger, "recount tags failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Tag usage counts updated successfully", nil)
}
