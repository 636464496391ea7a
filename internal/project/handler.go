package project

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/project/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/database"
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
	Title        string              `json:"title" validate:"required,max=200"`
	Subtitle     *string             `json:"subtitle" validate:"omitempty,max=200"`
	Category     string              `json:"category" validate:"required,oneof=residential commercial mixed other"`
	Status       string              `json:"status" validate:"omitempty,oneof=planning pre_sale on_sale sold_out completed"`
	Location     string              `json:"location" validate:"required,max=200"`
	BaseAddress  *string             `json:"base_address" validate:"omitempty,max=255"`
	Year         *int                `json:"year" validate:"omitempty,min=1900,max=2100"`
	Area         *string             `json:"area" validate:"omitempty,max=100"`
	UnitCount    *int                `json:"unit_count" validate:"omitempty,min=0"`
	Description  *string             `json:"description"`
	DisplayOrder int                 `json:"display_order" validate:"min=0"`
	IsFeatured   bool                `json:"is_featured"`
	CustomFields entity.CustomFields `json:"custom_fields"`
	Tags         []string            `json:"tags" validate:"omitempty,dive,max=50"`
}

type UpdateRequest struct {
	Title        *string              `json:"title" validate:"omitempty,min=1,max=200"`
	Subtitle     *string              `json:"subtitle" validate:"omitempty,max=200"`
	Category     *string              `json:"category" validate:"omitempty,oneof=residential commercial mixed other"`
	Status       *string              `json:"status" validate:"omitempty,oneof=planning pre_sale on_sale sold_out completed"`
	Location     *string              `json:"location" validate:"omitempty,min=1,max=200"`
	BaseAddress  *string              `json:"base_address" validate:"omitempty,max=255"`
	Year         *int                 `json:"year" validate:"omitempty,min=1900,max=2100"`
	Area         *string              `json:"area" validate:"omitempty,max=100"`
	UnitCount    *int                 `json:"unit_count" validate:"omitempty,min=0"`
	Description  *string              `json:"description"`
	DisplayOrder *int                 `json:"display_order" validate:"omitempty,min=0"`
	IsFeatured   *bool                `json:"is_featured"`
	CustomFields *entity.CustomFields `json:"custom_fields"`
	Tags         *[]string            `json:"tags" validate:"omitempty,dive,max=50"`
}

type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=planning pre_sale on_sale sold_out completed"`
}

type ReorderRequest struct {
	Orders []entity.Order `json:"orders" validate:"required,min=1,dive"`
}

// categoryAliases maps the front end's Chinese labels to stored categories.
var categoryAliases = map[string]string{
	"住宅":   entity.CategoryResidential,
	"商業":   entity.CategoryCommercial,
	"辦公室":  entity.CategoryCommercial,
	"公共建築": entity.CategoryOther,
	"其他":   entity.CategoryOther,
}

// sortAliases accepts the camelCase sort keys older clients send.
var sortAliases = map[string]string{
	"displayOrder": "display_order",
	"viewCount":    "view_count",
	"name":         "title",
	"createdAt":    "created_at",
	"updatedAt":    "updated_at",
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if errors.Is(err, ErrNotFound) {
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, "Project not found")
		return
	}
	api.Respond(w, r, h.logger, msg, err)
}

func pageParams(r *http.Request) database.Page {
	p := api.PageParams(r)
	if alias, ok := sortAliases[p.OrderBy]; ok {
		p.OrderBy = alias
	}
	if p.OrderBy == "display_order" && p.OrderDir == "" {
		p.OrderDir = "ASC"
	}
	return p
}

// List handles GET /api/projects?category|type=&status=&isFeatured=&search=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	category := q.Get("category")
	if category == "" {
		category = q.Get("type")
	}
	if c, ok := categoryAliases[category]; ok {
		category = c
	}
	status := q.Get("status")
	if status == "in_progress" {
		status = entity.StatusOnSale
	}
	featured := api.QueryBool(r, "isFeatured")
	if featured == nil {
		featured = api.QueryBool(r, "is_featured")
	}
	res, err := h.svc.List(r.Context(), entity.Filter{
		Category:   category,
		Status:     status,
		IsFeatured: featured,
		Search:     strings.TrimSpace(q.Get("search")),
	}, pageParams(r))
	if err != nil {
		api.Internal(w, r, h.logger, "list projects failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", res)
}

func (h *Handler) Featured(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Featured(r.Context(), api.QueryInt(r, "limit", 6))
	if err != nil {
		api.Internal(w, r, h.logger, "featured projects failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", map[string]any{"items": items})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"), pageParams(r))
	if err != nil {
		h.fail(w, r, "search projects failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", res)
}

// Get serves one project. Views by admins are not counted.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	trackView := !id.HasRole(auth.RoleAdmin)
	d, err := h.svc.Get(r.Context(), r.PathValue("identifier"), trackView)
	if err != nil {
		h.fail(w, r, "get project failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", map[string]any{"project": d})
}

func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Related(r.Context(), r.PathValue("identifier"), api.QueryInt(r, "limit", 4))
	if err != nil {
		h.fail(w, r, "related projects failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", out)
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	days := api.QueryInt(r, "days", 30)
	if days > 365 {
		days = 365
	}
	st, err := h.svc.Statistics(r.Context(), r.PathValue("identifier"), days)
	if err != nil {
		h.fail(w, r, "project statistics failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", st)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !api.Bind(w, r, &req) {
		return
	}
	d, err := h.svc.Create(r.Context(), Input{
		Title:        req.Title,
		Subtitle:     req.Subtitle,
		Category:     req.Category,
		Status:       req.Status,
		Location:     req.Location,
		BaseAddress:  req.BaseAddress,
		Year:         req.Year,
		Area:         req.Area,
		UnitCount:    req.UnitCount,
		Description:  req.Description,
		DisplayOrder: req.DisplayOrder,
		IsFeatured:   req.IsFeatured,
		CustomFields: req.CustomFields,
		Tags:         req.Tags,
	}, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, "create project failed", err)
		return
	}
	api.OK(w, http.StatusCreated, api.MsgCreated, map[string]any{"project": d})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !api.Bind(w, r, &req) {
		return
	}
	d, err := h.svc.Update(r.Context(), r.PathValue("identifier"), entity.Patch{
		Title:        req.Title,
		Subtitle:     req.Subtitle,
		Category:     req.Category,
		Status:       req.Status,
		Location:     req.Location,
		BaseAddress:  req.BaseAddress,
		Year:         req.Year,
		Area:         req.Area,
		UnitCount:    req.UnitCount,
		Description:  req.Description,
		DisplayOrder: req.DisplayOrder,
		IsFeatured:   req.IsFeatured,
		CustomFields: req.CustomFields,
		Tags:         req.Tags,
	}, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, "update project failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgUpdated, map[string]any{"project": d})
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if !api.Bind(w, r, &req) {
		return
	}
	if err := h.svc.UpdateStatus(r.Context(), r.PathValue("identifier"), req.Status, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, "update project status failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Project status updated successfully", nil)
}

func (h *Handler) ToggleFeatured(w http.ResponseWriter, r *http.Request) {
	featured, err := h.svc.ToggleFeatured(r.Context(), r.PathValue("identifier"), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, "toggle featured failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Featured status updated successfully", map[string]bool{"is_featured": featured})
}

// Delete handles DELETE /api/projects/{identifier}?hard=true.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	hard := r.URL.Query().Get("hard") == "true"
	if err := h.svc.Delete(r.Context(), r.PathValue("identifier"), hard, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, "delete project failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgDeleted, nil)
}

func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !api.Bind(w, r, &req) {
		return
	}
	n, err := h.svc.Reorder(r.Context(), req.Orders, auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, "reorder projects failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Display order updated successfully", map[string]int{"updated": n})
}
