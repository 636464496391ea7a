package projectimage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/projectimage/entity"
)

type Handler struct {
	svc       *Service
	maxMemory int64
	logger    *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, maxMemory: 32 << 20, logger: logger}
}

type UpdateRequest struct {
	AltText      *string `json:"alt_text" validate:"omitempty,max=255"`
	DisplayOrder *int    `json:"display_order" validate:"omitempty,min=0"`
	ImageType    *string `json:"image_type" validate:"omitempty,oneof=main gallery floor_plan location vr"`
}

type ReorderRequest struct {
	Images []entity.Order `json:"images" validate:"required,min=1,dive"`
}

type BulkDeleteRequest struct {
	ImageIDs []int64 `json:"imageIds" validate:"required,min=1,dive,gt=0"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, ErrProjectNotFound):
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, "Project not found")
	case errors.Is(err, ErrNotFound):
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, "Image not found")
	default:
		api.Respond(w, r, h.logger, msg, err)
	}
}

func (h *Handler) imageID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := api.PathInt64(r, "imageId")
	if !ok {
		api.Fail(w, http.StatusBadRequest, api.CodeValidation, "Invalid image ID")
	}
	return id, ok
}

// List handles GET /api/projects/{identifier}/images?image_type=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	images, err := h.svc.List(r.Context(), r.PathValue("identifier"), r.URL.Query().Get("image_type"))
	if err != nil {
		h.fail(w, r, "list images failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", map[string]any{"images": images})
}

// Upload handles multipart POST with one or more "files" parts.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.Fail(w, http.StatusRequestEntityTooLarge, api.CodeFileTooLarge, fmt.Sprintf("File too large (maximum %d bytes)", tooLarge.Limit))
			return
		}
		api.Fail(w, http.StatusBadRequest, api.CodeBadRequest, "No files uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	files := make([]File, 0, len(headers))
	for _, fh := range headers {
		ct := fh.Header.Get("Content-Type")
		if !AllowedMIME[ct] {
			api.Fail(w, http.StatusBadRequest, api.CodeInvalidFileType, "Invalid file type. Only JPEG, PNG, GIF and WebP images are allowed")
			return
		}
		files = append(files, File{
			Name:        fh.Filename,
			ContentType: ct,
			Size:        fh.Size,
			Open:        func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	res, err := h.svc.Upload(r.Context(), r.PathValue("identifier"), files,
		strings.TrimSpace(r.FormValue("image_type")), strings.TrimSpace(r.FormValue("alt_text")))
	if err != nil {
		h.fail(w, r, "upload images failed", err)
		return
	}
	api.OK(w, http.StatusCreated, api.MsgUploadSuccess, res)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.imageID(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if !api.Bind(w, r, &req) {
		return
	}
	img, err := h.svc.Update(r.Context(), r.PathValue("identifier"), id, entity.Patch{
		AltText: req.AltText, DisplayOrder: req.DisplayOrder, ImageType: req.ImageType,
	})
	if err != nil {
		h.fail(w, r, "update image failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgUpdated, map[string]any{"image": img})
}

func (h *Handler) SetMain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.imageID(w, r)
	if !ok {
		return
	}
	if err := h.svc.SetMain(r.Context(), r.PathValue("identifier"), id); err != nil {
		h.fail(w, r, "set main image failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Main image set successfully", nil)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.imageID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), r.PathValue("identifier"), id); err != nil {
		h.fail(w, r, "delete image failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgDeleted, nil)
}

func (h *Handler) Reorder(w http.ResponseWriter, r *http.Request) {
	var req ReorderRequest
	if !api.Bind(w, r, &req) {
		return
	}
	n, err := h.svc.Reorder(r.Context(), r.PathValue("identifier"), req.Images)
	if err != nil {
		h.fail(w, r, "reorder images failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Image order updated successfully", map[string]int{"updated": n})
}

func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req BulkDeleteRequest
	if !api.Bind(w, r, &req) {
		return
	}
	res, err := h.svc.BulkDelete(r.Context(), r.PathValue("identifier"), req.ImageIDs)
	if err != nil {
		h.fail(w, r, "bulk delete images failed", err)
		return
	}
	api.OK(w, http.StatusOK, fmt.Sprintf("%d images deleted successfully", res.Deleted), res)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context(), r.PathValue("identifier"))
	if err != nil {
		h.fail(w, r, "image stats failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", st)
}
