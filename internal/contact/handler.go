package contact

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/contact/entity"
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
	Name    string  `json:"name" validate:"required,max=100"`
	Email   string  `json:"email" validate:"required,email,max=255"`
	Phone   *string `json:"phone" validate:"omitempty,phone,max=50"`
	Company *string `json:"company" validate:"omitempty,max=100"`
	Subject *string `json:"subject" validate:"omitempty,max=200"`
	Message string  `json:"message" validate:"required,min=2,max=2000"`
	Source  string  `json:"source" validate:"omitempty,max=50"`
}

type IDsRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=500,dive,gt=0"`
}

type ReplyRequest struct {
	Message string  `json:"message" validate:"required,max=10000"`
	Notes   *string `json:"notes"`
}

type NotesRequest struct {
	Notes *string `json:"notes" validate:"omitempty,max=5000"`
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	if t == "" {
		return nil
	}
	return &t
}

// Create handles the public contact form.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := api.Decode(r, &req); err != nil {
		api.Fail(w, http.StatusBadRequest, api.CodeValidation, "Invalid JSON payload")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone, req.Company, req.Subject = trimPtr(req.Phone), trimPtr(req.Company), trimPtr(req.Subject)
	req.Message = strings.TrimSpace(req.Message)
	req.Source = strings.TrimSpace(req.Source)
	if errs := api.Validate(&req); len(errs) > 0 {
		api.FailValidation(w, errs)
		return
	}
	id, err := h.svc.Create(r.Context(), Input{
		Name: req.Name, Email: req.Email, Phone: req.Phone, Company: req.Company,
		Subject: req.Subject, Message: req.Message, Source: req.Source,
	}, api.ClientIP(r.Context()), r.UserAgent())
	if err != nil {
		api.Internal(w, r, h.logger, "create contact failed", err)
		return
	}
	api.OK(w, http.StatusCreated, "感謝您的來信，我們會盡快回覆", map[string]any{"id": id})
}

// filter reads the inbox filters; the bool is false after a validation response was written.
func filter(w http.ResponseWriter, r *http.Request) (entity.Filter, bool) {
	q := r.URL.Query()
	f := entity.Filter{
		IsRead:    api.QueryBool(r, "isRead"),
		IsReplied: api.QueryBool(r, "isReplied"),
		Source:    q.Get("source"),
		Search:    strings.TrimSpace(q.Get("search")),
		DateFrom:  q.Get("dateFrom"),
		DateTo:    q.Get("dateTo"),
	}
	var errs []api.FieldError
	for _, k := range []string{"isRead", "isReplied"} {
		if v := q.Get(k); v != "" && v != "true" && v != "false" {
			errs = append(errs, api.FieldError{Field: k, Message: k + " must be true or false"})
		}
	}
	if f.DateFrom != "" && !api.IsDate(f.DateFrom) {
		errs = append(errs, api.FieldError{Field: "dateFrom", Message: "Invalid date format"})
	}
	if f.DateTo != "" && !api.IsDate(f.DateTo) {
		errs = append(errs, api.FieldError{Field: "dateTo", Message: "Invalid date format"})
	}
	if len(errs) > 0 {
		api.FailValidation(w, errs)
		return f, false
	}
	return f, true
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	f, ok := filter(w, r)
	if !ok {
		return
	}
	res, err := h.svc.List(r.Context(), f, api.PageParams(r))
	if err != nil {
		api.Internal(w, r, h.logger, "list contacts failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", res)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	days := api.QueryInt(r, "days", 30)
	if days > 365 {
		days = 365
	}
	res, err := h.svc.Stats(r.Context(), days)
	if err != nil {
		api.Internal(w, r, h.logger, "contact stats failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", res)
}

// Export streams the filtered inbox as a CSV attachment.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	f, ok := filter(w, r)
	if !ok {
		return
	}
	rows, err := h.svc.Export(r.Context(), f)
	if err != nil {
		api.Internal(w, r, h.logger, "export contacts failed", err)
		return
	}
	name := fmt.Sprintf("contacts-%s.csv", time.Now().Format(time.DateOnly))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	if err := WriteCSV(w, rows); err != nil {
		h.logger.Warnw("write csv", "err", err, "request_id", api.RequestID(r.Context()))
	}
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, ok := api.PathInt64(r, "id")
	if !ok {
		api.FailValidation(w, []api.FieldError{{Field: "id", Message: "Invalid contact ID"}})
	}
	return id, ok
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get contact failed", "Contact not found", err)
		return
	}
	api.OK(w, http.StatusOK, "", c)
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkRead(r.Context(), id, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, "mark read failed", "Contact not found or already read", err)
		return
	}
	api.OK(w, http.StatusOK, "Contact marked as read", nil)
}

func (h *Handler) BulkRead(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if !api.Bind(w, r, &req) {
		return
	}
	n, err := h.svc.BulkMarkRead(r.Context(), req.IDs, auth.UserID(r.Context()))
	if err != nil {
		api.Internal(w, r, h.logger, "bulk mark read failed", err)
		return
	}
	api.OK(w, http.StatusOK, fmt.Sprintf("%d contacts marked as read", n), map[string]any{"updated": n})
}

func (h *Handler) MarkReplied(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := h.svc.MarkReplied(r.Context(), id, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, "mark replied failed", "Contact not found", err)
		return
	}
	api.OK(w, http.StatusOK, "Contact marked as replied", nil)
}

// Reply returns 500 when the reply email could not be sent; the contact stays unreplied.
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req ReplyRequest
	if !api.Bind(w, r, &req) {
		return
	}
	if err := h.svc.Reply(r.Context(), id, req.Message, trimPtr(req.Notes), auth.UserID(r.Context())); err != nil {
		h.fail(w, r, "reply failed", "Contact not found", err)
		return
	}
	api.OK(w, http.StatusOK, "Reply sent successfully", nil)
}

func (h *Handler) UpdateNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	var req NotesRequest
	if !api.Bind(w, r, &req) {
		return
	}
	if err := h.svc.UpdateNotes(r.Context(), id, req.Notes); err != nil {
		h.fail(w, r, "update notes failed", "Contact not found", err)
		return
	}
	api.OK(w, http.StatusOK, "Notes updated successfully", nil)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	if err := h.svc.Archive(r.Context(), id, auth.UserID(r.Context())); err != nil {
		h.fail(w, r, "archive contact failed", "Contact not found or already archived", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgDeleted, nil)
}

func (h *Handler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	var req IDsRequest
	if !api.Bind(w, r, &req) {
		return
	}
	n, err := h.svc.BulkArchive(r.Context(), req.IDs, auth.UserID(r.Context()))
	if err != nil {
		api.Internal(w, r, h.logger, "bulk archive failed", err)
		return
	}
	api.OK(w, http.StatusOK, fmt.Sprintf("%d contacts deleted", n), map[string]any{"deleted": n})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg, notFound string, err error) {
	if errors.Is(err, ErrNotFound) {
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, notFound)
		return
	}
	api.Internal(w, r, h.logger, msg, err)
}
