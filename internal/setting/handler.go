package setting

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/setting/entity"
)

// Handler contains dependencies for handling setting endpoints.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

// NewHandler constructs a new Handler.
func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

type UpdateRequest struct {
	Settings map[string]entity.Entry `json:"settings" validate:"required,min=1"`
}

// EmailSettingsRequest lists the keys the email form may write. Absent fields are left alone.
type EmailSettingsRequest struct {
	SmtpEnabled             *bool   `json:"smtp_enabled"`
	SmtpHost                *string `json:"smtp_host" validate:"omitempty,max=255"`
	SmtpPort                *int    `json:"smtp_port" validate:"omitempty,min=1,max=65535"`
	SmtpSecure              *bool   `json:"smtp_secure"`
	SmtpUsername            *string `json:"smtp_username" validate:"omitempty,max=255"`
	SmtpPassword            *string `json:"smtp_password"`
	SmtpFromEmail           *string `json:"smtp_from_email" validate:"omitempty,email"`
	SmtpFromName            *string `json:"smtp_from_name" validate:"omitempty,max=100"`
	AdminNotificationEmails *string `json:"admin_notification_emails"`
	SendAdminNotifications  *bool   `json:"send_admin_notifications"`
	SendUserConfirmations   *bool   `json:"send_user_confirmations"`
}

// Values returns the present fields keyed by setting name.
func (req EmailSettingsRequest) Values() map[string]any {
	out := map[string]any{}
	putBool := func(k string, v *bool) {
		if v != nil {
			out[k] = *v
		}
	}
	putString := func(k string, v *string) {
		if v != nil {
			out[k] = *v
		}
	}
	putBool("smtp_enabled", req.SmtpEnabled)
	putString("smtp_host", req.SmtpHost)
	if req.SmtpPort != nil {
		out["smtp_port"] = float64(*req.SmtpPort)
	}
	putBool("smtp_secure", req.SmtpSecure)
	putString("smtp_username", req.SmtpUsername)
	putString("smtp_password", req.SmtpPassword)
	putString("smtp_from_email", req.SmtpFromEmail)
	putString("smtp_from_name", req.SmtpFromName)
	putString("admin_notification_emails", req.AdminNotificationEmails)
	putBool("send_admin_notifications", req.SendAdminNotifications)
	putBool("send_user_confirmations", req.SendUserConfirmations)
	return out
}

// List handles GET /api/settings?category=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.svc.GetAll(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		api.Internal(w, r, h.logger, "list settings failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", all)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Get(r.Context(), r.PathValue("key"))
	if errors.Is(err, ErrNotFound) {
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, "Setting not found")
		return
	}
	if err != nil {
		api.Internal(w, r, h.logger, "get setting failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", v)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !api.Bind(w, r, &req) {
		return
	}
	res, err := h.svc.Set(r.Context(), req.Settings, auth.UserID(r.Context()))
	if err != nil {
		api.Respond(w, r, h.logger, "update settings failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Settings updated successfully", res)
}

// TestSmtp reports a failed probe as 400 with the transport error in the message.
func (h *Handler) TestSmtp(w http.ResponseWriter, r *http.Request) {
	res := h.svc.TestSmtpConnection(r.Context())
	if !res.Success {
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorBody{
			Message: "SMTP connection test failed: " + res.Error,
			Error:   api.ErrorDetail{Code: api.CodeBadRequest},
		})
		return
	}
	api.OK(w, http.StatusOK, "SMTP connection test successful", res)
}

func (h *Handler) GetEmail(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.EmailSettings(r.Context())
	if err != nil {
		api.Internal(w, r, h.logger, "get email settings failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", m)
}

func (h *Handler) PutEmail(w http.ResponseWriter, r *http.Request) {
	var req EmailSettingsRequest
	if !api.Bind(w, r, &req) {
		return
	}
	res, err := h.svc.UpdateEmailSettings(r.Context(), req.Values(), auth.UserID(r.Context()))
	if err != nil {
		api.Respond(w, r, h.logger, "update email settings failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Email settings updated successfully", res)
}

func (h *Handler) DeleteEmail(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DeleteCategory(r.Context(), CategoryEmail, auth.UserID(r.Context()))
	if err != nil {
		api.Internal(w, r, h.logger, "delete email settings failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Email settings deleted successfully", map[string]any{"success": true, "affected": n})
}
