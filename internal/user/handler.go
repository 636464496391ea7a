package user

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
)

// Handler exposes HTTP endpoints for authentication and the current account.
type Handler struct {
	svc    *UserService
	logger *zap.SugaredLogger
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// LoginRequest accepts a username or an email in the username field.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,strongpassword"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,strongpassword"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !api.Bind(w, r, &req) {
		return
	}
	res, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.fail(w, r, "login failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgLoginSuccess, res)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !api.Bind(w, r, &req) {
		return
	}
	res, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, "register failed", err)
		return
	}
	api.OK(w, http.StatusCreated, "User registered successfully", res)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := api.Decode(r, &req); err != nil {
		api.Fail(w, http.StatusBadRequest, api.CodeValidation, "Invalid JSON payload")
		return
	}
	res, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.fail(w, r, "refresh failed", err)
		return
	}
	api.OK(w, http.StatusOK, "Token refreshed successfully", res)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	var req RefreshRequest
	if err := api.Decode(r, &req); err != nil {
		api.Fail(w, http.StatusBadRequest, api.CodeValidation, "Invalid JSON payload")
		return
	}
	if err := h.svc.Logout(r.Context(), id, req.RefreshToken); err != nil {
		h.fail(w, r, "logout failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgLogoutSuccess, nil)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !api.Bind(w, r, &req) {
		return
	}
	if err := h.svc.ChangePassword(r.Context(), auth.UserID(r.Context()), req.CurrentPassword, req.NewPassword); err != nil {
		h.fail(w, r, "change password failed", err)
		return
	}
	api.OK(w, http.StatusOK, api.MsgPasswordChanged, nil)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Me(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.fail(w, r, "load profile failed", err)
		return
	}
	api.OK(w, http.StatusOK, "", map[string]any{"user": p})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, ErrBadCredentials):
		api.Fail(w, http.StatusUnauthorized, api.CodeInvalidCredentials, "Invalid credentials")
	case errors.Is(err, ErrWrongPassword):
		api.Fail(w, http.StatusUnauthorized, api.CodeInvalidCredentials, "Current password is incorrect")
	case errors.Is(err, ErrAlreadyExists):
		api.Fail(w, http.StatusConflict, api.CodeAlreadyExists, "User already exists")
	case errors.Is(err, ErrMissingRefresh):
		api.Fail(w, http.StatusUnauthorized, api.CodeUnauthorized, "Refresh token required")
	case errors.Is(err, ErrInvalidRefresh):
		api.Fail(w, http.StatusUnauthorized, api.CodeInvalidToken, "Invalid or expired refresh token")
	case errors.Is(err, ErrWeakPassword):
		api.FailValidation(w, []api.FieldError{{Field: "password", Message: "Password must be at least 8 characters and contain uppercase, lowercase and a number"}})
	case errors.Is(err, ErrUserNotFound):
		api.Fail(w, http.StatusNotFound, api.CodeNotFound, "User not found")
	default:
		api.Internal(w, r, h.logger, msg, err)
	}
}
