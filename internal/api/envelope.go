// Package api holds the JSON envelope shared by every HTTP handler.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Error codes surfaced in error.code.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeRouteNotFound      = "ROUTE_NOT_FOUND"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInvalidFileType    = "INVALID_FILE_TYPE"
	CodeFileTooLarge       = "FILE_TOO_LARGE"
	CodeUploadFailed       = "UPLOAD_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Success messages shown by the admin UI.
const (
	MsgCreated         = "資源建立成功"
	MsgUpdated         = "資源更新成功"
	MsgDeleted         = "資源刪除成功"
	MsgLoginSuccess    = "登入成功"
	MsgLogoutSuccess   = "登出成功"
	MsgPasswordChanged = "密碼修改成功"
	MsgEmailSent       = "郵件發送成功"
	MsgUploadSuccess   = "檔案上傳成功"
)

// Response is the success envelope.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorBody is the failure envelope.
type ErrorBody struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Error   ErrorDetail  `json:"error"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type ErrorDetail struct {
	Code string `json:"code"`
	Path string `json:"path,omitempty"`
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// OK writes {success:true, message?, data}.
func OK(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{Success: true, Message: message, Data: data})
}

// Fail writes {success:false, message, error:{code}}.
func Fail(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, ErrorBody{Message: message, Error: ErrorDetail{Code: code}})
}

// FailValidation writes a 400 VALIDATION_ERROR with per-field errors.
func FailValidation(w http.ResponseWriter, errs []FieldError) {
	WriteJSON(w, http.StatusBadRequest, ErrorBody{
		Message: "Validation failed",
		Error:   ErrorDetail{Code: CodeValidation},
		Errors:  errs,
	})
}

// NotFoundRoute is the catch-all handler for unmatched paths.
func NotFoundRoute(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, ErrorBody{
		Message: "Route not found",
		Error:   ErrorDetail{Code: CodeRouteNotFound, Path: r.URL.Path},
	})
}

type (
	requestIDKey struct{}
	clientIPKey  struct{}
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id assigned by the request-id middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithClientIP stores the resolved client address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address resolved by the client-ip middleware, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// Internal logs err with the request id and writes a 500 without internal details.
func Internal(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger, msg string, err error) {
	logger.Errorw(msg, "method", r.Method, "path", r.URL.Path, "request_id", RequestID(r.Context()), "err", err)
	Fail(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
}

// Error carries its own envelope status and code across package boundaries.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func NewError(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// Respond writes an *Error as its envelope and anything else as a logged 500.
func Respond(w http.ResponseWriter, r *http.Request, logger *zap.SugaredLogger, msg string, err error) {
	var ae *Error
	if errors.As(err, &ae) {
		Fail(w, ae.Status, ae.Code, ae.Message)
		return
	}
	Internal(w, r, logger, msg, err)
}
