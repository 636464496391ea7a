// Package setting persists typed key/value configuration and derives the SMTP setup from it.
package setting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/setting/entity"
	"github.com/hanfour/zeyang-construction-sub000/pkg/mailer"
)

// CategoryEmail holds the smtp_* and notification keys.
const CategoryEmail = "email"

// PasswordMask replaces smtp_password in admin reads; writing it back keeps the stored secret.
const PasswordMask = "••••••••"

// sentinel errors for common failure modes
var (
	ErrNotFound = errors.New("setting not found")
)

// Store is the persistence the service needs; *repo.Repo satisfies it.
type Store interface {
	List(ctx context.Context, category string) ([]entity.Setting, error)
	Get(ctx context.Context, key string) (*entity.Setting, error)
	Upsert(ctx context.Context, key string, value *string, typ, category string, updatedBy int64) (int64, error)
	DeleteCategory(ctx context.Context, category string) (int64, error)
}

// Service encapsulates business logic for settings and depends on a repo.
type Service struct {
	repo   Store
	cipher *Cipher
	mail   mailer.Sender
	dev    bool
	logger *zap.SugaredLogger
}

// NewService constructs a Service. dev relaxes the SMTP test when SMTP is disabled.
func NewService(r Store, c *Cipher, sender mailer.Sender, dev bool, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: r, cipher: c, mail: sender, dev: dev, logger: logger}
}

func isSecretKey(key string) bool { return strings.Contains(key, "password") }

func (s *Service) decode(row entity.Setting) entity.Value {
	v := entity.Value{Key: row.Key, Type: row.Type, Category: row.Category, Description: row.Description, UpdatedAt: row.UpdatedAt}
	raw := row.Value.String
	switch row.Type {
	case entity.TypeNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			f = 0
		}
		v.Value = f
	case entity.TypeBoolean:
		v.Value = raw == "true"
	case entity.TypeJSON:
		if raw == "" {
			return v
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			s.logger.Warnw("invalid json setting", "key", row.Key, "err", err)
			return v
		}
		v.Value = parsed
	default:
		if isSecretKey(row.Key) && raw != "" {
			raw = s.cipher.Decrypt(raw)
		}
		v.Value = raw
	}
	return v
}

func (s *Service) encode(key string, e entity.Entry) (*string, error) {
	var out string
	switch e.Type {
	case entity.TypeNumber:
		switch n := e.Value.(type) {
		case nil:
			out = "0"
		case float64:
			out = strconv.FormatFloat(n, 'f', -1, 64)
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err != nil {
				return nil, api.NewError(http.StatusBadRequest, api.CodeValidation, fmt.Sprintf("%s must be a number", key))
			}
			out = strings.TrimSpace(n)
		default:
			return nil, api.NewError(http.StatusBadRequest, api.CodeValidation, fmt.Sprintf("%s must be a number", key))
		}
	case entity.TypeBoolean:
		out = strconv.FormatBool(truthy(e.Value))
	case entity.TypeJSON:
		if e.Value == nil {
			return nil, nil
		}
		b, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		out = string(b)
	default:
		out = stringify(e.Value)
		if isSecretKey(key) && out != "" {
			enc, err := s.cipher.Encrypt(out)
			if err != nil {
				return nil, fmt.Errorf("encrypt %s: %w", key, err)
			}
			out = enc
		}
	}
	return &out, nil
}

func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true" || b == "1"
	case float64:
		return b != 0
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// GetAll returns key -> coerced value, optionally restricted to one category.
func (s *Service) GetAll(ctx context.Context, category string) (map[string]entity.Value, error) {
	rows, err := s.repo.List(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	out := make(map[string]entity.Value, len(rows))
	for _, row := range rows {
		v := s.decode(row)
		v.Key = ""
		out[row.Key] = v
	}
	return out, nil
}

// Get returns one coerced setting.
func (s *Service) Get(ctx context.Context, key string) (*entity.Value, error) {
	row, err := s.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get setting: %w", err)
	}
	v := s.decode(*row)
	return &v, nil
}

// Set upserts every entry in key order. Type defaults to string and category to general.
func (s *Service) Set(ctx context.Context, entries map[string]entity.Entry, updatedBy int64) ([]entity.Result, error) {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	results := make([]entity.Result, 0, len(keys))
	for _, key := range keys {
		e := entries[key]
		if e.Type == "" {
			e.Type = entity.TypeString
		}
		if !slices.Contains([]string{entity.TypeString, entity.TypeNumber, entity.TypeBoolean, entity.TypeJSON}, e.Type) {
			return results, api.NewError(http.StatusBadRequest, api.CodeValidation, fmt.Sprintf("Invalid type %q for setting %s", e.Type, key))
		}
		if e.Category == "" {
			e.Category = "general"
		}
		val, err := s.encode(key, e)
		if err != nil {
			return results, err
		}
		n, err := s.repo.Upsert(ctx, key, val, e.Type, e.Category, updatedBy)
		if err != nil {
			return results, fmt.Errorf("upsert setting %s: %w", key, err)
		}
		results = append(results, entity.Result{Key: key, Success: true, Affected: n})
		s.logger.Infow("setting updated", "key", key, "user_id", updatedBy)
	}
	return results, nil
}

// DeleteCategory removes every setting in category and returns how many rows went.
func (s *Service) DeleteCategory(ctx context.Context, category string, userID int64) (int64, error) {
	n, err := s.repo.DeleteCategory(ctx, category)
	if err != nil {
		return 0, fmt.Errorf("delete settings: %w", err)
	}
	s.logger.Infow("settings deleted by category", "category", category, "user_id", userID, "affected", n)
	return n, nil
}

// SmtpConfig is the outbound mail setup assembled from the email category.
type SmtpConfig struct {
	mailer.SMTPConfig
	Enabled                bool     `json:"enabled"`
	AdminEmails            []string `json:"adminEmails"`
	SendAdminNotifications bool     `json:"sendAdminNotifications"`
	SendUserConfirmations  bool     `json:"sendUserConfirmations"`
}

// SmtpConfig returns nil when smtp_enabled is not true.
func (s *Service) SmtpConfig(ctx context.Context) (*SmtpConfig, error) {
	m, err := s.GetAll(ctx, CategoryEmail)
	if err != nil {
		return nil, err
	}
	if !boolOf(m, "smtp_enabled", false) {
		return nil, nil
	}
	port := int(numberOf(m, "smtp_port"))
	if port == 0 {
		port = 587
	}
	fromName := stringOf(m, "smtp_from_name")
	if fromName == "" {
		fromName = "EstateHub"
	}
	var admins []string
	for _, a := range strings.Split(stringOf(m, "admin_notification_emails"), ",") {
		if a = strings.TrimSpace(a); a != "" {
			admins = append(admins, a)
		}
	}
	return &SmtpConfig{
		SMTPConfig: mailer.SMTPConfig{
			Host:     stringOf(m, "smtp_host"),
			Port:     port,
			Secure:   boolOf(m, "smtp_secure", false),
			Username: stringOf(m, "smtp_username"),
			Password: stringOf(m, "smtp_password"),
			From:     stringOf(m, "smtp_from_email"),
			FromName: fromName,
		},
		Enabled:                true,
		AdminEmails:            admins,
		SendAdminNotifications: boolOf(m, "send_admin_notifications", true),
		SendUserConfirmations:  boolOf(m, "send_user_confirmations", true),
	}, nil
}

// SmtpTestResult never carries a Go error; failures are reported in Error.
type SmtpTestResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

var requiredSmtpKeys = []string{"smtp_host", "smtp_port", "smtp_username", "smtp_password", "smtp_from_email"}

// TestSmtpConnection dials and authenticates with the stored SMTP settings.
func (s *Service) TestSmtpConnection(ctx context.Context) SmtpTestResult {
	m, err := s.GetAll(ctx, CategoryEmail)
	if err != nil {
		s.logger.Errorw("smtp test: load settings", "err", err)
		return SmtpTestResult{Error: "Failed to fetch settings"}
	}
	if !boolOf(m, "smtp_enabled", false) {
		if s.dev {
			return SmtpTestResult{Success: true, Message: "SMTP test completed (development mode - no actual email server configured)"}
		}
		return SmtpTestResult{Error: "SMTP is not enabled"}
	}
	var missing []string
	for _, k := range requiredSmtpKeys {
		v, ok := m[k]
		if !ok || isZero(v.Value) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return SmtpTestResult{Error: "Missing required SMTP settings: " + strings.Join(missing, ", ")}
	}
	cfg, err := s.SmtpConfig(ctx)
	if err != nil || cfg == nil {
		return SmtpTestResult{Error: "SMTP is not enabled"}
	}
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()
	if err := s.mail.Verify(ctx, cfg.SMTPConfig); err != nil {
		s.logger.Warnw("smtp connection test failed", "host", cfg.Host, "err", err)
		return SmtpTestResult{Error: err.Error()}
	}
	s.logger.Infow("smtp connection test completed", "host", cfg.Host)
	return SmtpTestResult{Success: true, Message: "SMTP connection successful"}
}

// EmailSettings returns the email category with the stored password masked.
func (s *Service) EmailSettings(ctx context.Context) (map[string]entity.Value, error) {
	m, err := s.GetAll(ctx, CategoryEmail)
	if err != nil {
		return nil, err
	}
	if v, ok := m["smtp_password"]; ok {
		if !isZero(v.Value) {
			v.Value = PasswordMask
		} else {
			v.Value = ""
		}
		m["smtp_password"] = v
	}
	return m, nil
}

// EmailFieldType infers the storage type of an email-category key.
func EmailFieldType(key string) string {
	switch {
	case strings.HasSuffix(key, "_enabled"), key == "smtp_secure", strings.HasPrefix(key, "send_"):
		return entity.TypeBoolean
	case key == "smtp_port":
		return entity.TypeNumber
	}
	return entity.TypeString
}

// UpdateEmailSettings writes the given email keys with inferred types. A masked password is skipped.
func (s *Service) UpdateEmailSettings(ctx context.Context, values map[string]any, userID int64) ([]entity.Result, error) {
	entries := make(map[string]entity.Entry, len(values))
	for k, v := range values {
		if k == "smtp_password" && v == PasswordMask {
			continue
		}
		entries[k] = entity.Entry{Value: v, Type: EmailFieldType(k), Category: CategoryEmail}
	}
	return s.Set(ctx, entries, userID)
}

func isZero(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case float64:
		return t == 0
	case bool:
		return !t
	}
	return false
}

func stringOf(m map[string]entity.Value, key string) string {
	if v, ok := m[key]; ok {
		return stringify(v.Value)
	}
	return ""
}

func numberOf(m map[string]entity.Value, key string) float64 {
	if v, ok := m[key]; ok {
		switch n := v.Value.(type) {
		case float64:
			return n
		case string:
			f, _ := strconv.ParseFloat(n, 64)
			return f
		}
	}
	return 0
}

// boolOf returns def unless the key holds an explicit boolean.
func boolOf(m map[string]entity.Value, key string, def bool) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.Value.(bool); ok {
			return b
		}
	}
	return def
}
