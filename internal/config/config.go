package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when CONFIG_PATH is unset. A missing file is not an error.
const DefaultPath = "config.yaml"

// Config is the process configuration: YAML file values overridden by environment variables.
type Config struct {
	Env        string `yaml:"env"`
	Port       string `yaml:"port"`
	APIPrefix  string `yaml:"apiPrefix"`
	AppVersion string `yaml:"appVersion"`

	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Settings SettingsConfig `yaml:"settings"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	HTTP     HTTPConfig     `yaml:"http"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Mail     MailConfig     `yaml:"mail"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	MaxConns int    `yaml:"maxConns"`
	// EnsureSchema runs each repo's CREATE TABLE IF NOT EXISTS on boot.
	EnsureSchema bool `yaml:"ensureSchema"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"accessSecret"`
	RefreshSecret string        `yaml:"refreshSecret"`
	AccessTTL     time.Duration `yaml:"accessTTL"`
	RefreshTTL    time.Duration `yaml:"refreshTTL"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	BcryptCost    int           `yaml:"bcryptCost"`
}

type SettingsConfig struct {
	EncryptionKey string `yaml:"encryptionKey"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

type StorageConfig struct {
	LocalDir       string `yaml:"localDir"`
	PublicBaseURL  string `yaml:"publicBaseURL"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`
	MaxUploadBytes int64  `yaml:"maxUploadBytes"`
}

type HTTPConfig struct {
	AllowedOrigins     []string `yaml:"allowedOrigins"`
	TrustedProxyCIDRs  []string `yaml:"trustedProxyCidrs"`
	RateLimitWhitelist []string `yaml:"rateLimitWhitelist"`
	GeneralLimit       int      `yaml:"generalLimit"`
	AuthLimit          int      `yaml:"authLimit"`
	UploadLimit        int      `yaml:"uploadLimit"`
}

type TasksConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queueSize"`
	Timeout   time.Duration `yaml:"timeout"`
}

type MailConfig struct {
	// AdminEmails is the fallback recipient list when admin_notification_emails is empty.
	AdminEmails []string `yaml:"adminEmails"`
}

// IsDevelopment reports env == development or test; several safeguards relax there.
func (c Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "test"
}

// Load reads config from path (defaults to CONFIG_PATH or config.yaml), applies env overrides,
// fills defaults and validates.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Env, "APP_ENV")
	setString(&cfg.Port, "PORT")
	setString(&cfg.APIPrefix, "API_PREFIX")
	setString(&cfg.AppVersion, "APP_VERSION")

	setString(&cfg.Database.DSN, "DATABASE_URL")
	setString(&cfg.Database.Host, "DB_HOST")
	setString(&cfg.Database.Port, "DB_PORT")
	setString(&cfg.Database.User, "DB_USER")
	setString(&cfg.Database.Password, "DB_PASSWORD")
	setString(&cfg.Database.Name, "DB_NAME")
	if err := setInt(&cfg.Database.MaxConns, "DB_MAX_CONNS"); err != nil {
		return err
	}
	if v := os.Getenv("DB_ENSURE_SCHEMA"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DB_ENSURE_SCHEMA: %w", err)
		}
		cfg.Database.EnsureSchema = b
	}

	setString(&cfg.Auth.AccessSecret, "JWT_SECRET")
	setString(&cfg.Auth.RefreshSecret, "JWT_REFRESH_SECRET")
	if err := setDuration(&cfg.Auth.AccessTTL, "JWT_EXPIRES_IN"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Auth.RefreshTTL, "JWT_REFRESH_EXPIRES_IN"); err != nil {
		return err
	}
	setString(&cfg.Settings.EncryptionKey, "SETTINGS_ENCRYPTION_KEY")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Storage.LocalDir, "UPLOAD_DIR")
	setString(&cfg.Storage.PublicBaseURL, "UPLOAD_PUBLIC_URL")
	setString(&cfg.Storage.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.Storage.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.Storage.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.Storage.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MINIO_USE_SSL: %w", err)
		}
		cfg.Storage.MinioUseSSL = b
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.Storage.MaxUploadBytes = n
	}

	setList(&cfg.HTTP.AllowedOrigins, "ALLOWED_ORIGINS")
	setList(&cfg.HTTP.TrustedProxyCIDRs, "TRUSTED_PROXY_CIDRS")
	setList(&cfg.HTTP.RateLimitWhitelist, "RATE_LIMIT_WHITELIST")
	setList(&cfg.Mail.AdminEmails, "ADMIN_EMAILS")
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if cfg.Port == "" {
		cfg.Port = "5000"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	if cfg.AppVersion == "" {
		cfg.AppVersion = "1.0.0"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	a := &cfg.Auth
	if a.AccessTTL <= 0 {
		a.AccessTTL = 24 * time.Hour
	}
	if a.RefreshTTL <= 0 {
		a.RefreshTTL = 7 * 24 * time.Hour
	}
	if a.Issuer == "" {
		a.Issuer = "EstateHub"
	}
	if a.Audience == "" {
		a.Audience = "estatehub-users"
	}
	if a.BcryptCost == 0 {
		a.BcryptCost = 10
	}
	if cfg.IsDevelopment() {
		if a.AccessSecret == "" {
			a.AccessSecret = "dev-access-secret"
		}
		if a.RefreshSecret == "" {
			a.RefreshSecret = "dev-refresh-secret"
		}
		if cfg.Settings.EncryptionKey == "" {
			cfg.Settings.EncryptionKey = "dev-settings-encryption-key"
		}
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "estatehub"
	}
	s := &cfg.Storage
	if s.LocalDir == "" {
		s.LocalDir = "uploads"
	}
	if s.PublicBaseURL == "" {
		s.PublicBaseURL = "/uploads"
	}
	if s.MinioBucket == "" {
		s.MinioBucket = "estatehub"
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = 256 << 20
	}
	h := &cfg.HTTP
	if len(h.AllowedOrigins) == 0 {
		h.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if h.GeneralLimit <= 0 {
		h.GeneralLimit = 100
	}
	if h.AuthLimit <= 0 {
		h.AuthLimit = 5
	}
	if h.UploadLimit <= 0 {
		h.UploadLimit = 50
	}
	t := &cfg.Tasks
	if t.Workers <= 0 {
		t.Workers = 4
	}
	if t.QueueSize <= 0 {
		t.QueueSize = 256
	}
	if t.Timeout <= 0 {
		t.Timeout = 30 * time.Second
	}
	if len(cfg.Mail.AdminEmails) == 0 {
		cfg.Mail.AdminEmails = []string{"admin@estatehub.com"}
	}
}

func validate(cfg Config) error {
	if cfg.Auth.AccessSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if cfg.Auth.RefreshSecret == "" {
		return errors.New("JWT_REFRESH_SECRET is required")
	}
	if cfg.Auth.AccessSecret == cfg.Auth.RefreshSecret {
		return errors.New("JWT_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if cfg.Auth.RefreshTTL <= cfg.Auth.AccessTTL {
		return errors.New("refresh token ttl must exceed access token ttl")
	}
	if cfg.Settings.EncryptionKey == "" {
		return errors.New("SETTINGS_ENCRYPTION_KEY is required")
	}
	if cfg.Storage.MinioEndpoint != "" && (cfg.Storage.MinioAccessKey == "" || cfg.Storage.MinioSecretKey == "") {
		return errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required with MINIO_ENDPOINT")
	}
	return nil
}

// ParseDuration accepts Go durations ("90m", "24h") and day suffixes ("7d").
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = SplitCSV(v)
	}
}

// SplitCSV splits a comma separated list, trimming blanks.
func SplitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
