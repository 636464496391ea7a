// Package system serves liveness and runtime information.
package system

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
)

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	db      Pinger
	cache   Pinger
	env     string
	version string
	started time.Time
	logger  *zap.SugaredLogger
}

// NewHandler builds the handler. cache may be nil when Redis is not configured.
func NewHandler(db, cache Pinger, env, version string, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{db: db, cache: cache, env: env, version: version, started: time.Now(), logger: logger}
}

func (h *Handler) uptime() float64 {
	return time.Since(h.started).Seconds()
}

func (h *Handler) ping(ctx context.Context, p Pinger, name string) string {
	if p == nil {
		return "disabled"
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.PingContext(ctx); err != nil {
		h.logger.Warnw("health check failed", "dependency", name, "err", err)
		return "disconnected"
	}
	return "connected"
}

// Liveness handles GET /health without touching dependencies.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.env,
		"version":     h.version,
	})
}

// Health handles GET /api/system/health. A down database is reported, not failed.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	api.OK(w, http.StatusOK, "", map[string]any{
		"status":      "healthy",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"environment": h.env,
		"database":    h.ping(r.Context(), h.db, "mysql"),
		"cache":       h.ping(r.Context(), h.cache, "redis"),
		"uptime":      h.uptime(),
	})
}

// Info handles GET /api/system/info (admin).
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	api.OK(w, http.StatusOK, "", map[string]any{
		"version":    h.version,
		"goVersion":  runtime.Version(),
		"uptime":     h.uptime(),
		"goroutines": runtime.NumGoroutine(),
		"memory": map[string]uint64{
			"alloc":      m.Alloc,
			"totalAlloc": m.TotalAlloc,
			"sys":        m.Sys,
			"heapInuse":  m.HeapInuse,
		},
		"numGC": m.NumGC,
	})
}
