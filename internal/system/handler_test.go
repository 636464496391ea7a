package system

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// redisPinger adapts a go-redis client the way cmd/api does.
type redisPinger struct{ c *redis.Client }

func (p redisPinger) PingContext(ctx context.Context) error { return p.c.Ping(ctx).Err() }

func TestHealthReportsDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
	h := NewHandler(down, redisPinger{rdb}, "test", "1.0.0", nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "disconnected", body.Data["database"])
	assert.Equal(t, "connected", body.Data["cache"])
	assert.Equal(t, "test", body.Data["environment"])
}

func TestLivenessAndInfo(t *testing.T) {
	h := NewHandler(pingFunc(func(context.Context) error { return nil }), nil, "production", "2.1.0", nil)

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
	assert.Contains(t, rec.Body.String(), `"version":"2.1.0"`)

	rec = httptest.NewRecorder()
	h.Info(rec, httptest.NewRequest(http.MethodGet, "/api/system/info", nil))
	assert.Contains(t, rec.Body.String(), `"goVersion":"go`)
	assert.Contains(t, rec.Body.String(), `"goroutines"`)
}
