// Package router mounts every HTTP route on a standard library ServeMux.
package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanfour/zeyang-construction-sub000/internal/api"
	"github.com/hanfour/zeyang-construction-sub000/internal/auth"
	"github.com/hanfour/zeyang-construction-sub000/internal/config"
	"github.com/hanfour/zeyang-construction-sub000/internal/contact"
	"github.com/hanfour/zeyang-construction-sub000/internal/project"
	"github.com/hanfour/zeyang-construction-sub000/internal/projectimage"
	"github.com/hanfour/zeyang-construction-sub000/internal/ratelimit"
	"github.com/hanfour/zeyang-construction-sub000/internal/setting"
	"github.com/hanfour/zeyang-construction-sub000/internal/system"
	"github.com/hanfour/zeyang-construction-sub000/internal/tag"
	"github.com/hanfour/zeyang-construction-sub000/internal/user"
)

// Rate limit windows.
const (
	GeneralWindow = 15 * time.Minute
	AuthWindow    = 15 * time.Minute
	UploadWindow  = 60 * time.Minute
)

// Handlers groups the per-domain HTTP handlers.
type Handlers struct {
	System   *system.Handler
	Auth     *user.Handler
	Contacts *contact.Handler
	Projects *project.Handler
	Images   *projectimage.Handler
	Tags     *tag.Handler
	Settings *setting.Handler
}

// Limiters are the per-concern request limiters. A nil limiter disables that check.
type Limiters struct {
	General ratelimit.Limiter
	Contact ratelimit.Limiter
	Login   ratelimit.Limiter
	Upload  ratelimit.Limiter
}

// Deps is everything RegisterRoutes needs.
type Deps struct {
	Config   config.Config
	Handlers Handlers
	Limiters Limiters
	Auth     *auth.Middleware

	// UploadDir is served under /uploads/ when objects live on the local filesystem.
	UploadDir string
	Logger    *zap.SugaredLogger
}

type routes struct {
	mux     *http.ServeMux
	general Middleware
}

func (rt *routes) handle(pattern string, h http.HandlerFunc, mw ...Middleware) {
	if _, path, _ := strings.Cut(pattern, " "); strings.HasPrefix(path, "/api/") {
		mw = append([]Middleware{rt.general}, mw...)
	}
	rt.mux.Handle(pattern, chain(h, mw...))
}

// RegisterRoutes builds the full handler tree, outer middleware included.
func RegisterRoutes(d Deps) (http.Handler, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	cfg := d.Config
	proxies, err := NewTrustedProxies(cfg.HTTP.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	whitelist := cfg.HTTP.RateLimitWhitelist
	inTest := func(*http.Request) bool { return cfg.Env == "test" }
	inDev := func(*http.Request) bool { return cfg.IsDevelopment() }

	rt := &routes{
		mux:     http.NewServeMux(),
		general: RateLimitMiddleware(d.Limiters.General, "Too many requests from this IP, please try again later", whitelist, inTest),
	}
	contactLimit := RateLimitMiddleware(d.Limiters.Contact, "Too many requests from this IP, please try again later", whitelist, inTest)
	loginLimit := RateLimitMiddleware(d.Limiters.Login, "Too many authentication attempts, please try again later", whitelist, inDev)
	uploadLimit := RateLimitMiddleware(d.Limiters.Upload, "Upload limit exceeded, please try again later", whitelist, nil)

	authn := Middleware(d.Auth.Authenticate)
	optional := Middleware(d.Auth.Optional)
	staff := []Middleware{authn, auth.RequireRoles(auth.RoleAdmin, auth.RoleEditor)}
	admin := []Middleware{authn, auth.RequireRoles(auth.RoleAdmin)}

	h := d.Handlers

	rt.handle("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, http.StatusOK, map[string]any{
			"message":       "EstateHub API Server",
			"version":       cfg.AppVersion,
			"documentation": nil,
		})
	})
	rt.handle("GET /health", h.System.Liveness)
	rt.handle("GET /api/system/health", h.System.Health)
	rt.handle("GET /api/system/info", h.System.Info, admin...)

	rt.handle("POST /api/auth/login", h.Auth.Login, loginLimit)
	rt.handle("POST /api/auth/register", h.Auth.Register)
	rt.handle("POST /api/auth/refresh", h.Auth.Refresh)
	rt.handle("POST /api/auth/logout", h.Auth.Logout, authn)
	rt.handle("GET /api/auth/me", h.Auth.Me, authn)
	rt.handle("PUT /api/auth/change-password", h.Auth.ChangePassword, authn)

	rt.handle("POST /api/contacts", h.Contacts.Create, contactLimit)
	rt.handle("GET /api/contacts", h.Contacts.List, staff...)
	rt.handle("GET /api/contacts/statistics", h.Contacts.Stats, admin...)
	rt.handle("GET /api/contacts/export", h.Contacts.Export, admin...)
	rt.handle("PUT /api/contacts/bulk-read", h.Contacts.BulkRead, staff...)
	rt.handle("POST /api/contacts/bulk-delete", h.Contacts.BulkDelete, admin...)
	rt.handle("GET /api/contacts/{id}", h.Contacts.Get, staff...)
	rt.handle("PUT /api/contacts/{id}/read", h.Contacts.MarkRead, staff...)
	rt.handle("PUT /api/contacts/{id}/replied", h.Contacts.MarkReplied, staff...)
	rt.handle("PUT /api/contacts/{id}/reply", h.Contacts.Reply, staff...)
	rt.handle("PUT /api/contacts/{id}/notes", h.Contacts.UpdateNotes, staff...)
	rt.handle("DELETE /api/contacts/{id}", h.Contacts.Delete, admin...)

	rt.handle("GET /api/projects", h.Projects.List, optional)
	rt.handle("GET /api/projects/featured", h.Projects.Featured)
	rt.handle("GET /api/projects/search", h.Projects.Search)
	rt.handle("PUT /api/projects/reorder", h.Projects.Reorder, admin...)
	rt.handle("POST /api/projects", h.Projects.Create, staff...)
	rt.handle("GET /api/projects/{identifier}", h.Projects.Get, optional)
	rt.handle("GET /api/projects/{identifier}/related", h.Projects.Related)
	rt.handle("GET /api/projects/{identifier}/statistics", h.Projects.Statistics, admin...)
	rt.handle("PUT /api/projects/{identifier}", h.Projects.Update, staff...)
	rt.handle("PATCH /api/projects/{identifier}/status", h.Projects.UpdateStatus, staff...)
	rt.handle("POST /api/projects/{identifier}/feature", h.Projects.ToggleFeatured, admin...)
	rt.handle("DELETE /api/projects/{identifier}", h.Projects.Delete, admin...)

	rt.handle("GET /api/projects/{identifier}/images", h.Images.List, staff...)
	rt.handle("POST /api/projects/{identifier}/images", h.Images.Upload, append(staff, uploadLimit)...)
	rt.handle("GET /api/projects/{identifier}/images/stats", h.Images.Stats, staff...)
	rt.handle("PUT /api/projects/{identifier}/images/reorder", h.Images.Reorder, staff...)
	rt.handle("POST /api/projects/{identifier}/images/bulk-delete", h.Images.BulkDelete, staff...)
	rt.handle("PUT /api/projects/{identifier}/images/{imageId}", h.Images.Update, staff...)
	rt.handle("POST /api/projects/{identifier}/images/{imageId}/set-main", h.Images.SetMain, staff...)
	rt.handle("DELETE /api/projects/{identifier}/images/{imageId}", h.Images.Delete, staff...)

	rt.handle("GET /api/tags", h.Tags.List)
	rt.handle("GET /api/tags/popular", h.Tags.Popular)
	rt.handle("GET /api/tags/search", h.Tags.Search)
	rt.handle("POST /api/tags", h.Tags.Create, staff...)
	rt.handle("POST /api/tags/merge", h.Tags.Merge, admin...)
	rt.handle("POST /api/tags/update-counts", h.Tags.UpdateCounts, admin...)
	rt.handle("GET /api/tags/{identifier}", h.Tags.Get)
	rt.handle("PUT /api/tags/{identifier}", h.Tags.Update, admin...)
	rt.handle("DELETE /api/tags/{identifier}", h.Tags.Delete, admin...)

	rt.handle("GET /api/settings", h.Settings.List, admin...)
	rt.handle("PUT /api/settings", h.Settings.Update, admin...)
	rt.handle("POST /api/settings/smtp/test", h.Settings.TestSmtp, admin...)
	rt.handle("GET /api/settings/category/email", h.Settings.GetEmail, admin...)
	rt.handle("PUT /api/settings/category/email", h.Settings.PutEmail, admin...)
	rt.handle("DELETE /api/settings/category/email", h.Settings.DeleteEmail, admin...)
	rt.handle("GET /api/settings/{key}", h.Settings.Get, admin...)

	if d.UploadDir != "" {
		rt.mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", noListing(http.FileServer(http.Dir(d.UploadDir)))))
	}
	rt.mux.HandleFunc("/", api.NotFoundRoute)

	return chain(rt.mux,
		RequestIDMiddleware(),
		ClientIPMiddleware(proxies),
		LoggingMiddleware(logger),
		RecoverMiddleware(logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(cfg.HTTP.AllowedOrigins),
		BodyLimitMiddleware(cfg.Storage.MaxUploadBytes),
	), nil
}

// noListing hides directory indexes.
func noListing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			api.NotFoundRoute(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
