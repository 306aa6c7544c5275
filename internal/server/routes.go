package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// APIUser and APIPassword guard the mutating routes with basic auth.
	// With no password configured the guard fails closed.
	APIUser     string
	APIPassword string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()
	auth := BasicAuthMiddleware(cfg.APIUser, cfg.APIPassword)

	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("GET /v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /v1/jobs/{id}/logs", h.GetJobLogs)
	mux.HandleFunc("GET /v1/jobs/{id}/qa", h.GetJobQA)
	mux.Handle("POST /v1/jobs/{id}/approve", auth(http.HandlerFunc(h.ApproveJob)))
	mux.Handle("POST /v1/jobs/{id}/reject", auth(http.HandlerFunc(h.RejectJob)))
	mux.Handle("POST /v1/jobs/{id}/cancel", auth(http.HandlerFunc(h.CancelJob)))
	mux.Handle("POST /v1/jobs/{id}/mark_published", auth(http.HandlerFunc(h.MarkPublished)))

	mux.HandleFunc("GET /v1/channels", h.ListChannels)
	mux.Handle("POST /v1/channels", auth(http.HandlerFunc(h.CreateChannel)))
	mux.HandleFunc("GET /v1/channels/{slug}/tracks", h.ListChannelTracks)
	mux.Handle("POST /v1/tracks/rescan", auth(http.HandlerFunc(h.RescanTracks)))

	mux.HandleFunc("GET /v1/workers", h.ListWorkers)

	mux.HandleFunc("GET /v1/drafts", h.ListDrafts)
	mux.HandleFunc("GET /v1/drafts/{id}", h.GetDraft)
	mux.Handle("POST /v1/drafts", auth(http.HandlerFunc(h.CreateDraft)))
	mux.Handle("PUT /v1/drafts/{id}", auth(http.HandlerFunc(h.UpdateDraft)))
	mux.Handle("POST /v1/drafts/{id}/submit", auth(http.HandlerFunc(h.SubmitDraft)))
	mux.Handle("POST /v1/drafts/render_all", auth(http.HandlerFunc(h.RenderAll)))

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
