package httpserver

import (
	"encoding/json"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agentdash/internal/audit"
	"agentdash/internal/auth"
	"agentdash/internal/jobs"
)

func NewRouter(
	logger *slog.Logger,
	authSvc *auth.Service,
	auditStore *audit.Store,
	tasks *jobs.Handler,
	corsOrigins []string,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(withCORS(corsOrigins))

	// Health checks
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok", "message": "Backend service is alive"})
	})
	r.Get("/health/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"pong": true})
	})

	secured := auth.JWTMiddleware(authSvc)
	accounts := &auth.Handler{Service: authSvc, Audit: auditStore, Logger: logger}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", accounts.Login)
		r.Post("/signup", accounts.Signup)
		r.Post("/refresh", accounts.Refresh)
		r.Post("/check-email", accounts.CheckEmail)
		r.With(secured).Get("/me", accounts.Me)
		r.With(secured).Post("/approve/{id}", auth.RequireRole(accounts.Approve, auth.RoleAdmin))
		r.With(secured).Get("/pending", auth.RequireRole(accounts.Pending, auth.RoleAdmin))
	})

	// Guests may run tasks; a token, when sent, identifies the caller.
	r.Route("/tasks", func(r chi.Router) {
		r.Use(auth.OptionalAuth(authSvc))
		r.Post("/run/{preset}", tasks.Run)
		r.Get("/{id}", tasks.Get)
		r.Get("/{id}/stream", tasks.StreamLogs)
	})

	auditHandler := &audit.QueryHandler{Store: auditStore, Logger: logger}
	r.With(secured).Get("/admin/audit", auth.RequireRole(auditHandler.ServeHTTP, auth.RoleAdmin))

	return r
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
