package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"log/slog"

	"agentdash/internal/audit"
	"agentdash/internal/auth"
	"agentdash/internal/config"
	"agentdash/internal/db"
	"agentdash/internal/events"
	"agentdash/internal/jobs"
)

// Backend is the assembled development API: storage, accounts, the task
// dispatcher and the router in front of them.
type Backend struct {
	Handler    http.Handler
	DB         *db.DB
	Auth       *auth.Service
	Dispatcher *jobs.Dispatcher
}

func NewBackend(ctx context.Context, cfg config.Config, exec jobs.Executor, logger *slog.Logger) (*Backend, error) {
	conn, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.RunMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	userStore := auth.NewStore(conn)
	if cfg.UsersPath != "" {
		if err := userStore.SeedFromFile(ctx, cfg.UsersPath); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("seed users: %w", err)
		}
	}
	authSvc := auth.NewService(userStore, cfg.JWTSecret,
		auth.WithTokenTTL(cfg.TokenTTL),
		auth.WithRefreshWindow(cfg.RefreshWindow),
	)

	routes := jobs.DefaultRoutes()
	if cfg.RoutesPath != "" {
		if routes, err = jobs.LoadRoutes(cfg.RoutesPath); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("load routes: %w", err)
		}
	}

	auditStore := audit.NewStore(conn)
	hub := events.NewHub()
	dispatcher := jobs.NewDispatcher(jobs.NewRegistry(hub), exec, routes, logger)
	if cfg.GitHubAPI != "" {
		dispatcher.Repo = jobs.NewGitHubSource(cfg.GitHubAPI, cfg.GitHubToken)
	}
	tasks := &jobs.Handler{
		Dispatcher: dispatcher,
		Stream:     &events.StreamHandler{Hub: hub, Logger: logger},
		Limiter:    audit.NewGuestLimiter(auditStore, cfg.GuestRate),
		GuestRate:  cfg.GuestRate,
		Audit:      auditStore,
		Logger:     logger,
	}

	return &Backend{
		Handler:    NewRouter(logger, authSvc, auditStore, tasks, cfg.CORSOrigins),
		DB:         conn,
		Auth:       authSvc,
		Dispatcher: dispatcher,
	}, nil
}

// Close stops running tasks and closes the database.
func (b *Backend) Close() error {
	b.Dispatcher.Close()
	return b.DB.Close()
}
