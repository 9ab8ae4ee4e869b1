// ABOUTME: HTTP server wiring for the zapflow console engine
// ABOUTME: Builds the engine services, routes and runs the listener until shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zapflow/zapflow/internal/auth"
	"github.com/zapflow/zapflow/internal/config"
	"github.com/zapflow/zapflow/internal/conversation"
	"github.com/zapflow/zapflow/internal/identity"
	"github.com/zapflow/zapflow/internal/scheduler"
	"github.com/zapflow/zapflow/internal/simulator"
	"github.com/zapflow/zapflow/internal/store"
	"github.com/zapflow/zapflow/internal/webhook"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// Gateway owns the engine services and the HTTP surface over them.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	blobs      store.Blobs
	identity   *identity.Service
	chats      *conversation.Service
	scheduler  *scheduler.Service
	normalizer *webhook.Normalizer
	simulator  *simulator.Simulator
	bcast      *conversation.Broadcaster
	tokens     *auth.Tokens
}

// New builds the full engine: blob store, services and the reply simulator.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blobs, err := store.NewSQLiteBlobs(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	ctx := context.Background()
	bcast := conversation.NewBroadcaster(logger)
	chats := conversation.NewService(ctx, blobs, bcast, logger)

	var gen simulator.Generator
	if cfg.Simulator.Enabled {
		gen = simulator.NewGeminiGenerator(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.BaseURL)
	}
	sim := simulator.New(chats, gen, bcast, cfg.Simulator.MinDelay, cfg.Simulator.MaxDelay, logger)

	return &Gateway{
		cfg:        cfg,
		logger:     logger.With("component", "gateway"),
		blobs:      blobs,
		identity:   identity.NewService(ctx, blobs, logger),
		chats:      chats,
		scheduler:  scheduler.NewService(ctx, blobs, logger),
		normalizer: webhook.New(chats, logger),
		simulator:  sim,
		bcast:      bcast,
		tokens:     auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (g *Gateway) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    g.cfg.Server.HTTPAddr,
		Handler: g.routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		g.logger.Error("shutdown error", "error", err)
	}
	return g.blobs.Close()
}

// routes builds the HTTP mux. Login, registration, the inbound webhook and
// operational endpoints are open; everything else requires a session token.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", g.handleHealth)
	if g.cfg.Metrics.Enabled {
		path := g.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, promhttp.Handler())
	}

	mux.HandleFunc("POST /api/login", g.handleLogin)
	mux.HandleFunc("POST /api/register", g.handleRegister)
	mux.HandleFunc("POST /api/webhook", g.handleWebhook)

	mux.Handle("GET /api/chats", g.requireAuth(g.handleListChats))
	mux.Handle("POST /api/chats/{id}/messages", g.requireAuth(g.handleSendMessage))
	mux.Handle("POST /api/chats/{id}/select", g.requireAuth(g.handleSelectChat))
	mux.Handle("POST /api/chats/{id}/status", g.requireAuth(g.handleSetStatus))
	mux.Handle("PATCH /api/chats/{id}/crm", g.requireAuth(g.handleUpdateCRM))

	mux.Handle("GET /api/scheduled", g.requireAuth(g.handleListScheduled))
	mux.Handle("POST /api/scheduled", g.requireAuth(g.handleSchedule))
	mux.Handle("DELETE /api/scheduled/{id}", g.requireAuth(g.handleCancelScheduled))

	mux.Handle("GET /api/users", g.requireAuth(g.handleListUsers))
	mux.Handle("POST /api/users", g.requireRole(g.handleAddAgent, store.RoleCompanyAdmin))
	mux.Handle("DELETE /api/users/{id}", g.requireRole(g.handleRemoveUser, store.RoleCompanyAdmin, store.RoleSuperAdmin))
	mux.Handle("POST /api/users/{id}/password", g.requireRole(g.handleChangePassword, store.RoleSuperAdmin))

	mux.Handle("GET /api/companies", g.requireAuth(g.handleListCompanies))
	mux.Handle("POST /api/companies", g.requireRole(g.handleAddCompany, store.RoleSuperAdmin))
	mux.Handle("DELETE /api/companies/{id}", g.requireRole(g.handleDeleteCompany, store.RoleSuperAdmin))
	mux.Handle("PUT /api/company/meta", g.requireRole(g.handleUpdateMeta, store.RoleCompanyAdmin))

	mux.Handle("GET /api/events", g.requireAuth(g.handleEvents))

	return g.logRequests(mux)
}

// logRequests logs each request at debug level.
func (g *Gateway) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		g.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}
