// ABOUTME: Gateway orchestrator that wires the HTTP API, session supervisor and store
// ABOUTME: Manages the HTTP server, health endpoints and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/lynx-gateway/internal/account"
	"github.com/2389/lynx-gateway/internal/auth"
	"github.com/2389/lynx-gateway/internal/config"
	"github.com/2389/lynx-gateway/internal/metrics"
	"github.com/2389/lynx-gateway/internal/session"
	"github.com/2389/lynx-gateway/internal/store"
	"github.com/2389/lynx-gateway/internal/supervisor"
)

// shutdownTimeout bounds graceful shutdown after Run's context is cancelled.
const shutdownTimeout = 10 * time.Second

// Gateway orchestrates the lynx-gateway server components.
type Gateway struct {
	config     *config.Config
	store      store.Store
	issuer     *auth.JWTIssuer
	accounts   *account.Service
	supervisor *supervisor.Supervisor
	metrics    *metrics.Metrics
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore opens the SQLite store named by config, or LYNX_DB_PATH when set.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LYNX_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway backed by the SQLite store named in cfg.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := NewWithStore(cfg, s, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithStore creates a Gateway using an already opened store. The gateway takes
// ownership of s and closes it on Shutdown.
func NewWithStore(cfg *config.Config, s store.Store, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	issuer, err := auth.NewJWTIssuer([]byte(cfg.Auth.JWTSecret),
		auth.WithLogger(logger.With("component", "auth")))
	if err != nil {
		return nil, fmt.Errorf("creating credential issuer: %w", err)
	}

	m := metrics.New(metrics.Config{})

	protocol := session.NewProtocol(issuer,
		newEnvelopeHandler(logger.With("component", "envelopes")),
		m,
		logger.With("component", "protocol"),
	)

	sup := supervisor.New(supervisor.Config{
		MaxMessageSize:  cfg.Sessions.MaxMessageSize,
		WriteTimeout:    cfg.Sessions.WriteTimeout,
		SendBuffer:      cfg.Sessions.SendBuffer,
		ReadBufferSize:  cfg.Sessions.ReadBufferSize,
		WriteBufferSize: cfg.Sessions.WriteBufferSize,
		AllowedOrigins:  cfg.Sessions.AllowedOrigins,
	}, protocol, m, logger.With("component", "supervisor"))

	gw := &Gateway{
		config:     cfg,
		store:      s,
		issuer:     issuer,
		accounts:   account.NewService(s, issuer, cfg.Auth.TokenTTL, account.WithLogger(logger.With("component", "accounts"))),
		supervisor: sup,
		metrics:    m,
		logger:     logger,
	}
	gw.router = gw.buildRouter()

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("gateway initialized",
		"http_addr", cfg.Server.HTTPAddr,
		"metrics_enabled", cfg.Metrics.Enabled,
		"token_ttl", cfg.Auth.TokenTTL,
	)
	return gw, nil
}

// buildRouter creates the chi router with all middleware and routes.
func (g *Gateway) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/health", g.handleHealth)
	r.Get("/health/ready", g.handleReady)
	if g.config.Metrics.Enabled {
		r.Handle(g.config.Metrics.Path, g.metrics.Handler())
	}

	// Duplex sessions authenticate in-band with an authentication envelope.
	r.Get("/ws/user", g.supervisor.Handler(session.RoleUser))
	r.Get("/ws/agent", g.supervisor.Handler(session.RoleAgent))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", g.handleRegister)
		r.Post("/auth/login", g.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(auth.HTTPAuthMiddleware(g.issuer, g.logger.With("component", "http-auth"), g.metrics))
			r.Use(auth.RequireSubject())

			r.Get("/users/info", g.handleUserInfo)
			r.Get("/sessions", g.handleListSessions)

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", g.handleListAgents)
				r.Post("/", g.handleCreateAgent)
				r.Delete("/{uuid}", g.handleDeleteAgent)
			})
		})
	})

	return r
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Supervisor exposes the session supervisor.
func (g *Gateway) Supervisor() *supervisor.Supervisor {
	return g.supervisor
}

// Issuer exposes the credential issuer, e.g. for minting tokens from the CLI.
func (g *Gateway) Issuer() *auth.JWTIssuer {
	return g.issuer
}

// Run starts the HTTP server and blocks until ctx is cancelled or the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.config.Server.HTTPAddr, err)
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx is cancelled or the server fails,
// then shuts the gateway down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("HTTP server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown signal received")
	case err, ok := <-errCh:
		if ok {
			serverErr = err
		}
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops all gateway servers and releases resources.
// Upgraded connections are hijacked and invisible to http.Server.Shutdown, so the
// supervisor closes them first.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "session shutdown", g.supervisor.Shutdown(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store is reachable, reporting live sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := g.store.Ping(r.Context()); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.supervisor.Manager().Count(""))
}
