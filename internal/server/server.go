// Package server assembles the quill HTTP API: the session-only management
// plane, the dual-authenticated notebook CRUD surface, and health probes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quillworks/quill/internal/gateway"
	"github.com/quillworks/quill/internal/handler"
	"github.com/quillworks/quill/internal/server/middleware"
	"github.com/quillworks/quill/internal/service"
	"github.com/quillworks/quill/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	LoginRateLimit  int // login attempts per minute per IP
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		LoginRateLimit:  10,
	}
}

// Server is the top-level HTTP server for quill. It owns the Chi router, the
// store, the API-key gateway, and the session service.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *store.Store
	gw         *gateway.Gateway
	sessions   *service.SessionService
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, st *store.Store, gw *gateway.Gateway, sessions *service.SessionService, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		gw:       gw,
		sessions: sessions,
		logger:   logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Remaining-Minute", "X-RateLimit-Remaining-Day", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		sessionHandler := handler.NewSessionHandler(s.sessions)
		keysHandler := handler.NewKeysHandler(s.store, gateway.NewIssuer(s.store))
		notebooksHandler := handler.NewNotebooksHandler(s.store)
		sourcesHandler := handler.NewSourcesHandler(s.store)
		notesHandler := handler.NewNotesHandler(s.store)
		researchHandler := handler.NewResearchHandler(s.store)

		// Session endpoints. Login is throttled per IP since it is the one
		// unauthenticated credential-guessing surface.
		r.Group(func(r chi.Router) {
			r.Use(middleware.LoginRateLimit(s.cfg.LoginRateLimit))
			r.Post("/session", sessionHandler.Login)
		})
		r.Delete("/session", sessionHandler.Logout)

		// Key management is session-only: keys never manage keys.
		r.Route("/api-keys", func(r chi.Router) {
			r.Use(middleware.RequireSession(s.sessions))

			r.Post("/", keysHandler.Create)
			r.Get("/", keysHandler.List)
			r.Get("/{keyID}", keysHandler.Get)
			r.Patch("/{keyID}", keysHandler.Update)
			r.Delete("/{keyID}", keysHandler.Delete)
			r.Post("/{keyID}/rotate", keysHandler.Rotate)
			r.Post("/{keyID}/revoke", keysHandler.Revoke)
			r.Get("/{keyID}/usage", keysHandler.Usage)
		})

		// Notebook surface: each route declares its operation and, when the
		// URL names a resource, how to extract the ownership reference.
		r.Route("/notebooks", func(r chi.Router) {
			r.With(s.authz(gateway.OpNotebooksRead, nil)).
				Get("/", notebooksHandler.List)
			r.With(s.authz(gateway.OpNotebooksWrite, nil)).
				Post("/", notebooksHandler.Create)

			r.Route("/{notebookID}", func(r chi.Router) {
				notebookRef := urlRef(gateway.ResourceNotebook, "notebookID")

				r.With(s.authz(gateway.OpNotebooksRead, notebookRef)).
					Get("/", notebooksHandler.Get)
				r.With(s.authz(gateway.OpNotebooksWrite, notebookRef)).
					Patch("/", notebooksHandler.Update)
				r.With(s.authz(gateway.OpNotebooksWrite, notebookRef)).
					Delete("/", notebooksHandler.Delete)

				r.Route("/sources", func(r chi.Router) {
					sourceRef := urlRef(gateway.ResourceSource, "sourceID")

					r.With(s.authz(gateway.OpSourcesRead, notebookRef)).
						Get("/", sourcesHandler.List)
					r.With(s.authz(gateway.OpSourcesWrite, notebookRef)).
						Post("/", sourcesHandler.Create)
					r.With(s.authz(gateway.OpSourcesRead, sourceRef)).
						Get("/{sourceID}", sourcesHandler.Get)
					r.With(s.authz(gateway.OpSourcesWrite, sourceRef)).
						Delete("/{sourceID}", sourcesHandler.Delete)
				})

				r.Route("/notes", func(r chi.Router) {
					noteRef := urlRef(gateway.ResourceNote, "noteID")

					r.With(s.authz(gateway.OpNotesRead, notebookRef)).
						Get("/", notesHandler.List)
					r.With(s.authz(gateway.OpNotesWrite, notebookRef)).
						Post("/", notesHandler.Create)
					r.With(s.authz(gateway.OpNotesRead, noteRef)).
						Get("/{noteID}", notesHandler.Get)
					r.With(s.authz(gateway.OpNotesWrite, noteRef)).
						Patch("/{noteID}", notesHandler.Update)
					r.With(s.authz(gateway.OpNotesWrite, noteRef)).
						Delete("/{noteID}", notesHandler.Delete)
				})

				r.Route("/research", func(r chi.Router) {
					taskRef := urlRef(gateway.ResourceResearch, "taskID")

					r.With(s.authz(gateway.OpResearchRead, notebookRef)).
						Get("/", researchHandler.List)
					r.With(s.authz(gateway.OpResearchWrite, notebookRef)).
						Post("/", researchHandler.Create)
					r.With(s.authz(gateway.OpResearchRead, taskRef)).
						Get("/{taskID}", researchHandler.Get)
					r.With(s.authz(gateway.OpResearchWrite, taskRef)).
						Post("/{taskID}/cancel", researchHandler.Cancel)
				})
			})
		})
	})

	s.router = r
}

// authz builds the per-route authorization middleware for an operation.
func (s *Server) authz(op gateway.Operation, ref middleware.ResourceFunc) func(http.Handler) http.Handler {
	return middleware.Authorize(s.sessions, s.gw, s.logger, op, ref)
}

// urlRef builds a ResourceFunc reading the resource id from a chi URL
// parameter.
func urlRef(kind gateway.ResourceKind, param string) middleware.ResourceFunc {
	return func(r *http.Request) *gateway.ResourceRef {
		id := chi.URLParam(r, param)
		if id == "" {
			return nil
		}
		return &gateway.ResourceRef{Kind: kind, ID: id}
	}
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the store is
// reachable, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"degraded","error":%q}`, err.Error())
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close failed", "error", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
