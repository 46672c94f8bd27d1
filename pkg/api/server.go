// Package api hosts the localhost JSON surface the desktop shell talks to.
package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ludexhq/ludex/pkg/downloads"
	"github.com/ludexhq/ludex/pkg/prefs"
)

// ServerConfig configures the API server.
type ServerConfig struct {
	// Bind is the listen address (default: 127.0.0.1:5715).
	Bind string

	// AllowedOrigins lists origins the shell may call from.
	AllowedOrigins []string

	// Feed serves the comment window and publish.
	Feed CommentFeed

	// Catalog serves paged catalog lookups.
	Catalog CatalogProvider

	// Visible receives the shell's visible-id reports.
	Visible VisibleReporter

	// Downloads correlates library entries with engine tasks.
	Downloads *downloads.Manager

	// Prefs persists the last committed search term. Optional.
	Prefs *prefs.Store

	// LastSearch seeds the committed-search tracking, normally the value
	// read from Prefs at startup.
	LastSearch string

	Logger *zap.Logger
}

// Server hosts the shell-facing HTTP API.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	logger     *zap.Logger

	search *searchTracker
}

// NewServer constructs a server around the provided collaborators.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Bind == "" {
		cfg.Bind = "127.0.0.1:5715"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		search: newSearchTracker(cfg.LastSearch),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(s.requestLogger)
	router.Use(s.corsMiddleware)

	router.Get("/healthz", s.handleHealthz)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/comments", s.handleListComments)
		r.Post("/comments", s.handlePublishComment)
		r.Get("/catalog", s.handleCatalogPage)
		r.Post("/catalog/visible", s.handleCatalogVisible)
		r.Route("/library/{app}/download", func(r chi.Router) {
			r.Get("/", s.handleDownloadState)
			r.Post("/toggle", s.handleDownloadToggle)
			r.Post("/stop", s.handleDownloadStop)
		})
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Bind,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	return s
}

// Start runs the HTTP server until the context is cancelled, then shuts it
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("serving shell API", zap.String("bind", s.cfg.Bind))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isOriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed matches the request origin against the configured list,
// ignoring the port so dev shells on ephemeral ports still pass.
func (s *Server) isOriginAllowed(origin string) bool {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return false
	}
	normalized := strings.ToLower(parsed.Scheme) + "://" + parsed.Hostname()

	for _, allowed := range s.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "" {
			continue
		}
		if allowed == "*" {
			return true
		}
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, normalized) {
			return true
		}
	}
	return false
}
