package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"milenio/internal/auth"
	"milenio/internal/handlers"
)

// Pinger reports the health of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers groups the HTTP handlers to mount. Nil handlers are skipped.
type Handlers struct {
	PixWebhook      http.Handler
	TelegramWebhook http.Handler
	API             *handlers.API
	Auth            *auth.Middleware
}

// Dependencies are probed by the health endpoint.
type Dependencies struct {
	Store Pinger
	Redis Pinger
}

// Server wraps an http.Server with predefined routes.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	handlers   Handlers
	deps       Dependencies
	basePath   string
}

// New creates a new HTTP server listening on addr with health and metrics endpoints.
func New(addr string, logger *slog.Logger, h Handlers, basePath string) *Server {
	server := &Server{
		logger:   logger.With("component", "http"),
		handlers: h,
		basePath: normaliseBasePath(basePath),
	}

	server.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mountWithBasePath(server.basePath, server.Router()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if server.basePath != "" {
		server.logger.Info("http server configured with base path", "base_path", server.basePath)
	}

	return server
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", promhttp.Handler())

	if s.handlers.PixWebhook != nil {
		r.Post("/webhook/pix", s.handlers.PixWebhook.ServeHTTP)
	}
	if s.handlers.TelegramWebhook != nil {
		r.Post("/webhook/telegram", s.handlers.TelegramWebhook.ServeHTTP)
	}

	if api := s.handlers.API; api != nil {
		r.Route("/api", func(r chi.Router) {
			r.Get("/ranking", api.Ranking)
			r.Group(func(r chi.Router) {
				if s.handlers.Auth != nil {
					r.Use(s.handlers.Auth.Require)
				}
				r.Post("/payments/pix", api.IssuePix)
				r.Post("/purchase-token", api.PurchaseToken)
				r.Post("/cashout", api.CashOut)
				r.Post("/rounds", api.Round)
				r.Post("/support", api.Support)
			})
		})
	}
	return r
}

// SetDependencies makes backing services visible to the health endpoint.
func (s *Server) SetDependencies(deps Dependencies) {
	s.deps = deps
}

// Start begins listening for incoming HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]string{"status": "ok"}
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(ctx); err != nil {
			s.logger.Warn("store health check failed", "error", err)
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["store"] = "unavailable"
		}
	}
	if s.deps.Redis != nil {
		if err := s.deps.Redis.Ping(ctx); err != nil {
			s.logger.Warn("redis health check failed", "error", err)
			body["redis"] = "unavailable"
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "failed to encode json", http.StatusInternalServerError)
	}
}

func mountWithBasePath(basePath string, handler http.Handler) http.Handler {
	if basePath == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, basePath) {
			http.NotFound(w, r)
			return
		}
		if len(r.URL.Path) > len(basePath) && r.URL.Path[len(basePath)] != '/' {
			http.NotFound(w, r)
			return
		}
		trimmed := strings.TrimPrefix(r.URL.Path, basePath)
		if trimmed == "" {
			trimmed = "/"
		}
		r.URL.Path = trimmed
		if r.URL.RawPath != "" {
			rawTrimmed := strings.TrimPrefix(r.URL.RawPath, basePath)
			if rawTrimmed == "" {
				rawTrimmed = "/"
			}
			r.URL.RawPath = rawTrimmed
		}
		handler.ServeHTTP(w, r)
	})
}

func normaliseBasePath(base string) string {
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return ""
	}
	if !strings.HasPrefix(base, "/") {
		base = "/" + base
	}
	return strings.TrimSuffix(base, "/")
}
