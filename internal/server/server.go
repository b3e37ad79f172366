// Package server exposes the gateway over HTTP. Routing and middleware use
// chi; every response carries an X-Request-ID header.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zeroveil/gateway/internal/gateway"
)

type Server struct {
	Router *chi.Mux
	Port   int

	gateway *gateway.Gateway
	logger  *slog.Logger
	http    *http.Server
}

// Options tune the HTTP listener.
type Options struct {
	Port           int
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// New builds the router and middleware chain.
func New(opts Options, gw *gateway.Gateway, logger *slog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}

	r := chi.NewRouter()

	// Middleware order matters: ids first so logs and errors carry them.
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "zeroveil-gateway")
	})

	s := &Server{
		Router:  r,
		Port:    opts.Port,
		gateway: gw,
		logger:  logger,
	}

	r.Get("/healthz", s.handleHealthz)
	r.Post("/v1/chat/completions", s.handleChatCompletions)

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      r,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("starting server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
