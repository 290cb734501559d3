package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/piilens/piilens/internal/analyzer"
	apperrors "github.com/piilens/piilens/internal/errors"
	"github.com/piilens/piilens/internal/observability"
	"github.com/piilens/piilens/internal/server/handlers"
	servermw "github.com/piilens/piilens/internal/server/middleware"
)

// Options wires the server's collaborators and tuning.
type Options struct {
	Host string
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RateLimit servermw.RateLimiterConfig

	Analyzer        analyzer.Analyzer
	DefaultLanguage string
	MaxTextLength   int
}

// Server represents the HTTP gateway
type Server struct {
	router    *chi.Mux
	server    *http.Server
	opts      Options
	limiter   *servermw.RateLimiter
	collector *servermw.Collector
}

// New creates a new HTTP server instance
func New(opts Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:    r,
		opts:      opts,
		limiter:   servermw.NewRateLimiter(opts.RateLimit),
		collector: servermw.NewCollector(),
	}

	// Standard chi middleware
	r.Use(chimw.RealIP)

	// Pipeline order matters: the telemetry layer sees every request,
	// Recovery sits inside it so recovered panics still surface as 500s in
	// the request counters, the rate limiter short-circuits rejected ones,
	// and the collector only observes admitted traffic.
	r.Use(servermw.RequestID)
	r.Use(servermw.SecurityHeaders)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(s.limiter.Middleware)
	r.Use(s.collector.Middleware)

	// Standardized error responses using the centralized HandleError
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	// Ensure handlers use the centralized error responder
	handlers.SetHTTPErrorResponder(HandleError)

	s.registerRoutes()

	return s
}

// RateLimiter exposes the admission controller, e.g. for starting its sweeper.
func (s *Server) RateLimiter() *servermw.RateLimiter {
	return s.limiter
}

// Collector exposes the metrics collector backing /metrics.
func (s *Server) Collector() *servermw.Collector {
	return s.collector
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)

	readTimeout := s.opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := s.opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := s.opts.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 120 * time.Second
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.opts.Host),
		zap.Int("port", s.opts.Port),
		zap.String("addr", addr))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	observability.ServerLogger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.opts.Port
}

// analyzerOrNil adapts the configured analyzer for handler wiring.
func (s *Server) analyzerAPI() *handlers.AnalyzeAPI {
	return &handlers.AnalyzeAPI{
		Analyzer:        s.opts.Analyzer,
		DefaultLanguage: s.opts.DefaultLanguage,
		MaxTextLength:   s.opts.MaxTextLength,
	}
}
