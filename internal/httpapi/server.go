// Package httpapi exposes the todo pipeline over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/goliatone/go-todo-pipeline/internal/metrics"
	"github.com/goliatone/go-todo-pipeline/pipeline"
	"github.com/goliatone/go-todo-pipeline/todo"
)

// Pipeline is the subset of pipeline.Service the handlers call.
type Pipeline interface {
	Create(ctx context.Context, input todo.NewTodo) (todo.Todo, error)
	Update(ctx context.Context, id string, patch todo.Patch) (todo.Todo, error)
	Delete(ctx context.Context, id string) error
	Restore(ctx context.Context, id string) (todo.Todo, error)
	BulkUpdate(ctx context.Context, ids []string, patch todo.BulkPatch) (pipeline.BulkResult, error)
	Get(ctx context.Context, id string) (todo.Todo, error)
	List(ctx context.Context, q todo.Query) (todo.Page, error)
	Statistics(ctx context.Context) (todo.Statistics, error)
}

var _ Pipeline = (*pipeline.Service)(nil)

// Config holds the middleware settings of the router.
type Config struct {
	CORSOrigins []string
	// RateLimit is the number of requests per RateWindow and client IP.
	// Zero disables rate limiting.
	RateLimit  int
	RateWindow time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the base request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics records request metrics and mounts GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithClock replaces time.Now for response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// Server routes requests to the pipeline.
type Server struct {
	todos   Pipeline
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	router  chi.Router
}

// New builds the router.
func New(todos Pipeline, cfg Config, opts ...Option) *Server {
	s := &Server{
		todos:  todos,
		cfg:    cfg,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.observe)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{headerTotalCount, headerTotalPages, headerCurrentPage, headerPageSize},
		MaxAge:         300,
	}))
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.Limit(s.cfg.RateLimit, s.cfg.RateWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(s.rateLimited),
		))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, r, todo.NewError(todo.KindNotFound, "", "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondFailure(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Post("/todos", s.handleCreate)
	r.Get("/todos", s.handleList)
	r.Get("/todos/statistics", s.handleStatistics)
	r.Post("/todos/bulk-update", s.handleBulkUpdate)
	r.Get("/todos/{id}", s.handleGet)
	r.Put("/todos/{id}", s.handleUpdate)
	r.Delete("/todos/{id}", s.handleDelete)
	r.Post("/todos/{id}/restore", s.handleRestore)

	return r
}

// requestLogger stores a logger carrying the request id in the request
// context and logs every completed request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := logger.Info()
		if status >= http.StatusInternalServerError {
			event = logger.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(r.Method, route, status, time.Since(start))
	})
}

func (s *Server) rateLimited(w http.ResponseWriter, _ *http.Request) {
	s.respondFailure(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
}
