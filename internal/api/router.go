// Package api serves the endpoint registration API and the dispatch trigger.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/event"
	"github.com/austindbirch/hookrelay/internal/health"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/payload"
	"github.com/austindbirch/hookrelay/internal/registry"
)

// Dispatcher is implemented by *dispatch.Dispatcher
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType event.Type, record payload.Record) (int, error)
}

type Options struct {
	// RateLimitPerMinute caps /v1 requests per owner; 0 disables it.
	RateLimitPerMinute int
	// CORSAllowedOrigins enables browser access from these origins; empty disables CORS.
	CORSAllowedOrigins []string
	HealthChecks       []health.Check
	Metrics            http.Handler
}

type Server struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	auth       *auth.Middleware
	validate   *validator.Validate
	logger     *logging.Logger
	opts       Options
}

func NewServer(reg *registry.Registry, d Dispatcher, authMW *auth.Middleware, logger *logging.Logger, opts Options) *Server {
	return &Server{
		registry:   reg,
		dispatcher: d,
		auth:       authMW,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		opts:       opts,
	}
}

// Router builds the chi handler tree
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)
	if len(s.opts.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", auth.OwnerHeader, requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", health.HTTPHandler(s.opts.HealthChecks...))
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.auth.Handler)
		if s.opts.RateLimitPerMinute > 0 {
			r.Use(httprate.Limit(
				s.opts.RateLimitPerMinute,
				time.Minute,
				httprate.WithKeyFuncs(keyByOwner),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				}),
			))
		}

		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", s.createWebhook)
			r.Get("/", s.listWebhooks)
			r.Get("/{id}", s.getWebhook)
			r.Patch("/{id}", s.updateWebhook)
			r.Delete("/{id}", s.deleteWebhook)
		})
		r.Delete("/applications/{applicationID}/webhooks", s.deleteApplicationWebhooks)
		r.Post("/dispatch", s.dispatch)
	})

	return r
}
