// Package api exposes bet selection over HTTP.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"
	"github.com/phenomenon0/betting-analytics/pkg/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProfileResolver looks up risk profiles by name.
type ProfileResolver interface {
	Profile(name string) (*betting.RiskProfile, error)
	ProfileNames() []string
}

// Broadcaster pushes selection and settlement results to stream clients.
type Broadcaster interface {
	BroadcastSelection(selection interface{})
	BroadcastSettlement(stats interface{})
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Options holds the server's dependencies. Metrics and Hub are optional.
type Options struct {
	Selector       *betting.Selector
	Profiles       ProfileResolver
	Metrics        *metrics.SelectorMetrics
	Hub            Broadcaster
	Logger         *zap.Logger
	RateLimit      float64 // requests per second
	Burst          int
	AllowedOrigins []string
}

// Server serves the selection API.
type Server struct {
	selector *betting.Selector
	profiles ProfileResolver
	metrics  *metrics.SelectorMetrics
	hub      Broadcaster
	log      *zap.Logger
	limiter  *rate.Limiter
	router   chi.Router
}

// New builds the server and its routes.
func New(opts Options) *Server {
	s := &Server{
		selector: opts.Selector,
		profiles: opts.Profiles,
		metrics:  opts.Metrics,
		hub:      opts.Hub,
		log:      opts.Logger,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if opts.RateLimit > 0 && opts.Burst > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
	if s.hub != nil {
		r.Get("/ws", s.hub.ServeWS)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)

		r.Post("/select", s.handleSelect)
		r.Post("/validate", s.handleValidate)
		r.Get("/kelly", s.handleKelly)
		r.Get("/profiles", s.handleProfiles)

		r.Route("/models", func(r chi.Router) {
			r.Get("/", s.handleListModels)
			r.Get("/{model}", s.handleGetModel)
			r.Post("/{model}/results", s.handleRecordResult)
		})
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// rateLimit rejects requests with 429 once the token bucket is empty.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			if s.metrics != nil {
				s.metrics.RecordRateLimited()
			}
			respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument logs each request and records its status and latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)

		if s.metrics != nil {
			s.metrics.RecordRequest(route, strconv.Itoa(status), elapsed)
		}
		s.log.Debug("request served",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("latency", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
