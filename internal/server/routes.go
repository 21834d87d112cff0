package server

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/wudi/analyzer/internal/config"
	"github.com/wudi/analyzer/internal/errors"
	"github.com/wudi/analyzer/internal/health"
	"github.com/wudi/analyzer/internal/middleware"
	"github.com/wudi/analyzer/internal/tracing"
)

// Route labels. Unmatched requests are grouped so that label values stay
// bounded no matter what paths clients send.
const (
	RouteHealth           = "/health"
	RouteHealthz          = "/healthz"
	RouteReady            = "/ready"
	RouteReadyz           = "/readyz"
	RoutePayload          = "/payload"
	RouteNotFound         = "not_found"
	RouteMethodNotAllowed = "method_not_allowed"
)

func (s *Server) routes(cfg *config.Config) http.Handler {
	r := httprouter.New()
	// Redirects, OPTIONS and unknown methods are answered by the router
	// itself unless disabled. Every request must reach a wrapped handler.
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.HandleOPTIONS = false

	r.Handler(http.MethodGet, RouteHealth, s.wrap(RouteHealth, http.HandlerFunc(s.handleHealth)))
	r.Handler(http.MethodGet, RouteHealthz, s.wrap(RouteHealthz, http.HandlerFunc(s.handleHealth)))
	r.Handler(http.MethodGet, RouteReady, s.wrap(RouteReady, http.HandlerFunc(s.handleReady)))
	r.Handler(http.MethodGet, RouteReadyz, s.wrap(RouteReadyz, http.HandlerFunc(s.handleReady)))

	if cfg.Metrics.Enabled {
		r.Handler(http.MethodGet, cfg.Metrics.Path, s.wrap(cfg.Metrics.Path, s.metrics.Handler()))
	}

	r.Handler(http.MethodPost, RoutePayload, s.wrap(RoutePayload, http.HandlerFunc(s.handlePayload),
		s.admission(RoutePayload),
		tracing.SpanMiddleware(s.tracer, "ratelimit", s.rateLimit(RoutePayload)),
	))

	r.NotFound = s.wrap(RouteNotFound, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.fail(w, req, RouteNotFound, errors.ErrNotFound)
	}))
	r.MethodNotAllowed = s.wrap(RouteMethodNotAllowed, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.fail(w, req, RouteMethodNotAllowed, errors.ErrMethodNotAllowed)
	}))

	return r
}

// wrap applies the per-route middleware chain. The tracker sits outside
// recovery so a panicking handler is still counted and exited.
func (s *Server) wrap(route string, h http.Handler, extra ...middleware.Middleware) http.Handler {
	recovery := middleware.DefaultRecoveryConfig
	recovery.OnPanic = func(r *http.Request, _ interface{}) {
		s.metrics.RecordError(route, errors.TypePanic)
	}

	return middleware.NewChain(
		middleware.RequestID(),
		s.tracer.Middleware(route),
		s.tracker.Middleware(route),
		middleware.Logging(route),
		middleware.RecoveryWithConfig(recovery),
	).With(extra...).Then(h)
}

// admission rejects requests unless the service is Ready. It runs before
// the body is read.
func (s *Server) admission(route string) middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.health.Ready() {
				w.Header().Set("Connection", "close")
				s.fail(w, r, route, errors.ErrServiceUnavailable.
					WithDetails("service is "+s.health.State().String()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimit(route string) middleware.Middleware {
	s.limiter.OnReject = func(*http.Request) {
		s.metrics.RecordError(route, errors.TypeRateLimited)
	}
	return s.limiter.Middleware()
}

// fail writes err as JSON and counts it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, route string, err *errors.ServiceError) {
	if id := middleware.GetRequestID(r); id != "" {
		err = err.WithRequestID(id)
	}
	s.metrics.RecordError(route, err.Type)
	err.WriteJSON(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Liveness(s.version, s.tracker.InFlight())
	code := http.StatusOK
	if report.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	report := s.health.Readiness(s.version, s.tracker.InFlight())
	code := http.StatusOK
	if report.Status != health.StatusReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	in, err := s.validator.Load().Decode(w, r)
	s.metrics.RecordValidation(err == nil)
	if err != nil {
		s.fail(w, r, RoutePayload, errors.Validation(err))
		return
	}

	result, err := s.analyze(r.Context(), in)
	if err != nil {
		s.fail(w, r, RoutePayload, errors.Computation(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
