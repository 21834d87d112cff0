package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/wudi/analyzer/internal/config"
	"github.com/wudi/analyzer/internal/errors"
	"github.com/wudi/analyzer/internal/middleware"
	"golang.org/x/time/rate"
)

// Limiter is a single token bucket shared by every caller of a route.
// It can be reconfigured while serving.
type Limiter struct {
	tb       *rate.Limiter
	enabled  atomic.Bool
	allowed  atomic.Int64
	rejected atomic.Int64

	// OnReject runs for every request turned away with 429.
	OnReject func(r *http.Request)
}

// New creates a Limiter from config. A disabled config yields a limiter
// that lets everything through until Update enables it.
func New(cfg config.RateLimitConfig) *Limiter {
	l := &Limiter{tb: rate.NewLimiter(limitOf(cfg), burstOf(cfg))}
	l.enabled.Store(cfg.Enabled && cfg.RequestsPerSecond > 0)
	return l
}

func limitOf(cfg config.RateLimitConfig) rate.Limit {
	if cfg.RequestsPerSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(cfg.RequestsPerSecond)
}

func burstOf(cfg config.RateLimitConfig) int {
	if cfg.Burst > 0 {
		return cfg.Burst
	}
	// One second worth of requests, at least one.
	return max(1, int(math.Ceil(cfg.RequestsPerSecond)))
}

// Update applies a new configuration without dropping the bucket state.
func (l *Limiter) Update(cfg config.RateLimitConfig) {
	l.tb.SetLimit(limitOf(cfg))
	l.tb.SetBurst(burstOf(cfg))
	l.enabled.Store(cfg.Enabled && cfg.RequestsPerSecond > 0)
}

// Enabled reports whether requests are currently being limited.
func (l *Limiter) Enabled() bool {
	return l.enabled.Load()
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	if !l.enabled.Load() || l.tb.Allow() {
		l.allowed.Add(1)
		return true
	}
	l.rejected.Add(1)
	return false
}

// Middleware returns a middleware that rejects requests over the limit with 429.
func (l *Limiter) Middleware() middleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.enabled.Load() {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.tb.Burst()))
			if !l.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				svcErr := errors.ErrTooManyRequests
				if id := middleware.GetRequestID(r); id != "" {
					svcErr = svcErr.WithRequestID(id)
				}
				svcErr.WriteJSON(w)
				if l.OnReject != nil {
					l.OnReject(r)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter is the number of whole seconds until a token is available.
func (l *Limiter) retryAfter() int {
	limit := l.tb.Limit()
	if limit == rate.Inf || limit <= 0 {
		return 1
	}
	wait := time.Duration(float64(time.Second) / float64(limit))
	return max(1, int(math.Ceil(wait.Seconds())))
}

// Stats returns counters for this limiter.
func (l *Limiter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":  l.enabled.Load(),
		"limit":    float64(l.tb.Limit()),
		"burst":    l.tb.Burst(),
		"allowed":  l.allowed.Load(),
		"rejected": l.rejected.Load(),
	}
}
