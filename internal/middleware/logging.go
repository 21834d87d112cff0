package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/wudi/analyzer/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var loggingRWPool = sync.Pool{
	New: func() any { return &loggingResponseWriter{} },
}

// LoggingConfig configures the access log middleware
type LoggingConfig struct {
	// Route is the route pattern logged with every request
	Route string
	// SkipPaths are paths that should not be logged
	SkipPaths []string
	// Logger defaults to the global logger
	Logger func() *zap.Logger
}

// Logging creates an access log middleware for route
func Logging(route string) Middleware {
	return LoggingWithConfig(LoggingConfig{Route: route})
}

// LoggingWithConfig creates an access log middleware with custom config.
// Server errors are logged at error level, everything else at info.
func LoggingWithConfig(cfg LoggingConfig) Middleware {
	if cfg.Logger == nil {
		cfg.Logger = logging.Global
	}
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skipPaths[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			lrw := loggingRWPool.Get().(*loggingResponseWriter)
			lrw.ResponseWriter = w
			lrw.status = http.StatusOK
			lrw.bytes = 0

			next.ServeHTTP(lrw, r)

			duration := time.Since(start)

			// Stack-allocated array avoids slice growth allocations.
			var fields [10]zap.Field
			n := 0
			fields[n] = zap.String("request_id", GetRequestID(r)); n++
			fields[n] = zap.String("remote_addr", r.RemoteAddr); n++
			fields[n] = zap.String("method", r.Method); n++
			fields[n] = zap.String("path", r.URL.Path); n++
			fields[n] = zap.String("route", cfg.Route); n++
			fields[n] = zap.Int("status", lrw.status); n++
			fields[n] = zap.Int64("body_bytes", lrw.bytes); n++
			fields[n] = zap.Duration("response_time", duration); n++
			if r.URL.RawQuery != "" {
				fields[n] = zap.String("query", r.URL.RawQuery); n++
			}
			if ua := r.UserAgent(); ua != "" {
				fields[n] = zap.String("user_agent", ua); n++
			}

			level := zapcore.InfoLevel
			if lrw.status >= 500 {
				level = zapcore.ErrorLevel
			}
			if ce := cfg.Logger().Check(level, "HTTP request"); ce != nil {
				ce.Write(fields[:n]...)
			}

			lrw.ResponseWriter = nil
			loggingRWPool.Put(lrw)
		})
	}
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and bytes
type loggingResponseWriter struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	if !lrw.wroteHeader {
		lrw.status = status
		lrw.wroteHeader = true
	}
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	lrw.wroteHeader = true
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

// Flush implements http.Flusher
func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

// Status returns the recorded status code
func (lrw *loggingResponseWriter) Status() int {
	return lrw.status
}

// BytesWritten returns the number of bytes written
func (lrw *loggingResponseWriter) BytesWritten() int64 {
	return lrw.bytes
}
