package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/wudi/analyzer/internal/errors"
	"github.com/wudi/analyzer/internal/logging"
	"go.uber.org/zap"
)

// RecoveryConfig configures the recovery middleware
type RecoveryConfig struct {
	// PrintStack captures the stack trace when a panic occurs
	PrintStack bool
	// LogFunc is called when a panic occurs
	LogFunc func(r *http.Request, err interface{}, stack []byte)
	// OnPanic runs after the 500 response is written, e.g. to count the error
	OnPanic func(r *http.Request, err interface{})
}

// DefaultRecoveryConfig provides default recovery settings
var DefaultRecoveryConfig = RecoveryConfig{
	PrintStack: true,
	LogFunc:    defaultLogFunc,
}

func defaultLogFunc(r *http.Request, err interface{}, stack []byte) {
	logging.Error("Panic recovered",
		zap.String("request_id", GetRequestID(r)),
		zap.String("path", r.URL.Path),
		zap.Any("error", err),
		zap.ByteString("stack", stack),
	)
}

// Recovery creates a panic recovery middleware
func Recovery() Middleware {
	return RecoveryWithConfig(DefaultRecoveryConfig)
}

// RecoveryWithConfig creates a recovery middleware with custom config.
// http.ErrAbortHandler is re-panicked so net/http can abort the connection.
func RecoveryWithConfig(cfg RecoveryConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				err := recover()
				if err == nil {
					return
				}
				if err == http.ErrAbortHandler {
					panic(err)
				}

				var stack []byte
				if cfg.PrintStack {
					stack = debug.Stack()
				}
				if cfg.LogFunc != nil {
					cfg.LogFunc(r, err, stack)
				}

				svcErr := errors.ErrInternalServer.
					WithDetails(fmt.Sprintf("panic: %v", err)).
					WithType(errors.TypePanic)
				if reqID := GetRequestID(r); reqID != "" {
					svcErr = svcErr.WithRequestID(reqID)
				}
				svcErr.WriteJSON(w)

				if cfg.OnPanic != nil {
					cfg.OnPanic(r, err)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
