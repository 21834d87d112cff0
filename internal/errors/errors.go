// Package errors defines the JSON error bodies returned to clients and the
// error_type label each one is counted under.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error types used as the error_type metric label.
const (
	TypeValidation  = "validation"
	TypeComputation = "computation"
	TypeUnavailable = "unavailable"
	TypeRateLimited = "rate_limited"
	TypeRouting     = "routing"
	TypePanic       = "panic"
	TypeInternal    = "internal"
)

// ServiceError represents an error that can be returned to clients
type ServiceError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	Type       string `json:"-"`
	underlying error
}

func (e *ServiceError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error {
	return e.underlying
}

// WriteJSON writes the error as JSON to the response.
// For base errors (no details/requestID), uses pre-serialized JSON to avoid allocations.
func (e *ServiceError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	if pre, ok := preSerialized[e]; ok {
		w.Write(pre)
		return
	}
	json.NewEncoder(w).Encode(e)
}

// Common errors
var (
	ErrBadRequest = &ServiceError{
		Code:    http.StatusBadRequest,
		Message: "Bad Request",
		Type:    TypeValidation,
	}

	ErrNotFound = &ServiceError{
		Code:    http.StatusNotFound,
		Message: "Not Found",
		Type:    TypeRouting,
	}

	ErrMethodNotAllowed = &ServiceError{
		Code:    http.StatusMethodNotAllowed,
		Message: "Method Not Allowed",
		Type:    TypeRouting,
	}

	ErrTooManyRequests = &ServiceError{
		Code:    http.StatusTooManyRequests,
		Message: "Too Many Requests",
		Type:    TypeRateLimited,
	}

	ErrServiceUnavailable = &ServiceError{
		Code:    http.StatusServiceUnavailable,
		Message: "Service Unavailable",
		Type:    TypeUnavailable,
	}

	ErrInternalServer = &ServiceError{
		Code:    http.StatusInternalServerError,
		Message: "Internal Server Error",
		Type:    TypeInternal,
	}
)

// preSerialized holds JSON-encoded bytes for base error singletons.
var preSerialized map[*ServiceError][]byte

func init() {
	bases := []*ServiceError{
		ErrBadRequest, ErrNotFound, ErrMethodNotAllowed,
		ErrTooManyRequests, ErrServiceUnavailable, ErrInternalServer,
	}
	preSerialized = make(map[*ServiceError][]byte, len(bases))
	for _, e := range bases {
		b, _ := json.Marshal(e)
		b = append(b, '\n') // match json.Encoder behavior
		preSerialized[e] = b
	}
}

// Validation returns a 400 error describing why the input was rejected.
func Validation(err error) *ServiceError {
	return &ServiceError{
		Code:       http.StatusBadRequest,
		Message:    ErrBadRequest.Message,
		Details:    err.Error(),
		Type:       TypeValidation,
		underlying: err,
	}
}

// Computation returns a 400 error for inputs the analysis cannot be defined on.
func Computation(err error) *ServiceError {
	return &ServiceError{
		Code:       http.StatusBadRequest,
		Message:    "Analysis Failed",
		Details:    err.Error(),
		Type:       TypeComputation,
		underlying: err,
	}
}

// WithDetails adds details to the error
func (e *ServiceError) WithDetails(details string) *ServiceError {
	return &ServiceError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		RequestID:  e.RequestID,
		Type:       e.Type,
		underlying: e.underlying,
	}
}

// WithRequestID adds a request ID to the error
func (e *ServiceError) WithRequestID(requestID string) *ServiceError {
	return &ServiceError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  requestID,
		Type:       e.Type,
		underlying: e.underlying,
	}
}

// WithType overrides the metric error type.
func (e *ServiceError) WithType(typ string) *ServiceError {
	return &ServiceError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		RequestID:  e.RequestID,
		Type:       typ,
		underlying: e.underlying,
	}
}
