// Package tracker counts in-flight requests and reports when the service
// has gone idle.
package tracker

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder receives one observation per completed request.
type Recorder interface {
	RecordRequest(route, method string, statusCode int, duration time.Duration)
}

// Token ties an Exit to its Enter.
type Token struct {
	Route  string
	Method string
	Start  time.Time

	done atomic.Bool
}

// Tracker is the single source of truth for whether requests are in flight.
type Tracker struct {
	inFlight atomic.Int64
	recorder Recorder

	mu      sync.Mutex
	waiters []chan struct{}
}

// New creates a Tracker. recorder may be nil.
func New(recorder Recorder) *Tracker {
	return &Tracker{recorder: recorder}
}

// Enter admits a request and returns its token.
func (t *Tracker) Enter(route, method string) *Token {
	t.inFlight.Add(1)
	return &Token{
		Route:  route,
		Method: method,
		Start:  time.Now(),
	}
}

// Exit completes a request. Calling Exit twice with the same token is a no-op.
func (t *Tracker) Exit(tok *Token, statusCode int) {
	if tok == nil || !tok.done.CompareAndSwap(false, true) {
		return
	}

	if t.recorder != nil {
		t.recorder.RecordRequest(tok.Route, tok.Method, statusCode, time.Since(tok.Start))
	}

	if t.inFlight.Add(-1) == 0 {
		t.notifyIdle()
	}
}

// InFlight returns the number of requests between Enter and Exit.
func (t *Tracker) InFlight() int64 {
	return t.inFlight.Load()
}

func (t *Tracker) notifyIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()

	// A request may have entered since the counter hit zero.
	if t.inFlight.Load() != 0 {
		return
	}
	for _, ch := range t.waiters {
		close(ch)
	}
	t.waiters = nil
}

// WaitIdle blocks until no request is in flight or ctx is done.
func (t *Tracker) WaitIdle(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.inFlight.Load() == 0 {
			t.mu.Unlock()
			return nil
		}
		ch := make(chan struct{})
		t.waiters = append(t.waiters, ch)
		t.mu.Unlock()

		select {
		case <-ch:
			// Re-check: new work may have been admitted after the wakeup.
		case <-ctx.Done():
			t.removeWaiter(ch)
			return ctx.Err()
		}
	}
}

func (t *Tracker) removeWaiter(ch chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, w := range t.waiters {
		if w == ch {
			t.waiters = append(t.waiters[:i], t.waiters[i+1:]...)
			return
		}
	}
}

// statusRecorder captures the response status for Exit.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware wraps next so every request is counted under route. Exit is
// deferred, so it also runs when next panics; a panicking request that
// wrote nothing is recorded as 500.
func (t *Tracker) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := t.Enter(route, r.Method)
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				status := rec.status
				if p := recover(); p != nil {
					if !rec.wroteHeader {
						status = http.StatusInternalServerError
					}
					t.Exit(tok, status)
					panic(p)
				}
				t.Exit(tok, status)
			}()
			next.ServeHTTP(rec, r)
		})
	}
}
