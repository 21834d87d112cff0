package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPListener wraps an HTTP server as a Listener
type HTTPListener struct {
	id      string
	address string
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// HTTPListenerConfig holds configuration for creating an HTTP listener
type HTTPListenerConfig struct {
	ID                string
	Address           string
	Handler           http.Handler
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ReadHeaderTimeout time.Duration
}

// NewHTTPListener creates a new HTTP listener
func NewHTTPListener(cfg HTTPListenerConfig) *HTTPListener {
	// Apply defaults
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	maxHeaderBytes := cfg.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = 1 << 20 // 1MB
	}

	readHeaderTimeout := cfg.ReadHeaderTimeout
	if readHeaderTimeout == 0 {
		readHeaderTimeout = 10 * time.Second
	}

	return &HTTPListener{
		id:      cfg.ID,
		address: cfg.Address,
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           cfg.Handler,
			ReadTimeout:       readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// ID returns the listener ID
func (h *HTTPListener) ID() string {
	return h.id
}

// Protocol returns "http"
func (h *HTTPListener) Protocol() string {
	return "http"
}

// Addr returns the bound address once started, the configured one before.
func (h *HTTPListener) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.address
}

// Start starts the HTTP listener
func (h *HTTPListener) Start(ctx context.Context, errCh chan<- error) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", h.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.address, err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("listener %s: %w", h.id, err):
			default:
			}
		}
	}()
	return nil
}

// Stop closes the socket to new connections and waits for active
// requests until ctx is done.
func (h *HTTPListener) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Close closes the socket and every active connection.
func (h *HTTPListener) Close() error {
	return h.server.Close()
}
