package listener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/wudi/analyzer/internal/logging"
	"go.uber.org/zap"
)

// Listener represents a network listener that can accept connections
type Listener interface {
	// ID returns the unique identifier for this listener
	ID() string

	// Protocol returns the protocol type (http, grpc)
	Protocol() string

	// Start binds the socket and begins serving in the background.
	// Bind failures are returned; later serve failures are reported on errCh.
	Start(ctx context.Context, errCh chan<- error) error

	// Stop stops accepting new connections and waits for active ones
	Stop(ctx context.Context) error

	// Close closes the listener and all active connections immediately
	Close() error

	// Addr returns the address the listener is bound to
	Addr() string
}

// Manager manages multiple listeners
type Manager struct {
	listeners map[string]Listener
	mu        sync.RWMutex
	errCh     chan error
}

// NewManager creates a new listener manager
func NewManager() *Manager {
	return &Manager{
		listeners: make(map[string]Listener),
		errCh:     make(chan error, 8),
	}
}

// Add adds a listener to the manager
func (m *Manager) Add(l Listener) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[l.ID()]; exists {
		return fmt.Errorf("listener with id %s already exists", l.ID())
	}

	m.listeners[l.ID()] = l
	return nil
}

// Get returns a listener by ID
func (m *Manager) Get(id string) (Listener, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listeners[id]
	return l, ok
}

// Remove removes a listener by ID
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.listeners[id]; !exists {
		return fmt.Errorf("listener with id %s not found", id)
	}

	delete(m.listeners, id)
	return nil
}

// Errors reports failures of listeners after a successful start.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// StartAll starts all registered listeners. If one fails to bind, the
// ones already started are closed and the error is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	started := make([]Listener, 0, len(m.listeners))
	for _, id := range m.sortedIDs() {
		l := m.listeners[id]
		if err := l.Start(ctx, m.errCh); err != nil {
			for _, s := range started {
				s.Close()
			}
			return fmt.Errorf("listener %s: %w", l.ID(), err)
		}
		logging.Info("listener started",
			zap.String("id", l.ID()),
			zap.String("protocol", l.Protocol()),
			zap.String("addr", l.Addr()),
		)
		started = append(started, l)
	}
	return nil
}

// StopAll gracefully stops all listeners
func (m *Manager) StopAll(ctx context.Context) error {
	return m.each(func(l Listener) error {
		logging.Info("stopping listener", zap.String("id", l.ID()), zap.String("protocol", l.Protocol()))
		return l.Stop(ctx)
	})
}

// CloseAll closes all listeners and their connections without waiting.
func (m *Manager) CloseAll() error {
	return m.each(func(l Listener) error {
		logging.Warn("force closing listener", zap.String("id", l.ID()))
		return l.Close()
	})
}

func (m *Manager) each(fn func(Listener) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(m.listeners))

	for _, l := range m.listeners {
		wg.Add(1)
		go func(listener Listener) {
			defer wg.Done()
			if err := fn(listener); err != nil {
				errCh <- fmt.Errorf("listener %s: %w", listener.ID(), err)
			}
		}(l)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Count returns the number of registered listeners
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.listeners)
}

// List returns all listener IDs in sorted order
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedIDs()
}

func (m *Manager) sortedIDs() []string {
	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
