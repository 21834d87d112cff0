package listener

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
)

// mockListener is a simple implementation of Listener for testing
type mockListener struct {
	id       string
	protocol string
	addr     string
	started  atomic.Bool
	stopped  atomic.Bool
	closed   atomic.Bool
}

func (m *mockListener) ID() string       { return m.id }
func (m *mockListener) Protocol() string { return m.protocol }
func (m *mockListener) Addr() string     { return m.addr }
func (m *mockListener) Start(ctx context.Context, errCh chan<- error) error {
	m.started.Store(true)
	return nil
}
func (m *mockListener) Stop(ctx context.Context) error {
	m.stopped.Store(true)
	return nil
}
func (m *mockListener) Close() error {
	m.closed.Store(true)
	return nil
}

// failingListener is a mock that returns configurable errors
type failingListener struct {
	id       string
	startErr error
	stopErr  error
	closeErr error
}

func (f *failingListener) ID() string                                      { return f.id }
func (f *failingListener) Protocol() string                                { return "mock" }
func (f *failingListener) Addr() string                                    { return ":0" }
func (f *failingListener) Start(ctx context.Context, _ chan<- error) error { return f.startErr }
func (f *failingListener) Stop(ctx context.Context) error                  { return f.stopErr }
func (f *failingListener) Close() error                                    { return f.closeErr }

func TestManagerAdd(t *testing.T) {
	m := NewManager()

	l := &mockListener{id: "test1", protocol: "http", addr: ":8080"}
	if err := m.Add(l); err != nil {
		t.Errorf("Add failed: %v", err)
	}

	// Adding duplicate should fail
	if err := m.Add(l); err == nil {
		t.Error("Add should fail for duplicate listener ID")
	}
}

func TestManagerGet(t *testing.T) {
	m := NewManager()
	m.Add(&mockListener{id: "test1", protocol: "http", addr: ":8080"})

	got, ok := m.Get("test1")
	if !ok {
		t.Fatal("Get should return true for existing listener")
	}
	if got.ID() != "test1" {
		t.Errorf("Got wrong listener ID: %s", got.ID())
	}

	if _, ok := m.Get("nonexistent"); ok {
		t.Error("Get should return false for non-existent listener")
	}
}

func TestManagerRemove(t *testing.T) {
	m := NewManager()
	m.Add(&mockListener{id: "test1"})

	if err := m.Remove("test1"); err != nil {
		t.Errorf("Remove failed: %v", err)
	}
	if _, ok := m.Get("test1"); ok {
		t.Error("Listener should not exist after removal")
	}
	if err := m.Remove("nonexistent"); err == nil {
		t.Error("Remove should fail for non-existent listener")
	}
}

func TestManagerCountList(t *testing.T) {
	m := NewManager()

	if m.Count() != 0 {
		t.Errorf("Initial count should be 0, got %d", m.Count())
	}

	m.Add(&mockListener{id: "public"})
	m.Add(&mockListener{id: "grpc-health"})

	if m.Count() != 2 {
		t.Errorf("Count should be 2, got %d", m.Count())
	}

	ids := m.List()
	if len(ids) != 2 || ids[0] != "grpc-health" || ids[1] != "public" {
		t.Errorf("List should return sorted IDs, got %v", ids)
	}
}

func TestManagerStartAll(t *testing.T) {
	m := NewManager()

	l1 := &mockListener{id: "l1"}
	l2 := &mockListener{id: "l2"}
	m.Add(l1)
	m.Add(l2)

	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll failed: %v", err)
	}
	if !l1.started.Load() || !l2.started.Load() {
		t.Error("All listeners should be started")
	}
}

func TestManagerStartAllWithErrors(t *testing.T) {
	m := NewManager()

	good := &mockListener{id: "a-good"}
	bad := &failingListener{id: "b-bad", startErr: errors.New("address in use")}
	m.Add(good)
	m.Add(bad)

	err := m.StartAll(context.Background())
	if err == nil {
		t.Fatal("StartAll should fail when a listener cannot bind")
	}
	if !strings.Contains(err.Error(), "address in use") {
		t.Errorf("error should contain underlying cause, got: %v", err)
	}
	if !good.closed.Load() {
		t.Error("listeners started before the failure should be closed")
	}
}

func TestManagerStopAll(t *testing.T) {
	m := NewManager()

	l1 := &mockListener{id: "l1"}
	l2 := &mockListener{id: "l2"}
	m.Add(l1)
	m.Add(l2)

	if err := m.StopAll(context.Background()); err != nil {
		t.Errorf("StopAll failed: %v", err)
	}
	if !l1.stopped.Load() || !l2.stopped.Load() {
		t.Error("All listeners should be stopped")
	}
}

func TestManagerStopAllWithErrors(t *testing.T) {
	m := NewManager()

	m.Add(&mockListener{id: "good"})
	m.Add(&failingListener{id: "bad", stopErr: errors.New("stop failed")})

	err := m.StopAll(context.Background())
	if err == nil {
		t.Fatal("StopAll should return an error when a listener fails to stop")
	}
	if !strings.Contains(err.Error(), "stop failed") {
		t.Errorf("error should contain underlying cause, got: %v", err)
	}
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager()

	l := &mockListener{id: "l1"}
	m.Add(l)
	m.Add(&failingListener{id: "bad", closeErr: errors.New("close failed")})

	err := m.CloseAll()
	if err == nil || !strings.Contains(err.Error(), "close failed") {
		t.Errorf("expected close error, got %v", err)
	}
	if !l.closed.Load() {
		t.Error("listener should be closed")
	}
}

func TestManagerEmpty(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	if err := m.StartAll(ctx); err != nil {
		t.Errorf("StartAll with no listeners should not error, got: %v", err)
	}
	if err := m.StopAll(ctx); err != nil {
		t.Errorf("StopAll with no listeners should not error, got: %v", err)
	}
	if err := m.CloseAll(); err != nil {
		t.Errorf("CloseAll with no listeners should not error, got: %v", err)
	}
}
