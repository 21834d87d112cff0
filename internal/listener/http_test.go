package listener

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"
)

func startHTTP(t *testing.T, handler http.Handler) (*HTTPListener, chan error) {
	t.Helper()
	l := NewHTTPListener(HTTPListenerConfig{
		ID:      "test",
		Address: "127.0.0.1:0",
		Handler: handler,
	})
	errCh := make(chan error, 1)
	if err := l.Start(context.Background(), errCh); err != nil {
		t.Fatal(err)
	}
	return l, errCh
}

func TestHTTPListenerStartStop(t *testing.T) {
	l, _ := startHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	resp, err := http.Get("http://" + l.Addr() + "/")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("expected ok, got %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if _, err := http.Get("http://" + l.Addr() + "/"); err == nil {
		t.Error("expected connection error after Stop")
	}
}

func TestHTTPListenerDefaults(t *testing.T) {
	l := NewHTTPListener(HTTPListenerConfig{ID: "d", Address: ":0"})
	s := l.server

	if s.ReadTimeout != 30*time.Second {
		t.Errorf("expected read timeout 30s, got %v", s.ReadTimeout)
	}
	if s.WriteTimeout != 30*time.Second {
		t.Errorf("expected write timeout 30s, got %v", s.WriteTimeout)
	}
	if s.IdleTimeout != 60*time.Second {
		t.Errorf("expected idle timeout 60s, got %v", s.IdleTimeout)
	}
	if s.ReadHeaderTimeout != 10*time.Second {
		t.Errorf("expected read header timeout 10s, got %v", s.ReadHeaderTimeout)
	}
	if s.MaxHeaderBytes != 1<<20 {
		t.Errorf("expected 1MB max header bytes, got %d", s.MaxHeaderBytes)
	}
	if l.Protocol() != "http" || l.ID() != "d" {
		t.Errorf("unexpected identity %s/%s", l.Protocol(), l.ID())
	}
	if l.Addr() != ":0" {
		t.Errorf("expected configured address before start, got %s", l.Addr())
	}
}

func TestHTTPListenerBindError(t *testing.T) {
	first, _ := startHTTP(t, http.NotFoundHandler())
	defer first.Close()

	second := NewHTTPListener(HTTPListenerConfig{ID: "dup", Address: first.Addr()})
	if err := second.Start(context.Background(), make(chan error, 1)); err == nil {
		second.Close()
		t.Fatal("expected bind error on an address in use")
	}
}

func TestHTTPListenerStopWaitsForActive(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	l, _ := startHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Write([]byte("done"))
	}))

	respCh := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + l.Addr() + "/")
		if err != nil {
			respCh <- "error: " + err.Error()
			return
		}
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		respCh <- string(b)
	}()
	<-entered

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(context.Background()) }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a request was active")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if got := <-respCh; got != "done" {
		t.Errorf("expected in-flight request to complete, got %q", got)
	}
	if err := <-stopped; err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestHTTPListenerClose(t *testing.T) {
	entered := make(chan struct{})
	l, _ := startHTTP(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-r.Context().Done()
	}))

	errCh := make(chan error, 1)
	go func() {
		resp, err := http.Get("http://" + l.Addr() + "/")
		if err == nil {
			resp.Body.Close()
		}
		errCh <- err
	}()
	<-entered

	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("expected the client to see a closed connection")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not drop the active connection")
	}
}
