package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func tagger(order *[]string, name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*order = append(*order, name+"-before")
			next.ServeHTTP(w, r)
			*order = append(*order, name+"-after")
		})
	}
}

func assertOrder(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("At index %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestChain(t *testing.T) {
	var order []string

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusOK)
	})

	final := NewChain(tagger(&order, "m1"), tagger(&order, "m2")).Then(handler)
	final.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/test", nil))

	assertOrder(t, order, []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"})
}

func TestChainWith(t *testing.T) {
	var order []string

	base := NewChain(tagger(&order, "base"))
	payload := base.With(tagger(&order, "admission"))
	health := base.With(tagger(&order, "health"))

	if len(base) != 1 || len(payload) != 2 || len(health) != 2 {
		t.Fatalf("unexpected lengths base=%d payload=%d health=%d", len(base), len(payload), len(health))
	}

	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	payload.Then(noop).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/payload", nil))
	assertOrder(t, order, []string{"base-before", "admission-before", "admission-after", "base-after"})

	order = nil
	health.Then(noop).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	assertOrder(t, order, []string{"base-before", "health-before", "health-after", "base-after"})
}

func TestChainThenNil(t *testing.T) {
	rr := httptest.NewRecorder()
	NewChain().Then(nil).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404 for nil handler, got %d", rr.Code)
	}
}
