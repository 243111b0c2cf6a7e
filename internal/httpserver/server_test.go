package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormaliseBasePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"gateway", "/gateway"},
		{"/gateway", "/gateway"},
		{"/gateway/", "/gateway"},
		{"  /gateway  ", "/gateway"},
	}
	for _, tc := range cases {
		if got := normaliseBasePath(tc.in); got != tc.want {
			t.Fatalf("normaliseBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMountWithBasePath(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Fatalf("expected stripped path /healthz, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	})
	handler := mountWithBasePath("/gateway", inner)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateway/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under base path, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gatewayx/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for prefix lookalike, got %d", rec.Code)
	}
}

func TestQueryLimit(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/leads", nil)
	if got := queryLimit(req); got != defaultListLimit {
		t.Fatalf("expected default limit, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leads?limit=10", nil)
	if got := queryLimit(req); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leads?limit=10000", nil)
	if got := queryLimit(req); got != defaultListLimit {
		t.Fatalf("oversized limit must fall back to default, got %d", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/leads?limit=abc", nil)
	if got := queryLimit(req); got != defaultListLimit {
		t.Fatalf("junk limit must fall back to default, got %d", got)
	}
}
