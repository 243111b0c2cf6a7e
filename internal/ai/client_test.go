package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"omnireply/internal/metrics"
)

func newStubClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	client := New(Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "gemini-pro",
		Timeout: 5 * time.Second,
	}, testLogger(), metrics.Registry("aitest"))
	return client, server
}

func TestRespondReturnsGeneratedText(t *testing.T) {
	client, server := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-pro:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Error("api key missing from query")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  We open at 9am!  "}]}}]}`))
	})
	defer server.Close()

	got, err := client.Respond(context.Background(), Request{Message: "when do you open?"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if got != "We open at 9am!" {
		t.Fatalf("expected trimmed reply, got %q", got)
	}
}

func TestRespondEmptyCandidates(t *testing.T) {
	client, server := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})
	defer server.Close()

	_, err := client.Respond(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestRespondUpstreamError(t *testing.T) {
	client, server := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	defer server.Close()

	_, err := client.Respond(context.Background(), Request{Message: "hi"})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestBuildPromptIncludesBusinessContext(t *testing.T) {
	prompt := buildPrompt(Request{
		Message:          "do you deliver?",
		BusinessName:     "Hilib House",
		BusinessType:     "restaurant",
		KnowledgeContext: "[DELIVERY] Delivery:\nCity delivery costs $1.",
		LanguageCode:     "so",
	})

	for _, want := range []string{"Hilib House", "restaurant", "City delivery costs $1.", "do you deliver?"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
	if !strings.Contains(prompt, LanguageInstruction("so")) {
		t.Fatal("prompt missing language instruction")
	}
}

func TestBuildPromptEmptyKnowledge(t *testing.T) {
	prompt := buildPrompt(Request{Message: "hi", BusinessName: "Shop"})
	if !strings.Contains(prompt, "No specific business data") {
		t.Fatal("expected empty-knowledge placeholder")
	}
}

func TestFallbackPerLanguage(t *testing.T) {
	if Fallback("so") == Fallback("en") {
		t.Fatal("expected language-specific fallbacks")
	}
}
