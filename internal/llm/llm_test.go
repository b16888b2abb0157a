package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func geminiResponse(text string) string {
	body := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
	data, _ := json.Marshal(body)
	return string(data)
}

func testProvider(baseURL string) *GeminiProvider {
	p := NewGeminiProvider("test-model", baseURL, "POLICYLENS_TEST_KEY_UNSET")
	p.APIKey = "test-key"
	return p
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "test-model") {
			t.Errorf("expected model in path, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("expected key query param, got %q", r.URL.Query().Get("key"))
		}
		w.Write([]byte(geminiResponse(`{"category": "food"}`)))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	text, err := p.Generate(context.Background(), "prompt", 500)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"category": "food"}` {
		t.Errorf("unexpected response text: %q", text)
	}
}

func TestGeminiStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "quota exceeded"}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	_, err := p.Generate(context.Background(), "prompt", 500)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %T", err)
	}
	if statusErr.Code != 429 {
		t.Errorf("expected code 429, got %d", statusErr.Code)
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	p := testProvider(srv.URL)
	if _, err := p.Generate(context.Background(), "prompt", 500); err == nil {
		t.Error("expected error for empty candidates")
	}
}

func TestIsConfigured(t *testing.T) {
	p := NewGeminiProvider("m", "http://localhost", "POLICYLENS_TEST_KEY_UNSET")
	if p.IsConfigured() {
		t.Error("expected unconfigured without API key")
	}
	p.APIKey = "k"
	if !p.IsConfigured() {
		t.Error("expected configured with API key")
	}
}
