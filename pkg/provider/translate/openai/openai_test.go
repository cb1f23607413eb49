package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/callbridge/pkg/provider"
)

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("sk", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestBuildParams(t *testing.T) {
	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	params := p.buildParams("good morning", "en", "es")
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Error("expected first message to be a system message")
	}
	if params.Messages[1].OfUser == nil {
		t.Error("expected second message to be a user message")
	}
	if string(params.Model) != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
}

func TestTranslate(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "\"buenos días\""}}]
		}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL))
	got, err := p.Translate(context.Background(), "good morning", "en", "es")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "buenos días" {
		t.Errorf("got %q, want %q", got, "buenos días")
	}
	if gotBody["model"] != "gpt-4o-mini" {
		t.Errorf("request model = %v", gotBody["model"])
	}
}

func TestTranslate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	p, _ := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL))
	_, err := p.Translate(context.Background(), "hi", "en", "de")

	var pe *provider.Error
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected provider error with 500, got %v", err)
	}
}
