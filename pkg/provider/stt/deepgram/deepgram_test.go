package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/MrWong99/callbridge/pkg/provider"
)

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL("en")
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
}

func TestNew_EmptyKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"transcript", `{"results":{"channels":[{"alternatives":[{"transcript":" hola ","confidence":0.9}]}]}}`, "hola"},
		{"no channels", `{"results":{"channels":[]}}`, ""},
		{"no alternatives", `{"results":{"channels":[{"alternatives":[]}]}}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDeepgramResponse([]byte(tt.body))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			assertEqual(t, "transcript", tt.want, got)
		})
	}

	if _, err := parseDeepgramResponse([]byte("{")); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestTranscribe_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			http.Error(w, "bad content type", http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "RIFF" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":"bonjour"}]}]}}`)
	}))
	defer srv.Close()

	p, _ := New("k", WithEndpoint(srv.URL))
	got, err := p.Transcribe(context.Background(), []byte("RIFF"), "fr")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "transcript", "bonjour", got)

	bad, _ := New("wrong", WithEndpoint(srv.URL))
	_, err = bad.Transcribe(context.Background(), []byte("RIFF"), "fr")
	if provider.IsTemporary(err) {
		t.Errorf("401 should not be temporary: %v", err)
	}
}

func assertEqual(t *testing.T, field, want, got string) {
	t.Helper()
	if got != want {
		t.Errorf("%s: want %q, got %q", field, want, got)
	}
}
