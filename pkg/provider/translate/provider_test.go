package translate_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/callbridge/pkg/provider/translate"
)

func TestSystemPrompt_NamesLanguages(t *testing.T) {
	t.Parallel()
	p := translate.SystemPrompt("en", "es")
	if !strings.Contains(p, "English") || !strings.Contains(p, "Spanish") {
		t.Errorf("prompt does not name both languages: %q", p)
	}
}

func TestCleanOutput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"  hola  ", "hola"},
		{`"hola"`, "hola"},
		{"'hola'", "hola"},
		{`"`, `"`},
		{`it's "fine"`, `it's "fine"`},
	}
	for _, tt := range tests {
		if got := translate.CleanOutput(tt.in); got != tt.want {
			t.Errorf("CleanOutput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
