// Package translate defines the Provider interface for text translation
// backends and the instruction shared by the LLM-based implementations.
//
// Implementations must be safe for concurrent use.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/callbridge/pkg/types"
)

// Provider is the abstraction over any translation backend.
type Provider interface {
	// Translate renders text, spoken in from, into to. Failures are returned
	// wrapped in a *provider.Error.
	Translate(ctx context.Context, text string, from, to types.Language) (string, error)
}

// SystemPrompt is the instruction given to chat-model translators. The
// output is spoken aloud by a synthesizer, so anything besides the
// translation itself would be heard by the caller.
func SystemPrompt(from, to types.Language) string {
	return fmt.Sprintf(
		"You are a live phone interpreter. Translate the user's message from %s to %s. "+
			"Reply with the translation only: no quotes, notes, transliteration or explanations. "+
			"Keep names, numbers and the speaker's tone. If the message is already in %s, repeat it unchanged.",
		from.Name(), to.Name(), to.Name(),
	)
}

// CleanOutput strips the wrapping that chat models tend to add despite the
// instruction: surrounding quotes and whitespace.
func CleanOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
