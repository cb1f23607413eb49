// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns one translated utterance into audio. Providers return
// audio in whatever encoding their backend produces natively (telephony
// μ-law, raw PCM at some rate, or a WAV container), described by the
// returned [audio.Frame]; converting to the transport codec is the caller's
// job.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize speaks text in language. A frame with empty Data means the
	// backend produced no audio; that is not an error. Failures are returned
	// wrapped in a *provider.Error.
	Synthesize(ctx context.Context, text string, language types.Language) (audio.Frame, error)
}

// Voices maps a language to a provider-specific voice identifier.
type Voices map[types.Language]string

// For returns the voice configured for lang, or fallback when none is set.
func (v Voices) For(lang types.Language, fallback string) string {
	if id, ok := v[lang]; ok && id != "" {
		return id
	}
	return fallback
}
