// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider receives one finished chunk of audio wrapped in a 16-bit PCM WAV
// container and returns its transcript. Chunks are independent; providers keep
// no per-call state between requests.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/callbridge/pkg/types"
)

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe returns the text spoken in wav, a complete RIFF/WAVE file
	// holding mono 16-bit PCM. language hints the spoken language.
	//
	// Silence or unintelligible audio yields an empty string and a nil error.
	// Failures are returned wrapped in a *provider.Error.
	Transcribe(ctx context.Context, wav []byte, language types.Language) (string, error)
}
