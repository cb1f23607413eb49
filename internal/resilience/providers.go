package resilience

import (
	"context"

	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
	"github.com/MrWong99/callbridge/pkg/types"
)

// STTFallback implements [stt.Provider] with failover across several
// transcription backends, each behind its own breaker.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcription backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe implements [stt.Provider].
func (f *STTFallback) Transcribe(ctx context.Context, wav []byte, language types.Language) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, wav, language)
	})
}

// TranslateFallback implements [translate.Provider] with failover across
// several translation backends.
type TranslateFallback struct {
	group *FallbackGroup[translate.Provider]
}

var _ translate.Provider = (*TranslateFallback)(nil)

// NewTranslateFallback creates a [TranslateFallback] with primary as the
// preferred backend.
func NewTranslateFallback(primary translate.Provider, primaryName string, cfg FallbackConfig) *TranslateFallback {
	return &TranslateFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another translation backend.
func (f *TranslateFallback) AddFallback(name string, p translate.Provider) {
	f.group.AddFallback(name, p)
}

// Translate implements [translate.Provider].
func (f *TranslateFallback) Translate(ctx context.Context, text string, from, to types.Language) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p translate.Provider) (string, error) {
		return p.Translate(ctx, text, from, to)
	})
}

// TTSFallback implements [tts.Provider] with failover across several
// synthesis backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another synthesis backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) {
	f.group.AddFallback(name, p)
}

// Synthesize implements [tts.Provider].
func (f *TTSFallback) Synthesize(ctx context.Context, text string, language types.Language) (audio.Frame, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (audio.Frame, error) {
		return p.Synthesize(ctx, text, language)
	})
}
