// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/types"
)

const (
	nativeProviderName = "whisper-native"

	// whisperSampleRate is the only input rate whisper.cpp models accept.
	whisperSampleRate = 16000

	defaultNativeLanguage = "en"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider in-process through the whisper.cpp
// Go bindings. The model is loaded once and shared; every Transcribe call
// gets its own whisper context, so concurrent chunks do not interfere.
type NativeProvider struct {
	model        whisperlib.Model
	language     string
	rmsThreshold float64
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language used when a chunk arrives without one.
// Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeRMSThreshold overrides the silence gate. Zero disables it.
func WithNativeRMSThreshold(rms float64) NativeOption {
	return func(p *NativeProvider) { p.rmsThreshold = rms }
}

// NewNative loads the whisper.cpp model at modelPath. The caller must call
// Close when the provider is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:        model,
		language:     defaultNativeLanguage,
		rmsThreshold: defaultRMSThreshold,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider. The chunk is decoded, resampled to
// 16 kHz and run through a fresh whisper context in one shot.
func (p *NativeProvider) Transcribe(ctx context.Context, wav []byte, language types.Language) (string, error) {
	info, pcm, err := audio.DecodeWAV(wav)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	if p.rmsThreshold > 0 && computeRMS(pcm) < p.rmsThreshold {
		return "", nil
	}
	samples, err := audio.BytesToSamples(pcm)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	samples = audio.Resample(samples, info.SampleRate, whisperSampleRate)

	lang := string(language)
	if lang == "" {
		lang = p.language
	}
	text, err := p.process(ctx, toFloat32(samples), lang)
	if err != nil {
		return "", provider.Wrap(nativeProviderName, "transcribe", err)
	}
	return text, nil
}

func (p *NativeProvider) process(ctx context.Context, samples []float32, lang string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set language %q: %w", lang, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

// toFloat32 scales 16-bit samples into the [-1, 1) range whisper.cpp expects.
func toFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}
