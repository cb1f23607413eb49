// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs REST text-to-speech API. It implements the tts.Provider
// interface.
//
// Audio is requested in the "ulaw_8000" output format, which is already the
// telephony transport encoding, so no resampling happens downstream.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
	"github.com/MrWong99/callbridge/pkg/types"
)

const (
	providerName     = "elevenlabs"
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "ulaw_8000"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoices selects a voice ID per target language.
func WithVoices(v tts.Voices) Option {
	return func(p *Provider) {
		p.voices = v
	}
}

// WithVoiceSettings sets stability and similarity boost for every request.
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings = &voiceSettings{Stability: stability, SimilarityBoost: similarity}
	}
}

// WithBaseURL overrides the API base URL. Intended for tests and proxies.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	defaultVoice string
	model        string
	baseURL      string
	voices       tts.Voices
	settings     *voiceSettings
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey and defaultVoice must be
// non-empty; defaultVoice is used for languages without a mapped voice.
func New(apiKey, defaultVoice string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if defaultVoice == "" {
		return nil, errors.New("elevenlabs: defaultVoice must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		defaultVoice: defaultVoice,
		model:        defaultModel,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// speechRequest is the JSON body of a text-to-speech request.
type speechRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	LanguageCode  string         `json:"language_code,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// buildRequestBody encodes the JSON body for one utterance.
func (p *Provider) buildRequestBody(text string, language types.Language) ([]byte, error) {
	return json.Marshal(speechRequest{
		Text:          text,
		ModelID:       p.model,
		LanguageCode:  string(language),
		VoiceSettings: p.settings,
	})
}

// buildURLForVoice returns the text-to-speech endpoint for voiceID.
func (p *Provider) buildURLForVoice(voiceID string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		p.baseURL, url.PathEscape(voiceID), defaultOutputFmt)
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, language types.Language) (audio.Frame, error) {
	body, err := p.buildRequestBody(text, language)
	if err != nil {
		return audio.Frame{}, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := p.buildURLForVoice(p.voices.For(language, p.defaultVoice))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return audio.Frame{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/basic")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", fmt.Errorf("read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return audio.Frame{}, provider.HTTPError(providerName, "synthesize", resp.StatusCode, string(data))
	}
	return audio.Frame{Data: data, Codec: audio.CodecULaw8k, SampleRate: audio.TelephonyRate}, nil
}
