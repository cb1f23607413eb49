// Package coqui provides a local Coqui TTS-backed TTS provider that connects to
// either a Coqui XTTS v2 server or a standard Coqui TTS server via its REST API.
// It implements the tts.Provider interface.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): targets the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is performed via GET /api/tts with
//     URL query parameters.
//
//   - APIModeXTTS: targets the Coqui XTTS v2 API server. Synthesis is performed
//     via POST /tts_to_audio/ with a JSON body.
//
// Both servers answer with a WAV file, which is returned as is; the caller
// converts it to the transport codec.
//
// Typical usage:
//
//	p, err := coqui.New("http://localhost:8002",
//	    coqui.WithAPIMode(coqui.APIModeXTTS),
//	    coqui.WithVoices(tts.Voices{"es": "Ana Florence"}),
//	)
//	frame, err := p.Synthesize(ctx, "hola", "es")
package coqui

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

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	providerName   = "coqui"
	defaultTimeout = 30 * time.Second
	ttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint = "/api/tts"
)

// APIMode selects which Coqui server API the provider will target.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	// This is the default mode.
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithTimeout sets the per-request HTTP timeout for calls to the TTS server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode sets the server API mode.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithVoices selects a speaker per target language. In XTTS mode the value
// is the speaker_wav reference, in standard mode the speaker_id.
func WithVoices(v tts.Voices) Option {
	return func(p *Provider) {
		p.voices = v
	}
}

// Provider implements tts.Provider backed by a locally-running Coqui TTS server.
type Provider struct {
	serverURL  string
	httpClient *http.Client
	apiMode    APIMode
	voices     tts.Voices
}

// New creates a new Coqui Provider that targets the TTS server at serverURL
// (e.g., "http://localhost:5002"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		apiMode:   APIModeStandard,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ttsRequest is the JSON body sent to POST /tts_to_audio/ (XTTS mode).
type ttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, language types.Language) (audio.Frame, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text, language)
	} else {
		req, err = p.standardRequest(ctx, text, language)
	}
	if err != nil {
		return audio.Frame{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", err)
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", fmt.Errorf("read WAV response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return audio.Frame{}, provider.HTTPError(providerName, "synthesize", resp.StatusCode, string(wav))
	}

	info, _, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", err)
	}
	return audio.Frame{Data: wav, Codec: audio.CodecWAV, SampleRate: info.SampleRate}, nil
}

// xttsRequest builds a POST /tts_to_audio/ request (XTTS v2 mode).
func (p *Provider) xttsRequest(ctx context.Context, text string, language types.Language) (*http.Request, error) {
	data, err := json.Marshal(ttsRequest{
		Text:       text,
		SpeakerWav: p.voices.For(language, ""),
		Language:   string(language),
	})
	if err != nil {
		return nil, fmt.Errorf("coqui: marshal tts request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+ttsEndpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// standardRequest builds a GET /api/tts request (standard server mode)
// using URL query parameters.
func (p *Provider) standardRequest(ctx context.Context, text string, language types.Language) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if id := p.voices.For(language, ""); id != "" {
		params.Set("speaker_id", id)
	}
	if language != "" {
		params.Set("language_id", string(language))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: create tts request: %w", err)
	}
	return req, nil
}
