// Package openai provides a TTS provider backed by the OpenAI speech API.
// Audio is requested as raw PCM, which the API delivers as 24 kHz mono
// 16-bit little-endian samples.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
	"github.com/MrWong99/callbridge/pkg/types"
)

const (
	providerName = "openai"

	// pcmSampleRate is the fixed rate of the "pcm" response format.
	pcmSampleRate = 24000

	defaultModel = "gpt-4o-mini-tts"
	defaultVoice = "alloy"
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	voices tts.Voices
	voice  string
}

type config struct {
	baseURL string
	timeout time.Duration
	voices  tts.Voices
	voice   string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithVoices selects a voice per target language. Languages without an
// entry use the default voice.
func WithVoices(v tts.Voices) Option {
	return func(c *config) {
		c.voices = v
	}
}

// WithDefaultVoice overrides the fallback voice ("alloy").
func WithDefaultVoice(voice string) Option {
	return func(c *config) {
		c.voice = voice
	}
}

// New constructs a new OpenAI TTS Provider. An empty model selects
// gpt-4o-mini-tts.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}

	cfg := &config{voice: defaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voices: cfg.voices,
		voice:  cfg.voice,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, language types.Language) (audio.Frame, error) {
	resp, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voices.For(language, p.voice)),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return audio.Frame{}, &provider.Error{Provider: providerName, Op: "synthesize", StatusCode: apiErr.StatusCode, Err: err}
		}
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.Frame{}, provider.Wrap(providerName, "synthesize", fmt.Errorf("read body: %w", err))
	}
	return audio.Frame{Data: pcm, Codec: audio.CodecPCM16, SampleRate: pcmSampleRate}, nil
}
