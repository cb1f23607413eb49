// Package openai provides a translation provider backed by the OpenAI chat
// completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/types"
)

const providerName = "openai"

var _ translate.Provider = (*Provider)(nil)

// Provider implements translate.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI translation Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
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
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Translate implements translate.Provider.
func (p *Provider) Translate(ctx context.Context, text string, from, to types.Language) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(text, from, to))
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", &provider.Error{Provider: providerName, Op: "translate", StatusCode: apiErr.StatusCode, Err: err}
		}
		return "", provider.Wrap(providerName, "translate", err)
	}
	if len(resp.Choices) == 0 {
		return "", provider.Wrap(providerName, "translate", errors.New("empty choices in response"))
	}
	return translate.CleanOutput(resp.Choices[0].Message.Content), nil
}

// buildParams assembles a deterministic, single-turn chat request.
func (p *Provider) buildParams(text string, from, to types.Language) oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translate.SystemPrompt(from, to)),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	}
}
