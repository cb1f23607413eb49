package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":       {"openai", "deepgram", "whisper", "whisper-native"},
	"translate": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts":       {"openai", "elevenlabs", "coqui"},
	"telephony": {"twilio"},
}

// LoadDotEnv loads environment variables from the given files, ".env" when
// none are given. Missing files are skipped; variables already present in the
// environment are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
		slog.Debug("loaded env file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. ${VAR} references are expanded from the environment before
// decoding so secrets can stay out of the file.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.PublicURL != "" {
		if u, err := url.Parse(cfg.Server.PublicURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_url %q must be an absolute http(s) URL", cfg.Server.PublicURL))
		}
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Telephony
	validateProviderName("telephony", cfg.Telephony.Provider.Name)
	if cfg.Telephony.Provider.Name != "" {
		if cfg.Server.PublicURL == "" {
			errs = append(errs, errors.New("server.public_url is required when telephony is configured"))
		}
		if cfg.Server.CallbackSecret == "" {
			errs = append(errs, errors.New("server.callback_secret is required when telephony is configured"))
		}
		if cfg.Telephony.FromNumber == "" {
			errs = append(errs, errors.New("telephony.from_number is required"))
		}
		if cfg.Telephony.BotNumber == "" {
			errs = append(errs, errors.New("telephony.bot_number is required"))
		}
	} else {
		slog.Warn("telephony.provider is not configured; bot participants cannot be created")
	}
	if cfg.Telephony.RingTimeout < 0 {
		errs = append(errs, fmt.Errorf("telephony.ring_timeout %s must not be negative", cfg.Telephony.RingTimeout))
	}

	// Providers
	errs = append(errs, validateEntry("stt", "providers.stt", cfg.Providers.STT)...)
	errs = append(errs, validateEntry("translate", "providers.translate", cfg.Providers.Translate)...)
	errs = append(errs, validateEntry("tts", "providers.tts", cfg.Providers.TTS)...)

	// Bots
	b := cfg.Bots
	if b.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("bots.max_concurrent %d must be at least 1", b.MaxConcurrent))
	}
	if b.RateCapacity < 1 {
		errs = append(errs, fmt.Errorf("bots.rate_capacity %d must be at least 1", b.RateCapacity))
	}
	if b.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("bots.rate_window %s must be positive", b.RateWindow))
	}
	if b.TeardownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("bots.teardown_timeout %s must be positive", b.TeardownTimeout))
	}
	if b.CallbackSkew <= 0 {
		errs = append(errs, fmt.Errorf("bots.callback_skew %s must be positive", b.CallbackSkew))
	}

	// Pipeline
	errs = append(errs, validatePipeline(cfg.Pipeline)...)

	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; conference sessions are kept in memory only")
	}

	return errors.Join(errs...)
}

func validatePipeline(p PipelineConfig) []error {
	var errs []error
	if p.ChunkBytes < 1 {
		errs = append(errs, fmt.Errorf("pipeline.chunk_bytes %d must be at least 1", p.ChunkBytes))
	}
	if p.MinChunkBytes < 0 {
		errs = append(errs, fmt.Errorf("pipeline.min_chunk_bytes %d must not be negative", p.MinChunkBytes))
	}
	if p.ChunkBytes > 0 && p.MinChunkBytes > p.ChunkBytes {
		errs = append(errs, fmt.Errorf("pipeline.min_chunk_bytes %d exceeds chunk_bytes %d", p.MinChunkBytes, p.ChunkBytes))
	}
	if p.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers %d must be at least 1", p.Workers))
	}
	if p.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.queue_size %d must not be negative", p.QueueSize))
	}
	if p.StageTimeout <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.stage_timeout %s must be positive", p.StageTimeout))
	}
	r := p.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.retry.max_attempts %d must be at least 1", r.MaxAttempts))
	}
	if r.InitialBackoff < 0 || r.MaxBackoff < 0 {
		errs = append(errs, errors.New("pipeline.retry backoffs must not be negative"))
	}
	if r.MaxBackoff < r.InitialBackoff {
		errs = append(errs, fmt.Errorf("pipeline.retry.max_backoff %s is below initial_backoff %s", r.MaxBackoff, r.InitialBackoff))
	}
	if r.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("pipeline.retry.multiplier %.2f must be at least 1", r.Multiplier))
	}
	return errs
}

// validateEntry checks a required pipeline provider and its fallbacks.
func validateEntry(kind, path string, e ProviderEntry) []error {
	var errs []error
	if e.Name == "" {
		errs = append(errs, fmt.Errorf("%s.name is required", path))
	}
	validateProviderName(kind, e.Name)
	for i, fb := range e.Fallbacks {
		prefix := fmt.Sprintf("%s.fallbacks[%d]", path, i)
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s: nested fallbacks are not supported", prefix))
		}
		validateProviderName(kind, fb.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
