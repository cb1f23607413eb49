// Package config provides the configuration schema, loader, and provider registry
// for the callbridge translation server.
package config

import "time"

// LogLevel controls log verbosity for the callbridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Config is the root configuration structure for callbridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Providers ProvidersConfig `yaml:"providers"`
	Bots      BotsConfig      `yaml:"bots"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	LogLevel  LogLevel  `yaml:"log_level"`
	LogFormat LogFormat `yaml:"log_format"`

	// PublicURL is the externally reachable base URL of this server. Bot
	// callback URLs and the media stream URL handed to the telephony
	// provider are built from it.
	PublicURL string `yaml:"public_url"`

	// CallbackSecret signs bot callback URLs.
	CallbackSecret string `yaml:"callback_secret"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// TelephonyConfig selects the telephony provider and the numbers bots dial
// from and to.
type TelephonyConfig struct {
	Provider ProviderEntry `yaml:"provider"`

	// FromNumber is the caller id used for bot calls.
	FromNumber string `yaml:"from_number"`

	// BotNumber is the bridge number a bot call dials. Its incoming-call
	// webhook must point at this server's /bridge/twiml, which joins the
	// answering leg into the conference.
	BotNumber string `yaml:"bot_number"`

	// RingTimeout bounds how long a bot call rings. Zero uses the
	// provider default.
	RingTimeout time.Duration `yaml:"ring_timeout"`
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	STT       ProviderEntry `yaml:"stt"`
	Translate ProviderEntry `yaml:"translate"`
	TTS       ProviderEntry `yaml:"tts"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above.
	Options map[string]any `yaml:"options"`

	// Fallbacks are tried in order when this provider fails or its circuit
	// breaker is open. Nested fallbacks are not allowed.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`
}

// BotsConfig bounds bot participant creation.
type BotsConfig struct {
	// MaxConcurrent is the ceiling on simultaneously active bots. Default: 10.
	MaxConcurrent int `yaml:"max_concurrent"`

	// RateCapacity is the number of bot creations permitted per RateWindow.
	// Default: 10.
	RateCapacity int `yaml:"rate_capacity"`

	// RateWindow is the refill period of the creation rate limiter.
	// Default: 1m.
	RateWindow time.Duration `yaml:"rate_window"`

	// TeardownTimeout bounds RemoveAllBotParticipants. Default: 30s.
	TeardownTimeout time.Duration `yaml:"teardown_timeout"`

	// CallbackSkew is the accepted clock skew for signed callback URLs.
	// Default: 5m.
	CallbackSkew time.Duration `yaml:"callback_skew"`
}

// PipelineConfig tunes chunking and the per-stage provider policy.
type PipelineConfig struct {
	// ChunkBytes is the inbound μ-law byte count that triggers a chunk.
	// Default: 8000 (one second).
	ChunkBytes int `yaml:"chunk_bytes"`

	// MinChunkBytes is the smallest chunk worth transcribing. Default: 1600.
	MinChunkBytes int `yaml:"min_chunk_bytes"`

	// Workers is the size of the shared chunk worker pool. Default: 8.
	Workers int `yaml:"workers"`

	// QueueSize is the number of chunks that may wait for a worker.
	// Default: 64.
	QueueSize int `yaml:"queue_size"`

	// StageTimeout bounds one attempt of one stage. Default: 10s.
	StageTimeout time.Duration `yaml:"stage_timeout"`

	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors the per-stage retry policy.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier"`
}

// StorageConfig selects the conference session store.
type StorageConfig struct {
	// PostgresDSN is the PostgreSQL connection string. When empty, sessions
	// are kept in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultMaxConcurrent   = 10
	DefaultRateCapacity    = 10
	DefaultRateWindow      = time.Minute
	DefaultTeardownTimeout = 30 * time.Second
	DefaultCallbackSkew    = 5 * time.Minute
	DefaultChunkBytes      = 8000
	DefaultMinChunkBytes   = 1600
	DefaultWorkers         = 8
	DefaultQueueSize       = 64
	DefaultStageTimeout    = 10 * time.Second
	DefaultMaxAttempts     = 3
	DefaultInitialBackoff  = 200 * time.Millisecond
	DefaultMaxBackoff      = 2 * time.Second
	DefaultMultiplier      = 2.0
)

// ApplyDefaults fills zero-valued fields of cfg.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}

	b := &cfg.Bots
	if b.MaxConcurrent == 0 {
		b.MaxConcurrent = DefaultMaxConcurrent
	}
	if b.RateCapacity == 0 {
		b.RateCapacity = DefaultRateCapacity
	}
	if b.RateWindow == 0 {
		b.RateWindow = DefaultRateWindow
	}
	if b.TeardownTimeout == 0 {
		b.TeardownTimeout = DefaultTeardownTimeout
	}
	if b.CallbackSkew == 0 {
		b.CallbackSkew = DefaultCallbackSkew
	}

	p := &cfg.Pipeline
	if p.ChunkBytes == 0 {
		p.ChunkBytes = DefaultChunkBytes
	}
	if p.MinChunkBytes == 0 {
		p.MinChunkBytes = DefaultMinChunkBytes
	}
	if p.Workers == 0 {
		p.Workers = DefaultWorkers
	}
	if p.QueueSize == 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.StageTimeout == 0 {
		p.StageTimeout = DefaultStageTimeout
	}
	r := &p.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = DefaultInitialBackoff
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = DefaultMaxBackoff
	}
	if r.Multiplier == 0 {
		r.Multiplier = DefaultMultiplier
	}
}
