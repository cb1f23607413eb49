package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/callbridge/internal/app"
	"github.com/MrWong99/callbridge/internal/config"
	"github.com/MrWong99/callbridge/internal/resilience"
	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/callbridge/pkg/provider/stt/openai"
	"github.com/MrWong99/callbridge/pkg/provider/stt/whisper"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
	"github.com/MrWong99/callbridge/pkg/provider/telephony/twilio"
	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/provider/translate/anyllm"
	oaitranslate "github.com/MrWong99/callbridge/pkg/provider/translate/openai"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
	"github.com/MrWong99/callbridge/pkg/provider/tts/coqui"
	"github.com/MrWong99/callbridge/pkg/provider/tts/elevenlabs"
	oaitts "github.com/MrWong99/callbridge/pkg/provider/tts/openai"
	"github.com/MrWong99/callbridge/pkg/types"
)

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if rms, ok := optFloat(entry.Options, "rms_threshold"); ok {
			opts = append(opts, whisper.WithRMSThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if rms, ok := optFloat(entry.Options, "rms_threshold"); ok {
			opts = append(opts, whisper.WithNativeRMSThreshold(rms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Translate ─────────────────────────────────────────────────────────────

	reg.RegisterTranslate("openai", func(entry config.ProviderEntry) (translate.Provider, error) {
		var opts []oaitranslate.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaitranslate.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaitranslate.WithOrganization(org))
		}
		return oaitranslate.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other LLM backend goes through any-llm with an optional API key
	// and base URL. ollama, llamacpp and llamafile are local servers and
	// usually only need the base URL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
		"ollama", "llamacpp", "llamafile",
	} {
		reg.RegisterTranslate(providerName, func(entry config.ProviderEntry) (translate.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []oaitts.Option{oaitts.WithVoices(optVoices(entry.Options))}
		if entry.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(entry.BaseURL))
		}
		if v := optString(entry.Options, "voice"); v != "" {
			opts = append(opts, oaitts.WithDefaultVoice(v))
		}
		return oaitts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []elevenlabs.Option{elevenlabs.WithVoices(optVoices(entry.Options))}
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, optString(entry.Options, "voice"), opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithVoices(optVoices(entry.Options))}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Telephony ─────────────────────────────────────────────────────────────

	statusCallback := strings.TrimRight(cfg.Server.PublicURL, "/") + app.PathBotStatus
	reg.RegisterTelephony("twilio", func(tc config.TelephonyConfig) (telephony.Provider, error) {
		return twilio.New(twilio.Config{
			AccountSID:     optString(tc.Provider.Options, "account_sid"),
			AuthToken:      tc.Provider.APIKey,
			BaseURL:        tc.Provider.BaseURL,
			StatusCallback: statusCallback,
			RingTimeout:    tc.RingTimeout,
		})
	})
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured fallbacks wrap the primary in a circuit-breaking fallback chain.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}
	fbCfg := resilience.FallbackConfig{}

	// STT
	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = primarySTT
	if fbs := cfg.Providers.STT.Fallbacks; len(fbs) > 0 {
		group := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Name, fbCfg)
		for _, fb := range fbs {
			p, err := reg.CreateSTT(fb)
			if err != nil {
				return nil, fmt.Errorf("create stt fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, p)
		}
		ps.STT = group
	}
	logProvider("stt", cfg.Providers.STT)

	// Translate
	primaryTr, err := reg.CreateTranslate(cfg.Providers.Translate)
	if err != nil {
		return nil, fmt.Errorf("create translate provider %q: %w", cfg.Providers.Translate.Name, err)
	}
	ps.Translate = primaryTr
	if fbs := cfg.Providers.Translate.Fallbacks; len(fbs) > 0 {
		group := resilience.NewTranslateFallback(primaryTr, cfg.Providers.Translate.Name, fbCfg)
		for _, fb := range fbs {
			p, err := reg.CreateTranslate(fb)
			if err != nil {
				return nil, fmt.Errorf("create translate fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, p)
		}
		ps.Translate = group
	}
	logProvider("translate", cfg.Providers.Translate)

	// TTS
	primaryTTS, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = primaryTTS
	if fbs := cfg.Providers.TTS.Fallbacks; len(fbs) > 0 {
		group := resilience.NewTTSFallback(primaryTTS, cfg.Providers.TTS.Name, fbCfg)
		for _, fb := range fbs {
			p, err := reg.CreateTTS(fb)
			if err != nil {
				return nil, fmt.Errorf("create tts fallback %q: %w", fb.Name, err)
			}
			group.AddFallback(fb.Name, p)
		}
		ps.TTS = group
	}
	logProvider("tts", cfg.Providers.TTS)

	// Telephony is optional; without it only the media stream is served.
	if name := cfg.Telephony.Provider.Name; name != "" {
		p, err := reg.CreateTelephony(cfg.Telephony)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return nil, fmt.Errorf("telephony provider %q is not supported", name)
		} else if err != nil {
			return nil, fmt.Errorf("create telephony provider %q: %w", name, err)
		}
		ps.Telephony = p
		logProvider("telephony", cfg.Telephony.Provider)
	}

	return ps, nil
}

func logProvider(kind string, e config.ProviderEntry) {
	fallbacks := make([]string, 0, len(e.Fallbacks))
	for _, fb := range e.Fallbacks {
		fallbacks = append(fallbacks, fb.Name)
	}
	slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model, "fallbacks", fallbacks)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optFloat extracts a numeric option. YAML decodes integers as int.
func optFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// optVoices reads the "voices" option, a map from language code to voice id.
func optVoices(opts map[string]any) tts.Voices {
	raw, ok := opts["voices"].(map[string]any)
	if !ok {
		return nil
	}
	v := make(tts.Voices, len(raw))
	for lang, id := range raw {
		s, ok := id.(string)
		if !ok {
			continue
		}
		if l, ok := types.ParseLanguage(lang); ok {
			v[l] = s
		}
	}
	return v
}
