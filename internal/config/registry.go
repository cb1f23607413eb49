package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	stt       map[string]func(ProviderEntry) (stt.Provider, error)
	translate map[string]func(ProviderEntry) (translate.Provider, error)
	tts       map[string]func(ProviderEntry) (tts.Provider, error)
	telephony map[string]func(TelephonyConfig) (telephony.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		stt:       make(map[string]func(ProviderEntry) (stt.Provider, error)),
		translate: make(map[string]func(ProviderEntry) (translate.Provider, error)),
		tts:       make(map[string]func(ProviderEntry) (tts.Provider, error)),
		telephony: make(map[string]func(TelephonyConfig) (telephony.Provider, error)),
	}
}

// RegisterSTT registers an STT provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterTranslate registers a translation provider factory under name.
func (r *Registry) RegisterTranslate(name string, factory func(ProviderEntry) (translate.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.translate[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterTelephony registers a telephony provider factory under name. The
// factory receives the whole telephony section since bot numbers and ring
// timeouts live next to the provider entry.
func (r *Registry) RegisterTelephony(name string, factory func(TelephonyConfig) (telephony.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telephony[name] = factory
}

// CreateSTT instantiates an STT provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTranslate instantiates a translation provider using the factory registered under entry.Name.
func (r *Registry) CreateTranslate(entry ProviderEntry) (translate.Provider, error) {
	r.mu.RLock()
	factory, ok := r.translate[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: translate/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTTS instantiates a TTS provider using the factory registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateTelephony instantiates the telephony provider named by cfg.Provider.Name.
func (r *Registry) CreateTelephony(cfg TelephonyConfig) (telephony.Provider, error) {
	r.mu.RLock()
	factory, ok := r.telephony[cfg.Provider.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: telephony/%q", ErrProviderNotRegistered, cfg.Provider.Name)
	}
	return factory(cfg)
}
