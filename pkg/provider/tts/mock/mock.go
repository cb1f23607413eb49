// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Frame: audio.Frame{Data: pcm, Codec: audio.CodecPCM16, SampleRate: 24000}}
//	frame, _ := p.Synthesize(ctx, "hola", "es")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
	"github.com/MrWong99/callbridge/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text     string
	Language types.Language
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Frame is returned by every successful call.
	Frame audio.Frame

	// Err, if non-nil, is returned by Synthesize.
	Err error

	// FailTimes makes the first FailTimes calls return Err; later calls
	// succeed. Zero means Err applies to every call.
	FailTimes int

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Frame or Err.
func (p *Provider) Synthesize(_ context.Context, text string, language types.Language) (audio.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Language: language})
	if p.Err != nil && (p.FailTimes == 0 || len(p.Calls) <= p.FailTimes) {
		return audio.Frame{}, p.Err
	}
	return p.Frame, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Recorded returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Recorded() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.Calls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ tts.Provider = (*Provider)(nil)
