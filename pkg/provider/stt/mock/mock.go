// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, wav, "en")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// WAV is a copy of the audio passed to Transcribe.
	WAV []byte
	// Language is the language hint passed to Transcribe.
	Language types.Language
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by every successful Transcribe call.
	Text string

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// FailTimes makes the first FailTimes calls return Err; later calls
	// succeed. Zero means Err applies to every call.
	FailTimes int

	// Hook, if set, runs at the start of every call. It may block to simulate
	// latency and observes ctx.
	Hook func(ctx context.Context) error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text or Err.
func (p *Provider) Transcribe(ctx context.Context, wav []byte, language types.Language) (string, error) {
	p.mu.Lock()
	hook := p.Hook
	p.Calls = append(p.Calls, TranscribeCall{WAV: append([]byte(nil), wav...), Language: language})
	n := len(p.Calls)
	text, err := p.Text, p.Err
	failTimes := p.FailTimes
	p.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return "", herr
		}
	}
	if err != nil && (failTimes == 0 || n <= failTimes) {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Recorded returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Recorded() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.Calls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
