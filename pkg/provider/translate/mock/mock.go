// Package mock provides a test double for the translate.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/types"
)

// TranslateCall records a single invocation of Translate.
type TranslateCall struct {
	Text     string
	From, To types.Language
}

// Provider is a mock implementation of translate.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by successful calls. When empty, the input text is
	// returned prefixed with "[to] ".
	Result string

	// Err, if non-nil, is returned by Translate.
	Err error

	// FailTimes makes the first FailTimes calls return Err; later calls
	// succeed. Zero means Err applies to every call.
	FailTimes int

	// Calls records every call to Translate in order.
	Calls []TranslateCall
}

// Translate records the call and returns Result or Err.
func (p *Provider) Translate(_ context.Context, text string, from, to types.Language) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranslateCall{Text: text, From: from, To: to})
	if p.Err != nil && (p.FailTimes == 0 || len(p.Calls) <= p.FailTimes) {
		return "", p.Err
	}
	if p.Result != "" {
		return p.Result, nil
	}
	return "[" + string(to) + "] " + text, nil
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Recorded returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Recorded() []TranslateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranslateCall(nil), p.Calls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ translate.Provider = (*Provider)(nil)
