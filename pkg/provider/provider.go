// Package provider holds what the capability packages under pkg/provider
// share: the error type every concrete provider wraps its failures in.
//
// The capability contracts themselves live in the sub-packages:
//
//   - [github.com/MrWong99/callbridge/pkg/provider/stt] transcription
//   - [github.com/MrWong99/callbridge/pkg/provider/translate] text translation
//   - [github.com/MrWong99/callbridge/pkg/provider/tts] speech synthesis
//   - [github.com/MrWong99/callbridge/pkg/provider/telephony] call control
package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Error wraps a failure returned by an external capability. StatusCode is the
// upstream HTTP status when one is known, zero otherwise.
type Error struct {
	Provider   string
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s: HTTP %d: %v", e.Provider, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request may succeed. Transport
// errors, throttling and server-side failures are temporary; other client
// errors are not.
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Wrap returns err wrapped in an [*Error] for the given provider and
// operation. It returns nil for a nil err and leaves an existing [*Error]
// untouched.
func Wrap(providerName, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Provider: providerName, Op: op, Err: err}
}

// HTTPError builds an [*Error] for a non-success HTTP response.
func HTTPError(providerName, op string, status int, body string) error {
	if len(body) > 512 {
		body = body[:512]
	}
	return &Error{Provider: providerName, Op: op, StatusCode: status, Err: errors.New(body)}
}

// IsTemporary reports whether err carries a temporary [*Error]. Errors that
// are not provider errors are treated as temporary.
func IsTemporary(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}
