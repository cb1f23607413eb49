package bot

import "errors"

var (
	// ErrInvalidLanguage is returned when a language is outside
	// types.SupportedLanguages.
	ErrInvalidLanguage = errors.New("bot: invalid language")

	// ErrInvalidConference is returned for an empty conference name.
	ErrInvalidConference = errors.New("bot: conference name is required")

	// ErrRateLimitExceeded is returned when the creation rate limiter has no
	// permit left in the current window.
	ErrRateLimitExceeded = errors.New("bot: rate limit exceeded")

	// ErrConcurrencyLimitExceeded is returned when the number of active bots
	// has reached the configured ceiling.
	ErrConcurrencyLimitExceeded = errors.New("bot: concurrency limit exceeded")

	// ErrNotFound is returned for an unknown bot call id.
	ErrNotFound = errors.New("bot: not found")

	// ErrInvalidToken is returned when a callback token does not verify.
	ErrInvalidToken = errors.New("bot: invalid callback token")
)
