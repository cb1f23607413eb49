// Package telephony defines the Provider interface for the call-control
// backend that hosts conferences: placing the outbound bot call and
// inspecting or modifying conference participants.
//
// Implementations must be safe for concurrent use.
package telephony

import (
	"context"
	"errors"
)

// ErrNotFound is returned (wrapped) when the conference or participant does
// not exist on the provider side, typically because it already ended.
var ErrNotFound = errors.New("telephony: not found")

// ConferenceStatus is the provider-reported state of a conference.
type ConferenceStatus string

const (
	ConferenceInit       ConferenceStatus = "init"
	ConferenceInProgress ConferenceStatus = "in-progress"
	ConferenceCompleted  ConferenceStatus = "completed"
)

// Participant is one call leg attached to a conference as reported by the
// provider. The provider record does not say whether the leg is a bot.
type Participant struct {
	CallID       string
	ConferenceID string
	Label        string
	Muted        bool
	Hold         bool
	Status       string
}

// Provider is the abstraction over the telephony backend. Failures are
// returned wrapped in a *provider.Error.
type Provider interface {
	// CreateCall dials to from the number from. When the call is answered the
	// provider fetches call instructions from callbackURL. It returns the new
	// call's id.
	CreateCall(ctx context.Context, to, from, callbackURL string) (string, error)

	// DeleteParticipant removes callID from the conference, hanging it up.
	DeleteParticipant(ctx context.Context, conferenceID, callID string) error

	// UpdateParticipant mutes or unmutes callID in the conference.
	UpdateParticipant(ctx context.Context, conferenceID, callID string, muted bool) error

	// ListParticipants returns the legs currently attached to the conference.
	ListParticipants(ctx context.Context, conferenceID string) ([]Participant, error)

	// FetchConference returns the conference status.
	FetchConference(ctx context.Context, conferenceID string) (ConferenceStatus, error)
}
