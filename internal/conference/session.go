// Package conference tracks one session per active translated conference:
// the language pair, the attached bot leg and a timestamped event log.
//
// The bot manager is the only writer. Two [Store] implementations are
// provided: [MemStore] for single-process deployments and tests, and
// [PostgresStore] when sessions should survive a restart and remain
// queryable after the fact.
package conference

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/callbridge/pkg/types"
)

// ErrNotFound is returned when no session exists for a conference id.
var ErrNotFound = errors.New("conference: session not found")

// Status is the lifecycle state of a [Session].
type Status string

const (
	StatusInitiated Status = "initiated"
	StatusActive    Status = "active"
	StatusEnded     Status = "ended"
)

// Event names recorded by the bot manager.
const (
	EventCreated    = "session_created"
	EventBotCreated = "bot_created"
	EventBotRemoved = "bot_removed"
	EventBotStatus  = "bot_status"
)

// Event is one entry of a session's log.
type Event struct {
	Name   string    `json:"name"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Session is the state kept for one conference.
type Session struct {
	ConferenceID   string
	SourceLanguage types.Language
	TargetLanguage types.Language

	// BotCallID is set while a bot leg is attached and empty otherwise.
	BotCallID string

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	Events    []Event
}

// Validate checks the fields every stored session must carry.
func (s *Session) Validate() error {
	var errs []error
	if s.ConferenceID == "" {
		errs = append(errs, errors.New("conference id is required"))
	}
	if !s.SourceLanguage.Supported() {
		errs = append(errs, fmt.Errorf("unsupported source language %q", s.SourceLanguage))
	}
	if !s.TargetLanguage.Supported() {
		errs = append(errs, fmt.Errorf("unsupported target language %q", s.TargetLanguage))
	}
	switch s.Status {
	case StatusInitiated, StatusActive, StatusEnded:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", s.Status))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("conference: invalid session: %w", err)
	}
	return nil
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	c := *s
	c.Events = append([]Event(nil), s.Events...)
	return &c
}
