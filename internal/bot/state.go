package bot

import (
	"time"

	"github.com/MrWong99/callbridge/pkg/types"
)

// State is the lifecycle state of a bot leg:
//
//	Pending → Dialed → Joined → Active → Ended | Failed
type State int

const (
	StatePending State = iota
	StateDialed
	StateJoined
	StateActive
	StateEnded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDialed:
		return "dialed"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateEnded:
		return "ended"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is Ended or Failed.
func (s State) Terminal() bool { return s == StateEnded || s == StateFailed }

// StatusParticipantJoin is the conference event reported when the bot leg
// joins the conference. Call status callbacks never carry it.
const StatusParticipantJoin = "participant-join"

// MapStatus translates a provider call status into a [State]. transient is
// true for failures worth retrying later (busy, no-answer). ok is false for
// unknown statuses.
func MapStatus(status string) (s State, transient, ok bool) {
	switch status {
	case "queued", "initiated":
		return StatePending, false, true
	case "ringing":
		return StateDialed, false, true
	case "answered", "in-progress":
		return StateJoined, false, true
	case StatusParticipantJoin:
		return StateActive, false, true
	case "completed", "canceled":
		return StateEnded, false, true
	case "busy", "no-answer":
		return StateFailed, true, true
	case "failed":
		return StateFailed, false, true
	default:
		return StatePending, false, false
	}
}

// Record describes one tracked bot.
type Record struct {
	// CallID is the outbound call placed by the manager, which carries the
	// media stream.
	CallID string
	// LegCallID is the bridge leg that sits in the conference. It is empty
	// until the bridge leg has presented its join code.
	LegCallID      string
	ConferenceID   string
	SourceLanguage types.Language
	TargetLanguage types.Language
	CreatedAt      time.Time
	State          State
}

// participantID is the call id the conference knows this bot by.
func (r Record) participantID() string {
	if r.LegCallID != "" {
		return r.LegCallID
	}
	return r.CallID
}

// StatusResult is what [Manager.HandleStatus] reports back to its caller.
type StatusResult struct {
	Record Record
	// Transient is set for a Failed bot whose failure reason may clear up,
	// so the caller can decide to create a new bot.
	Transient bool
	// Removed is set when the status ended the bot and its record was dropped.
	Removed bool
}
