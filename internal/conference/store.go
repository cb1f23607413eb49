package conference

import "context"

// Store persists conference sessions. Implementations must be safe for
// concurrent use and must not retain or hand out caller-owned pointers.
type Store interface {
	// Put creates or replaces the session keyed by s.ConferenceID. The
	// session is validated first. Events already stored are replaced by
	// s.Events.
	Put(ctx context.Context, s *Session) error

	// Get returns the session or an error wrapping [ErrNotFound].
	Get(ctx context.Context, conferenceID string) (*Session, error)

	// AppendEvent adds ev to the session's log and bumps UpdatedAt.
	AppendEvent(ctx context.Context, conferenceID string, ev Event) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, conferenceID string) error

	// List returns all sessions ordered by creation time.
	List(ctx context.Context) ([]Session, error)
}
