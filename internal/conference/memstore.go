package conference

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Session)}
}

// Put implements [Store].
func (m *MemStore) Put(_ context.Context, s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c := s.Clone()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	m.mu.Lock()
	if old, ok := m.sessions[c.ConferenceID]; ok && s.CreatedAt.IsZero() {
		c.CreatedAt = old.CreatedAt
	}
	m.sessions[c.ConferenceID] = c
	m.mu.Unlock()

	s.CreatedAt, s.UpdatedAt = c.CreatedAt, c.UpdatedAt
	return nil
}

// Get implements [Store].
func (m *MemStore) Get(_ context.Context, conferenceID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[conferenceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, conferenceID)
	}
	return s.Clone(), nil
}

// AppendEvent implements [Store].
func (m *MemStore) AppendEvent(_ context.Context, conferenceID string, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[conferenceID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, conferenceID)
	}
	s.Events = append(s.Events, ev)
	s.UpdatedAt = ev.At
	return nil
}

// Delete implements [Store].
func (m *MemStore) Delete(_ context.Context, conferenceID string) error {
	m.mu.Lock()
	delete(m.sessions, conferenceID)
	m.mu.Unlock()
	return nil
}

// List implements [Store].
func (m *MemStore) List(_ context.Context) ([]Session, error) {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ConferenceID, b.ConferenceID))
	})
	return out, nil
}
