// Package mock provides an in-memory telephony.Provider for tests.
//
// CreateCall does not attach the call to a conference; tests that need the
// bot leg in the participant list call Join explicitly, mirroring the
// asynchronous answer on a real backend.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
)

// CreateCallRecord captures one CreateCall invocation.
type CreateCallRecord struct {
	To          string
	From        string
	CallbackURL string
	CallID      string
}

// Provider is a thread-safe in-memory telephony backend.
type Provider struct {
	mu           sync.Mutex
	conferences  map[string]telephony.ConferenceStatus
	participants map[string][]telephony.Participant
	seq          atomic.Int64

	// CreateErr, DeleteErr, UpdateErr, ListErr and FetchErr, when non-nil,
	// are returned by the corresponding method.
	CreateErr error
	DeleteErr error
	UpdateErr error
	ListErr   error
	FetchErr  error

	// CreateHook runs before CreateCall returns. It may block.
	CreateHook func(ctx context.Context) error

	// Dialed runs once CreateCall has assigned the call id, before it
	// returns. It stands in for status callbacks that beat the REST response.
	Dialed func(ctx context.Context, callID string)

	Created []CreateCallRecord
	Deleted []string
}

var _ telephony.Provider = (*Provider)(nil)

// New returns an empty Provider.
func New() *Provider {
	return &Provider{
		conferences:  make(map[string]telephony.ConferenceStatus),
		participants: make(map[string][]telephony.Participant),
	}
}

// AddConference registers an in-progress conference with the given human
// participants.
func (p *Provider) AddConference(conferenceID string, callIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conferences[conferenceID] = telephony.ConferenceInProgress
	for _, id := range callIDs {
		p.participants[conferenceID] = append(p.participants[conferenceID], telephony.Participant{
			CallID: id, ConferenceID: conferenceID, Status: "connected",
		})
	}
}

// Join attaches callID to the conference.
func (p *Provider) Join(conferenceID, callID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.participants[conferenceID] = append(p.participants[conferenceID], telephony.Participant{
		CallID: callID, ConferenceID: conferenceID, Status: "connected",
	})
}

// EndConference marks the conference completed and drops all participants.
func (p *Provider) EndConference(conferenceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conferences[conferenceID] = telephony.ConferenceCompleted
	delete(p.participants, conferenceID)
}

// CreateCall implements telephony.Provider.
func (p *Provider) CreateCall(ctx context.Context, to, from, callbackURL string) (string, error) {
	p.mu.Lock()
	hook, dialed, err := p.CreateHook, p.Dialed, p.CreateErr
	p.mu.Unlock()

	if hook != nil {
		if herr := hook(ctx); herr != nil {
			return "", herr
		}
	}
	if err != nil {
		return "", err
	}

	id := fmt.Sprintf("CA%032d", p.seq.Add(1))
	p.mu.Lock()
	p.Created = append(p.Created, CreateCallRecord{To: to, From: from, CallbackURL: callbackURL, CallID: id})
	p.mu.Unlock()
	if dialed != nil {
		dialed(ctx, id)
	}
	return id, nil
}

// DeleteParticipant implements telephony.Provider.
func (p *Provider) DeleteParticipant(_ context.Context, conferenceID, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	list := p.participants[conferenceID]
	for i, pt := range list {
		if pt.CallID == callID {
			p.participants[conferenceID] = append(list[:i:i], list[i+1:]...)
			p.Deleted = append(p.Deleted, callID)
			return nil
		}
	}
	return notFound("delete participant", callID)
}

// UpdateParticipant implements telephony.Provider.
func (p *Provider) UpdateParticipant(_ context.Context, conferenceID, callID string, muted bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	for i, pt := range p.participants[conferenceID] {
		if pt.CallID == callID {
			p.participants[conferenceID][i].Muted = muted
			return nil
		}
	}
	return notFound("update participant", callID)
}

// ListParticipants implements telephony.Provider.
func (p *Provider) ListParticipants(_ context.Context, conferenceID string) ([]telephony.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	if _, ok := p.conferences[conferenceID]; !ok {
		return nil, notFound("list participants", conferenceID)
	}
	return append([]telephony.Participant(nil), p.participants[conferenceID]...), nil
}

// FetchConference implements telephony.Provider.
func (p *Provider) FetchConference(_ context.Context, conferenceID string) (telephony.ConferenceStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FetchErr != nil {
		return "", p.FetchErr
	}
	status, ok := p.conferences[conferenceID]
	if !ok {
		return "", notFound("fetch conference", conferenceID)
	}
	return status, nil
}

// DeletedCalls returns a copy of the ids passed to successful
// DeleteParticipant calls.
func (p *Provider) DeletedCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Deleted...)
}

// CreatedCalls returns a copy of the recorded CreateCall invocations.
func (p *Provider) CreatedCalls() []CreateCallRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CreateCallRecord(nil), p.Created...)
}

func notFound(op, id string) error {
	return &provider.Error{
		Provider:   "mock",
		Op:         op,
		StatusCode: 404,
		Err:        fmt.Errorf("%w: %s", telephony.ErrNotFound, id),
	}
}
