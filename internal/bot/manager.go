// Package bot provisions and retires the bot call legs that carry translated
// audio into a conference.
//
// [Manager] enforces two admission checks on creation, in order: the
// creation rate limiter, then the ceiling on concurrently active bots. A slot
// is reserved before the telephony call is placed and released if that call
// fails, so concurrent creations can never overshoot the ceiling.
//
// The telephony participant record does not say whether a leg is a bot, so
// the manager keeps its own metadata side-table keyed by call id. Entries
// outlive the active record until the conference ends, which lets
// [Manager.IsBotParticipant] recognise a leg whose removal failed on the
// provider side.
package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callbridge/internal/conference"
	"github.com/MrWong99/callbridge/internal/observe"
	"github.com/MrWong99/callbridge/internal/ratelimit"
	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
	"github.com/MrWong99/callbridge/pkg/types"
)

const (
	defaultMaxConcurrent   = 10
	defaultTeardownTimeout = 30 * time.Second

	// earlyStatusTTL bounds how long a status for a not yet known call id
	// is held for the CreateCall that returns it.
	earlyStatusTTL = 2 * time.Minute
	maxEarlyStatus = 1024
)

// Config holds the manager's static settings.
type Config struct {
	// FromNumber is the caller id used for bot calls.
	FromNumber string

	// BridgeNumber is the number the bot dials. Its inbound leg joins the
	// conference after presenting the bot's join code.
	BridgeNumber string

	// CallbackBaseURL is the URL the telephony provider fetches call
	// instructions from once the bot answers. Signed parameters are appended.
	CallbackBaseURL string

	// CallbackSecret signs callback URLs.
	CallbackSecret string

	// MaxConcurrent caps the number of active bots. Default: 10.
	MaxConcurrent int

	// TeardownTimeout bounds [Manager.RemoveAllBotParticipants]. Default: 30s.
	TeardownTimeout time.Duration
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

type botMeta struct {
	conferenceID string
	createdAt    time.Time
}

// pendingJoin is a join code waiting for the bridge leg to present it.
type pendingJoin struct {
	code         string
	conferenceID string
	callID       string // set once CreateCall returned
	leg          string // set once the bridge leg presented the code
}

// earlyStatus holds the status events delivered for a call id before
// CreateCall returned it.
type earlyStatus struct {
	statuses []string
	first    time.Time
}

// Manager tracks bot legs across conferences. It is safe for concurrent use.
type Manager struct {
	cfg     Config
	tel     telephony.Provider
	limiter *ratelimit.Bucket
	store   conference.Store
	metrics *observe.Metrics
	now     func() time.Time

	active atomic.Int64

	mu           sync.Mutex
	bots         map[string]*Record
	byConference map[string]map[string]struct{}
	meta         map[string]botMeta
	early        map[string]*earlyStatus
	joins        map[string][]*pendingJoin
	legs         map[string]string // bridge leg call id -> bot call id

	// sessionMu serialises read-modify-write cycles on the store.
	sessionMu sync.Mutex
}

// NewManager creates a Manager.
func NewManager(tel telephony.Provider, limiter *ratelimit.Bucket, store conference.Store, cfg Config, opts ...Option) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = defaultTeardownTimeout
	}
	m := &Manager{
		cfg:          cfg,
		tel:          tel,
		limiter:      limiter,
		store:        store,
		now:          time.Now,
		bots:         make(map[string]*Record),
		byConference: make(map[string]map[string]struct{}),
		meta:         make(map[string]botMeta),
		early:        make(map[string]*earlyStatus),
		joins:        make(map[string][]*pendingJoin),
		legs:         make(map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// CreateBotParticipant dials a bot leg into conferenceName that translates
// from source into target and returns its call id.
func (m *Manager) CreateBotParticipant(ctx context.Context, conferenceName string, target, source types.Language) (callID string, err error) {
	if conferenceName == "" {
		return "", ErrInvalidConference
	}
	for _, lang := range []types.Language{target, source} {
		if !lang.Supported() {
			return "", fmt.Errorf("%w: %q", ErrInvalidLanguage, lang)
		}
	}

	if !m.limiter.TryAcquire() {
		m.metrics.RecordBotRejection(ctx, "rate_limited")
		return "", ErrRateLimitExceeded
	}
	if !m.reserveSlot() {
		m.metrics.RecordBotRejection(ctx, "concurrency")
		return "", ErrConcurrencyLimitExceeded
	}

	ctx, span := observe.StartSpan(ctx, "bot.create")
	defer func() { observe.EndSpan(span, err) }()
	log := observe.Logger(ctx).With("conference_id", conferenceName)

	now := m.now()
	cbURL, err := CallbackURL(m.cfg.CallbackBaseURL, m.cfg.CallbackSecret, conferenceName, target, source, now)
	if err != nil {
		m.releaseSlot()
		return "", err
	}
	code, err := JoinCode(SignCallback(m.cfg.CallbackSecret, conferenceName, target, source, now))
	if err != nil {
		m.releaseSlot()
		return "", err
	}
	// Registered before dialing; the bridge leg may present the code before
	// CreateCall returns.
	pj := &pendingJoin{code: code, conferenceID: conferenceName}
	m.mu.Lock()
	m.joins[code] = append(m.joins[code], pj)
	m.mu.Unlock()

	callID, err = m.tel.CreateCall(ctx, m.cfg.BridgeNumber, m.cfg.FromNumber, cbURL)
	if err != nil {
		m.mu.Lock()
		m.dropJoinLocked(pj)
		m.mu.Unlock()
		m.releaseSlot()
		m.metrics.RecordProviderError(ctx, "telephony", "create_call")
		return "", fmt.Errorf("bot: create call: %w", provider.Wrap("telephony", "create call", err))
	}
	m.metrics.RecordProviderRequest(ctx, "telephony", "create_call", "ok")

	rec := &Record{
		CallID:         callID,
		ConferenceID:   conferenceName,
		SourceLanguage: source,
		TargetLanguage: target,
		CreatedAt:      now,
		State:          StatePending,
	}
	m.mu.Lock()
	m.bots[callID] = rec
	set, ok := m.byConference[conferenceName]
	if !ok {
		set = make(map[string]struct{})
		m.byConference[conferenceName] = set
	}
	set[callID] = struct{}{}
	m.meta[callID] = botMeta{conferenceID: conferenceName, createdAt: now}
	pj.callID = callID
	if pj.leg != "" {
		m.linkLegLocked(rec, pj.leg)
	}
	var pending []string
	if e, ok := m.early[callID]; ok {
		pending = e.statuses
		delete(m.early, callID)
	}
	m.mu.Unlock()
	m.metrics.ActiveBots.Add(ctx, 1)

	m.updateSession(ctx, conferenceName, source, target, func(s *conference.Session) {
		s.BotCallID = callID
		s.Status = conference.StatusActive
	}, conference.Event{Name: conference.EventBotCreated, Detail: callID, At: now})

	log.Info("bot participant created", "call_id", callID, "source", source, "target", target)

	for _, status := range pending {
		if _, err := m.HandleStatus(ctx, callID, status); err != nil {
			log.Warn("failed to apply early call status", "call_id", callID, "status", status, "err", err)
		}
	}
	return callID, nil
}

// RemoveBotParticipant hangs up callID and forgets its record. Provider
// failures are logged and not returned; the conference may already be gone.
func (m *Manager) RemoveBotParticipant(ctx context.Context, conferenceID, callID string) {
	participant := callID
	if rec, ok := m.Record(callID); ok {
		callID, participant = rec.CallID, rec.participantID()
	}
	err := m.tel.DeleteParticipant(ctx, conferenceID, participant)
	switch {
	case err == nil:
	case errors.Is(err, telephony.ErrNotFound):
		slog.Debug("bot participant already gone", "conference_id", conferenceID, "call_id", callID)
	default:
		m.metrics.RecordProviderError(ctx, "telephony", "delete_participant")
		slog.Warn("failed to remove bot participant",
			"conference_id", conferenceID, "call_id", callID, "err", err)
	}
	m.forget(ctx, callID, conference.EventBotRemoved)
}

// RemoveAllBotParticipants removes every tracked bot in conferenceID
// concurrently and waits at most the configured teardown timeout. A
// conference without tracked bots is a no-op.
func (m *Manager) RemoveAllBotParticipants(ctx context.Context, conferenceID string) error {
	ids := m.callIDs(conferenceID)
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.TeardownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		g.Go(func() error {
			m.RemoveBotParticipant(gctx, conferenceID, id)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("bot: teardown of %q exceeded %s: %w", conferenceID, m.cfg.TeardownTimeout, err)
	}
	return nil
}

// HasActiveParticipants reports whether the conference is in progress and
// has at least one participant, bot or human.
func (m *Manager) HasActiveParticipants(ctx context.Context, conferenceID string) (bool, error) {
	status, err := m.tel.FetchConference(ctx, conferenceID)
	if err != nil {
		if errors.Is(err, telephony.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("bot: fetch conference: %w", err)
	}
	if status != telephony.ConferenceInProgress {
		return false, nil
	}
	parts, err := m.tel.ListParticipants(ctx, conferenceID)
	if err != nil {
		if errors.Is(err, telephony.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("bot: list participants: %w", err)
	}
	return len(parts) > 0, nil
}

// IsBotParticipant reports whether p is a bot leg created by this manager.
func (m *Manager) IsBotParticipant(p telephony.Participant) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bots[p.CallID]; ok {
		return true
	}
	if _, ok := m.legs[p.CallID]; ok {
		return true
	}
	_, ok := m.meta[p.CallID]
	return ok
}

// MuteBot mutes or unmutes a tracked bot. callID may name the bot call or
// its bridge leg.
func (m *Manager) MuteBot(ctx context.Context, conferenceID, callID string, muted bool) error {
	rec, ok := m.Record(callID)
	if !ok || rec.ConferenceID != conferenceID {
		return fmt.Errorf("%w: %q in %q", ErrNotFound, callID, conferenceID)
	}
	if err := m.tel.UpdateParticipant(ctx, conferenceID, rec.participantID(), muted); err != nil {
		m.metrics.RecordProviderError(ctx, "telephony", "update_participant")
		return fmt.Errorf("bot: mute: %w", provider.Wrap("telephony", "update participant", err))
	}
	return nil
}

// HandleStatus applies a provider status event to the bot with callID.
// States only move forward; a stale event is recorded but leaves the state
// unchanged. Ended and Failed drop the record.
//
// callID may name the bot call or its bridge leg. A status for a call id the
// manager has never seen is held for a short while and [ErrNotFound] is
// returned. The provider may report a call that failed at once before
// CreateCall has returned its id; the held statuses are applied when the
// record is stored.
func (m *Manager) HandleStatus(ctx context.Context, callID, status string) (StatusResult, error) {
	next, transient, ok := MapStatus(status)
	if !ok {
		return StatusResult{}, fmt.Errorf("bot: unknown call status %q", status)
	}

	m.mu.Lock()
	if botID, ok := m.legs[callID]; ok {
		callID = botID
	}
	rec, found := m.bots[callID]
	if !found {
		if _, known := m.meta[callID]; !known {
			m.holdEarlyLocked(callID, status)
		}
		m.mu.Unlock()
		return StatusResult{}, fmt.Errorf("%w: %q", ErrNotFound, callID)
	}
	if next > rec.State || next.Terminal() {
		rec.State = next
	}
	snapshot := *rec
	m.mu.Unlock()

	res := StatusResult{Record: snapshot, Transient: next == StateFailed && transient}
	m.appendEvent(ctx, snapshot.ConferenceID, conference.Event{
		Name:   conference.EventBotStatus,
		Detail: callID + " " + status,
		At:     m.now(),
	})

	if snapshot.State.Terminal() {
		m.forget(ctx, callID, conference.EventBotRemoved)
		res.Removed = true
		slog.Info("bot participant finished",
			"conference_id", snapshot.ConferenceID,
			"call_id", callID,
			"state", snapshot.State,
			"transient", res.Transient)
	}
	return res, nil
}

// HandleConferenceEnd removes all bots of the conference, deletes its
// session and drops its metadata. Ending an unknown conference is not an
// error.
func (m *Manager) HandleConferenceEnd(ctx context.Context, conferenceID string) error {
	teardownErr := m.RemoveAllBotParticipants(ctx, conferenceID)

	m.mu.Lock()
	for id, md := range m.meta {
		if md.conferenceID == conferenceID {
			delete(m.meta, id)
		}
	}
	m.mu.Unlock()

	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()
	err := m.store.Delete(ctx, conferenceID)
	switch {
	case err == nil:
		slog.Info("conference ended", "conference_id", conferenceID)
	case errors.Is(err, conference.ErrNotFound):
	default:
		return errors.Join(teardownErr, fmt.Errorf("bot: delete session: %w", err))
	}
	return teardownErr
}

// ActiveCount returns the number of bots holding a concurrency slot.
func (m *Manager) ActiveCount() int { return int(m.active.Load()) }

// Bots returns the tracked bots of a conference ordered by creation time.
func (m *Manager) Bots(conferenceID string) []Record {
	m.mu.Lock()
	out := make([]Record, 0, len(m.byConference[conferenceID]))
	for id := range m.byConference[conferenceID] {
		out = append(out, *m.bots[id])
	}
	m.mu.Unlock()
	slices.SortFunc(out, func(a, b Record) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.CallID, b.CallID))
	})
	return out
}

// Record returns a copy of the record for callID, which may name the bot
// call or its bridge leg.
func (m *Manager) Record(callID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if botID, ok := m.legs[callID]; ok {
		callID = botID
	}
	rec, ok := m.bots[callID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ResolveJoin matches the join code digits presented by the bridge leg
// legCallID to a pending bot and returns the conference the leg must join.
// Each code is accepted once.
func (m *Manager) ResolveJoin(ctx context.Context, digits, legCallID string) (string, error) {
	code, ok := parseJoinCode(digits)
	if !ok || legCallID == "" {
		return "", fmt.Errorf("%w: join code %q", ErrNotFound, digits)
	}

	m.mu.Lock()
	pjs := m.joins[code]
	if len(pjs) == 0 {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: join code %q", ErrNotFound, digits)
	}
	pj := pjs[0]
	m.dropJoinLocked(pj)
	pj.leg = legCallID
	var botID string
	if rec, ok := m.bots[pj.callID]; ok {
		m.linkLegLocked(rec, legCallID)
		botID = rec.CallID
	}
	m.mu.Unlock()

	m.appendEvent(ctx, pj.conferenceID, conference.Event{
		Name:   conference.EventBotStatus,
		Detail: legCallID + " bridge-joined",
		At:     m.now(),
	})
	slog.Info("bridge leg joining conference",
		"conference_id", pj.conferenceID, "call_id", botID, "leg_call_id", legCallID)
	return pj.conferenceID, nil
}

// linkLegLocked attaches the bridge leg to rec. m.mu must be held.
func (m *Manager) linkLegLocked(rec *Record, leg string) {
	rec.LegCallID = leg
	m.legs[leg] = rec.CallID
	m.meta[leg] = botMeta{conferenceID: rec.ConferenceID, createdAt: rec.CreatedAt}
}

// dropJoinLocked removes pj from the pending join codes. m.mu must be held.
func (m *Manager) dropJoinLocked(pj *pendingJoin) {
	pjs := slices.DeleteFunc(m.joins[pj.code], func(p *pendingJoin) bool { return p == pj })
	if len(pjs) == 0 {
		delete(m.joins, pj.code)
		return
	}
	m.joins[pj.code] = pjs
}

func (m *Manager) reserveSlot() bool {
	limit := int64(m.cfg.MaxConcurrent)
	for {
		cur := m.active.Load()
		if cur >= limit {
			return false
		}
		if m.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (m *Manager) releaseSlot() { m.active.Add(-1) }

// holdEarlyLocked parks status for callID and evicts expired entries.
// m.mu must be held.
func (m *Manager) holdEarlyLocked(callID, status string) {
	now := m.now()
	for id, e := range m.early {
		if now.Sub(e.first) > earlyStatusTTL {
			delete(m.early, id)
		}
	}
	e, ok := m.early[callID]
	if !ok {
		if len(m.early) >= maxEarlyStatus {
			return
		}
		e = &earlyStatus{first: now}
		m.early[callID] = e
	}
	e.statuses = append(e.statuses, status)
}

func (m *Manager) callIDs(conferenceID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.byConference[conferenceID]))
	for id := range m.byConference[conferenceID] {
		ids = append(ids, id)
	}
	return ids
}

// forget drops the active record for callID and releases its slot. The
// metadata entry is kept.
func (m *Manager) forget(ctx context.Context, callID, event string) {
	m.mu.Lock()
	rec, ok := m.bots[callID]
	if ok {
		delete(m.bots, callID)
		delete(m.legs, rec.LegCallID)
		var stale []*pendingJoin
		for _, pjs := range m.joins {
			for _, pj := range pjs {
				if pj.callID == callID {
					stale = append(stale, pj)
				}
			}
		}
		for _, pj := range stale {
			m.dropJoinLocked(pj)
		}
		if set := m.byConference[rec.ConferenceID]; set != nil {
			delete(set, callID)
			if len(set) == 0 {
				delete(m.byConference, rec.ConferenceID)
			}
		}
	}
	var remaining string
	if ok {
		for id := range m.byConference[rec.ConferenceID] {
			remaining = id
			break
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.releaseSlot()
	m.metrics.ActiveBots.Add(ctx, -1)
	m.updateSession(ctx, rec.ConferenceID, rec.SourceLanguage, rec.TargetLanguage, func(s *conference.Session) {
		if s.BotCallID == callID {
			s.BotCallID = remaining
		}
		if s.BotCallID == "" && s.Status == conference.StatusActive {
			s.Status = conference.StatusInitiated
		}
	}, conference.Event{Name: event, Detail: callID, At: m.now()})
}

// updateSession loads or creates the session for conferenceID, applies fn,
// appends ev and stores it. Store failures are logged only.
func (m *Manager) updateSession(ctx context.Context, conferenceID string, source, target types.Language, fn func(*conference.Session), ev conference.Event) {
	m.sessionMu.Lock()
	defer m.sessionMu.Unlock()

	s, err := m.store.Get(ctx, conferenceID)
	switch {
	case errors.Is(err, conference.ErrNotFound):
		s = &conference.Session{
			ConferenceID:   conferenceID,
			SourceLanguage: source,
			TargetLanguage: target,
			Status:         conference.StatusInitiated,
			Events:         []conference.Event{{Name: conference.EventCreated, At: m.now()}},
		}
	case err != nil:
		slog.Warn("failed to load conference session", "conference_id", conferenceID, "err", err)
		return
	}

	fn(s)
	s.Events = append(s.Events, ev)
	if err := m.store.Put(ctx, s); err != nil {
		slog.Warn("failed to store conference session", "conference_id", conferenceID, "err", err)
	}
}

func (m *Manager) appendEvent(ctx context.Context, conferenceID string, ev conference.Event) {
	if err := m.store.AppendEvent(ctx, conferenceID, ev); err != nil && !errors.Is(err, conference.ErrNotFound) {
		slog.Warn("failed to record conference event", "conference_id", conferenceID, "err", err)
	}
}
