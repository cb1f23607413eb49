// Package mediastream bridges one telephony media stream to the translation
// pipeline.
//
// A [Session] buffers inbound μ-law audio, cuts it into chunks of roughly one
// second and hands each chunk to a shared worker pool so the reader loop
// never waits on provider latency. Results come back in any order; the
// session parks early ones and delivers translated audio strictly in chunk
// order.
//
// [Handler] accepts the WebSocket, decodes the JSON wire events and drives
// one Session per connection.
package mediastream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/callbridge/internal/observe"
	"github.com/MrWong99/callbridge/internal/pipeline"
	"github.com/MrWong99/callbridge/pkg/types"
)

// DefaultChunkBytes is one second of 8 kHz μ-law audio.
const DefaultChunkBytes = 8000

// ErrMissingLanguages is returned by [Session.Start] when no supported
// language pair has been bound by the time the stream starts.
var ErrMissingLanguages = errors.New("mediastream: source and target language are required")

// State is the lifecycle state of a [Session].
type State int

const (
	StateOpened State = iota
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Quality levels select the chunk size.
const (
	QualityLow      = "low"
	QualityStandard = "standard"
	QualityHigh     = "high"
)

// Modes control whether inbound audio is translated.
const (
	ModeTranslate = "translate"
	// ModePaused drops inbound audio until the mode is switched back.
	ModePaused = "paused"
)

// Processor runs one chunk through the translation pipeline.
type Processor interface {
	Process(ctx context.Context, c pipeline.Chunk) (pipeline.Result, error)
}

// Submitter schedules work off the reader loop.
type Submitter interface {
	Submit(ctx context.Context, fn func(ctx context.Context)) error
}

// Sender writes translated audio back onto the transport.
type Sender interface {
	Send(ctx context.Context, streamID string, lang types.Language, ulaw []byte) error
}

// Stats is a snapshot of a session's counters.
type Stats struct {
	ProcessedBytes int64
	Dispatched     int64
	Delivered      int64
	Dropped        int64
	LastTimestamp  int64
}

// Session is the per-connection state. Inbound methods (Start, Media,
// Configure, Stop) must be called from a single reader goroutine; delivery
// happens on pool workers.
type Session struct {
	ID string

	proc    Processor
	pool    Submitter
	send    Sender
	metrics *observe.Metrics
	log     *slog.Logger

	// ctx outlives the connection so chunks already handed to the pool run to
	// completion; delivery checks transportClosed instead.
	ctx context.Context

	mu             sync.Mutex
	state          State
	from, to       types.Language
	streamID       string
	callID         string
	quality        string
	mode           string
	chunkBytes     int
	buf            []byte
	lastTimestamp  int64
	processedBytes int64
	nextSeq        uint64

	deliverMu sync.Mutex
	reorder   reorderBuffer

	transportClosed atomic.Bool
	dispatched      atomic.Int64
	delivered       atomic.Int64
	dropped         atomic.Int64
	inflight        sync.WaitGroup
}

// SessionConfig holds the collaborators of a [Session].
type SessionConfig struct {
	ID         string
	From, To   types.Language
	ChunkBytes int
	Processor  Processor
	Pool       Submitter
	Sender     Sender
	Metrics    *observe.Metrics
}

// NewSession creates a session in the Opened state. From and To may be empty
// and bound later by [Session.Start].
func NewSession(ctx context.Context, cfg SessionConfig) *Session {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Session{
		ID:         cfg.ID,
		proc:       cfg.Processor,
		pool:       cfg.Pool,
		send:       cfg.Sender,
		metrics:    cfg.Metrics,
		log:        slog.With("session_id", cfg.ID),
		ctx:        context.WithoutCancel(ctx),
		from:       cfg.From,
		to:         cfg.To,
		quality:    QualityStandard,
		mode:       ModeTranslate,
		chunkBytes: cfg.ChunkBytes,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Languages returns the bound language pair.
func (s *Session) Languages() (from, to types.Language) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.from, s.to
}

// StreamID returns the transport stream id bound by Start.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamID
}

// Start binds the stream and call ids and moves the session to Streaming.
// Languages already bound take precedence over from and to. A session that
// is not Opened ignores the call.
func (s *Session) Start(streamID, callID string, from, to types.Language) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpened {
		return nil
	}
	if !s.from.Supported() {
		s.from = from
	}
	if !s.to.Supported() {
		s.to = to
	}
	if !s.from.Supported() || !s.to.Supported() {
		return fmt.Errorf("%w: got %q → %q", ErrMissingLanguages, s.from, s.to)
	}
	s.streamID, s.callID = streamID, callID
	s.state = StateStreaming
	s.log = s.log.With("stream_sid", streamID, "call_id", callID)
	s.log.Info("media stream started", "from", s.from, "to", s.to)
	return nil
}

// Media appends ulaw to the buffer and dispatches a chunk once the buffer
// holds at least the chunk size. Frames outside Streaming are ignored.
func (s *Session) Media(ulaw []byte, timestampMs int64) {
	s.mu.Lock()
	if s.state != StateStreaming || s.mode == ModePaused {
		s.mu.Unlock()
		return
	}
	s.buf = append(s.buf, ulaw...)
	s.lastTimestamp = timestampMs
	s.processedBytes += int64(len(ulaw))

	if len(s.buf) < s.chunkBytes {
		s.mu.Unlock()
		return
	}
	c := pipeline.Chunk{
		Seq:  s.nextSeq,
		Data: s.buf,
		From: s.from,
		To:   s.to,
	}
	s.nextSeq++
	s.buf = nil
	s.mu.Unlock()

	s.dispatch(c)
}

// Configure updates quality and mode. Empty values leave the current setting
// unchanged; unknown values are logged and ignored.
func (s *Session) Configure(quality, mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch quality {
	case "":
	case QualityLow:
		s.quality, s.chunkBytes = quality, 2*DefaultChunkBytes
	case QualityStandard:
		s.quality, s.chunkBytes = quality, DefaultChunkBytes
	case QualityHigh:
		s.quality, s.chunkBytes = quality, DefaultChunkBytes/2
	default:
		s.log.Warn("ignoring unknown quality level", "quality", quality)
	}

	switch mode {
	case "":
	case ModeTranslate, ModePaused:
		s.mode = mode
		if mode == ModePaused {
			s.buf = nil
		}
	default:
		s.log.Warn("ignoring unknown translation mode", "mode", mode)
	}
}

// Stop discards buffered audio and ignores all later frames. Chunks already
// dispatched still complete.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	discarded := len(s.buf)
	s.buf = nil
	s.state = StateStopped
	s.log.Info("media stream stopped", "discarded_bytes", discarded, "processed_bytes", s.processedBytes)
}

// CloseTransport marks the outbound transport gone. Results that complete
// afterwards are dropped.
func (s *Session) CloseTransport() {
	s.transportClosed.Store(true)
	s.Stop()
}

// Wait blocks until every dispatched chunk has completed.
func (s *Session) Wait() { s.inflight.Wait() }

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	st := Stats{ProcessedBytes: s.processedBytes, LastTimestamp: s.lastTimestamp}
	s.mu.Unlock()
	st.Dispatched = s.dispatched.Load()
	st.Delivered = s.delivered.Load()
	st.Dropped = s.dropped.Load()
	return st
}

func (s *Session) dispatch(c pipeline.Chunk) {
	s.dispatched.Add(1)
	s.inflight.Add(1)
	err := s.pool.Submit(s.ctx, func(ctx context.Context) {
		defer s.inflight.Done()
		if err := ctx.Err(); err != nil {
			s.metrics.RecordChunk(s.ctx, observe.ChunkDropped)
			s.complete(pipeline.Result{Seq: c.Seq, Outcome: pipeline.OutcomeDropped, Reason: err.Error()})
			return
		}
		res, err := s.proc.Process(ctx, c)
		if err != nil {
			s.log.Warn("chunk not translated", "seq", c.Seq, "outcome", res.Outcome, "reason", res.Reason, "err", err)
		}
		res.Seq = c.Seq
		s.complete(res)
	})
	if err != nil {
		s.inflight.Done()
		s.log.Warn("dropping chunk", "seq", c.Seq, "err", err)
		s.metrics.RecordChunk(s.ctx, observe.ChunkDropped)
		s.complete(pipeline.Result{Seq: c.Seq, Outcome: pipeline.OutcomeDropped, Reason: err.Error()})
	}
}

// complete parks res and delivers every result now in sequence.
func (s *Session) complete(res pipeline.Result) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	for _, r := range s.reorder.add(res) {
		if r.Outcome == pipeline.OutcomeDropped {
			s.dropped.Add(1)
		}
		if r.Outcome != pipeline.OutcomeDelivered || len(r.Audio) == 0 {
			continue
		}
		if s.transportClosed.Load() {
			s.dropped.Add(1)
			continue
		}
		s.mu.Lock()
		streamID, to := s.streamID, s.to
		s.mu.Unlock()
		if err := s.send.Send(s.ctx, streamID, to, r.Audio); err != nil {
			s.dropped.Add(1)
			s.log.Warn("failed to deliver translated audio", "seq", r.Seq, "err", err)
			continue
		}
		s.delivered.Add(1)
	}
}
