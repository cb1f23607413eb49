package mediastream

import (
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/callbridge/internal/observe"
	"github.com/MrWong99/callbridge/pkg/types"
)

// Wire event names.
const (
	EventConnected     = "connected"
	EventStart         = "start"
	EventMedia         = "media"
	EventStop          = "stop"
	EventConfiguration = "configuration"
	EventMark          = "mark"
)

// inboundMessage is one JSON text frame from the telephony media stream.
type inboundMessage struct {
	Event         string              `json:"event"`
	StreamSID     string              `json:"streamSid,omitempty"`
	Start         *startPayload       `json:"start,omitempty"`
	Media         *mediaPayload       `json:"media,omitempty"`
	Configuration *configurationFrame `json:"configuration,omitempty"`
}

type startPayload struct {
	StreamSID    string            `json:"streamSid"`
	CallSID      string            `json:"callSid"`
	CustomParams map[string]string `json:"customParameters"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type configurationFrame struct {
	QualityLevel    string `json:"qualityLevel,omitempty"`
	TranslationMode string `json:"translationMode,omitempty"`
}

// outboundMessage carries translated audio back to the transport.
type outboundMessage struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Language  types.Language  `json:"language"`
	Media     outboundPayload `json:"media"`
}

type outboundPayload struct {
	Payload string `json:"payload"`
}

// Config tunes a [Handler].
type Config struct {
	// ChunkBytes is the buffered byte count that triggers a chunk.
	// Default: [DefaultChunkBytes].
	ChunkBytes int

	// WriteTimeout bounds one outbound frame write. Default: 5s.
	WriteTimeout time.Duration

	// OriginPatterns is passed to websocket.Accept. Telephony providers do
	// not send an Origin header, so the default accepts any.
	OriginPatterns []string
}

// Handler is an [http.Handler] that upgrades to a WebSocket and runs one
// [Session] per connection.
type Handler struct {
	proc    Processor
	pool    Submitter
	cfg     Config
	metrics *observe.Metrics

	active atomic.Int64
}

// HandlerOption configures a [Handler].
type HandlerOption func(*Handler)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// NewHandler creates a Handler that processes chunks with proc on pool.
func NewHandler(proc Processor, pool Submitter, cfg Config, opts ...HandlerOption) *Handler {
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	h := &Handler{proc: proc, pool: pool, cfg: cfg}
	for _, o := range opts {
		o(h)
	}
	if h.metrics == nil {
		h.metrics = observe.DefaultMetrics()
	}
	return h
}

// ActiveSessions returns the number of open connections.
func (h *Handler) ActiveSessions() int { return int(h.active.Load()) }

// ServeHTTP implements [http.Handler]. The optional query parameters "from"
// and "to" bind the language pair; otherwise it comes from the start event's
// custom parameters.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns}
	if len(opts.OriginPatterns) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Warn("mediastream: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	from, _ := types.ParseLanguage(r.URL.Query().Get("from"))
	to, _ := types.ParseLanguage(r.URL.Query().Get("to"))

	ctx := r.Context()
	sender := &wsSender{conn: conn, timeout: h.cfg.WriteTimeout}
	sess := NewSession(ctx, SessionConfig{
		ID:         uuid.NewString(),
		From:       from,
		To:         to,
		ChunkBytes: h.cfg.ChunkBytes,
		Processor:  h.proc,
		Pool:       h.pool,
		Sender:     sender,
		Metrics:    h.metrics,
	})

	h.active.Add(1)
	h.metrics.ActiveSessions.Add(ctx, 1)
	defer func() {
		sess.CloseTransport()
		h.active.Add(-1)
		h.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
		st := sess.Stats()
		sess.log.Info("media stream closed",
			"processed_bytes", st.ProcessedBytes,
			"dispatched", st.Dispatched,
			"delivered", st.Delivered,
			"dropped", st.Dropped)
	}()

	err = h.readLoop(ctx, conn, sess)
	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway,
		errors.Is(err, context.Canceled):
	default:
		sess.log.Debug("media stream read ended", "err", err)
	}
}

// readLoop is the single reader of conn. It returns nil when the peer
// closes cleanly after a stop event.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if sess.State() == StateStopped && websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := h.handleFrame(sess, data); err != nil {
			return err
		}
	}
}

// handleFrame applies one wire event to sess. Malformed frames are logged and
// ignored. A start without a language pair leaves the session Opened, so media
// is dropped until a later start binds the pair.
func (h *Handler) handleFrame(sess *Session, data []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		sess.log.Warn("ignoring malformed frame", "err", err)
		return nil
	}

	switch msg.Event {
	case EventConnected:
		sess.log.Debug("media stream connected")

	case EventStart:
		if msg.Start == nil {
			sess.log.Warn("ignoring start frame without payload")
			return nil
		}
		streamID := cmp.Or(msg.Start.StreamSID, msg.StreamSID)
		from, _ := types.ParseLanguage(msg.Start.CustomParams["from"])
		to, _ := types.ParseLanguage(msg.Start.CustomParams["to"])
		if err := sess.Start(streamID, msg.Start.CallSID, from, to); err != nil {
			sess.log.Warn("media ignored until a language pair is bound", "stream_sid", streamID, "err", err)
		}

	case EventMedia:
		if msg.Media == nil || msg.Media.Payload == "" {
			return nil
		}
		audio, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
		if err != nil {
			sess.log.Warn("ignoring media frame with bad payload", "err", err)
			return nil
		}
		var ts int64
		if msg.Media.Timestamp != "" {
			if ts, err = strconv.ParseInt(msg.Media.Timestamp, 10, 64); err != nil {
				sess.log.Debug("bad media timestamp", "timestamp", msg.Media.Timestamp)
			}
		}
		sess.Media(audio, ts)

	case EventStop:
		sess.Stop()

	case EventConfiguration:
		if msg.Configuration != nil {
			sess.Configure(msg.Configuration.QualityLevel, msg.Configuration.TranslationMode)
		}

	case EventMark:

	default:
		sess.log.Debug("ignoring unknown event", "event", msg.Event)
	}
	return nil
}

// wsSender writes outbound media frames. Writes are serialised by mu.
type wsSender struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSender) Send(ctx context.Context, streamID string, lang types.Language, ulaw []byte) error {
	data, err := json.Marshal(outboundMessage{
		Event:     EventMedia,
		StreamSID: streamID,
		Language:  lang,
		Media:     outboundPayload{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	})
	if err != nil {
		return fmt.Errorf("mediastream: encode outbound frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("mediastream: write outbound frame: %w", err)
	}
	return nil
}
