package mediastream_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/callbridge/internal/mediastream"
	"github.com/MrWong99/callbridge/internal/pipeline"
	"github.com/MrWong99/callbridge/pkg/audio"
	sttmock "github.com/MrWong99/callbridge/pkg/provider/stt/mock"
	translatemock "github.com/MrWong99/callbridge/pkg/provider/translate/mock"
	ttsmock "github.com/MrWong99/callbridge/pkg/provider/tts/mock"
)

type stack struct {
	stt *sttmock.Provider
	tr  *translatemock.Provider
	tts *ttsmock.Provider
	h   *mediastream.Handler
	srv *httptest.Server
}

func newStack(t *testing.T, transcript string) *stack {
	t.Helper()
	s := &stack{
		stt: &sttmock.Provider{Text: transcript},
		tr:  &translatemock.Provider{Result: "hola"},
		tts: &ttsmock.Provider{Frame: audio.Frame{
			Data:       make([]byte, 800),
			Codec:      audio.CodecULaw8k,
			SampleRate: 8000,
		}},
	}
	p := pipeline.New(s.stt, s.tr, s.tts)
	pool := pipeline.NewPool(4, 16)
	s.h = mediastream.NewHandler(p, pool, mediastream.Config{})
	s.srv = httptest.NewServer(s.h)
	t.Cleanup(func() {
		s.srv.Close()
		pool.Close()
	})
	return s
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/media-stream" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func start(streamSid string, params map[string]string) map[string]any {
	return map[string]any{
		"event":     "start",
		"streamSid": streamSid,
		"start": map[string]any{
			"streamSid":        streamSid,
			"callSid":          "CA123",
			"customParameters": params,
		},
	}
}

func media(payload []byte, ts int) map[string]any {
	return map[string]any{
		"event": "media",
		"media": map[string]any{
			"payload":   base64.StdEncoding.EncodeToString(payload),
			"timestamp": strconv.Itoa(ts),
		},
	}
}

// sendSecondOfAudio sends one second of μ-law audio in 20 ms frames.
func sendSecondOfAudio(t *testing.T, conn *websocket.Conn, sample byte) {
	t.Helper()
	frame := bytes.Repeat([]byte{sample}, 160)
	for i := range 50 {
		send(t, conn, media(frame, i*20))
	}
}

type outbound struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Language  string `json:"language"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func TestHandler_TranslatesSpeech(t *testing.T) {
	t.Parallel()
	s := newStack(t, "hello")
	conn := dial(t, s.srv, "?from=en&to=es")

	send(t, conn, map[string]any{"event": "connected", "protocol": "Call"})
	send(t, conn, start("MZ42", nil))
	sendSecondOfAudio(t, conn, 0x7F)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Fatalf("message type = %v", typ)
	}
	var out outbound
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Event != "media" || out.StreamSID != "MZ42" || out.Language != "es" {
		t.Errorf("outbound = %+v", out)
	}
	payload, err := base64.StdEncoding.DecodeString(out.Media.Payload)
	if err != nil || len(payload) != 800 {
		t.Errorf("payload len = %d, err = %v", len(payload), err)
	}

	if calls := s.tts.Recorded(); len(calls) != 1 || calls[0].Text != "hola" || calls[0].Language != "es" {
		t.Errorf("tts calls = %+v", calls)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestHandler_SilenceProducesNoAudio(t *testing.T) {
	t.Parallel()
	s := newStack(t, "")
	conn := dial(t, s.srv, "")

	send(t, conn, start("MZ1", map[string]string{"from": "en-US", "to": "fr"}))
	sendSecondOfAudio(t, conn, 0xFF)

	deadline := time.Now().Add(5 * time.Second)
	for s.stt.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.stt.CallCount() != 1 {
		t.Fatalf("stt calls = %d, want 1", s.stt.CallCount())
	}
	if got := s.stt.Recorded()[0].Language; got != "en" {
		t.Errorf("stt language = %q, want en", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, data, err := conn.Read(ctx); err == nil {
		t.Errorf("unexpected outbound frame for silence: %s", data)
	}
	if s.tr.CallCount() != 0 || s.tts.CallCount() != 0 {
		t.Errorf("translate=%d tts=%d, want no calls", s.tr.CallCount(), s.tts.CallCount())
	}
}

func TestHandler_StopDiscardsBufferedAudio(t *testing.T) {
	t.Parallel()
	s := newStack(t, "hello")
	conn := dial(t, s.srv, "?from=en&to=es")

	send(t, conn, start("MZ1", nil))
	send(t, conn, media(make([]byte, 4000), 0))
	send(t, conn, map[string]any{"event": "stop", "streamSid": "MZ1"})
	send(t, conn, media(make([]byte, 8000), 500))
	send(t, conn, map[string]any{"event": "mark", "mark": map[string]string{"name": "x"}})
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for s.h.ActiveSessions() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.h.ActiveSessions() != 0 {
		t.Fatal("session still active after close")
	}
	if s.stt.CallCount() != 0 {
		t.Errorf("stt called %d times, want 0", s.stt.CallCount())
	}
}

func TestHandler_MalformedFramesIgnored(t *testing.T) {
	t.Parallel()
	s := newStack(t, "hello")
	conn := dial(t, s.srv, "?from=en&to=es")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	send(t, conn, map[string]any{"event": "media", "media": map[string]string{"payload": "!!!"}})
	send(t, conn, map[string]any{"event": "bogus"})
	send(t, conn, start("MZ7", nil))
	sendSecondOfAudio(t, conn, 0x7F)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read after malformed frames: %v", err)
	}
	var out outbound
	if err := json.Unmarshal(data, &out); err != nil || out.StreamSID != "MZ7" {
		t.Errorf("outbound = %s (err %v)", data, err)
	}
}

func TestHandler_MissingLanguagesKeepsConnection(t *testing.T) {
	t.Parallel()
	s := newStack(t, "hello")
	conn := dial(t, s.srv, "?from=en")

	// Without a target language the stream stays open and audio is dropped.
	send(t, conn, start("MZ1", nil))
	sendSecondOfAudio(t, conn, 0x7F)

	// A later start carrying the pair binds it.
	send(t, conn, start("MZ2", map[string]string{"to": "es"}))
	sendSecondOfAudio(t, conn, 0x7F)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out outbound
	if err := json.Unmarshal(data, &out); err != nil || out.StreamSID != "MZ2" || out.Language != "es" {
		t.Errorf("outbound = %s (err %v)", data, err)
	}
	if n := s.stt.CallCount(); n != 1 {
		t.Errorf("stt calls = %d, want 1 (audio before the pair was bound must be dropped)", n)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
