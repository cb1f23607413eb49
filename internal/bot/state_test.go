package bot

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestMapStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status        string
		want          State
		wantTransient bool
		wantOK        bool
	}{
		{"queued", StatePending, false, true},
		{"initiated", StatePending, false, true},
		{"ringing", StateDialed, false, true},
		{"answered", StateJoined, false, true},
		{"in-progress", StateJoined, false, true},
		{StatusParticipantJoin, StateActive, false, true},
		{"completed", StateEnded, false, true},
		{"canceled", StateEnded, false, true},
		{"busy", StateFailed, true, true},
		{"no-answer", StateFailed, true, true},
		{"failed", StateFailed, false, true},
		{"exploded", StatePending, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			t.Parallel()
			got, transient, ok := MapStatus(tt.status)
			if got != tt.want || transient != tt.wantTransient || ok != tt.wantOK {
				t.Errorf("MapStatus(%q) = (%v, %v, %v), want (%v, %v, %v)",
					tt.status, got, transient, ok, tt.want, tt.wantTransient, tt.wantOK)
			}
		})
	}
}

func TestState_Terminal(t *testing.T) {
	t.Parallel()
	for s := StatePending; s <= StateFailed; s++ {
		want := s == StateEnded || s == StateFailed
		if s.Terminal() != want {
			t.Errorf("%v.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
		if s.String() == "unknown" {
			t.Errorf("State(%d) has no name", s)
		}
	}
}

func TestAudioPath(t *testing.T) {
	t.Parallel()

	p, err := AudioPath("room-1", CallerToTarget, "chunk-0001.wav")
	if err != nil {
		t.Fatalf("AudioPath: %v", err)
	}
	if p != "/audio/conference/room-1/caller-to-target/chunk-0001.wav" {
		t.Errorf("AudioPath = %q", p)
	}

	conf, dir, file, err := ParseAudioPath(p)
	if err != nil {
		t.Fatalf("ParseAudioPath: %v", err)
	}
	if conf != "room-1" || dir != CallerToTarget || file != "chunk-0001.wav" {
		t.Errorf("ParseAudioPath = (%q, %q, %q)", conf, dir, file)
	}

	bad := []struct {
		conf string
		dir  Direction
		file string
	}{
		{"", CallerToTarget, "a.wav"},
		{"room", "sideways", "a.wav"},
		{"room", TargetToCaller, "../etc/passwd"},
		{"..", TargetToCaller, "a.wav"},
	}
	for _, b := range bad {
		if _, err := AudioPath(b.conf, b.dir, b.file); err == nil {
			t.Errorf("AudioPath(%q, %q, %q) succeeded", b.conf, b.dir, b.file)
		}
	}

	for _, p := range []string{"/other/room/caller-to-target/a.wav", "/audio/conference/room/a.wav", "/audio/conference/room/up/a.wav"} {
		if _, _, _, err := ParseAudioPath(p); err == nil {
			t.Errorf("ParseAudioPath(%q) succeeded", p)
		}
	}
}

func TestStreamTwiML(t *testing.T) {
	t.Parallel()

	out, err := StreamTwiML("wss://bridge.example.com/media-stream", "room&1", "en", "es", "0123456789")
	if err != nil {
		t.Fatalf("StreamTwiML: %v", err)
	}
	if !strings.HasPrefix(string(out), xml.Header) {
		t.Error("missing XML header")
	}
	if strings.Contains(string(out), "<Start>") || strings.Contains(string(out), "<Dial>") {
		t.Errorf("bot leg must only connect a stream:\n%s", out)
	}

	var doc struct {
		Play struct {
			Digits string `xml:"digits,attr"`
		} `xml:"Play"`
		Connect struct {
			Stream struct {
				URL    string `xml:"url,attr"`
				Params []struct {
					Name  string `xml:"name,attr"`
					Value string `xml:"value,attr"`
				} `xml:"Parameter"`
			} `xml:"Stream"`
		} `xml:"Connect"`
	}
	if err := xml.Unmarshal(out, &doc); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if doc.Play.Digits != "ww0123456789#" {
		t.Errorf("digits = %q", doc.Play.Digits)
	}
	if doc.Connect.Stream.URL != "wss://bridge.example.com/media-stream" {
		t.Errorf("stream url = %q", doc.Connect.Stream.URL)
	}
	params := map[string]string{}
	for _, p := range doc.Connect.Stream.Params {
		params[p.Name] = p.Value
	}
	if params["from"] != "en" || params["to"] != "es" || params[ParamConference] != "room&1" {
		t.Errorf("params = %v", params)
	}

	if _, err := StreamTwiML("", "room", "en", "es", "0123456789"); err == nil {
		t.Error("empty stream url accepted")
	}
	if _, err := StreamTwiML("wss://x", "room", "en", "es", ""); err == nil {
		t.Error("empty join code accepted")
	}
}

func TestGatherAndConferenceTwiML(t *testing.T) {
	t.Parallel()

	out, err := GatherTwiML("https://bridge.example.com/bridge/join")
	if err != nil {
		t.Fatalf("GatherTwiML: %v", err)
	}
	var gather struct {
		Gather struct {
			Input       string `xml:"input,attr"`
			FinishOnKey string `xml:"finishOnKey,attr"`
			Action      string `xml:"action,attr"`
		} `xml:"Gather"`
	}
	if err := xml.Unmarshal(out, &gather); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if gather.Gather.Input != "dtmf" || gather.Gather.FinishOnKey != "#" || gather.Gather.Action != "https://bridge.example.com/bridge/join" {
		t.Errorf("gather = %+v", gather.Gather)
	}

	out, err = ConferenceTwiML("room&1")
	if err != nil {
		t.Fatalf("ConferenceTwiML: %v", err)
	}
	var conf struct {
		Dial struct {
			Conference struct {
				StartOnEnter string `xml:"startConferenceOnEnter,attr"`
				EndOnExit    string `xml:"endConferenceOnExit,attr"`
				Name         string `xml:",chardata"`
			} `xml:"Conference"`
		} `xml:"Dial"`
	}
	if err := xml.Unmarshal(out, &conf); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	c := conf.Dial.Conference
	if c.Name != "room&1" || c.StartOnEnter != "false" || c.EndOnExit != "false" {
		t.Errorf("conference = %+v", c)
	}
	if !strings.Contains(string(HangupTwiML()), "<Hangup>") {
		t.Errorf("hangup = %s", HangupTwiML())
	}
}

func TestJoinCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		token   string
		want    string
		wantErr bool
	}{
		{token: "00000001deadbeef", want: "0000000001"},
		{token: "ffffffff00000000", want: "4294967295"},
		{token: "abc", wantErr: true},
		{token: "zzzzzzzz00000000", wantErr: true},
	}
	for _, tt := range tests {
		got, err := JoinCode(tt.token)
		if (err != nil) != tt.wantErr {
			t.Errorf("JoinCode(%q) err = %v", tt.token, err)
			continue
		}
		if got != tt.want {
			t.Errorf("JoinCode(%q) = %q, want %q", tt.token, got, tt.want)
		}
		if !tt.wantErr {
			if _, ok := parseJoinCode(got); !ok {
				t.Errorf("parseJoinCode rejects %q", got)
			}
		}
	}
	if _, ok := parseJoinCode("12345"); ok {
		t.Error("short code accepted")
	}
}
