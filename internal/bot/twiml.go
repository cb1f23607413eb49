package bot

import (
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrWong99/callbridge/pkg/types"
)

// A bot is two call legs. The manager dials the bridge number; the answered
// outbound leg (the bot leg) runs [StreamTwiML] and carries a bidirectional
// media stream, while the bridge number's inbound leg runs [GatherTwiML],
// reads the join code the bot leg plays and is put into the conference by
// [ConferenceTwiML]. Audio the media stream sends to the bot leg therefore
// reaches the conference through the bridge leg.

const (
	joinCodeDigits = 10

	// gatherTimeout is how long the bridge leg waits for the join code, in
	// seconds.
	gatherTimeout = 15
)

type twimlStreamResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Play    twimlPlay    `xml:"Play"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlPlay struct {
	Digits string `xml:"digits,attr"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL    string       `xml:"url,attr"`
	Params []twimlParam `xml:"Parameter"`
}

type twimlParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlGatherResponse struct {
	XMLName xml.Name    `xml:"Response"`
	Gather  twimlGather `xml:"Gather"`
	Hangup  struct{}    `xml:"Hangup"`
}

type twimlGather struct {
	Input       string `xml:"input,attr"`
	FinishOnKey string `xml:"finishOnKey,attr"`
	Timeout     int    `xml:"timeout,attr"`
	Action      string `xml:"action,attr"`
	Method      string `xml:"method,attr"`
}

type twimlConferenceResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Dial    twimlDial `xml:"Dial"`
}

type twimlDial struct {
	Conference twimlConference `xml:"Conference"`
}

type twimlConference struct {
	StartOnEnter bool   `xml:"startConferenceOnEnter,attr"`
	EndOnExit    bool   `xml:"endConferenceOnExit,attr"`
	Beep         bool   `xml:"beep,attr"`
	Name         string `xml:",chardata"`
}

type twimlHangupResponse struct {
	XMLName xml.Name `xml:"Response"`
	Hangup  struct{} `xml:"Hangup"`
}

// JoinCode derives the numeric code the bot leg plays to the bridge leg from
// its callback token.
func JoinCode(token string) (string, error) {
	if len(token) < 8 {
		return "", fmt.Errorf("%w: token too short for a join code", ErrInvalidToken)
	}
	raw, err := hex.DecodeString(token[:8])
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	n := uint64(raw[0])<<24 | uint64(raw[1])<<16 | uint64(raw[2])<<8 | uint64(raw[3])
	return fmt.Sprintf("%0*d", joinCodeDigits, n), nil
}

// StreamTwiML renders the call instructions for the answered bot leg: play
// the join code as DTMF, then connect a bidirectional media stream tagged
// with the language pair.
func StreamTwiML(streamURL, conferenceID string, source, target types.Language, joinCode string) ([]byte, error) {
	if streamURL == "" || conferenceID == "" || joinCode == "" {
		return nil, errors.New("bot: stream url, conference and join code are required")
	}
	return renderTwiML(twimlStreamResponse{
		// Each w pauses half a second so the bridge leg's Gather is listening.
		Play: twimlPlay{Digits: "ww" + joinCode + "#"},
		Connect: twimlConnect{Stream: twimlStream{
			URL: streamURL,
			Params: []twimlParam{
				{Name: "from", Value: string(source)},
				{Name: "to", Value: string(target)},
				{Name: ParamConference, Value: conferenceID},
			},
		}},
	})
}

// GatherTwiML renders the bridge number's inbound-call instructions: collect
// the join code and post it to actionURL, hang up when none arrives.
func GatherTwiML(actionURL string) ([]byte, error) {
	if actionURL == "" {
		return nil, errors.New("bot: gather action url is required")
	}
	return renderTwiML(twimlGatherResponse{Gather: twimlGather{
		Input:       "dtmf",
		FinishOnKey: "#",
		Timeout:     gatherTimeout,
		Action:      actionURL,
		Method:      "POST",
	}})
}

// ConferenceTwiML puts the bridge leg into the conference silently. The bot
// neither starts nor ends the conference.
func ConferenceTwiML(conferenceID string) ([]byte, error) {
	if conferenceID == "" {
		return nil, errors.New("bot: conference is required")
	}
	return renderTwiML(twimlConferenceResponse{Dial: twimlDial{Conference: twimlConference{
		Name: conferenceID,
	}}})
}

// HangupTwiML ends the call.
func HangupTwiML() []byte {
	out, _ := renderTwiML(twimlHangupResponse{})
	return out
}

func renderTwiML(v any) ([]byte, error) {
	out, err := xml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bot: render twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// parseJoinCode validates a join code received from the bridge leg.
func parseJoinCode(digits string) (string, bool) {
	if len(digits) != joinCodeDigits {
		return "", false
	}
	if _, err := strconv.ParseUint(digits, 10, 64); err != nil {
		return "", false
	}
	return digits, true
}
