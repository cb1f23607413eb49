package bot

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Direction is the translation direction of a recorded audio file.
type Direction string

const (
	CallerToTarget Direction = "caller-to-target"
	TargetToCaller Direction = "target-to-caller"
)

// Valid reports whether d is one of the known directions.
func (d Direction) Valid() bool { return d == CallerToTarget || d == TargetToCaller }

const audioPrefix = "/audio/conference/"

// AudioPath builds the URL path under which a conference audio file is
// served: /audio/conference/{conferenceID}/{direction}/{filename}.
func AudioPath(conferenceID string, dir Direction, filename string) (string, error) {
	if err := checkSegment("conference id", conferenceID); err != nil {
		return "", err
	}
	if !dir.Valid() {
		return "", fmt.Errorf("bot: invalid direction %q", dir)
	}
	if err := checkSegment("filename", filename); err != nil {
		return "", err
	}
	return audioPrefix + conferenceID + "/" + string(dir) + "/" + filename, nil
}

// ParseAudioPath is the inverse of [AudioPath].
func ParseAudioPath(p string) (conferenceID string, dir Direction, filename string, err error) {
	rest, ok := strings.CutPrefix(path.Clean(p), audioPrefix)
	if !ok {
		return "", "", "", fmt.Errorf("bot: not an audio path: %q", p)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("bot: malformed audio path: %q", p)
	}
	if _, err := AudioPath(parts[0], Direction(parts[1]), parts[2]); err != nil {
		return "", "", "", err
	}
	return parts[0], Direction(parts[1]), parts[2], nil
}

func checkSegment(what, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("bot: %s is required", what)
	case s == "." || s == "..", strings.ContainsAny(s, `/\`):
		return errors.New("bot: " + what + " must be a single path segment")
	}
	return nil
}
