package bot

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/MrWong99/callbridge/pkg/types"
)

const (
	// tokenLength is the number of hex characters kept from the digest.
	tokenLength = 16

	// DefaultCallbackSkew is the accepted distance between the token
	// timestamp and the verifier's clock.
	DefaultCallbackSkew = 5 * time.Minute
)

// Callback query parameter names.
const (
	ParamConference = "conference"
	ParamTarget     = "target"
	ParamSource     = "source"
	ParamTimestamp  = "ts"
	ParamToken      = "token"
)

// CallbackParams are the values carried by a signed callback URL.
type CallbackParams struct {
	ConferenceID   string
	TargetLanguage types.Language
	SourceLanguage types.Language
	Timestamp      time.Time
	Token          string
}

// SignCallback derives the callback token for the given fields. Each field
// enters the digest prefixed with its length, so no two field splits hash
// alike; only the first 16 hex characters are kept.
func SignCallback(secret, conferenceID string, target, source types.Language, ts time.Time) string {
	h := sha256.New()
	for _, f := range []string{secret, conferenceID, string(target), string(source), strconv.FormatInt(ts.Unix(), 10)} {
		fmt.Fprintf(h, "%d:%s", len(f), f)
	}
	return hex.EncodeToString(h.Sum(nil))[:tokenLength]
}

// VerifyCallback recomputes the token for p and compares it in constant time.
// Tokens whose timestamp is further than skew from now are rejected.
func VerifyCallback(secret string, p CallbackParams, now time.Time, skew time.Duration) error {
	if skew <= 0 {
		skew = DefaultCallbackSkew
	}
	if d := now.Sub(p.Timestamp); d > skew || d < -skew {
		return fmt.Errorf("%w: timestamp outside allowed window", ErrInvalidToken)
	}
	want := SignCallback(secret, p.ConferenceID, p.TargetLanguage, p.SourceLanguage, p.Timestamp)
	if subtle.ConstantTimeCompare([]byte(want), []byte(p.Token)) != 1 {
		return fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}
	return nil
}

// CallbackURL appends the signed callback parameters to base.
func CallbackURL(base, secret, conferenceID string, target, source types.Language, ts time.Time) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("bot: parse callback base url: %w", err)
	}
	q := u.Query()
	q.Set(ParamConference, conferenceID)
	q.Set(ParamTarget, string(target))
	q.Set(ParamSource, string(source))
	q.Set(ParamTimestamp, strconv.FormatInt(ts.Unix(), 10))
	q.Set(ParamToken, SignCallback(secret, conferenceID, target, source, ts))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseCallback extracts [CallbackParams] from callback query values. It does
// not verify the token.
func ParseCallback(q url.Values) (CallbackParams, error) {
	p := CallbackParams{
		ConferenceID:   q.Get(ParamConference),
		TargetLanguage: types.Language(q.Get(ParamTarget)),
		SourceLanguage: types.Language(q.Get(ParamSource)),
		Token:          q.Get(ParamToken),
	}
	if p.ConferenceID == "" || p.Token == "" {
		return CallbackParams{}, fmt.Errorf("%w: missing conference or token", ErrInvalidToken)
	}
	sec, err := strconv.ParseInt(q.Get(ParamTimestamp), 10, 64)
	if err != nil {
		return CallbackParams{}, fmt.Errorf("%w: bad timestamp: %w", ErrInvalidToken, err)
	}
	p.Timestamp = time.Unix(sec, 0)
	return p, nil
}
