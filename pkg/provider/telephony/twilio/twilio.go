// Package twilio implements telephony.Provider on the Twilio Programmable
// Voice REST API (2010-04-01).
//
// Conference arguments may be either a conference SID ("CF...") or the
// conference friendly name used when the conference was created by TwiML;
// friendly names are resolved to the in-progress conference with that name.
package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
)

const (
	providerName = "twilio"

	// DefaultAPIBaseURL is the Twilio REST API base URL.
	DefaultAPIBaseURL = "https://api.twilio.com/2010-04-01"
)

// Call status values reported in status callbacks.
const (
	CallStatusQueued     = "queued"
	CallStatusInitiated  = "initiated"
	CallStatusRinging    = "ringing"
	CallStatusAnswered   = "answered"
	CallStatusInProgress = "in-progress"
	CallStatusCompleted  = "completed"
	CallStatusBusy       = "busy"
	CallStatusFailed     = "failed"
	CallStatusNoAnswer   = "no-answer"
	CallStatusCanceled   = "canceled"
)

var _ telephony.Provider = (*Provider)(nil)

// Config configures the Twilio provider. Empty credentials fall back to the
// TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN environment variables.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string

	// StatusCallback receives call progress events for bot calls.
	StatusCallback string

	// RingTimeout bounds how long the bot call rings before giving up.
	RingTimeout time.Duration

	HTTPClient *http.Client
}

// Provider is a Twilio REST client implementing telephony.Provider.
type Provider struct {
	accountSID     string
	authToken      string
	baseURL        string
	statusCallback string
	ringTimeout    time.Duration
	httpClient     *http.Client
}

// New creates a Twilio provider.
func New(cfg Config) (*Provider, error) {
	accountSID := cfg.AccountSID
	if accountSID == "" {
		accountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if accountSID == "" {
		return nil, errors.New("twilio: TWILIO_ACCOUNT_SID is required")
	}

	authToken := cfg.AuthToken
	if authToken == "" {
		authToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if authToken == "" {
		return nil, errors.New("twilio: TWILIO_AUTH_TOKEN is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		accountSID:     accountSID,
		authToken:      authToken,
		baseURL:        baseURL,
		statusCallback: cfg.StatusCallback,
		ringTimeout:    cfg.RingTimeout,
		httpClient:     httpClient,
	}, nil
}

// call is the subset of the Twilio Call resource used here.
type call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// conference is the subset of the Twilio Conference resource used here.
type conference struct {
	SID          string `json:"sid"`
	FriendlyName string `json:"friendly_name"`
	Status       string `json:"status"`
}

type conferenceList struct {
	Conferences []conference `json:"conferences"`
}

// participant is the subset of the Twilio Participant resource used here.
type participant struct {
	CallSID       string `json:"call_sid"`
	ConferenceSID string `json:"conference_sid"`
	Label         string `json:"label"`
	Muted         bool   `json:"muted"`
	Hold          bool   `json:"hold"`
	Status        string `json:"status"`
}

type participantList struct {
	Participants []participant `json:"participants"`
}

// apiError is the JSON error body returned by the Twilio API.
type apiError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

// CreateCall implements telephony.Provider.
func (p *Provider) CreateCall(ctx context.Context, to, from, callbackURL string) (string, error) {
	data := url.Values{}
	data.Set("To", to)
	data.Set("From", from)
	data.Set("Url", callbackURL)
	if p.statusCallback != "" {
		data.Set("StatusCallback", p.statusCallback)
		for _, ev := range []string{CallStatusInitiated, CallStatusRinging, CallStatusAnswered, CallStatusCompleted} {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if p.ringTimeout > 0 {
		data.Set("Timeout", strconv.Itoa(int(p.ringTimeout.Seconds())))
	}

	var c call
	if err := p.post(ctx, "create call", p.accountURL("Calls.json"), data, &c); err != nil {
		return "", err
	}
	return c.SID, nil
}

// DeleteParticipant implements telephony.Provider.
func (p *Provider) DeleteParticipant(ctx context.Context, conferenceID, callID string) error {
	sid, err := p.resolveConference(ctx, conferenceID)
	if err != nil {
		return err
	}
	endpoint := p.accountURL("Conferences", sid, "Participants", callID+".json")
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	return p.do(req, "delete participant", nil)
}

// UpdateParticipant implements telephony.Provider.
func (p *Provider) UpdateParticipant(ctx context.Context, conferenceID, callID string, muted bool) error {
	sid, err := p.resolveConference(ctx, conferenceID)
	if err != nil {
		return err
	}
	data := url.Values{}
	data.Set("Muted", strconv.FormatBool(muted))
	return p.post(ctx, "update participant", p.accountURL("Conferences", sid, "Participants", callID+".json"), data, nil)
}

// ListParticipants implements telephony.Provider.
func (p *Provider) ListParticipants(ctx context.Context, conferenceID string) ([]telephony.Participant, error) {
	sid, err := p.resolveConference(ctx, conferenceID)
	if err != nil {
		return nil, err
	}
	var list participantList
	if err := p.get(ctx, "list participants", p.accountURL("Conferences", sid, "Participants.json"), &list); err != nil {
		return nil, err
	}
	out := make([]telephony.Participant, 0, len(list.Participants))
	for _, pt := range list.Participants {
		out = append(out, telephony.Participant{
			CallID:       pt.CallSID,
			ConferenceID: pt.ConferenceSID,
			Label:        pt.Label,
			Muted:        pt.Muted,
			Hold:         pt.Hold,
			Status:       pt.Status,
		})
	}
	return out, nil
}

// FetchConference implements telephony.Provider.
func (p *Provider) FetchConference(ctx context.Context, conferenceID string) (telephony.ConferenceStatus, error) {
	if !isConferenceSID(conferenceID) {
		c, err := p.findByName(ctx, conferenceID)
		if err != nil {
			return "", err
		}
		return telephony.ConferenceStatus(c.Status), nil
	}
	var c conference
	if err := p.get(ctx, "fetch conference", p.accountURL("Conferences", conferenceID+".json"), &c); err != nil {
		return "", err
	}
	return telephony.ConferenceStatus(c.Status), nil
}

// resolveConference maps a friendly name to its in-progress conference SID.
func (p *Provider) resolveConference(ctx context.Context, conferenceID string) (string, error) {
	if isConferenceSID(conferenceID) {
		return conferenceID, nil
	}
	c, err := p.findByName(ctx, conferenceID)
	if err != nil {
		return "", err
	}
	return c.SID, nil
}

func (p *Provider) findByName(ctx context.Context, name string) (conference, error) {
	q := url.Values{}
	q.Set("FriendlyName", name)
	q.Set("Status", string(telephony.ConferenceInProgress))

	var list conferenceList
	if err := p.get(ctx, "find conference", p.accountURL("Conferences.json")+"?"+q.Encode(), &list); err != nil {
		return conference{}, err
	}
	if len(list.Conferences) == 0 {
		return conference{}, &provider.Error{
			Provider:   providerName,
			Op:         "find conference",
			StatusCode: http.StatusNotFound,
			Err:        fmt.Errorf("%w: conference %q", telephony.ErrNotFound, name),
		}
	}
	return list.Conferences[0], nil
}

func isConferenceSID(id string) bool {
	return len(id) == 34 && strings.HasPrefix(id, "CF")
}

func (p *Provider) accountURL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, s := range parts {
		escaped[i] = url.PathEscape(s)
	}
	return p.baseURL + "/Accounts/" + url.PathEscape(p.accountSID) + "/" + strings.Join(escaped, "/")
}

// get performs a GET request.
func (p *Provider) get(ctx context.Context, op, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	return p.do(req, op, result)
}

// post performs a POST request with form data.
func (p *Provider) post(ctx context.Context, op, endpoint string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("twilio: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return p.do(req, op, result)
}

// do executes a request with authentication and maps failures to
// *provider.Error. A 404 additionally wraps telephony.ErrNotFound.
func (p *Provider) do(req *http.Request, op string, result any) error {
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.Wrap(providerName, op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Wrap(providerName, op, err)
	}

	if resp.StatusCode >= 400 {
		var cause error = fmt.Errorf("twilio error: %s", strings.TrimSpace(string(body)))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			cause = &apiErr
		}
		if resp.StatusCode == http.StatusNotFound {
			cause = fmt.Errorf("%w: %w", telephony.ErrNotFound, cause)
		}
		return &provider.Error{Provider: providerName, Op: op, StatusCode: resp.StatusCode, Err: cause}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return provider.Wrap(providerName, op, fmt.Errorf("parse response: %w", err))
		}
	}
	return nil
}
