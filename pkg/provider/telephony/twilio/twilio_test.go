package twilio_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
	"github.com/MrWong99/callbridge/pkg/provider/telephony/twilio"
)

const (
	testAccount = "AC00000000000000000000000000000000"
	testConf    = "CF00000000000000000000000000000001"
)

type recorded struct {
	method string
	path   string
	form   url.Values
}

// fakeTwilio serves a minimal subset of the Twilio REST API.
func fakeTwilio(t *testing.T) (*httptest.Server, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	prefix := "/Accounts/" + testAccount
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != testAccount || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"code":20003,"message":"Authenticate","status":401}`)
			return
		}
		_ = r.ParseForm()
		mu.Lock()
		reqs = append(reqs, recorded{method: r.Method, path: r.URL.Path, form: r.PostForm})
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == prefix+"/Calls.json":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"sid":"CA123","status":"queued"}`)
		case r.Method == http.MethodGet && r.URL.Path == prefix+"/Conferences.json":
			if r.URL.Query().Get("FriendlyName") == "room-1" {
				_, _ = io.WriteString(w, `{"conferences":[{"sid":"`+testConf+`","friendly_name":"room-1","status":"in-progress"}]}`)
				return
			}
			_, _ = io.WriteString(w, `{"conferences":[]}`)
		case r.Method == http.MethodGet && r.URL.Path == prefix+"/Conferences/"+testConf+".json":
			_, _ = io.WriteString(w, `{"sid":"`+testConf+`","status":"in-progress"}`)
		case r.Method == http.MethodGet && r.URL.Path == prefix+"/Conferences/"+testConf+"/Participants.json":
			_, _ = io.WriteString(w, `{"participants":[{"call_sid":"CA1","conference_sid":"`+testConf+`","muted":false,"status":"connected"},{"call_sid":"CA2","conference_sid":"`+testConf+`","muted":true,"status":"connected"}]}`)
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, prefix+"/Conferences/"+testConf+"/Participants/"):
			_, _ = io.WriteString(w, `{"call_sid":"CA1","muted":true}`)
		case r.Method == http.MethodDelete && r.URL.Path == prefix+"/Conferences/"+testConf+"/Participants/CA1.json":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"code":20404,"message":"The requested resource was not found","status":404}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &reqs
}

func newProvider(t *testing.T, baseURL string) *twilio.Provider {
	t.Helper()
	p, err := twilio.New(twilio.Config{
		AccountSID:     testAccount,
		AuthToken:      "token",
		BaseURL:        baseURL,
		StatusCallback: "https://bridge.example/bots/status",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestCreateCall(t *testing.T) {
	t.Parallel()
	srv, reqs := fakeTwilio(t)
	p := newProvider(t, srv.URL)

	sid, err := p.CreateCall(context.Background(), "+15550001", "+15550002", "https://bridge.example/twiml?token=x")
	if err != nil {
		t.Fatalf("CreateCall: %v", err)
	}
	if sid != "CA123" {
		t.Errorf("sid = %q, want CA123", sid)
	}

	form := (*reqs)[0].form
	if form.Get("To") != "+15550001" || form.Get("From") != "+15550002" {
		t.Errorf("To/From = %q/%q", form.Get("To"), form.Get("From"))
	}
	if form.Get("Url") != "https://bridge.example/twiml?token=x" {
		t.Errorf("Url = %q", form.Get("Url"))
	}
	if form.Get("StatusCallback") == "" || len(form["StatusCallbackEvent"]) != 4 {
		t.Errorf("status callback not configured: %v", form)
	}
}

func TestConferenceByFriendlyName(t *testing.T) {
	t.Parallel()
	srv, _ := fakeTwilio(t)
	p := newProvider(t, srv.URL)
	ctx := context.Background()

	status, err := p.FetchConference(ctx, "room-1")
	if err != nil {
		t.Fatalf("FetchConference: %v", err)
	}
	if status != telephony.ConferenceInProgress {
		t.Errorf("status = %q, want in-progress", status)
	}

	parts, err := p.ListParticipants(ctx, "room-1")
	if err != nil {
		t.Fatalf("ListParticipants: %v", err)
	}
	if len(parts) != 2 || parts[0].CallID != "CA1" || !parts[1].Muted {
		t.Errorf("participants = %+v", parts)
	}

	if err := p.UpdateParticipant(ctx, "room-1", "CA1", true); err != nil {
		t.Errorf("UpdateParticipant: %v", err)
	}
	if err := p.DeleteParticipant(ctx, "room-1", "CA1"); err != nil {
		t.Errorf("DeleteParticipant: %v", err)
	}
}

func TestFetchConference_BySID(t *testing.T) {
	t.Parallel()
	srv, _ := fakeTwilio(t)
	p := newProvider(t, srv.URL)

	status, err := p.FetchConference(context.Background(), testConf)
	if err != nil {
		t.Fatalf("FetchConference: %v", err)
	}
	if status != telephony.ConferenceInProgress {
		t.Errorf("status = %q", status)
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()
	srv, _ := fakeTwilio(t)
	p := newProvider(t, srv.URL)
	ctx := context.Background()

	if _, err := p.ListParticipants(ctx, "no-such-room"); !errors.Is(err, telephony.ErrNotFound) {
		t.Errorf("ListParticipants: err = %v, want ErrNotFound", err)
	}

	err := p.DeleteParticipant(ctx, testConf, "CA999")
	if !errors.Is(err, telephony.ErrNotFound) {
		t.Errorf("DeleteParticipant: err = %v, want ErrNotFound", err)
	}
	var pe *provider.Error
	if !errors.As(err, &pe) || pe.StatusCode != http.StatusNotFound {
		t.Errorf("expected provider error with 404, got %v", err)
	}
}

func TestAuthFailure(t *testing.T) {
	t.Parallel()
	srv, _ := fakeTwilio(t)
	p, _ := twilio.New(twilio.Config{AccountSID: testAccount, AuthToken: "wrong", BaseURL: srv.URL})

	_, err := p.CreateCall(context.Background(), "+1", "+2", "https://x")
	var pe *provider.Error
	if !errors.As(err, &pe) {
		t.Fatalf("expected *provider.Error, got %v", err)
	}
	if pe.StatusCode != http.StatusUnauthorized || pe.Temporary() {
		t.Errorf("got %+v", pe)
	}
	if !strings.Contains(err.Error(), "Authenticate") {
		t.Errorf("error should carry the API message: %v", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	if _, err := twilio.New(twilio.Config{}); err == nil {
		t.Fatal("expected error without credentials")
	}
}
