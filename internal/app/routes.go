package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrWong99/callbridge/internal/bot"
	"github.com/MrWong99/callbridge/internal/conference"
	"github.com/MrWong99/callbridge/internal/observe"
	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/types"
)

// Conference event names sent by the telephony provider's conference status
// callback.
const (
	conferenceEventJoin = "participant-join"
	conferenceEventEnd  = "conference-end"
)

func (a *App) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(observe.Middleware(a.metrics))

	a.health.Routes(r)
	r.Handle(PathMetrics, a.metricsHandler)
	r.Handle(PathMediaStream, a.media)

	r.Group(func(r chi.Router) {
		r.Use(a.requireBots)

		r.HandleFunc(PathBotTwiML, a.handleTwiML)
		r.HandleFunc(PathBridgeTwiML, a.handleBridgeTwiML)
		r.Post(PathBridgeJoin, a.handleBridgeJoin)
		r.Post(PathBotStatus, a.handleBotStatus)
		r.Post(PathConferenceEvent, a.handleConferenceEvent)

		r.Route("/api/conferences/{conferenceID}", func(r chi.Router) {
			r.Get("/", a.handleGetConference)
			r.Get("/activity", a.handleActivity)
			r.Post("/end", a.handleEndConference)
			r.Route("/bots", func(r chi.Router) {
				r.Get("/", a.handleListBots)
				r.Post("/", a.handleCreateBot)
				r.Delete("/", a.handleRemoveAllBots)
				r.Delete("/{callID}", a.handleRemoveBot)
				r.Put("/{callID}/mute", a.handleMuteBot)
			})
		})
	})
	return r
}

func (a *App) requireBots(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.bots == nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "telephony is not configured"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Telephony webhooks ───────────────────────────────────────────────────────

// handleTwiML serves the call instructions for an answered bot leg: play the
// join code to the bridge leg, then stream. The request must carry a valid
// signed callback token.
func (a *App) handleTwiML(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	p, err := bot.ParseCallback(r.URL.Query())
	if err == nil {
		err = bot.VerifyCallback(a.cfg.Server.CallbackSecret, p, a.now(), a.cfg.Bots.CallbackSkew)
	}
	if err != nil {
		log.Warn("rejecting bot callback", "err", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	code, err := bot.JoinCode(p.Token)
	if err != nil {
		log.Warn("rejecting bot callback", "err", err)
		w.WriteHeader(http.StatusForbidden)
		return
	}
	body, err := bot.StreamTwiML(a.mediaStreamURL(), p.ConferenceID, p.SourceLanguage, p.TargetLanguage, code)
	if err != nil {
		log.Error("render twiml", "conference_id", p.ConferenceID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiML(w, body)
}

// handleBridgeTwiML answers a call to the bridge number by gathering the join
// code the bot leg plays.
func (a *App) handleBridgeTwiML(w http.ResponseWriter, r *http.Request) {
	body, err := bot.GatherTwiML(a.publicURL(PathBridgeJoin))
	if err != nil {
		observe.Logger(r.Context()).Error("render twiml", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiML(w, body)
}

// handleBridgeJoin puts the bridge leg into the conference its join code
// belongs to. Unknown codes hang up.
func (a *App) handleBridgeJoin(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	legID := r.PostForm.Get("CallSid")
	conferenceID, err := a.bots.ResolveJoin(r.Context(), r.PostForm.Get("Digits"), legID)
	if err != nil {
		log.Warn("hanging up bridge leg", "call_id", legID, "err", err)
		writeTwiML(w, bot.HangupTwiML())
		return
	}
	body, err := bot.ConferenceTwiML(conferenceID)
	if err != nil {
		log.Error("render twiml", "conference_id", conferenceID, "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeTwiML(w, body)
}

func writeTwiML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// handleBotStatus applies a call progress callback to the bot it concerns.
func (a *App) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	callID, status := r.PostForm.Get("CallSid"), r.PostForm.Get("CallStatus")
	if callID == "" || status == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res, err := a.bots.HandleStatus(r.Context(), callID, status)
	switch {
	case errors.Is(err, bot.ErrNotFound):
		log.Debug("status for untracked call", "call_id", callID, "status", status)
	case err != nil:
		log.Warn("bad bot status callback", "call_id", callID, "status", status, "err", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	case res.Transient:
		log.Info("bot failed transiently; a new bot may be requested",
			"conference_id", res.Record.ConferenceID, "call_id", callID, "status", status)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConferenceEvent reacts to conference lifecycle callbacks: a bot
// joining marks it active, the conference ending tears everything down.
func (a *App) handleConferenceEvent(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	event := r.PostForm.Get("StatusCallbackEvent")
	conferenceID := r.PostForm.Get("FriendlyName")

	switch event {
	case conferenceEventJoin:
		callID := r.PostForm.Get("CallSid")
		if _, ok := a.bots.Record(callID); !ok {
			break
		}
		if _, err := a.bots.HandleStatus(r.Context(), callID, bot.StatusParticipantJoin); err != nil {
			log.Warn("failed to mark bot active", "call_id", callID, "err", err)
		}
	case conferenceEventEnd:
		if conferenceID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if err := a.bots.HandleConferenceEnd(r.Context(), conferenceID); err != nil {
			log.Warn("conference teardown incomplete", "conference_id", conferenceID, "err", err)
		}
	default:
		log.Debug("ignoring conference event", "event", event, "conference_id", conferenceID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Conference API ───────────────────────────────────────────────────────────

type createBotRequest struct {
	TargetLanguage string `json:"targetLanguage"`
	SourceLanguage string `json:"sourceLanguage"`
}

type createBotResponse struct {
	CallID string `json:"callId"`
}

type botView struct {
	CallID         string         `json:"callId"`
	LegCallID      string         `json:"legCallId,omitempty"`
	ConferenceID   string         `json:"conferenceId"`
	SourceLanguage types.Language `json:"sourceLanguage"`
	TargetLanguage types.Language `json:"targetLanguage"`
	State          string         `json:"state"`
	CreatedAt      time.Time      `json:"createdAt"`
}

type sessionView struct {
	ConferenceID   string             `json:"conferenceId"`
	SourceLanguage types.Language     `json:"sourceLanguage"`
	TargetLanguage types.Language     `json:"targetLanguage"`
	BotCallID      string             `json:"botCallId,omitempty"`
	Status         conference.Status  `json:"status"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
	Events         []conference.Event `json:"events"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *App) handleCreateBot(w http.ResponseWriter, r *http.Request) {
	conferenceID := chi.URLParam(r, "conferenceID")
	var req createBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	callID, err := a.bots.CreateBotParticipant(r.Context(), conferenceID,
		parseLanguage(req.TargetLanguage), parseLanguage(req.SourceLanguage))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	observe.Logger(r.Context()).Info("bot participant created", "conference_id", conferenceID, "call_id", callID)
	writeJSON(w, http.StatusCreated, createBotResponse{CallID: callID})
}

func (a *App) handleListBots(w http.ResponseWriter, r *http.Request) {
	recs := a.bots.Bots(chi.URLParam(r, "conferenceID"))
	out := make([]botView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, botView{
			CallID:         rec.CallID,
			LegCallID:      rec.LegCallID,
			ConferenceID:   rec.ConferenceID,
			SourceLanguage: rec.SourceLanguage,
			TargetLanguage: rec.TargetLanguage,
			State:          rec.State.String(),
			CreatedAt:      rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleRemoveBot(w http.ResponseWriter, r *http.Request) {
	conferenceID, callID := chi.URLParam(r, "conferenceID"), chi.URLParam(r, "callID")
	if rec, ok := a.bots.Record(callID); !ok || rec.ConferenceID != conferenceID {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "bot not found"})
		return
	}
	a.bots.RemoveBotParticipant(r.Context(), conferenceID, callID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleRemoveAllBots(w http.ResponseWriter, r *http.Request) {
	if err := a.bots.RemoveAllBotParticipants(r.Context(), chi.URLParam(r, "conferenceID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleMuteBot(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}
	err := a.bots.MuteBot(r.Context(), chi.URLParam(r, "conferenceID"), chi.URLParam(r, "callID"), req.Muted)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleGetConference(w http.ResponseWriter, r *http.Request) {
	s, err := a.store.Get(r.Context(), chi.URLParam(r, "conferenceID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{
		ConferenceID:   s.ConferenceID,
		SourceLanguage: s.SourceLanguage,
		TargetLanguage: s.TargetLanguage,
		BotCallID:      s.BotCallID,
		Status:         s.Status,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Events:         s.Events,
	})
}

func (a *App) handleActivity(w http.ResponseWriter, r *http.Request) {
	active, err := a.bots.HasActiveParticipants(r.Context(), chi.URLParam(r, "conferenceID"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (a *App) handleEndConference(w http.ResponseWriter, r *http.Request) {
	if err := a.bots.HandleConferenceEnd(r.Context(), chi.URLParam(r, "conferenceID")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps domain errors onto HTTP status codes.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var perr *provider.Error
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, bot.ErrInvalidLanguage), errors.Is(err, bot.ErrInvalidConference):
		status = http.StatusBadRequest
	case errors.Is(err, bot.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
		secs := int(math.Ceil(a.limiter.RetryAfter(time.Now()).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
	case errors.Is(err, bot.ErrConcurrencyLimitExceeded):
		status = http.StatusServiceUnavailable
	case errors.Is(err, bot.ErrNotFound), errors.Is(err, conference.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &perr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}

// parseLanguage normalises tags like "en-US". Unknown values are passed
// through so the bot manager reports them as invalid.
func parseLanguage(s string) types.Language {
	if l, ok := types.ParseLanguage(s); ok {
		return l
	}
	return types.Language(s)
}
