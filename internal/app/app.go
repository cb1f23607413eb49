// Package app wires all callbridge subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context ends, and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithMetrics, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/callbridge/internal/bot"
	"github.com/MrWong99/callbridge/internal/conference"
	"github.com/MrWong99/callbridge/internal/config"
	"github.com/MrWong99/callbridge/internal/health"
	"github.com/MrWong99/callbridge/internal/mediastream"
	"github.com/MrWong99/callbridge/internal/observe"
	"github.com/MrWong99/callbridge/internal/pipeline"
	"github.com/MrWong99/callbridge/internal/ratelimit"
	"github.com/MrWong99/callbridge/internal/resilience"
	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/provider/telephony"
	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
)

// Paths served by the application.
const (
	PathMediaStream     = "/media-stream"
	PathBotTwiML        = "/bot/twiml"
	PathBotStatus       = "/bot/status"
	PathBridgeTwiML     = "/bridge/twiml"
	PathBridgeJoin      = "/bridge/join"
	PathConferenceEvent = "/conference/events"
	PathMetrics         = "/metrics"
)

// Providers holds one interface value per provider slot. Populated by main.go
// via the config registry. Telephony may be nil; the bot API then answers 503.
type Providers struct {
	STT       stt.Provider
	Translate translate.Provider
	TTS       tts.Provider
	Telephony telephony.Provider
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	store          conference.Store
	storePinger    health.Pinger
	metrics        *observe.Metrics
	metricsHandler http.Handler
	logLevel       *slog.LevelVar
	now            func() time.Time

	limiter  *ratelimit.Bucket
	bots     *bot.Manager
	pipeline *pipeline.Pipeline
	pool     *pipeline.Pool
	media    *mediastream.Handler
	health   *health.Handler
	router   chi.Router

	serverMu sync.Mutex
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a conference store instead of creating one from config.
func WithStore(s conference.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler overrides the handler served at /metrics.
// Default: promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithLogLevel lets [App.ApplyConfig] change the process log level at runtime.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// WithClock overrides the time source used to verify callback tokens.
func WithClock(now func() time.Time) Option {
	return func(a *App) { a.now = now }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Translate == nil || providers.TTS == nil {
		return nil, errors.New("app: stt, translate and tts providers are required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		now:       time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.metricsHandler == nil {
		a.metricsHandler = promhttp.Handler()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	a.initBots()
	a.initPipeline()
	if c, ok := providers.STT.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	checkers := []health.Checker{
		health.BreakerChecker("pipeline", a.pipeline.BreakerStates),
	}
	if a.storePinger != nil {
		checkers = append(checkers, health.PingChecker("store", a.storePinger))
	}
	a.health = health.New(checkers...)
	a.router = a.routes()

	return a, nil
}

// initStore sets up the PostgreSQL conference store or falls back to memory.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		a.store = conference.NewMemStore()
		return nil
	}

	pool, err := conference.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	ps := conference.NewPostgresStore(pool)
	if err := ps.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.store = ps
	a.storePinger = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("conference store connected", "backend", "postgres")
	return nil
}

func (a *App) initBots() {
	a.limiter = ratelimit.New(a.cfg.Bots.RateCapacity, a.cfg.Bots.RateWindow)
	if a.providers.Telephony == nil {
		slog.Warn("no telephony provider; bot API disabled")
		return
	}
	a.bots = bot.NewManager(a.providers.Telephony, a.limiter, a.store, bot.Config{
		FromNumber:      a.cfg.Telephony.FromNumber,
		BridgeNumber:    a.cfg.Telephony.BotNumber,
		CallbackBaseURL: a.publicURL(PathBotTwiML),
		CallbackSecret:  a.cfg.Server.CallbackSecret,
		MaxConcurrent:   a.cfg.Bots.MaxConcurrent,
		TeardownTimeout: a.cfg.Bots.TeardownTimeout,
	}, bot.WithMetrics(a.metrics), bot.WithClock(a.now))
}

func (a *App) initPipeline() {
	a.pipeline = pipeline.New(a.providers.STT, a.providers.Translate, a.providers.TTS,
		pipeline.WithPolicy(PolicyFromConfig(a.cfg.Pipeline)),
		pipeline.WithMetrics(a.metrics),
	)
	a.pool = pipeline.NewPool(a.cfg.Pipeline.Workers, a.cfg.Pipeline.QueueSize)
	a.media = mediastream.NewHandler(a.pipeline, a.pool,
		mediastream.Config{ChunkBytes: a.cfg.Pipeline.ChunkBytes},
		mediastream.WithMetrics(a.metrics),
	)
}

// PolicyFromConfig converts the pipeline config section into a [pipeline.Policy].
func PolicyFromConfig(p config.PipelineConfig) pipeline.Policy {
	return pipeline.Policy{
		MinChunkBytes: p.MinChunkBytes,
		StageTimeout:  p.StageTimeout,
		Retry: resilience.RetryPolicy{
			MaxAttempts:    p.Retry.MaxAttempts,
			InitialBackoff: p.Retry.InitialBackoff,
			MaxBackoff:     p.Retry.MaxBackoff,
			Multiplier:     p.Retry.Multiplier,
		},
	}
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler { return a.router }

// Bots returns the bot manager, or nil when telephony is not configured.
func (a *App) Bots() *bot.Manager { return a.bots }

// Pipeline returns the translation pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Run serves HTTP on the configured address and refills the bot rate limiter
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	go a.limiter.Run(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.serverMu.Lock()
	a.server = srv
	a.serverMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("app running", "listen_addr", srv.Addr, "bots_enabled", a.bots != nil)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ApplyConfig hot-applies the reloadable parts of updated. It is meant to be
// used as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)
	if d.PolicyChanged {
		a.pipeline.SetPolicy(PolicyFromConfig(d.NewPipeline))
		slog.Info("pipeline policy updated",
			"stage_timeout", d.NewPipeline.StageTimeout,
			"max_attempts", d.NewPipeline.Retry.MaxAttempts)
	}
	if d.LogLevelChanged && a.logLevel != nil {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(d.NewLogLevel)); err == nil {
			a.logLevel.Set(lvl)
			slog.Info("log level updated", "level", lvl)
		}
	}
}

// Shutdown stops accepting connections, removes every tracked bot, drains the
// worker pool and runs the closers. If ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		a.serverMu.Lock()
		srv := a.server
		a.serverMu.Unlock()
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		if a.bots != nil {
			a.removeAllBots(ctx)
		}
		a.pool.Close()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// removeAllBots hangs up every bot of every known conference.
func (a *App) removeAllBots(ctx context.Context) {
	sessions, err := a.store.List(ctx)
	if err != nil {
		slog.Warn("cannot list conferences for bot teardown", "err", err)
		return
	}
	for _, s := range sessions {
		if err := a.bots.RemoveAllBotParticipants(ctx, s.ConferenceID); err != nil {
			slog.Warn("bot teardown incomplete", "conference_id", s.ConferenceID, "err", err)
		}
	}
}

// publicURL joins the configured public base URL and path.
func (a *App) publicURL(path string) string {
	return strings.TrimRight(a.cfg.Server.PublicURL, "/") + path
}

// mediaStreamURL is the WebSocket URL handed to the telephony provider.
func (a *App) mediaStreamURL() string {
	u := a.publicURL(PathMediaStream)
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}
