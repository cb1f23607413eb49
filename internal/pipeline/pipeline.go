// Package pipeline turns one chunk of caller audio into translated speech:
// transcribe, translate, synthesize, then re-encode for the telephony
// transport.
//
// Every stage runs under its own timeout, is retried with capped exponential
// backoff and sits behind a circuit breaker. Failures degrade rather than
// abort: a failed translation passes the original text through, a failed
// transcription or synthesis skips the chunk, and a codec failure drops it.
// The caller only sees an error for logging; the [Result] always says what
// happened.
//
// The [Policy] can be swapped at runtime with [Pipeline.SetPolicy]; chunks
// already in flight finish under the policy they started with.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/callbridge/internal/observe"
	"github.com/MrWong99/callbridge/internal/resilience"
	"github.com/MrWong99/callbridge/pkg/audio"
	"github.com/MrWong99/callbridge/pkg/provider"
	"github.com/MrWong99/callbridge/pkg/provider/stt"
	"github.com/MrWong99/callbridge/pkg/provider/translate"
	"github.com/MrWong99/callbridge/pkg/provider/tts"
	"github.com/MrWong99/callbridge/pkg/types"
)

// Stage names, used for breaker names, metric labels and errors.
const (
	StageTranscribe = "stt"
	StageTranslate  = "translate"
	StageSynthesize = "tts"
)

// Policy holds the tunables of a [Pipeline].
type Policy struct {
	// MinChunkBytes is the smallest chunk worth transcribing. Shorter chunks
	// are skipped without calling any provider. Default: 1600 (200 ms).
	MinChunkBytes int

	// StageTimeout bounds a single attempt of one stage. Default: 10s.
	StageTimeout time.Duration

	// Retry controls per-stage retries.
	Retry resilience.RetryPolicy
}

// DefaultPolicy is applied to zero-value Policy fields.
var DefaultPolicy = Policy{
	MinChunkBytes: 1600,
	StageTimeout:  10 * time.Second,
	Retry:         resilience.DefaultRetryPolicy,
}

func (p Policy) withDefaults() Policy {
	if p.MinChunkBytes <= 0 {
		p.MinChunkBytes = DefaultPolicy.MinChunkBytes
	}
	if p.StageTimeout <= 0 {
		p.StageTimeout = DefaultPolicy.StageTimeout
	}
	p.Retry = p.Retry.WithDefaults()
	return p
}

// Chunk is one slice of caller audio cut by a media-stream session.
type Chunk struct {
	// Seq orders chunks within one session.
	Seq uint64

	// Data is 8 kHz μ-law audio.
	Data []byte

	From types.Language
	To   types.Language
}

// Outcome classifies what became of a chunk.
type Outcome string

const (
	// OutcomeDelivered means Result.Audio holds translated speech.
	OutcomeDelivered Outcome = observe.ChunkDelivered
	// OutcomeSilent means nothing was said, or nothing came back to say.
	OutcomeSilent Outcome = observe.ChunkSilent
	// OutcomeSkipped means the chunk was too short or a stage failed.
	OutcomeSkipped Outcome = observe.ChunkSkipped
	// OutcomeDropped means the synthesized audio could not be re-encoded.
	OutcomeDropped Outcome = observe.ChunkDropped
)

// Result is the outcome of processing one chunk.
type Result struct {
	Seq     uint64
	Outcome Outcome

	// Reason explains a non-delivered outcome.
	Reason string

	Transcript  string
	Translation string

	// Passthrough is set when translation failed and Translation holds the
	// original transcript.
	Passthrough bool

	// Audio is 8 kHz μ-law speech, set only for OutcomeDelivered.
	Audio []byte
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithPolicy sets the initial policy.
func WithPolicy(p Policy) Option {
	return func(pl *Pipeline) {
		p = p.withDefaults()
		pl.policy.Store(&p)
	}
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) { pl.metrics = m }
}

// WithBreakerConfig overrides the circuit breaker settings shared by all
// three stages. Name and OnStateChange are set per stage.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) Option {
	return func(pl *Pipeline) { pl.breakerCfg = cfg }
}

// Pipeline processes chunks. It is safe for concurrent use.
type Pipeline struct {
	stt        stt.Provider
	translator translate.Provider
	tts        tts.Provider

	policy     atomic.Pointer[Policy]
	metrics    *observe.Metrics
	breakerCfg resilience.CircuitBreakerConfig

	sttCB       *resilience.CircuitBreaker
	translateCB *resilience.CircuitBreaker
	ttsCB       *resilience.CircuitBreaker
}

// New creates a Pipeline over the three providers. Any of them may be a
// resilience fallback group.
func New(sttP stt.Provider, translator translate.Provider, ttsP tts.Provider, opts ...Option) *Pipeline {
	p := &Pipeline{
		stt:        sttP,
		translator: translator,
		tts:        ttsP,
	}
	def := DefaultPolicy
	p.policy.Store(&def)
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	p.sttCB = p.newBreaker(StageTranscribe)
	p.translateCB = p.newBreaker(StageTranslate)
	p.ttsCB = p.newBreaker(StageSynthesize)
	return p
}

func (p *Pipeline) newBreaker(stage string) *resilience.CircuitBreaker {
	cfg := p.breakerCfg
	cfg.Name = stage
	cfg.OnStateChange = func(name string, from, to resilience.State) {
		slog.Warn("pipeline: circuit breaker state change", "stage", name, "from", from, "to", to)
		p.metrics.RecordBreakerTransition(context.Background(), name, to.String())
	}
	return resilience.NewCircuitBreaker(cfg)
}

// Policy returns the current policy.
func (p *Pipeline) Policy() Policy { return *p.policy.Load() }

// SetPolicy replaces the policy for chunks processed from now on.
func (p *Pipeline) SetPolicy(pol Policy) {
	pol = pol.withDefaults()
	p.policy.Store(&pol)
	slog.Info("pipeline: policy updated",
		"min_chunk_bytes", pol.MinChunkBytes,
		"stage_timeout", pol.StageTimeout,
		"max_attempts", pol.Retry.MaxAttempts)
}

// BreakerStates reports the state of each stage breaker, keyed by stage name.
func (p *Pipeline) BreakerStates() map[string]resilience.State {
	return map[string]resilience.State{
		StageTranscribe: p.sttCB.State(),
		StageTranslate:  p.translateCB.State(),
		StageSynthesize: p.ttsCB.State(),
	}
}

// Process runs one chunk through the pipeline. The returned error is non-nil
// only when a stage failed in a way that cost the chunk; Result is always
// meaningful.
func (p *Pipeline) Process(ctx context.Context, c Chunk) (res Result, err error) {
	pol := p.Policy()
	res.Seq = c.Seq

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.process")
	defer func() {
		observe.EndSpan(span, err)
		p.metrics.RecordChunk(ctx, string(res.Outcome))
		p.metrics.ChunkDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("outcome", string(res.Outcome))))
	}()

	if len(c.Data) < pol.MinChunkBytes {
		res.Outcome, res.Reason = OutcomeSkipped, "chunk too short"
		return res, nil
	}

	wav := audio.EncodeWAV(audio.ULawToPCM16(c.Data), audio.TelephonyRate, 16, 1)
	text, err := runStage(ctx, p, pol, StageTranscribe, p.sttCB, p.metrics.STTDuration,
		func(ctx context.Context) (string, error) {
			return p.stt.Transcribe(ctx, wav, c.From)
		})
	if err != nil {
		res.Outcome, res.Reason = OutcomeSkipped, "transcription failed"
		return res, fmt.Errorf("pipeline: transcribe: %w", err)
	}
	res.Transcript = strings.TrimSpace(text)
	if res.Transcript == "" {
		res.Outcome, res.Reason = OutcomeSilent, "no speech"
		return res, nil
	}

	res.Translation = res.Transcript
	if c.From != c.To {
		translated, terr := runStage(ctx, p, pol, StageTranslate, p.translateCB, p.metrics.TranslateDuration,
			func(ctx context.Context) (string, error) {
				return p.translator.Translate(ctx, res.Transcript, c.From, c.To)
			})
		switch {
		case terr != nil:
			observe.Logger(ctx).Warn("pipeline: translation failed, passing original text through",
				"from", c.From, "to", c.To, "err", terr)
			res.Passthrough = true
		case strings.TrimSpace(translated) == "":
			res.Passthrough = true
		default:
			res.Translation = strings.TrimSpace(translated)
		}
	}

	frame, err := runStage(ctx, p, pol, StageSynthesize, p.ttsCB, p.metrics.TTSDuration,
		func(ctx context.Context) (audio.Frame, error) {
			return p.tts.Synthesize(ctx, res.Translation, c.To)
		})
	if err != nil {
		res.Outcome, res.Reason = OutcomeSkipped, "synthesis failed"
		return res, fmt.Errorf("pipeline: synthesize: %w", err)
	}
	if len(frame.Data) == 0 {
		res.Outcome, res.Reason = OutcomeSilent, "empty synthesis"
		return res, nil
	}

	out, err := audio.ToULaw8k(frame)
	if err != nil {
		res.Outcome, res.Reason = OutcomeDropped, "re-encode failed"
		return res, fmt.Errorf("pipeline: re-encode: %w", err)
	}
	if len(out) == 0 {
		res.Outcome, res.Reason = OutcomeSilent, "empty synthesis"
		return res, nil
	}
	res.Outcome, res.Audio = OutcomeDelivered, out
	return res, nil
}

// runStage executes fn with retries. Each attempt gets the stage timeout and
// goes through cb. An attempt cut short by the stage timeout is reported as a
// temporary provider error so it is retried like any other transient fault.
func runStage[R any](ctx context.Context, p *Pipeline, pol Policy, stage string, cb *resilience.CircuitBreaker, hist metric.Float64Histogram, fn func(context.Context) (R, error)) (R, error) {
	start := time.Now()
	out, err := resilience.RetryWithResult(ctx, pol.Retry, func(ctx context.Context) (R, error) {
		sctx, cancel := context.WithTimeout(ctx, pol.StageTimeout)
		defer cancel()

		var out R
		err := cb.Execute(func() error {
			var err error
			out, err = fn(sctx)
			if err != nil && sctx.Err() != nil && ctx.Err() == nil {
				err = provider.Wrap(stage, "stage timeout", err)
			}
			return err
		})
		status := "ok"
		if err != nil {
			status = "error"
			p.metrics.RecordProviderError(ctx, stage, "pipeline")
		}
		p.metrics.RecordProviderRequest(ctx, stage, "pipeline", status)
		return out, err
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	hist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(observe.Attr("status", status)))
	return out, err
}
