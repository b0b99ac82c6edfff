// Package generation runs the video generation pipeline: safety check and
// prompt enhancement in parallel, then job submission, then polling.
package generation

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/media"
	"weltverbinder/internal/providers/prompt"
	"weltverbinder/internal/providers/replicate"
)

const defaultCallTimeout = 25 * time.Second

// JobSubmitter starts provider predictions.
type JobSubmitter interface {
	CreatePrediction(ctx context.Context, model string, input any) (*replicate.Prediction, error)
}

// Credential reports whether a required secret is configured. Only the
// variable name is ever surfaced.
type Credential struct {
	Name    string
	Present bool
}

type Options struct {
	Safety      prompt.SafetyClassifier
	Enhancer    prompt.Enhancer
	Jobs        JobSubmitter
	Credentials []Credential
	CallTimeout time.Duration
	Logger      *infra.Logger
	Metrics     *infra.Metrics
}

type Orchestrator struct {
	safety      prompt.SafetyClassifier
	enhancer    prompt.Enhancer
	jobs        JobSubmitter
	credentials []Credential
	callTimeout time.Duration
	logger      *infra.Logger
	metrics     *infra.Metrics
}

// Result is either a finished video or a poll handle.
type Result struct {
	VideoURL       string `json:"videoUrl,omitempty"`
	Status         string `json:"status,omitempty"`
	PollURL        string `json:"pollUrl,omitempty"`
	EnhancedPrompt string `json:"enhancedPrompt"`
	OriginalPrompt string `json:"originalPrompt"`
}

func NewOrchestrator(opts Options) *Orchestrator {
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	enhancer := opts.Enhancer
	if enhancer == nil {
		enhancer = prompt.NewStaticEnhancer()
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NewDiscardLogger()
	}
	return &Orchestrator{
		safety:      opts.Safety,
		enhancer:    enhancer,
		jobs:        opts.Jobs,
		credentials: opts.Credentials,
		callTimeout: timeout,
		logger:      logger,
		metrics:     opts.Metrics,
	}
}

// Generate validates the request, checks safety while enhancing the prompt,
// and submits the job. Errors are domain or *StageError values.
func (o *Orchestrator) Generate(ctx context.Context, req domain.GenerationRequest) (*Result, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		o.countOutcome("invalid")
		return nil, err
	}
	for _, c := range o.credentials {
		if !c.Present {
			o.countOutcome("config")
			return nil, &domain.ConfigError{Variable: c.Name}
		}
	}
	if o.safety == nil || o.jobs == nil {
		o.countOutcome("config")
		return nil, errors.New("generation: orchestrator is missing providers")
	}

	log := o.logger.With().Str("model", string(req.Model)).Logger()
	log.Info().Str("prompt", truncateRunes(req.Prompt, 50)).Msg("generation started")

	enhanced := req.Prompt
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		verdict, err := o.classify(gctx, req.Prompt)
		if err != nil {
			return &StageError{Stage: StageSafety, Err: err}
		}
		log.Debug().Dur("elapsed", time.Since(start)).Str("verdict", verdict.Raw).Msg("safety verdict")
		if verdict.Unsafe() {
			return &domain.UnsafeContentError{Reason: verdict.Reason, Message: verdict.Raw}
		}
		return nil
	})
	g.Go(func() error {
		enhanced = o.enhance(gctx, req.Prompt)
		return nil
	})
	// The safety goroutine is the only one that fails, so an UNSAFE verdict or
	// a failed check cancels enhancement and wins over its result.
	if err := g.Wait(); err != nil {
		o.recordFailure(err)
		return nil, err
	}
	log.Debug().Dur("elapsed", time.Since(start)).Str("enhanced", truncateRunes(enhanced, 100)).Msg("prompt ready")

	preset := PresetFor(req.Model)
	pred, err := o.submit(ctx, preset, enhanced)
	if err != nil {
		err = &StageError{Stage: StageGeneration, Err: err}
		o.recordFailure(err)
		return nil, err
	}
	log.Info().Str("prediction_id", pred.ID).Str("status", string(pred.Status)).Dur("elapsed", time.Since(start)).Msg("prediction started")

	result := &Result{EnhancedPrompt: enhanced, OriginalPrompt: req.Prompt}
	if pred.Status == domain.JobSucceeded {
		if out, err := media.ParseOutput(pred.Output); err == nil {
			result.VideoURL = out.URL
			o.countOutcome("video")
			return result, nil
		}
	}
	if pred.URLs.Get != "" {
		result.Status = string(domain.JobProcessing)
		result.PollURL = pred.URLs.Get
		o.countOutcome("processing")
		return result, nil
	}

	err = &StageError{Stage: StageGeneration, Err: &domain.UnexpectedResponseError{
		Provider: "Replicate",
		Detail:   domain.Snippet(string(pred.Raw())),
	}}
	o.recordFailure(err)
	return nil, err
}

func (o *Orchestrator) classify(ctx context.Context, text string) (domain.SafetyVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	defer o.observe(StageSafety, time.Now())
	return o.safety.Classify(ctx, text)
}

// enhance never fails; the original prompt is the fallback.
func (o *Orchestrator) enhance(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	defer o.observe(StageEnhance, time.Now())
	res, err := o.enhancer.Enhance(ctx, text)
	if err != nil || res == nil || res.Prompt == "" {
		if o.metrics != nil {
			o.metrics.EnhanceFallbacks.WithLabelValues("error").Inc()
		}
		return text
	}
	return res.Prompt
}

func (o *Orchestrator) submit(ctx context.Context, preset Preset, text string) (*replicate.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	defer o.observe(StageGeneration, time.Now())
	return o.jobs.CreatePrediction(ctx, preset.Model, preset.Input(text))
}

func (o *Orchestrator) observe(stage Stage, start time.Time) {
	if o.metrics != nil {
		o.metrics.UpstreamLatency.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

func (o *Orchestrator) recordFailure(err error) {
	var unsafe *domain.UnsafeContentError
	var stageErr *StageError
	switch {
	case errors.As(err, &unsafe):
		o.logger.Info().Str("reason", unsafe.Reason).Msg("prompt rejected as unsafe")
		o.countOutcome("unsafe")
	case errors.As(err, &stageErr):
		o.logger.Warn().Err(err).Str("stage", string(stageErr.Stage)).Msg("generation stage failed")
		if o.metrics != nil {
			o.metrics.GenerationStageErrs.WithLabelValues(string(stageErr.Stage)).Inc()
		}
		o.countOutcome("error")
	default:
		o.logger.Error().Err(err).Msg("generation failed")
		o.countOutcome("error")
	}
}

func (o *Orchestrator) countOutcome(outcome string) {
	if o.metrics != nil {
		o.metrics.GenerationRequests.WithLabelValues(outcome).Inc()
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
