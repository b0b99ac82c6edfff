package generation

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/providers/prompt"
	"weltverbinder/internal/providers/replicate"
)

type fakeSafety struct {
	classify func(context.Context, string) (domain.SafetyVerdict, error)
}

func (f fakeSafety) Classify(ctx context.Context, text string) (domain.SafetyVerdict, error) {
	return f.classify(ctx, text)
}

type fakeEnhancer struct {
	enhance func(context.Context, string) (*prompt.Enhancement, error)
}

func (f fakeEnhancer) Enhance(ctx context.Context, text string) (*prompt.Enhancement, error) {
	return f.enhance(ctx, text)
}

type fakeJobs struct {
	calls int32
	model string
	input map[string]any
	pred  *replicate.Prediction
	err   error
}

func (f *fakeJobs) CreatePrediction(_ context.Context, model string, input any) (*replicate.Prediction, error) {
	atomic.AddInt32(&f.calls, 1)
	f.model = model
	f.input, _ = input.(map[string]any)
	return f.pred, f.err
}

func safeVerdict() fakeSafety {
	return fakeSafety{classify: func(context.Context, string) (domain.SafetyVerdict, error) {
		return domain.SafetyVerdict{Verdict: domain.VerdictSafe, Raw: "SAFE", Recognized: true}, nil
	}}
}

func staticEnhancer(text string) fakeEnhancer {
	return fakeEnhancer{enhance: func(context.Context, string) (*prompt.Enhancement, error) {
		return &prompt.Enhancement{Prompt: text}, nil
	}}
}

func decodePrediction(t *testing.T, raw string) *replicate.Prediction {
	t.Helper()
	p, err := replicate.ParsePrediction([]byte(raw))
	if err != nil {
		t.Fatalf("decode prediction: %v", err)
	}
	return p
}

func newTestOrchestrator(safety prompt.SafetyClassifier, enhancer prompt.Enhancer, jobs JobSubmitter) *Orchestrator {
	return NewOrchestrator(Options{
		Safety:   safety,
		Enhancer: enhancer,
		Jobs:     jobs,
		Credentials: []Credential{
			{Name: "CLAUDE_API_KEY", Present: true},
			{Name: "REPLICATE_API_KEY", Present: true},
		},
		CallTimeout: time.Second,
		Metrics:     infra.NewMetrics(),
	})
}

func TestGenerateRejectsShortPromptBeforeAnyCall(t *testing.T) {
	var calls int32
	safety := fakeSafety{classify: func(context.Context, string) (domain.SafetyVerdict, error) {
		atomic.AddInt32(&calls, 1)
		return domain.SafetyVerdict{}, nil
	}}
	jobs := &fakeJobs{}
	o := newTestOrchestrator(safety, staticEnhancer("x"), jobs)

	for _, p := range []string{"", "  ", " ab ", "\tä\n"} {
		_, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: p})
		if !errors.Is(err, domain.ErrPromptTooShort) {
			t.Fatalf("prompt %q: expected ErrPromptTooShort, got %v", p, err)
		}
	}
	if calls != 0 || jobs.calls != 0 {
		t.Fatalf("upstream called for invalid prompt: safety=%d jobs=%d", calls, jobs.calls)
	}
}

func TestGenerateReportsMissingCredentialByName(t *testing.T) {
	o := NewOrchestrator(Options{
		Safety:   safeVerdict(),
		Enhancer: staticEnhancer("x"),
		Jobs:     &fakeJobs{},
		Credentials: []Credential{
			{Name: "CLAUDE_API_KEY", Present: true},
			{Name: "REPLICATE_API_KEY", Present: false},
		},
	})
	_, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "ein Hund im Park"})
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Error() != "REPLICATE_API_KEY not configured" {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestGenerateUnsafeSkipsSubmissionAndIgnoresEnhancement(t *testing.T) {
	safety := fakeSafety{classify: func(context.Context, string) (domain.SafetyVerdict, error) {
		return domain.SafetyVerdict{Verdict: domain.VerdictUnsafe, Reason: "violence", Raw: "UNSAFE: violence", Recognized: true}, nil
	}}
	// Enhancement only returns once cancelled; an UNSAFE verdict must not wait for it.
	enhancer := fakeEnhancer{enhance: func(ctx context.Context, text string) (*prompt.Enhancement, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	jobs := &fakeJobs{}
	o := newTestOrchestrator(safety, enhancer, jobs)

	done := make(chan error, 1)
	go func() {
		_, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "etwas Böses"})
		done <- err
	}()
	select {
	case err := <-done:
		var unsafe *domain.UnsafeContentError
		if !errors.As(err, &unsafe) {
			t.Fatalf("expected UnsafeContentError, got %v", err)
		}
		if unsafe.Message != "UNSAFE: violence" || unsafe.Reason != "violence" {
			t.Fatalf("unexpected unsafe error %+v", unsafe)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("unsafe verdict waited for enhancement")
	}
	if jobs.calls != 0 {
		t.Fatalf("job submitted for unsafe prompt")
	}
}

func TestGenerateSafetyFailureIsFatal(t *testing.T) {
	safety := fakeSafety{classify: func(context.Context, string) (domain.SafetyVerdict, error) {
		return domain.SafetyVerdict{}, &domain.UpstreamError{Provider: "Claude", Stage: "safety", Status: 529, Body: "overloaded"}
	}}
	jobs := &fakeJobs{}
	o := newTestOrchestrator(safety, staticEnhancer("better"), jobs)

	_, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "ein Hund im Park"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StageSafety {
		t.Fatalf("expected safety StageError, got %v", err)
	}
	if stageErr.Tag() != "Safety check failed" || stageErr.Details() != "Claude 529: overloaded" {
		t.Fatalf("tag=%q details=%q", stageErr.Tag(), stageErr.Details())
	}
	if jobs.calls != 0 {
		t.Fatal("job submitted after failed safety check")
	}
}

func TestGenerateEnhancementFailureFallsBackToOriginal(t *testing.T) {
	enhancer := fakeEnhancer{enhance: func(context.Context, string) (*prompt.Enhancement, error) {
		return nil, errors.New("boom")
	}}
	jobs := &fakeJobs{pred: decodePrediction(t, `{"id":"p1","status":"starting","urls":{"get":"https://api.replicate.com/v1/predictions/p1"}}`)}
	o := newTestOrchestrator(safeVerdict(), enhancer, jobs)

	res, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "ein Hund im Park"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.EnhancedPrompt != "ein Hund im Park" || jobs.input["prompt"] != "ein Hund im Park" {
		t.Fatalf("expected original prompt, got %q / %v", res.EnhancedPrompt, jobs.input["prompt"])
	}
	if res.Status != "processing" || res.PollURL != "https://api.replicate.com/v1/predictions/p1" || res.VideoURL != "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestGeneratePresets(t *testing.T) {
	cases := []struct {
		model     domain.VideoModel
		wantModel string
		wantKey   string
	}{
		{model: "", wantModel: "wavespeedai/wan-2.1-t2v-480p", wantKey: "max_area"},
		{model: "schnell", wantModel: "wavespeedai/wan-2.1-t2v-480p", wantKey: "num_frames"},
		{model: "nonsense", wantModel: "wavespeedai/wan-2.1-t2v-480p", wantKey: "steps"},
		{model: "quality", wantModel: "kwaivgi/kling-v2.5-turbo-pro", wantKey: "negative_prompt"},
	}
	for _, tc := range cases {
		jobs := &fakeJobs{pred: decodePrediction(t, `{"id":"p","status":"succeeded","output":"https://cdn/v.mp4"}`)}
		o := newTestOrchestrator(safeVerdict(), staticEnhancer("A dog runs, smooth motion"), jobs)
		res, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "ein Hund im Park", Model: tc.model})
		if err != nil {
			t.Fatalf("model %q: %v", tc.model, err)
		}
		if jobs.model != tc.wantModel {
			t.Fatalf("model %q submitted to %s", tc.model, jobs.model)
		}
		if _, ok := jobs.input[tc.wantKey]; !ok {
			t.Fatalf("model %q: input %v lacks %s", tc.model, jobs.input, tc.wantKey)
		}
		if jobs.input["prompt"] != "A dog runs, smooth motion" {
			t.Fatalf("enhanced prompt not submitted: %v", jobs.input["prompt"])
		}
		if res.VideoURL != "https://cdn/v.mp4" || res.OriginalPrompt != "ein Hund im Park" || res.PollURL != "" {
			t.Fatalf("unexpected result %+v", res)
		}
	}
}

func TestGenerateSubmissionErrors(t *testing.T) {
	cases := []struct {
		name    string
		jobs    *fakeJobs
		tag     string
		details string
	}{
		{
			name:    "http",
			jobs:    &fakeJobs{err: &domain.UpstreamError{Provider: "Replicate", Stage: "generation", Status: 422, Body: "invalid input"}},
			tag:     "Replicate API error",
			details: "invalid input",
		},
		{
			name:    "no handle",
			jobs:    &fakeJobs{pred: decodePrediction(t, `{"id":"p","status":"starting"}`)},
			tag:     "Unexpected response",
			details: `{"id":"p","status":"starting"}`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := newTestOrchestrator(safeVerdict(), staticEnhancer("x y z"), tc.jobs)
			_, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "ein Hund im Park"})
			var stageErr *StageError
			if !errors.As(err, &stageErr) {
				t.Fatalf("expected StageError, got %v", err)
			}
			if stageErr.Tag() != tc.tag || stageErr.Details() != tc.details {
				t.Fatalf("tag=%q details=%q", stageErr.Tag(), stageErr.Details())
			}
		})
	}
}

func TestGenerateAppliesPerCallTimeout(t *testing.T) {
	safety := fakeSafety{classify: func(ctx context.Context, _ string) (domain.SafetyVerdict, error) {
		deadline, ok := ctx.Deadline()
		if !ok || time.Until(deadline) > 50*time.Millisecond {
			t.Errorf("safety call has no per-call deadline")
		}
		<-ctx.Done()
		return domain.SafetyVerdict{}, &domain.UpstreamError{Provider: "Claude", Stage: "safety", Timeout: true, Err: ctx.Err()}
	}}
	o := NewOrchestrator(Options{
		Safety:      safety,
		Enhancer:    staticEnhancer("x"),
		Jobs:        &fakeJobs{},
		CallTimeout: 20 * time.Millisecond,
	})
	_, err := o.Generate(context.Background(), domain.GenerationRequest{Prompt: "ein Hund im Park"})
	var stageErr *StageError
	if !errors.As(err, &stageErr) || !strings.Contains(stageErr.Details(), "timeout") {
		t.Fatalf("expected safety timeout, got %v", err)
	}
}
