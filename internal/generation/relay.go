package generation

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/media"
	"weltverbinder/internal/providers/replicate"
)

// ErrMissingParameters is the input error of the relay: no poll URL, a URL
// outside the allowlist, or no provider credential.
var ErrMissingParameters = errors.New("missing parameters")

// MissingParametersMessage is the user-facing text of ErrMissingParameters.
const MissingParametersMessage = "Missing parameters"

// PredictionFetcher reads predictions by their get URL.
type PredictionFetcher interface {
	GetPrediction(ctx context.Context, getURL string) (*replicate.Prediction, error)
	HasCredentials() bool
}

type RelayOptions struct {
	Fetcher      PredictionFetcher
	AllowedHosts []string
	CallTimeout  time.Duration
	Logger       *infra.Logger
	Metrics      *infra.Metrics
}

// Relay forwards poll requests and folds every outcome into a PollResult.
type Relay struct {
	fetcher     PredictionFetcher
	hosts       map[string]struct{}
	callTimeout time.Duration
	logger      *infra.Logger
	metrics     *infra.Metrics
}

// PollResult is the normalized status envelope.
type PollResult struct {
	Status   string `json:"status"`
	ImageURL string `json:"imageUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

const (
	pollSucceeded  = "succeeded"
	pollProcessing = "processing"
	pollFailed     = "failed"
)

func NewRelay(opts RelayOptions) *Relay {
	hosts := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			hosts[h] = struct{}{}
		}
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NewDiscardLogger()
	}
	return &Relay{fetcher: opts.Fetcher, hosts: hosts, callTimeout: timeout, logger: logger, metrics: opts.Metrics}
}

// Validate reports ErrMissingParameters for input the relay refuses to forward.
func (r *Relay) Validate(pollURL string) error {
	if r.fetcher == nil || !r.fetcher.HasCredentials() {
		return ErrMissingParameters
	}
	raw := strings.TrimSpace(pollURL)
	if raw == "" {
		return ErrMissingParameters
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Hostname() == "" || u.User != nil {
		return fmt.Errorf("%w: invalid poll url", ErrMissingParameters)
	}
	if _, ok := r.hosts[strings.ToLower(u.Hostname())]; !ok {
		return fmt.Errorf("%w: poll host not allowed", ErrMissingParameters)
	}
	return nil
}

// Poll never returns an error; failures become a failed result.
func (r *Relay) Poll(ctx context.Context, pollURL string) PollResult {
	res := r.poll(ctx, pollURL)
	if r.metrics != nil {
		r.metrics.PollResults.WithLabelValues(res.Status).Inc()
	}
	return res
}

func (r *Relay) poll(ctx context.Context, pollURL string) PollResult {
	if err := r.Validate(pollURL); err != nil {
		return PollResult{Status: pollFailed, Error: MissingParametersMessage}
	}
	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	pred, err := r.fetcher.GetPrediction(ctx, strings.TrimSpace(pollURL))
	if err != nil {
		return r.pollFailure(err)
	}

	if !pred.Status.Terminal() {
		return PollResult{Status: pollProcessing}
	}
	switch pred.Status {
	case domain.JobSucceeded:
		out, err := media.ParseOutput(pred.Output)
		if err != nil {
			if errors.Is(err, media.ErrNoOutput) {
				// No output yet despite success; the next poll will see it.
				return PollResult{Status: pollProcessing}
			}
			r.logger.Warn().Str("prediction_id", pred.ID).Msg("poll: unknown output format")
			return PollResult{Status: pollFailed, Error: "Unknown output format"}
		}
		return PollResult{Status: pollSucceeded, ImageURL: out.URL}
	case domain.JobFailed, domain.JobCanceled:
		msg := pred.ErrorMessage()
		if msg == "" {
			msg = "Generation failed"
		}
		return PollResult{Status: pollFailed, Error: msg}
	}
	return PollResult{Status: pollProcessing}
}

func (r *Relay) pollFailure(err error) PollResult {
	var upstream *domain.UpstreamError
	switch {
	case errors.As(err, &upstream) && upstream.Status != 0:
		r.logger.Warn().Int("status", upstream.Status).Msg("poll: upstream rejected request")
		return PollResult{Status: pollFailed, Error: fmt.Sprintf("Poll failed: HTTP %d", upstream.Status)}
	case errors.As(err, &upstream) && upstream.Timeout:
		r.logger.Warn().Err(err).Msg("poll: upstream timeout")
		return PollResult{Status: pollFailed, Error: "Poll failed: timeout"}
	default:
		r.logger.Warn().Err(err).Msg("poll: request failed")
		return PollResult{Status: pollFailed, Error: "Poll failed: network error"}
	}
}
