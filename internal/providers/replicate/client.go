// Package replicate submits and polls predictions on the Replicate API.
package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/infra"
)

const (
	providerName   = "Replicate"
	defaultBaseURL = "https://api.replicate.com/v1"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("replicate: api key is required")

type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// Prediction is the subset of the prediction resource the server reads.
// Output and Error stay raw because their shape differs per model.
type Prediction struct {
	ID     string           `json:"id"`
	Model  string           `json:"model,omitempty"`
	Status domain.JobStatus `json:"status"`
	Output json.RawMessage  `json:"output,omitempty"`
	Error  json.RawMessage  `json:"error,omitempty"`
	URLs   struct {
		Get    string `json:"get"`
		Cancel string `json:"cancel"`
	} `json:"urls"`

	raw []byte
}

// Raw returns the response body the prediction was decoded from.
func (p *Prediction) Raw() []byte {
	return p.raw
}

// ErrorMessage renders the upstream error field as text, or "" when unset.
func (p *Prediction) ErrorMessage() string {
	trimmed := strings.TrimSpace(string(p.Error))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(p.Error, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return trimmed
}

type createRequest struct {
	Input any `json:"input"`
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.NewDiscardLogger()
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// CreatePrediction starts a prediction on an official model ("owner/name").
func (c *Client) CreatePrediction(ctx context.Context, model string, input any) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	body, err := json.Marshal(createRequest{Input: input})
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, strings.Trim(model, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	pred, err := c.do(req, "generation")
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("model", model).
		Str("prediction_id", pred.ID).
		Str("status", string(pred.Status)).
		Msg("replicate: prediction created")
	return pred, nil
}

// GetPrediction fetches a prediction by its absolute get URL.
func (c *Client) GetPrediction(ctx context.Context, getURL string) (*Prediction, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	return c.do(req, "poll")
}

func (c *Client) do(req *http.Request, stage string) (*Prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamError{Provider: providerName, Stage: stage, Timeout: isTimeout(req.Context(), err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamError{Provider: providerName, Stage: stage, Timeout: isTimeout(req.Context(), err), Err: err}
	}
	if resp.StatusCode >= 300 {
		return nil, &domain.UpstreamError{
			Provider: providerName,
			Stage:    stage,
			Status:   resp.StatusCode,
			Body:     domain.Snippet(string(raw)),
		}
	}
	pred, err := ParsePrediction(raw)
	if err != nil {
		return nil, &domain.UnexpectedResponseError{Provider: providerName, Detail: domain.Snippet(string(raw))}
	}
	return pred, nil
}

// ParsePrediction decodes a prediction resource and keeps its raw body.
func ParsePrediction(raw []byte) (*Prediction, error) {
	var pred Prediction
	if err := json.Unmarshal(raw, &pred); err != nil {
		return nil, fmt.Errorf("replicate: decode prediction: %w", err)
	}
	pred.raw = raw
	return &pred, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
