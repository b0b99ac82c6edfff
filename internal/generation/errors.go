package generation

import (
	"errors"
	"fmt"

	"weltverbinder/internal/domain"
)

// Stage names the orchestration step an upstream failure happened in.
type Stage string

const (
	StageSafety     Stage = "safety"
	StageEnhance    Stage = "enhance"
	StageGeneration Stage = "generation"
)

// StageError attributes a failure to a stage so it can be reported with the
// right tag.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Details is the operator-facing diagnosis returned in the error response.
// Upstream bodies are already truncated; credentials never reach this text.
func (e *StageError) Details() string {
	var upstream *domain.UpstreamError
	var unexpected *domain.UnexpectedResponseError
	switch {
	case errors.As(e.Err, &unexpected):
		if e.Stage == StageSafety {
			return "Unexpected response"
		}
		return unexpected.Detail
	case errors.As(e.Err, &upstream):
		switch {
		case upstream.Timeout:
			return upstream.Provider + " timeout"
		case upstream.Status != 0 && e.Stage == StageSafety:
			return fmt.Sprintf("%s %d: %s", upstream.Provider, upstream.Status, upstream.Body)
		case upstream.Status != 0:
			return upstream.Body
		default:
			return upstream.Provider + " request failed"
		}
	default:
		return domain.Snippet(e.Err.Error())
	}
}

// Tag is the short error tag of the response body.
func (e *StageError) Tag() string {
	var unexpected *domain.UnexpectedResponseError
	switch {
	case e.Stage == StageSafety:
		return "Safety check failed"
	case errors.As(e.Err, &unexpected):
		return "Unexpected response"
	case e.Stage == StageGeneration:
		return "Replicate API error"
	default:
		return "Function error"
	}
}
