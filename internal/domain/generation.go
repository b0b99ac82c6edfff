package domain

import (
	"strings"
	"unicode/utf8"
)

// VideoModel selects the generation preset.
type VideoModel string

const (
	VideoModelSchnell VideoModel = "schnell"
	VideoModelQuality VideoModel = "quality"
)

// MinPromptLength is the minimum number of characters after trimming.
const MinPromptLength = 3

// NormalizeVideoModel maps free-form input onto a supported model. Anything
// other than "quality" runs on the fast preset.
func NormalizeVideoModel(model string) VideoModel {
	if strings.EqualFold(strings.TrimSpace(model), string(VideoModelQuality)) {
		return VideoModelQuality
	}
	return VideoModelSchnell
}

// GenerationRequest is built per HTTP call and never persisted.
type GenerationRequest struct {
	Prompt string     `json:"prompt"`
	Model  VideoModel `json:"model"`
}

// Validate rejects prompts shorter than MinPromptLength trimmed characters and
// normalizes the model.
func (r *GenerationRequest) Validate() error {
	if utf8.RuneCountInString(strings.TrimSpace(r.Prompt)) < MinPromptLength {
		return ErrPromptTooShort
	}
	r.Model = NormalizeVideoModel(string(r.Model))
	return nil
}

// Verdict is the safety classification outcome.
type Verdict string

const (
	VerdictSafe   Verdict = "SAFE"
	VerdictUnsafe Verdict = "UNSAFE"
)

// SafetyVerdict is derived from one classifier response. Raw keeps the
// classifier text for display; Recognized is false when the response matched
// neither convention and was treated as safe.
type SafetyVerdict struct {
	Verdict    Verdict
	Reason     string
	Raw        string
	Recognized bool
}

func (v SafetyVerdict) Unsafe() bool {
	return v.Verdict == VerdictUnsafe
}

// JobStatus mirrors the provider prediction lifecycle.
type JobStatus string

const (
	JobStarting   JobStatus = "starting"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}
