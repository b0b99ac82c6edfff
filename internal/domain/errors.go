package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPrompt   = errors.New("invalid prompt")
	ErrPromptTooShort  = fmt.Errorf("%w: prompt too short", ErrInvalidPrompt)
	ErrProviderFailure = errors.New("provider failure")
	ErrBoardClosed     = errors.New("board closed")
	ErrInvalidPost     = errors.New("invalid post")
	ErrInvalidClass    = errors.New("invalid class name")
)

// SnippetLimit caps upstream bodies copied into errors and logs.
const SnippetLimit = 200

// Snippet truncates s to SnippetLimit bytes without splitting a UTF-8 sequence.
func Snippet(s string) string {
	if len(s) <= SnippetLimit {
		return s
	}
	cut := SnippetLimit
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// ConfigError names a missing configuration variable. The value itself is never carried.
type ConfigError struct {
	Variable string
}

func (e *ConfigError) Error() string {
	return e.Variable + " not configured"
}

// UnsafeContentError is returned when the safety classifier rejects a prompt.
// Message is the classifier answer as shown to the user.
type UnsafeContentError struct {
	Reason  string
	Message string
}

func (e *UnsafeContentError) Error() string {
	return "unsafe content: " + e.Reason
}

// UpstreamError describes a failed call to a third-party provider.
type UpstreamError struct {
	Provider string
	Stage    string
	Status   int
	Body     string
	Timeout  bool
	Err      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timeout", e.Provider, e.Stage)
	case e.Status != 0:
		return fmt.Sprintf("%s %s: status %d: %s", e.Provider, e.Stage, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Stage, e.Err)
	default:
		return fmt.Sprintf("%s %s: failed", e.Provider, e.Stage)
	}
}

func (e *UpstreamError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrProviderFailure
}

// UnexpectedResponseError is returned when a provider answered 2xx with a body
// that does not fit the expected shape.
type UnexpectedResponseError struct {
	Provider string
	Detail   string
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("%s: unexpected response: %s", e.Provider, e.Detail)
}

func (e *UnexpectedResponseError) Unwrap() error {
	return ErrProviderFailure
}
