package prompt

import (
	"context"
	"errors"
	"strings"

	"weltverbinder/internal/providers/claude"
)

const (
	staticProviderName = "static"
	claudeProviderName = "claude"

	enhanceMaxTokens = 300
	enhanceMaxWords  = 100
)

// Completer is the subset of the Claude client the prompt services need.
type Completer interface {
	Complete(ctx context.Context, req claude.MessageRequest) (string, error)
}

// Enhancement is the prompt sent to the video model.
type Enhancement struct {
	Prompt         string
	Provider       string
	FallbackReason string
}

type Enhancer interface {
	Enhance(ctx context.Context, prompt string) (*Enhancement, error)
}

// StaticEnhancer returns the prompt verbatim.
type StaticEnhancer struct{}

func NewStaticEnhancer() *StaticEnhancer {
	return &StaticEnhancer{}
}

func (s *StaticEnhancer) Enhance(_ context.Context, prompt string) (*Enhancement, error) {
	return &Enhancement{Prompt: prompt, Provider: staticProviderName}, nil
}

type ClaudeEnhancerOptions struct {
	Client     Completer
	Fallback   Enhancer
	OnFallback func(reason string, err error)
}

// ClaudeEnhancer rewrites prompts into English video prompts. It never fails:
// every problem with the upstream call is answered by the fallback.
type ClaudeEnhancer struct {
	client     Completer
	fallback   Enhancer
	onFallback func(reason string, err error)
}

func NewClaudeEnhancer(opts ClaudeEnhancerOptions) *ClaudeEnhancer {
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStaticEnhancer()
	}
	return &ClaudeEnhancer{client: opts.Client, fallback: fallback, onFallback: opts.OnFallback}
}

func (c *ClaudeEnhancer) Enhance(ctx context.Context, prompt string) (*Enhancement, error) {
	if c.client == nil {
		return c.useFallback(ctx, prompt, "missing_client", nil)
	}
	text, err := c.client.Complete(ctx, claude.MessageRequest{
		Stage:     "enhance",
		Prompt:    buildEnhancePrompt(prompt),
		MaxTokens: enhanceMaxTokens,
	})
	if err != nil {
		return c.useFallback(ctx, prompt, fallbackReason(err), err)
	}
	cleaned := limitWords(cleanModelText(text), enhanceMaxWords)
	if cleaned == "" {
		return c.useFallback(ctx, prompt, "empty_response", errors.New("empty response"))
	}
	return &Enhancement{Prompt: cleaned, Provider: claudeProviderName}, nil
}

func (c *ClaudeEnhancer) useFallback(ctx context.Context, prompt, reason string, fallbackErr error) (*Enhancement, error) {
	if c.onFallback != nil {
		c.onFallback(reason, fallbackErr)
	}
	res, err := c.fallback.Enhance(ctx, prompt)
	if err != nil || res == nil {
		res = &Enhancement{Prompt: prompt, Provider: staticProviderName}
	}
	if res.Provider == "" {
		res.Provider = staticProviderName
	}
	res.FallbackReason = reason
	return res, nil
}

// cleanModelText strips code fences and wrapping quotes the model sometimes adds.
func cleanModelText(text string) string {
	cleaned := trimCodeFence(text)
	for _, pair := range [][2]string{{`"`, `"`}, {"'", "'"}, {"„", "“"}, {"“", "”"}} {
		if len(cleaned) >= len(pair[0])+len(pair[1]) && strings.HasPrefix(cleaned, pair[0]) && strings.HasSuffix(cleaned, pair[1]) {
			cleaned = strings.TrimSpace(cleaned[len(pair[0]) : len(cleaned)-len(pair[1])])
			break
		}
	}
	return cleaned
}

var _ Enhancer = (*StaticEnhancer)(nil)
var _ Enhancer = (*ClaudeEnhancer)(nil)
