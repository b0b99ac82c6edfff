package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"weltverbinder/internal/domain"
)

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```text")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// limitWords keeps at most n whitespace separated words.
func limitWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}

// fallbackReason turns an upstream error into a short metric label.
func fallbackReason(err error) string {
	var upstream *domain.UpstreamError
	var unexpected *domain.UnexpectedResponseError
	switch {
	case errors.As(err, &upstream) && upstream.Timeout:
		return "timeout"
	case errors.As(err, &upstream) && upstream.Status != 0:
		return fmt.Sprintf("http_%d", upstream.Status)
	case errors.As(err, &upstream):
		return "http_request"
	case errors.As(err, &unexpected):
		return "decode_response"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
