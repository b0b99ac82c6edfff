package prompt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"weltverbinder/internal/domain"
	"weltverbinder/internal/providers/claude"
)

const safetyMaxTokens = 100

// SafetyClassifier decides whether a prompt may be rendered for children.
type SafetyClassifier interface {
	Classify(ctx context.Context, prompt string) (domain.SafetyVerdict, error)
}

type ClaudeSafetyOptions struct {
	Client Completer
	// OnWarning is called when the classifier answer followed no known convention.
	OnWarning func(reason, detail string)
}

// ClaudeSafety classifies prompts with a single Claude call. Upstream errors
// are returned unchanged; the caller treats them as fatal.
type ClaudeSafety struct {
	client    Completer
	onWarning func(reason, detail string)
}

func NewClaudeSafety(opts ClaudeSafetyOptions) *ClaudeSafety {
	return &ClaudeSafety{client: opts.Client, onWarning: opts.OnWarning}
}

func (c *ClaudeSafety) Classify(ctx context.Context, prompt string) (domain.SafetyVerdict, error) {
	if c.client == nil {
		return domain.SafetyVerdict{}, errors.New("prompt: safety client not configured")
	}
	text, err := c.client.Complete(ctx, claude.MessageRequest{
		Stage:     "safety",
		Prompt:    buildSafetyPrompt(prompt),
		MaxTokens: safetyMaxTokens,
	})
	if err != nil {
		return domain.SafetyVerdict{}, err
	}
	verdict := parseVerdict(text)
	if !verdict.Recognized && c.onWarning != nil {
		c.onWarning("unrecognized_verdict", domain.Snippet(verdict.Raw))
	}
	return verdict, nil
}

type verdictPayload struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// parseVerdict accepts the plain "SAFE" / "UNSAFE: reason" convention and a
// JSON object {"verdict","reason"}. Anything else counts as safe but is
// flagged as unrecognized.
func parseVerdict(text string) domain.SafetyVerdict {
	raw := strings.TrimSpace(text)
	body := trimCodeFence(raw)
	upper := strings.ToUpper(body)

	switch {
	case strings.HasPrefix(upper, string(domain.VerdictUnsafe)):
		reason := body[len(domain.VerdictUnsafe):]
		reason = strings.TrimSpace(strings.TrimLeft(reason, ":-– "))
		return domain.SafetyVerdict{Verdict: domain.VerdictUnsafe, Reason: coalesce(reason, "unspecified"), Raw: raw, Recognized: true}
	case strings.HasPrefix(upper, string(domain.VerdictSafe)):
		return domain.SafetyVerdict{Verdict: domain.VerdictSafe, Raw: raw, Recognized: true}
	}

	if fragment := extractJSONFragment(body); strings.HasPrefix(fragment, "{") {
		var payload verdictPayload
		if err := json.Unmarshal([]byte(fragment), &payload); err == nil {
			switch strings.ToUpper(strings.TrimSpace(payload.Verdict)) {
			case string(domain.VerdictUnsafe):
				return domain.SafetyVerdict{Verdict: domain.VerdictUnsafe, Reason: coalesce(payload.Reason, "unspecified"), Raw: raw, Recognized: true}
			case string(domain.VerdictSafe):
				return domain.SafetyVerdict{Verdict: domain.VerdictSafe, Reason: payload.Reason, Raw: raw, Recognized: true}
			}
		}
	}

	return domain.SafetyVerdict{Verdict: domain.VerdictSafe, Raw: raw}
}

var _ SafetyClassifier = (*ClaudeSafety)(nil)
