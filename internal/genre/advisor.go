package genre

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// noFitSentinel is the lower-cased form of the NO_FIT response the advisor
// prompt instructs the model to return when no existing canonical genre
// fits; replies are lower-cased before being compared against it.
const noFitSentinel = "no_fit"

// Advisor categorizes a genre the mapping has no entry for into one of the
// existing canonical genres, or reports that none fits.
type Advisor interface {
	// Categorize returns the canonical genre name candidate fits, "" if it
	// fits none of them confidently enough, and an error if the advisor
	// itself failed (distinct from a confident "no fit" answer).
	Categorize(ctx context.Context, candidate string, mapping *Mapping) (string, error)
}

// NoopAdvisor always reports no fit, used when the genre advisor is
// disabled in configuration.
type NoopAdvisor struct{}

func (NoopAdvisor) Categorize(_ context.Context, _ string, _ *Mapping) (string, error) {
	return "", nil
}

// AnthropicAdvisor asks a Claude model whether an unmapped genre belongs to
// one of the mapping's existing canonical categories.
type AnthropicAdvisor struct {
	client     anthropic.Client
	model      string
	confidence float64
}

// NewAnthropicAdvisor constructs an advisor bound to model, and pings the
// API once with a trivial prompt so a misconfigured key or unreachable
// endpoint is caught at startup rather than on the first real genre.
func NewAnthropicAdvisor(ctx context.Context, apiKey, model string, confidence float64) (*AnthropicAdvisor, error) {
	a := &AnthropicAdvisor{
		client:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:      model,
		confidence: confidence,
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("Reply with only the word OK")),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("genre: advisor connectivity check: %w", err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("genre: advisor connectivity check returned an empty response")
	}
	return a, nil
}

// Categorize implements Advisor.
func (a *AnthropicAdvisor) Categorize(ctx context.Context, candidate string, mapping *Mapping) (string, error) {
	prompt := buildPrompt(candidate, mapping, a.confidence)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 6000,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("genre: categorize %q: %w", candidate, err)
	}
	if msg.StopReason != anthropic.StopReasonEndTurn {
		return "", fmt.Errorf("genre: categorize %q: incomplete response (stop_reason=%s)", candidate, msg.StopReason)
	}
	if len(msg.Content) == 0 {
		return "", fmt.Errorf("genre: categorize %q: empty response", candidate)
	}

	text := strings.ToLower(strings.TrimSpace(msg.Content[0].Text))
	if text == noFitSentinel {
		return "", nil
	}
	if containsCanonical(mapping, text) {
		return text, nil
	}
	if canonical, ok := mapping.Canonical(text); ok {
		return canonical, nil
	}
	return "", fmt.Errorf("genre: categorize %q: advisor returned unrecognized category %q", candidate, text)
}

func containsCanonical(mapping *Mapping, name string) bool {
	for _, c := range mapping.Canonicals() {
		if c == name {
			return true
		}
	}
	return false
}

func buildPrompt(candidate string, mapping *Mapping, confidence float64) string {
	snapshot, _ := json.MarshalIndent(mapping.Snapshot(), "", "  ")
	pct := int(confidence * 100)

	var b strings.Builder
	fmt.Fprintf(&b, "You are a book genre classification assistant. Determine if a new genre fits into any of my existing genre categories.\n\n")
	fmt.Fprintf(&b, "Existing genre categories and their alternatives:\n%s\n\n", snapshot)
	fmt.Fprintf(&b, "New genre to categorize: %q\n\n", candidate)
	fmt.Fprintf(&b, "Only suggest a match if you are at least %d%% confident it fits. Consider synonyms, ", pct)
	b.WriteString("related concepts, subcategories and translations; a different language should not reduce confidence if the meaning matches.\n\n")
	fmt.Fprintf(&b, "Respond with ONLY the canonical genre name if you find a match at or above %d%% confidence, ", pct)
	fmt.Fprintf(&b, "or ONLY %q otherwise. No explanations.", strings.ToUpper(noFitSentinel))
	return b.String()
}
