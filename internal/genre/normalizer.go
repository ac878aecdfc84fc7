// Package genre canonicalizes book genres against a persisted
// canonical/alternatives mapping, optionally consulting an LLM advisor to
// categorize genres the mapping has never seen before.
package genre

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Normalizer maps raw genre strings to canonical, deduplicated form.
type Normalizer struct {
	mapping *Mapping
	advisor Advisor
}

// New constructs a Normalizer. Pass NoopAdvisor{} to disable LLM
// categorization; an unmapped genre then becomes its own new canonical
// category instead of being referred to the advisor.
func New(mapping *Mapping, advisor Advisor) *Normalizer {
	if advisor == nil {
		advisor = NoopAdvisor{}
	}
	return &Normalizer{mapping: mapping, advisor: advisor}
}

// Normalize canonicalizes and deduplicates genres, preserving first-seen
// order. An advisor error for any single genre aborts the whole call: the
// caller (the pipeline's classification stage) fails the task with an
// llm_error stage error rather than silently drop that genre.
func (n *Normalizer) Normalize(ctx context.Context, genres []string) ([]string, error) {
	if len(genres) == 0 {
		return nil, nil
	}

	var out []string
	seen := make(map[string]bool, len(genres))

	for _, raw := range genres {
		g := strings.TrimSpace(raw)
		if g == "" {
			continue
		}

		canonical, err := n.resolve(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("genre: normalize %q: %w", g, err)
		}
		if seen[canonical] {
			continue
		}
		seen[canonical] = true
		out = append(out, canonical)
	}
	return out, nil
}

func (n *Normalizer) resolve(ctx context.Context, genre string) (string, error) {
	if canonical, ok := n.mapping.Canonical(genre); ok {
		return canonical, nil
	}

	lowered := strings.ToLower(genre)
	match, err := n.advisor.Categorize(ctx, lowered, n.mapping)
	if err != nil {
		return "", err
	}

	if match != "" {
		slog.Info("genre advisor mapped genre", "genre", lowered, "canonical", match)
		if err := n.mapping.AddAlternative(match, lowered); err != nil {
			return "", err
		}
		return match, nil
	}

	slog.Info("genre advisor found no match, adding as new canonical genre", "genre", lowered)
	if err := n.mapping.AddCanonical(lowered); err != nil {
		return "", err
	}
	return lowered, nil
}
