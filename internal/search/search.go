// Package search implements automated candidate discovery across the
// scraper registry and the selection policies (heuristic, LLM-advised, or
// manual) that pick one candidate to scrape in full.
package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/badabook/audiobookctl/internal/scraper"
)

// Candidate is one search result: enough to render a choice to a user or
// score it heuristically, without yet having scraped the full page.
type Candidate struct {
	Site    string
	URL     string
	Title   string
	Snippet string
}

// DiscoverOptions tunes the cost of a Discover call: how many candidates a
// single site's results are truncated to, how many site requests the whole
// call is allowed to issue in total, and an extra pacing delay applied
// before each one (on top of the fetcher's own per-host rate limit).
type DiscoverOptions struct {
	SearchLimit   int
	DownloadLimit int
	Delay         time.Duration
}

// Discover runs term against every named site's SearchURL (or every
// registered site if sites is empty), returning up to opts.SearchLimit
// candidates per site. A site lacking search support (SearchURL returns
// "") is skipped rather than treated as an error. opts.DownloadLimit caps
// the total number of site requests issued (0 = unlimited); once reached,
// remaining sites are skipped rather than erroring, since a partial
// candidate set still lets a Selector try.
func Discover(ctx context.Context, reg *scraper.Registry, fetcher *scraper.Fetcher, term string, sites []string, opts DiscoverOptions) ([]Candidate, error) {
	if len(sites) == 0 {
		sites = reg.Sites()
	}

	var all []Candidate
	requests := 0
	for _, site := range sites {
		if opts.DownloadLimit > 0 && requests >= opts.DownloadLimit {
			break
		}

		s, err := reg.ForSite(site)
		if err != nil {
			return nil, err
		}
		searchURL := s.SearchURL(term)
		if searchURL == "" {
			continue
		}

		if opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}

		body, err := fetcher.Get(ctx, searchURL)
		requests++
		if err != nil {
			return nil, fmt.Errorf("search: %s: %w", site, err)
		}

		found, err := parseCandidates(body, site, opts.SearchLimit)
		if err != nil {
			return nil, fmt.Errorf("search: %s: parse results: %w", site, err)
		}
		all = append(all, found...)
	}
	return all, nil
}

func parseCandidates(body []byte, site string, limit int) ([]Candidate, error) {
	lines := strings.Split(string(body), "\n")
	var out []Candidate
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, Candidate{Site: site, Title: line})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Selector picks one candidate from a discovered set.
type Selector interface {
	Select(ctx context.Context, term string, candidates []Candidate) (*Candidate, error)
}

// ErrNoCandidates is returned by a Selector when Discover found nothing to
// choose from.
var ErrNoCandidates = fmt.Errorf("search: no candidates found")

// HeuristicSelector scores candidates by term overlap with the title and
// snippet, picking the highest scorer. It never errors on a non-empty
// input, matching the "always resolves, no human needed" automated path.
type HeuristicSelector struct{}

func (HeuristicSelector) Select(_ context.Context, term string, candidates []Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}

	best := candidates[0]
	bestScore := score(best, term)
	for _, c := range candidates[1:] {
		if s := score(c, term); s > bestScore {
			best, bestScore = c, s
		}
	}
	return &best, nil
}

func score(c Candidate, term string) float64 {
	termLower := strings.ToLower(term)
	titleLower := strings.ToLower(c.Title)
	snippetLower := strings.ToLower(c.Snippet)

	var s float64
	if strings.Contains(titleLower, termLower) {
		s += 10
	}
	termWords := wordSet(termLower)
	titleWords := wordSet(titleLower)
	for w := range termWords {
		if titleWords[w] {
			s += 2
		}
	}
	if strings.Contains(snippetLower, termLower) {
		s += 5
	}
	return s
}

func wordSet(s string) map[string]bool {
	words := strings.Fields(s)
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// ManualSelector never resolves on its own; it always reports that the
// caller should suspend the task for operator input, the Go analog of the
// original tool's interactive prompt.
type ManualSelector struct{}

// ErrNeedsUserInput signals the pipeline to call store.SetTaskWaitingForUser
// with the candidate list rather than treating this as a failure.
var ErrNeedsUserInput = fmt.Errorf("search: candidate choice needs user input")

func (ManualSelector) Select(_ context.Context, _ string, candidates []Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return nil, ErrNeedsUserInput
}

// sortByScore orders candidates best-first, used to present a ranked list
// to either an LLM advisor prompt or a human operator.
func sortByScore(candidates []Candidate, term string) []Candidate {
	out := append([]Candidate(nil), candidates...)
	sort.SliceStable(out, func(i, j int) bool {
		return score(out[i], term) > score(out[j], term)
	})
	return out
}

// LLMSelector asks a Claude model to pick the candidate that best matches
// term, falling back to ErrNeedsUserInput when the model can't commit to
// one. The ranked list keeps the prompt short and gives the model a
// consistent 1-based index to answer with instead of echoing a title back.
type LLMSelector struct {
	client anthropic.Client
	model  string
}

// NewLLMSelector constructs a selector bound to model.
func NewLLMSelector(apiKey, model string) LLMSelector {
	return LLMSelector{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (s LLMSelector) Select(ctx context.Context, term string, candidates []Candidate) (*Candidate, error) {
	if len(candidates) == 0 {
		return nil, ErrNoCandidates
	}
	if len(candidates) == 1 {
		return &candidates[0], nil
	}

	ranked := sortByScore(candidates, term)
	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildSelectPrompt(term, ranked))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search: llm select %q: %w", term, err)
	}
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("search: llm select %q: empty response", term)
	}

	text := strings.TrimSpace(msg.Content[0].Text)
	if strings.EqualFold(text, "none") {
		return nil, ErrNeedsUserInput
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(ranked) {
		return nil, ErrNeedsUserInput
	}
	return &ranked[n-1], nil
}

func buildSelectPrompt(term string, ranked []Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are choosing which search result best matches an audiobook folder named %q.\n\n", term)
	b.WriteString("Candidates:\n")
	for i, c := range ranked {
		fmt.Fprintf(&b, "%d. [%s] %s — %s\n", i+1, c.Site, c.Title, c.Snippet)
	}
	b.WriteString("\nReply with ONLY the number of the best match, or ONLY \"none\" if none of them plausibly match. No explanation.")
	return b.String()
}
