package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/badabook/audiobookctl/internal/metadata"
	"github.com/badabook/audiobookctl/internal/ratelimit"
	"github.com/badabook/audiobookctl/internal/scraper"
)

// countingScraper records how many times its SearchURL was actually
// fetched, so a Discover test can assert a DownloadLimit was honored.
type countingScraper struct {
	site      string
	searchURL string
	requests  *atomic.Int32
}

func (s countingScraper) Site() string              { return s.site }
func (countingScraper) URLPattern() *regexp.Regexp   { return regexp.MustCompile(`^$`) }
func (countingScraper) Preprocess(url string) string { return url }
func (s countingScraper) SearchURL(string) string    { return s.searchURL }
func (s countingScraper) Fetch(ctx context.Context, url string) ([]byte, error) {
	return nil, nil
}
func (countingScraper) Parse([]byte, string) (*metadata.BookMetadata, error) { return nil, nil }

func newCountingRegistry(t *testing.T, names ...string) (*scraper.Registry, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write([]byte("a result\n"))
	}))
	t.Cleanup(srv.Close)

	reg := scraper.NewRegistry()
	for _, name := range names {
		reg.Register(countingScraper{site: name, searchURL: srv.URL})
	}
	return reg, &requests
}

func TestDiscoverHonorsDownloadLimit(t *testing.T) {
	reg, requests := newCountingRegistry(t, "a", "b", "c")
	fetcher := scraper.NewFetcher(ratelimit.New(0))

	_, err := Discover(context.Background(), reg, fetcher, "term", nil, DiscoverOptions{DownloadLimit: 1})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("requests made = %d, want 1 (DownloadLimit should stop further site fetches)", got)
	}
}

func TestDiscoverZeroDownloadLimitFetchesEverySite(t *testing.T) {
	reg, requests := newCountingRegistry(t, "a", "b")
	fetcher := scraper.NewFetcher(ratelimit.New(0))

	_, err := Discover(context.Background(), reg, fetcher, "term", nil, DiscoverOptions{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests made = %d, want 2", got)
	}
}

func TestDiscoverDelayReturnsContextErrorWhenCancelled(t *testing.T) {
	reg, _ := newCountingRegistry(t, "a")
	fetcher := scraper.NewFetcher(ratelimit.New(0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, reg, fetcher, "term", nil, DiscoverOptions{Delay: time.Second})
	if err == nil {
		t.Fatal("expected Discover to fail immediately on a cancelled context during its delay")
	}
}

func TestHeuristicSelectorPrefersTitleMatch(t *testing.T) {
	candidates := []Candidate{
		{Site: "a", Title: "Unrelated Cookbook", Snippet: "recipes"},
		{Site: "b", Title: "The Way of Kings", Snippet: "an epic fantasy by Brandon Sanderson"},
	}

	got, err := HeuristicSelector{}.Select(context.Background(), "The Way of Kings", candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Title != "The Way of Kings" {
		t.Errorf("Select() = %q, want exact title match", got.Title)
	}
}

func TestHeuristicSelectorSingleCandidateShortCircuits(t *testing.T) {
	candidates := []Candidate{{Site: "a", Title: "Anything"}}
	got, err := HeuristicSelector{}.Select(context.Background(), "unrelated term", candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Title != "Anything" {
		t.Errorf("expected the lone candidate, got %q", got.Title)
	}
}

func TestHeuristicSelectorNoCandidates(t *testing.T) {
	_, err := HeuristicSelector{}.Select(context.Background(), "term", nil)
	if err == nil {
		t.Fatal("expected error for empty candidate set")
	}
}

func TestManualSelectorRequestsUserInput(t *testing.T) {
	candidates := []Candidate{
		{Site: "a", Title: "One"},
		{Site: "b", Title: "Two"},
	}
	_, err := ManualSelector{}.Select(context.Background(), "term", candidates)
	if err != ErrNeedsUserInput {
		t.Fatalf("expected ErrNeedsUserInput, got %v", err)
	}
}

func TestManualSelectorNoCandidatesStillErrors(t *testing.T) {
	_, err := ManualSelector{}.Select(context.Background(), "term", nil)
	if err == nil || err == ErrNeedsUserInput {
		t.Fatalf("expected a plain no-candidates error, got %v", err)
	}
}

func TestLLMSelectorSingleCandidateShortCircuitsWithoutCallingTheModel(t *testing.T) {
	// A lone candidate never needs the model: NewLLMSelector("", "") would
	// panic on any real Messages.New call since it carries no API key.
	s := NewLLMSelector("", "claude-sonnet")
	candidates := []Candidate{{Site: "a", Title: "Only One"}}

	got, err := s.Select(context.Background(), "term", candidates)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if got.Title != "Only One" {
		t.Errorf("expected the lone candidate, got %q", got.Title)
	}
}

func TestLLMSelectorNoCandidatesErrorsWithoutCallingTheModel(t *testing.T) {
	s := NewLLMSelector("", "claude-sonnet")
	_, err := s.Select(context.Background(), "term", nil)
	if err == nil {
		t.Fatal("expected error for empty candidate set")
	}
}

func TestBuildSelectPromptListsCandidatesInRankOrder(t *testing.T) {
	candidates := []Candidate{
		{Site: "a", Title: "Unrelated Cookbook", Snippet: "recipes"},
		{Site: "b", Title: "The Way of Kings", Snippet: "an epic fantasy"},
	}
	prompt := buildSelectPrompt("The Way of Kings", sortByScore(candidates, "The Way of Kings"))

	wantFirst := "1. [b] The Way of Kings"
	if idx := indexOf(prompt, wantFirst); idx < 0 {
		t.Errorf("prompt = %q, want it to rank %q first", prompt, wantFirst)
	}
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
