package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/metadata"
	"github.com/badabook/audiobookctl/internal/ratelimit"
	"github.com/badabook/audiobookctl/internal/scraper"
	"github.com/badabook/audiobookctl/internal/search"
	"github.com/badabook/audiobookctl/internal/store"
)

// emptyResultsScraper always reports search support but returns a blank
// results page, the shape that drives Discover to zero candidates.
type emptyResultsScraper struct {
	searchURL string
}

func (emptyResultsScraper) Site() string                    { return "fake" }
func (emptyResultsScraper) URLPattern() *regexp.Regexp       { return regexp.MustCompile(`^$`) }
func (emptyResultsScraper) Preprocess(url string) string     { return url }
func (s emptyResultsScraper) SearchURL(string) string        { return s.searchURL }
func (s emptyResultsScraper) Fetch(context.Context, string) ([]byte, error) {
	return nil, nil
}
func (emptyResultsScraper) Parse([]byte, string) (*metadata.BookMetadata, error) {
	return nil, nil
}

func newTestPlanner(t *testing.T, st *store.Store, selector search.Selector) *Planner {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\n"))
	}))
	t.Cleanup(srv.Close)

	reg := scraper.NewRegistry()
	reg.Register(emptyResultsScraper{searchURL: srv.URL})

	return &Planner{
		Store:    st,
		Registry: reg,
		Fetcher:  scraper.NewFetcher(ratelimit.New(0)),
		Selector: selector,
	}
}

// TestPlanOneSuspendsForManualSearchOnZeroCandidates covers the documented
// fallback: an automated search yielding no candidates suspends the task
// with a manual_search prompt instead of failing the job outright, as long
// as the job isn't yolo.
func TestPlanOneSuspendsForManualSearchOnZeroCandidates(t *testing.T) {
	st := newTestStore(t)
	pl := newTestPlanner(t, st, search.HeuristicSelector{})

	jobID, err := st.CreateJob(context.Background(), &config.JobConfig{}, "")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.JobConfig{AutoSearch: true, Site: "fake"}

	if err := pl.planOne(context.Background(), jobID, "/library/Some Book", cfg); err != nil {
		t.Fatalf("planOne: %v", err)
	}

	tasks, err := st.GetTasksForJob(context.Background(), jobID, store.TaskWaitingForUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 waiting_for_user task, got %d", len(tasks))
	}
	if tasks[0].UserInputType != "manual_search" {
		t.Errorf("UserInputType = %q, want manual_search", tasks[0].UserInputType)
	}
}

// TestPlanOneFailsOnZeroCandidatesWhenYolo covers the opposite: with yolo
// set there is no prompt to auto-accept, so a search miss is a hard error.
func TestPlanOneFailsOnZeroCandidatesWhenYolo(t *testing.T) {
	st := newTestStore(t)
	pl := newTestPlanner(t, st, search.HeuristicSelector{})

	jobID, err := st.CreateJob(context.Background(), &config.JobConfig{}, "")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.JobConfig{AutoSearch: true, Site: "fake", Yolo: true}

	if err := pl.planOne(context.Background(), jobID, "/library/Some Book", cfg); err == nil {
		t.Fatal("expected planOne to fail when yolo and search yields no candidates")
	}
}
