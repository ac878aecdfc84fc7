// Package scraper adapts site-specific catalog HTML and search APIs into
// metadata.BookMetadata, behind a small registry keyed by site name so the
// pipeline's fetch/scrape stage never special-cases a site by name.
package scraper

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/badabook/audiobookctl/internal/metadata"
)

// Scraper is the interface every site-specific catalog adapter implements.
type Scraper interface {
	// Site is the registry key (e.g. "audible", "goodreads").
	Site() string

	// URLPattern matches URLs this scraper can handle.
	URLPattern() *regexp.Regexp

	// Preprocess normalizes a URL before it's fetched (e.g. stripping
	// tracking query parameters, following a known redirect shape).
	Preprocess(url string) string

	// SearchURL builds a catalog search URL for a free-text term, used by
	// the automated candidate search. Returns "" if the site doesn't
	// support search.
	SearchURL(term string) string

	// Fetch retrieves the raw page/response body for url.
	Fetch(ctx context.Context, url string) ([]byte, error)

	// Parse extracts BookMetadata from a previously-fetched body.
	Parse(body []byte, sourceURL string) (*metadata.BookMetadata, error)
}

// Registry is a static, concurrency-safe table of scrapers keyed by site
// name, with URL-pattern-based lookup for classification.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Scraper
	ordered  []Scraper
}

// NewRegistry returns an empty registry; call Register for each site.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Scraper)}
}

// Register adds s to the registry, keyed by s.Site().
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[s.Site()] = s
	r.ordered = append(r.ordered, s)
}

// ErrUnsupportedURL is returned when no registered scraper's URLPattern
// matches, the condition the pipeline reports as its "unsupported URL"
// failure kind.
var ErrUnsupportedURL = fmt.Errorf("scraper: unsupported URL")

// ForSite returns the scraper registered under name, or an error if
// site restriction (the "site" configuration option) names an unknown one.
func (r *Registry) ForSite(name string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("scraper: unknown site %q", name)
	}
	return s, nil
}

// ForURL classifies url against every registered scraper's URLPattern and
// returns the first match.
func (r *Registry) ForURL(url string) (Scraper, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.ordered {
		if s.URLPattern().MatchString(url) {
			return s, nil
		}
	}
	return nil, ErrUnsupportedURL
}

// Sites returns the registered site names, used by "site: all" to fan a
// search across every scraper.
func (r *Registry) Sites() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}
