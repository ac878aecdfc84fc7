// Package app wires the process-level configuration into a ready-to-use
// set of collaborators: the queue store, lock manager, rate limiter,
// genre normalizer, scraper registry, pipeline and dispatcher. cmd/
// depends on this package rather than constructing each package directly,
// so every entry point assembles the system identically.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/dispatch"
	"github.com/badabook/audiobookctl/internal/genre"
	"github.com/badabook/audiobookctl/internal/lock"
	"github.com/badabook/audiobookctl/internal/pipeline"
	"github.com/badabook/audiobookctl/internal/ratelimit"
	"github.com/badabook/audiobookctl/internal/scraper"
	"github.com/badabook/audiobookctl/internal/search"
	"github.com/badabook/audiobookctl/internal/store"
)

// App holds every long-lived collaborator the CLI commands need.
type App struct {
	Config     *config.Config
	Store      *store.Store
	Lock       *lock.Manager
	RateLimit  *ratelimit.Limiter
	Genre      *genre.Normalizer
	Registry   *scraper.Registry
	Fetcher    *scraper.Fetcher
	Pipeline   *pipeline.Pipeline
	Dispatcher *dispatch.Dispatcher
	Planner    *dispatch.Planner
}

// New constructs an App from cfg. It opens the queue store and genre
// mapping file, both of which must be closed/flushed by the caller in the
// case of Store (via App.Close). ctx bounds the one-time connectivity
// check New performs when the genre advisor is enabled.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("app: create data dir %q: %w", cfg.DataDir, err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}

	lockMode := lock.ModeOS
	if cfg.Lock.Mode == "db" {
		lockMode = lock.ModeDB
	}
	locks := lock.New(lockMode, st)

	limiter := ratelimit.New(cfg.RateLimit.MinDelay)

	mapping, err := genre.LoadMapping(cfg.Genre.MappingPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	var advisor genre.Advisor = genre.NoopAdvisor{}
	if cfg.Genre.AdvisorEnabled {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			st.Close()
			return nil, fmt.Errorf("app: genre.advisor_enabled requires ANTHROPIC_API_KEY")
		}
		a, err := genre.NewAnthropicAdvisor(ctx, key, cfg.Genre.AdvisorModel, cfg.Genre.ConfidenceThreshold)
		if err != nil {
			st.Close()
			return nil, err
		}
		advisor = a
	}
	normalizer := genre.New(mapping, advisor)

	registry := scraper.NewRegistry()
	registry.Register(scraper.NewAudiobookBay(scraper.NewFetcher(limiter)))
	fetcher := scraper.NewFetcher(limiter)

	opfTemplate, err := loadOPFTemplate(cfg.OPF.TemplatePath)
	if err != nil {
		st.Close()
		return nil, err
	}

	p := pipeline.NewBuilder().
		WithRegistry(registry).
		WithFetcher(fetcher).
		WithNormalizer(normalizer).
		WithLocks(locks).
		WithOPFTemplate(opfTemplate).
		WithLockTimeout(cfg.Lock.Timeout).
		WithLockPollInterval(cfg.Lock.PollInterval).
		Build()

	dispatcher := dispatch.New(st, p, cfg.Workers)
	planner := &dispatch.Planner{Store: st, Registry: registry, Fetcher: fetcher, Selector: search.HeuristicSelector{}}

	return &App{
		Config:     cfg,
		Store:      st,
		Lock:       locks,
		RateLimit:  limiter,
		Genre:      normalizer,
		Registry:   registry,
		Fetcher:    fetcher,
		Pipeline:   p,
		Dispatcher: dispatcher,
		Planner:    planner,
	}, nil
}

// Close releases the App's long-lived resources.
func (a *App) Close() error {
	return a.Store.Close()
}

func loadOPFTemplate(path string) (string, error) {
	if path == "" {
		return defaultOPFTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("app: read opf template %q: %w", path, err)
	}
	return string(data), nil
}

const defaultOPFTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" unique-identifier="BookID">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:opf="http://www.idpf.org/2007/opf">
    <dc:title>__TITLE__</dc:title>
    <dc:creator opf:role="aut">__AUTHOR__</dc:creator>
    <dc:creator opf:role="nrt">__NARRATOR__</dc:creator>
    <dc:description>__SUMMARY__</dc:description>
    <dc:publisher>__PUBLISHER__</dc:publisher>
    <dc:language>__LANGUAGE__</dc:language>
    <dc:identifier scheme="ISBN">__ISBN__</dc:identifier>
    <meta name="ASIN" content="__ASIN__"/>
    <meta name="calibre:series" content="__SERIES__"/>
    <meta name="calibre:series_index" content="__VOLUMENUMBER__"/>
    <dc:source>__SOURCE__</dc:source>
    __GENRES__
  </metadata>
</package>
`
