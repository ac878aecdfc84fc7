// Package pipeline runs a single task's folder through source resolution,
// scraping, on-disk organization and sidecar/tag emission as a sequential
// state machine, any stage of which may short-circuit the task to
// skipped or failed.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/genre"
	"github.com/badabook/audiobookctl/internal/lock"
	"github.com/badabook/audiobookctl/internal/metadata"
	"github.com/badabook/audiobookctl/internal/scraper"
)

// OPFMarker is Task.URL's literal value meaning "load from the folder's
// existing metadata.opf" rather than scraping a remote site.
const OPFMarker = "OPF"

// Pipeline holds the collaborators every task's run needs: the scraper
// registry, the shared genre normalizer, and the lock manager guarding
// directory creation. One Pipeline is shared by every worker goroutine.
type Pipeline struct {
	Registry  *scraper.Registry
	Fetcher   *scraper.Fetcher
	Normalize *genre.Normalizer
	Locks     *lock.Manager

	OPFTemplate string

	LockTimeout      time.Duration
	LockPollInterval time.Duration
}

// Result is what a successful (or skipped) task run produces.
type Result struct {
	Metadata *metadata.BookMetadata
	Skipped  bool
}

// Run executes every configured stage for folder/url against cfg,
// returning the final metadata or a *StageError classifying the failure.
// taskID tags the metadata passed to the lock manager so two tasks never
// appear to hold the same lock.
func (p *Pipeline) Run(ctx context.Context, taskID, folder, url string, cfg *config.JobConfig) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &StageError{Kind: KindCancelled, Err: err}
	}

	m, opfSourceURL, err := p.resolveSource(ctx, folder, url)
	if err != nil {
		return nil, err
	}
	m.TaskID = taskID
	if m.Skip {
		return &Result{Metadata: m, Skipped: true}, nil
	}

	if cfg.FromOPF && cfg.ForceRefresh {
		if opfSourceURL == "" {
			return nil, stageErr(KindSourceNotFound, "force_refresh requested but OPF has no source URL")
		}
		refreshed, err := p.scrape(ctx, opfSourceURL)
		if err != nil {
			return nil, err
		}
		mergeEmptyFields(m, refreshed)
	}

	if len(m.Genres) > 0 {
		normalized, err := p.Normalize.Normalize(ctx, m.Genres)
		if err != nil {
			return nil, &StageError{Kind: KindLLMError, Err: err}
		}
		m.Genres = normalized
	}

	if err := ctx.Err(); err != nil {
		return nil, &StageError{Kind: KindCancelled, Err: err}
	}

	if cfg.Copy || cfg.Move {
		if err := p.organize(ctx, m, cfg); err != nil {
			return nil, err
		}
	} else {
		m.FinalOutput = folder
	}

	if cfg.Flatten {
		if err := flatten(m.FinalOutput); err != nil {
			return nil, stageErr(KindFileSystemError, "flatten %q: %w", m.FinalOutput, err)
		}
	}

	if cfg.Rename {
		if err := renameTracks(m.FinalOutput, m.SafeTitle()); err != nil {
			return nil, stageErr(KindFileSystemError, "rename tracks in %q: %w", m.FinalOutput, err)
		}
	}

	if cfg.OPF || cfg.InfoTxt || cfg.Cover {
		if err := p.writeSidecars(ctx, m, cfg); err != nil {
			return nil, err
		}
	}

	if cfg.ID3Tag {
		if err := embedTags(m, cfg.Debug); err != nil {
			return nil, err
		}
	}

	slog.Info("task completed", "folder", folder, "output", m.FinalOutput)
	return &Result{Metadata: m}, nil
}

func (p *Pipeline) resolveSource(ctx context.Context, folder, url string) (*metadata.BookMetadata, string, error) {
	if url == OPFMarker {
		m, err := p.resolveFromOPF(folder)
		if err != nil {
			return nil, "", err
		}
		return m, m.URL, nil
	}

	m, err := p.scrape(ctx, url)
	if err != nil {
		return nil, "", err
	}
	m.Folder = folder
	return m, "", nil
}

func (p *Pipeline) resolveFromOPF(folder string) (*metadata.BookMetadata, error) {
	path := folder + "/metadata.opf"
	m, err := metadata.ReadOPF(path)
	if err != nil {
		return nil, stageErr(KindSourceNotFound, "read %q: %w", path, err)
	}
	m.Folder = folder
	return m, nil
}

func (p *Pipeline) scrape(ctx context.Context, url string) (*metadata.BookMetadata, error) {
	s, err := p.Registry.ForURL(url)
	if err != nil {
		return nil, &StageError{Kind: KindUnsupportedURL, Err: err}
	}

	preprocessed := s.Preprocess(url)
	body, err := s.Fetch(ctx, preprocessed)
	if err != nil {
		return nil, &StageError{Kind: KindHTTPExhausted, Err: err}
	}

	m, err := s.Parse(body, preprocessed)
	if err != nil {
		return nil, &StageError{Kind: KindParseError, Err: err}
	}
	if m.Failed {
		return nil, stageErr(KindParseError, "%s", m.FailedException)
	}
	return m, nil
}

// mergeEmptyFields copies non-empty fields from scraped into m wherever m's
// own value is empty, implementing OPF precedence (§4.5 step 4).
func mergeEmptyFields(m, scraped *metadata.BookMetadata) {
	if m.Title == "" {
		m.Title = scraped.Title
	}
	if m.Author == "" {
		m.Author = scraped.Author
	}
	if m.Narrator == "" {
		m.Narrator = scraped.Narrator
	}
	if m.Summary == "" {
		m.Summary = scraped.Summary
	}
	if m.ISBN == "" {
		m.ISBN = scraped.ISBN
	}
	if m.ASIN == "" {
		m.ASIN = scraped.ASIN
	}
	if m.Series == "" {
		m.Series = scraped.Series
	}
	if m.VolumeNumber == "" {
		m.VolumeNumber = scraped.VolumeNumber
	}
	if m.CoverURL == "" {
		m.CoverURL = scraped.CoverURL
	}
	if len(m.Genres) == 0 {
		m.Genres = scraped.Genres
	}
}
