package pipeline

import (
	"time"

	"github.com/badabook/audiobookctl/internal/genre"
	"github.com/badabook/audiobookctl/internal/lock"
	"github.com/badabook/audiobookctl/internal/scraper"
)

// Builder provides a fluent interface for assembling a Pipeline, an
// alternative to constructing the struct literal directly when the CLI
// layer has collaborators available one at a time.
type Builder struct {
	pipeline Pipeline
}

// NewBuilder returns a Builder with the pipeline's default lock timeout.
func NewBuilder() *Builder {
	return &Builder{
		pipeline: Pipeline{
			LockTimeout:      30 * time.Second,
			LockPollInterval: 200 * time.Millisecond,
		},
	}
}

// WithRegistry sets the scraper registry.
func (b *Builder) WithRegistry(r *scraper.Registry) *Builder {
	b.pipeline.Registry = r
	return b
}

// WithFetcher sets the HTTP fetcher used for sidecar cover downloads.
func (b *Builder) WithFetcher(f *scraper.Fetcher) *Builder {
	b.pipeline.Fetcher = f
	return b
}

// WithNormalizer sets the genre normalizer.
func (b *Builder) WithNormalizer(n *genre.Normalizer) *Builder {
	b.pipeline.Normalize = n
	return b
}

// WithLocks sets the directory lock manager.
func (b *Builder) WithLocks(m *lock.Manager) *Builder {
	b.pipeline.Locks = m
	return b
}

// WithOPFTemplate sets the metadata.opf template content.
func (b *Builder) WithOPFTemplate(template string) *Builder {
	b.pipeline.OPFTemplate = template
	return b
}

// WithLockTimeout overrides the default directory-lock timeout.
func (b *Builder) WithLockTimeout(d time.Duration) *Builder {
	b.pipeline.LockTimeout = d
	return b
}

// WithLockPollInterval overrides the default directory-lock poll interval.
func (b *Builder) WithLockPollInterval(d time.Duration) *Builder {
	b.pipeline.LockPollInterval = d
	return b
}

// Build returns the assembled Pipeline.
func (b *Builder) Build() *Pipeline {
	return &b.pipeline
}
