package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/metadata"
)

// writeSidecars emits whichever of metadata.opf, info.txt and cover.jpg
// cfg asked for into m.FinalOutput.
func (p *Pipeline) writeSidecars(ctx context.Context, m *metadata.BookMetadata, cfg *config.JobConfig) error {
	if cfg.DryRun {
		return nil
	}

	if cfg.OPF {
		path := filepath.Join(m.FinalOutput, "metadata.opf")
		if err := metadata.WriteOPF(path, p.OPFTemplate, m); err != nil {
			return stageErr(KindFileSystemError, "write opf: %w", err)
		}
	}

	if cfg.InfoTxt {
		if err := writeInfoTxt(m); err != nil {
			return stageErr(KindFileSystemError, "write info.txt: %w", err)
		}
	}

	if cfg.Cover && m.CoverURL != "" {
		if err := p.downloadCover(ctx, m); err != nil {
			return stageErr(KindHTTPExhausted, "download cover: %w", err)
		}
	}

	return nil
}

func writeInfoTxt(m *metadata.BookMetadata) error {
	path := filepath.Join(m.FinalOutput, "info.txt")
	content := fmt.Sprintf(
		"Title: %s\nAuthor: %s\nNarrator: %s\nSeries: %s\nVolume: %s\nPublished: %s\nLanguage: %s\nGenres: %v\n\n%s\n",
		m.Title, m.Author, m.Narrator, m.Series, m.VolumeNumber, m.PublicationDate(), m.Language, m.Genres, m.Summary,
	)
	return os.WriteFile(path, []byte(content), 0o644)
}

func (p *Pipeline) downloadCover(ctx context.Context, m *metadata.BookMetadata) error {
	body, err := p.Fetcher.Get(ctx, m.CoverURL)
	if err != nil {
		return err
	}
	path := filepath.Join(m.FinalOutput, "cover"+coverExt(m.CoverURL))
	return os.WriteFile(path, body, 0o644)
}

func coverExt(url string) string {
	ext := filepath.Ext(url)
	switch ext {
	case ".jpg", ".jpeg", ".png":
		return ext
	default:
		return ".jpg"
	}
}
