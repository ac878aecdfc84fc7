package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/metadata"
)

const defaultLockPollInterval = 200 * time.Millisecond

// targetPath computes the on-disk destination for m under root, using the
// series/volume layout when cfg.Series is set and m has both a series name
// and volume number, and falling back to a flat author/title layout
// otherwise (either because cfg.Series is off or m has no series info).
func targetPath(root string, m *metadata.BookMetadata, cfg *config.JobConfig) string {
	author := metadata.CleanFilename(m.SafeAuthor())
	title := metadata.CleanFilename(m.SafeTitle())

	if cfg.Series && m.HasSeriesInfo() {
		series := metadata.CleanFilename(m.Series)
		vol := metadata.NormalizeVolumeNumber(m.VolumeNumber)
		return filepath.Join(root, author, series, fmt.Sprintf("%s - %s", vol, title))
	}
	return filepath.Join(root, author, title)
}

// organize computes m's target directory under cfg.Output, locks the
// author (and series, if present) directories so two tasks never race to
// create the same path, then copies or moves the source folder's contents
// into place. m.FinalOutput is set to the resolved destination.
func (p *Pipeline) organize(ctx context.Context, m *metadata.BookMetadata, cfg *config.JobConfig) error {
	dest := targetPath(cfg.Output, m, cfg)

	lockPaths := []string{filepath.Join(cfg.Output, metadata.CleanFilename(m.SafeAuthor()))}
	if cfg.Series && m.HasSeriesInfo() {
		lockPaths = append(lockPaths, filepath.Join(lockPaths[0], metadata.CleanFilename(m.Series)))
	}

	timeout := p.LockTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	poll := p.LockPollInterval
	if poll <= 0 {
		poll = defaultLockPollInterval
	}

	release, err := p.Locks.AcquireMany(ctx, lockPaths, m.TaskID, timeout, poll)
	if err != nil {
		return stageErr(KindLockTimeout, "organize %q: %w", dest, err)
	}
	defer release()

	if cfg.DryRun {
		m.FinalOutput = dest
		return nil
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return stageErr(KindFileSystemError, "create %q: %w", dest, err)
	}

	if cfg.Move {
		if err := moveTree(m.Folder, dest); err != nil {
			return stageErr(KindFileSystemError, "move %q to %q: %w", m.Folder, dest, err)
		}
	} else {
		if err := copyTree(m.Folder, dest); err != nil {
			return stageErr(KindFileSystemError, "copy %q to %q: %w", m.Folder, dest, err)
		}
	}

	m.FinalOutput = dest
	return nil
}

// moveTree renames src's children into dest, falling back to copy+remove
// when the rename crosses a filesystem boundary (os.Rename's EXDEV).
func moveTree(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dest, e.Name())
		if err := os.Rename(from, to); err != nil {
			if err := copyPath(from, to); err != nil {
				return err
			}
			if err := os.RemoveAll(from); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyTree(src, dest string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyPath(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dest, info.Mode()); err != nil {
			return err
		}
		return copyTree(src, dest)
	}
	return copyFile(src, dest, info.Mode())
}

func copyFile(src, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
