package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/badabook/audiobookctl/internal/audio"
	"github.com/badabook/audiobookctl/internal/metadata"
)

// flatten moves every audio file found anywhere under root directly into
// root, prefixing each with a zero-padded index reflecting discovery order
// so playback order survives the flattening, then removes any subdirectory
// left empty.
func flatten(root string) error {
	files, err := audio.FindAudioFiles(root)
	if err != nil {
		return err
	}
	sort.Strings(files)

	padding := metadata.TrackPadding(len(files))
	for i, f := range files {
		if filepath.Dir(f) == root {
			continue
		}
		prefix := padTo(i+1, padding)
		dest := filepath.Join(root, prefix+"-"+filepath.Base(f))
		if err := os.Rename(f, dest); err != nil {
			return fmt.Errorf("flatten: move %q: %w", f, err)
		}
	}

	return removeEmptyDirs(root)
}

func padTo(n, width int) string {
	s := fmt.Sprintf("%d", n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// removeEmptyDirs deletes every subdirectory of root, deepest first, that
// contains no files after flattening.
func removeEmptyDirs(root string) error {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flatten: walk %q: %w", root, err)
	}

	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			_ = os.Remove(d)
		}
	}
	return nil
}
