package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/badabook/audiobookctl/internal/audio"
	"github.com/badabook/audiobookctl/internal/metadata"
)

// renameTracks renames every audio file under root, recursively, to
// "NN - {title}.ext" within the file's own directory, numbered by
// alphabetical path order across the whole tree, so track order survives
// whatever naming convention the source used.
func renameTracks(root, title string) error {
	files, err := audio.FindAudioFiles(root)
	if err != nil {
		return err
	}
	sort.Strings(files)

	safeTitle := metadata.CleanFilename(title)

	for i, f := range files {
		num := metadata.PadTrackNumber(i+1, len(files))
		dest := filepath.Join(filepath.Dir(f), fmt.Sprintf("%s - %s%s", num, safeTitle, filepath.Ext(f)))
		if dest == f {
			continue
		}
		if err := os.Rename(f, dest); err != nil {
			return fmt.Errorf("rename: %q: %w", f, err)
		}
	}
	return nil
}
