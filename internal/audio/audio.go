// Package audio embeds book metadata into audio file tags and, in debug
// mode, extracts a quick diagnostic summary of a folder's audio files.
package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"go.senan.xyz/taglib"

	"github.com/badabook/audiobookctl/internal/metadata"
)

// Extensions recognized as audio files. Only .mp3 has tag-writing
// implemented; the rest are counted but skipped silently during tagging.
var Extensions = []string{".mp3", ".m4a", ".m4b", ".wma", ".flac", ".ogg"}

// FindAudioFiles walks dir recursively and returns every file whose
// extension matches Extensions, sorted by path.
func FindAudioFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if isAudioExt(filepath.Ext(path)) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("audio: scan %q: %w", dir, err)
	}
	return files, nil
}

func isAudioExt(ext string) bool {
	ext = strings.ToLower(ext)
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// EmbedTags writes m's fields into every MP3 under m.FinalOutput, skipping
// other recognized-but-unsupported extensions. It returns the count of
// files successfully tagged and the count found, so callers can tell
// partial success (some non-MP3 files present) from a true failure.
func EmbedTags(m *metadata.BookMetadata) (tagged, found int, err error) {
	files, err := FindAudioFiles(m.FinalOutput)
	if err != nil {
		return 0, 0, err
	}
	found = len(files)
	if found == 0 {
		return 0, 0, nil
	}

	for _, f := range files {
		if !strings.EqualFold(filepath.Ext(f), ".mp3") {
			slog.Debug("skipping non-mp3 file for tagging", "file", f)
			continue
		}
		if err := embedMP3Tags(f, m); err != nil {
			slog.Error("failed to tag audio file", "file", f, "error", err)
			continue
		}
		tagged++
	}
	return tagged, found, nil
}

func embedMP3Tags(path string, m *metadata.BookMetadata) error {
	album := m.Series
	if album == "" {
		album = m.SafeTitle()
	}
	language := m.Language
	if language == "" {
		language = "eng"
	}

	tags := map[string][]string{
		taglib.Title:  {m.SafeTitle()},
		taglib.Artist: {m.SafeAuthor()},
		taglib.Album:  {album},
	}
	if len(m.Genres) > 0 {
		tags[taglib.Genre] = m.Genres
	}
	if date := m.PublicationDate(); date != "" {
		tags[taglib.Date] = []string{date}
	}
	tags[taglib.Language] = []string{language}
	tags[taglib.Comment] = []string{buildCommentField(m)}

	if err := taglib.WriteTags(path, tags, 0); err != nil {
		return fmt.Errorf("audio: write tags %q: %w", path, err)
	}
	return nil
}

// buildCommentField mirrors the "ASIN: … | ISBN: … | {summary}" comment
// convention, omitting any part that's empty.
func buildCommentField(m *metadata.BookMetadata) string {
	var parts []string
	if m.ASIN != "" {
		parts = append(parts, "ASIN: "+m.ASIN)
	}
	if m.ISBN != "" {
		parts = append(parts, "ISBN: "+m.ISBN)
	}
	prefix := strings.Join(parts, " | ")

	switch {
	case prefix != "" && m.Summary != "":
		return prefix + " | " + m.Summary
	case prefix != "":
		return prefix
	default:
		return m.Summary
	}
}

// Analysis is the debug-mode diagnostic summary of a folder's audio files.
type Analysis struct {
	TotalFiles      int
	FileTypeCounts  map[string]int
	SampleTitle     string
	SampleArtist    string
	SampleAlbum     string
	SampleDuration  int
	SampleBitrate   int
	HasTagMetadata  bool
}

// Analyze inspects folder's audio files without modifying them, reading
// the first file's tags as a representative sample. It never errors for an
// empty or tag-less folder; that's reported via the zero-value Analysis.
func Analyze(folder string) (*Analysis, error) {
	files, err := FindAudioFiles(folder)
	if err != nil {
		return nil, err
	}

	a := &Analysis{TotalFiles: len(files), FileTypeCounts: map[string]int{}}
	for _, f := range files {
		a.FileTypeCounts[strings.ToLower(filepath.Ext(f))]++
	}
	if len(files) == 0 {
		return a, nil
	}

	tags, err := taglib.ReadTags(files[0])
	if err != nil {
		slog.Debug("could not read sample tags", "file", files[0], "error", err)
		return a, nil
	}
	a.SampleTitle = first(tags[taglib.Title])
	a.SampleArtist = first(tags[taglib.Artist])
	a.SampleAlbum = first(tags[taglib.Album])
	a.HasTagMetadata = a.SampleTitle != "" || a.SampleArtist != ""

	if props, err := taglib.ReadProperties(files[0]); err == nil {
		a.SampleDuration = int(props.Length.Seconds())
		a.SampleBitrate = props.Bitrate
	}

	return a, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
