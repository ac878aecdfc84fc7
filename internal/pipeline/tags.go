package pipeline

import (
	"log/slog"

	"github.com/badabook/audiobookctl/internal/audio"
	"github.com/badabook/audiobookctl/internal/metadata"
)

// embedTags writes m's fields into every MP3 under m.FinalOutput. A file
// found but not tagged (non-MP3 extensions, or a per-file tag write
// failure) does not fail the task; an I/O error walking the folder does.
// When debug is set, the folder's pre-tagging state is logged first via
// audio.Analyze, a read-only pass useful for diagnosing a scrape that
// produced thin metadata before it gets overwritten by EmbedTags.
func embedTags(m *metadata.BookMetadata, debug bool) error {
	if debug {
		logAudioAnalysis(m)
	}

	_, _, err := audio.EmbedTags(m)
	if err != nil {
		return stageErr(KindTagError, "embed tags in %q: %w", m.FinalOutput, err)
	}
	return nil
}

func logAudioAnalysis(m *metadata.BookMetadata) {
	analysis, err := audio.Analyze(m.FinalOutput)
	if err != nil {
		slog.Warn("audio analysis failed", "task_id", m.TaskID, "folder", m.FinalOutput, "error", err)
		return
	}
	slog.Debug("pre-tagging audio analysis",
		"task_id", m.TaskID,
		"total_files", analysis.TotalFiles,
		"file_types", analysis.FileTypeCounts,
		"sample_title", analysis.SampleTitle,
		"sample_artist", analysis.SampleArtist,
		"sample_album", analysis.SampleAlbum,
		"sample_duration_s", analysis.SampleDuration,
		"sample_bitrate", analysis.SampleBitrate,
		"has_tag_metadata", analysis.HasTagMetadata)
}
