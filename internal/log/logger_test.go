package log

import (
	"log/slog"
	"testing"

	"github.com/badabook/audiobookctl/internal/config"
)

func TestInitDefaultsToStdout(t *testing.T) {
	cfg := config.LogConfig{Level: "info", Format: "text"}
	if err := Init(cfg); err != nil {
		t.Fatalf("Init returned error: %v", err)
	}
	if slog.Default() == nil {
		t.Fatal("expected slog.Default to be set")
	}
}

func TestInitRejectsUnknownFormat(t *testing.T) {
	cfg := config.LogConfig{Level: "info", Format: "xml"}
	if err := Init(cfg); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	cfg := config.LogConfig{Level: "verbose", Format: "text"}
	if err := Init(cfg); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := parseLevel(in)
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
