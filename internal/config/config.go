// Package config handles process-level configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level process configuration, maps to the
// `audiobookctl:` root key in YAML.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Workers   int             `mapstructure:"workers"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Lock      LockConfig      `mapstructure:"lock"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Genre     GenreConfig     `mapstructure:"genre"`
	OPF       OPFConfig       `mapstructure:"opf"`
}

// StoreConfig configures the persistent queue store.
type StoreConfig struct {
	// Path is the database file path. ":memory:" opens an in-process,
	// non-durable store, useful for tests and dry runs.
	Path string `mapstructure:"path"`
}

// LockConfig configures the file lock manager.
type LockConfig struct {
	// Mode selects the implementation: "os" (sibling lock file) or "db"
	// (row in file_locks, for environments without reliable flock).
	Mode         string        `mapstructure:"mode"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RateLimitConfig configures the per-host domain rate limiter.
type RateLimitConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
}

// GenreConfig configures the genre normalizer and its optional LLM advisor.
type GenreConfig struct {
	MappingPath         string  `mapstructure:"mapping_path"`
	AdvisorEnabled      bool    `mapstructure:"advisor_enabled"`
	AdvisorModel        string  `mapstructure:"advisor_model"`
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
}

// OPFConfig configures sidecar OPF generation.
type OPFConfig struct {
	TemplatePath string `mapstructure:"template_path"`
}

// LogConfig contains logging settings, unchanged in shape from the teacher's
// structured-logging layer: one handler, fanned out across configured
// outputs.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
	Loki LokiOutputConfig `mapstructure:"loki"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// LokiOutputConfig configures Loki log output.
type LokiOutputConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Endpoint     string            `mapstructure:"endpoint"`
	Labels       map[string]string `mapstructure:"labels"`
	BatchSize    int               `mapstructure:"batch_size"`
	BatchTimeout string            `mapstructure:"batch_timeout"`
}

// configRoot is the top-level wrapper matching the YAML structure
// `audiobookctl: ...`.
type configRoot struct {
	AudiobookCtl Config `mapstructure:"audiobookctl"`
}

// Load loads configuration from file, falling back to built-in defaults for
// any key the file and environment do not set.
//
// Environment variables override file values with the AUDIOBOOKCTL_ prefix
// (e.g. AUDIOBOOKCTL_LOG_LEVEL maps to audiobookctl.log.level).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg := root.AudiobookCtl

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in default configuration, used when no config
// file is supplied (e.g. ad-hoc CLI invocations).
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var root configRoot
	_ = v.Unmarshal(&root)
	cfg := root.AudiobookCtl
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("audiobookctl.data_dir", "./.audiobookctl")
	v.SetDefault("audiobookctl.workers", 4)

	v.SetDefault("audiobookctl.log.level", "info")
	v.SetDefault("audiobookctl.log.format", "text")
	v.SetDefault("audiobookctl.log.outputs.file.enabled", false)
	v.SetDefault("audiobookctl.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("audiobookctl.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("audiobookctl.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("audiobookctl.log.outputs.file.rotation.compress", true)

	v.SetDefault("audiobookctl.store.path", "./.audiobookctl/queue.db")

	v.SetDefault("audiobookctl.lock.mode", "os")
	v.SetDefault("audiobookctl.lock.timeout", 30*time.Second)
	v.SetDefault("audiobookctl.lock.poll_interval", 100*time.Millisecond)

	v.SetDefault("audiobookctl.rate_limit.min_delay", 500*time.Millisecond)

	v.SetDefault("audiobookctl.genre.mapping_path", "./.audiobookctl/genres.json")
	v.SetDefault("audiobookctl.genre.advisor_enabled", false)
	v.SetDefault("audiobookctl.genre.advisor_model", "claude-3-5-haiku-latest")
	v.SetDefault("audiobookctl.genre.confidence_threshold", 0.85)

	v.SetDefault("audiobookctl.opf.template_path", "")
}

// Validate checks invariants that are cheap to verify eagerly, before the
// rest of the system is wired up.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s (must be json/text)", c.Log.Format)
	}
	switch c.Lock.Mode {
	case "os", "db":
	default:
		return fmt.Errorf("invalid lock mode: %s (must be os/db)", c.Lock.Mode)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	return nil
}
