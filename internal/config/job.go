package config

import "fmt"

// JobConfig is the per-job Configuration, serialized into jobs.config_json
// so an interrupted job can be resumed with exactly the options it was
// created with. Field names mirror the options enumerated in the
// specification's configuration section.
type JobConfig struct {
	Folders    []string `json:"folders"`
	Output     string   `json:"output"`
	BookRoot   string   `json:"book_root"`
	Copy       bool     `json:"copy"`
	Move       bool     `json:"move"`
	DryRun     bool     `json:"dry_run"`
	Flatten    bool     `json:"flatten"`
	Rename     bool     `json:"rename"`
	OPF        bool     `json:"opf"`
	InfoTxt    bool     `json:"infotxt"`
	Cover      bool     `json:"cover"`
	ID3Tag     bool     `json:"id3_tag"`
	Series     bool     `json:"series"`
	FromOPF    bool     `json:"from_opf"`
	ForceRefresh bool   `json:"force_refresh"`
	Site       string   `json:"site"` // scraper registry key, or "all"

	AutoSearch   bool `json:"auto_search"`
	LLMSelect    bool `json:"llm_select"`
	SearchLimit  int  `json:"search_limit"`
	DownloadLimit int `json:"download_limit"`
	SearchDelayMS int  `json:"search_delay_ms"`

	Workers int `json:"workers"`

	Resume   bool `json:"resume"`
	NoResume bool `json:"no_resume"`
	Yolo     bool `json:"yolo"`
	Debug    bool `json:"debug"`
}

// Validate rejects configurations the pipeline could never satisfy. A
// ConfigurationInvalid error keeps the job in the `pending` status — it
// never reaches `planning`.
func (c *JobConfig) Validate() error {
	if len(c.Folders) == 0 && c.BookRoot == "" {
		return fmt.Errorf("configuration invalid: either folders or book_root must be set")
	}
	if c.Copy && c.Move {
		return fmt.Errorf("configuration invalid: copy and move are mutually exclusive")
	}
	if c.Resume && c.NoResume {
		return fmt.Errorf("configuration invalid: resume and no_resume are mutually exclusive")
	}
	if c.ForceRefresh && !c.FromOPF {
		return fmt.Errorf("configuration invalid: force_refresh requires from_opf")
	}
	if c.Workers < 0 {
		return fmt.Errorf("configuration invalid: workers must be non-negative")
	}
	return nil
}

// EffectiveWorkers returns the per-job worker override, falling back to the
// process-wide default when unset.
func (c *JobConfig) EffectiveWorkers(processDefault int) int {
	if c.Workers > 0 {
		return c.Workers
	}
	return processDefault
}
