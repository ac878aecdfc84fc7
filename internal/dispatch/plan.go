package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/pipeline"
	"github.com/badabook/audiobookctl/internal/scraper"
	"github.com/badabook/audiobookctl/internal/search"
	"github.com/badabook/audiobookctl/internal/store"
)

// Planner resolves a job's input folders into Tasks, choosing a source URL
// for each folder via site search and candidate selection before any
// worker starts the processing pipeline. This is the "identification"
// phase: it creates Task rows but never runs Pipeline.Run itself.
type Planner struct {
	Store    *store.Store
	Registry *scraper.Registry
	Fetcher  *scraper.Fetcher
	Selector search.Selector
}

// Plan discovers jobID's input folders from cfg, creates one task per
// folder, and resolves each task's source URL. A folder configured with
// from_opf skips search entirely (its URL is the OPFMarker sentinel,
// resolved by the pipeline itself from the folder's metadata.opf). A
// folder whose selector needs operator input is left with no URL and
// status=waiting_for_user rather than failing the task outright.
func (pl *Planner) Plan(ctx context.Context, jobID string, cfg *config.JobConfig) error {
	folders, err := discoverFolders(cfg)
	if err != nil {
		return fmt.Errorf("dispatch: discover folders: %w", err)
	}

	if err := pl.Store.UpdateJobStatus(ctx, jobID, store.JobPlanning); err != nil {
		return fmt.Errorf("dispatch: mark job %q planning: %w", jobID, err)
	}

	for _, folder := range folders {
		if err := pl.planOne(ctx, jobID, folder, cfg); err != nil {
			slog.Error("failed to plan folder", "folder", folder, "error", err)
		}
	}
	return nil
}

func (pl *Planner) planOne(ctx context.Context, jobID, folder string, cfg *config.JobConfig) error {
	taskID, err := pl.Store.CreateTask(ctx, jobID, folder, "", defaultMaxRetries(cfg))
	if err != nil {
		return err
	}

	if cfg.FromOPF {
		return pl.Store.UpdateTaskStatus(ctx, taskID, store.TaskPending, store.Field("url", pipeline.OPFMarker))
	}
	if !cfg.AutoSearch {
		return nil
	}

	sites := pl.sitesFor(cfg)
	term := filepath.Base(folder)
	opts := search.DiscoverOptions{
		SearchLimit:   cfg.SearchLimit,
		DownloadLimit: cfg.DownloadLimit,
		Delay:         time.Duration(cfg.SearchDelayMS) * time.Millisecond,
	}
	candidates, err := search.Discover(ctx, pl.Registry, pl.Fetcher, term, sites, opts)
	if err != nil {
		return fmt.Errorf("search folder %q: %w", folder, err)
	}

	chosen, err := pl.Selector.Select(ctx, term, candidates)
	if errors.Is(err, search.ErrNeedsUserInput) {
		return pl.Store.SetTaskWaitingForUser(ctx, taskID, "candidate_selection",
			fmt.Sprintf("choose a source for %q", term), candidatesJSON(candidates), "")
	}
	if errors.Is(err, search.ErrNoCandidates) && !cfg.Yolo {
		return pl.Store.SetTaskWaitingForUser(ctx, taskID, "manual_search",
			fmt.Sprintf("no automated search results for %q; provide a source URL manually", term), "", term)
	}
	if err != nil {
		return fmt.Errorf("select candidate for %q: %w", folder, err)
	}

	return pl.Store.UpdateTaskStatus(ctx, taskID, store.TaskPending, store.Field("url", chosen.URL))
}

func (pl *Planner) sitesFor(cfg *config.JobConfig) []string {
	if cfg.Site == "" || cfg.Site == "all" {
		return pl.Registry.Sites()
	}
	return []string{cfg.Site}
}

// discoverFolders expands cfg.BookRoot (one task per immediate
// subdirectory) or returns cfg.Folders verbatim when BookRoot is unset.
func discoverFolders(cfg *config.JobConfig) ([]string, error) {
	if cfg.BookRoot == "" {
		return cfg.Folders, nil
	}

	entries, err := os.ReadDir(cfg.BookRoot)
	if err != nil {
		return nil, err
	}
	var folders []string
	for _, e := range entries {
		if e.IsDir() {
			folders = append(folders, filepath.Join(cfg.BookRoot, e.Name()))
		}
	}
	return folders, nil
}

func defaultMaxRetries(cfg *config.JobConfig) int {
	const defaultRetries = 2
	_ = cfg
	return defaultRetries
}

func candidatesJSON(candidates []search.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	data, err := json.Marshal(candidates)
	if err != nil {
		return ""
	}
	return string(data)
}
