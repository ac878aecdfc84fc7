package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/badabook/audiobookctl/internal/app"
	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/log"
	"github.com/badabook/audiobookctl/internal/search"
	"github.com/badabook/audiobookctl/internal/store"
)

// jobCmd represents the job command group.
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Create and manage organization jobs",
	Long: `Manage audiobookctl jobs.

Subcommands:
  run     - Start a new job over a set of folders
  resume  - Resume an interrupted job
  status  - Show a job's progress
  cancel  - Cancel a job and its remaining tasks
  respond - Answer a task suspended on waiting_for_user`,
}

var jobRunFlags struct {
	output        string
	bookRoot      string
	copyFiles     bool
	moveFiles     bool
	dryRun        bool
	flatten       bool
	rename        bool
	opf           bool
	infoTxt       bool
	cover         bool
	id3Tag        bool
	series        bool
	fromOPF       bool
	forceRefresh  bool
	site          string
	autoSearch    bool
	llmSelect     bool
	searchLimit   int
	downloadLimit int
	searchDelayMS int
	workers       int
	resume        bool
	noResume      bool
	yolo          bool
	debug         bool
}

var jobRunCmd = &cobra.Command{
	Use:   "run [folders...]",
	Short: "Start a new job over one or more folders",
	Long: `Start a new job, creating one task per folder (or per immediate
subdirectory of --book-root), and run it to completion or until an
operator-input prompt suspends a task.`,
	Run: func(cmd *cobra.Command, args []string) {
		runJobRun(args)
	},
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume an interrupted job",
	Long:  `Resume a job that was interrupted mid-run: any task left in status=running is reset to pending, then the job is dispatched again.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runJobResume(args[0])
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Show a job's progress",
	Long:  `Show task-status counters for one job, or list every incomplete job if no job-id is given.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var jobID string
		if len(args) > 0 {
			jobID = args[0]
		}
		runJobStatus(jobID)
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long:  `Mark a job cancelled and cancel every task still pending, running or waiting for user input.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runJobCancel(args[0])
	},
}

var jobRespondCmd = &cobra.Command{
	Use:   "respond <task-id> <value>",
	Short: "Answer a task suspended on waiting_for_user",
	Long: `Resume a task suspended by the User-Input Suspension mechanism:
records value as the task's response, clears its prompt, and moves it back
to pending so the next job run (or job resume) re-enqueues it. value's
meaning depends on the task's user_input_type (a chosen URL for
candidate_selection or manual_search, an arbitrary string for anything
else the pipeline stages define).`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		runJobRespond(args[0], args[1])
	},
}

func init() {
	jobCmd.AddCommand(jobRunCmd)
	jobCmd.AddCommand(jobResumeCmd)
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobCancelCmd)
	jobCmd.AddCommand(jobRespondCmd)

	f := jobRunCmd.Flags()
	f.StringVar(&jobRunFlags.output, "output", "", "root directory new library layout is written under (required with --copy/--move)")
	f.StringVar(&jobRunFlags.bookRoot, "book-root", "", "process every immediate subdirectory of this path as a folder")
	f.BoolVar(&jobRunFlags.copyFiles, "copy", false, "copy source folders into --output rather than organizing in place")
	f.BoolVar(&jobRunFlags.moveFiles, "move", false, "move source folders into --output rather than organizing in place")
	f.BoolVar(&jobRunFlags.dryRun, "dry-run", false, "compute the target layout without touching the filesystem")
	f.BoolVar(&jobRunFlags.flatten, "flatten", false, "collapse nested disc/chapter subdirectories into one flat folder")
	f.BoolVar(&jobRunFlags.rename, "rename", false, "rename tracks to \"NN - Title.ext\"")
	f.BoolVar(&jobRunFlags.opf, "opf", false, "write a metadata.opf sidecar")
	f.BoolVar(&jobRunFlags.infoTxt, "infotxt", false, "write an info.txt sidecar")
	f.BoolVar(&jobRunFlags.cover, "cover", false, "download cover art into the output folder")
	f.BoolVar(&jobRunFlags.id3Tag, "id3-tag", false, "embed metadata into MP3 ID3 tags")
	f.BoolVar(&jobRunFlags.series, "series", false, "lay out the library as author/series/volume - title instead of flat author/title")
	f.BoolVar(&jobRunFlags.fromOPF, "from-opf", false, "read metadata from each folder's existing metadata.opf instead of scraping")
	f.BoolVar(&jobRunFlags.forceRefresh, "force-refresh", false, "with --from-opf, re-scrape the OPF's source URL to fill any field the OPF left empty")
	f.StringVar(&jobRunFlags.site, "site", "all", "scraper site to search (\"all\" searches every registered site)")
	f.BoolVar(&jobRunFlags.autoSearch, "auto-search", true, "search for a source URL per folder instead of requiring one")
	f.BoolVar(&jobRunFlags.llmSelect, "llm-select", false, "use the LLM-backed candidate selector instead of the heuristic one")
	f.IntVar(&jobRunFlags.searchLimit, "search-limit", 5, "maximum candidates to consider per site")
	f.IntVar(&jobRunFlags.downloadLimit, "download-limit", 0, "maximum site search requests per folder during automated discovery (0 = unlimited)")
	f.IntVar(&jobRunFlags.searchDelayMS, "search-delay", 0, "extra delay in milliseconds before each automated search request")
	f.IntVar(&jobRunFlags.workers, "workers", 0, "concurrent tasks (0 = use the configured default)")
	f.BoolVar(&jobRunFlags.resume, "resume", false, "auto-resume the most recent incomplete job instead of creating a new one")
	f.BoolVar(&jobRunFlags.noResume, "no-resume", false, "always create a fresh job, even if an incomplete one matches")
	f.BoolVar(&jobRunFlags.yolo, "yolo", false, "auto-accept every prompt a task would otherwise suspend on")
	f.BoolVar(&jobRunFlags.debug, "debug", false, "verbose logging and debug artifact capture (e.g. pre-tagging audio analysis)")
}

func loadAppConfig() *config.Config {
	if configFile == "" {
		return config.Default()
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		exitWithError("failed to load config", err)
	}
	return cfg
}

func mustInitApp(ctx context.Context) *app.App {
	cfg := loadAppConfig()
	if err := log.Init(cfg.Log); err != nil {
		exitWithError("failed to initialize logging", err)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		exitWithError("failed to initialize application", err)
	}
	return a
}

// runContext returns a context cancelled on SIGINT/SIGTERM, so an
// interrupted `job run` leaves its in-flight task's status as running
// (resumable) rather than corrupting the output folder mid-copy.
func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runJobRun(folders []string) {
	ctx, cancel := runContext()
	defer cancel()

	a := mustInitApp(ctx)
	defer a.Close()

	cfg := &config.JobConfig{
		Folders:       folders,
		Output:        jobRunFlags.output,
		BookRoot:      jobRunFlags.bookRoot,
		Copy:          jobRunFlags.copyFiles,
		Move:          jobRunFlags.moveFiles,
		DryRun:        jobRunFlags.dryRun,
		Flatten:       jobRunFlags.flatten,
		Rename:        jobRunFlags.rename,
		OPF:           jobRunFlags.opf,
		InfoTxt:       jobRunFlags.infoTxt,
		Cover:         jobRunFlags.cover,
		ID3Tag:        jobRunFlags.id3Tag,
		Series:        jobRunFlags.series,
		FromOPF:       jobRunFlags.fromOPF,
		ForceRefresh:  jobRunFlags.forceRefresh,
		Site:          jobRunFlags.site,
		AutoSearch:    jobRunFlags.autoSearch,
		LLMSelect:     jobRunFlags.llmSelect,
		SearchLimit:   jobRunFlags.searchLimit,
		DownloadLimit: jobRunFlags.downloadLimit,
		SearchDelayMS: jobRunFlags.searchDelayMS,
		Workers:       jobRunFlags.workers,
		Resume:        jobRunFlags.resume,
		NoResume:      jobRunFlags.noResume,
		Yolo:          jobRunFlags.yolo,
		Debug:         jobRunFlags.debug,
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("invalid job configuration", err)
	}

	if cfg.LLMSelect {
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			exitWithError("llm-select requires ANTHROPIC_API_KEY", nil)
		}
		a.Planner.Selector = search.NewLLMSelector(key, a.Config.Genre.AdvisorModel)
	}

	// --resume finds the most recent incomplete job instead of creating a
	// new one. With no matching job it falls through to creating one, the
	// same as if --resume had not been passed.
	if cfg.Resume {
		incomplete, err := a.Store.GetIncompleteJobs(ctx)
		if err != nil {
			exitWithError("failed to list incomplete jobs", err)
		}
		if len(incomplete) > 0 {
			jobID := incomplete[0].ID
			fmt.Printf("resuming most recent incomplete job %s\n", jobID)
			resumeJob(ctx, a, jobID)
			return
		}
	}

	jobID, err := a.Store.CreateJob(ctx, cfg, "")
	if err != nil {
		exitWithError("failed to create job", err)
	}
	fmt.Printf("created job %s\n", jobID)

	if err := a.Planner.Plan(ctx, jobID, cfg); err != nil {
		exitWithError("failed to plan job", err)
	}

	a.Dispatcher.Workers = cfg.EffectiveWorkers(a.Config.Workers)
	if err := a.Dispatcher.Run(ctx, jobID, cfg); err != nil {
		exitWithError("job run failed", err)
	}

	printJobStatus(a, jobID)
}

func runJobResume(jobID string) {
	ctx, cancel := runContext()
	defer cancel()

	a := mustInitApp(ctx)
	defer a.Close()

	resumeJob(ctx, a, jobID)
}

// resumeJob resets jobID's stale running tasks to pending and re-dispatches
// it to completion, against an already-initialized app. Shared by the
// `job resume` subcommand and `job run --resume`'s auto-resume path, which
// both need the same behavior without opening the store twice.
func resumeJob(ctx context.Context, a *app.App, jobID string) {
	job, err := a.Store.GetJob(ctx, jobID)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to load job %s", jobID), err)
	}

	var cfg config.JobConfig
	if err := json.Unmarshal([]byte(job.ConfigJSON), &cfg); err != nil {
		exitWithError("failed to parse job configuration", err)
	}

	stale, err := a.Store.GetTasksForJob(ctx, jobID, store.TaskRunning)
	if err != nil {
		exitWithError("failed to list running tasks", err)
	}
	for _, t := range stale {
		if err := a.Store.UpdateTaskStatus(ctx, t.ID, store.TaskPending); err != nil {
			exitWithError(fmt.Sprintf("failed to reset task %s", t.ID), err)
		}
	}
	fmt.Printf("resuming job %s (%d stale task(s) reset to pending)\n", jobID, len(stale))

	a.Dispatcher.Workers = cfg.EffectiveWorkers(a.Config.Workers)
	if err := a.Dispatcher.Run(ctx, jobID, &cfg); err != nil {
		exitWithError("job resume failed", err)
	}

	printJobStatus(a, jobID)
}

func runJobStatus(jobID string) {
	ctx := context.Background()
	a := mustInitApp(ctx)
	defer a.Close()

	if jobID == "" {
		jobs, err := a.Store.GetIncompleteJobs(ctx)
		if err != nil {
			exitWithError("failed to list jobs", err)
		}
		if len(jobs) == 0 {
			fmt.Println("no incomplete jobs")
			return
		}
		for _, j := range jobs {
			fmt.Printf("%s  %-10s  total=%d completed=%d failed=%d skipped=%d\n",
				j.ID, j.Status, j.Total, j.Completed, j.Failed, j.Skipped)
		}
		return
	}

	printJobStatus(a, jobID)
}

func printJobStatus(a *app.App, jobID string) {
	ctx := context.Background()
	job, err := a.Store.GetJob(ctx, jobID)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to load job %s", jobID), err)
	}
	progress, err := a.Store.GetJobProgress(ctx, jobID)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to load progress for job %s", jobID), err)
	}

	fmt.Printf("job %s: %s\n", jobID, job.Status)
	fmt.Printf("  total=%d completed=%d failed=%d skipped=%d running=%d pending=%d waiting_for_user=%d\n",
		progress.Total, progress.Completed, progress.Failed, progress.Skipped,
		progress.Running, progress.Pending, progress.WaitingForUser)

	if progress.WaitingForUser > 0 {
		waiting, err := a.Store.GetTasksWaitingForUser(ctx, jobID)
		if err == nil {
			for _, t := range waiting {
				fmt.Printf("  waiting: task %s: %s\n", t.ID, t.UserInputPrompt)
			}
		}
	}
}

// runJobRespond answers a waiting_for_user task with value and re-enqueues
// it. For the two prompt types that ask the operator to supply a source
// URL (candidate_selection, manual_search), value also becomes the task's
// url so the next dispatch wave has something to scrape; other prompt
// types only need the generic response recorded in result_json.
func runJobRespond(taskID, value string) {
	ctx := context.Background()
	a := mustInitApp(ctx)
	defer a.Close()

	task, err := a.Store.GetTask(ctx, taskID)
	if err != nil {
		exitWithError(fmt.Sprintf("failed to load task %s", taskID), err)
	}
	if task.Status != store.TaskWaitingForUser {
		exitWithError(fmt.Sprintf("task %s is not waiting for user input (status=%s)", taskID, task.Status), nil)
	}
	inputType := task.UserInputType

	if err := a.Store.ResumeTaskFromUserInput(ctx, taskID, value); err != nil {
		exitWithError(fmt.Sprintf("failed to resume task %s", taskID), err)
	}

	if inputType == "candidate_selection" || inputType == "manual_search" {
		if err := a.Store.UpdateTaskStatus(ctx, taskID, store.TaskPending, store.Field("url", value)); err != nil {
			exitWithError(fmt.Sprintf("failed to record source url for task %s", taskID), err)
		}
	}
	fmt.Printf("task %s resumed, back to pending\n", taskID)
}

func runJobCancel(jobID string) {
	ctx := context.Background()
	a := mustInitApp(ctx)
	defer a.Close()

	for _, status := range []store.TaskStatus{store.TaskPending, store.TaskRunning, store.TaskWaitingForUser} {
		tasks, err := a.Store.GetTasksForJob(ctx, jobID, status)
		if err != nil {
			exitWithError("failed to list tasks", err)
		}
		for _, t := range tasks {
			if err := a.Store.UpdateTaskStatus(ctx, t.ID, store.TaskCancelled); err != nil {
				exitWithError(fmt.Sprintf("failed to cancel task %s", t.ID), err)
			}
		}
	}

	if err := a.Store.UpdateJobStatus(ctx, jobID, store.JobCancelled); err != nil {
		exitWithError(fmt.Sprintf("failed to cancel job %s", jobID), err)
	}
	fmt.Printf("cancelled job %s\n", jobID)
}
