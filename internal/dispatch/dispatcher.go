// Package dispatch implements the task dispatcher and worker pool: it pulls
// pending tasks off the queue store, runs each through the pipeline, and
// persists every state transition so a job can be resumed after an
// interruption from wherever it left off.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/badabook/audiobookctl/internal/config"
	"github.com/badabook/audiobookctl/internal/pipeline"
	"github.com/badabook/audiobookctl/internal/store"
)

// Dispatcher fans a job's pending tasks out across a bounded worker pool,
// sharing one Pipeline (and its collaborators) across every worker.
type Dispatcher struct {
	Store    *store.Store
	Pipeline *pipeline.Pipeline
	Workers  int
	Metrics  *pipeline.Metrics
}

// New constructs a Dispatcher with workers concurrent task slots; workers
// <= 0 falls back to 1 so a misconfigured job still makes progress.
func New(st *store.Store, p *pipeline.Pipeline, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{Store: st, Pipeline: p, Workers: workers, Metrics: pipeline.NewMetrics("")}
}

// Run drives jobID to completion: it repeatedly loads the job's pending
// tasks and processes them with up to Workers running concurrently, until
// no pending tasks remain (a wave can regrow it, since a retried or
// just-resumed task re-enters status=pending) or ctx is cancelled. Tasks
// suspended on user input are not pending, so they do not keep the loop
// going. It then finalizes the job's terminal status from the task-level
// outcomes.
//
// Calling Run again for the same jobID (e.g. on resume) is safe: it simply
// resumes the loop over whatever tasks are still pending; a task already
// moved past pending by a previous run is never picked up again.
func (d *Dispatcher) Run(ctx context.Context, jobID string, cfg *config.JobConfig) error {
	d.Metrics.JobID = jobID

	if err := d.Store.UpdateJobStatus(ctx, jobID, store.JobProcessing, store.Field("started_at", nowString())); err != nil {
		return fmt.Errorf("dispatch: mark job %q processing: %w", jobID, err)
	}

	for {
		n, err := d.EnqueueAllTasks(ctx, jobID, cfg)
		if err != nil {
			return err
		}
		if n == 0 {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return d.finalize(ctx, jobID)
}

// EnqueueAllTasks loads jobID's currently pending tasks and runs every one
// of them to a terminal (or suspended) state, with at most Workers running
// concurrently, returning how many pending tasks it loaded (if ctx is
// cancelled mid-wave, the tasks not yet started are counted too but stay
// pending). It does not recurse into
// tasks a retry re-queues; callers needing to drain those call it again
// (Run loops until it returns 0).
func (d *Dispatcher) EnqueueAllTasks(ctx context.Context, jobID string, cfg *config.JobConfig) (int, error) {
	tasks, err := d.Store.GetPendingTasks(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("dispatch: load pending tasks for job %q: %w", jobID, err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	slog.Info("dispatching task wave", "job_id", jobID, "count", len(tasks), "workers", d.Workers)

	sem := make(chan struct{}, d.Workers)
	var wg sync.WaitGroup
	for i, t := range tasks {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		workerID := fmt.Sprintf("worker-%d", i%d.Workers)
		go func(t *store.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			d.runTask(ctx, workerID, t, cfg)
		}(t)
	}
	wg.Wait()

	return len(tasks), nil
}

func (d *Dispatcher) runTask(ctx context.Context, workerID string, task *store.Task, cfg *config.JobConfig) {
	if ctx.Err() != nil {
		_ = d.Store.UpdateTaskStatus(context.Background(), task.ID, store.TaskCancelled)
		return
	}

	d.Metrics.TasksStarted.Add(1)

	if err := d.Store.UpdateTaskStatus(ctx, task.ID, store.TaskRunning,
		store.Field("started_at", nowString()), store.Field("worker_id", workerID)); err != nil {
		slog.Error("failed to mark task running", "task_id", task.ID, "error", err)
		return
	}

	url := task.URL
	if url == "" && cfg.FromOPF {
		url = pipeline.OPFMarker
	}

	result, err := d.Pipeline.Run(ctx, task.ID, task.FolderPath, url, cfg)
	d.Metrics.RecordOutcome(result != nil && result.Skipped, err)

	if err != nil {
		d.handleFailure(ctx, task, err)
		return
	}

	if result.Skipped {
		_ = d.Store.UpdateTaskStatus(ctx, task.ID, store.TaskSkipped, store.Field("completed_at", nowString()))
		return
	}

	resultJSON, _ := json.Marshal(result.Metadata)
	if err := d.Store.UpdateTaskStatus(ctx, task.ID, store.TaskCompleted,
		store.Field("completed_at", nowString()), store.Field("result_json", string(resultJSON))); err != nil {
		slog.Error("failed to mark task completed", "task_id", task.ID, "error", err)
	}
}

// handleFailure classifies a task's stage error: a user-skip becomes
// status=skipped, a retryable failure goes back to pending for the next
// wave to pick up, and an exhausted task becomes status=failed.
func (d *Dispatcher) handleFailure(ctx context.Context, task *store.Task, err error) {
	kind, _ := pipeline.AsStageErrorKind(err)

	if kind == pipeline.KindSkippedByUser {
		_ = d.Store.UpdateTaskStatus(ctx, task.ID, store.TaskSkipped, store.Field("completed_at", nowString()))
		return
	}

	if task.RetryCount < task.MaxRetries {
		slog.Warn("task failed, will retry", "task_id", task.ID, "attempt", task.RetryCount+1, "kind", kind, "error", err)
		_ = d.Store.UpdateTaskStatus(ctx, task.ID, store.TaskPending, store.Field("retry_count", task.RetryCount+1))
		return
	}

	slog.Error("task failed permanently", "task_id", task.ID, "kind", kind, "error", err)
	_ = d.Store.UpdateTaskStatus(ctx, task.ID, store.TaskFailed,
		store.Field("completed_at", nowString()), store.Field("error", err.Error()))
}

// finalize computes jobID's terminal status from its tasks' final
// counters. A job with any task still waiting on user input is left as
// processing (not terminal). Otherwise the job is always completed, even
// with a non-zero failed count: one failing task does not fail the job,
// and there is no job-level "failed" terminal state.
func (d *Dispatcher) finalize(ctx context.Context, jobID string) error {
	progress, err := d.Store.GetJobProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("dispatch: finalize job %q: %w", jobID, err)
	}

	if progress.WaitingForUser > 0 {
		slog.Info("job suspended pending user input", "job_id", jobID, "waiting", progress.WaitingForUser)
		return nil
	}

	return d.Store.UpdateJobStatus(ctx, jobID, store.JobCompleted,
		store.Field("completed_at", nowString()),
		store.Field("completed", progress.Completed),
		store.Field("failed", progress.Failed),
		store.Field("skipped", progress.Skipped))
}

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }
