package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetTask loads a task by id.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelect+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %q: %w", id, err)
	}
	return t, nil
}

// GetPendingTasks returns a job's pending tasks in creation order, the set
// the dispatcher enqueues on job start and on resume.
func (s *Store) GetPendingTasks(ctx context.Context, jobID string) ([]*Task, error) {
	return s.queryTasks(ctx, taskSelect+` WHERE job_id = ? AND status = ? ORDER BY created_at ASC`, jobID, TaskPending)
}

// GetTasksForJob returns a job's tasks, optionally filtered to a single
// status; pass "" for status to return every task.
func (s *Store) GetTasksForJob(ctx context.Context, jobID string, status TaskStatus) ([]*Task, error) {
	if status == "" {
		return s.queryTasks(ctx, taskSelect+` WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	}
	return s.queryTasks(ctx, taskSelect+` WHERE job_id = ? AND status = ? ORDER BY created_at ASC`, jobID, status)
}

// GetTasksWaitingForUser returns the tasks of a job currently suspended on
// user input.
func (s *Store) GetTasksWaitingForUser(ctx context.Context, jobID string) ([]*Task, error) {
	return s.queryTasks(ctx, taskSelect+` WHERE job_id = ? AND status = ? ORDER BY created_at ASC`, jobID, TaskWaitingForUser)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus sets status and any number of additional columns in a
// single statement.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, fields ...jobFieldUpdate) error {
	setClauses := "status = ?"
	args := []any{status}
	for _, f := range fields {
		setClauses += ", " + f.column + " = ?"
		args = append(args, f.value)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+setClauses+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update task %q status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update task %q status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update task %q status: %w", id, ErrNotFound)
	}
	return nil
}

// SetTaskWaitingForUser suspends a task pending an operator decision,
// recording the prompt and its structured options/context so a later
// process can resume the task without re-deriving them.
func (s *Store) SetTaskWaitingForUser(ctx context.Context, taskID, inputType, prompt, optionsJSON, contextJSON string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, user_input_type = ?, user_input_prompt = ?, user_input_options = ?, user_input_context = ?
		 WHERE id = ?`,
		TaskWaitingForUser, inputType, prompt, nullable(optionsJSON), nullable(contextJSON), taskID)
	if err != nil {
		return fmt.Errorf("store: suspend task %q for user input: %w", taskID, err)
	}
	return nil
}

// ResumeTaskFromUserInput clears a suspended task's user-input fields and
// moves it back to pending so the dispatcher re-enqueues it, recording
// response in result_json for the stage that resumes to consult. A task
// that is not waiting for user input is left unchanged.
func (s *Store) ResumeTaskFromUserInput(ctx context.Context, taskID, response string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result_json = ?, user_input_type = NULL, user_input_prompt = NULL,
		 user_input_options = NULL, user_input_context = NULL WHERE id = ? AND status = ?`,
		TaskPending, response, taskID, TaskWaitingForUser)
	if err != nil {
		return fmt.Errorf("store: resume task %q from user input: %w", taskID, err)
	}
	return nil
}

const taskSelect = `SELECT id, job_id, folder_path, url, status, retry_count, max_retries, error, result_json,
	created_at, started_at, completed_at, worker_id, enqueued_at,
	user_input_type, user_input_prompt, user_input_options, user_input_context
	FROM tasks`

func scanTask(row scannable) (*Task, error) {
	var t Task
	var url, errStr, resultJSON, workerID sql.NullString
	var startedAt, completedAt, enqueuedAt sql.NullString
	var inputType, inputPrompt, inputOptions, inputContext sql.NullString

	if err := row.Scan(&t.ID, &t.JobID, &t.FolderPath, &url, &t.Status, &t.RetryCount, &t.MaxRetries,
		&errStr, &resultJSON, &t.CreatedAt, &startedAt, &completedAt, &workerID, &enqueuedAt,
		&inputType, &inputPrompt, &inputOptions, &inputContext); err != nil {
		return nil, err
	}

	t.URL = url.String
	t.Error = errStr.String
	t.ResultJSON = resultJSON.String
	t.WorkerID = workerID.String
	t.UserInputType = inputType.String
	t.UserInputPrompt = inputPrompt.String
	t.UserInputOptions = inputOptions.String
	t.UserInputContext = inputContext.String

	if startedAt.Valid {
		v := parseTime(startedAt.String)
		t.StartedAt = &v
	}
	if completedAt.Valid {
		v := parseTime(completedAt.String)
		t.CompletedAt = &v
	}
	if enqueuedAt.Valid {
		v := parseTime(enqueuedAt.String)
		t.EnqueuedAt = &v
	}
	return &t, nil
}
