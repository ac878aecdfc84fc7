package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, started_at, completed_at, status, total, completed, failed, skipped, user_id, config_json, error
		 FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: get job %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job %q: %w", id, err)
	}
	return j, nil
}

// GetIncompleteJobs returns jobs whose status is non-terminal, newest first.
func (s *Store) GetIncompleteJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, started_at, completed_at, status, total, completed, failed, skipped, user_id, config_json, error
		 FROM jobs WHERE status IN (?, ?, ?) ORDER BY created_at DESC`,
		JobPending, JobPlanning, JobProcessing)
	if err != nil {
		return nil, fmt.Errorf("store: get incomplete jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// jobFieldUpdate is one column=value pair for UpdateJobStatus's variadic
// extra-field updates, keeping the call site readable
// (UpdateJobStatus(ctx, id, status, store.Field("error", msg))).
type jobFieldUpdate struct {
	column string
	value  any
}

// Field builds a jobFieldUpdate, the column/value pair taken by both the
// variadic UpdateJobStatus and UpdateTaskStatus calls.
func Field(column string, value any) jobFieldUpdate {
	return jobFieldUpdate{column: column, value: value}
}

// UpdateJobStatus sets status and any number of additional columns in a
// single statement, so a transition and its side-effecting fields (e.g.
// started_at) commit atomically.
func (s *Store) UpdateJobStatus(ctx context.Context, id string, status JobStatus, fields ...jobFieldUpdate) error {
	setClauses := "status = ?"
	args := []any{status}
	for _, f := range fields {
		setClauses += ", " + f.column + " = ?"
		args = append(args, f.value)
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+setClauses+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("store: update job %q status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update job %q status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: update job %q status: %w", id, ErrNotFound)
	}
	return nil
}

// GetJobProgress computes the aggregate task-status counters for a job with
// a single query; any status with zero matching rows contributes 0.
func (s *Store) GetJobProgress(ctx context.Context, jobID string) (Progress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM tasks WHERE job_id = ?`,
		TaskCompleted, TaskFailed, TaskSkipped, TaskRunning, TaskPending, TaskWaitingForUser, TaskCancelled,
		jobID)

	var p Progress
	err := row.Scan(&p.Total, &p.Completed, &p.Failed, &p.Skipped, &p.Running, &p.Pending, &p.WaitingForUser, &p.Cancelled)
	if err != nil {
		return Progress{}, fmt.Errorf("store: get job %q progress: %w", jobID, err)
	}
	return p, nil
}

// DeleteJob removes a job and cascades to its tasks and their file locks.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete job %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete job %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: delete job %q: %w", id, ErrNotFound)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*Job, error) {
	var j Job
	var startedAt, completedAt, userID, errStr sql.NullString
	if err := row.Scan(&j.ID, &j.CreatedAt, &startedAt, &completedAt, &j.Status,
		&j.Total, &j.Completed, &j.Failed, &j.Skipped, &userID, &j.ConfigJSON, &errStr); err != nil {
		return nil, err
	}
	j.UserID = userID.String
	j.Error = errStr.String
	if startedAt.Valid {
		t := parseTime(startedAt.String)
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		j.CompletedAt = &t
	}
	return &j, nil
}
