// Package store implements the persistent queue store: the durable record
// of jobs, tasks and file locks that survives process restarts and is the
// primary concurrency boundary between the dispatcher, workers and any
// external observer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite" // registers the "sqlite" driver
	"github.com/google/uuid"
)

// JobStatus is the lifecycle status of a Job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobPlanning   JobStatus = "planning"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// TaskStatus is the lifecycle status of a Task.
type TaskStatus string

const (
	TaskPending         TaskStatus = "pending"
	TaskRunning         TaskStatus = "running"
	TaskWaitingForUser  TaskStatus = "waiting_for_user"
	TaskCompleted       TaskStatus = "completed"
	TaskFailed          TaskStatus = "failed"
	TaskSkipped         TaskStatus = "skipped"
	TaskCancelled       TaskStatus = "cancelled"
)

// IsTerminal reports whether s is one of the task's terminal states.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskSkipped, TaskCancelled:
		return true
	default:
		return false
	}
}

// ErrNotFound is returned by Get* methods when no row matches the id.
var ErrNotFound = errors.New("store: not found")

// Job is a single user request: one run of the organizer over a set of
// folders, sharing a Configuration.
type Job struct {
	ID          string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      JobStatus
	Total       int
	Completed   int
	Failed      int
	Skipped     int
	UserID      string
	ConfigJSON  string
	Error       string
}

// Task is one audiobook folder's end-to-end processing unit.
type Task struct {
	ID                string
	JobID             string
	FolderPath        string
	URL               string
	Status            TaskStatus
	RetryCount        int
	MaxRetries        int
	Error             string
	ResultJSON        string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	WorkerID          string
	EnqueuedAt        *time.Time
	UserInputType     string
	UserInputPrompt   string
	UserInputOptions  string // JSON-encoded
	UserInputContext  string // JSON-encoded
}

// Progress is the aggregate counter view over a job's tasks.
type Progress struct {
	Total          int
	Completed      int
	Failed         int
	Skipped        int
	Running        int
	Pending        int
	WaitingForUser int
	Cancelled      int
}

// Store is the embedded relational queue store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// applies the schema. Pass ":memory:" for a non-durable, in-process store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	// The embedded store is single-writer; one connection avoids
	// "database is locked" errors under concurrent worker access while
	// still allowing concurrent readers via WAL.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const currentSchemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	status TEXT NOT NULL CHECK (status IN ('pending','planning','processing','completed','failed','cancelled')),
	total INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	user_id TEXT,
	config_json TEXT NOT NULL,
	error TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	folder_path TEXT NOT NULL,
	url TEXT,
	status TEXT NOT NULL CHECK (status IN ('pending','running','waiting_for_user','completed','failed','skipped','cancelled')),
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 2,
	error TEXT,
	result_json TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	worker_id TEXT,
	enqueued_at TEXT,
	user_input_type TEXT,
	user_input_prompt TEXT,
	user_input_options TEXT,
	user_input_context TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON tasks(job_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS file_locks (
	lock_path TEXT PRIMARY KEY,
	locked_by_task TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
	acquired_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_locks_task ON file_locks(locked_by_task);
`

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("store: apply schema: %w", err)
	}
	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("store: read schema_version: %w", err)
	}
	if version < currentSchemaVersion {
		_, err := s.db.Exec(`INSERT INTO schema_version(version, applied_at) VALUES (?, ?)`,
			currentSchemaVersion, time.Now().UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("store: record schema_version: %w", err)
		}
	}
	return nil
}

func newID() string { return uuid.NewString() }

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// CreateJob inserts a new job with status pending and the given serialized
// Configuration. The config value is marshaled to JSON here so callers pass
// a typed *config.JobConfig rather than a raw string.
func (s *Store) CreateJob(ctx context.Context, cfg any, userID string) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("store: marshal job config: %w", err)
	}
	id := newID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, created_at, status, config_json, user_id) VALUES (?, ?, ?, ?, ?)`,
		id, nowString(), JobPending, string(data), userID)
	if err != nil {
		return "", fmt.Errorf("store: create job: %w", err)
	}
	return id, nil
}

// CreateTask inserts a pending task for the given job. url may be empty
// when discovery is deferred to the worker.
func (s *Store) CreateTask(ctx context.Context, jobID, folderPath, url string, maxRetries int) (string, error) {
	id := newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, job_id, folder_path, url, status, max_retries, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, jobID, folderPath, nullable(url), TaskPending, maxRetries, nowString())
	if err != nil {
		return "", fmt.Errorf("store: create task: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET total = total + 1 WHERE id = ?`, jobID); err != nil {
		return "", fmt.Errorf("store: bump job total: %w", err)
	}
	return id, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
