package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var errNoRows = sql.ErrNoRows

// isUniqueViolation recognizes sqlite's "UNIQUE constraint failed" message.
// The driver wraps it in its own error type rather than a documented
// sentinel, so matching the message text is the portable option here.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ErrLockHeld is returned by AcquireFileLock when lockPath is already held
// by a different task.
var ErrLockHeld = errors.New("store: lock held")

// AcquireFileLock inserts a row claiming lockPath for taskID. The primary
// key on lock_path makes the claim atomic: a concurrent caller racing for
// the same path gets a constraint violation, translated here to
// ErrLockHeld so the DB-backed lock.Manager can poll-retry against it.
func (s *Store) AcquireFileLock(ctx context.Context, lockPath, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO file_locks (lock_path, locked_by_task, acquired_at) VALUES (?, ?, ?)`,
		lockPath, taskID, nowString())
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("store: acquire lock %q: %w", lockPath, ErrLockHeld)
	}
	return fmt.Errorf("store: acquire lock %q: %w", lockPath, err)
}

// ReleaseFileLock removes taskID's claim on lockPath. Releasing a lock the
// caller doesn't hold is a no-op, matching the OS-level flock semantics
// lock.Manager's other mode provides (closing an fd you never locked just
// closes the fd).
func (s *Store) ReleaseFileLock(ctx context.Context, lockPath, taskID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM file_locks WHERE lock_path = ? AND locked_by_task = ?`, lockPath, taskID)
	if err != nil {
		return fmt.Errorf("store: release lock %q: %w", lockPath, err)
	}
	return nil
}

// ReleaseAllFileLocksForTask releases every lock a task holds, used when a
// task reaches a terminal state so a crashed or killed worker can't leave a
// path permanently locked.
func (s *Store) ReleaseAllFileLocksForTask(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM file_locks WHERE locked_by_task = ?`, taskID)
	if err != nil {
		return fmt.Errorf("store: release locks for task %q: %w", taskID, err)
	}
	return nil
}

// LockHolder returns the task id currently holding lockPath, "" if free.
func (s *Store) LockHolder(ctx context.Context, lockPath string) (string, error) {
	var taskID string
	err := s.db.QueryRowContext(ctx, `SELECT locked_by_task FROM file_locks WHERE lock_path = ?`, lockPath).Scan(&taskID)
	if errors.Is(err, errNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: lock holder %q: %w", lockPath, err)
	}
	return taskID, nil
}
