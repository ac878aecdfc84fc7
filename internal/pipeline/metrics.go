package pipeline

import (
	"sync/atomic"
)

// Metrics accumulates in-memory, per-run task outcome counters for a
// dispatcher's worker pool. These are process-lifetime counts for
// observability; the durable source of truth for job progress is the
// queue store's task status column, not this struct.
type Metrics struct {
	JobID string

	TasksStarted   atomic.Uint64
	TasksCompleted atomic.Uint64
	TasksSkipped   atomic.Uint64
	TasksFailed    atomic.Uint64

	ScrapeAttempts atomic.Uint64
	ScrapeFailures atomic.Uint64
	LockTimeouts   atomic.Uint64
	TagsEmbedded   atomic.Uint64
}

// NewMetrics creates a zeroed metrics instance for jobID.
func NewMetrics(jobID string) *Metrics {
	return &Metrics{JobID: jobID}
}

// Reset zeros every counter, used between a job's resume attempts so stale
// counts from a prior process don't bleed into the new run's totals.
func (m *Metrics) Reset() {
	m.TasksStarted.Store(0)
	m.TasksCompleted.Store(0)
	m.TasksSkipped.Store(0)
	m.TasksFailed.Store(0)
	m.ScrapeAttempts.Store(0)
	m.ScrapeFailures.Store(0)
	m.LockTimeouts.Store(0)
	m.TagsEmbedded.Store(0)
}

// RecordOutcome updates the terminal-status counters for a task run; err
// is the *StageError returned by Pipeline.Run, nil on success.
func (m *Metrics) RecordOutcome(skipped bool, err error) {
	switch {
	case err == nil && skipped:
		m.TasksSkipped.Add(1)
	case err == nil:
		m.TasksCompleted.Add(1)
	default:
		m.TasksFailed.Add(1)
		if kind, ok := AsStageErrorKind(err); ok && kind == KindLockTimeout {
			m.LockTimeouts.Add(1)
		}
	}
}
