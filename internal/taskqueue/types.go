// Package taskqueue schedules adapter operations. Tasks for the same manager
// run one at a time in submission order; tasks for different managers run in
// parallel.
package taskqueue

import (
	"strconv"
	"sync/atomic"
	"time"

	"stevedore/pkg/manager"
)

// TaskID identifies a task within one queue instance. Ids increase
// monotonically in submission order.
type TaskID uint64

// String returns the decimal form of the id.
func (id TaskID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseTaskID parses the decimal form produced by String.
func ParseTaskID(s string) (TaskID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, manager.Errorf(manager.KindInvalidInput, "invalid task id %q", s)
	}
	return TaskID(n), nil
}

// Status is a task's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Submission describes what a task targets.
type Submission struct {
	Manager manager.ID
	Kind    manager.TaskKind
}

// Snapshot is a point-in-time copy of a task's state.
type Snapshot struct {
	ID         TaskID           `json:"id"`
	Manager    manager.ID       `json:"manager"`
	Kind       manager.TaskKind `json:"kind"`
	Status     Status           `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// CancelMode selects how Cancel stops a running task.
type CancelMode struct {
	graceful bool
	grace    time.Duration
}

// Immediate aborts a running task at once.
func Immediate() CancelMode {
	return CancelMode{}
}

// Graceful lets a running task finish on its own for up to grace before
// aborting it.
func Graceful(grace time.Duration) CancelMode {
	return CancelMode{graceful: true, grace: grace}
}

// IsGraceful reports whether the mode waits before aborting.
func (m CancelMode) IsGraceful() bool { return m.graceful }

// GracePeriod returns the graceful wait bound.
func (m CancelMode) GracePeriod() time.Duration { return m.grace }

// CancellationToken is the advisory stop flag shared between the queue and a
// running operation. Operations poll it at their own suspension points.
type CancellationToken struct {
	cancelled atomic.Bool
}

// NewCancellationToken returns an unset token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{}
}

// Cancel sets the flag.
func (t *CancellationToken) Cancel() {
	t.cancelled.Store(true)
}

// IsCancelled reports whether Cancel has been called.
func (t *CancellationToken) IsCancelled() bool {
	return t.cancelled.Load()
}
