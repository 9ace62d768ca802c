// Package store persists task records and the orchestrator's cached manager
// state.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// ErrTaskNotFound is returned when a task record does not exist.
var ErrTaskNotFound = errors.New("task not found")

// TaskRecord is the persisted form of a task.
type TaskRecord struct {
	ID        taskqueue.TaskID `json:"id"`
	Manager   manager.ID       `json:"manager"`
	Kind      manager.TaskKind `json:"kind"`
	Status    taskqueue.Status `json:"status"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// RecordFromSnapshot builds a record from a queue snapshot.
func RecordFromSnapshot(snap taskqueue.Snapshot) TaskRecord {
	updated := snap.CreatedAt
	switch {
	case snap.FinishedAt != nil:
		updated = *snap.FinishedAt
	case snap.StartedAt != nil:
		updated = *snap.StartedAt
	}
	return TaskRecord{
		ID:        snap.ID,
		Manager:   snap.Manager,
		Kind:      snap.Kind,
		Status:    snap.Status,
		Error:     snap.Error,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: updated,
	}
}

// TaskStore is the write side the orchestrator needs.
type TaskStore interface {
	CreateTask(ctx context.Context, rec TaskRecord) error
	UpdateTask(ctx context.Context, rec TaskRecord) error
}

// TaskHistory is a TaskStore that can also be read back and pruned.
type TaskHistory interface {
	TaskStore
	GetTask(ctx context.Context, id taskqueue.TaskID) (TaskRecord, error)
	// ListTasks returns the most recent records first. limit <= 0 means all.
	ListTasks(ctx context.Context, limit int) ([]TaskRecord, error)
	// LastTaskID returns the highest stored id, or 0 when empty.
	LastTaskID(ctx context.Context) (taskqueue.TaskID, error)
	// PruneTasks deletes terminal records last updated before now-maxAge.
	PruneTasks(ctx context.Context, maxAge time.Duration) (int, error)
	Close() error
}

func storageErr(err error, format string, args ...any) error {
	return manager.Wrap(manager.KindStorageFailure, err, fmt.Sprintf(format, args...))
}
