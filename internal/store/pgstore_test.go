package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

func setupPgStore(t *testing.T) *PgStore {
	t.Helper()

	dsn := os.Getenv("STEVEDORE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("STEVEDORE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("OpenPostgres() error: %v", err)
	}
	if _, err := s.pool.Exec(ctx, `TRUNCATE stevedore_tasks`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPgStoreRoundTrip(t *testing.T) {
	s := setupPgStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := TaskRecord{ID: 10, Manager: manager.Npm, Kind: manager.TaskSearch, Status: taskqueue.StatusQueued, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateTask(ctx, rec); err != nil {
		t.Fatalf("CreateTask() error: %v", err)
	}
	rec.Status = taskqueue.StatusCompleted
	if err := s.UpdateTask(ctx, rec); err != nil {
		t.Fatalf("UpdateTask() error: %v", err)
	}

	got, err := s.GetTask(ctx, 10)
	if err != nil {
		t.Fatalf("GetTask() error: %v", err)
	}
	if got.Status != taskqueue.StatusCompleted || got.Manager != manager.Npm {
		t.Errorf("unexpected record: %+v", got)
	}
	if last, _ := s.LastTaskID(ctx); last != 10 {
		t.Errorf("LastTaskID() = %d, want 10", last)
	}
	if _, err := s.GetTask(ctx, 11); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestPgStorePrune(t *testing.T) {
	s := setupPgStore(t)
	ctx := context.Background()
	old := time.Now().Add(-72 * time.Hour)

	s.CreateTask(ctx, TaskRecord{ID: 1, Manager: manager.Pip, Kind: manager.TaskRefresh, Status: taskqueue.StatusFailed, CreatedAt: old, UpdatedAt: old})
	s.CreateTask(ctx, TaskRecord{ID: 2, Manager: manager.Pip, Kind: manager.TaskRefresh, Status: taskqueue.StatusQueued, CreatedAt: old, UpdatedAt: old})

	n, err := s.PruneTasks(ctx, 24*time.Hour)
	if err != nil || n != 1 {
		t.Errorf("PruneTasks() = %d, %v", n, err)
	}
	list, _ := s.ListTasks(ctx, 0)
	if len(list) != 1 || list[0].ID != 2 {
		t.Errorf("unexpected remaining records: %+v", list)
	}
}
