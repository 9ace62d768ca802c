package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// PgStore keeps task records in PostgreSQL so several hosts can share one
// task history.
type PgStore struct {
	pool *pgxpool.Pool
}

var _ TaskHistory = (*PgStore)(nil)

// OpenPostgres connects to dsn and makes sure the tasks table exists.
func OpenPostgres(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, storageErr(err, "connect to postgres")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, storageErr(err, "ping postgres")
	}
	s := NewPgStore(pool)
	if err := s.EnsureTable(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPgStore wraps an existing pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stevedore_tasks (
			id         BIGINT PRIMARY KEY,
			manager    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			status     TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return storageErr(err, "create tasks table")
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_stevedore_tasks_status ON stevedore_tasks(status)`)
	if err != nil {
		return storageErr(err, "create tasks index")
	}
	return nil
}

// Close releases the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateTask inserts a new task record.
func (s *PgStore) CreateTask(ctx context.Context, rec TaskRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stevedore_tasks (id, manager, kind, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		int64(rec.ID), string(rec.Manager), string(rec.Kind), string(rec.Status), rec.Error,
		rec.CreatedAt.Truncate(time.Microsecond), rec.UpdatedAt.Truncate(time.Microsecond))
	if err != nil {
		return storageErr(err, "create task %d", rec.ID)
	}
	return nil
}

// UpdateTask overwrites the mutable fields of an existing record.
func (s *PgStore) UpdateTask(ctx context.Context, rec TaskRecord) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stevedore_tasks SET status = $1, error = $2, updated_at = $3
		WHERE id = $4`,
		string(rec.Status), rec.Error, rec.UpdatedAt.Truncate(time.Microsecond), int64(rec.ID))
	if err != nil {
		return storageErr(err, "update task %d", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		return storageErr(fmt.Errorf("%w: %d", ErrTaskNotFound, rec.ID), "update task %d", rec.ID)
	}
	return nil
}

const selectTask = `SELECT id, manager, kind, status, error, created_at, updated_at FROM stevedore_tasks`

func scanTask(row pgx.Row) (TaskRecord, error) {
	var (
		rec               TaskRecord
		id                int64
		mgr, kind, status string
	)
	if err := row.Scan(&id, &mgr, &kind, &status, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return TaskRecord{}, err
	}
	rec.ID = taskqueue.TaskID(id)
	rec.Manager = manager.ID(mgr)
	rec.Kind = manager.TaskKind(kind)
	rec.Status = taskqueue.Status(status)
	return rec, nil
}

// GetTask returns one task record.
func (s *PgStore) GetTask(ctx context.Context, id taskqueue.TaskID) (TaskRecord, error) {
	rec, err := scanTask(s.pool.QueryRow(ctx, selectTask+` WHERE id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		err = fmt.Errorf("%w: %d", ErrTaskNotFound, id)
	}
	if err != nil {
		return TaskRecord{}, storageErr(err, "get task %d", id)
	}
	return rec, nil
}

// ListTasks returns the most recent task records first.
func (s *PgStore) ListTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	query := selectTask + ` ORDER BY id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "list tasks")
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, storageErr(err, "scan task")
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "list tasks")
	}
	return records, nil
}

// LastTaskID returns the highest stored task id.
func (s *PgStore) LastTaskID(ctx context.Context) (taskqueue.TaskID, error) {
	var last int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM stevedore_tasks`).Scan(&last); err != nil {
		return 0, storageErr(err, "read last task id")
	}
	return taskqueue.TaskID(last), nil
}

// PruneTasks removes terminal records older than maxAge.
func (s *PgStore) PruneTasks(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM stevedore_tasks
		WHERE status IN ($1, $2, $3) AND updated_at < $4`,
		string(taskqueue.StatusCompleted), string(taskqueue.StatusFailed), string(taskqueue.StatusCancelled), cutoff)
	if err != nil {
		return 0, storageErr(err, "prune tasks")
	}
	return int(tag.RowsAffected()), nil
}
