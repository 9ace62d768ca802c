// Package orchestrator is the caller-facing entry point: it routes requests to
// registered adapters, persists task records and runs the authority-phased
// bulk operations.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"stevedore/internal/execution"
	"stevedore/internal/store"
	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// Cache receives the results the orchestrator learns about managers. The
// local bbolt store implements it.
type Cache interface {
	PutDetection(id manager.ID, info manager.DetectionInfo) error
	PutInstalled(id manager.ID, pkgs []manager.Package) error
	PutOutdated(id manager.ID, pkgs []manager.OutdatedPackage) error
	PutSearchResults(id manager.ID, query string, results []manager.SearchResult) error
	SetPin(ref manager.PackageRef, version string) error
	RemovePin(ref manager.PackageRef) error
}

// Runtime routes requests to adapters.
type Runtime struct {
	registry    *manager.Registry
	exec        *execution.Runtime
	tasks       store.TaskStore
	cache       Cache
	safeMode    func() bool
	maxParallel int
	waitTimeout time.Duration
	logger      *slog.Logger

	watchers sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithExecution sets the execution runtime. The default wraps a fresh queue.
func WithExecution(exec *execution.Runtime) Option {
	return func(r *Runtime) {
		r.exec = exec
	}
}

// WithTaskStore enables task record persistence.
func WithTaskStore(s store.TaskStore) Option {
	return func(r *Runtime) {
		r.tasks = s
	}
}

// WithCache enables caching of detection, package lists, search results and
// pins.
func WithCache(c Cache) Option {
	return func(r *Runtime) {
		r.cache = c
	}
}

// WithSafeMode installs the safe-mode check consulted on every mutating
// submission.
func WithSafeMode(enabled func() bool) Option {
	return func(r *Runtime) {
		r.safeMode = enabled
	}
}

// WithMaxParallel bounds how many managers of one phase run at once. Zero or
// less means no bound.
func WithMaxParallel(n int) Option {
	return func(r *Runtime) {
		r.maxParallel = n
	}
}

// WithWaitTimeout bounds each task wait inside bulk operations.
func WithWaitTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.waitTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New creates a runtime over an already validated registry.
func New(registry *manager.Registry, opts ...Option) *Runtime {
	r := &Runtime{registry: registry}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.exec == nil {
		r.exec = execution.New(taskqueue.New(taskqueue.WithLogger(r.logger)), execution.WithLogger(r.logger))
	}
	if r.safeMode == nil {
		r.safeMode = func() bool { return false }
	}
	return r
}

// Registry returns the adapter registry.
func (r *Runtime) Registry() *manager.Registry {
	return r.registry
}

// Submit validates req and queues it for the manager id.
func (r *Runtime) Submit(ctx context.Context, id manager.ID, req manager.Request) (taskqueue.TaskID, error) {
	adapter, ok := r.registry.Get(id)
	if !ok {
		return 0, manager.Attribute(manager.Errorf(manager.KindInvalidInput, "unknown manager %q", id), id, req.Action)
	}
	if req.Action.IsMutating() && r.safeMode() {
		return 0, manager.Attribute(manager.Errorf(manager.KindInvalidInput, "safe mode blocks %s", req.Action), id, req.Action)
	}
	if !adapter.Descriptor().Supports(req.Action) {
		return 0, manager.Unsupported(id, req.Action)
	}
	if err := validate(req); err != nil {
		return 0, manager.Attribute(err, id, req.Action)
	}

	taskID := r.exec.Submit(adapter, req)
	log := r.logger.With("task_id", taskID, "manager", id, "action", req.Action)
	log.Debug("task submitted")

	if r.tasks != nil {
		snap, err := r.exec.Snapshot(taskID)
		if err != nil {
			return 0, manager.Attribute(err, id, req.Action)
		}
		rec := store.TaskRecord{
			ID:        taskID,
			Manager:   id,
			Kind:      req.Action.TaskKind(),
			Status:    taskqueue.StatusQueued,
			CreatedAt: snap.CreatedAt,
			UpdatedAt: snap.CreatedAt,
		}
		if err := r.tasks.CreateTask(ctx, rec); err != nil {
			if cerr := r.exec.Cancel(context.Background(), taskID, taskqueue.Immediate()); cerr != nil {
				log.Warn("failed to cancel unpersisted task", "error", cerr)
			}
			return 0, manager.Attribute(err, id, req.Action)
		}
	}

	if r.tasks != nil || r.cache != nil {
		r.watch(taskID, id, req)
	}
	return taskID, nil
}

func validate(req manager.Request) error {
	switch req.Action {
	case manager.ActionSearch:
		if strings.TrimSpace(req.Query.Text) == "" {
			return manager.Errorf(manager.KindInvalidInput, "search query is empty")
		}
	case manager.ActionInstall, manager.ActionUninstall, manager.ActionUpgrade, manager.ActionPin, manager.ActionUnpin:
		if strings.TrimSpace(req.Package.Name) == "" {
			return manager.Errorf(manager.KindInvalidInput, "package name is empty")
		}
	}
	return nil
}

// watch writes the terminal status back to the store and applies cache side
// effects. Failures are logged.
func (r *Runtime) watch(taskID taskqueue.TaskID, id manager.ID, req manager.Request) {
	r.watchers.Add(1)
	go func() {
		defer r.watchers.Done()
		log := r.logger.With("task_id", taskID, "manager", id, "action", req.Action)

		snap, err := r.exec.WaitForTerminal(context.Background(), taskID, 0)
		if err != nil {
			log.Error("task watcher failed", "error", err)
			return
		}

		if r.tasks != nil {
			if err := r.tasks.UpdateTask(context.Background(), store.RecordFromSnapshot(snap.Snapshot)); err != nil {
				log.Error("failed to persist task status", "status", snap.Status, "error", err)
			}
		}
		if r.cache != nil && snap.Terminal != nil && snap.Terminal.State == execution.StateSucceeded {
			r.cacheOutcome(log, id, req, snap.Terminal.Response)
		}
	}()
}

func (r *Runtime) cacheOutcome(log *slog.Logger, id manager.ID, req manager.Request, resp manager.Response) {
	var err error
	switch req.Action {
	case manager.ActionDetect:
		if resp.Detection != nil {
			err = r.cache.PutDetection(id, *resp.Detection)
		}
	case manager.ActionListInstalled:
		err = r.cache.PutInstalled(id, resp.Installed)
	case manager.ActionListOutdated:
		err = r.cache.PutOutdated(id, resp.Outdated)
	case manager.ActionSearch:
		err = r.cache.PutSearchResults(id, req.Query.Text, resp.Results)
	case manager.ActionPin:
		err = r.cache.SetPin(req.Package, req.Version)
	case manager.ActionUnpin:
		err = r.cache.RemovePin(req.Package)
	}
	if err != nil {
		log.Warn("failed to cache result", "error", err)
	}
}

// Drain waits until every task watcher has written its final status, or ctx
// ends.
func (r *Runtime) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a task's queue status.
func (r *Runtime) Status(id taskqueue.TaskID) (taskqueue.Status, error) {
	return r.exec.Status(id)
}

// Cancel asks a task to stop.
func (r *Runtime) Cancel(ctx context.Context, id taskqueue.TaskID, mode taskqueue.CancelMode) error {
	return r.exec.Cancel(ctx, id, mode)
}

// Snapshot returns a task's state and, once terminal, its outcome.
func (r *Runtime) Snapshot(id taskqueue.TaskID) (execution.TaskSnapshot, error) {
	return r.exec.Snapshot(id)
}

// WaitForTerminal waits for a task to finish.
func (r *Runtime) WaitForTerminal(ctx context.Context, id taskqueue.TaskID, timeout time.Duration) (execution.TaskSnapshot, error) {
	return r.exec.WaitForTerminal(ctx, id, timeout)
}

// Snapshots lists every task known to this process.
func (r *Runtime) Snapshots() []taskqueue.Snapshot {
	return r.exec.Queue().Snapshots()
}
