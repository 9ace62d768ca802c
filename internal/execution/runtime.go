// Package execution bridges adapter calls into the task queue and keeps each
// task's typed outcome next to the queue's own status tracking.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// State is the domain-level outcome of an adapter call.
type State string

const (
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// TerminalState is what the adapter actually produced. Response is set for
// StateSucceeded; Err for StateFailed and, optionally, StateCancelled.
type TerminalState struct {
	State    State
	Response manager.Response
	Err      *manager.Error
}

// Succeeded wraps a successful response.
func Succeeded(resp manager.Response) TerminalState {
	return TerminalState{State: StateSucceeded, Response: resp}
}

// Failed wraps an adapter failure.
func Failed(err *manager.Error) TerminalState {
	return TerminalState{State: StateFailed, Err: err}
}

// Cancelled wraps a cancellation; err may be nil.
func Cancelled(err *manager.Error) TerminalState {
	return TerminalState{State: StateCancelled, Err: err}
}

// TaskSnapshot is the queue snapshot plus the adapter outcome once terminal.
type TaskSnapshot struct {
	taskqueue.Snapshot
	Terminal *TerminalState
}

// outcome is a write-once slot.
type outcome struct {
	once  sync.Once
	state atomic.Pointer[TerminalState]
}

func (o *outcome) set(ts TerminalState) {
	o.once.Do(func() { o.state.Store(&ts) })
}

func (o *outcome) get() *TerminalState {
	return o.state.Load()
}

// Runtime submits adapter calls to a queue.
type Runtime struct {
	queue  *taskqueue.Queue
	tracer trace.Tracer
	logger *slog.Logger

	mu       sync.RWMutex
	outcomes map[taskqueue.TaskID]*outcome
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithTracer sets the tracer used for adapter spans.
func WithTracer(t trace.Tracer) Option {
	return func(r *Runtime) {
		r.tracer = t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		r.logger = l
	}
}

// New creates a runtime on top of queue.
func New(queue *taskqueue.Queue, opts ...Option) *Runtime {
	r := &Runtime{
		queue:    queue,
		outcomes: make(map[taskqueue.TaskID]*outcome),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer("stevedore/execution")
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Queue returns the underlying task queue.
func (r *Runtime) Queue() *taskqueue.Queue {
	return r.queue
}

// Submit queues one adapter call and returns its task id.
func (r *Runtime) Submit(adapter manager.Adapter, req manager.Request) taskqueue.TaskID {
	desc := adapter.Descriptor()
	slot := &outcome{}
	sub := taskqueue.Submission{Manager: desc.ID, Kind: req.Action.TaskKind()}
	op := r.operation(adapter, desc.ID, req, slot)

	// Holding mu across Spawn keeps the id→slot mapping visible before anyone
	// can look the id up.
	r.mu.Lock()
	id := r.queue.Spawn(sub, op)
	r.outcomes[id] = slot
	r.mu.Unlock()
	return id
}

func (r *Runtime) operation(adapter manager.Adapter, id manager.ID, req manager.Request, slot *outcome) taskqueue.Operation {
	return func(ctx context.Context, token *taskqueue.CancellationToken) error {
		if token.IsCancelled() {
			err := manager.Attribute(manager.Errorf(manager.KindCancelled, "cancelled before adapter call"), id, req.Action)
			slot.set(Cancelled(err))
			return err
		}

		ctx, span := r.tracer.Start(ctx, "adapter."+string(req.Action),
			trace.WithAttributes(
				attribute.String("stevedore.manager", string(id)),
				attribute.String("stevedore.action", string(req.Action)),
				attribute.String("stevedore.task_kind", string(req.Action.TaskKind())),
			))
		defer span.End()

		start := time.Now()
		resp, err, crash := dispatch(ctx, adapter, req)
		r.logger.Debug("adapter call returned", "manager", id, "action", req.Action,
			"duration", time.Since(start), "error", err)

		switch {
		case crash != nil:
			failure := &manager.Error{
				Kind:    manager.KindInternal,
				Manager: id,
				Task:    req.Action.TaskKind(),
				Action:  req.Action,
				Message: fmt.Sprintf("adapter worker failed: %v", crash),
			}
			slot.set(Failed(failure))
			span.SetStatus(codes.Error, failure.Error())
			return failure

		case err == nil && ctx.Err() == nil:
			resp.Action = req.Action
			slot.set(Succeeded(resp))
			span.SetStatus(codes.Ok, "")
			return nil
		}

		if err == nil {
			// Aborted while the adapter was finishing; the queue already
			// reports the task as cancelled.
			err = ctx.Err()
		}
		attributed := manager.Attribute(err, id, req.Action)
		span.RecordError(attributed)
		if token.IsCancelled() || ctx.Err() != nil || attributed.Kind == manager.KindCancelled {
			slot.set(Cancelled(attributed))
			span.SetStatus(codes.Error, "cancelled")
			return attributed
		}
		slot.set(Failed(attributed))
		span.SetStatus(codes.Error, attributed.Error())
		return attributed
	}
}

// dispatch runs the blocking adapter call. A panic inside the adapter is
// returned as crash rather than unwinding the queue worker.
func dispatch(ctx context.Context, adapter manager.Adapter, req manager.Request) (resp manager.Response, err error, crash any) {
	defer func() {
		if r := recover(); r != nil {
			crash = r
		}
	}()
	resp, err = adapter.Execute(ctx, req)
	return resp, err, nil
}

// Status returns the queue status of a task.
func (r *Runtime) Status(id taskqueue.TaskID) (taskqueue.Status, error) {
	return r.queue.Status(id)
}

// Cancel forwards to the queue.
func (r *Runtime) Cancel(ctx context.Context, id taskqueue.TaskID, mode taskqueue.CancelMode) error {
	return r.queue.Cancel(ctx, id, mode)
}

// Snapshot returns the task's current state with its outcome attached once
// terminal.
func (r *Runtime) Snapshot(id taskqueue.TaskID) (TaskSnapshot, error) {
	snap, err := r.queue.Snapshot(id)
	if err != nil {
		return TaskSnapshot{}, err
	}
	return r.attach(snap)
}

// WaitForTerminal waits for the task and attaches its outcome.
func (r *Runtime) WaitForTerminal(ctx context.Context, id taskqueue.TaskID, timeout time.Duration) (TaskSnapshot, error) {
	snap, err := r.queue.WaitForTerminal(ctx, id, timeout)
	if err != nil {
		return TaskSnapshot{}, err
	}
	return r.attach(snap)
}

func (r *Runtime) attach(snap taskqueue.Snapshot) (TaskSnapshot, error) {
	out := TaskSnapshot{Snapshot: snap}
	if !snap.Status.IsTerminal() {
		return out, nil
	}

	r.mu.RLock()
	slot, ok := r.outcomes[snap.ID]
	r.mu.RUnlock()

	var recorded *TerminalState
	if ok {
		recorded = slot.get()
	}

	switch snap.Status {
	case taskqueue.StatusCancelled:
		switch {
		case recorded != nil && recorded.State == StateCancelled:
			out.Terminal = recorded
		case recorded != nil && recorded.State == StateFailed:
			// The token fired after the adapter failed; keep its error.
			ts := Cancelled(recorded.Err)
			out.Terminal = &ts
		default:
			// Cancelled before the operation body ran, or aborted before the
			// adapter returned.
			ts := Cancelled(nil)
			out.Terminal = &ts
		}
		return out, nil

	case taskqueue.StatusCompleted, taskqueue.StatusFailed:
		if recorded == nil {
			return out, manager.Errorf(manager.KindInternal,
				"task %d is %s but no adapter outcome was recorded", snap.ID, snap.Status)
		}
		out.Terminal = recorded
		return out, nil
	}

	return out, manager.Errorf(manager.KindInternal, "task %d has unexpected status %s", snap.ID, snap.Status)
}
