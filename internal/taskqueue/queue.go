package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"stevedore/pkg/manager"
)

// Operation is the body of a task. ctx is cancelled when the task is forcibly
// aborted; token is the advisory stop flag the body should poll.
type Operation func(ctx context.Context, token *CancellationToken) error

// Queue runs operations with per-manager serialization.
type Queue struct {
	mu      sync.Mutex
	nextID  TaskID
	tasks   map[TaskID]*Snapshot
	live    map[TaskID]*control
	lanes   map[manager.ID]*lane
	metrics *Metrics
	logger  *slog.Logger
}

// control is the transient bookkeeping of a non-terminal task. The worker
// goroutine holds the same pointer; nothing in it refers back to the queue.
type control struct {
	token     *CancellationToken
	done      chan struct{}
	abort     chan struct{}
	abortOnce sync.Once
}

func (c *control) forceAbort() {
	c.abortOnce.Do(func() { close(c.abort) })
}

// lane is the per-manager lock. Each task takes a ticket at submission time:
// it waits for its predecessor's channel and closes its own when done, so
// tasks hand the lane over strictly in submission order.
type lane struct {
	tail chan struct{}
}

func newLane() *lane {
	ready := make(chan struct{})
	close(ready)
	return &lane{tail: ready}
}

// ticket must be called with the queue mutex held.
func (l *lane) ticket() (turn <-chan struct{}, release func()) {
	prev := l.tail
	mine := make(chan struct{})
	l.tail = mine
	return prev, func() { close(mine) }
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithFirstID makes the queue hand out ids starting at id. Used to continue
// the numbering of a persisted task history.
func WithFirstID(id TaskID) Option {
	return func(q *Queue) {
		if id > 0 {
			q.nextID = id
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		nextID: 1,
		tasks:  make(map[TaskID]*Snapshot),
		live:   make(map[TaskID]*control),
		lanes:  make(map[manager.ID]*lane),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.metrics == nil {
		q.metrics = NewMetrics(nil)
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Spawn registers a task and schedules op behind any earlier task for the
// same manager. It never blocks.
func (q *Queue) Spawn(sub Submission, op Operation) TaskID {
	c := &control{
		token: NewCancellationToken(),
		done:  make(chan struct{}),
		abort: make(chan struct{}),
	}

	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.tasks[id] = &Snapshot{
		ID:        id,
		Manager:   sub.Manager,
		Kind:      sub.Kind,
		Status:    StatusQueued,
		CreatedAt: time.Now(),
	}
	q.live[id] = c
	l, ok := q.lanes[sub.Manager]
	if !ok {
		l = newLane()
		q.lanes[sub.Manager] = l
	}
	turn, release := l.ticket()
	q.mu.Unlock()

	q.metrics.recordSubmitted(sub)
	q.logger.Debug("task queued", "task_id", id, "manager", sub.Manager, "kind", sub.Kind)

	go q.work(id, c, turn, release, op)
	return id
}

// work is the per-task worker goroutine.
func (q *Queue) work(id TaskID, c *control, turn <-chan struct{}, release func(), op Operation) {
	defer release()
	<-turn

	if !q.markRunning(id) {
		return
	}
	if c.token.IsCancelled() {
		q.finish(id, StatusCancelled, "cancelled before start")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- invoke(ctx, c.token, op)
	}()

	select {
	case err := <-result:
		status, msg := classify(err, c.token)
		q.finish(id, status, msg)
	case <-c.abort:
		// The operation goroutine may outlive this point; its context is
		// cancelled and its result is discarded.
		cancel()
		q.finish(id, StatusCancelled, "task aborted")
	}
}

// invoke runs op and converts a panic into an internal error.
func invoke(ctx context.Context, token *CancellationToken, op Operation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = manager.Errorf(manager.KindInternal, "task panicked: %v", r)
		}
	}()
	return op(ctx, token)
}

// classify maps an operation result onto a terminal status. A successful
// result stands even if cancellation was requested while it ran.
func classify(err error, token *CancellationToken) (Status, string) {
	switch {
	case err == nil:
		return StatusCompleted, ""
	case token.IsCancelled() || manager.IsKind(err, manager.KindCancelled):
		return StatusCancelled, err.Error()
	default:
		return StatusFailed, err.Error()
	}
}

func (q *Queue) markRunning(id TaskID) bool {
	q.mu.Lock()
	snap := q.tasks[id]
	if snap.Status.IsTerminal() {
		q.mu.Unlock()
		return false
	}
	now := time.Now()
	snap.Status = StatusRunning
	snap.StartedAt = &now
	q.metrics.recordStarted(snap.Manager)
	q.mu.Unlock()

	q.logger.Debug("task running", "task_id", id, "manager", snap.Manager)
	return true
}

// finish moves a task to a terminal status unless it already has one. It
// reports whether this call made the transition.
func (q *Queue) finish(id TaskID, status Status, msg string) bool {
	q.mu.Lock()
	snap, ok := q.finishLocked(id, status, msg)
	q.mu.Unlock()
	if !ok {
		return false
	}

	q.logger.Debug("task finished", "task_id", id, "manager", snap.Manager, "status", status)
	return true
}

// finishLocked must be called with q.mu held. Metrics are recorded before
// waiters are woken so a returned wait always observes them.
func (q *Queue) finishLocked(id TaskID, status Status, msg string) (Snapshot, bool) {
	snap := q.tasks[id]
	if snap.Status.IsTerminal() {
		return Snapshot{}, false
	}
	from := snap.Status
	now := time.Now()
	snap.Status = status
	snap.FinishedAt = &now
	snap.Error = msg
	q.metrics.recordFinished(snap, from)

	if c, ok := q.live[id]; ok {
		delete(q.live, id)
		close(c.done)
	}
	return *snap, true
}

// Cancel asks a task to stop. Cancelling a terminal task is a no-op. A queued
// task is cancelled at once and its operation never runs. A running task is
// aborted immediately, or after mode's grace period if it has not finished by
// then. ctx bounds the graceful wait; when it ends the task is aborted.
func (q *Queue) Cancel(ctx context.Context, id TaskID, mode CancelMode) error {
	q.mu.Lock()
	snap, ok := q.tasks[id]
	if !ok {
		q.mu.Unlock()
		return unknownTask(id)
	}
	if snap.Status.IsTerminal() {
		q.mu.Unlock()
		return nil
	}

	c := q.live[id]
	c.token.Cancel()

	if snap.Status == StatusQueued {
		q.finishLocked(id, StatusCancelled, "cancelled before start")
		q.mu.Unlock()
		q.logger.Debug("queued task cancelled", "task_id", id)
		return nil
	}
	q.mu.Unlock()

	if mode.IsGraceful() {
		timer := time.NewTimer(mode.GracePeriod())
		defer timer.Stop()
		select {
		case <-c.done:
			return nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	c.forceAbort()
	if q.finish(id, StatusCancelled, "task aborted") {
		q.logger.Debug("running task aborted", "task_id", id, "graceful", mode.IsGraceful())
	}
	return nil
}

// Status returns a task's current status.
func (q *Queue) Status(id TaskID) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap, ok := q.tasks[id]
	if !ok {
		return "", unknownTask(id)
	}
	return snap.Status, nil
}

// Snapshot returns a copy of a task's current state.
func (q *Queue) Snapshot(id TaskID) (Snapshot, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	snap, ok := q.tasks[id]
	if !ok {
		return Snapshot{}, unknownTask(id)
	}
	return *snap, nil
}

// Snapshots returns copies of all known tasks ordered by id.
func (q *Queue) Snapshots() []Snapshot {
	q.mu.Lock()
	out := make([]Snapshot, 0, len(q.tasks))
	for _, snap := range q.tasks {
		out = append(out, *snap)
	}
	q.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WaitForTerminal blocks until the task is terminal. A positive timeout bounds
// the wait and yields a timeout error; the task itself keeps running.
func (q *Queue) WaitForTerminal(ctx context.Context, id TaskID, timeout time.Duration) (Snapshot, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		snap, ok := q.tasks[id]
		if !ok {
			q.mu.Unlock()
			return Snapshot{}, unknownTask(id)
		}
		if snap.Status.IsTerminal() {
			out := *snap
			q.mu.Unlock()
			return out, nil
		}
		c, ok := q.live[id]
		q.mu.Unlock()
		if !ok {
			return Snapshot{}, manager.Errorf(manager.KindInternal, "task %d is not terminal but has no notifier", id)
		}

		select {
		case <-c.done:
		case <-expired:
			return Snapshot{}, manager.Errorf(manager.KindTimeout, "timed out after %s waiting for task %d", timeout, id)
		case <-ctx.Done():
			return Snapshot{}, manager.Wrap(manager.KindOf(ctx.Err()), ctx.Err(), fmt.Sprintf("waiting for task %d", id))
		}
	}
}

func unknownTask(id TaskID) error {
	return manager.Errorf(manager.KindInvalidInput, "unknown task id %d", id)
}
