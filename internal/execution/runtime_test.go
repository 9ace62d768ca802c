package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// fakeAdapter runs fn for every request.
type fakeAdapter struct {
	id manager.ID
	fn func(ctx context.Context, req manager.Request) (manager.Response, error)
}

func (f *fakeAdapter) Descriptor() manager.Descriptor {
	return manager.Descriptor{
		ID:           f.id,
		DisplayName:  string(f.id),
		Authority:    manager.AuthorityStandard,
		Capabilities: []manager.Capability{manager.ActionDetect, manager.ActionSearch, manager.ActionInstall},
	}
}

func (f *fakeAdapter) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	return f.fn(ctx, req)
}

func newRuntime() *Runtime {
	return New(taskqueue.New())
}

func wait(t *testing.T, r *Runtime, id taskqueue.TaskID) TaskSnapshot {
	t.Helper()
	snap, err := r.WaitForTerminal(context.Background(), id, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForTerminal(%d) error: %v", id, err)
	}
	if snap.Terminal == nil {
		t.Fatalf("terminal snapshot %d has no outcome", id)
	}
	return snap
}

func TestSubmitSucceeded(t *testing.T) {
	r := newRuntime()
	adapter := &fakeAdapter{id: manager.Npm, fn: func(_ context.Context, req manager.Request) (manager.Response, error) {
		return manager.Response{Results: []manager.SearchResult{{Name: req.Query.Text, Source: manager.Npm}}}, nil
	}}

	id := r.Submit(adapter, manager.SearchRequest("left-pad"))
	snap := wait(t, r, id)

	if snap.Status != taskqueue.StatusCompleted {
		t.Fatalf("expected completed, got %s", snap.Status)
	}
	if snap.Kind != manager.TaskSearch {
		t.Errorf("expected search task kind, got %s", snap.Kind)
	}
	if snap.Terminal.State != StateSucceeded {
		t.Fatalf("expected succeeded outcome, got %s", snap.Terminal.State)
	}
	if snap.Terminal.Response.Action != manager.ActionSearch {
		t.Errorf("response action = %q", snap.Terminal.Response.Action)
	}
	if len(snap.Terminal.Response.Results) != 1 || snap.Terminal.Response.Results[0].Name != "left-pad" {
		t.Errorf("unexpected results: %+v", snap.Terminal.Response.Results)
	}
}

func TestSubmitFailedIsAttributed(t *testing.T) {
	r := newRuntime()
	adapter := &fakeAdapter{id: manager.Pip, fn: func(context.Context, manager.Request) (manager.Response, error) {
		return manager.Response{}, manager.Errorf(manager.KindProcessFailure, "pip exited with status 2")
	}}

	id := r.Submit(adapter, manager.PackageRequest(manager.ActionInstall, manager.PackageRef{Manager: manager.Pip, Name: "requests"}, ""))
	snap := wait(t, r, id)

	if snap.Status != taskqueue.StatusFailed {
		t.Fatalf("expected failed, got %s", snap.Status)
	}
	got := snap.Terminal.Err
	if snap.Terminal.State != StateFailed || got == nil {
		t.Fatalf("expected failed outcome with error, got %+v", snap.Terminal)
	}
	if got.Kind != manager.KindProcessFailure {
		t.Errorf("kind = %s", got.Kind)
	}
	if got.Manager != manager.Pip || got.Task != manager.TaskInstall || got.Action != manager.ActionInstall {
		t.Errorf("error not attributed: %+v", got)
	}
}

func TestPlainErrorIsWrapped(t *testing.T) {
	r := newRuntime()
	adapter := &fakeAdapter{id: manager.Cargo, fn: func(context.Context, manager.Request) (manager.Response, error) {
		return manager.Response{}, errors.New("disk full")
	}}

	snap := wait(t, r, r.Submit(adapter, manager.DetectRequest()))
	if snap.Terminal.Err == nil || snap.Terminal.Err.Manager != manager.Cargo {
		t.Fatalf("expected attributed error, got %+v", snap.Terminal.Err)
	}
	if snap.Terminal.Err.Task != manager.TaskDetection {
		t.Errorf("task kind = %s", snap.Terminal.Err.Task)
	}
}

func TestAdapterPanicIsInternal(t *testing.T) {
	r := newRuntime()
	adapter := &fakeAdapter{id: manager.Mas, fn: func(context.Context, manager.Request) (manager.Response, error) {
		panic("nil map")
	}}

	snap := wait(t, r, r.Submit(adapter, manager.DetectRequest()))
	if snap.Status != taskqueue.StatusFailed || snap.Terminal.State != StateFailed {
		t.Fatalf("expected failed, got %s / %s", snap.Status, snap.Terminal.State)
	}
	if snap.Terminal.Err.Kind != manager.KindInternal {
		t.Errorf("expected internal, got %s", snap.Terminal.Err.Kind)
	}
}

func TestCancelledErrorKind(t *testing.T) {
	r := newRuntime()
	adapter := &fakeAdapter{id: manager.Npm, fn: func(context.Context, manager.Request) (manager.Response, error) {
		return manager.Response{}, manager.Errorf(manager.KindCancelled, "interrupted")
	}}

	snap := wait(t, r, r.Submit(adapter, manager.RefreshRequest()))
	if snap.Status != taskqueue.StatusCancelled || snap.Terminal.State != StateCancelled {
		t.Fatalf("expected cancelled, got %s / %s", snap.Status, snap.Terminal.State)
	}
	if snap.Terminal.Err == nil || snap.Terminal.Err.Message != "interrupted" {
		t.Errorf("expected adapter error to be kept, got %+v", snap.Terminal.Err)
	}
}

func TestQueuedCancelSynthesizesOutcome(t *testing.T) {
	r := newRuntime()
	release := make(chan struct{})
	blocker := &fakeAdapter{id: manager.Npm, fn: func(context.Context, manager.Request) (manager.Response, error) {
		<-release
		return manager.Response{}, nil
	}}
	var calls atomic.Int32
	second := &fakeAdapter{id: manager.Npm, fn: func(context.Context, manager.Request) (manager.Response, error) {
		calls.Add(1)
		return manager.Response{}, nil
	}}

	first := r.Submit(blocker, manager.RefreshRequest())
	queued := r.Submit(second, manager.RefreshRequest())
	if err := r.Cancel(context.Background(), queued, taskqueue.Immediate()); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	close(release)

	snap := wait(t, r, queued)
	if snap.Terminal.State != StateCancelled || snap.Terminal.Err != nil {
		t.Errorf("expected Cancelled(nil), got %+v", snap.Terminal)
	}
	wait(t, r, first)
	if n := calls.Load(); n != 0 {
		t.Errorf("adapter of a cancelled queued task was called %d times", n)
	}
}

func TestAbortedTaskIsCancelled(t *testing.T) {
	r := newRuntime()
	started := make(chan struct{})
	adapter := &fakeAdapter{id: manager.HomebrewFormula, fn: func(ctx context.Context, _ manager.Request) (manager.Response, error) {
		close(started)
		<-ctx.Done()
		return manager.Response{}, ctx.Err()
	}}

	id := r.Submit(adapter, manager.RefreshRequest())
	<-started
	if err := r.Cancel(context.Background(), id, taskqueue.Immediate()); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	snap := wait(t, r, id)
	if snap.Status != taskqueue.StatusCancelled || snap.Terminal.State != StateCancelled {
		t.Errorf("expected cancelled, got %s / %s", snap.Status, snap.Terminal.State)
	}
}

func TestGracefulCancelKeepsSuccess(t *testing.T) {
	r := newRuntime()
	started := make(chan struct{})
	adapter := &fakeAdapter{id: manager.Pip, fn: func(context.Context, manager.Request) (manager.Response, error) {
		close(started)
		time.Sleep(40 * time.Millisecond)
		return manager.Response{Installed: []manager.Package{{Name: "black", Version: "24.1.0"}}}, nil
	}}

	id := r.Submit(adapter, manager.ListInstalledRequest())
	<-started
	if err := r.Cancel(context.Background(), id, taskqueue.Graceful(2*time.Second)); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	snap := wait(t, r, id)
	if snap.Status != taskqueue.StatusCompleted || snap.Terminal.State != StateSucceeded {
		t.Errorf("expected completed/succeeded, got %s / %s", snap.Status, snap.Terminal.State)
	}
}

func TestSnapshotBeforeTerminalHasNoOutcome(t *testing.T) {
	r := newRuntime()
	release := make(chan struct{})
	adapter := &fakeAdapter{id: manager.Cargo, fn: func(context.Context, manager.Request) (manager.Response, error) {
		<-release
		return manager.Response{}, nil
	}}

	id := r.Submit(adapter, manager.RefreshRequest())
	snap, err := r.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot() error: %v", err)
	}
	if snap.Terminal != nil {
		t.Errorf("non-terminal snapshot carries outcome %+v", snap.Terminal)
	}
	close(release)
	wait(t, r, id)
}

func TestUnknownTask(t *testing.T) {
	r := newRuntime()
	if _, err := r.Snapshot(404); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("Snapshot(): expected invalid_input, got %v", err)
	}
	if _, err := r.Status(404); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("Status(): expected invalid_input, got %v", err)
	}
}

func TestMissingOutcomeIsInternal(t *testing.T) {
	r := newRuntime()
	// A task spawned directly on the queue has no outcome slot.
	id := r.Queue().Spawn(taskqueue.Submission{Manager: manager.Npm, Kind: manager.TaskRefresh},
		func(context.Context, *taskqueue.CancellationToken) error { return nil })

	_, err := r.WaitForTerminal(context.Background(), id, 5*time.Second)
	if !manager.IsKind(err, manager.KindInternal) {
		t.Errorf("expected internal error for a missing outcome, got %v", err)
	}
}

func TestCancelledAfterFailureKeepsError(t *testing.T) {
	r := newRuntime()
	release := make(chan struct{})
	id := r.Queue().Spawn(taskqueue.Submission{Manager: manager.Npm, Kind: manager.TaskInstall},
		func(context.Context, *taskqueue.CancellationToken) error {
			<-release
			return nil
		})

	// The adapter recorded a failure but the queue settled on cancelled.
	cause := manager.Errorf(manager.KindProcessFailure, "npm exited 1")
	slot := &outcome{}
	slot.set(Failed(cause))
	r.mu.Lock()
	r.outcomes[id] = slot
	r.mu.Unlock()

	if err := r.Cancel(context.Background(), id, taskqueue.Immediate()); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	close(release)

	snap := wait(t, r, id)
	if snap.Status != taskqueue.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", snap.Status)
	}
	if snap.Terminal.State != StateCancelled {
		t.Errorf("expected cancelled outcome, got %s", snap.Terminal.State)
	}
	if snap.Terminal.Err != cause {
		t.Errorf("adapter error lost: got %v", snap.Terminal.Err)
	}
}
