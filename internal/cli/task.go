package cli

import (
	"context"
	"errors"
	"fmt"

	"stevedore/internal/execution"
	"stevedore/internal/taskqueue"
	"stevedore/internal/ui"
	"stevedore/pkg/manager"
)

// runTask submits req for manager id and waits for its outcome. When ctx is
// cancelled (Ctrl-C) the task gets a graceful cancel and ErrInterrupted is
// returned.
func (a *app) runTask(ctx context.Context, id manager.ID, req manager.Request) (manager.Response, error) {
	taskID, err := a.orch.Submit(ctx, id, req)
	if err != nil {
		return manager.Response{}, err
	}
	return a.await(ctx, taskID)
}

func (a *app) await(ctx context.Context, taskID taskqueue.TaskID) (manager.Response, error) {
	snap, err := a.orch.WaitForTerminal(ctx, taskID, 0)
	if err != nil {
		if ctx.Err() != nil {
			a.interrupt(taskID)
			return manager.Response{}, ErrInterrupted
		}
		return manager.Response{}, err
	}
	return outcome(snap)
}

// interrupt cancels a task after Ctrl-C, giving it the configured grace
// period to finish on its own.
func (a *app) interrupt(taskID taskqueue.TaskID) {
	grace := a.cfg.General.GracePeriod.Duration
	ui.WarningMsg("Interrupted; cancelling task %s (waiting up to %s)", taskID, grace)
	if err := a.orch.Cancel(context.Background(), taskID, taskqueue.Graceful(grace)); err != nil {
		a.logger.Warn("cancel failed", "task_id", taskID, "error", err)
	}
}

// outcome converts a terminal snapshot into the adapter response or error.
func outcome(snap execution.TaskSnapshot) (manager.Response, error) {
	if snap.Terminal == nil {
		return manager.Response{}, manager.Errorf(manager.KindInternal, "task %s has no recorded outcome", snap.ID)
	}
	switch snap.Terminal.State {
	case execution.StateSucceeded:
		return snap.Terminal.Response, nil
	case execution.StateCancelled:
		if snap.Terminal.Err != nil {
			return manager.Response{}, fmt.Errorf("%w: %v", ErrTaskCancelled, snap.Terminal.Err)
		}
		return manager.Response{}, ErrTaskCancelled
	}
	if snap.Terminal.Err != nil {
		return manager.Response{}, snap.Terminal.Err
	}
	return manager.Response{}, errors.New(snap.Error)
}

// fanResult is one manager's part of a request sent to several managers.
type fanResult struct {
	Manager  manager.ID
	Response manager.Response
	Err      error
}

// fanOut sends req to every manager in ids. Each manager has its own lane so
// the tasks run in parallel; results come back in ids order.
func (a *app) fanOut(ctx context.Context, ids []manager.ID, req manager.Request) ([]fanResult, error) {
	out := make([]fanResult, len(ids))
	submitted := make([]taskqueue.TaskID, len(ids))
	for i, id := range ids {
		out[i].Manager = id
		submitted[i], out[i].Err = a.orch.Submit(ctx, id, req)
	}

	for i := range ids {
		if out[i].Err != nil {
			continue
		}
		out[i].Response, out[i].Err = a.await(ctx, submitted[i])
		if errors.Is(out[i].Err, ErrInterrupted) {
			// Cancel everything still outstanding before returning.
			for j := i + 1; j < len(ids); j++ {
				if out[j].Err == nil {
					a.interrupt(submitted[j])
				}
			}
			return out, ErrInterrupted
		}
	}
	return out, nil
}
