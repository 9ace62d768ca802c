package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stevedore/internal/execution"
	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// ManagerResult is the outcome of one manager's whole sequence of calls in a
// bulk operation. Err is nil on success.
type ManagerResult struct {
	Manager   manager.ID
	Authority manager.Authority
	Detection *manager.DetectionInfo
	Installed []manager.Package
	Outdated  []manager.OutdatedPackage
	Tasks     []taskqueue.TaskID
	Err       *manager.Error
}

// OK reports whether the manager's sequence succeeded.
func (m ManagerResult) OK() bool {
	return m.Err == nil
}

// BulkResult is the per-manager outcome of a bulk operation, in phase order.
type BulkResult struct {
	RunID   string
	Results []ManagerResult
}

// Failed returns the results whose sequence failed.
func (b BulkResult) Failed() []ManagerResult {
	var out []ManagerResult
	for _, res := range b.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}

// step runs one manager's sequence and fills in res.
type step func(ctx context.Context, log *slog.Logger, res *ManagerResult)

// RefreshAllOrdered detects every registered manager and, for installed ones,
// refreshes metadata and lists installed and outdated packages. Managers run
// one authority phase at a time.
func (r *Runtime) RefreshAllOrdered(ctx context.Context) BulkResult {
	return r.runPhased(ctx, "refresh", r.refreshManager)
}

// DetectAllOrdered runs detect on every registered manager, one authority
// phase at a time.
func (r *Runtime) DetectAllOrdered(ctx context.Context) BulkResult {
	return r.runPhased(ctx, "detect", r.detectManager)
}

func (r *Runtime) runPhased(ctx context.Context, op string, run step) BulkResult {
	runID := uuid.NewString()
	log := r.logger.With("run_id", runID, "op", op)
	out := BulkResult{RunID: runID}

	phases := r.registry.ByAuthority()
	log.Info("bulk operation started", "managers", r.registry.Len(), "phases", len(phases))

	for _, phase := range phases {
		results := make([]ManagerResult, len(phase))
		for i, id := range phase {
			adapter, _ := r.registry.Get(id)
			results[i] = ManagerResult{Manager: id, Authority: adapter.Descriptor().Authority}
		}

		if err := ctx.Err(); err != nil {
			for i := range results {
				results[i].Err = manager.Attribute(err, results[i].Manager, "")
			}
			out.Results = append(out.Results, results...)
			continue
		}

		log.Debug("phase started", "authority", results[0].Authority, "managers", phase)

		// Sequences never return an error to the group so one manager's
		// failure cannot cancel its siblings.
		var g errgroup.Group
		if r.maxParallel > 0 {
			g.SetLimit(r.maxParallel)
		}
		for i := range results {
			res := &results[i]
			g.Go(func() error {
				run(ctx, log.With("manager", res.Manager), res)
				return nil
			})
		}
		g.Wait()

		out.Results = append(out.Results, results...)
	}

	failed := len(out.Failed())
	log.Info("bulk operation finished", "succeeded", len(out.Results)-failed, "failed", failed)
	return out
}

func (r *Runtime) detectManager(ctx context.Context, log *slog.Logger, res *ManagerResult) {
	resp, ok := r.call(ctx, log, res, manager.DetectRequest())
	if ok {
		res.Detection = resp.Detection
	}
}

func (r *Runtime) refreshManager(ctx context.Context, log *slog.Logger, res *ManagerResult) {
	adapter, _ := r.registry.Get(res.Manager)
	desc := adapter.Descriptor()

	if desc.Supports(manager.ActionDetect) {
		resp, ok := r.call(ctx, log, res, manager.DetectRequest())
		if !ok {
			return
		}
		res.Detection = resp.Detection
		if res.Detection != nil && !res.Detection.Installed {
			log.Debug("manager not installed, skipping refresh")
			return
		}
	}

	if desc.Supports(manager.ActionRefresh) {
		if _, ok := r.call(ctx, log, res, manager.RefreshRequest()); !ok {
			return
		}
	}
	if desc.Supports(manager.ActionListInstalled) {
		resp, ok := r.call(ctx, log, res, manager.ListInstalledRequest())
		if !ok {
			return
		}
		res.Installed = resp.Installed
	}
	if desc.Supports(manager.ActionListOutdated) {
		resp, ok := r.call(ctx, log, res, manager.ListOutdatedRequest())
		if !ok {
			return
		}
		res.Outdated = resp.Outdated
	}
}

// call submits one request and waits for it. On failure it sets res.Err and
// returns false.
func (r *Runtime) call(ctx context.Context, log *slog.Logger, res *ManagerResult, req manager.Request) (manager.Response, bool) {
	id := res.Manager
	taskID, err := r.Submit(ctx, id, req)
	if err != nil {
		res.Err = manager.Attribute(err, id, req.Action)
		log.Warn("submit failed", "action", req.Action, "error", err)
		return manager.Response{}, false
	}
	res.Tasks = append(res.Tasks, taskID)

	snap, err := r.exec.WaitForTerminal(ctx, taskID, r.waitTimeout)
	if err != nil {
		// The caller gave up or the wait bound expired; stop the task so it
		// does not hold the manager's lane.
		if cerr := r.exec.Cancel(context.Background(), taskID, taskqueue.Immediate()); cerr != nil {
			log.Warn("failed to cancel abandoned task", "task_id", taskID, "error", cerr)
		}
		res.Err = manager.Attribute(err, id, req.Action)
		log.Warn("wait failed", "action", req.Action, "task_id", taskID, "error", err)
		return manager.Response{}, false
	}

	switch snap.Terminal.State {
	case execution.StateSucceeded:
		return snap.Terminal.Response, true
	case execution.StateCancelled:
		if snap.Terminal.Err != nil {
			res.Err = snap.Terminal.Err
		} else {
			res.Err = manager.Attribute(manager.Errorf(manager.KindCancelled, "task %d cancelled", taskID), id, req.Action)
		}
	default:
		res.Err = snap.Terminal.Err
		if res.Err == nil {
			res.Err = manager.Attribute(manager.Errorf(manager.KindInternal, "task %d failed without an error", taskID), id, req.Action)
		}
	}
	log.Warn("manager call failed", "action", req.Action, "task_id", taskID, "error", res.Err)
	return manager.Response{}, false
}
