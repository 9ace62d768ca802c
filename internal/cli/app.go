package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"stevedore/internal/config"
	"stevedore/internal/execution"
	"stevedore/internal/executor"
	"stevedore/internal/orchestrator"
	"stevedore/internal/store"
	"stevedore/internal/taskqueue"
	"stevedore/pkg/adapters"
	"stevedore/pkg/manager"
	"stevedore/pkg/manager/detector"
)

// drainSlack is added to the grace period when waiting for task records to
// be written on exit.
const drainSlack = 5 * time.Second

// app is everything a command needs: the orchestrator and the stores behind it.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	exec     *executor.Executor
	system   *detector.SystemInfo
	registry *manager.Registry
	orch     *orchestrator.Runtime
	local    *store.BoltStore
	tasks    store.TaskHistory
	metrics  *prometheus.Registry
}

// openApp opens the stores, registers the adapters this host supports and
// wires the orchestrator.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	local, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, local: local, tasks: local}

	if cfg.Store.Driver == config.DriverPostgres {
		pg, err := store.OpenPostgres(ctx, cfg.Store.DSN)
		if err != nil {
			local.Close()
			return nil, err
		}
		a.tasks = pg
	}

	last, err := a.tasks.LastTaskID(ctx)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.metrics = prometheus.NewRegistry()
	queue := taskqueue.New(
		taskqueue.WithMetrics(taskqueue.NewMetrics(a.metrics)),
		taskqueue.WithLogger(logger),
		taskqueue.WithFirstID(last+1),
	)

	a.exec = executor.New(executor.WithDryRun(cfg.General.DryRun), executor.WithLogger(logger))
	a.system = detector.Detect(ctx, a.exec)

	var enabled []manager.Adapter
	for _, ad := range adapters.Default(a.exec, a.system.GOOS, adapterSettings(cfg)) {
		if cfg.ManagerEnabled(string(ad.Descriptor().ID)) {
			enabled = append(enabled, ad)
		}
	}
	a.registry, err = manager.NewRegistry(enabled...)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.orch = orchestrator.New(a.registry,
		orchestrator.WithExecution(execution.New(queue, execution.WithLogger(logger))),
		orchestrator.WithTaskStore(a.tasks),
		orchestrator.WithCache(local),
		orchestrator.WithSafeMode(a.safeMode),
		orchestrator.WithMaxParallel(cfg.General.MaxParallel),
		orchestrator.WithWaitTimeout(cfg.General.WaitTimeout.Duration),
		orchestrator.WithLogger(logger),
	)

	logger.Debug("orchestrator ready",
		"os", a.system.PrettyName,
		"managers", a.registry.Len(),
		"first_task_id", last+1,
		"store", cfg.Store.Driver,
		"dry_run", cfg.General.DryRun)
	return a, nil
}

// adapterSettings maps [managers.<id>] config onto adapter settings.
func adapterSettings(cfg *config.Config) map[manager.ID]adapters.Settings {
	out := make(map[manager.ID]adapters.Settings)
	for name, mc := range cfg.Managers {
		if mc.Binary == "" && mc.Timeout.Duration == 0 {
			continue
		}
		out[manager.ID(name)] = adapters.Settings{Binary: mc.Binary, Timeout: mc.Timeout.Duration}
	}
	return out
}

// safeMode reads the persisted flag, falling back to the config file when the
// flag was never set or cannot be read.
func (a *app) safeMode() bool {
	enabled, set, err := a.local.SafeMode()
	if err != nil {
		a.logger.Warn("failed to read safe mode flag", "error", err)
		return a.cfg.General.SafeMode
	}
	if !set {
		return a.cfg.General.SafeMode
	}
	return enabled
}

// resolveManager turns the --manager flag into a registered manager id.
func (a *app) resolveManager(name string) (manager.ID, error) {
	if name == "" {
		return "", ErrNoManager
	}
	id, err := manager.ParseID(name)
	if err != nil {
		return "", err
	}
	if _, ok := a.registry.Get(id); !ok {
		return "", fmt.Errorf("%s: %w", id, ErrManagerDisabled)
	}
	return id, nil
}

// installedManagers returns registered managers whose cached detection says
// installed, restricted to those supporting action. Managers never detected
// are included so a fresh install still works before the first refresh.
func (a *app) installedManagers(action manager.Action) []manager.ID {
	detected := make(map[manager.ID]bool)
	if entries, err := a.local.Detections(); err != nil {
		a.logger.Warn("failed to read detection cache", "error", err)
	} else {
		for _, e := range entries {
			detected[e.Manager] = e.Info.Installed
		}
	}

	var ids []manager.ID
	for _, d := range a.registry.Descriptors() {
		if !d.Supports(action) {
			continue
		}
		if installed, known := detected[d.ID]; known && !installed {
			continue
		}
		ids = append(ids, d.ID)
	}
	return ids
}

func (a *app) printStats(w io.Writer) {
	families, err := a.metrics.Gather()
	if err != nil {
		a.logger.Warn("failed to gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			a.logger.Warn("failed to write metrics", "error", err)
			return
		}
	}
}

// Close waits for task records to be written and closes the stores.
func (a *app) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.General.GracePeriod.Duration+drainSlack)
	defer cancel()

	var errs []error
	if err := a.orch.Drain(ctx); err != nil {
		errs = append(errs, fmt.Errorf("waiting for task records: %w", err))
	}
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeStores() error {
	var errs []error
	if a.tasks != nil && a.tasks != store.TaskHistory(a.local) {
		errs = append(errs, a.tasks.Close())
	}
	errs = append(errs, a.local.Close())
	return errors.Join(errs...)
}
