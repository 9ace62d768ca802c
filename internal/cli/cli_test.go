package cli

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"stevedore/internal/config"
	"stevedore/internal/execution"
	"stevedore/internal/orchestrator"
	"stevedore/internal/store"
	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// stubAdapter answers search and list calls with canned data.
type stubAdapter struct {
	id     manager.ID
	delay  time.Duration
	failOn manager.Action
}

func (s *stubAdapter) Descriptor() manager.Descriptor {
	d, _ := manager.Lookup(s.id)
	return d
}

func (s *stubAdapter) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return manager.Response{}, ctx.Err()
		}
	}
	if req.Action == s.failOn {
		return manager.Response{}, manager.Errorf(manager.KindProcessFailure, "exit status 1")
	}
	switch req.Action {
	case manager.ActionSearch:
		return manager.Response{Results: []manager.SearchResult{{Name: req.Query.Text, Version: "1.0.0", Source: s.id}}}, nil
	case manager.ActionListInstalled:
		return manager.Response{Installed: []manager.Package{{Name: "tool", Version: "1.0.0", Source: s.id}}}, nil
	case manager.ActionInstall:
		return manager.Response{Mutation: &manager.MutationResult{Package: req.Package, Action: req.Action, AfterVersion: "1.0.0"}}, nil
	}
	return manager.Response{}, nil
}

func newTestApp(t *testing.T, adapters ...manager.Adapter) *app {
	t.Helper()

	local, err := store.Open(filepath.Join(t.TempDir(), "stevedore.db"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	reg, err := manager.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	cfg = config.Default()
	cfg.General.AutoConfirm = true
	cfg.General.GracePeriod = config.Duration{Duration: 20 * time.Millisecond}

	a := &app{
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		local:    local,
		tasks:    local,
		registry: reg,
		metrics:  prometheus.NewRegistry(),
	}
	queue := taskqueue.New(taskqueue.WithMetrics(taskqueue.NewMetrics(a.metrics)))
	a.orch = orchestrator.New(reg,
		orchestrator.WithExecution(execution.New(queue)),
		orchestrator.WithTaskStore(local),
		orchestrator.WithCache(local),
		orchestrator.WithSafeMode(a.safeMode),
		orchestrator.WithLogger(a.logger),
	)
	t.Cleanup(func() {
		if err := a.Close(context.Background()); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return a
}

func TestRunTaskReturnsResponse(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm})

	resp, err := a.runTask(context.Background(), manager.Npm, manager.SearchRequest("typescript"))
	if err != nil {
		t.Fatalf("runTask() error = %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Name != "typescript" {
		t.Errorf("Results = %+v", resp.Results)
	}
}

func TestRunTaskReturnsAdapterError(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm, failOn: manager.ActionInstall})

	req := manager.PackageRequest(manager.ActionInstall, manager.PackageRef{Manager: manager.Npm, Name: "typescript"}, "")
	_, err := a.runTask(context.Background(), manager.Npm, req)
	if !manager.IsKind(err, manager.KindProcessFailure) {
		t.Errorf("runTask() error = %v, want process_failure", err)
	}
}

func TestRunTaskInterrupted(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm, delay: 10 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := a.runTask(ctx, manager.Npm, manager.SearchRequest("typescript"))
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("runTask() error = %v, want ErrInterrupted", err)
	}

	snaps := a.orch.Snapshots()
	if len(snaps) != 1 || snaps[0].Status != taskqueue.StatusCancelled {
		t.Errorf("Snapshots() = %+v, want one cancelled task", snaps)
	}
}

func TestSafeModeBlocksMutations(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm})

	if a.safeMode() {
		t.Fatal("safe mode should default to the config value (off)")
	}
	a.cfg.General.SafeMode = true
	if !a.safeMode() {
		t.Fatal("safe mode should follow the config when no flag is stored")
	}
	if err := a.local.SetSafeMode(false); err != nil {
		t.Fatal(err)
	}
	if a.safeMode() {
		t.Fatal("stored flag should override the config")
	}

	if err := a.local.SetSafeMode(true); err != nil {
		t.Fatal(err)
	}
	req := manager.PackageRequest(manager.ActionInstall, manager.PackageRef{Manager: manager.Npm, Name: "typescript"}, "")
	if _, err := a.runTask(context.Background(), manager.Npm, req); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("install in safe mode: error = %v, want invalid_input", err)
	}
	if _, err := a.runTask(context.Background(), manager.Npm, manager.SearchRequest("x")); err != nil {
		t.Errorf("search in safe mode: error = %v", err)
	}
}

func TestResolveManager(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm})

	if _, err := a.resolveManager(""); !errors.Is(err, ErrNoManager) {
		t.Errorf("empty: error = %v, want ErrNoManager", err)
	}
	if _, err := a.resolveManager("bogus"); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("bogus: error = %v, want invalid_input", err)
	}
	if _, err := a.resolveManager("pip"); !errors.Is(err, ErrManagerDisabled) {
		t.Errorf("pip: error = %v, want ErrManagerDisabled", err)
	}
	if id, err := a.resolveManager("npm"); err != nil || id != manager.Npm {
		t.Errorf("npm: got %q, %v", id, err)
	}
}

func TestFanOutKeepsOrder(t *testing.T) {
	a := newTestApp(t,
		&stubAdapter{id: manager.Npm, delay: 30 * time.Millisecond},
		&stubAdapter{id: manager.Cargo, failOn: manager.ActionSearch},
		&stubAdapter{id: manager.Pip},
	)

	ids := []manager.ID{manager.Npm, manager.Cargo, manager.Pip}
	results, err := a.fanOut(context.Background(), ids, manager.SearchRequest("black"))
	if err != nil {
		t.Fatalf("fanOut() error = %v", err)
	}
	for i, id := range ids {
		if results[i].Manager != id {
			t.Errorf("results[%d].Manager = %s, want %s", i, results[i].Manager, id)
		}
	}
	if results[0].Err != nil || len(results[0].Response.Results) != 1 {
		t.Errorf("npm result = %+v", results[0])
	}
	if !manager.IsKind(results[1].Err, manager.KindProcessFailure) {
		t.Errorf("cargo error = %v, want process_failure", results[1].Err)
	}
}

func TestInstalledManagersUsesDetectionCache(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm}, &stubAdapter{id: manager.Cargo}, &stubAdapter{id: manager.Rustup})

	if err := a.local.PutDetection(manager.Npm, manager.DetectionInfo{Installed: false}); err != nil {
		t.Fatal(err)
	}
	if err := a.local.PutDetection(manager.Cargo, manager.DetectionInfo{Installed: true}); err != nil {
		t.Fatal(err)
	}

	// rustup cannot search; npm is known to be missing.
	got := a.installedManagers(manager.ActionSearch)
	if len(got) != 1 || got[0] != manager.Cargo {
		t.Errorf("installedManagers(search) = %v, want [cargo]", got)
	}
}

func TestUpgradeRequestsSkipsPins(t *testing.T) {
	outdated := []manager.OutdatedPackage{
		{Name: "wget", CandidateVersion: "1.25", Source: manager.HomebrewFormula},
		{Name: "postgresql@16", CandidateVersion: "16.4", Source: manager.HomebrewFormula, Pinned: true},
		{Name: "typescript", CandidateVersion: "5.6.0", Source: manager.Npm},
	}
	pins := map[manager.PackageRef]bool{{Manager: manager.Npm, Name: "typescript"}: true}

	reqs := upgradeRequests(outdated, pins)
	if len(reqs) != 1 {
		t.Fatalf("upgradeRequests() = %+v, want only wget", reqs)
	}
	if reqs[0].Action != manager.ActionUpgrade || reqs[0].Package.Name != "wget" || reqs[0].Version != "1.25" {
		t.Errorf("request = %+v", reqs[0])
	}
}

func TestExactMatches(t *testing.T) {
	results := []manager.SearchResult{
		{Name: "ripgrep", Source: manager.Cargo},
		{Name: "ripgrep-all", Source: manager.Cargo},
		{Name: "Ripgrep", Source: manager.HomebrewFormula},
		{Name: "ripgrep", Source: manager.HomebrewFormula},
	}
	got := exactMatches(results, "ripgrep")
	if len(got) != 2 {
		t.Fatalf("exactMatches() = %+v, want one per manager", got)
	}
	if got[0].Source != manager.Cargo || got[1].Source != manager.HomebrewFormula {
		t.Errorf("exactMatches() order = %+v", got)
	}
}

func TestRankBySource(t *testing.T) {
	hits := []manager.SearchResult{
		{Name: "x", Source: manager.HomebrewFormula},
		{Name: "x", Source: manager.Pip},
		{Name: "x", Source: manager.Cargo},
		{Name: "x", Source: manager.Rustup},
	}
	rankBySource(hits)

	want := []manager.ID{manager.Rustup, manager.Cargo, manager.Pip, manager.HomebrewFormula}
	for i, id := range want {
		if hits[i].Source != id {
			t.Errorf("hits[%d] = %s, want %s", i, hits[i].Source, id)
		}
	}
}

func TestFilterPackages(t *testing.T) {
	packages := []manager.Package{
		{Name: "typescript", Source: manager.Npm},
		{Name: "ripgrep", Source: manager.Cargo},
		{Name: "Ripgrep-all", Source: manager.Cargo},
		{Name: "black", Source: manager.Pip},
	}

	tests := []struct {
		name    string
		pattern string
		limit   int
		want    []string
	}{
		{"all sorted", "", 0, []string{"Ripgrep-all", "ripgrep", "typescript", "black"}},
		{"pattern ignores case", "RIP", 0, []string{"Ripgrep-all", "ripgrep"}},
		{"limit", "", 2, []string{"Ripgrep-all", "ripgrep"}},
		{"no match", "zzz", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterPackages(packages, tt.pattern, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("filterPackages() = %+v, want %v", got, tt.want)
			}
			for i, name := range tt.want {
				if got[i].Name != name {
					t.Errorf("got[%d] = %s, want %s", i, got[i].Name, name)
				}
			}
		})
	}
}

func TestAdapterSettings(t *testing.T) {
	c := config.Default()
	c.Managers["pip"] = config.ManagerConfig{Binary: "/opt/python/bin/pip3"}
	c.Managers["npm"] = config.ManagerConfig{}

	got := adapterSettings(c)
	if got[manager.Pip].Binary != "/opt/python/bin/pip3" {
		t.Errorf("pip settings = %+v", got[manager.Pip])
	}
	if got[manager.SoftwareUpdate].Timeout != 2*time.Hour {
		t.Errorf("softwareupdate timeout = %s, want 2h", got[manager.SoftwareUpdate].Timeout)
	}
	if _, ok := got[manager.Npm]; ok {
		t.Error("empty manager config should not produce settings")
	}
}

func TestParseSwitch(t *testing.T) {
	if v, err := parseSwitch("on"); err != nil || !v {
		t.Errorf("parseSwitch(on) = %v, %v", v, err)
	}
	if v, err := parseSwitch("off"); err != nil || v {
		t.Errorf("parseSwitch(off) = %v, %v", v, err)
	}
	if _, err := parseSwitch("maybe"); err == nil {
		t.Error("parseSwitch(maybe) should fail")
	}
}

func TestOutcome(t *testing.T) {
	snap := execution.TaskSnapshot{}
	snap.ID = 4
	if _, err := outcome(snap); !manager.IsKind(err, manager.KindInternal) {
		t.Errorf("no terminal state: error = %v, want internal", err)
	}

	cancelled := execution.Cancelled(nil)
	snap.Terminal = &cancelled
	if _, err := outcome(snap); !errors.Is(err, ErrTaskCancelled) {
		t.Errorf("cancelled: error = %v, want ErrTaskCancelled", err)
	}

	failed := execution.Failed(manager.Errorf(manager.KindTimeout, "took too long"))
	snap.Terminal = &failed
	if _, err := outcome(snap); !manager.IsKind(err, manager.KindTimeout) {
		t.Errorf("failed: error = %v, want timeout", err)
	}
}

func TestBulkSummary(t *testing.T) {
	res := orchestrator.BulkResult{Results: []orchestrator.ManagerResult{
		{Manager: manager.Npm},
		{Manager: manager.Pip, Err: manager.Errorf(manager.KindTimeout, "slow")},
	}}
	if got := bulkSummary(res); got != "2 managers done, 1 failed" {
		t.Errorf("bulkSummary() = %q", got)
	}
}

func TestProgressLabel(t *testing.T) {
	tests := []struct {
		name  string
		snaps []taskqueue.Snapshot
		want  string
	}{
		{"idle", nil, "Refreshing managers"},
		{"finished only", []taskqueue.Snapshot{
			{Manager: manager.Npm, Status: taskqueue.StatusCompleted},
		}, "Refreshing managers"},
		{"running sorted", []taskqueue.Snapshot{
			{Manager: manager.Pip, Status: taskqueue.StatusRunning},
			{Manager: manager.Cargo, Status: taskqueue.StatusQueued},
			{Manager: manager.Npm, Status: taskqueue.StatusRunning},
		}, "Refreshing managers (npm, pip)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := progressLabel("Refreshing managers", tt.snaps); got != tt.want {
				t.Errorf("progressLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintStats(t *testing.T) {
	a := newTestApp(t, &stubAdapter{id: manager.Npm})
	if _, err := a.runTask(context.Background(), manager.Npm, manager.SearchRequest("x")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	a.printStats(&buf)
	if !strings.Contains(buf.String(), "stevedore_tasks_submitted_total") {
		t.Errorf("printStats() output missing submitted counter:\n%s", buf.String())
	}
}
