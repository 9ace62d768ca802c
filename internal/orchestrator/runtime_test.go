package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stevedore/internal/execution"
	"stevedore/internal/store"
	"stevedore/internal/taskqueue"
	"stevedore/pkg/manager"
)

// fakeAdapter answers every action with canned data and counts calls.
type fakeAdapter struct {
	desc      manager.Descriptor
	installed bool
	delay     time.Duration
	failOn    manager.Action

	mu    sync.Mutex
	calls map[manager.Action]int
}

func newFake(id manager.ID, authority manager.Authority, caps ...manager.Capability) *fakeAdapter {
	if len(caps) == 0 {
		caps = []manager.Capability{
			manager.ActionDetect, manager.ActionRefresh, manager.ActionSearch,
			manager.ActionListInstalled, manager.ActionListOutdated,
			manager.ActionInstall, manager.ActionPin, manager.ActionUnpin,
		}
	}
	return &fakeAdapter{
		desc:      manager.Descriptor{ID: id, DisplayName: string(id), Authority: authority, Capabilities: caps},
		installed: true,
		calls:     make(map[manager.Action]int),
	}
}

func (f *fakeAdapter) Descriptor() manager.Descriptor { return f.desc }

func (f *fakeAdapter) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	f.mu.Lock()
	f.calls[req.Action]++
	delay, failOn, installed := f.delay, f.failOn, f.installed
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return manager.Response{}, ctx.Err()
		}
	}
	if req.Action == failOn {
		return manager.Response{}, manager.Errorf(manager.KindProcessFailure, "exit status 1")
	}

	switch req.Action {
	case manager.ActionDetect:
		return manager.Response{Detection: &manager.DetectionInfo{Installed: installed, Version: "1.0.0"}}, nil
	case manager.ActionListInstalled:
		return manager.Response{Installed: []manager.Package{{Name: "pkg", Version: "1.0.0", Source: f.desc.ID}}}, nil
	case manager.ActionListOutdated:
		return manager.Response{Outdated: []manager.OutdatedPackage{{Name: "pkg", InstalledVersion: "1.0.0", CandidateVersion: "1.1.0", Source: f.desc.ID}}}, nil
	case manager.ActionSearch:
		return manager.Response{Results: []manager.SearchResult{{Name: req.Query.Text, Source: f.desc.ID}}}, nil
	}
	return manager.Response{}, nil
}

func (f *fakeAdapter) count(a manager.Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[a]
}

// memStore is an in-memory TaskStore.
type memStore struct {
	mu        sync.Mutex
	records   map[taskqueue.TaskID]store.TaskRecord
	createErr error
	updateErr error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[taskqueue.TaskID]store.TaskRecord)}
}

func (m *memStore) CreateTask(_ context.Context, rec store.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) UpdateTask(_ context.Context, rec store.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) get(id taskqueue.TaskID) (store.TaskRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok
}

// memCache records what the orchestrator caches.
type memCache struct {
	mu        sync.Mutex
	detection map[manager.ID]manager.DetectionInfo
	installed map[manager.ID][]manager.Package
	outdated  map[manager.ID][]manager.OutdatedPackage
	search    map[manager.ID][]manager.SearchResult
	pins      map[manager.PackageRef]string
}

func newMemCache() *memCache {
	return &memCache{
		detection: make(map[manager.ID]manager.DetectionInfo),
		installed: make(map[manager.ID][]manager.Package),
		outdated:  make(map[manager.ID][]manager.OutdatedPackage),
		search:    make(map[manager.ID][]manager.SearchResult),
		pins:      make(map[manager.PackageRef]string),
	}
}

func (c *memCache) PutDetection(id manager.ID, info manager.DetectionInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detection[id] = info
	return nil
}

func (c *memCache) PutInstalled(id manager.ID, pkgs []manager.Package) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installed[id] = pkgs
	return nil
}

func (c *memCache) PutOutdated(id manager.ID, pkgs []manager.OutdatedPackage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outdated[id] = pkgs
	return nil
}

func (c *memCache) PutSearchResults(id manager.ID, _ string, results []manager.SearchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.search[id] = results
	return nil
}

func (c *memCache) SetPin(ref manager.PackageRef, version string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[ref] = version
	return nil
}

func (c *memCache) RemovePin(ref manager.PackageRef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pins, ref)
	return nil
}

func newRuntime(t *testing.T, opts []Option, adapters ...manager.Adapter) *Runtime {
	t.Helper()
	reg, err := manager.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	return New(reg, opts...)
}

func drain(t *testing.T, r *Runtime) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Drain(ctx); err != nil {
		t.Fatalf("Drain() error: %v", err)
	}
}

func TestSubmitUnknownManager(t *testing.T) {
	r := newRuntime(t, nil, newFake(manager.Npm, manager.AuthorityStandard))

	_, err := r.Submit(context.Background(), manager.Cargo, manager.DetectRequest())
	if !manager.IsKind(err, manager.KindInvalidInput) {
		t.Fatalf("expected invalid_input, got %v", err)
	}
	var merr *manager.Error
	if !errors.As(err, &merr) || merr.Manager != manager.Cargo || merr.Action != manager.ActionDetect {
		t.Errorf("error not attributed: %+v", merr)
	}
}

func TestSafeModeBlocksMutations(t *testing.T) {
	npm := newFake(manager.Npm, manager.AuthorityStandard)
	var safe atomic.Bool
	safe.Store(true)
	r := newRuntime(t, []Option{WithSafeMode(safe.Load)}, npm)
	ctx := context.Background()
	pkg := manager.PackageRef{Manager: manager.Npm, Name: "typescript"}

	_, err := r.Submit(ctx, manager.Npm, manager.PackageRequest(manager.ActionInstall, pkg, ""))
	if !manager.IsKind(err, manager.KindInvalidInput) {
		t.Fatalf("expected invalid_input under safe mode, got %v", err)
	}
	if len(r.Snapshots()) != 0 {
		t.Error("a blocked request must never reach the queue")
	}

	// Read-only actions pass.
	id, err := r.Submit(ctx, manager.Npm, manager.DetectRequest())
	if err != nil {
		t.Fatalf("detect under safe mode: %v", err)
	}
	r.WaitForTerminal(ctx, id, 5*time.Second)

	safe.Store(false)
	if _, err := r.Submit(ctx, manager.Npm, manager.PackageRequest(manager.ActionInstall, pkg, "")); err != nil {
		t.Errorf("install after leaving safe mode: %v", err)
	}
}

func TestSubmitUnsupportedCapability(t *testing.T) {
	r := newRuntime(t, nil, newFake(manager.Mas, manager.AuthorityStandard, manager.ActionDetect))

	_, err := r.Submit(context.Background(), manager.Mas, manager.SearchRequest("xcode"))
	if !manager.IsKind(err, manager.KindUnsupportedCapability) {
		t.Errorf("expected unsupported_capability, got %v", err)
	}
}

func TestSubmitValidatesPayload(t *testing.T) {
	r := newRuntime(t, nil, newFake(manager.Npm, manager.AuthorityStandard))
	ctx := context.Background()

	if _, err := r.Submit(ctx, manager.Npm, manager.SearchRequest("  ")); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("empty search: expected invalid_input, got %v", err)
	}
	if _, err := r.Submit(ctx, manager.Npm, manager.PackageRequest(manager.ActionInstall, manager.PackageRef{}, "")); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("empty package: expected invalid_input, got %v", err)
	}
}

func TestSubmitPersistsTaskRecords(t *testing.T) {
	tasks := newMemStore()
	r := newRuntime(t, []Option{WithTaskStore(tasks)}, newFake(manager.Npm, manager.AuthorityStandard))

	id, err := r.Submit(context.Background(), manager.Npm, manager.RefreshRequest())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if _, ok := tasks.get(id); !ok {
		t.Fatal("record must exist as soon as Submit returns")
	}

	snap, err := r.WaitForTerminal(context.Background(), id, 5*time.Second)
	if err != nil || snap.Status != taskqueue.StatusCompleted {
		t.Fatalf("WaitForTerminal() = %v, %v", snap.Status, err)
	}
	drain(t, r)

	rec, _ := tasks.get(id)
	if rec.Status != taskqueue.StatusCompleted || rec.Kind != manager.TaskRefresh || rec.Manager != manager.Npm {
		t.Errorf("unexpected final record: %+v", rec)
	}
}

func TestSubmitStoreFailure(t *testing.T) {
	tasks := newMemStore()
	tasks.createErr = manager.Errorf(manager.KindStorageFailure, "disk full")
	npm := newFake(manager.Npm, manager.AuthorityStandard)
	npm.delay = time.Second
	r := newRuntime(t, []Option{WithTaskStore(tasks)}, npm)

	_, err := r.Submit(context.Background(), manager.Npm, manager.RefreshRequest())
	if !manager.IsKind(err, manager.KindStorageFailure) {
		t.Fatalf("expected storage_failure, got %v", err)
	}
	var merr *manager.Error
	if !errors.As(err, &merr) || merr.Manager != manager.Npm || merr.Action != manager.ActionRefresh {
		t.Errorf("store error not attributed: %+v", merr)
	}

	snaps := r.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("expected the submitted task to exist, got %d", len(snaps))
	}
	final, _ := r.WaitForTerminal(context.Background(), snaps[0].ID, 5*time.Second)
	if final.Status != taskqueue.StatusCancelled {
		t.Errorf("unpersisted task should be cancelled, got %s", final.Status)
	}
}

func TestWatcherUpdateFailureIsLogged(t *testing.T) {
	tasks := newMemStore()
	tasks.updateErr = manager.Errorf(manager.KindStorageFailure, "disk full")
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	r := newRuntime(t, []Option{WithTaskStore(tasks), WithLogger(logger)}, newFake(manager.Npm, manager.AuthorityStandard))
	ctx := context.Background()

	id, err := r.Submit(ctx, manager.Npm, manager.RefreshRequest())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}

	snap, err := r.WaitForTerminal(ctx, id, 5*time.Second)
	if err != nil || snap.Status != taskqueue.StatusCompleted {
		t.Fatalf("WaitForTerminal() = %v, %v", snap.Status, err)
	}
	drain(t, r)

	rec, ok := tasks.get(id)
	if !ok {
		t.Fatal("queued record missing")
	}
	if rec.Status != taskqueue.StatusQueued {
		t.Errorf("record should keep its last persisted status, got %s", rec.Status)
	}
	if !strings.Contains(logs.String(), "failed to persist task status") {
		t.Errorf("update failure not logged: %q", logs.String())
	}
}

func TestSubmitCachesOutcome(t *testing.T) {
	cache := newMemCache()
	r := newRuntime(t, []Option{WithCache(cache)}, newFake(manager.HomebrewFormula, manager.AuthorityGuarded))
	ctx := context.Background()
	wget := manager.PackageRef{Manager: manager.HomebrewFormula, Name: "wget"}

	for _, req := range []manager.Request{
		manager.SearchRequest("wget"),
		manager.PackageRequest(manager.ActionPin, wget, "1.24.5"),
	} {
		id, err := r.Submit(ctx, manager.HomebrewFormula, req)
		if err != nil {
			t.Fatalf("Submit(%s) error: %v", req.Action, err)
		}
		r.WaitForTerminal(ctx, id, 5*time.Second)
	}
	drain(t, r)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if got := cache.search[manager.HomebrewFormula]; len(got) != 1 || got[0].Name != "wget" {
		t.Errorf("search results not cached: %+v", got)
	}
	if v, ok := cache.pins[wget]; !ok || v != "1.24.5" {
		t.Errorf("pin not recorded: %q, %v", v, ok)
	}
}

func TestPassThroughUnknownTask(t *testing.T) {
	r := newRuntime(t, nil, newFake(manager.Npm, manager.AuthorityStandard))
	ctx := context.Background()

	if _, err := r.Status(77); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("Status(): %v", err)
	}
	if err := r.Cancel(ctx, 77, taskqueue.Immediate()); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("Cancel(): %v", err)
	}
	if _, err := r.Snapshot(77); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("Snapshot(): %v", err)
	}
	if _, err := r.WaitForTerminal(ctx, 77, time.Second); !manager.IsKind(err, manager.KindInvalidInput) {
		t.Errorf("WaitForTerminal(): %v", err)
	}
}

func TestWithExecutionSharesQueue(t *testing.T) {
	exec := execution.New(taskqueue.New(taskqueue.WithFirstID(100)))
	r := newRuntime(t, []Option{WithExecution(exec)}, newFake(manager.Npm, manager.AuthorityStandard))

	id, err := r.Submit(context.Background(), manager.Npm, manager.DetectRequest())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if id != 100 {
		t.Errorf("expected id 100 from the shared queue, got %d", id)
	}
}
