package manager

import (
	"context"
	"testing"
)

// MockAdapter for testing
type MockAdapter struct {
	desc Descriptor
}

func (m *MockAdapter) Descriptor() Descriptor { return m.desc }
func (m *MockAdapter) Execute(_ context.Context, req Request) (Response, error) {
	return Response{Action: req.Action}, nil
}

func mockAdapter(id ID, authority Authority) *MockAdapter {
	return &MockAdapter{desc: Descriptor{ID: id, Authority: authority, Capabilities: []Capability{ActionDetect}}}
}

func TestNewRegistry(t *testing.T) {
	registry, err := NewRegistry(mockAdapter(Npm, AuthorityStandard))
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	if registry.Len() != 1 {
		t.Errorf("expected 1 adapter, got %d", registry.Len())
	}

	if _, ok := registry.Get(Npm); !ok {
		t.Error("Get() should find registered adapter")
	}
	if _, ok := registry.Get(Cargo); ok {
		t.Error("Get() should return false for unregistered adapter")
	}
}

func TestNewRegistryDuplicate(t *testing.T) {
	_, err := NewRegistry(mockAdapter(Npm, AuthorityStandard), mockAdapter(Npm, AuthorityStandard))
	if err == nil {
		t.Fatal("NewRegistry() should reject duplicate registrations")
	}
	if !IsKind(err, KindInvalidInput) {
		t.Errorf("expected invalid_input, got %s", KindOf(err))
	}
}

func TestNewRegistryEmptyID(t *testing.T) {
	if _, err := NewRegistry(mockAdapter("", AuthorityStandard)); err == nil {
		t.Fatal("NewRegistry() should reject an empty manager id")
	}
}

func TestRegistryByAuthority(t *testing.T) {
	registry, err := NewRegistry(
		mockAdapter(DockerDesktop, AuthorityDetectionOnly),
		mockAdapter(HomebrewFormula, AuthorityGuarded),
		mockAdapter(Npm, AuthorityStandard),
		mockAdapter(Rustup, AuthorityAuthoritative),
		mockAdapter(Cargo, AuthorityStandard),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}

	phases := registry.ByAuthority()
	want := [][]ID{
		{Rustup},
		{Cargo, Npm},
		{HomebrewFormula},
		{DockerDesktop},
	}

	if len(phases) != len(want) {
		t.Fatalf("expected %d phases, got %d: %v", len(want), len(phases), phases)
	}
	for i := range want {
		if len(phases[i]) != len(want[i]) {
			t.Fatalf("phase %d: expected %v, got %v", i, want[i], phases[i])
		}
		for j := range want[i] {
			if phases[i][j] != want[i][j] {
				t.Errorf("phase %d[%d]: expected %s, got %s", i, j, want[i][j], phases[i][j])
			}
		}
	}

	ids := registry.IDs()
	if ids[0] != Rustup || ids[len(ids)-1] != DockerDesktop {
		t.Errorf("IDs() not ordered by authority: %v", ids)
	}
}

func TestRegistryByAuthoritySkipsEmptyTiers(t *testing.T) {
	registry, err := NewRegistry(mockAdapter(SoftwareUpdate, AuthorityGuarded))
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	phases := registry.ByAuthority()
	if len(phases) != 1 || phases[0][0] != SoftwareUpdate {
		t.Errorf("unexpected phases: %v", phases)
	}
}
