package adapters

import (
	"context"

	"stevedore/internal/executor"
	"stevedore/pkg/manager"
)

// Probe is a detection-only adapter: it finds a binary and reads its version.
type Probe struct {
	base
	versionArgs []string
}

// NewProbe creates a detection-only adapter for id backed by binary.
func NewProbe(id manager.ID, runner executor.Runner, binary string, s Settings, versionArgs ...string) *Probe {
	if len(versionArgs) == 0 {
		versionArgs = []string{"--version"}
	}
	return &Probe{base: newBase(id, runner, binary, s), versionArgs: versionArgs}
}

// Execute performs one request.
func (p *Probe) Execute(ctx context.Context, req manager.Request) (manager.Response, error) {
	if req.Action != manager.ActionDetect || !p.desc.Supports(req.Action) {
		return manager.Response{}, p.unsupported(req.Action)
	}
	return p.detect(ctx, p.versionArgs...)
}
