package manager

import "context"

// Adapter is the contract every backend implements. Execute may block on
// subprocess I/O for a long time and is never called concurrently for the
// same manager.
type Adapter interface {
	// Descriptor returns the adapter's static identity and capability set.
	Descriptor() Descriptor

	// Execute performs one request. ctx is cancelled when the task is
	// forcibly aborted.
	Execute(ctx context.Context, req Request) (Response, error)
}

// Descriptor provides static information about a manager.
type Descriptor struct {
	ID           ID
	DisplayName  string
	Category     Category
	Authority    Authority
	Capabilities []Capability
	// Platforms lists GOOS values the manager runs on; empty means any.
	Platforms []string
}

// Supports reports whether the descriptor declares capability c.
func (d Descriptor) Supports(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// RunsOn reports whether the manager is usable on the given GOOS.
func (d Descriptor) RunsOn(goos string) bool {
	if len(d.Platforms) == 0 {
		return true
	}
	for _, p := range d.Platforms {
		if p == goos {
			return true
		}
	}
	return false
}
