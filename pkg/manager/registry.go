package manager

import (
	"sort"
)

// Registry is an immutable map from manager id to adapter. It is built once;
// registering the same id twice is a construction error.
type Registry struct {
	adapters map[ID]Adapter
	order    []ID
}

// NewRegistry builds a registry from adapters.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[ID]Adapter, len(adapters))}
	for _, a := range adapters {
		id := a.Descriptor().ID
		if id == "" {
			return nil, Errorf(KindInvalidInput, "adapter has an empty manager id")
		}
		if _, dup := r.adapters[id]; dup {
			return nil, Errorf(KindInvalidInput, "duplicate adapter registration for %s", id)
		}
		r.adapters[id] = a
		r.order = append(r.order, id)
	}

	// Authority tier first, then id, so iteration is deterministic.
	sort.SliceStable(r.order, func(i, j int) bool {
		ai := r.adapters[r.order[i]].Descriptor().Authority.Rank()
		aj := r.adapters[r.order[j]].Descriptor().Authority.Rank()
		if ai != aj {
			return ai < aj
		}
		return r.order[i] < r.order[j]
	})
	return r, nil
}

// Get returns the adapter registered for id.
func (r *Registry) Get(id ID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Len returns the number of registered adapters.
func (r *Registry) Len() int {
	return len(r.order)
}

// IDs returns registered ids ordered by authority tier, then id.
func (r *Registry) IDs() []ID {
	out := make([]ID, len(r.order))
	copy(out, r.order)
	return out
}

// Descriptors returns the descriptors of all registered adapters, in IDs order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id].Descriptor())
	}
	return out
}

// ByAuthority partitions registered ids into phases following Phases order.
// Empty tiers are omitted.
func (r *Registry) ByAuthority() [][]ID {
	buckets := make(map[Authority][]ID)
	for _, id := range r.order {
		a := r.adapters[id].Descriptor().Authority
		buckets[a] = append(buckets[a], id)
	}

	var phases [][]ID
	for _, tier := range Phases() {
		if ids := buckets[tier]; len(ids) > 0 {
			phases = append(phases, ids)
		}
		delete(buckets, tier)
	}

	// Unknown tiers run last, in id order.
	var rest []ID
	for _, ids := range buckets {
		rest = append(rest, ids...)
	}
	if len(rest) > 0 {
		sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
		phases = append(phases, rest)
	}
	return phases
}
