package calsync

import (
	"fmt"

	"scheduler-service/internal/model"
)

// Registry is the closed set of configured adapters, one per provider kind.
type Registry struct {
	adapters map[model.ProviderKind]Adapter
}

// NewRegistry registers adapters by kind. Nil adapters are skipped so callers
// can pass optional providers unconditionally.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[model.ProviderKind]Adapter)}
	for _, a := range adapters {
		if a == nil {
			continue
		}
		if _, dup := r.adapters[a.Kind()]; dup {
			return nil, fmt.Errorf("calsync: duplicate adapter for %s", a.Kind())
		}
		r.adapters[a.Kind()] = a
	}
	return r, nil
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind model.ProviderKind) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	a, ok := r.adapters[kind]
	return a, ok
}

// Adapters returns the configured adapters in model.ProviderKinds order.
func (r *Registry) Adapters() []Adapter {
	if r == nil {
		return nil
	}
	out := make([]Adapter, 0, len(r.adapters))
	for _, kind := range model.ProviderKinds {
		if a, ok := r.adapters[kind]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Busy returns the calendar adapter's busy source, if it has one.
func (r *Registry) Busy() (BusySource, bool) {
	a, ok := r.Get(model.ProviderCalendar)
	if !ok {
		return nil, false
	}
	b, ok := a.(BusySource)
	return b, ok
}
