// Package adapter extends the capture/restore pipeline beyond the four core
// inventory sections. Each adapter owns one or more named sections: at capture
// it reads foreign state through the host and encodes it, at restore it
// decodes stored blobs and writes them back. Adapters that probe unavailable
// host surfaces are dropped at registry build time.
package adapter

import (
	"context"

	"github.com/google/uuid"

	"github.com/emberforge/playervault/internal/host"
)

// Adapter contributes named sections to snapshots.
type Adapter interface {
	// Name identifies the adapter in logs and configuration.
	Name() string
	// Sections lists the section names this adapter may write. Capture may
	// emit a subset; it never emits names outside this list.
	Sections() []string
	// Available reports whether the host exposes the surfaces this adapter
	// needs. Probed once when the registry is built.
	Available(h host.Host) bool
	// Capture reads the principal's state and returns encoded section blobs.
	Capture(ctx context.Context, h host.Host, principal uuid.UUID) (map[string]string, error)
	// Restore decodes the adapter's sections from the snapshot and applies
	// them to the principal. Sections absent from the map are skipped.
	Restore(ctx context.Context, h host.Host, principal uuid.UUID, sections map[string]string) error
}

// Registry is an immutable ordered set of adapters. Order is capture and
// restore order.
type Registry struct {
	adapters []Adapter
}

// NewRegistry probes each candidate against the host and keeps the available
// ones, preserving order.
func NewRegistry(h host.Host, candidates ...Adapter) *Registry {
	kept := make([]Adapter, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate == nil || !candidate.Available(h) {
			continue
		}
		kept = append(kept, candidate)
	}
	return &Registry{adapters: kept}
}

// All returns the registered adapters in order. The returned slice is a copy.
func (r *Registry) All() []Adapter {
	if r == nil {
		return nil
	}
	out := make([]Adapter, len(r.adapters))
	copy(out, r.adapters)
	return out
}

// Lookup returns the adapter with the given name.
func (r *Registry) Lookup(name string) (Adapter, bool) {
	if r == nil {
		return nil, false
	}
	for _, a := range r.adapters {
		if a.Name() == name {
			return a, true
		}
	}
	return nil, false
}
