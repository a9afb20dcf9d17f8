package connector

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry is the per-process set of registered connectors. Reads vastly
// outnumber writes: the fan-out takes a Snapshot per search, while Add and
// Remove happen at startup and on rare runtime reconfiguration.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     slog.Default().With("component", "connector.Registry"),
	}
}

// Add registers a connector. Duplicate ids are an error: replacing a live
// connector must be an explicit Remove + Add.
func (r *Registry) Add(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	if _, exists := r.connectors[id]; exists {
		return fmt.Errorf("connector %q already registered", id)
	}
	r.connectors[id] = c
	r.logger.Info("Connector registered", "connector", id,
		"search", c.Capabilities().Search, "order", c.Capabilities().Order)
	return nil
}

// Remove unregisters a connector, reporting whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[id]; !exists {
		return false
	}
	delete(r.connectors, id)
	r.logger.Info("Connector removed", "connector", id)
	return true
}

// Get returns the connector with the given id.
func (r *Registry) Get(id string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

// List returns the registered connector ids in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.connectors))
	for id := range r.connectors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the current connector set, sorted by id. The slice is the
// caller's own; registry changes after the call are not reflected, which is
// exactly what a fan-out needs.
func (r *Registry) Snapshot() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// SearchTargets returns the snapshot filtered to search-capable connectors.
func (r *Registry) SearchTargets() []Connector {
	all := r.Snapshot()
	out := all[:0]
	for _, c := range all {
		if c.Capabilities().Search {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered connectors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
