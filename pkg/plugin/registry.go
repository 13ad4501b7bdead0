package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Hook is a lifecycle callback bound to a hook name a manifest declares.
// The runtime invokes it at the matching transition.
type Hook func(ctx context.Context, deps Deps) error

// Registry maps catalog plugin IDs to statically known factories and hook
// implementations. It replaces dynamic module loading: an ID without a
// registered factory cannot be enabled, regardless of what the catalog
// advertises.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	hooks     map[string]map[string]Hook
}

// NewRegistry creates an empty factory registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		hooks:     make(map[string]map[string]Hook),
	}
}

// Register binds a factory to a plugin ID. Re-registering an ID is an error.
func (r *Registry) Register(id string, factory Factory) error {
	if id == "" {
		return errors.New("plugin id cannot be empty")
	}
	if factory == nil {
		return errors.New("plugin factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		return fmt.Errorf("plugin %s already registered", id)
	}
	r.factories[id] = factory
	return nil
}

// RegisterHook binds a named lifecycle hook for a plugin ID. The name must
// match what the plugin's manifest declares.
func (r *Registry) RegisterHook(id, name string, hook Hook) error {
	if id == "" || name == "" {
		return errors.New("plugin id and hook name cannot be empty")
	}
	if hook == nil {
		return errors.New("hook cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks[id] == nil {
		r.hooks[id] = make(map[string]Hook)
	}
	if _, exists := r.hooks[id][name]; exists {
		return fmt.Errorf("hook %s already registered for plugin %s", name, id)
	}
	r.hooks[id][name] = hook
	return nil
}

// LookupHook returns the hook registered under (id, name).
func (r *Registry) LookupHook(id, name string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hook, ok := r.hooks[id][name]
	return hook, ok
}

// Lookup returns the factory bound to id.
func (r *Registry) Lookup(id string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[id]
	return factory, ok
}

// IDs returns the registered plugin IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
