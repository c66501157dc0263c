package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps plugin names to implementations. It is the host's view of
// which modules are available; loading (native registration, script
// discovery) happens elsewhere and feeds into Register.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a plugin. It rejects duplicate names and capability
// versions newer than this host understands. Plugins older than
// CapabilityCurrent are accepted; the host treats missing capabilities
// as absent.
func (r *Registry) Register(p Plugin) error {
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin has empty name")
	}
	v := p.CapabilityVersion()
	if v < CapabilityCore || v > CapabilityCurrent {
		return fmt.Errorf("plugin %q: unsupported capability version %d (host supports %d..%d)",
			name, v, CapabilityCore, CapabilityCurrent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("plugin %q already registered", name)
	}
	r.plugins[name] = p
	return nil
}

// Unregister removes a plugin by name. Instances already created from it
// are unaffected; they stay owned by whoever created them.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; !exists {
		return fmt.Errorf("plugin %q not registered", name)
	}
	delete(r.plugins, name)
	return nil
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns all registered plugin names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
