// Package host owns plugin instances: creation, configuration, the tick
// loop, port I/O, and teardown. Every instance is driven through a
// host-owned handle that enforces the lifecycle state machine and strict
// call serialization, so plugin implementations can assume single-threaded
// access to their own state.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/goatkit/patchbay/internal/telemetry"
	"github.com/goatkit/patchbay/pkg/plugin"
)

// ConfigStore persists instance configuration documents across restarts.
type ConfigStore interface {
	SaveConfig(ctx context.Context, pluginName string, id uint64, doc []byte) error
	LoadConfig(ctx context.Context, pluginName string, id uint64) ([]byte, error)
}

// Manager creates, tracks, and destroys plugin instances. Instance ids are
// caller-chosen 64-bit values; the manager is the layer that enforces their
// uniqueness across live instances.
type Manager struct {
	mu        sync.RWMutex
	registry  *plugin.Registry
	instances map[uint64]*Instance

	log      *slog.Logger
	store    ConfigStore
	broker   *telemetry.Broker
	events   *EventLog
	validate bool
	metrics  *hostMetrics
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger injects a logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithStore enables persistence of instance config documents. Persisted
// documents are re-applied when an instance with the same plugin and id is
// spawned again.
func WithStore(s ConfigStore) Option {
	return func(m *Manager) { m.store = s }
}

// WithTelemetry publishes output samples to the broker after each tick.
func WithTelemetry(b *telemetry.Broker) Option {
	return func(m *Manager) { m.broker = b }
}

// WithConfigValidation gates config documents against the plugin's UI
// schema before they reach the plugin. Off by default: the contract leaves
// out-of-range handling to the plugin, so validation is an opt-in host
// policy.
func WithConfigValidation() Option {
	return func(m *Manager) { m.validate = true }
}

// NewManager creates a manager over the given registry.
func NewManager(registry *plugin.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry:  registry,
		instances: make(map[uint64]*Instance),
		log:       slog.Default(),
		events:    NewEventLog(256),
		metrics:   globalHostMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Events returns the lifecycle event log.
func (m *Manager) Events() *EventLog { return m.events }

// Registry returns the plugin registry the manager spawns from.
func (m *Manager) Registry() *plugin.Registry { return m.registry }

// Spawn creates an instance of the named plugin bound to id. The new
// instance starts Running or Stopped according to its behavior flags, and
// any persisted config document for (plugin, id) is re-applied.
func (m *Manager) Spawn(ctx context.Context, pluginName string, id uint64) (*Instance, error) {
	p, ok := m.registry.Get(pluginName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlugin, pluginName)
	}

	m.mu.Lock()
	if _, exists := m.instances[id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrDuplicateID, id)
	}
	// Reserve the id while creating so concurrent spawns cannot race it.
	m.instances[id] = nil
	m.mu.Unlock()

	impl, err := p.Create(id)
	if err != nil || impl == nil {
		m.mu.Lock()
		delete(m.instances, id)
		m.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("plugin returned no instance")
		}
		return nil, fmt.Errorf("create %q instance %d: %w", pluginName, id, err)
	}

	flags := plugin.BehaviorOf(impl)
	inst := &Instance{
		id:        id,
		name:      pluginName,
		impl:      impl,
		flags:     flags,
		state:     StateCreated,
		validate:  m.validate,
		connected: make(map[string]struct{}),
		log:       m.log,
		events:    m.events,
		metrics:   m.metrics,
	}
	if flags.LoadsStarted {
		inst.state = StateRunning
	} else {
		inst.state = StateStopped
	}

	m.mu.Lock()
	m.instances[id] = inst
	m.mu.Unlock()

	m.metrics.created.Inc()
	m.metrics.liveInstances.Inc()
	m.events.Record(id, pluginName, EventCreated, "")
	m.log.Info("instance created", "plugin", pluginName, "id", id, "state", inst.State().String())

	if m.store != nil {
		if doc, err := m.store.LoadConfig(ctx, pluginName, id); err != nil {
			m.log.Warn("load persisted config", "plugin", pluginName, "id", id, "error", err)
		} else if doc != nil {
			if err := inst.Configure(doc); err != nil {
				m.log.Warn("re-apply persisted config", "plugin", pluginName, "id", id, "error", err)
			}
		}
	}

	return inst, nil
}

// NextID returns an id not used by any live instance. Callers that want
// specific ids pass their own to Spawn instead; Spawn still arbitrates
// races on the returned id.
func (m *Manager) NextID() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := uint64(1)
	for id := range m.instances {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// Get returns a live instance by id.
func (m *Manager) Get(id uint64) (*Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	if !ok || inst == nil {
		return nil, fmt.Errorf("%w: %d", ErrInstanceNotFound, id)
	}
	return inst, nil
}

// List returns all live instances sorted by id.
func (m *Manager) List() []*Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if inst != nil {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].id < out[b].id })
	return out
}

// Configure applies a config document to an instance and, with a store
// attached, persists it.
func (m *Manager) Configure(ctx context.Context, id uint64, doc json.RawMessage) error {
	inst, err := m.Get(id)
	if err != nil {
		return err
	}
	if err := inst.Configure(doc); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.SaveConfig(ctx, inst.name, id, doc); err != nil {
			m.log.Warn("persist config", "plugin", inst.name, "id", id, "error", err)
		}
	}
	return nil
}

// Destroy removes and releases an instance. The handle becomes permanently
// invalid; later calls on it fail with ErrDestroyed.
func (m *Manager) Destroy(id uint64) error {
	m.mu.Lock()
	inst, ok := m.instances[id]
	if !ok || inst == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInstanceNotFound, id)
	}
	delete(m.instances, id)
	m.mu.Unlock()

	m.metrics.destroyed.Inc()
	m.metrics.liveInstances.Dec()
	m.log.Info("instance destroyed", "plugin", inst.name, "id", id)
	return inst.destroy()
}

// DestroyAll tears down every live instance.
func (m *Manager) DestroyAll() error {
	var errs []error
	for _, inst := range m.List() {
		if err := m.Destroy(inst.ID()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("destroy all: %v", errs)
	}
	return nil
}

// ProcessAll advances every running instance by one tick, in id order.
// Connection-dependent instances with no connected inputs are skipped.
// Faults are recorded and do not stop the sweep; the faulting instance
// stays live for the host's policy (inspect, stop, destroy) to decide.
func (m *Manager) ProcessAll(tick uint64, period float64) {
	for _, inst := range m.List() {
		if inst.State() != StateRunning {
			continue
		}
		if inst.Behavior().ConnectionDependent && inst.ConnectedInputs() == 0 {
			continue
		}
		if err := inst.Process(tick, period); err != nil {
			m.log.Error("processing fault", "plugin", inst.name, "id", inst.ID(), "tick", tick, "error", err)
			continue
		}
		m.publishOutputs(inst, tick)
	}
}

func (m *Manager) publishOutputs(inst *Instance, tick uint64) {
	if m.broker == nil {
		return
	}
	ports, err := inst.Outputs()
	if err != nil {
		return
	}
	for _, p := range ports {
		value, err := inst.GetOutput(p.ID)
		if err != nil {
			return
		}
		m.broker.Publish(telemetry.Sample{
			InstanceID: inst.ID(),
			Plugin:     inst.name,
			Port:       p.ID,
			Value:      value,
			Tick:       tick,
		})
	}
}
