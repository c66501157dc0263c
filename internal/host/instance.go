package host

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/pkg/plugin/behavior"
)

// State is an instance's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateStopped
	StateDestroyed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Instance is the host-owned handle for one plugin instance. It enforces
// the lifecycle state machine and strictly serializes every operation on
// the underlying plugin: the plugin implementation never sees overlapping
// calls, whatever the host's callers do.
//
// Once destroyed, every operation fails with ErrDestroyed; the handle can
// never dangle the way a raw pointer would.
type Instance struct {
	mu    sync.Mutex
	id    uint64
	name  string
	impl  plugin.Instance
	flags behavior.Behavior
	state State

	validate     bool
	configSchema *gojsonschema.Schema // compiled lazily, dropped on config change

	connected map[string]struct{}
	extra     []string // dynamically added input ports, in add order
	autoSeq   int

	log     *slog.Logger
	events  *EventLog
	metrics *hostMetrics
}

// ID returns the instance id.
func (i *Instance) ID() uint64 { return i.id }

// Plugin returns the owning plugin's registry name.
func (i *Instance) Plugin() string { return i.name }

// State returns the current lifecycle state.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Behavior returns the behavior flags captured at creation.
func (i *Instance) Behavior() behavior.Behavior {
	return i.flags
}

func (i *Instance) guard() error {
	if i.state == StateDestroyed {
		return fmt.Errorf("instance %d: %w", i.id, ErrDestroyed)
	}
	return nil
}

// MetaDoc returns the identity document.
func (i *Instance) MetaDoc() (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return nil, err
	}
	return i.impl.Meta().MarshalDocument()
}

// InputsDoc returns the input port document, declared ports first and
// dynamically added ports after, in add order.
func (i *Instance) InputsDoc() (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return nil, err
	}
	ports := i.impl.Inputs()
	for _, p := range i.extra {
		ports = append(ports, plugin.Port{ID: p})
	}
	return plugin.PortsDocument(ports)
}

// Outputs returns the output ports.
func (i *Instance) Outputs() ([]plugin.Port, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return nil, err
	}
	return i.impl.Outputs(), nil
}

// OutputsDoc returns the output port document.
func (i *Instance) OutputsDoc() (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return nil, err
	}
	return plugin.PortsDocument(i.impl.Outputs())
}

// UISchemaDoc returns the UI schema document; plugins without the describe
// capability yield {"fields":[]}.
func (i *Instance) UISchemaDoc() (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return nil, err
	}
	return json.Marshal(plugin.SchemaOf(i.impl))
}

// BehaviorDoc returns the behavior document; plugins without the describe
// capability yield the defaults.
func (i *Instance) BehaviorDoc() (json.RawMessage, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return nil, err
	}
	return json.Marshal(plugin.BehaviorOf(i.impl))
}

// Configure applies a config document. With validation enabled the document
// is checked against the plugin's UI schema first and rejected wholesale on
// type or bound violations; otherwise it goes straight to the plugin, which
// applies its own clamp-or-reject policy.
func (i *Instance) Configure(doc json.RawMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}

	if i.validate {
		if err := i.validateConfig(doc); err != nil {
			return err
		}
	}
	if err := i.impl.SetConfig(doc); err != nil {
		return fmt.Errorf("instance %d: %w", i.id, err)
	}
	// The schema may be configuration-dependent; recompile on next use.
	i.configSchema = nil

	i.events.Record(i.id, i.name, EventConfigured, "")
	return nil
}

func (i *Instance) validateConfig(doc json.RawMessage) error {
	if i.configSchema == nil {
		schemaDoc, err := plugin.SchemaOf(i.impl).ConfigSchema()
		if err != nil {
			return fmt.Errorf("instance %d: derive config schema: %w", i.id, err)
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaDoc))
		if err != nil {
			return fmt.Errorf("instance %d: compile config schema: %w", i.id, err)
		}
		i.configSchema = compiled
	}

	result, err := i.configSchema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("instance %d: %w: %v", i.id, ErrConfigRejected, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("instance %d: %w: %s", i.id, ErrConfigRejected, strings.Join(msgs, "; "))
	}
	return nil
}

// Start moves the instance to Running. Starting a running instance is a
// no-op.
func (i *Instance) Start() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	if i.state == StateRunning {
		return nil
	}
	if !i.flags.SupportsStartStop {
		return fmt.Errorf("instance %d: %w", i.id, ErrStartStopUnsupported)
	}
	i.state = StateRunning
	i.events.Record(i.id, i.name, EventStarted, "")
	return nil
}

// Stop moves the instance to Stopped. Stopping a stopped instance is a
// no-op.
func (i *Instance) Stop() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	if i.state == StateStopped {
		return nil
	}
	if !i.flags.SupportsStartStop {
		return fmt.Errorf("instance %d: %w", i.id, ErrStartStopUnsupported)
	}
	i.state = StateStopped
	i.events.Record(i.id, i.name, EventStopped, "")
	return nil
}

// Restart stops and starts the instance.
func (i *Instance) Restart() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	if !i.flags.SupportsRestart {
		return fmt.Errorf("instance %d: %w", i.id, ErrRestartUnsupported)
	}
	i.events.Record(i.id, i.name, EventStopped, "restart")
	i.state = StateRunning
	i.events.Record(i.id, i.name, EventStarted, "restart")
	return nil
}

// Process advances the instance by one tick of the given period in
// seconds. A stopped instance skips the tick without error. A non-nil
// error is a processing fault.
func (i *Instance) Process(tick uint64, period float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	if i.state != StateRunning {
		return nil
	}

	i.metrics.ticks.Inc()
	timer := prometheusTimer(i.metrics)
	err := i.impl.Process(tick, period)
	timer()
	if err != nil {
		i.metrics.faults.WithLabelValues(i.name).Inc()
		i.events.Record(i.id, i.name, EventFault, err.Error())
		return fmt.Errorf("instance %d: process tick %d: %w", i.id, tick, err)
	}
	return nil
}

// SetInput writes a value to a named input port. Unknown port names are
// forwarded and ignored by the plugin per contract.
func (i *Instance) SetInput(port string, value float64) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	i.impl.SetInput(port, value)
	return nil
}

// GetOutput reads a named output port; unknown ports read 0.0.
func (i *Instance) GetOutput(port string) (float64, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return 0, err
	}
	return i.impl.GetOutput(port), nil
}

// Connect marks an input port as connected. For plugins with extendable
// inputs, connecting a port outside the declared set adds it first.
func (i *Instance) Connect(port string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	if !i.hasPort(port) {
		if i.flags.Extendable.Mode == behavior.ExtendNone {
			return fmt.Errorf("instance %d: port %q: %w", i.id, port, ErrInputsNotExtendable)
		}
		if err := i.addInput(port); err != nil {
			return err
		}
	}
	i.connected[port] = struct{}{}
	return nil
}

// ConnectAuto adds and connects the next pattern-named input port for
// plugins declaring auto-extendable inputs, returning the port name.
func (i *Instance) ConnectAuto() (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return "", err
	}
	if i.flags.Extendable.Mode != behavior.ExtendAuto {
		return "", fmt.Errorf("instance %d: %w", i.id, ErrInputsNotExtendable)
	}
	port := expandPattern(i.flags.Extendable.Pattern, i.autoSeq)
	i.autoSeq++
	if err := i.addInput(port); err != nil {
		return "", err
	}
	i.connected[port] = struct{}{}
	return port, nil
}

// Disconnect unmarks a connected port; dynamically added ports are removed
// from the plugin as well. Unknown ports are a no-op.
func (i *Instance) Disconnect(port string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.guard(); err != nil {
		return err
	}
	delete(i.connected, port)

	for idx, p := range i.extra {
		if p != port {
			continue
		}
		if ext, ok := i.impl.(plugin.InputExtender); ok {
			if err := ext.RemoveInput(port); err != nil {
				return fmt.Errorf("instance %d: remove input %q: %w", i.id, port, err)
			}
		}
		i.extra = append(i.extra[:idx], i.extra[idx+1:]...)
		i.events.Record(i.id, i.name, EventInputRemoved, port)
		break
	}
	return nil
}

// ConnectedInputs returns the number of currently connected input ports.
func (i *Instance) ConnectedInputs() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.connected)
}

func (i *Instance) addInput(port string) error {
	ext, ok := i.impl.(plugin.InputExtender)
	if !ok {
		return fmt.Errorf("instance %d: port %q: %w", i.id, port, ErrInputsNotExtendable)
	}
	if err := ext.AddInput(port); err != nil {
		return fmt.Errorf("instance %d: add input %q: %w", i.id, port, err)
	}
	i.extra = append(i.extra, port)
	i.events.Record(i.id, i.name, EventInputAdded, port)
	return nil
}

func (i *Instance) hasPort(port string) bool {
	for _, p := range i.impl.Inputs() {
		if p.ID == port {
			return true
		}
	}
	for _, p := range i.extra {
		if p == port {
			return true
		}
	}
	return false
}

// destroy is called by the manager with the instance removed from its
// table; the state flip makes every later call on a retained handle fail.
func (i *Instance) destroy() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateDestroyed {
		return fmt.Errorf("instance %d: %w", i.id, ErrDestroyed)
	}
	i.state = StateDestroyed
	err := i.impl.Close()
	i.events.Record(i.id, i.name, EventDestroyed, "")
	if err != nil {
		return fmt.Errorf("instance %d: close: %w", i.id, err)
	}
	return nil
}

// expandPattern substitutes the port index into an auto-naming pattern,
// e.g. "in_{}" with index 2 yields "in_2". Patterns without a placeholder
// get the index appended.
func expandPattern(pattern string, index int) string {
	idx := strconv.Itoa(index)
	if strings.Contains(pattern, "{}") {
		return strings.Replace(pattern, "{}", idx, 1)
	}
	return pattern + idx
}
