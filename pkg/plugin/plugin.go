// Package plugin defines the contract between the patchbay host and
// signal-processing plugins.
//
// A plugin self-describes through JSON documents: identity metadata, input
// and output ports, an optional UI configuration schema, and behavior flags
// that tell the host how to drive it. The host instantiates plugins through
// this interface with no compile-time knowledge of their internals - native
// Go plugins, scripted plugins, or any future runtime all look the same to
// the host as long as they satisfy Plugin and Instance.
//
// The host guarantees strict serialization per instance: for any single
// instance, Create, every metadata query, every configuration or port call,
// Process, and Close are totally ordered and never overlap. Instance
// implementations may assume single-threaded access to their own state.
//
// Byte slices passed into an instance (for example a SetConfig payload) are
// owned by the caller for the duration of the call only; an instance must
// copy any data it needs to retain. Documents returned to the host are fresh
// values the host alone owns.
package plugin

import "encoding/json"

// Capability versions. A plugin reports the highest version it implements;
// the host treats anything a lower version lacks as absent rather than
// erroring, and rejects versions it does not understand.
const (
	// CapabilityCore covers instance lifecycle, metadata, configuration,
	// port I/O, and processing.
	CapabilityCore = 1

	// CapabilityDescribe adds the UI schema and behavior documents.
	CapabilityDescribe = 2

	// CapabilityCurrent is the highest version this host understands.
	CapabilityCurrent = CapabilityDescribe
)

// Plugin is one loadable processing module. It is the factory for instances
// and carries the module-level identity the registry keys on.
type Plugin interface {
	// Name returns the unique registry identifier, e.g. "oscillator".
	Name() string

	// CapabilityVersion reports which revision of the contract the plugin
	// implements. See the Capability constants.
	CapabilityVersion() int

	// Create allocates an instance bound to the given id. The id is chosen
	// by the caller; uniqueness across live instances is enforced by the
	// host, not here. Create fails only on resource exhaustion.
	Create(id uint64) (Instance, error)
}

// Instance is one running, stateful realization of a plugin.
//
// After Close returns, the instance is dead: the host never calls any other
// method on it, and implementations are free to release everything.
type Instance interface {
	// ID returns the id the instance was created with.
	ID() uint64

	// Meta returns identity metadata. Like all metadata queries it is
	// read-only: it must not mutate instance behavior, and its result may
	// only change in response to SetConfig, never spontaneously.
	Meta() Meta

	// Inputs returns the named input ports, in declaration order.
	Inputs() []Port

	// Outputs returns the named output ports, in declaration order.
	Outputs() []Port

	// SetConfig applies a configuration document (field key -> value).
	// Unknown keys are ignored. Out-of-range values are clamped or rejected
	// at the plugin's discretion. The payload is only valid for the
	// duration of the call.
	SetConfig(doc json.RawMessage) error

	// SetInput writes a value to a named input port. Unknown port names
	// are a silent no-op.
	SetInput(port string, value float64)

	// GetOutput reads a value from a named output port. Unknown port
	// names return 0.0.
	GetOutput(port string) float64

	// Process advances the instance by one scheduling tick of the given
	// period in seconds. A non-nil error is a processing fault; the host
	// decides whether to disable or destroy the instance.
	Process(tick uint64, period float64) error

	// Close releases the instance.
	Close() error
}

// Port identifies one input or output of an instance.
type Port struct {
	ID string `json:"id"`
}

// Var is a single named value in a Meta document. It serializes as a
// one-entry JSON object, {"key": value}.
type Var struct {
	Key   string
	Value any
}

// MarshalJSON encodes the var as {"key": value}.
func (v Var) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{v.Key: v.Value})
}

// UnmarshalJSON decodes a one-entry object. With more than one entry the
// retained pair is unspecified; producers never emit such documents.
func (v *Var) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, val := range m {
		v.Key = k
		v.Value = val
	}
	return nil
}

// Meta is the plugin identity document.
type Meta struct {
	Name        string `json:"name"`
	FixedVars   []Var  `json:"fixed_vars"`
	DefaultVars []Var  `json:"default_vars"`
}

// MarshalDocument encodes m with empty var lists rendered as [] rather
// than null, matching the wire shape hosts expect.
func (m Meta) MarshalDocument() (json.RawMessage, error) {
	if m.FixedVars == nil {
		m.FixedVars = []Var{}
	}
	if m.DefaultVars == nil {
		m.DefaultVars = []Var{}
	}
	return json.Marshal(m)
}

// PortsDocument encodes a port list as a JSON array, never null.
func PortsDocument(ports []Port) (json.RawMessage, error) {
	if ports == nil {
		ports = []Port{}
	}
	return json.Marshal(ports)
}
