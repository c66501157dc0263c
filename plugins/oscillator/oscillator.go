// Package oscillator provides the reference native plugin: a sine source
// with configurable amplitude, frequency, and capture path. It exercises
// every part of the plugin contract and doubles as the template for new
// native plugins.
package oscillator

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/pkg/plugin/behavior"
	"github.com/goatkit/patchbay/pkg/plugin/schema"
)

const (
	defaultAmplitude = 1.0
	defaultFrequency = 440.0

	minAmplitude = 0.0
	maxAmplitude = 10.0
	minFrequency = 20.0
	maxFrequency = 20000.0
)

// Plugin is the oscillator module factory.
type Plugin struct{}

// New returns the oscillator plugin.
func New() *Plugin { return &Plugin{} }

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return "oscillator" }

// CapabilityVersion implements plugin.Plugin.
func (p *Plugin) CapabilityVersion() int { return plugin.CapabilityDescribe }

// Create implements plugin.Plugin.
func (p *Plugin) Create(id uint64) (plugin.Instance, error) {
	return &Instance{
		id:        id,
		amplitude: defaultAmplitude,
		frequency: defaultFrequency,
	}, nil
}

// Instance is one oscillator. The "signal" output reports the current peak
// level, i.e. the configured amplitude; phase advances each tick.
type Instance struct {
	id         uint64
	amplitude  float64
	frequency  float64
	outputPath string
	phase      float64
	closed     bool
}

// ID implements plugin.Instance.
func (o *Instance) ID() uint64 { return o.id }

// Meta implements plugin.Instance.
func (o *Instance) Meta() plugin.Meta {
	return plugin.Meta{
		Name:      "Oscillator",
		FixedVars: []plugin.Var{},
		DefaultVars: []plugin.Var{
			{Key: "amplitude", Value: defaultAmplitude},
			{Key: "frequency", Value: defaultFrequency},
		},
	}
}

// Inputs implements plugin.Instance. The oscillator is a pure source.
func (o *Instance) Inputs() []plugin.Port { return nil }

// Outputs implements plugin.Instance.
func (o *Instance) Outputs() []plugin.Port {
	return []plugin.Port{{ID: "signal"}}
}

// UISchema implements plugin.SchemaProvider.
func (o *Instance) UISchema() *schema.Schema {
	return schema.New().
		Add(schema.Float("amplitude", "Amplitude", defaultAmplitude, minAmplitude, maxAmplitude)).
		Add(schema.Float("frequency", "Frequency (Hz)", defaultFrequency, minFrequency, maxFrequency)).
		Add(schema.FilePath("output_path", "Output File", schema.FileSave))
}

// Behavior implements plugin.BehaviorProvider.
func (o *Instance) Behavior() behavior.Behavior {
	return behavior.Default()
}

// SetConfig implements plugin.Instance. Out-of-range values are clamped to
// the schema bounds; unknown keys are ignored.
func (o *Instance) SetConfig(doc json.RawMessage) error {
	if o.closed {
		return fmt.Errorf("oscillator %d: closed", o.id)
	}
	var cfg map[string]json.RawMessage
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return fmt.Errorf("oscillator %d: decode config: %w", o.id, err)
	}

	if raw, ok := cfg["amplitude"]; ok {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("oscillator %d: amplitude: %w", o.id, err)
		}
		o.amplitude = clamp(v, minAmplitude, maxAmplitude)
	}
	if raw, ok := cfg["frequency"]; ok {
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("oscillator %d: frequency: %w", o.id, err)
		}
		o.frequency = clamp(v, minFrequency, maxFrequency)
	}
	if raw, ok := cfg["output_path"]; ok {
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("oscillator %d: output_path: %w", o.id, err)
		}
		o.outputPath = v
	}
	return nil
}

// SetInput implements plugin.Instance. No inputs, so every port name is a
// silent no-op.
func (o *Instance) SetInput(port string, value float64) {}

// GetOutput implements plugin.Instance.
func (o *Instance) GetOutput(port string) float64 {
	if port == "signal" {
		return o.amplitude
	}
	return 0.0
}

// Process implements plugin.Instance.
func (o *Instance) Process(tick uint64, period float64) error {
	if o.closed {
		return fmt.Errorf("oscillator %d: closed", o.id)
	}
	o.phase += 2 * math.Pi * o.frequency * period
	if o.phase > 2*math.Pi {
		o.phase = math.Mod(o.phase, 2*math.Pi)
	}
	return nil
}

// Close implements plugin.Instance.
func (o *Instance) Close() error {
	o.closed = true
	return nil
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
