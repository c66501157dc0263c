// Package behavior defines the fixed capability flags a plugin reports to
// the host: whether it can be started and stopped, whether it supports
// restart, how its input ports may be extended at runtime, whether it loads
// in the running state, and whether processing depends on having connected
// inputs.
package behavior

import (
	"encoding/json"
	"fmt"
)

// ExtendMode says how an instance's input ports may grow at runtime.
type ExtendMode int

const (
	// ExtendNone: the input set is fixed.
	ExtendNone ExtendMode = iota
	// ExtendManual: the user attaches inputs explicitly.
	ExtendManual
	// ExtendAuto: the host creates inputs on demand, named by a pattern.
	ExtendAuto
)

// String returns the wire spelling of the mode.
func (m ExtendMode) String() string {
	switch m {
	case ExtendManual:
		return "manual"
	case ExtendAuto:
		return "auto"
	default:
		return "none"
	}
}

// ExtendableInputs pairs the mode with the naming pattern. Pattern is
// meaningful only for ExtendAuto; for other modes it is ignored and never
// encoded. Consistency is the caller's responsibility.
type ExtendableInputs struct {
	Mode    ExtendMode
	Pattern string // e.g. "in_{}", "{}" replaced by the port index
}

// Auto builds an ExtendableInputs in auto mode with the given pattern.
func Auto(pattern string) ExtendableInputs {
	return ExtendableInputs{Mode: ExtendAuto, Pattern: pattern}
}

// Behavior is the fixed-shape record of capability flags.
type Behavior struct {
	SupportsStartStop   bool
	SupportsRestart     bool
	Extendable          ExtendableInputs
	LoadsStarted        bool
	ConnectionDependent bool
}

// Default returns the flags assumed for plugins that report none: started
// on load, start/stop and restart supported, fixed inputs, connection
// independent.
func Default() Behavior {
	return Behavior{
		SupportsStartStop: true,
		SupportsRestart:   true,
		LoadsStarted:      true,
	}
}

type behaviorJSON struct {
	SupportsStartStop   bool    `json:"supports_start_stop"`
	SupportsRestart     bool    `json:"supports_restart"`
	ExtendableInputs    string  `json:"extendable_inputs"`
	Pattern             *string `json:"extendable_inputs_pattern,omitempty"`
	LoadsStarted        bool    `json:"loads_started"`
	ConnectionDependent bool    `json:"connection_dependent"`
}

// MarshalJSON encodes the flags. The pattern key appears exactly when the
// extendable-inputs mode is auto; inconsistent inputs (a pattern set with
// mode none or manual) are not an error, the stray pattern is simply not
// encoded.
func (b Behavior) MarshalJSON() ([]byte, error) {
	out := behaviorJSON{
		SupportsStartStop:   b.SupportsStartStop,
		SupportsRestart:     b.SupportsRestart,
		ExtendableInputs:    b.Extendable.Mode.String(),
		LoadsStarted:        b.LoadsStarted,
		ConnectionDependent: b.ConnectionDependent,
	}
	if b.Extendable.Mode == ExtendAuto {
		pattern := b.Extendable.Pattern
		out.Pattern = &pattern
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a behavior document.
func (b *Behavior) UnmarshalJSON(data []byte) error {
	var in behaviorJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = Behavior{
		SupportsStartStop:   in.SupportsStartStop,
		SupportsRestart:     in.SupportsRestart,
		LoadsStarted:        in.LoadsStarted,
		ConnectionDependent: in.ConnectionDependent,
	}
	switch in.ExtendableInputs {
	case "", "none":
		b.Extendable.Mode = ExtendNone
	case "manual":
		b.Extendable.Mode = ExtendManual
	case "auto":
		b.Extendable.Mode = ExtendAuto
		if in.Pattern != nil {
			b.Extendable.Pattern = *in.Pattern
		}
	default:
		return fmt.Errorf("unknown extendable_inputs mode %q", in.ExtendableInputs)
	}
	return nil
}
