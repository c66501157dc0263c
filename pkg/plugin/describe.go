package plugin

import (
	"github.com/goatkit/patchbay/pkg/plugin/behavior"
	"github.com/goatkit/patchbay/pkg/plugin/schema"
)

// SchemaProvider is implemented by instances that expose a UI configuration
// schema. Instances built against CapabilityCore may omit it; the host
// then reports an empty schema.
type SchemaProvider interface {
	UISchema() *schema.Schema
}

// BehaviorProvider is implemented by instances that expose behavior flags.
// Absent, the host assumes behavior.Default().
type BehaviorProvider interface {
	Behavior() behavior.Behavior
}

// InputExtender is implemented by instances whose behavior declares
// extendable inputs. The host notifies it when ports are attached or
// detached at runtime.
type InputExtender interface {
	AddInput(port string) error
	RemoveInput(port string) error
}

// SchemaOf returns the instance's UI schema, or an empty schema when the
// instance does not provide one.
func SchemaOf(inst Instance) *schema.Schema {
	if p, ok := inst.(SchemaProvider); ok {
		if s := p.UISchema(); s != nil {
			return s
		}
	}
	return schema.New()
}

// BehaviorOf returns the instance's behavior flags, or the defaults when
// the instance does not provide them.
func BehaviorOf(inst Instance) behavior.Behavior {
	if p, ok := inst.(BehaviorProvider); ok {
		return p.Behavior()
	}
	return behavior.Default()
}
