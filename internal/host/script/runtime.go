// Package script runs JavaScript plugins on goja. A script declares a
// global `plugin` object with a name and a create(id) factory returning the
// instance object; the runtime adapts that object to the plugin contract so
// the host drives scripted and native plugins identically.
//
// Instance shape expected from create(id):
//
//	plugin = {
//	    name: "lfo",
//	    create: function(id) {
//	        var amplitude = 1.0;
//	        return {
//	            meta: function() { return {name: "LFO", fixed_vars: [], default_vars: []}; },
//	            inputs: function() { return []; },
//	            outputs: function() { return ["signal"]; },
//	            setConfig: function(cfg) { if ("amplitude" in cfg) amplitude = cfg.amplitude; },
//	            setInput: function(port, value) {},
//	            getOutput: function(port) { return port === "signal" ? amplitude : 0.0; },
//	            process: function(tick, period) {},
//	            uiSchema: function() { return {fields: []}; },   // optional
//	            behavior: function() { return {...}; },          // optional
//	        };
//	    },
//	};
//
// Every instance gets its own VM, so instances of the same script share no
// state. The host's per-instance serialization also keeps each VM
// single-threaded.
package script

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dop251/goja"

	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/pkg/plugin/behavior"
	"github.com/goatkit/patchbay/pkg/plugin/schema"
)

// Plugin is a compiled script module implementing plugin.Plugin.
type Plugin struct {
	name       string
	capability int
	program    *goja.Program
	source     string // for errors
}

// LoadFile compiles the script at path. The plugin name defaults to the
// file name without extension when the script does not declare one.
func LoadFile(path string) (*Plugin, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	fallback := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Load(fallback, string(src))
}

// Load compiles source and probes its plugin declaration.
func Load(fallbackName, source string) (*Plugin, error) {
	program, err := goja.Compile(fallbackName, source, true)
	if err != nil {
		return nil, fmt.Errorf("compile script %s: %w", fallbackName, err)
	}

	// Probe in a scratch VM: the declaration must exist and create must
	// be callable. The probe VM is discarded; instances get fresh VMs.
	vm := goja.New()
	if _, err := vm.RunProgram(program); err != nil {
		return nil, fmt.Errorf("evaluate script %s: %w", fallbackName, err)
	}
	decl := vm.Get("plugin")
	if decl == nil || goja.IsUndefined(decl) || goja.IsNull(decl) {
		return nil, fmt.Errorf("script %s: no plugin declaration", fallbackName)
	}
	obj := decl.ToObject(vm)

	name := fallbackName
	if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
		name = v.String()
	}
	if _, ok := goja.AssertFunction(obj.Get("create")); !ok {
		return nil, fmt.Errorf("script %s: plugin.create is not a function", name)
	}

	capability := plugin.CapabilityCore
	if v := obj.Get("capability"); v != nil && !goja.IsUndefined(v) {
		capability = int(v.ToInteger())
	} else {
		// Infer: a describing script is one whose instances can carry
		// uiSchema/behavior; probe one throwaway instance.
		if describes(vm, obj) {
			capability = plugin.CapabilityDescribe
		}
	}

	return &Plugin{
		name:       name,
		capability: capability,
		program:    program,
		source:     fallbackName,
	}, nil
}

func describes(vm *goja.Runtime, decl *goja.Object) bool {
	create, _ := goja.AssertFunction(decl.Get("create"))
	v, err := create(decl, vm.ToValue(uint64(0)))
	if err != nil || v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return false
	}
	inst := v.ToObject(vm)
	for _, fn := range []string{"uiSchema", "behavior"} {
		if _, ok := goja.AssertFunction(inst.Get(fn)); ok {
			return true
		}
	}
	return false
}

// Name implements plugin.Plugin.
func (p *Plugin) Name() string { return p.name }

// CapabilityVersion implements plugin.Plugin.
func (p *Plugin) CapabilityVersion() int { return p.capability }

// Create implements plugin.Plugin. Each instance runs in its own VM.
func (p *Plugin) Create(id uint64) (plugin.Instance, error) {
	vm := goja.New()
	if _, err := vm.RunProgram(p.program); err != nil {
		return nil, fmt.Errorf("script %s: %w", p.name, err)
	}
	decl := vm.Get("plugin").ToObject(vm)
	create, ok := goja.AssertFunction(decl.Get("create"))
	if !ok {
		return nil, fmt.Errorf("script %s: plugin.create is not a function", p.name)
	}
	v, err := create(decl, vm.ToValue(id))
	if err != nil {
		return nil, fmt.Errorf("script %s: create(%d): %w", p.name, id, err)
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("script %s: create(%d) returned no instance", p.name, id)
	}

	return &Instance{
		pluginName: p.name,
		id:         id,
		vm:         vm,
		obj:        v.ToObject(vm),
	}, nil
}

// Instance adapts one scripted instance object. Optional script functions
// (uiSchema, behavior, onInputAdded, onInputRemoved) degrade to the
// contract's defaults when absent.
type Instance struct {
	pluginName string
	id         uint64
	vm         *goja.Runtime
	obj        *goja.Object
	closed     bool
}

func (i *Instance) fn(name string) (goja.Callable, bool) {
	return goja.AssertFunction(i.obj.Get(name))
}

// call invokes a script function and decodes its result into out (out may
// be nil for void calls). Script exceptions surface as errors.
func (i *Instance) call(name string, out any, args ...any) error {
	fn, ok := i.fn(name)
	if !ok {
		return fmt.Errorf("script %s: %s is not a function", i.pluginName, name)
	}
	values := make([]goja.Value, len(args))
	for idx, a := range args {
		values[idx] = i.vm.ToValue(a)
	}
	result, err := fn(i.obj, values...)
	if err != nil {
		return fmt.Errorf("script %s: %s: %w", i.pluginName, name, err)
	}
	if out == nil {
		return nil
	}
	data, err := json.Marshal(result.Export())
	if err != nil {
		return fmt.Errorf("script %s: %s result: %w", i.pluginName, name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("script %s: %s result: %w", i.pluginName, name, err)
	}
	return nil
}

// ID implements plugin.Instance.
func (i *Instance) ID() uint64 { return i.id }

// Meta implements plugin.Instance.
func (i *Instance) Meta() plugin.Meta {
	var meta plugin.Meta
	if err := i.call("meta", &meta); err != nil {
		return plugin.Meta{Name: i.pluginName}
	}
	return meta
}

func (i *Instance) ports(name string) []plugin.Port {
	var ids []string
	if err := i.call(name, &ids); err != nil {
		return nil
	}
	ports := make([]plugin.Port, len(ids))
	for idx, id := range ids {
		ports[idx] = plugin.Port{ID: id}
	}
	return ports
}

// Inputs implements plugin.Instance.
func (i *Instance) Inputs() []plugin.Port { return i.ports("inputs") }

// Outputs implements plugin.Instance.
func (i *Instance) Outputs() []plugin.Port { return i.ports("outputs") }

// SetConfig implements plugin.Instance.
func (i *Instance) SetConfig(doc json.RawMessage) error {
	var cfg map[string]any
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return fmt.Errorf("script %s: decode config: %w", i.pluginName, err)
	}
	return i.call("setConfig", nil, cfg)
}

// SetInput implements plugin.Instance. Scripts without a setInput function
// ignore all inputs.
func (i *Instance) SetInput(port string, value float64) {
	if _, ok := i.fn("setInput"); !ok {
		return
	}
	_ = i.call("setInput", nil, port, value)
}

// GetOutput implements plugin.Instance.
func (i *Instance) GetOutput(port string) float64 {
	var v float64
	if err := i.call("getOutput", &v, port); err != nil {
		return 0.0
	}
	return v
}

// Process implements plugin.Instance.
func (i *Instance) Process(tick uint64, period float64) error {
	if i.closed {
		return fmt.Errorf("script %s: instance %d closed", i.pluginName, i.id)
	}
	return i.call("process", nil, tick, period)
}

// Close implements plugin.Instance. A close function in the script is
// optional.
func (i *Instance) Close() error {
	i.closed = true
	if _, ok := i.fn("close"); ok {
		return i.call("close", nil)
	}
	return nil
}

// UISchema implements plugin.SchemaProvider. Scripts without uiSchema
// report nil, which the host reads as an empty schema.
func (i *Instance) UISchema() *schema.Schema {
	if _, ok := i.fn("uiSchema"); !ok {
		return nil
	}
	var s schema.Schema
	if err := i.call("uiSchema", &s); err != nil {
		return nil
	}
	return &s
}

// Behavior implements plugin.BehaviorProvider. Scripts without a behavior
// function get the defaults.
func (i *Instance) Behavior() behavior.Behavior {
	if _, ok := i.fn("behavior"); !ok {
		return behavior.Default()
	}
	var b behavior.Behavior
	if err := i.call("behavior", &b); err != nil {
		return behavior.Default()
	}
	return b
}

// AddInput implements plugin.InputExtender. The onInputAdded hook is
// optional: scripted plugins receive values for any port name through
// setInput regardless.
func (i *Instance) AddInput(port string) error {
	if _, ok := i.fn("onInputAdded"); !ok {
		return nil
	}
	return i.call("onInputAdded", nil, port)
}

// RemoveInput implements plugin.InputExtender.
func (i *Instance) RemoveInput(port string) error {
	if _, ok := i.fn("onInputRemoved"); !ok {
		return nil
	}
	return i.call("onInputRemoved", nil, port)
}
