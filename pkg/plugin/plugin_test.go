package plugin_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/pkg/plugin/behavior"
	"github.com/goatkit/patchbay/pkg/plugin/schema"
)

// stubPlugin is a minimal CapabilityCore plugin for registry tests.
type stubPlugin struct {
	name    string
	version int
}

func (p *stubPlugin) Name() string           { return p.name }
func (p *stubPlugin) CapabilityVersion() int { return p.version }
func (p *stubPlugin) Create(id uint64) (plugin.Instance, error) {
	return &stubInstance{id: id}, nil
}

type stubInstance struct {
	id uint64
}

func (i *stubInstance) ID() uint64                       { return i.id }
func (i *stubInstance) Meta() plugin.Meta                { return plugin.Meta{Name: "stub"} }
func (i *stubInstance) Inputs() []plugin.Port            { return nil }
func (i *stubInstance) Outputs() []plugin.Port           { return nil }
func (i *stubInstance) SetConfig(json.RawMessage) error  { return nil }
func (i *stubInstance) SetInput(string, float64)         {}
func (i *stubInstance) GetOutput(string) float64         { return 0 }
func (i *stubInstance) Process(uint64, float64) error    { return nil }
func (i *stubInstance) Close() error                     { return nil }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{name: "alpha", version: plugin.CapabilityCore}))
	require.NoError(t, r.Register(&stubPlugin{name: "beta", version: plugin.CapabilityDescribe}))

	p, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", p.Name())

	_, ok = r.Get("gamma")
	assert.False(t, ok)

	assert.Equal(t, []string{"alpha", "beta"}, r.Names())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{name: "alpha", version: plugin.CapabilityCore}))
	err := r.Register(&stubPlugin{name: "alpha", version: plugin.CapabilityCore})
	assert.ErrorContains(t, err, "already registered")
}

func TestRegistryRejectsUnknownCapabilityVersion(t *testing.T) {
	r := plugin.NewRegistry()
	err := r.Register(&stubPlugin{name: "future", version: plugin.CapabilityCurrent + 1})
	assert.ErrorContains(t, err, "unsupported capability version")

	err = r.Register(&stubPlugin{name: "zero", version: 0})
	assert.Error(t, err)
}

func TestRegistryUnregister(t *testing.T) {
	r := plugin.NewRegistry()
	require.NoError(t, r.Register(&stubPlugin{name: "alpha", version: plugin.CapabilityCore}))
	require.NoError(t, r.Unregister("alpha"))
	_, ok := r.Get("alpha")
	assert.False(t, ok)

	assert.Error(t, r.Unregister("alpha"))
}

// describedInstance adds the optional description capabilities.
type describedInstance struct {
	stubInstance
}

func (i *describedInstance) UISchema() *schema.Schema {
	return schema.New().Add(schema.Text("name", "Name"))
}

func (i *describedInstance) Behavior() behavior.Behavior {
	b := behavior.Default()
	b.ConnectionDependent = true
	return b
}

func TestSchemaOfFallsBackToEmpty(t *testing.T) {
	s := plugin.SchemaOf(&stubInstance{})
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Len())

	s = plugin.SchemaOf(&describedInstance{})
	assert.Equal(t, 1, s.Len())
}

func TestBehaviorOfFallsBackToDefault(t *testing.T) {
	assert.Equal(t, behavior.Default(), plugin.BehaviorOf(&stubInstance{}))
	assert.True(t, plugin.BehaviorOf(&describedInstance{}).ConnectionDependent)
}

func TestVarEncoding(t *testing.T) {
	v := plugin.Var{Key: "amplitude", Value: 1.0}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amplitude":1.0}`, string(data))

	var back plugin.Var
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "amplitude", back.Key)
	assert.Equal(t, 1.0, back.Value)
}

func TestMetaDocumentNeverNull(t *testing.T) {
	doc, err := plugin.Meta{Name: "osc"}.MarshalDocument()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"osc","fixed_vars":[],"default_vars":[]}`, string(doc))
}

func TestPortsDocument(t *testing.T) {
	doc, err := plugin.PortsDocument(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(doc))

	ports := make([]plugin.Port, 3)
	for i := range ports {
		ports[i] = plugin.Port{ID: fmt.Sprintf("in_%d", i)}
	}
	doc, err = plugin.PortsDocument(ports)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"in_0"},{"id":"in_1"},{"id":"in_2"}]`, string(doc))
}
