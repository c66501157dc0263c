package oscillator_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/plugins/oscillator"
)

func TestDescribe(t *testing.T) {
	p := oscillator.New()
	assert.Equal(t, "oscillator", p.Name())
	assert.Equal(t, plugin.CapabilityDescribe, p.CapabilityVersion())

	inst, err := p.Create(1)
	require.NoError(t, err)
	defer inst.Close()

	meta := inst.Meta()
	assert.Equal(t, "Oscillator", meta.Name)
	require.Len(t, meta.DefaultVars, 2)
	assert.Equal(t, "amplitude", meta.DefaultVars[0].Key)

	assert.Empty(t, inst.Inputs())
	require.Len(t, inst.Outputs(), 1)
	assert.Equal(t, "signal", inst.Outputs()[0].ID)

	s := plugin.SchemaOf(inst)
	require.Equal(t, 3, s.Len())
	keys := []string{}
	for _, f := range s.Fields() {
		keys = append(keys, f.Key())
	}
	assert.Equal(t, []string{"amplitude", "frequency", "output_path"}, keys)
}

func TestConfigureProcessReadOutput(t *testing.T) {
	inst, err := oscillator.New().Create(42)
	require.NoError(t, err)
	defer inst.Close()

	require.NoError(t, inst.SetConfig(json.RawMessage(`{"amplitude":2.0}`)))
	require.NoError(t, inst.Process(0, 0.02))
	assert.Equal(t, 2.0, inst.GetOutput("signal"))
}

func TestUnknownPortReturnsZero(t *testing.T) {
	inst, err := oscillator.New().Create(1)
	require.NoError(t, err)
	defer inst.Close()

	require.NoError(t, inst.Process(0, 0.02))
	assert.Equal(t, 0.0, inst.GetOutput("nonexistent"))

	// Unknown input ports are a silent no-op.
	inst.SetInput("nonexistent", 1.0)
}

func TestUnknownConfigKeysIgnored(t *testing.T) {
	inst, err := oscillator.New().Create(1)
	require.NoError(t, err)
	defer inst.Close()

	require.NoError(t, inst.SetConfig(json.RawMessage(`{"wat":true,"amplitude":3.0}`)))
	assert.Equal(t, 3.0, inst.GetOutput("signal"))
}

func TestOutOfRangeValuesClamped(t *testing.T) {
	inst, err := oscillator.New().Create(1)
	require.NoError(t, err)
	defer inst.Close()

	require.NoError(t, inst.SetConfig(json.RawMessage(`{"amplitude":99.0}`)))
	assert.Equal(t, 10.0, inst.GetOutput("signal"))

	require.NoError(t, inst.SetConfig(json.RawMessage(`{"amplitude":-1.0}`)))
	assert.Equal(t, 0.0, inst.GetOutput("signal"))
}

func TestMalformedConfigRejected(t *testing.T) {
	inst, err := oscillator.New().Create(1)
	require.NoError(t, err)
	defer inst.Close()

	assert.Error(t, inst.SetConfig(json.RawMessage(`{"amplitude":"loud"}`)))
	assert.Error(t, inst.SetConfig(json.RawMessage(`not json`)))
}

func TestOperationsAfterCloseFail(t *testing.T) {
	inst, err := oscillator.New().Create(1)
	require.NoError(t, err)
	require.NoError(t, inst.Close())

	assert.Error(t, inst.Process(0, 0.02))
	assert.Error(t, inst.SetConfig(json.RawMessage(`{}`)))
}
