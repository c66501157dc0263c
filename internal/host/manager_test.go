package host_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/patchbay/internal/host"
	"github.com/goatkit/patchbay/internal/telemetry"
	"github.com/goatkit/patchbay/pkg/plugin"
	"github.com/goatkit/patchbay/pkg/plugin/behavior"
	"github.com/goatkit/patchbay/pkg/plugin/schema"
	"github.com/goatkit/patchbay/plugins/oscillator"
)

// trackPlugin records every call its instances receive, so tests can
// assert that a correct host never touches an instance after destroy and
// closes it exactly once.
type trackPlugin struct {
	name     string
	flags    behavior.Behavior
	schema   *schema.Schema
	bare     bool // CapabilityCore only: no schema/behavior providers
	failNext error

	created []*trackInstance
}

func newTrackPlugin(name string) *trackPlugin {
	return &trackPlugin{name: name, flags: behavior.Default()}
}

func (p *trackPlugin) Name() string { return p.name }

func (p *trackPlugin) CapabilityVersion() int {
	if p.bare {
		return plugin.CapabilityCore
	}
	return plugin.CapabilityDescribe
}

func (p *trackPlugin) Create(id uint64) (plugin.Instance, error) {
	inst := &trackInstance{plugin: p, id: id, values: map[string]float64{}}
	p.created = append(p.created, inst)
	if p.bare {
		// Core-only: no schema/behavior/extender methods at all.
		return inst, nil
	}
	return &describedTrack{inst}, nil
}

type trackInstance struct {
	plugin *trackPlugin
	id     uint64

	calls      []string
	closes     int
	inputs     []string
	values     map[string]float64
	lastConfig []byte
}

func (i *trackInstance) record(call string) {
	i.calls = append(i.calls, call)
}

func (i *trackInstance) ID() uint64 { return i.id }

func (i *trackInstance) Meta() plugin.Meta {
	i.record("meta")
	return plugin.Meta{Name: i.plugin.name}
}

func (i *trackInstance) Inputs() []plugin.Port {
	i.record("inputs")
	ports := []plugin.Port{{ID: "in"}}
	return ports
}

func (i *trackInstance) Outputs() []plugin.Port {
	i.record("outputs")
	return []plugin.Port{{ID: "out"}}
}

func (i *trackInstance) SetConfig(doc json.RawMessage) error {
	i.record("set_config")
	i.lastConfig = append([]byte(nil), doc...)
	return nil
}

func (i *trackInstance) SetInput(port string, value float64) {
	i.record("set_input")
	i.values[port] = value
}

func (i *trackInstance) GetOutput(port string) float64 {
	i.record("get_output")
	if port == "out" {
		return i.values["in"]
	}
	return 0.0
}

func (i *trackInstance) Process(tick uint64, period float64) error {
	i.record("process")
	if err := i.plugin.failNext; err != nil {
		i.plugin.failNext = nil
		return err
	}
	return nil
}

func (i *trackInstance) Close() error {
	i.record("close")
	i.closes++
	return nil
}

// describedTrack layers the optional description and extender capabilities
// over a core trackInstance.
type describedTrack struct {
	*trackInstance
}

func (i *describedTrack) UISchema() *schema.Schema {
	if i.plugin.schema != nil {
		return i.plugin.schema
	}
	return schema.New()
}

func (i *describedTrack) Behavior() behavior.Behavior { return i.plugin.flags }

func (i *describedTrack) AddInput(port string) error {
	i.record("add_input")
	i.inputs = append(i.inputs, port)
	return nil
}

func (i *describedTrack) RemoveInput(port string) error {
	i.record("remove_input")
	for idx, p := range i.inputs {
		if p == port {
			i.inputs = append(i.inputs[:idx], i.inputs[idx+1:]...)
			break
		}
	}
	return nil
}

func newManager(t *testing.T, plugins []plugin.Plugin, opts ...host.Option) *host.Manager {
	t.Helper()
	reg := plugin.NewRegistry()
	for _, p := range plugins {
		require.NoError(t, reg.Register(p))
	}
	return host.NewManager(reg, opts...)
}

func TestSpawnEnforcesIDUniqueness(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, []plugin.Plugin{newTrackPlugin("track")})

	_, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	_, err = m.Spawn(ctx, "track", 1)
	assert.ErrorIs(t, err, host.ErrDuplicateID)

	_, err = m.Spawn(ctx, "missing", 2)
	assert.ErrorIs(t, err, host.ErrUnknownPlugin)
}

func TestConcreteScenario(t *testing.T) {
	// create(42) -> set_config {"amplitude":2.0} -> process(0, 0.02)
	// -> get_output("signal") == 2.0 -> destroy.
	ctx := context.Background()
	m := newManager(t, []plugin.Plugin{oscillator.New()})

	inst, err := m.Spawn(ctx, "oscillator", 42)
	require.NoError(t, err)
	require.NoError(t, m.Configure(ctx, 42, json.RawMessage(`{"amplitude":2.0}`)))
	require.NoError(t, inst.Process(0, 0.02))

	value, err := inst.GetOutput("signal")
	require.NoError(t, err)
	assert.Equal(t, 2.0, value)

	value, err = inst.GetOutput("nonexistent")
	require.NoError(t, err)
	assert.Equal(t, 0.0, value)

	require.NoError(t, m.Destroy(42))
}

func TestDestroyedHandleRejectsEverything(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 7)
	require.NoError(t, err)
	require.NoError(t, m.Destroy(7))

	impl := tp.created[0]
	callsAfterDestroy := len(impl.calls)

	_, err = inst.MetaDoc()
	assert.ErrorIs(t, err, host.ErrDestroyed)
	_, err = inst.InputsDoc()
	assert.ErrorIs(t, err, host.ErrDestroyed)
	_, err = inst.UISchemaDoc()
	assert.ErrorIs(t, err, host.ErrDestroyed)
	_, err = inst.BehaviorDoc()
	assert.ErrorIs(t, err, host.ErrDestroyed)
	assert.ErrorIs(t, inst.Configure(json.RawMessage(`{}`)), host.ErrDestroyed)
	assert.ErrorIs(t, inst.Process(1, 0.02), host.ErrDestroyed)
	assert.ErrorIs(t, inst.SetInput("in", 1.0), host.ErrDestroyed)
	_, err = inst.GetOutput("out")
	assert.ErrorIs(t, err, host.ErrDestroyed)
	assert.ErrorIs(t, inst.Start(), host.ErrDestroyed)
	assert.ErrorIs(t, inst.Stop(), host.ErrDestroyed)

	// The guard stops every call at the handle: the plugin saw nothing
	// after destroy, and was closed exactly once.
	assert.Equal(t, callsAfterDestroy, len(impl.calls))
	assert.Equal(t, 1, impl.closes)

	// Double destroy through the manager is not-found, not a second close.
	assert.ErrorIs(t, m.Destroy(7), host.ErrInstanceNotFound)
	assert.Equal(t, 1, impl.closes)
}

func TestDocumentsForCoreOnlyPlugin(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("bare")
	tp.bare = true
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "bare", 1)
	require.NoError(t, err)

	// Missing capabilities read as absent, not as errors.
	doc, err := inst.UISchemaDoc()
	require.NoError(t, err)
	assert.JSONEq(t, `{"fields":[]}`, string(doc))

	doc, err = inst.BehaviorDoc()
	require.NoError(t, err)
	var b behavior.Behavior
	require.NoError(t, json.Unmarshal(doc, &b))
	assert.Equal(t, behavior.Default(), b)
}

func TestLoadsStoppedStaysStoppedUntilStarted(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	tp.flags.LoadsStarted = false
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)
	assert.Equal(t, host.StateStopped, inst.State())

	// A stopped instance skips ticks without error.
	m.ProcessAll(0, 0.02)
	impl := tp.created[0]
	assert.NotContains(t, impl.calls, "process")

	require.NoError(t, inst.Start())
	assert.Equal(t, host.StateRunning, inst.State())
	m.ProcessAll(1, 0.02)
	assert.Contains(t, impl.calls, "process")
}

func TestStartStopUnsupported(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	tp.flags.SupportsStartStop = false
	tp.flags.SupportsRestart = false
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	assert.ErrorIs(t, inst.Stop(), host.ErrStartStopUnsupported)
	assert.ErrorIs(t, inst.Restart(), host.ErrRestartUnsupported)

	// Start on an already running instance stays a no-op even when
	// start/stop is unsupported.
	require.NoError(t, inst.Start())
}

func TestConnectionDependentSkippedWithoutConnections(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	tp.flags.ConnectionDependent = true
	tp.flags.Extendable = behavior.Auto("in_{}")
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	m.ProcessAll(0, 0.02)
	impl := tp.created[0]
	assert.NotContains(t, impl.calls, "process")

	port, err := inst.ConnectAuto()
	require.NoError(t, err)
	assert.Equal(t, "in_0", port)

	m.ProcessAll(1, 0.02)
	assert.Contains(t, impl.calls, "process")
}

func TestExtendableInputs(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	tp.flags.Extendable = behavior.Auto("aux_{}")
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	first, err := inst.ConnectAuto()
	require.NoError(t, err)
	second, err := inst.ConnectAuto()
	require.NoError(t, err)
	assert.Equal(t, "aux_0", first)
	assert.Equal(t, "aux_1", second)

	doc, err := inst.InputsDoc()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"in"},{"id":"aux_0"},{"id":"aux_1"}]`, string(doc))

	require.NoError(t, inst.Disconnect("aux_0"))
	impl := tp.created[0]
	assert.Equal(t, []string{"aux_1"}, impl.inputs)

	doc, err = inst.InputsDoc()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"in"},{"id":"aux_1"}]`, string(doc))
}

func TestConnectRejectedForFixedInputs(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track") // ExtendNone
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	// Declared ports connect fine; new ports do not.
	require.NoError(t, inst.Connect("in"))
	assert.ErrorIs(t, inst.Connect("extra"), host.ErrInputsNotExtendable)
	_, err = inst.ConnectAuto()
	assert.ErrorIs(t, err, host.ErrInputsNotExtendable)
}

func TestFaultIsRecordedAndInstanceStaysLive(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	m := newManager(t, []plugin.Plugin{tp})

	inst, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	tp.failNext = fmt.Errorf("underrun")
	m.ProcessAll(0, 0.02)

	assert.Equal(t, host.StateRunning, inst.State())
	events := m.Events().Recent(0)
	var fault bool
	for _, e := range events {
		if e.Kind == host.EventFault {
			fault = true
			assert.Contains(t, e.Detail, "underrun")
		}
	}
	assert.True(t, fault, "fault event recorded")

	// Next tick processes normally again.
	m.ProcessAll(1, 0.02)
	impl := tp.created[0]
	assert.GreaterOrEqual(t, countCalls(impl, "process"), 2)
}

func countCalls(i *trackInstance, name string) int {
	n := 0
	for _, c := range i.calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestConfigValidationGate(t *testing.T) {
	ctx := context.Background()
	tp := newTrackPlugin("track")
	tp.schema = schema.New().
		Add(schema.Float("amplitude", "Amplitude", 1.0, 0.0, 10.0))

	m := newManager(t, []plugin.Plugin{tp}, host.WithConfigValidation())
	_, err := m.Spawn(ctx, "track", 1)
	require.NoError(t, err)

	// In range: forwarded.
	require.NoError(t, m.Configure(ctx, 1, json.RawMessage(`{"amplitude":2.0}`)))
	impl := tp.created[0]
	assert.JSONEq(t, `{"amplitude":2.0}`, string(impl.lastConfig))

	// Out of range: rejected before the plugin sees it.
	err = m.Configure(ctx, 1, json.RawMessage(`{"amplitude":99.0}`))
	assert.ErrorIs(t, err, host.ErrConfigRejected)
	assert.JSONEq(t, `{"amplitude":2.0}`, string(impl.lastConfig))

	// Wrong type: rejected.
	err = m.Configure(ctx, 1, json.RawMessage(`{"amplitude":"loud"}`))
	assert.ErrorIs(t, err, host.ErrConfigRejected)

	// Unknown keys still pass; the contract ignores them.
	require.NoError(t, m.Configure(ctx, 1, json.RawMessage(`{"wat":true}`)))
}

// memoryStore is an in-memory ConfigStore for persistence tests.
type memoryStore struct {
	docs map[string][]byte
}

func (s *memoryStore) key(pluginName string, id uint64) string {
	return fmt.Sprintf("%s/%d", pluginName, id)
}

func (s *memoryStore) SaveConfig(_ context.Context, pluginName string, id uint64, doc []byte) error {
	if s.docs == nil {
		s.docs = map[string][]byte{}
	}
	s.docs[s.key(pluginName, id)] = append([]byte(nil), doc...)
	return nil
}

func (s *memoryStore) LoadConfig(_ context.Context, pluginName string, id uint64) ([]byte, error) {
	return s.docs[s.key(pluginName, id)], nil
}

func TestPersistedConfigReappliedOnSpawn(t *testing.T) {
	ctx := context.Background()
	store := &memoryStore{}
	tp := newTrackPlugin("track")
	m := newManager(t, []plugin.Plugin{tp}, host.WithStore(store))

	_, err := m.Spawn(ctx, "track", 5)
	require.NoError(t, err)
	require.NoError(t, m.Configure(ctx, 5, json.RawMessage(`{"gain":0.5}`)))
	require.NoError(t, m.Destroy(5))

	_, err = m.Spawn(ctx, "track", 5)
	require.NoError(t, err)

	impl := tp.created[1]
	assert.JSONEq(t, `{"gain":0.5}`, string(impl.lastConfig))
}

func TestTelemetryPublishedAfterTicks(t *testing.T) {
	ctx := context.Background()
	broker := telemetry.NewBroker()
	tp := newTrackPlugin("track")
	m := newManager(t, []plugin.Plugin{tp}, host.WithTelemetry(broker))

	inst, err := m.Spawn(ctx, "track", 3)
	require.NoError(t, err)
	require.NoError(t, inst.SetInput("in", 1.5))

	ch := broker.Subscribe(3)
	defer broker.Unsubscribe(ch)

	m.ProcessAll(9, 0.02)

	require.Len(t, ch, 1)
	s := <-ch
	assert.Equal(t, uint64(3), s.InstanceID)
	assert.Equal(t, "track", s.Plugin)
	assert.Equal(t, "out", s.Port)
	assert.Equal(t, 1.5, s.Value)
	assert.Equal(t, uint64(9), s.Tick)
}

func TestListSortedByID(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, []plugin.Plugin{newTrackPlugin("track")})

	for _, id := range []uint64{30, 10, 20} {
		_, err := m.Spawn(ctx, "track", id)
		require.NoError(t, err)
	}

	var ids []uint64
	for _, inst := range m.List() {
		ids = append(ids, inst.ID())
	}
	assert.Equal(t, []uint64{10, 20, 30}, ids)

	require.NoError(t, m.DestroyAll())
	assert.Empty(t, m.List())
}
