package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulmesh/soulmesh"
	"github.com/soulmesh/soulmesh/eventbus"
	"github.com/soulmesh/soulmesh/registry"
	"github.com/soulmesh/soulmesh/toggles"
)

// fakeModule implements the module capability contract with injectable
// failures and call counting.
type fakeModule struct {
	manifest *soulmesh.Manifest

	mu              sync.Mutex
	initialized     bool
	active          bool
	destroyed       bool
	initCalls       int
	activateCalls   int
	deactivateCalls int
	destroyCalls    int

	failInitialize error
	failActivate   error
	failDeactivate error
}

func (f *fakeModule) Manifest() *soulmesh.Manifest { return f.manifest }

func (f *fakeModule) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initialized {
		return nil
	}
	if f.failInitialize != nil {
		return f.failInitialize
	}
	f.initCalls++
	f.initialized = true
	return nil
}

func (f *fakeModule) Activate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized {
		return soulmesh.ErrNotInitialized
	}
	if f.failActivate != nil {
		return f.failActivate
	}
	f.activateCalls++
	f.active = true
	return nil
}

func (f *fakeModule) Deactivate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDeactivate != nil {
		return f.failDeactivate
	}
	f.deactivateCalls++
	f.active = false
	return nil
}

func (f *fakeModule) Destroy(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyCalls++
	f.destroyed = true
	return nil
}

func (f *fakeModule) Ping() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.destroyed
}

func (f *fakeModule) ExposedItems() map[string]any {
	return map[string]any{"surface": f.manifest.ID}
}

// runtime bundles a freshly wired orchestrator and its collaborators.
type runtime struct {
	bus *eventbus.Bus
	reg *registry.Registry
	tog *toggles.Store
	os  *Orchestrator
}

func newRuntime(t *testing.T, opts ...Option) *runtime {
	t.Helper()
	bus := eventbus.New(nil)
	reg := registry.New(nil)
	tog := toggles.New(nil, "test-user", nil)
	os := New(bus, reg, tog, nil, opts...)
	require.NoError(t, os.Start(context.Background()))
	t.Cleanup(func() { _ = os.Stop(context.Background()) })
	return &runtime{bus: bus, reg: reg, tog: tog, os: os}
}

// addModule registers a manifest plus a factory and returns the fake that
// the next load will produce.
func (r *runtime) addModule(t *testing.T, m *soulmesh.Manifest) *fakeModule {
	t.Helper()
	require.NoError(t, r.reg.RegisterManifest(m))
	fake := &fakeModule{manifest: m}
	r.reg.RegisterFactory(m.ID, func() soulmesh.Module { return fake })
	return fake
}

func testManifest(id string, integrity float64, caps ...string) *soulmesh.Manifest {
	if len(caps) == 0 {
		caps = []string{"generic"}
	}
	return &soulmesh.Manifest{
		ID:             id,
		Name:           id,
		Version:        "1.0.0",
		Capabilities:   caps,
		IntegrityScore: integrity,
	}
}

func eventTypes(events []eventbus.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestLoadModuleFullLifecycle(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("journal", 0.9, "journal"))

	inst := r.os.LoadModule(context.Background(), "journal")
	require.NotNil(t, inst)
	assert.Same(t, soulmesh.Module(fake), inst)

	state, ok := r.os.InstanceState("journal")
	require.True(t, ok)
	assert.Equal(t, StateActive, state)
	assert.Equal(t, 1, fake.initCalls)
	assert.Equal(t, 1, fake.activateCalls)

	milestones := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{
		TopicLifecycleRegistered, TopicLifecycleLoaded, TopicLifecycleActivated,
	}})
	assert.Equal(t, []string{
		TopicLifecycleRegistered, TopicLifecycleLoaded, TopicLifecycleActivated,
	}, eventTypes(milestones))
}

func TestLoadModuleActiveFastPathSkipsLifecycle(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("journal", 0.9))

	first := r.os.LoadModule(context.Background(), "journal")
	second := r.os.LoadModule(context.Background(), "journal")

	assert.Same(t, first, second)
	assert.Equal(t, 1, fake.initCalls)
	assert.Equal(t, 1, fake.activateCalls)
}

func TestLoadModuleRejectedWhenToggleDisabled(t *testing.T) {
	r := newRuntime(t)
	r.addModule(t, testManifest("journal", 0.9))
	r.tog.Toggle(context.Background(), "journal", false)

	inst := r.os.LoadModule(context.Background(), "journal")
	assert.Nil(t, inst)

	rejections := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{TopicLoadRejected}})
	require.Len(t, rejections, 1)
	assert.Equal(t, "journal", rejections[0].SourceID)
	assert.Equal(t, ReasonDisabledByToggle, rejections[0].Payload["reason"])

	_, exists := r.os.InstanceState("journal")
	assert.False(t, exists, "no instance record for a rejected first-time load")
}

func TestLoadModuleRejectedBelowIntegrityFloor(t *testing.T) {
	r := newRuntime(t)
	r.addModule(t, testManifest("flaky", 0.5))

	inst := r.os.LoadModule(context.Background(), "flaky")
	assert.Nil(t, inst)

	rejections := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{TopicLoadRejected}})
	require.Len(t, rejections, 1)
	assert.Equal(t, ReasonLowIntegrity, rejections[0].Payload["reason"])

	_, exists := r.os.InstanceState("flaky")
	assert.False(t, exists, "never transitions past REGISTERED")
}

func TestLoadModuleUnknownManifest(t *testing.T) {
	r := newRuntime(t)
	assert.Nil(t, r.os.LoadModule(context.Background(), "ghost"))
}

func TestLoadModuleWithoutFactoryFails(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.reg.RegisterManifest(testManifest("declarative", 0.9)))

	inst := r.os.LoadModule(context.Background(), "declarative")
	assert.Nil(t, inst)

	state, ok := r.os.InstanceState("declarative")
	require.True(t, ok)
	assert.Equal(t, StateError, state)

	failures := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{TopicLoadFailed}})
	require.Len(t, failures, 1)
}

func TestLoadModuleInitializeFailureIsCaught(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("broken", 0.9))
	fake.failInitialize = errors.New("chakra misconfigured")

	var inst soulmesh.Module
	assert.NotPanics(t, func() {
		inst = r.os.LoadModule(context.Background(), "broken")
	})
	assert.Nil(t, inst)

	state, _ := r.os.InstanceState("broken")
	assert.Equal(t, StateError, state)

	failures := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{TopicLoadFailed}})
	require.Len(t, failures, 1)
	assert.Equal(t, "chakra misconfigured", failures[0].Payload["error"])
}

func TestLoadModuleRecoversFromErrorStateWithFreshLoad(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("flaky", 0.9))
	fake.failActivate = errors.New("transient")

	assert.Nil(t, r.os.LoadModule(context.Background(), "flaky"))
	state, _ := r.os.InstanceState("flaky")
	assert.Equal(t, StateError, state)

	// Clear the fault; a fresh load re-creates the record and succeeds.
	fake.failActivate = nil
	inst := r.os.LoadModule(context.Background(), "flaky")
	require.NotNil(t, inst)
	state, _ = r.os.InstanceState("flaky")
	assert.Equal(t, StateActive, state)
}

func TestLoadModuleReactivatesDeactivatedInstance(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("journal", 0.9))

	require.NotNil(t, r.os.LoadModule(context.Background(), "journal"))
	require.True(t, r.os.deactivate(context.Background(), "journal", "test", StateDeactivated))

	inst := r.os.LoadModule(context.Background(), "journal")
	require.NotNil(t, inst)
	assert.Equal(t, 1, fake.initCalls, "reactivation must not re-initialize")
	assert.Equal(t, 2, fake.activateCalls)

	state, _ := r.os.InstanceState("journal")
	assert.Equal(t, StateActive, state)
}

func TestDeactivateFailureParksInstanceInError(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("journal", 0.9))
	require.NotNil(t, r.os.LoadModule(context.Background(), "journal"))

	fake.failDeactivate = errors.New("stuck")
	assert.False(t, r.os.deactivate(context.Background(), "journal", "test", StateDeactivated))

	state, _ := r.os.InstanceState("journal")
	assert.Equal(t, StateError, state)

	failures := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{TopicLifecycleFailed}})
	require.Len(t, failures, 1)
	assert.Equal(t, "deactivate", failures[0].Payload["operation"])
}

func TestToggleOffDisablesActiveInstance(t *testing.T) {
	r := newRuntime(t)
	r.addModule(t, testManifest("journal", 0.9))
	require.NotNil(t, r.os.LoadModule(context.Background(), "journal"))

	r.tog.Toggle(context.Background(), "journal", false)

	state, ok := r.os.InstanceState("journal")
	require.True(t, ok)
	assert.Equal(t, StateDisabled, state)

	changed := r.bus.QueryRecord(eventbus.RecordFilter{Types: []string{TopicToggleChanged}})
	require.Len(t, changed, 1)
	assert.Equal(t, "journal", changed[0].SourceID)
	assert.Equal(t, false, changed[0].Payload["enabled"])
}

func TestToggleReenableThenLoadReactivates(t *testing.T) {
	r := newRuntime(t)
	fake := r.addModule(t, testManifest("journal", 0.9))
	require.NotNil(t, r.os.LoadModule(context.Background(), "journal"))

	r.tog.Toggle(context.Background(), "journal", false)
	r.tog.Toggle(context.Background(), "journal", true)

	inst := r.os.LoadModule(context.Background(), "journal")
	require.NotNil(t, inst)
	assert.Equal(t, 1, fake.initCalls)
	state, _ := r.os.InstanceState("journal")
	assert.Equal(t, StateActive, state)
}

func TestStartIsNotReentrant(t *testing.T) {
	r := newRuntime(t)
	assert.ErrorIs(t, r.os.Start(context.Background()), soulmesh.ErrOrchestratorAlreadyStarted)
}

func TestStopDestroysResidentInstances(t *testing.T) {
	bus := eventbus.New(nil)
	reg := registry.New(nil)
	tog := toggles.New(nil, "test-user", nil)
	os := New(bus, reg, tog, nil)
	require.NoError(t, os.Start(context.Background()))

	m := testManifest("journal", 0.9)
	require.NoError(t, reg.RegisterManifest(m))
	fake := &fakeModule{manifest: m}
	reg.RegisterFactory(m.ID, func() soulmesh.Module { return fake })
	require.NotNil(t, os.LoadModule(context.Background(), "journal"))

	require.NoError(t, os.Stop(context.Background()))
	assert.True(t, fake.destroyed)
	_, exists := os.InstanceState("journal")
	assert.False(t, exists)
	assert.ErrorIs(t, os.Stop(context.Background()), soulmesh.ErrOrchestratorNotStarted)
}
