package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulmesh/soulmesh"
	"github.com/soulmesh/soulmesh/eventbus"
)

func TestStateSnapshot(t *testing.T) {
	r := newRuntime(t)
	telos := &soulmesh.Telos{ID: "grounding"}
	require.NoError(t, r.reg.RegisterTelos(telos))
	r.os.SetTelos(context.Background(), telos)
	r.os.SetUserState(context.Background(), &soulmesh.UserState{ID: "evening", Context: "winding down"})

	active := testManifest("active", 0.9)
	active.ResourceFootprintMB = 40
	parked := testManifest("parked", 0.9)
	parked.ResourceFootprintMB = 25
	r.addModule(t, active)
	r.addModule(t, parked)
	require.NotNil(t, r.os.LoadModule(context.Background(), "active"))
	require.NotNil(t, r.os.LoadModule(context.Background(), "parked"))
	require.True(t, r.os.deactivate(context.Background(), "parked", "test", StateDeactivated))

	state := r.os.State()
	assert.Equal(t, "grounding", state.CurrentTelos.ID)
	assert.Equal(t, "evening", state.UserState.ID)
	assert.Equal(t, 1, state.ModuleCounts[StateActive])
	assert.Equal(t, 1, state.ModuleCounts[StateDeactivated])
	assert.InDelta(t, 40, state.ActiveFootprintMB, 1e-9)
	assert.InDelta(t, 65, state.LoadedFootprintMB, 1e-9)
	assert.Equal(t, eventbus.DefaultRecordCapacity, state.RecordStats.Capacity)
	assert.NotZero(t, state.RecordStats.Published)
}

func TestStateEmptyRuntime(t *testing.T) {
	r := newRuntime(t)

	state := r.os.State()
	assert.Nil(t, state.CurrentTelos)
	assert.Nil(t, state.UserState)
	assert.Empty(t, state.ModuleCounts)
	assert.Zero(t, state.ActiveFootprintMB)
	assert.Zero(t, state.LoadedFootprintMB)
}

func TestErrorSummaryThresholds(t *testing.T) {
	r := newRuntime(t)
	perModule := map[string]int{"stable": 2, "degraded": 5, "critical": 12}
	for id, n := range perModule {
		for i := 0; i < n; i++ {
			r.bus.Publish(eventbus.NewEvent("module:error:runtime", id, nil))
		}
	}
	// Errors without a source id stay out of the summary.
	r.bus.Publish(eventbus.NewEvent("module:error:runtime", "", nil))

	summary := r.os.ErrorSummary(1)
	require.Len(t, summary, 3)
	assert.Equal(t, ModuleSummary{Count: 2, Status: ErrorStatusStable}, summary["stable"])
	assert.Equal(t, ModuleSummary{Count: 5, Status: ErrorStatusDegraded}, summary["degraded"])
	assert.Equal(t, ModuleSummary{Count: 12, Status: ErrorStatusCritical}, summary["critical"])
}

func TestErrorSummaryIgnoresNonErrorEvents(t *testing.T) {
	r := newRuntime(t)
	r.bus.Publish(eventbus.NewEvent("module:heartbeat", "journal", nil))
	r.bus.Publish(eventbus.NewEvent("module:errata", "journal", nil))

	assert.Empty(t, r.os.ErrorSummary(1))
}

func TestActivitySummaryThresholds(t *testing.T) {
	r := newRuntime(t)
	require.NoError(t, r.reg.RegisterManifest(testManifest("busy", 0.9)))
	require.NoError(t, r.reg.RegisterManifest(testManifest("dozing", 0.9)))
	require.NoError(t, r.reg.RegisterManifest(testManifest("quiet", 0.9)))

	for id, n := range map[string]int{"busy": 60, "dozing": 20, "quiet": 3} {
		for i := 0; i < n; i++ {
			r.bus.Publish(eventbus.NewEvent(fmt.Sprintf("module:tick:%d", i), id, nil))
		}
	}
	// Unknown sources never show up, however chatty.
	for i := 0; i < 100; i++ {
		r.bus.Publish(eventbus.NewEvent("module:tick", "stranger", nil))
	}

	summary := r.os.ActivitySummary(1)
	require.Len(t, summary, 3)
	assert.Equal(t, ModuleSummary{Count: 60, Status: ActivityStatusActive}, summary["busy"])
	assert.Equal(t, ModuleSummary{Count: 20, Status: ActivityStatusDormant}, summary["dozing"])
	assert.Equal(t, ModuleSummary{Count: 3, Status: ActivityStatusIdle}, summary["quiet"])
}
