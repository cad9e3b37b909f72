package eventbus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRecordPreservesPublishOrder(t *testing.T) {
	bus := New(nil)
	for i := 0; i < 5; i++ {
		bus.Publish(NewEvent(fmt.Sprintf("seq:%d", i), "src", nil))
	}

	got := bus.QueryRecord(RecordFilter{})
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, fmt.Sprintf("seq:%d", i), e.Type)
	}
}

func TestQueryRecordFiltersByTypeSet(t *testing.T) {
	bus := New(nil)
	bus.Publish(NewEvent("module:error:crash", "m1", nil))
	bus.Publish(NewEvent("module:lifecycle:activated", "m1", nil))
	bus.Publish(NewEvent("module:error:crash", "m2", nil))

	got := bus.QueryRecord(RecordFilter{Types: []string{"module:error:crash"}})
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].SourceID)
	assert.Equal(t, "m2", got[1].SourceID)
}

func TestQueryRecordFiltersByTimeRange(t *testing.T) {
	bus := New(nil)
	base := time.Now()

	old := Event{Type: "tick", SourceID: "src", Timestamp: base.Add(-2 * time.Hour)}
	mid := Event{Type: "tick", SourceID: "src", Timestamp: base.Add(-30 * time.Minute)}
	fresh := Event{Type: "tick", SourceID: "src", Timestamp: base}
	bus.Publish(old)
	bus.Publish(mid)
	bus.Publish(fresh)

	got := bus.QueryRecord(RecordFilter{Since: base.Add(-time.Hour), Until: base.Add(-time.Minute)})
	require.Len(t, got, 1)
	assert.Equal(t, mid.Timestamp.Unix(), got[0].Timestamp.Unix())
}

func TestRecordEvictsOldestAtCapacity(t *testing.T) {
	bus := New(nil, WithRecordCapacity(3))
	for i := 0; i < 5; i++ {
		bus.Publish(NewEvent(fmt.Sprintf("seq:%d", i), "src", nil))
	}

	got := bus.QueryRecord(RecordFilter{})
	require.Len(t, got, 3)
	assert.Equal(t, "seq:2", got[0].Type)
	assert.Equal(t, "seq:4", got[2].Type)

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.Evicted)
	assert.Equal(t, 3, stats.Capacity)
}

func TestQueryRecordReturnsSnapshot(t *testing.T) {
	bus := New(nil)
	bus.Publish(NewEvent("one", "src", nil))

	snapshot := bus.QueryRecord(RecordFilter{})
	bus.Publish(NewEvent("two", "src", nil))

	// The earlier snapshot is unaffected by later publishes.
	assert.Len(t, snapshot, 1)
	assert.Len(t, bus.QueryRecord(RecordFilter{}), 2)
}

func TestToCloudEventCarriesTopicSourceAndLabels(t *testing.T) {
	e := Event{
		Type:          "module:lifecycle:activated",
		SourceID:      "journal",
		Timestamp:     time.Now(),
		Payload:       map[string]any{"telos": "grounding"},
		Metadata:      map[string]any{"Severity": "info"},
		EssenceLabels: []string{"heart", "stillness"},
	}

	ce, err := ToCloudEvent(e)
	require.NoError(t, err)
	assert.Equal(t, "module:lifecycle:activated", ce.Type())
	assert.Equal(t, "journal", ce.Source())
	assert.Equal(t, "heart,stillness", ce.Extensions()["essencelabels"])
	assert.Equal(t, "info", ce.Extensions()["severity"])
	assert.NotEmpty(t, ce.ID())
}
