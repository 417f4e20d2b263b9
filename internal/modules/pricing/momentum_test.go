package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMomentumTrackerRecordTransitions(t *testing.T) {
	tracker := NewMomentumTracker()

	st := tracker.Record(1, 0.02)
	assert.Equal(t, DirectionUp, st.Direction)
	assert.Equal(t, 1, st.ConsecutiveCount)
	assert.Equal(t, 0.02, st.LastChange)

	st = tracker.Record(1, 0.01)
	assert.Equal(t, 2, st.ConsecutiveCount, "same direction extends the streak")

	st = tracker.Record(1, -0.03)
	assert.Equal(t, DirectionDown, st.Direction)
	assert.Equal(t, 1, st.ConsecutiveCount, "a reversal starts a new streak")
	assert.Equal(t, -0.03, st.LastChange)

	st = tracker.Record(1, 0)
	assert.Equal(t, DirectionNeutral, st.Direction)
	assert.Zero(t, st.ConsecutiveCount, "a flat tick resets the streak")
}

func TestMomentumTrackerGetUnknownCompany(t *testing.T) {
	tracker := NewMomentumTracker()
	st := tracker.Get(999)
	assert.Equal(t, MomentumState{}, st)
}

func TestMomentumTrackerForget(t *testing.T) {
	tracker := NewMomentumTracker()
	tracker.Record(1, 0.01)
	tracker.Record(2, -0.01)
	require.Equal(t, 2, tracker.Len())

	tracker.Forget(1)
	assert.Equal(t, 1, tracker.Len())
	assert.Equal(t, MomentumState{}, tracker.Get(1))
}

func TestMomentumTrackerSnapshotRoundtrip(t *testing.T) {
	tracker := NewMomentumTracker()
	tracker.Record(1, 0.02)
	tracker.Record(1, 0.015)
	tracker.Record(2, -0.01)

	payload, err := tracker.Snapshot()
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	restored := NewMomentumTracker()
	require.NoError(t, restored.Restore(payload))

	assert.Equal(t, tracker.Len(), restored.Len())
	assert.Equal(t, tracker.Get(1), restored.Get(1))
	assert.Equal(t, tracker.Get(2), restored.Get(2))
}

func TestMomentumTrackerRestoreGarbage(t *testing.T) {
	tracker := NewMomentumTracker()
	assert.Error(t, tracker.Restore([]byte("not msgpack")))
}
