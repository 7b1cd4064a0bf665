package incident

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return &parsed
}

func TestMergeUnits_TimestampsNeverMoveBackward(t *testing.T) {
	early := ts(t, "2024-03-01T10:00:00Z")
	late := ts(t, "2024-03-01T10:30:00Z")

	existing := []UnitState{
		{UnitID: "E51", UnitType: "Engine", Enroute: late, Arrive: late, Clear: late},
	}
	incoming := []UnitState{
		{UnitID: "E51", UnitType: "Engine", Enroute: early, Arrive: early, Clear: early},
	}

	merged := MergeUnits(existing, incoming, nil)
	require.Len(t, merged, 1)

	assert.Equal(t, *late, *merged[0].Enroute, "enroute must not move backward")
	assert.Equal(t, *late, *merged[0].Arrive, "arrive must not move backward")
	assert.Equal(t, *late, *merged[0].Clear, "clear must not move backward")
}

func TestMergeUnits_LaterIncomingWins(t *testing.T) {
	early := ts(t, "2024-03-01T10:00:00Z")
	late := ts(t, "2024-03-01T10:30:00Z")

	existing := []UnitState{
		{UnitID: "E51", UnitType: "Engine", Enroute: early},
	}
	incoming := []UnitState{
		{UnitID: "E51", UnitType: "Engine", Enroute: late, Arrive: late},
	}

	merged := MergeUnits(existing, incoming, nil)
	require.Len(t, merged, 1)

	assert.Equal(t, *late, *merged[0].Enroute)
	assert.Equal(t, *late, *merged[0].Arrive, "nil existing field takes incoming value")
	assert.Nil(t, merged[0].Clear)
}

func TestMergeUnits_NilIncomingKeepsExisting(t *testing.T) {
	arrive := ts(t, "2024-03-01T10:15:00Z")

	existing := []UnitState{
		{UnitID: "R5", UnitType: "Rescue", Arrive: arrive},
	}
	incoming := []UnitState{
		{UnitID: "R5", UnitType: "Rescue"},
	}

	merged := MergeUnits(existing, incoming, nil)
	require.Len(t, merged, 1)
	assert.Equal(t, *arrive, *merged[0].Arrive)
}

func TestMergeUnits_NewUnitsAppendedInOrder(t *testing.T) {
	existing := []UnitState{
		{UnitID: "E51", UnitType: "Engine"},
		{UnitID: "T5", UnitType: "Truck"},
	}
	incoming := []UnitState{
		{UnitID: "M17", UnitType: "Medic"},
		{UnitID: "E51", UnitType: "Engine"},
		{UnitID: "R5", UnitType: "Rescue"},
	}

	merged := MergeUnits(existing, incoming, nil)

	var order []string
	for _, u := range merged {
		order = append(order, u.UnitID)
	}
	assert.Equal(t, []string{"E51", "T5", "M17", "R5"}, order)
}

func TestMergeUnits_ExcludedTypeNotAdded(t *testing.T) {
	excluded := map[string]bool{"station": true}

	existing := []UnitState{
		{UnitID: "E51", UnitType: "Engine"},
	}
	incoming := []UnitState{
		{UnitID: "STA5", UnitType: "Station"},
		{UnitID: "R5", UnitType: "Rescue"},
	}

	merged := MergeUnits(existing, incoming, excluded)
	require.Len(t, merged, 2)
	assert.Equal(t, "E51", merged[0].UnitID)
	assert.Equal(t, "R5", merged[1].UnitID)
}

func TestMergeUnits_DoesNotMutateInputs(t *testing.T) {
	early := ts(t, "2024-03-01T10:00:00Z")
	late := ts(t, "2024-03-01T10:30:00Z")

	existing := []UnitState{{UnitID: "E51", UnitType: "Engine", Enroute: early}}
	incoming := []UnitState{{UnitID: "E51", UnitType: "Engine", Enroute: late}}

	_ = MergeUnits(existing, incoming, nil)

	assert.Equal(t, *early, *existing[0].Enroute, "existing slice must stay untouched")
}

func TestMergeUnits_Idempotent(t *testing.T) {
	enroute := ts(t, "2024-03-01T10:00:00Z")

	existing := []UnitState{{UnitID: "E51", UnitType: "Engine", Enroute: enroute}}
	incoming := []UnitState{
		{UnitID: "E51", UnitType: "Engine", Enroute: enroute},
		{UnitID: "R5", UnitType: "Rescue"},
	}

	once := MergeUnits(existing, incoming, nil)
	twice := MergeUnits(once, incoming, nil)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("repeated merge changed result (-once +twice):\n%s", diff)
	}
}

func TestFilterActive(t *testing.T) {
	clear := ts(t, "2024-03-01T11:00:00Z")
	excluded := map[string]bool{"station": true}

	units := []UnitState{
		{UnitID: "E51", UnitType: "Engine"},
		{UnitID: "R5", UnitType: "Rescue", Clear: clear},
		{UnitID: "STA5", UnitType: "Station"},
		{UnitID: "T5", UnitType: "Truck"},
	}

	active := FilterActive(units, excluded)
	require.Len(t, active, 2)
	assert.Equal(t, "E51", active[0].UnitID)
	assert.Equal(t, "T5", active[1].UnitID)
}

func TestUnitState_Active(t *testing.T) {
	clear := ts(t, "2024-03-01T11:00:00Z")

	assert.True(t, UnitState{UnitID: "E51"}.Active())
	assert.False(t, UnitState{UnitID: "E51", Clear: clear}.Active())
}

func TestGroup_HasCall(t *testing.T) {
	g := &Group{CallNumbers: []string{"100", "101"}}
	assert.True(t, g.HasCall("100"))
	assert.False(t, g.HasCall("102"))
}
