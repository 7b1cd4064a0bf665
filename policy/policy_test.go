package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/c360/incidentwatch/incident"
)

func testTables() Tables {
	return Tables{
		ExcludedUnitPatterns: []string{"sta*", "admin?"},
		ExcludedUnitTypes:    map[string]bool{"station": true, "fire tone": true},
		ExcludedCallTypes:    map[string]bool{"transfer": true},
		JurisdictionAgency: map[string]string{
			"Medic 9":    AgencyEMS,
			"Precinct 3": AgencyPolice,
			"Station 51": AgencyFire,
		},
	}
}

func fireSnapshot() *incident.Snapshot {
	primary := incident.UnitState{
		UnitID: "E51", UnitType: "Engine", Jurisdiction: "Station 51", Primary: true,
	}
	return &incident.Snapshot{
		CallNumber:  "12345",
		CallType:    "House Fire",
		Units:       []incident.UnitState{primary},
		PrimaryUnit: &primary,
	}
}

func TestClassify_Keep(t *testing.T) {
	d := testTables().Classify(fireSnapshot())
	assert.True(t, d.Keep)
	assert.Equal(t, DropNone, d.Reason)
	assert.Equal(t, AgencyFire, d.AgencyType)
	assert.True(t, d.FireDispatched)
}

func TestClassify_ClosedAlwaysWins(t *testing.T) {
	// A close timestamp drops the call regardless of unit composition.
	snap := fireSnapshot()
	snap.CloseText = "2024-03-01 15:00:00-0500"

	d := testTables().Classify(snap)
	assert.False(t, d.Keep)
	assert.Equal(t, DropClosedAtSource, d.Reason)
}

func TestClassify_ExcludedPrimaryUnitType(t *testing.T) {
	primary := incident.UnitState{
		UnitID: "TONE5", UnitType: "Fire Tone", Jurisdiction: "Station 51", Primary: true,
	}
	snap := &incident.Snapshot{
		CallNumber:  "100",
		CallType:    "House Fire",
		Units:       []incident.UnitState{primary},
		PrimaryUnit: &primary,
	}

	d := testTables().Classify(snap)
	assert.Equal(t, DropExcludedPrimaryUnitType, d.Reason)
}

func TestClassify_PrimaryTypeBeatsCallType(t *testing.T) {
	// Both the primary unit type and the call type are excluded; the
	// primary-unit reason must win.
	primary := incident.UnitState{
		UnitID: "TONE5", UnitType: "Fire Tone", Primary: true,
	}
	snap := &incident.Snapshot{
		CallNumber:  "100",
		CallType:    "Transfer",
		Units:       []incident.UnitState{primary},
		PrimaryUnit: &primary,
	}

	d := testTables().Classify(snap)
	assert.Equal(t, DropExcludedPrimaryUnitType, d.Reason)
}

func TestClassify_ExcludedUnitGlob(t *testing.T) {
	snap := fireSnapshot()
	snap.Units = append(snap.Units, incident.UnitState{UnitID: "STA51", UnitType: "Engine"})

	d := testTables().Classify(snap)
	assert.Equal(t, DropExcludedUnitPresent, d.Reason, "glob match is case-insensitive")
}

func TestClassify_AgencyIsEMS(t *testing.T) {
	primary := incident.UnitState{
		UnitID: "M9", UnitType: "Medic", Jurisdiction: "Medic 9", Primary: true,
	}
	snap := &incident.Snapshot{
		CallNumber:  "200",
		CallType:    "Fall",
		Units:       []incident.UnitState{primary},
		PrimaryUnit: &primary,
	}

	d := testTables().Classify(snap)
	assert.Equal(t, DropAgencyIsEMS, d.Reason)
	assert.True(t, d.EMSDispatched, "EMS-mapped jurisdiction forces the flag")
}

func TestClassify_PoliceWithoutFireUnits(t *testing.T) {
	primary := incident.UnitState{
		UnitID: "P3", UnitType: "Police Officer", Jurisdiction: "Precinct 3", Primary: true,
	}
	snap := &incident.Snapshot{
		CallNumber:  "300",
		CallType:    "Disturbance",
		Units:       []incident.UnitState{primary},
		PrimaryUnit: &primary,
	}

	d := testTables().Classify(snap)
	assert.Equal(t, DropAgencyIsPoliceNoFireUnits, d.Reason)
}

func TestClassify_PoliceWithFireUnitsKept(t *testing.T) {
	primary := incident.UnitState{
		UnitID: "P3", UnitType: "Police Officer", Jurisdiction: "Precinct 3", Primary: true,
	}
	snap := &incident.Snapshot{
		CallNumber: "301",
		CallType:   "Vehicle Fire",
		Units: []incident.UnitState{
			primary,
			{UnitID: "E51", UnitType: "Engine"},
		},
		PrimaryUnit: &primary,
	}

	d := testTables().Classify(snap)
	assert.True(t, d.Keep)
	assert.True(t, d.FireDispatched)
	assert.True(t, d.PoliceDispatched)
}

func TestClassify_ExcludedCallType(t *testing.T) {
	snap := fireSnapshot()
	snap.CallType = "TRANSFER"

	d := testTables().Classify(snap)
	assert.Equal(t, DropExcludedCallType, d.Reason, "call type comparison is case-folded")
}

func TestClassify_NoPrimaryUnit(t *testing.T) {
	snap := &incident.Snapshot{
		CallNumber: "400",
		CallType:   "Brush Fire",
		Units:      []incident.UnitState{{UnitID: "E51", UnitType: "Engine"}},
	}

	d := testTables().Classify(snap)
	assert.True(t, d.Keep)
	assert.Empty(t, d.AgencyType)
}

func TestIsExcludedUnit(t *testing.T) {
	tables := testTables()

	assert.True(t, tables.IsExcludedUnit("STA51"))
	assert.True(t, tables.IsExcludedUnit("sta5"))
	assert.True(t, tables.IsExcludedUnit("ADMIN1"))
	assert.False(t, tables.IsExcludedUnit("E51"))
	assert.False(t, tables.IsExcludedUnit("ADMIN12"), "? matches exactly one character")
}

func TestDropReason_String(t *testing.T) {
	tests := []struct {
		reason DropReason
		want   string
	}{
		{DropNone, "none"},
		{DropClosedAtSource, "closed_at_source"},
		{DropExcludedPrimaryUnitType, "excluded_primary_unit_type"},
		{DropExcludedUnitPresent, "excluded_unit_present"},
		{DropAgencyIsEMS, "agency_is_ems"},
		{DropAgencyIsPoliceNoFireUnits, "agency_is_police_no_fire_units"},
		{DropExcludedCallType, "excluded_call_type"},
		{DropReason(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.reason.String())
	}
}

func TestClassify_ClosedCallWithClearedUnits(t *testing.T) {
	clear := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	snap := fireSnapshot()
	snap.CloseText = "2024-03-01 15:00:00-0500"
	snap.Units[0].Clear = &clear

	d := testTables().Classify(snap)
	assert.Equal(t, DropClosedAtSource, d.Reason)
}
