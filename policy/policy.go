// Package policy implements the stateless keep/drop decision for incident
// snapshots: closed calls, excluded units and call types, and agency-type
// screening driven by static configuration tables.
package policy

import (
	"path"
	"strings"

	"github.com/c360/incidentwatch/incident"
)

// Agency types produced by the jurisdiction mapping table.
const (
	AgencyFire   = "Fire"
	AgencyEMS    = "EMS"
	AgencyPolice = "Police"
)

// Dispatch categories recognized during the unit scan.
var (
	fireLikeTypes = map[string]bool{
		"engine": true, "rescue": true, "tanker": true, "quint": true,
		"truck": true, "lo": true, "rit": true, "fire police": true,
		"traffic": true, "fire tone": true, "chief": true,
	}
	emsLikeTypes = map[string]bool{
		"micu": true, "ambulance": true, "intermediate": true,
		"medic": true, "ems tone": true, "ems page": true,
	}
	policeTypes = map[string]bool{
		"police officer": true,
	}
)

// DropReason identifies why a snapshot was filtered out.
type DropReason int

const (
	// DropNone means the snapshot was kept.
	DropNone DropReason = iota
	// DropClosedAtSource means the export carries a close timestamp.
	DropClosedAtSource
	// DropExcludedPrimaryUnitType means the primary unit's type is excluded.
	DropExcludedPrimaryUnitType
	// DropExcludedUnitPresent means a unit identifier matched an exclusion glob.
	DropExcludedUnitPresent
	// DropAgencyIsEMS means the primary unit's jurisdiction maps to EMS.
	DropAgencyIsEMS
	// DropAgencyIsPoliceNoFireUnits means a police call with no fire-like units.
	DropAgencyIsPoliceNoFireUnits
	// DropExcludedCallType means the call type text is excluded.
	DropExcludedCallType
)

// String returns the string representation of a DropReason
func (r DropReason) String() string {
	switch r {
	case DropNone:
		return "none"
	case DropClosedAtSource:
		return "closed_at_source"
	case DropExcludedPrimaryUnitType:
		return "excluded_primary_unit_type"
	case DropExcludedUnitPresent:
		return "excluded_unit_present"
	case DropAgencyIsEMS:
		return "agency_is_ems"
	case DropAgencyIsPoliceNoFireUnits:
		return "agency_is_police_no_fire_units"
	case DropExcludedCallType:
		return "excluded_call_type"
	default:
		return "unknown"
	}
}

// Decision is the outcome of classifying one snapshot.
type Decision struct {
	Keep   bool
	Reason DropReason

	// AgencyType is the primary unit's resolved agency type, empty when no
	// primary unit exists or its jurisdiction is unmapped.
	AgencyType string

	// Dispatch category flags from the unit scan, kept for logging. An
	// EMS- or Police-mapped jurisdiction forces the matching flag true.
	FireDispatched   bool
	EMSDispatched    bool
	PoliceDispatched bool
}

// Tables holds the static policy configuration, loaded once at startup.
type Tables struct {
	// ExcludedUnitPatterns are case-insensitive glob patterns matched
	// against unit identifiers.
	ExcludedUnitPatterns []string

	// ExcludedUnitTypes holds lower-cased unit type names. Used for the
	// primary-unit check here and for unit filtering in extraction and
	// aggregation.
	ExcludedUnitTypes map[string]bool

	// ExcludedCallTypes holds lower-cased call type texts.
	ExcludedCallTypes map[string]bool

	// JurisdictionAgency maps a unit's jurisdiction to an agency type.
	JurisdictionAgency map[string]string
}

// IsExcludedUnit reports whether a unit identifier matches any exclusion
// glob pattern, compared case-insensitively.
func (t Tables) IsExcludedUnit(unitID string) bool {
	id := strings.ToLower(unitID)
	for _, pattern := range t.ExcludedUnitPatterns {
		if ok, err := path.Match(strings.ToLower(pattern), id); err == nil && ok {
			return true
		}
	}
	return false
}

// Classify decides whether a snapshot is displayed. The checks run in a
// fixed precedence order and the first match wins: a closed call is dropped
// regardless of unit composition, and primary-unit-type exclusion takes
// precedence over general unit exclusion and call-type exclusion.
func (t Tables) Classify(snap *incident.Snapshot) Decision {
	if snap.Closed() {
		return Decision{Reason: DropClosedAtSource}
	}

	var fireDispatched, emsDispatched, policeDispatched, hasExcludedUnit bool
	for _, unit := range snap.Units {
		unitType := strings.ToLower(unit.UnitType)
		switch {
		case fireLikeTypes[unitType]:
			fireDispatched = true
		case emsLikeTypes[unitType]:
			emsDispatched = true
		case policeTypes[unitType]:
			policeDispatched = true
		}

		if t.IsExcludedUnit(unit.UnitID) {
			hasExcludedUnit = true
		}
	}

	var agencyType string
	if snap.PrimaryUnit != nil {
		agencyType = t.JurisdictionAgency[snap.PrimaryUnit.Jurisdiction]
		switch agencyType {
		case AgencyEMS:
			emsDispatched = true
		case AgencyPolice:
			policeDispatched = true
		}
	}

	decision := Decision{
		AgencyType:       agencyType,
		FireDispatched:   fireDispatched,
		EMSDispatched:    emsDispatched,
		PoliceDispatched: policeDispatched,
	}

	switch {
	case snap.PrimaryUnit != nil && t.ExcludedUnitTypes[strings.ToLower(snap.PrimaryUnit.UnitType)]:
		decision.Reason = DropExcludedPrimaryUnitType
	case hasExcludedUnit:
		decision.Reason = DropExcludedUnitPresent
	case agencyType == AgencyEMS:
		decision.Reason = DropAgencyIsEMS
	case agencyType == AgencyPolice && !fireDispatched:
		decision.Reason = DropAgencyIsPoliceNoFireUnits
	case t.ExcludedCallTypes[strings.ToLower(snap.CallType)]:
		decision.Reason = DropExcludedCallType
	default:
		decision.Keep = true
	}

	return decision
}
