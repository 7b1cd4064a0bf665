// Package incident defines the data model for CAD call exports and the unit
// merge engine that combines per-file unit snapshots into a single unit list.
package incident

import "time"

// UnitState is one unit's participation in a call. The three timestamps are
// nil until the dispatch system reports them; a unit with a non-nil Clear is
// no longer active on the call.
type UnitState struct {
	UnitID       string     `json:"unit_id"`
	UnitType     string     `json:"unit_type"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	Enroute      *time.Time `json:"enroute_time,omitempty"`
	Arrive       *time.Time `json:"arrive_time,omitempty"`
	Clear        *time.Time `json:"clear_time,omitempty"`
	Primary      bool       `json:"is_primary,omitempty"`
}

// Active reports whether the unit is still assigned to the call.
func (u UnitState) Active() bool {
	return u.Clear == nil
}

// AgencyContext is one agency's view of a call.
type AgencyContext struct {
	AgencyType string `json:"agency_type"`
	CallType   string `json:"call_type"`
	Status     string `json:"status"`
}

// Snapshot is the parsed representation of one call export file. It is built
// fresh on every parse, never mutated, and discarded after one aggregation
// pass.
type Snapshot struct {
	// CallNumber is the only required field; a file without one is unusable.
	CallNumber string

	// CloseText holds the raw CloseDateTime element. Its presence marks the
	// call closed at the source regardless of whether it parses.
	CloseText string

	Location  string
	Latitude  string
	Longitude string

	// CallType is the primary agency context's call type.
	CallType string

	CreateTime *time.Time
	Contexts   []AgencyContext
	Units      []UnitState

	// PrimaryUnit points at a copy of the unit flagged IsPrimary, nil when
	// no unit carries the flag.
	PrimaryUnit *UnitState
}

// Closed reports whether the source has closed the call.
func (s *Snapshot) Closed() bool {
	return s.CloseText != ""
}

// Group is the location-keyed aggregate of one or more calls displayed as a
// single incident. Groups are rebuilt from scratch on every aggregation pass.
type Group struct {
	// CallNumbers are the contributing call numbers in insertion order.
	CallNumbers []string `json:"call_numbers"`

	// DisplayID is CallNumbers joined with ", ".
	DisplayID string `json:"call_number"`

	// Location is the normalized grouping key.
	Location string `json:"-"`

	// DisplayLocation is the address with number-like tokens stripped and a
	// LAT:/LON: suffix when coordinates were present.
	DisplayLocation string `json:"location"`

	// CreateTime is the earliest known creation time, formatted for display.
	CreateTime string `json:"create_date_time"`

	// CallType is the comma-joined union of distinct call type texts.
	CallType string `json:"nature_of_call"`

	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`

	Units []UnitState `json:"unit_details"`
}

// HasCall reports whether the group already contains the call number.
func (g *Group) HasCall(callNumber string) bool {
	for _, cn := range g.CallNumbers {
		if cn == callNumber {
			return true
		}
	}
	return false
}
