package incident

import (
	"strings"
	"time"
)

// MergeUnits combines an incoming unit list into an existing one, keyed by
// unit identifier. For a unit present in both lists each timestamp field is
// replaced by the incoming value only if the incoming value is set and either
// the existing value is unset or the incoming one is strictly later, so
// timestamps never move backward. Units present only in the incoming list are
// appended unless their type is in excludedTypes (lower-cased type names).
// Result order is insertion order: existing entries first, then new
// additions. Pure function, safe for concurrent use on independent inputs.
func MergeUnits(existing, incoming []UnitState, excludedTypes map[string]bool) []UnitState {
	merged := make([]UnitState, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, u := range merged {
		index[u.UnitID] = i
	}

	for _, nu := range incoming {
		i, ok := index[nu.UnitID]
		if !ok {
			if excludedTypes[strings.ToLower(nu.UnitType)] {
				continue
			}
			index[nu.UnitID] = len(merged)
			merged = append(merged, nu)
			continue
		}

		cur := &merged[i]
		cur.Enroute = laterOf(cur.Enroute, nu.Enroute)
		cur.Arrive = laterOf(cur.Arrive, nu.Arrive)
		cur.Clear = laterOf(cur.Clear, nu.Clear)
	}

	return merged
}

// FilterActive returns the units that are still displayed: clear timestamp
// unset and type not excluded. Order is preserved.
func FilterActive(units []UnitState, excludedTypes map[string]bool) []UnitState {
	active := make([]UnitState, 0, len(units))
	for _, u := range units {
		if !u.Active() {
			continue
		}
		if excludedTypes[strings.ToLower(u.UnitType)] {
			continue
		}
		active = append(active, u)
	}
	return active
}

func laterOf(existing, incoming *time.Time) *time.Time {
	if incoming == nil {
		return existing
	}
	if existing == nil || incoming.After(*existing) {
		return incoming
	}
	return existing
}
