package aggregate

import (
	"sync"
	"time"
)

// Registry maps call numbers to the time they were first displayed. It is
// the only state that survives across aggregation passes and is shared by
// the processing loop, the retention sweeper, and the web read path.
type Registry struct {
	mu             sync.Mutex
	firstDisplayed map[string]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{firstDisplayed: make(map[string]time.Time)}
}

// MarkDisplayed records the first-displayed time for a call number if it has
// none yet. It returns true when a new entry was created.
func (r *Registry) MarkDisplayed(callNumber string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.firstDisplayed[callNumber]; ok {
		return false
	}
	r.firstDisplayed[callNumber] = now
	return true
}

// FirstDisplayed returns the recorded first-displayed time for a call number.
func (r *Registry) FirstDisplayed(callNumber string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.firstDisplayed[callNumber]
	return t, ok
}

// Remove deletes the entry for a call number, returning true if one existed.
func (r *Registry) Remove(callNumber string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.firstDisplayed[callNumber]; !ok {
		return false
	}
	delete(r.firstDisplayed, callNumber)
	return true
}

// ExpiredBefore returns the call numbers whose first-displayed time is
// strictly before the cutoff. Entries are not removed.
func (r *Registry) ExpiredBefore(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for callNumber, displayed := range r.firstDisplayed {
		if displayed.Before(cutoff) {
			expired = append(expired, callNumber)
		}
	}
	return expired
}

// Len returns the number of tracked call numbers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.firstDisplayed)
}
