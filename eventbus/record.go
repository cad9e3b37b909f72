package eventbus

import (
	"sync"
	"time"
)

// RecordFilter restricts a Record query. Zero fields mean "no restriction".
type RecordFilter struct {
	// Types, when non-empty, limits results to events whose type is in the
	// set. Exact matches only; patterns are a subscription concern.
	Types []string

	// Since, when non-zero, excludes events before this instant (inclusive).
	Since time.Time

	// Until, when non-zero, excludes events after this instant (inclusive).
	Until time.Time
}

// RecordStats summarizes the Record and the bus delivery counters.
type RecordStats struct {
	// Retained is the number of events currently held in the Record.
	Retained int `json:"retained"`

	// Capacity is the Record bound.
	Capacity int `json:"capacity"`

	// Evicted counts events dropped from the Record to honor the bound.
	Evicted uint64 `json:"evicted"`

	// Published counts all Publish calls since construction.
	Published uint64 `json:"published"`

	// Delivered counts successful handler invocations.
	Delivered uint64 `json:"delivered"`

	// HandlerErrors counts recovered handler panics.
	HandlerErrors uint64 `json:"handlerErrors"`
}

// record is the bounded, append-only event log. Oldest entries are evicted
// once capacity is reached; publish order is preserved for queries.
type record struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	evicted  uint64
}

func newRecord(capacity int) *record {
	return &record{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

func (r *record) append(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) >= r.capacity {
		// Shift rather than reslice so the backing array doesn't pin
		// evicted events.
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
		r.evicted++
	}
	r.events = append(r.events, event)
}

func (r *record) query(filter RecordFilter) []Event {
	var typeSet map[string]struct{}
	if len(filter.Types) > 0 {
		typeSet = make(map[string]struct{}, len(filter.Types))
		for _, t := range filter.Types {
			typeSet[t] = struct{}{}
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Event, 0, len(r.events))
	for _, e := range r.events {
		if typeSet != nil {
			if _, ok := typeSet[e.Type]; !ok {
				continue
			}
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.Timestamp.After(filter.Until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (r *record) stats() RecordStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RecordStats{
		Retained: len(r.events),
		Capacity: r.capacity,
		Evicted:  r.evicted,
	}
}
