// Package views exposes memoized, read-only selectors over the event store
// and the run aggregator for UI consumers. Selectors are pure reads and safe
// to call on every render or poll cycle; Select returns a referentially
// stable slice so consumers relying on reference equality do not refresh on
// unrelated ingests.
package views

import (
	"sync"

	"github.com/flowdeck/pulse/pkg/events"
	"github.com/flowdeck/pulse/pkg/progress"
	"github.com/flowdeck/pulse/pkg/store"
)

type memoEntry struct {
	gen    uint64
	length int
	slice  []events.Event
}

// Views is the subscriber-facing selector layer.
type Views struct {
	store *store.Store
	agg   *progress.Aggregator

	mu   sync.Mutex
	memo map[events.EventType]memoEntry
}

func New(s *store.Store, agg *progress.Aggregator) *Views {
	return &Views{
		store: s,
		agg:   agg,
		memo:  make(map[events.EventType]memoEntry),
	}
}

// Select returns all events of the given type in arrival order. The result
// is recomputed only when that type's index actually grew or the store was
// rehydrated; otherwise the previously returned slice comes back unchanged.
// Callers must not mutate it.
func (v *Views) Select(t events.EventType) []events.Event {
	// Generation reads before the index: if a rebuild lands in between, the
	// fresh slice is memoized under the old generation and the next call
	// recomputes, instead of a stale slice surviving under the new one.
	gen := v.store.Generation()
	current := v.store.QueryByType(t)

	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.memo[t]
	if ok && entry.gen == gen && entry.length == len(current) {
		return entry.slice
	}

	v.memo[t] = memoEntry{gen: gen, length: len(current), slice: current}

	return current
}

// SelectLatest returns the most recently appended event of the given type.
func (v *Views) SelectLatest(t events.EventType) (events.Event, bool) {
	return v.store.Latest(t)
}

// SelectRun returns the current RunState snapshot for a run id, false if the
// run has not been seen (or was discarded and not yet rehydrated).
func (v *Views) SelectRun(runID string) (progress.RunState, bool) {
	return v.agg.Run(runID)
}

// SelectRuns returns snapshots of every tracked run.
func (v *Views) SelectRuns() []progress.RunState {
	return v.agg.Runs()
}
