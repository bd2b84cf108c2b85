// Package store provides the in-memory event store: a chronological log of
// every ingested push event plus a per-type index, with synchronous change
// notification for derived components.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flowdeck/pulse/pkg/events"
)

// Subscriber receives the batch of newly appended events after each ingest.
// Batches carry only new events so downstream components never rescan the
// whole log.
type Subscriber func(batch []events.Event)

// Store is the single source of truth for inbound events. One writer at a
// time; events are immutable once appended.
type Store struct {
	mu     sync.RWMutex
	log    []events.Event
	byType map[events.EventType][]events.Event
	seq    uint64
	gen    uint64

	subMu  sync.Mutex
	subs   map[int]Subscriber
	nextID int

	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	return &Store{
		byType: make(map[events.EventType][]events.Event),
		subs:   make(map[int]Subscriber),
		logger: logger.With("module", "store"),
	}
}

// Ingest appends one event to the log and the type index. It never fails:
// events with unusable type tags land in the catch-all bucket and duplicates
// are appended as-is (the transport is at-least-once; derived state is
// duplicate-safe).
func (s *Store) Ingest(evt events.Event) {
	s.IngestBatch([]events.Event{evt})
}

// IngestBatch appends several events under one lock acquisition and a single
// subscriber notification.
func (s *Store) IngestBatch(batch []events.Event) {
	if len(batch) == 0 {
		return
	}

	s.mu.Lock()
	appended := make([]events.Event, 0, len(batch))

	for _, evt := range batch {
		appended = append(appended, s.append(evt))
	}

	s.mu.Unlock()

	s.notify(appended)
}

// append assigns identity and indexes one event. Caller holds the write lock.
func (s *Store) append(evt events.Event) events.Event {
	if evt.Type == "" {
		evt.Type = events.UnclassifiedEvent
	}

	s.seq++
	evt.Seq = s.seq

	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}

	s.log = append(s.log, evt)
	s.byType[evt.Type] = append(s.byType[evt.Type], evt)

	return evt
}

// ReplaceAll discards all state and rebuilds the log and index from the
// given history, exactly as if each event had been ingested in order. Used
// for replay hydration on reconnect.
func (s *Store) ReplaceAll(history []events.Event) {
	s.mu.Lock()
	s.log = nil
	s.byType = make(map[events.EventType][]events.Event)
	s.seq = 0
	s.gen++

	appended := make([]events.Event, 0, len(history))
	for _, evt := range history {
		appended = append(appended, s.append(evt))
	}

	s.mu.Unlock()

	s.logger.Debug("store rehydrated", "events", len(appended))
	s.notify(appended)
}

// QueryByType returns the events of the given type in arrival order. The
// returned slice is shared state: callers must not mutate it.
func (s *Store) QueryByType(t events.EventType) []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byType[t]
}

// Latest returns the most recently appended event of the given type.
func (s *Store) Latest(t events.EventType) (events.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.byType[t]
	if len(idx) == 0 {
		return events.Event{}, false
	}

	return idx[len(idx)-1], true
}

// Generation counts ReplaceAll rebuilds. A rebuild can leave a type index at
// its previous length with different content, so caches keyed on index length
// must key on the generation too.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.gen
}

// Len returns the length of the chronological log.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.log)
}

// Log returns the full chronological log. Shared state, do not mutate.
func (s *Store) Log() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.log
}

// Subscribe registers a change subscriber and returns its cancel function.
// Subscribers run synchronously on the ingesting goroutine, in registration
// order, after the batch has been appended.
func (s *Store) Subscribe(fn Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(batch []events.Event) {
	if len(batch) == 0 {
		return
	}

	s.subMu.Lock()
	ids := make([]int, 0, len(s.subs))

	for id := range s.subs {
		ids = append(ids, id)
	}

	sort.Ints(ids)

	subs := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}

	s.subMu.Unlock()

	for _, fn := range subs {
		fn(batch)
	}
}
