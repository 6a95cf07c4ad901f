package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// ErrNotFound is returned when a vessel is unknown or has no snapshot
// satisfying a time bound. Callers building fleet-wide views treat it as
// "omit this vessel".
var ErrNotFound = errors.New("contact not found")

// EventType indicates what kind of change happened in the store.
type EventType int

const (
	// EventContactReported fires after a single snapshot is inserted.
	EventContactReported EventType = iota
	// EventContactsImported fires after ImportAll merged a batch.
	EventContactsImported
	// EventContactsCleared fires after Clear.
	EventContactsCleared
)

// Event is emitted to subscribers when the store changes.
type Event struct {
	Type EventType
	// Snapshot is set for EventContactReported.
	Snapshot model.Snapshot
	// Vessels and Snapshots are the store totals after the change.
	Vessels   int
	Snapshots int
}

// ContactStore is the in-memory, thread-safe history of AIS contacts.
//
// One mutex guards the whole vessel map: fleet-wide reads walk every
// history while inserts touch one, and neither may observe the other half
// done. Histories are append-only slices; the last element is the most
// recently inserted snapshot.
type ContactStore struct {
	mu sync.Mutex

	histories map[model.MMSI][]model.Snapshot
	total     int

	subs    map[int]func(Event)
	nextSub int
}

// NewContactStore constructs an empty store.
func NewContactStore() *ContactStore {
	return &ContactStore{
		histories: make(map[model.MMSI][]model.Snapshot),
		subs:      make(map[int]func(Event)),
	}
}

// Insert appends s to the head of its vessel's history, creating the
// history on first sight. Timestamps are not checked: an out-of-order
// report still becomes the head.
func (kb *ContactStore) Insert(s model.Snapshot) {
	kb.mu.Lock()
	kb.histories[s.MMSI()] = append(kb.histories[s.MMSI()], s)
	kb.total++
	event := Event{
		Type:      EventContactReported,
		Snapshot:  s,
		Vessels:   len(kb.histories),
		Snapshots: kb.total,
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	notify(subs, event)
}

// Latest returns the most recently inserted snapshot for mmsi.
func (kb *ContactStore) Latest(mmsi model.MMSI) (model.Snapshot, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	history := kb.histories[mmsi]
	if len(history) == 0 {
		return model.Snapshot{}, fmt.Errorf("vessel %d: %w", mmsi, ErrNotFound)
	}
	return history[len(history)-1], nil
}

// History returns a copy of the vessel's history, oldest first.
func (kb *ContactStore) History(mmsi model.MMSI) ([]model.Snapshot, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	history := kb.histories[mmsi]
	if len(history) == 0 {
		return nil, fmt.Errorf("vessel %d: %w", mmsi, ErrNotFound)
	}
	return append([]model.Snapshot(nil), history...), nil
}

// VesselIDs returns every known vessel id in ascending order.
func (kb *ContactStore) VesselIDs() []model.MMSI {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	ids := make([]model.MMSI, 0, len(kb.histories))
	for id := range kb.histories {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SnapshotAtOrBefore scans the vessel's history from the most recently
// inserted snapshot backwards and returns the first one whose timestamp is
// not after timestampMs.
func (kb *ContactStore) SnapshotAtOrBefore(mmsi model.MMSI, timestampMs int64) (model.Snapshot, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	history, ok := kb.histories[mmsi]
	if !ok {
		return model.Snapshot{}, fmt.Errorf("vessel %d: %w", mmsi, ErrNotFound)
	}
	if s, ok := atOrBefore(history, timestampMs); ok {
		return s, nil
	}
	return model.Snapshot{}, fmt.Errorf("vessel %d at or before %d: %w", mmsi, timestampMs, ErrNotFound)
}

// FleetAtOrBefore returns, for every vessel, its SnapshotAtOrBefore result.
// Vessels without a qualifying snapshot are left out. Order is unspecified.
func (kb *ContactStore) FleetAtOrBefore(timestampMs int64) []model.Snapshot {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	fleet := make([]model.Snapshot, 0, len(kb.histories))
	for _, history := range kb.histories {
		if s, ok := atOrBefore(history, timestampMs); ok {
			fleet = append(fleet, s)
		}
	}
	return fleet
}

// LatestOfFleetAtOrBefore returns the most recently inserted snapshot of
// every vessel that has at least one snapshot not after timestampMs. The
// returned snapshot itself may be newer than timestampMs.
func (kb *ContactStore) LatestOfFleetAtOrBefore(timestampMs int64) []model.Snapshot {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	fleet := make([]model.Snapshot, 0, len(kb.histories))
	for _, history := range kb.histories {
		if _, ok := atOrBefore(history, timestampMs); ok {
			fleet = append(fleet, history[len(history)-1])
		}
	}
	return fleet
}

// ExportAll returns a deep copy of every history. The result shares no
// memory with the store.
func (kb *ContactStore) ExportAll() model.Contacts {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	out := make(model.Contacts, len(kb.histories))
	for id, history := range kb.histories {
		out[id] = append([]model.Snapshot(nil), history...)
	}
	return out
}

// ImportAll merges contacts into the store. Each imported history is
// appended, in order, after whatever the store already holds for that
// vessel; new vessels are created. Callers wanting replace semantics call
// Clear first.
func (kb *ContactStore) ImportAll(contacts model.Contacts) {
	kb.mu.Lock()
	for id, history := range contacts {
		if len(history) == 0 {
			continue
		}
		kb.histories[id] = append(kb.histories[id], history...)
		kb.total += len(history)
	}
	event := Event{
		Type:      EventContactsImported,
		Vessels:   len(kb.histories),
		Snapshots: kb.total,
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
}

// ReplaceAll swaps the whole store for a copy of contacts in one step.
// Readers see either the old or the new content, never an empty store in
// between. Subscribers receive EventContactsImported with the new totals.
func (kb *ContactStore) ReplaceAll(contacts model.Contacts) {
	histories := make(map[model.MMSI][]model.Snapshot, len(contacts))
	total := 0
	for id, history := range contacts {
		if len(history) == 0 {
			continue
		}
		histories[id] = append([]model.Snapshot(nil), history...)
		total += len(history)
	}

	kb.mu.Lock()
	kb.histories = histories
	kb.total = total
	event := Event{
		Type:      EventContactsImported,
		Vessels:   len(histories),
		Snapshots: total,
	}
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, event)
}

// Clear drops every history.
func (kb *ContactStore) Clear() {
	kb.mu.Lock()
	kb.histories = make(map[model.MMSI][]model.Snapshot)
	kb.total = 0
	subs := kb.subscribersLocked()
	kb.mu.Unlock()

	notify(subs, Event{Type: EventContactsCleared})
}

// Counts returns the number of vessels and the total number of snapshots.
func (kb *ContactStore) Counts() (vessels, snapshots int) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return len(kb.histories), kb.total
}

// Subscribe registers a callback for store events. Callbacks run on the
// goroutine that made the change, after the lock is released. It returns an
// unsubscribe function.
func (kb *ContactStore) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	id := kb.nextSub
	kb.nextSub++
	kb.subs[id] = fn

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		delete(kb.subs, id)
	}
}

func (kb *ContactStore) subscribersLocked() []func(Event) {
	if len(kb.subs) == 0 {
		return nil
	}
	ids := make([]int, 0, len(kb.subs))
	for id := range kb.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	subs := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, kb.subs[id])
	}
	return subs
}

func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}

// atOrBefore walks history newest-first. It does not stop at the first
// too-new entry because insertion order need not match timestamp order.
func atOrBefore(history []model.Snapshot, timestampMs int64) (model.Snapshot, bool) {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].TimestampMs() <= timestampMs {
			return history[i], true
		}
	}
	return model.Snapshot{}, false
}
