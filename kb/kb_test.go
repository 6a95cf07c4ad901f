package kb

import (
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

func snap(id model.MMSI, ts int64, label string) model.Snapshot {
	return model.NewSnapshot(id, 2, 2, 2, 0, 0, ts, label)
}

// seedScenarioA loads three vessels with interleaved report times.
func seedScenarioA(store *ContactStore) {
	for _, ts := range []int64{0, 2000, 2423, 3023, 3342} {
		store.Insert(snap(1, ts, "A"))
	}
	for _, ts := range []int64{213, 768, 1234, 1762, 2423, 2987} {
		store.Insert(snap(2, ts, "B"))
	}
	store.Insert(snap(3, 1256, "C"))
}

func byMMSI(fleet []model.Snapshot) map[model.MMSI]model.Snapshot {
	out := make(map[model.MMSI]model.Snapshot, len(fleet))
	for _, s := range fleet {
		out[s.MMSI()] = s
	}
	return out
}

func TestFleetAtOrBeforeScenarioA(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)

	fleet := store.FleetAtOrBefore(2000)
	if len(fleet) != 3 {
		t.Fatalf("FleetAtOrBefore(2000) len=%d, want 3", len(fleet))
	}
	got := byMMSI(fleet)
	want := map[model.MMSI]int64{1: 2000, 2: 1762, 3: 1256}
	for id, ts := range want {
		s, ok := got[id]
		if !ok {
			t.Fatalf("vessel %d missing from fleet", id)
		}
		if s.TimestampMs() != ts {
			t.Fatalf("vessel %d timestamp=%d, want %d", id, s.TimestampMs(), ts)
		}
	}
}

func TestFleetAtOrBeforeBeforeEverything(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)

	if fleet := store.FleetAtOrBefore(-1); len(fleet) != 0 {
		t.Fatalf("FleetAtOrBefore(-1) = %v, want empty", fleet)
	}
}

func TestFleetAtOrBeforeOmitsVesselsWithoutQualifyingSnapshot(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)

	got := byMMSI(store.FleetAtOrBefore(500))
	if len(got) != 2 {
		t.Fatalf("FleetAtOrBefore(500) len=%d, want 2", len(got))
	}
	if got[1].TimestampMs() != 0 || got[2].TimestampMs() != 213 {
		t.Fatalf("unexpected fleet at 500: %+v", got)
	}
	if _, ok := got[3]; ok {
		t.Fatalf("vessel 3 first reported at 1256 should be omitted")
	}
}

func TestSnapshotAtOrBeforeGreatestNotAfter(t *testing.T) {
	store := NewContactStore()
	times := []int64{100, 200, 300, 400}
	for _, ts := range times {
		store.Insert(snap(7, ts, "G"))
	}

	cases := map[int64]int64{100: 100, 150: 100, 299: 200, 300: 300, 1000: 400}
	for query, want := range cases {
		s, err := store.SnapshotAtOrBefore(7, query)
		if err != nil {
			t.Fatalf("SnapshotAtOrBefore(%d): %v", query, err)
		}
		if s.TimestampMs() != want {
			t.Fatalf("SnapshotAtOrBefore(%d) = %d, want %d", query, s.TimestampMs(), want)
		}
	}

	if _, err := store.SnapshotAtOrBefore(7, 99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SnapshotAtOrBefore(99) err=%v, want ErrNotFound", err)
	}
}

func TestSnapshotAtOrBeforeOutOfOrderInsert(t *testing.T) {
	store := NewContactStore()
	store.Insert(snap(5, 300, "late"))
	store.Insert(snap(5, 100, "early"))

	s, err := store.SnapshotAtOrBefore(5, 200)
	if err != nil {
		t.Fatalf("SnapshotAtOrBefore: %v", err)
	}
	if s.TimestampMs() != 100 {
		t.Fatalf("got timestamp %d, want 100", s.TimestampMs())
	}

	// The most recently inserted report is the head even though it is older.
	latest, err := store.Latest(5)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.TimestampMs() != 100 {
		t.Fatalf("Latest timestamp = %d, want 100", latest.TimestampMs())
	}

	// Reverse-insertion order wins over timestamp order.
	s, err = store.SnapshotAtOrBefore(5, 400)
	if err != nil {
		t.Fatalf("SnapshotAtOrBefore(400): %v", err)
	}
	if s.TimestampMs() != 100 {
		t.Fatalf("SnapshotAtOrBefore(400) = %d, want head 100", s.TimestampMs())
	}
}

func TestUnknownVesselIsNotFound(t *testing.T) {
	store := NewContactStore()
	if _, err := store.Latest(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Latest err=%v, want ErrNotFound", err)
	}
	if _, err := store.SnapshotAtOrBefore(42, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SnapshotAtOrBefore err=%v, want ErrNotFound", err)
	}
	if _, err := store.History(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("History err=%v, want ErrNotFound", err)
	}
}

func TestVesselIsolation(t *testing.T) {
	store := NewContactStore()
	store.Insert(snap(1, 10, "A"))
	before, _ := store.History(1)

	for ts := int64(0); ts < 50; ts++ {
		store.Insert(snap(2, ts, "B"))
	}

	after, err := store.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(after) != len(before) || after[0] != before[0] {
		t.Fatalf("vessel 1 history changed: before=%v after=%v", before, after)
	}
	s, err := store.SnapshotAtOrBefore(1, 100)
	if err != nil || s.TimestampMs() != 10 {
		t.Fatalf("vessel 1 lookup = %v, %v", s, err)
	}
}

func TestVesselIDsAndCounts(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)

	ids := store.VesselIDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Fatalf("VesselIDs() = %v, want [1 2 3]", ids)
	}
	vessels, snapshots := store.Counts()
	if vessels != 3 || snapshots != 12 {
		t.Fatalf("Counts() = %d, %d, want 3, 12", vessels, snapshots)
	}
}

func TestExportAllIsDeepCopy(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)

	exported := store.ExportAll()
	exported[1][0] = snap(1, 9999, "X")
	exported[99] = []model.Snapshot{snap(99, 0, "Z")}
	delete(exported, 2)

	if _, err := store.Latest(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("export mutation leaked a new vessel into the store")
	}
	history, err := store.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if history[0].TimestampMs() != 0 {
		t.Fatalf("export mutation changed stored snapshot: %v", history[0])
	}
	if _, err := store.Latest(2); err != nil {
		t.Fatalf("deleting from export removed vessel 2: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := NewContactStore()
	seedScenarioA(src)
	src.Insert(snap(4, 500, "D"))
	src.Insert(snap(4, 50, "D")) // out of order head

	dst := NewContactStore()
	dst.ImportAll(src.ExportAll())

	for _, ts := range []int64{-1, 0, 50, 213, 499, 500, 1256, 2000, 2423, 3000, 5000} {
		want := byMMSI(src.FleetAtOrBefore(ts))
		got := byMMSI(dst.FleetAtOrBefore(ts))
		if len(want) != len(got) {
			t.Fatalf("t=%d fleet size got=%d want=%d", ts, len(got), len(want))
		}
		for id, s := range want {
			if got[id] != s {
				t.Fatalf("t=%d vessel %d got %+v want %+v", ts, id, got[id], s)
			}
		}
	}
}

func TestImportAllExtendsExistingHistory(t *testing.T) {
	store := NewContactStore()
	store.Insert(snap(1, 10, "A"))

	store.ImportAll(model.Contacts{
		1: {snap(1, 20, "A"), snap(1, 30, "A")},
		2: {snap(2, 5, "B")},
		3: nil,
	})

	history, err := store.History(1)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 || history[0].TimestampMs() != 10 || history[2].TimestampMs() != 30 {
		t.Fatalf("history after import = %v", history)
	}
	if _, err := store.Latest(3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty imported history should not create a vessel")
	}
	if vessels, snapshots := store.Counts(); vessels != 2 || snapshots != 4 {
		t.Fatalf("Counts() = %d, %d, want 2, 4", vessels, snapshots)
	}
}

func TestClear(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)
	store.Clear()

	if vessels, snapshots := store.Counts(); vessels != 0 || snapshots != 0 {
		t.Fatalf("Counts() after Clear = %d, %d", vessels, snapshots)
	}
	if fleet := store.FleetAtOrBefore(1 << 40); len(fleet) != 0 {
		t.Fatalf("fleet after Clear = %v", fleet)
	}
}

func TestLatestOfFleetAtOrBefore(t *testing.T) {
	store := NewContactStore()
	store.Insert(snap(1, 5000, "A"))
	store.Insert(snap(1, 20000, "A"))
	store.Insert(snap(2, 15000, "B"))

	fleet := byMMSI(store.LatestOfFleetAtOrBefore(10000))
	if len(fleet) != 1 {
		t.Fatalf("fleet = %v, want only vessel 1", fleet)
	}
	if got := fleet[1].TimestampMs(); got != 20000 {
		t.Fatalf("vessel 1 ts = %d, want latest inserted 20000", got)
	}
}

func TestReplaceAll(t *testing.T) {
	store := NewContactStore()
	seedScenarioA(store)

	var events []Event
	store.Subscribe(func(e Event) { events = append(events, e) })

	replacement := model.Contacts{
		9: {snap(9, 100, "Z"), snap(9, 200, "Z")},
		8: nil,
	}
	store.ReplaceAll(replacement)
	replacement[9][0] = snap(9, 999, "Y")

	if vessels, snapshots := store.Counts(); vessels != 1 || snapshots != 2 {
		t.Fatalf("Counts() after ReplaceAll = %d, %d, want 1, 2", vessels, snapshots)
	}
	if _, err := store.Latest(1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old vessel survived ReplaceAll: %v", err)
	}
	history, err := store.History(9)
	if err != nil || history[0].TimestampMs() != 100 {
		t.Fatalf("store shares memory with the replacement: %v, %v", history, err)
	}
	if len(events) != 1 || events[0].Type != EventContactsImported || events[0].Snapshots != 2 {
		t.Fatalf("events = %+v", events)
	}
}

func TestReplaceAllNeverExposesEmptyStore(t *testing.T) {
	store := NewContactStore()
	contacts := model.Contacts{1: {snap(1, 10, "A")}}
	store.ReplaceAll(contacts)

	done := make(chan struct{})
	var empty int
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			if len(store.FleetAtOrBefore(1000)) == 0 {
				empty++
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		store.ReplaceAll(contacts)
	}
	close(done)
	wg.Wait()

	if empty != 0 {
		t.Fatalf("readers saw an empty fleet %d times", empty)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	store := NewContactStore()

	var events []Event
	unsubscribe := store.Subscribe(func(e Event) {
		events = append(events, e)
	})

	store.Insert(snap(1, 10, "A"))
	store.ImportAll(model.Contacts{2: {snap(2, 1, "B")}})
	store.Clear()
	unsubscribe()
	store.Insert(snap(1, 20, "A"))

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].Type != EventContactReported || events[0].Snapshot.TimestampMs() != 10 {
		t.Fatalf("first event = %+v", events[0])
	}
	if events[0].Vessels != 1 || events[0].Snapshots != 1 {
		t.Fatalf("first event counts = %d/%d", events[0].Vessels, events[0].Snapshots)
	}
	if events[1].Type != EventContactsImported || events[1].Vessels != 2 || events[1].Snapshots != 2 {
		t.Fatalf("import event = %+v", events[1])
	}
	if events[2].Type != EventContactsCleared {
		t.Fatalf("clear event = %+v", events[2])
	}
}

func TestSubscriberMayCallBackIntoStore(t *testing.T) {
	store := NewContactStore()
	var seen int
	store.Subscribe(func(e Event) {
		seen = len(store.FleetAtOrBefore(e.Snapshot.TimestampMs()))
	})
	store.Insert(snap(1, 10, "A"))
	if seen != 1 {
		t.Fatalf("subscriber saw fleet of %d, want 1", seen)
	}
}

func TestConcurrentAccess(t *testing.T) {
	store := NewContactStore()

	const writers = 8
	const perWriter = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(2)
		go func(id model.MMSI) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				store.Insert(snap(id, int64(i), "W"))
			}
		}(model.MMSI(w))
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = store.FleetAtOrBefore(int64(i))
				_ = store.ExportAll()
				_ = store.VesselIDs()
			}
		}()
	}
	wg.Wait()

	vessels, snapshots := store.Counts()
	if vessels != writers || snapshots != writers*perWriter {
		t.Fatalf("Counts() = %d, %d, want %d, %d", vessels, snapshots, writers, writers*perWriter)
	}
	fleet := store.FleetAtOrBefore(perWriter)
	sort.Slice(fleet, func(i, j int) bool { return fleet[i].MMSI() < fleet[j].MMSI() })
	for _, s := range fleet {
		if s.TimestampMs() != perWriter-1 {
			t.Fatalf("vessel %d head = %d, want %d", s.MMSI(), s.TimestampMs(), perWriter-1)
		}
	}
}
