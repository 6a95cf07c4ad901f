// Package contacts is the process-wide entry point for AIS contact
// reports and fleet queries. It composes the contact store with a motion
// model and the clock that defines "now".
package contacts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/ais-contact-manager/core"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/kb"
	"github.com/signalsfoundry/ais-contact-manager/model"
	"github.com/signalsfoundry/ais-contact-manager/timectrl"
)

// ErrNotFound is kb.ErrNotFound re-exported for callers that only import
// this package.
var ErrNotFound = kb.ErrNotFound

// Query names used for latency metrics.
const (
	QueryCurrentFleet       = "current_fleet"
	QueryFleetAt            = "fleet_at"
	QueryPredictedFleet     = "predicted_fleet"
	QueryPredictedPositions = "predicted_positions"
	QueryExport             = "export"
)

// MetricsRecorder receives store size and query latency updates.
type MetricsRecorder interface {
	AddReports(n int)
	SetContactCounts(vessels, snapshots int)
	ObserveQuery(query string, d time.Duration)
}

// Saver persists a full copy of the contact histories.
type Saver interface {
	Save(ctx context.Context, contacts model.Contacts) error
}

// Loader reads previously saved contact histories.
type Loader interface {
	Load(ctx context.Context) (model.Contacts, error)
}

// Manager is the facade producers and consumers share. Construct one per
// process and pass it to every caller.
type Manager struct {
	store   *kb.ContactStore
	clock   timectrl.Clock
	motion  core.MotionModel
	log     logging.Logger
	metrics MetricsRecorder
}

// Option customises Manager construction.
type Option func(*Manager)

// WithClock sets the clock CurrentFleet and PredictedFleet read "now" from.
func WithClock(c timectrl.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithMotionModel replaces the default great-circle dead reckoning.
func WithMotionModel(mm core.MotionModel) Option {
	return func(m *Manager) {
		if mm != nil {
			m.motion = mm
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// NewManager wraps store. A nil store gets a fresh empty one; a nil log
// drops all logs.
func NewManager(store *kb.ContactStore, log logging.Logger, opts ...Option) *Manager {
	if store == nil {
		store = kb.NewContactStore()
	}
	if log == nil {
		log = logging.Noop()
	}
	m := &Manager{
		store:  store,
		clock:  timectrl.WallClock{},
		motion: core.GreatCircleModel{},
		log:    log,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the underlying contact store, mainly for event
// subscription.
func (m *Manager) Store() *kb.ContactStore { return m.store }

// NowMs is the manager's current time in epoch milliseconds.
func (m *Manager) NowMs() int64 { return timectrl.NowMs(m.clock) }

// ReportPosition records one decoded AIS position report. Angles are
// radians, speed is knots, the timestamp is epoch milliseconds. Inputs are
// not validated.
func (m *Manager) ReportPosition(mmsi model.MMSI, sogKnots, cogRad, headingRad, latRad, lonRad float64, timestampMs int64, label string) model.Snapshot {
	s := model.NewSnapshot(mmsi, sogKnots, cogRad, headingRad, latRad, lonRad, timestampMs, label)
	m.Report(s)
	return s
}

// Report records an already built snapshot.
func (m *Manager) Report(s model.Snapshot) {
	m.store.Insert(s)
	if m.metrics != nil {
		m.metrics.AddReports(1)
		m.recordCounts()
	}
}

// CurrentFleet is FleetAt(now).
func (m *Manager) CurrentFleet() []model.Snapshot {
	defer m.observe(QueryCurrentFleet, time.Now())
	return sortFleet(m.store.FleetAtOrBefore(m.NowMs()))
}

// FleetAt returns, for every vessel, the most recently inserted snapshot
// whose timestamp is not after timestampMs. Vessels with no such snapshot
// are omitted. The result is ordered by MMSI.
func (m *Manager) FleetAt(timestampMs int64) []model.Snapshot {
	defer m.observe(QueryFleetAt, time.Now())
	return sortFleet(m.store.FleetAtOrBefore(timestampMs))
}

// PredictedFleet projects the latest snapshot of every vessel in
// CurrentFleet by offsetMs and keys the result by label. CurrentFleet only
// decides membership: a vessel whose most recent report is stamped after
// now is still projected from that report. Vessels sharing a label
// overwrite each other; the one with the highest MMSI wins.
func (m *Manager) PredictedFleet(offsetMs int64) map[string]model.Snapshot {
	defer m.observe(QueryPredictedFleet, time.Now())

	fleet := sortFleet(m.store.LatestOfFleetAtOrBefore(m.NowMs()))
	out := make(map[string]model.Snapshot, len(fleet))
	for _, s := range fleet {
		out[s.Label()] = m.motion.Project(s, offsetMs)
	}
	return out
}

// PredictedPositions projects the vessel's latest snapshot to each offset,
// in the order given. It fails with ErrNotFound for an unknown vessel.
func (m *Manager) PredictedPositions(mmsi model.MMSI, offsetsMs ...int64) ([]model.Snapshot, error) {
	defer m.observe(QueryPredictedPositions, time.Now())

	latest, err := m.store.Latest(mmsi)
	if err != nil {
		return nil, err
	}
	out := make([]model.Snapshot, 0, len(offsetsMs))
	for _, offset := range offsetsMs {
		out = append(out, m.motion.Project(latest, offset))
	}
	return out, nil
}

// Latest returns the vessel's most recently inserted snapshot.
func (m *Manager) Latest(mmsi model.MMSI) (model.Snapshot, error) {
	return m.store.Latest(mmsi)
}

// History returns the vessel's snapshots in insertion order.
func (m *Manager) History(mmsi model.MMSI) ([]model.Snapshot, error) {
	return m.store.History(mmsi)
}

// Vessels lists every known MMSI in ascending order.
func (m *Manager) Vessels() []model.MMSI {
	return m.store.VesselIDs()
}

// Counts reports the number of vessels and stored snapshots.
func (m *Manager) Counts() (vessels, snapshots int) {
	return m.store.Counts()
}

// ExportSnapshots returns a deep copy of every vessel history.
func (m *Manager) ExportSnapshots() model.Contacts {
	defer m.observe(QueryExport, time.Now())
	return m.store.ExportAll()
}

// ImportSnapshots merges contacts into the store, extending existing
// histories.
func (m *Manager) ImportSnapshots(contacts model.Contacts) {
	m.store.ImportAll(contacts)
	if m.metrics != nil {
		m.metrics.AddReports(contacts.Len())
		m.recordCounts()
	}
	m.log.Info(context.Background(), "contacts imported",
		logging.Int("vessels", len(contacts)),
		logging.Int("snapshots", contacts.Len()),
	)
}

// ReplaceSnapshots swaps the store content for contacts atomically.
func (m *Manager) ReplaceSnapshots(contacts model.Contacts) {
	m.store.ReplaceAll(contacts)
	if m.metrics != nil {
		m.metrics.AddReports(contacts.Len())
	}
	m.recordCounts()
	m.log.Info(context.Background(), "contacts replaced",
		logging.Int("vessels", len(contacts)),
		logging.Int("snapshots", contacts.Len()),
	)
}

// Clear drops every stored history.
func (m *Manager) Clear() {
	m.store.Clear()
	m.recordCounts()
	m.log.Info(context.Background(), "contacts cleared")
}

// SaveContacts hands a copy of the store to s. The store lock is not held
// while s runs.
func (m *Manager) SaveContacts(ctx context.Context, s Saver) error {
	if s == nil {
		return errors.New("contacts: nil saver")
	}
	start := time.Now()
	contacts := m.store.ExportAll()
	if err := s.Save(ctx, contacts); err != nil {
		return fmt.Errorf("save contacts: %w", err)
	}
	m.log.Debug(ctx, "contacts saved",
		logging.Int("vessels", len(contacts)),
		logging.Int("snapshots", contacts.Len()),
		logging.Duration("took", time.Since(start)),
	)
	return nil
}

// LoadContacts imports whatever l returns. With replace set the store is
// cleared first. It returns the number of snapshots loaded.
func (m *Manager) LoadContacts(ctx context.Context, l Loader, replace bool) (int, error) {
	if l == nil {
		return 0, errors.New("contacts: nil loader")
	}
	contacts, err := l.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load contacts: %w", err)
	}
	if replace {
		m.ReplaceSnapshots(contacts)
	} else {
		m.ImportSnapshots(contacts)
	}
	return contacts.Len(), nil
}

func (m *Manager) observe(query string, start time.Time) {
	if m.metrics != nil {
		m.metrics.ObserveQuery(query, time.Since(start))
	}
}

func (m *Manager) recordCounts() {
	if m.metrics == nil {
		return
	}
	m.metrics.SetContactCounts(m.store.Counts())
}

func sortFleet(fleet []model.Snapshot) []model.Snapshot {
	sort.Slice(fleet, func(i, j int) bool { return fleet[i].MMSI() < fleet[j].MMSI() })
	return fleet
}
