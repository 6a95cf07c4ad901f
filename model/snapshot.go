package model

import "math"

// KnotsToMps converts knots to metres per second.
const KnotsToMps = 0.514444444

// MMSI is the Maritime Mobile Service Identity of a vessel. It keys the
// vessel's contact history.
type MMSI int32

// Snapshot is one AIS position report for one vessel at one instant.
//
// Fields are unexported so a Snapshot cannot change once built; copies are
// cheap and safe to hand out. Speed is kept in knots and angles in radians.
// Every derived value (m/s, degrees) is computed on demand.
type Snapshot struct {
	mmsi        MMSI
	sogKnots    float64
	cogRad      float64
	headingRad  float64
	latRad      float64
	lonRad      float64
	timestampMs int64
	label       string
}

// NewSnapshot builds a Snapshot. No range checks are applied to the angles.
func NewSnapshot(mmsi MMSI, sogKnots, cogRad, headingRad, latRad, lonRad float64, timestampMs int64, label string) Snapshot {
	return Snapshot{
		mmsi:        mmsi,
		sogKnots:    sogKnots,
		cogRad:      cogRad,
		headingRad:  headingRad,
		latRad:      latRad,
		lonRad:      lonRad,
		timestampMs: timestampMs,
		label:       label,
	}
}

// MMSI returns the vessel identifier.
func (s Snapshot) MMSI() MMSI { return s.mmsi }

// SOG returns speed over ground in knots.
func (s Snapshot) SOG() float64 { return s.sogKnots }

// SOGMps returns speed over ground in metres per second.
func (s Snapshot) SOGMps() float64 { return s.sogKnots * KnotsToMps }

// COG returns course over ground in radians.
func (s Snapshot) COG() float64 { return s.cogRad }

// Heading returns the true heading in radians.
func (s Snapshot) Heading() float64 { return s.headingRad }

// LatRad returns latitude in radians.
func (s Snapshot) LatRad() float64 { return s.latRad }

// LonRad returns longitude in radians.
func (s Snapshot) LonRad() float64 { return s.lonRad }

// LatDeg returns latitude in degrees.
func (s Snapshot) LatDeg() float64 { return s.latRad * 180 / math.Pi }

// LonDeg returns longitude in degrees.
func (s Snapshot) LonDeg() float64 { return s.lonRad * 180 / math.Pi }

// TimestampMs returns the report time in milliseconds since the Unix epoch.
func (s Snapshot) TimestampMs() int64 { return s.timestampMs }

// Label returns the display label. Labels are not unique across vessels.
func (s Snapshot) Label() string { return s.label }

// WithPosition returns a copy of s moved to the given position and time.
// Identity, speed, course, heading and label are carried over.
func (s Snapshot) WithPosition(latRad, lonRad float64, timestampMs int64) Snapshot {
	s.latRad = latRad
	s.lonRad = lonRad
	s.timestampMs = timestampMs
	return s
}

// Contacts is the exchange shape used for export and import: vessel id to
// history. Each history is in insertion order, oldest first, so the last
// element is the most recently inserted report.
type Contacts map[MMSI][]Snapshot

// Clone returns a deep copy of c. Snapshots are values, so copying the
// slices is enough to make the result independent.
func (c Contacts) Clone() Contacts {
	if c == nil {
		return nil
	}
	out := make(Contacts, len(c))
	for id, history := range c {
		out[id] = append([]Snapshot(nil), history...)
	}
	return out
}

// Len returns the total number of snapshots across all vessels.
func (c Contacts) Len() int {
	n := 0
	for _, history := range c {
		n += len(history)
	}
	return n
}
