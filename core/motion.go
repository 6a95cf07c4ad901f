package core

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// MotionModel projects a known snapshot forward (or backward) in time.
// Implementations must be pure: the same inputs give the same output.
type MotionModel interface {
	Project(s model.Snapshot, offsetMs int64) model.Snapshot
}

// Motion model names accepted by NewMotionModel.
const (
	MotionGreatCircle = "great_circle"
	MotionStatic      = "static"
)

// StaticMotionModel holds the last known position and only advances time.
type StaticMotionModel struct{}

// Project for static motion moves the timestamp only.
func (StaticMotionModel) Project(s model.Snapshot, offsetMs int64) model.Snapshot {
	return s.WithPosition(s.LatRad(), s.LonRad(), s.TimestampMs()+offsetMs)
}

// GreatCircleModel is constant-course, constant-speed dead reckoning on a
// spherical Earth. Course over ground drives the projection; heading is
// carried through untouched.
type GreatCircleModel struct{}

// Project moves s along its course over ground for offsetMs. The result
// keeps every field of s except position and timestamp.
//
// The offset is applied in whole seconds (integer division, truncated
// toward zero) when computing distance; the timestamp always advances by
// the full offset. Zero distance returns the original position unchanged.
// Non-finite inputs propagate into the output.
func (GreatCircleModel) Project(s model.Snapshot, offsetMs int64) model.Snapshot {
	ts := s.TimestampMs() + offsetMs

	distanceKm := DistanceTravelledKm(s, offsetMs)
	if distanceKm == 0 {
		return s.WithPosition(s.LatRad(), s.LonRad(), ts)
	}

	lat2, lon2 := Destination(s.LatRad(), s.LonRad(), s.COG(), distanceKm)
	return s.WithPosition(lat2, lon2, ts)
}

// DistanceTravelledKm is the straight-line distance covered by s in offsetMs
// at its reported speed over ground. Negative offsets give negative
// distances, which project backwards along the course.
func DistanceTravelledKm(s model.Snapshot, offsetMs int64) float64 {
	seconds := offsetMs / 1000
	return s.SOGMps() * float64(seconds) / 1000
}

// Project is dead reckoning with the default great-circle model.
func Project(s model.Snapshot, offsetMs int64) model.Snapshot {
	return GreatCircleModel{}.Project(s, offsetMs)
}

// NewMotionModel chooses a MotionModel by name. An empty name selects great
// circle dead reckoning.
func NewMotionModel(name string) (MotionModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MotionGreatCircle:
		return GreatCircleModel{}, nil
	case MotionStatic:
		return StaticMotionModel{}, nil
	default:
		return nil, fmt.Errorf("unknown motion model %q", name)
	}
}
