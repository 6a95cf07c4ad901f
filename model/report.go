package model

// Report is the JSON form of a Snapshot used on the wire: stream
// messages, HTTP bodies and gRPC struct payloads. Angles are radians,
// speed is knots, timestamps are epoch milliseconds. The degree fields are
// filled on output for display consumers and ignored on input.
type Report struct {
	MMSI        MMSI    `json:"mmsi"`
	SOGKnots    float64 `json:"sog_knots"`
	COGRad      float64 `json:"cog_rad"`
	HeadingRad  float64 `json:"heading_rad"`
	LatRad      float64 `json:"lat_rad"`
	LonRad      float64 `json:"lon_rad"`
	TimestampMs int64   `json:"timestamp_ms"`
	Label       string  `json:"label"`

	LatDeg float64 `json:"lat_deg,omitempty"`
	LonDeg float64 `json:"lon_deg,omitempty"`
}

// ReportOf converts s for the wire.
func ReportOf(s Snapshot) Report {
	return Report{
		MMSI:        s.MMSI(),
		SOGKnots:    s.SOG(),
		COGRad:      s.COG(),
		HeadingRad:  s.Heading(),
		LatRad:      s.LatRad(),
		LonRad:      s.LonRad(),
		TimestampMs: s.TimestampMs(),
		Label:       s.Label(),
		LatDeg:      s.LatDeg(),
		LonDeg:      s.LonDeg(),
	}
}

// ReportsOf converts a slice of snapshots.
func ReportsOf(snaps []Snapshot) []Report {
	out := make([]Report, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, ReportOf(s))
	}
	return out
}

// Snapshot builds the immutable value r describes.
func (r Report) Snapshot() Snapshot {
	return NewSnapshot(r.MMSI, r.SOGKnots, r.COGRad, r.HeadingRad, r.LatRad, r.LonRad, r.TimestampMs, r.Label)
}
