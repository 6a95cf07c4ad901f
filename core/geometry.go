package core

import "math"

// EarthRadiusKm is the mean Earth radius used for all spherical geometry
// in the extrapolation layer (kilometres).
const EarthRadiusKm = 6371.0

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// Destination returns the point reached from (latRad, lonRad) after moving
// distanceKm along the great circle starting at bearingRad (clockwise from
// true north). All angles are radians.
func Destination(latRad, lonRad, bearingRad, distanceKm float64) (float64, float64) {
	// Angular distance travelled on the sphere.
	delta := distanceKm / EarthRadiusKm

	sinLat, cosLat := math.Sincos(latRad)
	sinDelta, cosDelta := math.Sincos(delta)

	lat2 := math.Asin(sinLat*cosDelta + cosLat*sinDelta*math.Cos(bearingRad))
	lon2 := lonRad + math.Atan2(
		math.Sin(bearingRad)*sinDelta*cosLat,
		cosDelta-sinLat*math.Sin(lat2),
	)
	return lat2, lon2
}

// HaversineKm returns the great-circle distance between two points given in
// radians.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// InitialBearing returns the initial great-circle bearing from point 1 to
// point 2 in radians, normalised to [0, 2π).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	b := math.Atan2(y, x)
	if b < 0 {
		b += 2 * math.Pi
	}
	return b
}
