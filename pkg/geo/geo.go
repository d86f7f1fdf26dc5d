package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadius is the mean Earth radius in meters.
	EarthRadius = 6371000.0

	// DegreeLength is the rounded length of one degree of latitude used by the
	// local (equirectangular) offsets in meters.
	DegreeLength = 111000.0
)

// MetersPerDegree returns the arc length of one degree on the spherical Earth.
func MetersPerDegree() float64 {
	return 2 * math.Pi * EarthRadius / 360
}

// Distance calculates the Haversine distance between two [lon, lat] points in meters.
func Distance(p1, p2 orb.Point) float64 {
	dLat := (p2[1] - p1[1]) * (math.Pi / 180.0)
	dLon := (p2[0] - p1[0]) * (math.Pi / 180.0)
	lat1 := p1[1] * (math.Pi / 180.0)
	lat2 := p2[1] * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	c := 2 * math.Asin(math.Min(1, math.Sqrt(a)))

	return EarthRadius * c
}

// Bearing calculates the initial bearing (forward azimuth) from p1 to p2 in radians,
// clockwise from north, in the range (-π, π].
func Bearing(p1, p2 orb.Point) float64 {
	lat1 := p1[1] * (math.Pi / 180.0)
	lat2 := p2[1] * (math.Pi / 180.0)
	dLon := (p2[0] - p1[0]) * (math.Pi / 180.0)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) -
		math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return math.Atan2(y, x)
}

// OffsetPoint returns the point at distance meters from center along angle
// (radians, counter-clockwise from east). It is a first-order local approximation:
// valid for sub-kilometer offsets, no pole or antimeridian handling.
func OffsetPoint(center orb.Point, angle, distance float64) orb.Point {
	latOffset := distance * math.Sin(angle) / DegreeLength
	lonOffset := distance * math.Cos(angle) / (DegreeLength * math.Cos(center[1]*math.Pi/180.0))
	return orb.Point{center[0] + lonOffset, center[1] + latOffset}
}

// PlanarAngle returns the angle (radians, counter-clockwise from east) of the
// vector from p1 to p2, with both components measured as signed haversine lengths.
func PlanarAngle(p1, p2 orb.Point) float64 {
	dx := Distance(p1, orb.Point{p2[0], p1[1]})
	dy := Distance(p1, orb.Point{p1[0], p2[1]})
	if p2[0] < p1[0] {
		dx = -dx
	}
	if p2[1] < p1[1] {
		dy = -dy
	}
	return math.Atan2(dy, dx)
}

// NormalizeAngle normalizes an angle difference to the range [-180, 180].
func NormalizeAngle(angleDeg float64) float64 {
	for angleDeg > 180 {
		angleDeg -= 360
	}
	for angleDeg < -180 {
		angleDeg += 360
	}
	return angleDeg
}

// NormalizeRadians normalizes an angle difference to the range (-π, π].
func NormalizeRadians(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
