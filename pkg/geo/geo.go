// Package geo implements great-circle distance on a spherical Earth.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distances.
const EarthRadiusMeters = 6371000

// Point represents a position in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DegreesToRadians converts degrees to radians
func DegreesToRadians(degrees float64) float64 {
	return degrees * (math.Pi / 180)
}

// RadiansToDegrees converts radians to degrees
func RadiansToDegrees(radians float64) float64 {
	return radians * (180 / math.Pi)
}

// AngularDistance returns the central angle in radians between p1 and p2
// using the spherical law of cosines. Longitudes are compared as given, there
// is no antimeridian handling.
func AngularDistance(p1, p2 Point) float64 {
	lat1 := DegreesToRadians(p1.Latitude)
	lat2 := DegreesToRadians(p2.Latitude)

	cos := math.Sin(lat1)*math.Sin(lat2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Cos(DegreesToRadians(math.Abs(p1.Longitude-p2.Longitude)))

	// rounding can push coincident or antipodal points just outside acos' domain
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}

	return math.Acos(cos)
}

// CircleDistance returns the great-circle distance in meters between p1 and p2.
func CircleDistance(p1, p2 Point) float64 {
	return EarthRadiusMeters * AngularDistance(p1, p2)
}
