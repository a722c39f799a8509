// Package geo provides great-circle distance computations on a spherical Earth.
package geo

import "math"

// EarthRadiusKm is the mean Earth radius used for all distance computations.
const EarthRadiusKm = 6371.0

// Point is a WGS 84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Valid reports whether the point lies within latitude/longitude ranges.
func (p Point) Valid() bool {
	return ValidCoordinates(p.Lat, p.Lon)
}

// DistanceTo returns the great-circle distance to q in kilometers.
func (p Point) DistanceTo(q Point) float64 {
	return DistanceKm(p.Lat, p.Lon, q.Lat, q.Lon)
}

// ValidCoordinates reports whether lat is in [-90, 90] and lon in [-180, 180].
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// DistanceKm returns the great-circle distance between two coordinates using
// the spherical law of cosines. The result is NaN when either coordinate is
// out of range; callers must treat NaN as an invalid input.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	if !ValidCoordinates(lat1, lon1) || !ValidCoordinates(lat2, lon2) {
		return math.NaN()
	}
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}

	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dLambda := toRadians(lon2 - lon1)

	cosSum := math.Sin(phi1)*math.Sin(phi2) + math.Cos(phi1)*math.Cos(phi2)*math.Cos(dLambda)
	// Rounding can push the sum just outside [-1, 1] for coincident or antipodal points.
	cosSum = math.Max(-1, math.Min(1, cosSum))

	return EarthRadiusKm * math.Acos(cosSum)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
