package geo

import (
	"math"
)

// EarthRadiusNM is the mean earth radius in nautical miles.
const EarthRadiusNM = 3440.065

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// DistanceNM returns the great-circle distance in nautical miles between two
// coordinates using the haversine formula.
func DistanceNM(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusNM * c
}

// BearingRad returns the initial bearing in radians from (lat1,lon1) towards
// (lat2,lon2), measured clockwise from true north.
func BearingRad(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := toRadians(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(toRadians(lat2))
	x := math.Cos(toRadians(lat1))*math.Sin(toRadians(lat2)) -
		math.Sin(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Cos(dLon)
	return math.Atan2(y, x)
}

// Project maps a coordinate into the local bearing-projected plane centered at
// the reference point: dx grows eastward, dy northward, both in nautical miles.
func Project(refLat, refLon, lat, lon float64) (dx, dy float64) {
	d := DistanceNM(refLat, refLon, lat, lon)
	b := BearingRad(refLat, refLon, lat, lon)
	return d * math.Sin(b), d * math.Cos(b)
}
