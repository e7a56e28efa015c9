package locate

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

const (
	// EarthRadius is the mean earth radius in meters used by HaversineDistance
	EarthRadius = 6371000.0

	// MetersPerDegree is the flat-earth length of one degree of latitude
	MetersPerDegree = 111000.0
)

// HaversineDistance returns the great-circle distance in meters
func HaversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadius * c
}

// NorthEastOffset decomposes the path from (lat1, lon1) to (lat2, lon2) into
// meters east and meters north along the initial bearing.
func NorthEastOffset(lat1, lon1, lat2, lon2 float64) (east, north float64) {
	if lat1 == lat2 && lon1 == lon2 {
		return 0, 0
	}
	distance := HaversineDistance(lat1, lon1, lat2, lon2)
	bearing := geo.Bearing(orb.Point{lon1, lat1}, orb.Point{lon2, lat2}) * math.Pi / 180
	return distance * math.Sin(bearing), distance * math.Cos(bearing)
}

// CoordinatesFromOffset moves (lat, lon) by east/north meters using a
// flat-earth approximation, valid for offsets of a few kilometers.
func CoordinatesFromOffset(lat, lon, east, north float64) GeoPoint {
	dLat := north / MetersPerDegree
	dLon := east / (MetersPerDegree * math.Cos(lat*math.Pi/180))
	return GeoPoint{Lat: lat + dLat, Lon: lon + dLon}
}

// OffsetPoint returns p relative to origin as a map plane point
func OffsetPoint(origin, p GeoPoint) Point {
	east, north := NorthEastOffset(origin.Lat, origin.Lon, p.Lat, p.Lon)
	return Point{X: east, Y: north}
}

// ToOrb converts to an orb point ([lon, lat])
func (g GeoPoint) ToOrb() orb.Point { return orb.Point{g.Lon, g.Lat} }

// GeoPointFromOrb converts an orb point ([lon, lat])
func GeoPointFromOrb(p orb.Point) GeoPoint { return GeoPoint{Lat: p.Lat(), Lon: p.Lon()} }
