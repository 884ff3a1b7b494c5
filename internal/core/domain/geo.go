package domain

import "github.com/samirrijal/geotrack/internal/pkg/geospatial"

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Validate rejects coordinates outside [-90,90] / [-180,180].
func (p GeoPoint) Validate() error {
	return geospatial.ValidateCoordinate(p.Lat, p.Lon)
}

// DistanceKm returns the great-circle distance to q in kilometers.
func (p GeoPoint) DistanceKm(q GeoPoint) (float64, error) {
	return geospatial.DistanceKm(p.Lat, p.Lon, q.Lat, q.Lon)
}
