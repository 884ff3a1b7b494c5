package geospatial

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusKm is the mean Earth radius. Distances treat the Earth as a
// sphere, so results are within ~0.5% of the ellipsoidal distance.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned for latitudes outside [-90,90] or
// longitudes outside [-180,180].
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// ValidateCoordinate checks that lat/lon are finite and in range.
func ValidateCoordinate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("%w: (%g, %g)", ErrInvalidCoordinate, lat, lon)
	}
	return nil
}

// DistanceKm calculates the haversine great-circle distance in kilometers.
func DistanceKm(lat1, lon1, lat2, lon2 float64) (float64, error) {
	if err := ValidateCoordinate(lat1, lon1); err != nil {
		return 0, err
	}
	if err := ValidateCoordinate(lat2, lon2); err != nil {
		return 0, err
	}
	if lat1 == lat2 && lon1 == lon2 {
		return 0, nil
	}
	return haversine(lat1, lon1, lat2, lon2), nil
}

func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// BoundingBox returns a box around a point with the given radius in km.
// It over-covers the circle and is only used as an index pre-filter.
func BoundingBox(lat, lon, radiusKm float64) (minLat, minLon, maxLat, maxLon float64) {
	latDelta := radiusKm / 111.32
	lonDelta := 180.0
	if c := math.Cos(toRad(lat)); c > 1e-9 {
		lonDelta = math.Min(radiusKm/(111.32*c), 180)
	}

	return math.Max(lat-latDelta, -90), math.Max(lon-lonDelta, -180),
		math.Min(lat+latDelta, 90), math.Min(lon+lonDelta, 180)
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
