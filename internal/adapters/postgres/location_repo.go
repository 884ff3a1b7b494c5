package postgres

import (
	"context"

	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/pkg/geospatial"
)

// DriverLocationRepo implements ports.DriverLocationRepository.
type DriverLocationRepo struct {
	db *DB
}

func NewDriverLocationRepo(db *DB) *DriverLocationRepo {
	return &DriverLocationRepo{db: db}
}

// Upsert keeps only the newest sample per driver. A sample captured before
// the stored one is ignored.
func (r *DriverLocationRepo) Upsert(ctx context.Context, loc *domain.DriverLocation) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO driver_locations (driver_id, lat, lon, captured_at, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (driver_id) DO UPDATE
		SET lat = EXCLUDED.lat, lon = EXCLUDED.lon,
		    captured_at = EXCLUDED.captured_at, updated_at = now()
		WHERE driver_locations.captured_at <= EXCLUDED.captured_at
	`, loc.DriverID, loc.Location.Lat, loc.Location.Lon, loc.CapturedAt)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *DriverLocationRepo) GetByDriver(ctx context.Context, driverID int64) (*domain.DriverLocation, error) {
	var l domain.DriverLocation
	err := r.db.Pool.QueryRow(ctx, `
		SELECT driver_id, lat, lon, captured_at
		FROM driver_locations WHERE driver_id = $1
	`, driverID).Scan(&l.DriverID, &l.Location.Lat, &l.Location.Lon, &l.CapturedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &l, nil
}

// FindNearby returns candidates inside the bounding box of the circle,
// roughly nearest first. Callers refine by exact distance.
func (r *DriverLocationRepo) FindNearby(ctx context.Context, center domain.GeoPoint, radiusKm float64, limit int) ([]domain.DriverLocation, error) {
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(center.Lat, center.Lon, radiusKm)
	rows, err := r.db.Pool.Query(ctx, `
		SELECT driver_id, lat, lon, captured_at
		FROM driver_locations
		WHERE lat BETWEEN $1 AND $2 AND lon BETWEEN $3 AND $4
		ORDER BY (lat - $5) * (lat - $5) + (lon - $6) * (lon - $6)
		LIMIT $7
	`, minLat, maxLat, minLon, maxLon, center.Lat, center.Lon, limit*2)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []domain.DriverLocation
	for rows.Next() {
		var l domain.DriverLocation
		if err := rows.Scan(&l.DriverID, &l.Location.Lat, &l.Location.Lon, &l.CapturedAt); err != nil {
			return nil, err
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}
