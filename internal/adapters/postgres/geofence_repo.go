package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

const geofenceColumns = `
	id, name, center_lat, center_lon, radius_km, allowed_minutes, created_by,
	active, regenerate, superseded_by, COALESCE(provider_ref, ''), created_at, deleted_at`

// GeofenceRepo implements ports.GeofenceRepository.
type GeofenceRepo struct {
	db *DB
}

func NewGeofenceRepo(db *DB) *GeofenceRepo {
	return &GeofenceRepo{db: db}
}

func scanGeofence(row pgx.Row) (*domain.Geofence, error) {
	var g domain.Geofence
	err := row.Scan(&g.ID, &g.Name, &g.Center.Lat, &g.Center.Lon, &g.RadiusKm, &g.AllowedMinutes,
		&g.CreatedBy, &g.Active, &g.Regenerate, &g.SupersededBy, &g.ProviderRef, &g.CreatedAt, &g.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertGeofence(ctx context.Context, q queryRower, g *domain.Geofence) error {
	return q.QueryRow(ctx, `
		INSERT INTO geofences (name, center_lat, center_lon, radius_km, allowed_minutes,
		                       created_by, active, regenerate)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
		RETURNING id, active, created_at
	`, g.Name, g.Center.Lat, g.Center.Lon, g.RadiusKm, g.AllowedMinutes, g.CreatedBy, g.Regenerate,
	).Scan(&g.ID, &g.Active, &g.CreatedAt)
}

func (r *GeofenceRepo) Create(ctx context.Context, g *domain.Geofence) error {
	return mapErr(insertGeofence(ctx, r.db.Pool, g))
}

func (r *GeofenceRepo) GetByID(ctx context.Context, id int64) (*domain.Geofence, error) {
	g, err := scanGeofence(r.db.Pool.QueryRow(ctx, `SELECT `+geofenceColumns+` FROM geofences WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return g, nil
}

func (r *GeofenceRepo) ListActive(ctx context.Context) ([]domain.Geofence, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+geofenceColumns+`
		FROM geofences WHERE active
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fences []domain.Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		fences = append(fences, *g)
	}
	return fences, rows.Err()
}

func (r *GeofenceRepo) SetProviderRef(ctx context.Context, id int64, ref string) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE geofences SET provider_ref = $2 WHERE id = $1`, id, ref)
	return mapErr(err)
}

func (r *GeofenceRepo) Deactivate(ctx context.Context, id int64, at time.Time) ([]domain.GeofenceTimer, error) {
	var cancelled []domain.GeofenceTimer
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE geofences SET active = false, regenerate = false, deleted_at = $2
			WHERE id = $1 AND active
		`, id, at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.NotFoundf("active geofence %d", id)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE violation_episodes
			SET state = 'resolved', resolved_at = $2, resolution_reason = $3, version = version + 1
			WHERE geofence_id = $1 AND state = 'open'
		`, id, at, domain.ResolvedGeofenceGone); err != nil {
			return err
		}
		cancelled, err = cancelTimers(ctx, tx, `geofence_id = $1`, id, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// Supersede carries open episodes over to next so an ongoing breach is not
// reported again, and cancels timers still running on the old geofence.
func (r *GeofenceRepo) Supersede(ctx context.Context, oldID int64, next *domain.Geofence) ([]domain.GeofenceTimer, error) {
	at := next.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	var cancelled []domain.GeofenceTimer
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		var active bool
		err := tx.QueryRow(ctx, `SELECT active FROM geofences WHERE id = $1 FOR UPDATE`, oldID).Scan(&active)
		if err != nil {
			return err
		}
		if !active {
			return domain.ErrCancelled
		}
		if err := insertGeofence(ctx, tx, next); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE geofences SET active = false, regenerate = false, superseded_by = $2
			WHERE id = $1
		`, oldID, next.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE trips SET geofence_id = $2, updated_at = now()
			WHERE geofence_id = $1 AND status NOT IN ('Completed', 'Canceled')
		`, oldID, next.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE violation_episodes SET geofence_id = $2, version = version + 1
			WHERE geofence_id = $1 AND state = 'open'
		`, oldID, next.ID); err != nil {
			return err
		}
		cancelled, err = cancelTimers(ctx, tx, `geofence_id = $1`, oldID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}
