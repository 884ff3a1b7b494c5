package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

const tripColumns = `
	id, vehicle_id, driver_id, admin_id, geofence_id, source, destination,
	status, tonnage, upvotes, downvotes, COALESCE(next_halt, ''), COALESCE(safety_info, ''),
	route_details, started_at, created_at, updated_at`

// TripRepo implements ports.TripRepository.
type TripRepo struct {
	db *DB
}

func NewTripRepo(db *DB) *TripRepo {
	return &TripRepo{db: db}
}

func scanTrip(row pgx.Row) (*domain.Trip, error) {
	var t domain.Trip
	var route []byte
	err := row.Scan(&t.ID, &t.VehicleID, &t.DriverID, &t.AdminID, &t.GeofenceID,
		&t.Source, &t.Destination, &t.Status, &t.Tonnage, &t.Upvotes, &t.Downvotes, &t.NextHalt, &t.SafetyInfo,
		&route, &t.StartedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(route) > 0 {
		t.RouteDetails = json.RawMessage(route)
	}
	return &t, nil
}

func jsonArg(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

// reserveTonnage takes tonnage from the vehicle's remaining capacity. A
// negative amount gives capacity back.
func reserveTonnage(ctx context.Context, tx pgx.Tx, vehicleID int64, tonnage float64) (float64, error) {
	var remaining float64
	err := tx.QueryRow(ctx, `
		UPDATE vehicles SET remaining_tonnage = remaining_tonnage - $2
		WHERE id = $1 AND remaining_tonnage >= $2
		RETURNING remaining_tonnage
	`, vehicleID, tonnage).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.Invalidf("tonnage %.2f exceeds remaining capacity of vehicle %d", tonnage, vehicleID)
	}
	return remaining, err
}

// Create stores the trip and its stops and reserves the trip's tonnage on
// the vehicle in the same transaction.
func (r *TripRepo) Create(ctx context.Context, trip *domain.Trip, stops []string) error {
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if trip.VehicleID != nil && trip.Tonnage > 0 {
			if _, err := reserveTonnage(ctx, tx, *trip.VehicleID, trip.Tonnage); err != nil {
				return err
			}
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO trips (vehicle_id, driver_id, admin_id, geofence_id, source, destination,
			                   status, tonnage, next_halt, safety_info, route_details)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id, created_at, updated_at
		`, trip.VehicleID, trip.DriverID, trip.AdminID, trip.GeofenceID, trip.Source, trip.Destination,
			string(trip.Status), trip.Tonnage, nilIfEmpty(trip.NextHalt), nilIfEmpty(trip.SafetyInfo),
			jsonArg(trip.RouteDetails),
		).Scan(&trip.ID, &trip.CreatedAt, &trip.UpdatedAt)
		if err != nil {
			return err
		}
		for i, stop := range stops {
			if _, err := tx.Exec(ctx, `
				INSERT INTO intermediate_destinations (trip_id, destination, sequence)
				VALUES ($1, $2, $3)
			`, trip.ID, stop, i+1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *TripRepo) GetByID(ctx context.Context, id int64) (*domain.Trip, error) {
	t, err := scanTrip(r.db.Pool.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (r *TripRepo) ListByVehicle(ctx context.Context, vehicleID int64) ([]domain.Trip, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trips WHERE vehicle_id = $1
		ORDER BY created_at DESC, id DESC
	`, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, *t)
	}
	return trips, rows.Err()
}

func (r *TripRepo) ActiveByDriver(ctx context.Context, driverID int64) (*domain.Trip, error) {
	t, err := scanTrip(r.db.Pool.QueryRow(ctx, `
		SELECT `+tripColumns+`
		FROM trips WHERE driver_id = $1 AND status = 'In-Route'
	`, driverID))
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (r *TripRepo) Assign(ctx context.Context, tripID, driverID int64, route json.RawMessage) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trips
		SET driver_id = $2, status = 'Assigned',
		    route_details = COALESCE($3::jsonb, route_details), updated_at = now()
		WHERE id = $1 AND status = 'Pending'
	`, tripID, driverID, jsonArg(route))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return r.missingOr(ctx, tripID, domain.ErrInvalidTransition)
	}
	return nil
}

// missingOr returns ErrNotFound when the trip does not exist, otherwise err.
func (r *TripRepo) missingOr(ctx context.Context, tripID int64, err error) error {
	var exists bool
	if qerr := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM trips WHERE id = $1)`, tripID).Scan(&exists); qerr != nil {
		return qerr
	}
	if !exists {
		return domain.NotFoundf("trip %d", tripID)
	}
	return err
}

func (r *TripRepo) UpdateStatus(ctx context.Context, tripID int64, from, to domain.TripStatus, at time.Time) ([]domain.GeofenceTimer, error) {
	var cancelled []domain.GeofenceTimer
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE trips
			SET status = $3::text,
			    started_at = CASE WHEN $3::text = 'In-Route' THEN $4 ELSE started_at END,
			    updated_at = $4
			WHERE id = $1 AND status = $2::text
		`, tripID, string(from), string(to), at)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrConcurrencyConflict
		}
		if from != domain.TripInRoute {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE violation_episodes
			SET state = 'resolved', resolved_at = $2, resolution_reason = $3, version = version + 1
			WHERE trip_id = $1 AND state = 'open'
		`, tripID, at, domain.ResolvedTripStatus); err != nil {
			return err
		}
		cancelled, err = cancelTimers(ctx, tx, `trip_id = $1`, tripID, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

func (r *TripRepo) Vote(ctx context.Context, tripID int64, up bool) error {
	column := "downvotes"
	if up {
		column = "upvotes"
	}
	tag, err := r.db.Pool.Exec(ctx, `UPDATE trips SET `+column+` = `+column+` + 1, updated_at = now() WHERE id = $1`, tripID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("trip %d", tripID)
	}
	return nil
}

// UpdateTonnage sets the trip's tonnage and moves the difference against the
// vehicle's remaining capacity. It returns the capacity left afterwards.
func (r *TripRepo) UpdateTonnage(ctx context.Context, tripID int64, tonnage float64) (float64, error) {
	var remaining float64
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		var (
			vehicleID *int64
			current   float64
		)
		if err := tx.QueryRow(ctx, `
			SELECT vehicle_id, tonnage FROM trips WHERE id = $1 FOR UPDATE
		`, tripID).Scan(&vehicleID, &current); err != nil {
			return err
		}
		if vehicleID == nil {
			return domain.Invalidf("trip %d has no vehicle", tripID)
		}
		var err error
		if remaining, err = reserveTonnage(ctx, tx, *vehicleID, tonnage-current); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `UPDATE trips SET tonnage = $2, updated_at = now() WHERE id = $1`, tripID, tonnage)
		return err
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func (r *TripRepo) LinkGeofence(ctx context.Context, tripID, geofenceID int64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE trips SET geofence_id = $2, updated_at = now() WHERE id = $1
	`, tripID, geofenceID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFoundf("trip %d", tripID)
	}
	return nil
}

func (r *TripRepo) AddIntermediateDestination(ctx context.Context, d *domain.IntermediateDestination) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO intermediate_destinations (trip_id, destination, sequence)
		VALUES ($1, $2, $3)
		RETURNING id
	`, d.TripID, d.Destination, d.Sequence).Scan(&d.ID)
	return mapErr(err)
}

func (r *TripRepo) ListIntermediateDestinations(ctx context.Context, tripID int64) ([]domain.IntermediateDestination, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, trip_id, destination, sequence
		FROM intermediate_destinations
		WHERE trip_id = $1
		ORDER BY sequence
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []domain.IntermediateDestination
	for rows.Next() {
		var d domain.IntermediateDestination
		if err := rows.Scan(&d.ID, &d.TripID, &d.Destination, &d.Sequence); err != nil {
			return nil, err
		}
		stops = append(stops, d)
	}
	return stops, rows.Err()
}
