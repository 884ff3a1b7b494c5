package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

const timerColumns = `trip_id, geofence_id, state, started_at, fire_at, fired_at, cancelled_at`

// TimerRepo implements ports.TimerRepository.
type TimerRepo struct {
	db *DB
}

func NewTimerRepo(db *DB) *TimerRepo {
	return &TimerRepo{db: db}
}

func scanTimer(row pgx.Row) (*domain.GeofenceTimer, error) {
	var t domain.GeofenceTimer
	err := row.Scan(&t.TripID, &t.GeofenceID, &t.State, &t.StartedAt, &t.FireAt, &t.FiredAt, &t.CancelledAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func collectTimers(rows pgx.Rows) ([]domain.GeofenceTimer, error) {
	defer rows.Close()
	var timers []domain.GeofenceTimer
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, *t)
	}
	return timers, rows.Err()
}

// cancelTimers cancels the running timers matched by where, whose only
// parameter is $1, and returns them.
func cancelTimers(ctx context.Context, tx pgx.Tx, where string, arg int64, at time.Time) ([]domain.GeofenceTimer, error) {
	rows, err := tx.Query(ctx, `
		UPDATE geofence_timers
		SET state = 'cancelled', cancelled_at = $2, updated_at = $2
		WHERE `+where+` AND state = 'running'
		RETURNING `+timerColumns, arg, at)
	if err != nil {
		return nil, err
	}
	return collectTimers(rows)
}

func (r *TimerRepo) Get(ctx context.Context, tripID, geofenceID int64) (*domain.GeofenceTimer, error) {
	t, err := scanTimer(r.db.Pool.QueryRow(ctx, `
		SELECT `+timerColumns+` FROM geofence_timers
		WHERE trip_id = $1 AND geofence_id = $2
	`, tripID, geofenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.GeofenceTimer{TripID: tripID, GeofenceID: geofenceID, State: domain.TimerIdle}, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (r *TimerRepo) Start(ctx context.Context, t *domain.GeofenceTimer) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		INSERT INTO geofence_timers (trip_id, geofence_id, state, started_at, fire_at, updated_at)
		VALUES ($1, $2, 'running', $3, $4, now())
		ON CONFLICT (trip_id, geofence_id) DO UPDATE
		SET state = 'running', started_at = EXCLUDED.started_at, fire_at = EXCLUDED.fire_at,
		    fired_at = NULL, cancelled_at = NULL, updated_at = now()
		WHERE geofence_timers.state <> 'running'
	`, t.TripID, t.GeofenceID, t.StartedAt, t.FireAt)
	if err != nil {
		return false, mapErr(err)
	}
	if tag.RowsAffected() == 1 {
		t.State = domain.TimerRunning
		return true, nil
	}
	current, err := r.Get(ctx, t.TripID, t.GeofenceID)
	if err != nil {
		return false, err
	}
	*t = *current
	return false, nil
}

func (r *TimerRepo) Transition(ctx context.Context, tripID, geofenceID int64, from, to domain.TimerState, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE geofence_timers
		SET state = $4::text,
		    fired_at = CASE WHEN $4::text = 'fired' THEN $5 ELSE fired_at END,
		    cancelled_at = CASE WHEN $4::text = 'cancelled' THEN $5 ELSE cancelled_at END,
		    updated_at = $5
		WHERE trip_id = $1 AND geofence_id = $2 AND state = $3::text
	`, tripID, geofenceID, string(from), string(to), at)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TimerRepo) ListByTrip(ctx context.Context, tripID int64) ([]domain.GeofenceTimer, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+timerColumns+` FROM geofence_timers
		WHERE trip_id = $1
		ORDER BY geofence_id
	`, tripID)
	if err != nil {
		return nil, err
	}
	return collectTimers(rows)
}
