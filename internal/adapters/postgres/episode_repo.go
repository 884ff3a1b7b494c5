package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

const episodeColumns = `
	trip_id, geofence_id, state, COALESCE(kind, ''), report_id, opened_at,
	resolved_at, COALESCE(resolution_reason, ''), notified_at, version`

// EpisodeRepo implements ports.EpisodeRepository. Geofence id 0 is the
// trip-level episode used by manual delay marking.
type EpisodeRepo struct {
	db *DB
}

func NewEpisodeRepo(db *DB) *EpisodeRepo {
	return &EpisodeRepo{db: db}
}

func scanEpisode(row pgx.Row) (*domain.ViolationEpisode, error) {
	var e domain.ViolationEpisode
	err := row.Scan(&e.TripID, &e.GeofenceID, &e.State, &e.Kind, &e.ReportID, &e.OpenedAt,
		&e.ResolvedAt, &e.ResolutionReason, &e.NotifiedAt, &e.Version)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *EpisodeRepo) Get(ctx context.Context, tripID, geofenceID int64) (*domain.ViolationEpisode, error) {
	e, err := scanEpisode(r.db.Pool.QueryRow(ctx, `
		SELECT `+episodeColumns+` FROM violation_episodes
		WHERE trip_id = $1 AND geofence_id = $2
	`, tripID, geofenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.ViolationEpisode{TripID: tripID, GeofenceID: geofenceID, State: domain.EpisodeIdle}, nil
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func (r *EpisodeRepo) ListByTrip(ctx context.Context, tripID int64) ([]domain.ViolationEpisode, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+episodeColumns+` FROM violation_episodes
		WHERE trip_id = $1
		ORDER BY geofence_id
	`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var eps []domain.ViolationEpisode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		eps = append(eps, *e)
	}
	return eps, rows.Err()
}

// OpenWithReport seeds the episode row, then locks it with NOWAIT so a
// concurrent opener fails fast instead of queueing behind the lock.
func (r *EpisodeRepo) OpenWithReport(ctx context.Context, ep *domain.ViolationEpisode, report *domain.DelayReport) (bool, error) {
	opened := false
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO violation_episodes (trip_id, geofence_id, state, version)
			VALUES ($1, $2, 'idle', 0)
			ON CONFLICT (trip_id, geofence_id) DO NOTHING
		`, ep.TripID, ep.GeofenceID); err != nil {
			return err
		}

		var state domain.EpisodeState
		var version int
		err := tx.QueryRow(ctx, `
			SELECT state, version FROM violation_episodes
			WHERE trip_id = $1 AND geofence_id = $2
			FOR UPDATE NOWAIT
		`, ep.TripID, ep.GeofenceID).Scan(&state, &version)
		if err != nil {
			return err
		}
		if state == domain.EpisodeOpen {
			return nil
		}

		if err := insertReport(ctx, tx, report); err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			UPDATE violation_episodes
			SET state = 'open', kind = $3, report_id = $4, opened_at = $5,
			    resolved_at = NULL, resolution_reason = NULL, notified_at = NULL,
			    version = version + 1
			WHERE trip_id = $1 AND geofence_id = $2
			RETURNING version
		`, ep.TripID, ep.GeofenceID, string(ep.Kind), report.ID, report.CreatedAt).Scan(&ep.Version)
		if err != nil {
			return err
		}
		opened = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if opened {
		ep.State = domain.EpisodeOpen
		ep.ReportID = &report.ID
		openedAt := report.CreatedAt
		ep.OpenedAt = &openedAt
	}
	return opened, nil
}

func (r *EpisodeRepo) Resolve(ctx context.Context, tripID, geofenceID int64, reason string, at time.Time) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE violation_episodes
		SET state = 'resolved', resolved_at = $3, resolution_reason = $4, version = version + 1
		WHERE trip_id = $1 AND geofence_id = $2 AND state = 'open'
	`, tripID, geofenceID, at, reason)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *EpisodeRepo) MarkNotified(ctx context.Context, tripID, geofenceID int64, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `
		UPDATE violation_episodes SET notified_at = $3
		WHERE trip_id = $1 AND geofence_id = $2
	`, tripID, geofenceID, at)
	return mapErr(err)
}
