package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

const reportColumns = `id, driver_id, trip_id, reason, COALESCE(custom_message, ''), auto, acknowledged_at, created_at`

// DelayReportRepo implements ports.DelayReportRepository.
type DelayReportRepo struct {
	db *DB
}

func NewDelayReportRepo(db *DB) *DelayReportRepo {
	return &DelayReportRepo{db: db}
}

func scanReport(row pgx.Row) (*domain.DelayReport, error) {
	var d domain.DelayReport
	err := row.Scan(&d.ID, &d.DriverID, &d.TripID, &d.Reason, &d.CustomMessage, &d.Auto, &d.AcknowledgedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func insertReport(ctx context.Context, q queryRower, d *domain.DelayReport) error {
	return q.QueryRow(ctx, `
		INSERT INTO delay_reports (driver_id, trip_id, reason, custom_message, auto)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, d.DriverID, d.TripID, d.Reason, nilIfEmpty(d.CustomMessage), d.Auto).Scan(&d.ID, &d.CreatedAt)
}

func (r *DelayReportRepo) Create(ctx context.Context, d *domain.DelayReport) error {
	return mapErr(insertReport(ctx, r.db.Pool, d))
}

func (r *DelayReportRepo) GetByID(ctx context.Context, id int64) (*domain.DelayReport, error) {
	d, err := scanReport(r.db.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM delay_reports WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return d, nil
}

func (r *DelayReportRepo) ListByDriver(ctx context.Context, driverID int64) ([]domain.DelayReport, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+reportColumns+`
		FROM delay_reports WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
	`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.DelayReport
	for rows.Next() {
		d, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *d)
	}
	return reports, rows.Err()
}

// Acknowledge is idempotent: the first acknowledgement time is kept.
func (r *DelayReportRepo) Acknowledge(ctx context.Context, id int64, at time.Time) (*domain.DelayReport, error) {
	var report *domain.DelayReport
	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		report, err = scanReport(tx.QueryRow(ctx, `
			UPDATE delay_reports SET acknowledged_at = COALESCE(acknowledged_at, $2)
			WHERE id = $1
			RETURNING `+reportColumns, id, at))
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE violation_episodes
			SET state = 'resolved', resolved_at = $2, resolution_reason = $3, version = version + 1
			WHERE report_id = $1 AND state = 'open'
		`, id, at, domain.ResolvedAcknowledged)
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// RankDrivers lists every driver with their report count, most reports first.
func (r *DelayReportRepo) RankDrivers(ctx context.Context) ([]domain.DriverReportSummary, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT u.id, u.name, COUNT(d.id)
		FROM users u
		LEFT JOIN delay_reports d ON d.driver_id = u.id
		WHERE u.role = 'driver'
		GROUP BY u.id, u.name
		ORDER BY COUNT(d.id) DESC, u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DriverReportSummary
	for rows.Next() {
		var s domain.DriverReportSummary
		if err := rows.Scan(&s.DriverID, &s.DriverName, &s.TotalReports); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
