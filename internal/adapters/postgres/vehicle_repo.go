package postgres

import (
	"context"

	"github.com/samirrijal/geotrack/internal/core/domain"
)

// VehicleRepo implements ports.VehicleRepository.
type VehicleRepo struct {
	db *DB
}

func NewVehicleRepo(db *DB) *VehicleRepo {
	return &VehicleRepo{db: db}
}

func (r *VehicleRepo) GetByID(ctx context.Context, id int64) (*domain.Vehicle, error) {
	var v domain.Vehicle
	err := r.db.Pool.QueryRow(ctx, `
		SELECT id, vehicle_number, total_tonnage, remaining_tonnage, driver_id
		FROM vehicles WHERE id = $1
	`, id).Scan(&v.ID, &v.VehicleNumber, &v.TotalTonnage, &v.RemainingTonnage, &v.DriverID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}
