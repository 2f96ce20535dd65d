package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

// VehicleRepository implements persistence.VehicleRepository using SQLite.
type VehicleRepository struct {
	q querier
}

const vehicleColumns = `id, provider_id, name, seating_capacity, active,
	created_at, updated_at`

// CreateVehicle inserts a new vehicle.
func (r *VehicleRepository) CreateVehicle(ctx context.Context, vehicle persistence.Vehicle) error {
	if vehicle.ID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO vehicles (` + vehicleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query,
		vehicle.ID, vehicle.ProviderID, vehicle.Name, vehicle.SeatingCapacity,
		vehicle.Active, formatTime(vehicle.CreatedAt), formatTime(vehicle.UpdatedAt))
	return mapError(err)
}

// UpdateVehicle updates an existing vehicle.
func (r *VehicleRepository) UpdateVehicle(ctx context.Context, vehicle persistence.Vehicle) error {
	query := `UPDATE vehicles SET provider_id = ?, name = ?,
		seating_capacity = ?, active = ?, created_at = ?, updated_at = ?
		WHERE id = ?`
	result, err := r.q.ExecContext(ctx, query,
		vehicle.ProviderID, vehicle.Name, vehicle.SeatingCapacity,
		vehicle.Active, formatTime(vehicle.CreatedAt), formatTime(vehicle.UpdatedAt),
		vehicle.ID)
	if err != nil {
		return mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// GetVehicle retrieves a vehicle by ID.
func (r *VehicleRepository) GetVehicle(ctx context.Context, id string) (persistence.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE id = ?`
	return scanVehicle(r.q.QueryRowContext(ctx, query, id))
}

// ListVehicles returns every vehicle ordered by name.
func (r *VehicleRepository) ListVehicles(ctx context.Context) ([]persistence.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles ORDER BY name, id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var vehicles []persistence.Vehicle
	for rows.Next() {
		vehicle, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		vehicles = append(vehicles, vehicle)
	}
	return vehicles, rows.Err()
}

func scanVehicle(row rowScanner) (persistence.Vehicle, error) {
	var (
		vehicle              persistence.Vehicle
		createdAt, updatedAt string
	)
	err := row.Scan(
		&vehicle.ID, &vehicle.ProviderID, &vehicle.Name,
		&vehicle.SeatingCapacity, &vehicle.Active, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Vehicle{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Vehicle{}, err
	}
	if vehicle.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Vehicle{}, err
	}
	if vehicle.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Vehicle{}, err
	}
	return vehicle, nil
}
