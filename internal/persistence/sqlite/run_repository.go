package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

// RunRepository implements persistence.RunRepository using SQLite.
type RunRepository struct {
	q querier
}

const runColumns = `id, provider_id, run_date, scheduled_start, scheduled_end,
	vehicle_id, driver_id, complete, paid, start_odometer, end_odometer,
	created_at, updated_at`

// CreateRun inserts a new run.
func (r *RunRepository) CreateRun(ctx context.Context, run persistence.Run) error {
	if run.ID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, runArgs(run)...)
	return mapError(err)
}

// UpdateRun updates an existing run.
func (r *RunRepository) UpdateRun(ctx context.Context, run persistence.Run) error {
	query := `UPDATE runs SET provider_id = ?, run_date = ?, scheduled_start = ?,
		scheduled_end = ?, vehicle_id = ?, driver_id = ?, complete = ?,
		paid = ?, start_odometer = ?, end_odometer = ?, created_at = ?,
		updated_at = ?
		WHERE id = ?`
	args := append(runArgs(run)[1:], run.ID)
	result, err := r.q.ExecContext(ctx, query, args...)
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

// GetRun retrieves a run by ID.
func (r *RunRepository) GetRun(ctx context.Context, id string) (persistence.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`
	return scanRun(r.q.QueryRowContext(ctx, query, id))
}

// DeleteRun removes a run by ID.
func (r *RunRepository) DeleteRun(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
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

// FindContainingRun returns the vehicle's run whose scheduled window
// contains [pickup, appointment], if any.
func (r *RunRepository) FindContainingRun(ctx context.Context, vehicleID, providerID string, pickup, appointment time.Time) (persistence.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE vehicle_id = ? AND provider_id = ?
		  AND scheduled_start <= ? AND scheduled_end >= ?
		ORDER BY scheduled_start LIMIT 1`
	return scanRun(r.q.QueryRowContext(ctx, query, vehicleID, providerID, formatTime(pickup), formatTime(appointment)))
}

// FindPreviousRun returns the vehicle's latest run starting at or before
// the reference time.
func (r *RunRepository) FindPreviousRun(ctx context.Context, vehicleID, providerID string, reference time.Time) (persistence.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE vehicle_id = ? AND provider_id = ? AND scheduled_start <= ?
		ORDER BY scheduled_start DESC LIMIT 1`
	return scanRun(r.q.QueryRowContext(ctx, query, vehicleID, providerID, formatTime(reference)))
}

// FindNextRun returns the vehicle's earliest run starting at or after
// the reference time.
func (r *RunRepository) FindNextRun(ctx context.Context, vehicleID, providerID string, reference time.Time) (persistence.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE vehicle_id = ? AND provider_id = ? AND scheduled_start >= ?
		ORDER BY scheduled_start LIMIT 1`
	return scanRun(r.q.QueryRowContext(ctx, query, vehicleID, providerID, formatTime(reference)))
}

// ListRunsOverlapping returns the vehicle's runs whose scheduled windows
// intersect [start, end], ordered by start.
func (r *RunRepository) ListRunsOverlapping(ctx context.Context, vehicleID, providerID string, start, end time.Time) ([]persistence.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs
		WHERE vehicle_id = ? AND provider_id = ?
		  AND scheduled_start < ? AND scheduled_end > ?
		ORDER BY scheduled_start, id`
	rows, err := r.q.QueryContext(ctx, query, vehicleID, providerID, formatTime(end), formatTime(start))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var runs []persistence.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func runArgs(run persistence.Run) []any {
	return []any{
		run.ID,
		run.ProviderID,
		formatTime(run.Date),
		formatTime(run.ScheduledStart),
		formatTime(run.ScheduledEnd),
		run.VehicleID,
		run.DriverID,
		run.Complete,
		run.Paid,
		nullInt(run.StartOdometer),
		nullInt(run.EndOdometer),
		formatTime(run.CreatedAt),
		formatTime(run.UpdatedAt),
	}
}

func scanRun(row rowScanner) (persistence.Run, error) {
	var (
		run                        persistence.Run
		date, start, end           string
		createdAt, updatedAt       string
		startOdometer, endOdometer sql.NullInt64
	)
	err := row.Scan(
		&run.ID, &run.ProviderID, &date, &start, &end, &run.VehicleID,
		&run.DriverID, &run.Complete, &run.Paid, &startOdometer, &endOdometer,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Run{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Run{}, err
	}

	if run.Date, err = parseTime(date); err != nil {
		return persistence.Run{}, fmt.Errorf("sqlite: run %s date: %w", run.ID, err)
	}
	if run.ScheduledStart, err = parseTime(start); err != nil {
		return persistence.Run{}, fmt.Errorf("sqlite: run %s scheduled_start: %w", run.ID, err)
	}
	if run.ScheduledEnd, err = parseTime(end); err != nil {
		return persistence.Run{}, fmt.Errorf("sqlite: run %s scheduled_end: %w", run.ID, err)
	}
	if run.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Run{}, err
	}
	if run.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Run{}, err
	}
	run.StartOdometer = intPtr(startOdometer)
	run.EndOdometer = intPtr(endOdometer)
	return run, nil
}
