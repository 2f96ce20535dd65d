package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

// TripRepository implements persistence.TripRepository using SQLite.
type TripRepository struct {
	q        querier
	location *time.Location
}

const tripColumns = `id, provider_id, customer_id, customer_group, group_size,
	pickup_address, dropoff_address, pickup_time, appointment_time,
	guest_count, attendant_count, cab, round_trip, run_id,
	requested_driver_id, requested_vehicle_id, repeating_trip_id,
	called_back_at, result_code, memo, created_at, updated_at`

// CreateTrip inserts a new trip.
func (r *TripRepository) CreateTrip(ctx context.Context, trip persistence.Trip) error {
	if trip.ID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO trips (` + tripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, tripArgs(trip)...)
	return mapError(err)
}

// UpdateTrip updates an existing trip.
func (r *TripRepository) UpdateTrip(ctx context.Context, trip persistence.Trip) error {
	query := `UPDATE trips SET provider_id = ?, customer_id = ?,
		customer_group = ?, group_size = ?, pickup_address = ?,
		dropoff_address = ?, pickup_time = ?, appointment_time = ?,
		guest_count = ?, attendant_count = ?, cab = ?, round_trip = ?,
		run_id = ?, requested_driver_id = ?, requested_vehicle_id = ?,
		repeating_trip_id = ?, called_back_at = ?, result_code = ?,
		memo = ?, created_at = ?, updated_at = ?
		WHERE id = ?`
	args := append(tripArgs(trip)[1:], trip.ID)
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

// GetTrip retrieves a trip by ID.
func (r *TripRepository) GetTrip(ctx context.Context, id string) (persistence.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = ?`
	return scanTrip(r.q.QueryRowContext(ctx, query, id))
}

// DeleteTrip removes a trip by ID.
func (r *TripRepository) DeleteTrip(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM trips WHERE id = ?`, id)
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

// ListTripsForRun returns the trips assigned to a run ordered by pickup
// time.
func (r *TripRepository) ListTripsForRun(ctx context.Context, runID string) ([]persistence.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips
		WHERE run_id = ? ORDER BY pickup_time, id`
	return r.queryTrips(ctx, query, runID)
}

// ListVehicleTripsDuring returns the vehicle's non-cab run trips whose
// windows intersect [start, end].
func (r *TripRepository) ListVehicleTripsDuring(ctx context.Context, vehicleID string, start, end time.Time) ([]persistence.Trip, error) {
	query := `SELECT ` + qualifiedTripColumns("t") + ` FROM trips t
		JOIN runs ru ON ru.id = t.run_id
		WHERE ru.vehicle_id = ? AND t.cab = 0
		  AND t.pickup_time < ? AND t.appointment_time > ?
		ORDER BY t.pickup_time, t.id`
	return r.queryTrips(ctx, query, vehicleID, formatTime(end), formatTime(start))
}

// ListSeriesTrips returns the instances of a series matching the filter.
func (r *TripRepository) ListSeriesTrips(ctx context.Context, repeatingTripID string, filter persistence.SeriesFilter) ([]persistence.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE repeating_trip_id = ?`
	args := []any{repeatingTripID}

	if filter.CalledBack != nil {
		if *filter.CalledBack {
			query += ` AND called_back_at IS NOT NULL`
		} else {
			query += ` AND called_back_at IS NULL`
		}
	}
	if filter.PickupAfter != nil {
		query += ` AND pickup_time > ?`
		args = append(args, formatTime(*filter.PickupAfter))
	}
	if filter.PickupBefore != nil {
		query += ` AND pickup_time < ?`
		args = append(args, formatTime(*filter.PickupBefore))
	}
	if filter.PickupDateAfter != nil {
		// Strictly later calendar date: at or past the next midnight.
		query += ` AND pickup_time >= ?`
		args = append(args, formatTime(nextMidnight(*filter.PickupDateAfter, r.location)))
	}
	if filter.PickupDateOnOrBefore != nil {
		query += ` AND pickup_time < ?`
		args = append(args, formatTime(nextMidnight(*filter.PickupDateOnOrBefore, r.location)))
	}

	query += ` ORDER BY pickup_time, id`
	return r.queryTrips(ctx, query, args...)
}

// DeleteTrips removes the identified trips; unknown IDs are skipped.
func (r *TripRepository) DeleteTrips(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `DELETE FROM trips WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx, query, args...)
	return mapError(err)
}

// ClearSeriesLink sets repeating_trip_id to NULL on the identified trips.
func (r *TripRepository) ClearSeriesLink(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE trips SET repeating_trip_id = NULL WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := r.q.ExecContext(ctx, query, args...)
	return mapError(err)
}

// ReassignRunTrips moves every trip on fromRunID onto toRunID.
func (r *TripRepository) ReassignRunTrips(ctx context.Context, fromRunID, toRunID string) error {
	_, err := r.q.ExecContext(ctx, `UPDATE trips SET run_id = ? WHERE run_id = ?`, toRunID, fromRunID)
	return mapError(err)
}

func (r *TripRepository) queryTrips(ctx context.Context, query string, args ...any) ([]persistence.Trip, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var trips []persistence.Trip
	for rows.Next() {
		trip, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, rows.Err()
}

func tripArgs(trip persistence.Trip) []any {
	return []any{
		trip.ID,
		trip.ProviderID,
		trip.CustomerID,
		trip.CustomerGroup,
		trip.GroupSize,
		trip.PickupAddress,
		trip.DropoffAddress,
		formatTime(trip.PickupTime),
		formatTime(trip.AppointmentTime),
		trip.GuestCount,
		trip.AttendantCount,
		trip.Cab,
		trip.RoundTrip,
		nullString(trip.RunID),
		nullString(trip.RequestedDriverID),
		nullString(trip.RequestedVehicleID),
		nullString(trip.RepeatingTripID),
		formatTimePtr(trip.CalledBackAt),
		nullString(trip.ResultCode),
		nullString(trip.Memo),
		formatTime(trip.CreatedAt),
		formatTime(trip.UpdatedAt),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (persistence.Trip, error) {
	var (
		trip                             persistence.Trip
		pickup, appointment              string
		createdAt, updatedAt             string
		runID, reqDriver, reqVehicle     sql.NullString
		seriesID, resultCode, memo       sql.NullString
		calledBackAt                     sql.NullString
	)
	err := row.Scan(
		&trip.ID, &trip.ProviderID, &trip.CustomerID, &trip.CustomerGroup,
		&trip.GroupSize, &trip.PickupAddress, &trip.DropoffAddress,
		&pickup, &appointment, &trip.GuestCount, &trip.AttendantCount,
		&trip.Cab, &trip.RoundTrip, &runID, &reqDriver, &reqVehicle,
		&seriesID, &calledBackAt, &resultCode, &memo, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.Trip{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.Trip{}, err
	}

	if trip.PickupTime, err = parseTime(pickup); err != nil {
		return persistence.Trip{}, fmt.Errorf("sqlite: trip %s pickup_time: %w", trip.ID, err)
	}
	if trip.AppointmentTime, err = parseTime(appointment); err != nil {
		return persistence.Trip{}, fmt.Errorf("sqlite: trip %s appointment_time: %w", trip.ID, err)
	}
	if trip.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Trip{}, err
	}
	if trip.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Trip{}, err
	}
	if trip.CalledBackAt, err = timePtr(calledBackAt); err != nil {
		return persistence.Trip{}, err
	}
	trip.RunID = stringPtr(runID)
	trip.RequestedDriverID = stringPtr(reqDriver)
	trip.RequestedVehicleID = stringPtr(reqVehicle)
	trip.RepeatingTripID = stringPtr(seriesID)
	trip.ResultCode = stringPtr(resultCode)
	trip.Memo = stringPtr(memo)
	return trip, nil
}

func qualifiedTripColumns(alias string) string {
	return alias + `.id, ` + alias + `.provider_id, ` + alias + `.customer_id, ` +
		alias + `.customer_group, ` + alias + `.group_size, ` +
		alias + `.pickup_address, ` + alias + `.dropoff_address, ` +
		alias + `.pickup_time, ` + alias + `.appointment_time, ` +
		alias + `.guest_count, ` + alias + `.attendant_count, ` +
		alias + `.cab, ` + alias + `.round_trip, ` + alias + `.run_id, ` +
		alias + `.requested_driver_id, ` + alias + `.requested_vehicle_id, ` +
		alias + `.repeating_trip_id, ` + alias + `.called_back_at, ` +
		alias + `.result_code, ` + alias + `.memo, ` +
		alias + `.created_at, ` + alias + `.updated_at`
}

func nextMidnight(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).AddDate(0, 0, 1)
}
