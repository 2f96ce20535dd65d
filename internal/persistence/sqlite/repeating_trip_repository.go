package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

// RepeatingTripRepository implements persistence.RepeatingTripRepository
// using SQLite. The weekday set is stored as seven boolean columns.
type RepeatingTripRepository struct {
	q querier
}

const repeatingTripColumns = `id, provider_id, customer_id, customer_group,
	group_size, pickup_address, dropoff_address, seed_pickup_time,
	seed_appointment_time, guest_count, attendant_count, round_trip, memo,
	driver_id, vehicle_id, customer_informed, interval_weeks,
	monday, tuesday, wednesday, thursday, friday, saturday, sunday,
	start_date, created_at, updated_at`

// CreateRepeatingTrip inserts a new recurrence template.
func (r *RepeatingTripRepository) CreateRepeatingTrip(ctx context.Context, template persistence.RepeatingTrip) error {
	if template.ID == "" {
		return persistence.ErrConstraintViolation
	}
	query := `INSERT INTO repeating_trips (` + repeatingTripColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.q.ExecContext(ctx, query, repeatingTripArgs(template)...)
	return mapError(err)
}

// UpdateRepeatingTrip updates an existing recurrence template.
func (r *RepeatingTripRepository) UpdateRepeatingTrip(ctx context.Context, template persistence.RepeatingTrip) error {
	query := `UPDATE repeating_trips SET provider_id = ?, customer_id = ?,
		customer_group = ?, group_size = ?, pickup_address = ?,
		dropoff_address = ?, seed_pickup_time = ?, seed_appointment_time = ?,
		guest_count = ?, attendant_count = ?, round_trip = ?, memo = ?,
		driver_id = ?, vehicle_id = ?, customer_informed = ?,
		interval_weeks = ?, monday = ?, tuesday = ?, wednesday = ?,
		thursday = ?, friday = ?, saturday = ?, sunday = ?, start_date = ?,
		created_at = ?, updated_at = ?
		WHERE id = ?`
	args := append(repeatingTripArgs(template)[1:], template.ID)
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

// GetRepeatingTrip retrieves a template by ID.
func (r *RepeatingTripRepository) GetRepeatingTrip(ctx context.Context, id string) (persistence.RepeatingTrip, error) {
	query := `SELECT ` + repeatingTripColumns + ` FROM repeating_trips WHERE id = ?`
	return scanRepeatingTrip(r.q.QueryRowContext(ctx, query, id))
}

// ListRepeatingTrips returns every template ordered by creation time.
func (r *RepeatingTripRepository) ListRepeatingTrips(ctx context.Context) ([]persistence.RepeatingTrip, error) {
	query := `SELECT ` + repeatingTripColumns + ` FROM repeating_trips
		ORDER BY created_at, id`
	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var templates []persistence.RepeatingTrip
	for rows.Next() {
		template, err := scanRepeatingTrip(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, template)
	}
	return templates, rows.Err()
}

// DeleteRepeatingTrip removes a template by ID.
func (r *RepeatingTripRepository) DeleteRepeatingTrip(ctx context.Context, id string) error {
	result, err := r.q.ExecContext(ctx, `DELETE FROM repeating_trips WHERE id = ?`, id)
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

func repeatingTripArgs(template persistence.RepeatingTrip) []any {
	days := weekdayColumns(template.Weekdays)
	return []any{
		template.ID,
		template.ProviderID,
		template.CustomerID,
		template.CustomerGroup,
		template.GroupSize,
		template.PickupAddress,
		template.DropoffAddress,
		formatTime(template.SeedPickupTime),
		formatTime(template.SeedAppointmentTime),
		template.GuestCount,
		template.AttendantCount,
		template.RoundTrip,
		nullString(template.Memo),
		nullString(template.DriverID),
		nullString(template.VehicleID),
		template.CustomerInformed,
		template.IntervalWeeks,
		days[time.Monday],
		days[time.Tuesday],
		days[time.Wednesday],
		days[time.Thursday],
		days[time.Friday],
		days[time.Saturday],
		days[time.Sunday],
		formatTime(template.StartDate),
		formatTime(template.CreatedAt),
		formatTime(template.UpdatedAt),
	}
}

func scanRepeatingTrip(row rowScanner) (persistence.RepeatingTrip, error) {
	var (
		template                     persistence.RepeatingTrip
		seedPickup, seedAppointment  string
		startDate                    string
		createdAt, updatedAt         string
		memo, driverID, vehicleID    sql.NullString
		days                         [7]bool
	)
	err := row.Scan(
		&template.ID, &template.ProviderID, &template.CustomerID,
		&template.CustomerGroup, &template.GroupSize,
		&template.PickupAddress, &template.DropoffAddress,
		&seedPickup, &seedAppointment, &template.GuestCount,
		&template.AttendantCount, &template.RoundTrip, &memo,
		&driverID, &vehicleID, &template.CustomerInformed,
		&template.IntervalWeeks,
		&days[time.Monday], &days[time.Tuesday], &days[time.Wednesday],
		&days[time.Thursday], &days[time.Friday], &days[time.Saturday],
		&days[time.Sunday],
		&startDate, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.RepeatingTrip{}, persistence.ErrNotFound
	}
	if err != nil {
		return persistence.RepeatingTrip{}, err
	}

	if template.SeedPickupTime, err = parseTime(seedPickup); err != nil {
		return persistence.RepeatingTrip{}, fmt.Errorf("sqlite: repeating trip %s seed_pickup_time: %w", template.ID, err)
	}
	if template.SeedAppointmentTime, err = parseTime(seedAppointment); err != nil {
		return persistence.RepeatingTrip{}, fmt.Errorf("sqlite: repeating trip %s seed_appointment_time: %w", template.ID, err)
	}
	if template.StartDate, err = parseTime(startDate); err != nil {
		return persistence.RepeatingTrip{}, fmt.Errorf("sqlite: repeating trip %s start_date: %w", template.ID, err)
	}
	if template.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.RepeatingTrip{}, err
	}
	if template.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.RepeatingTrip{}, err
	}
	template.Memo = stringPtr(memo)
	template.DriverID = stringPtr(driverID)
	template.VehicleID = stringPtr(vehicleID)
	template.Weekdays = weekdaysFromColumns(days)
	return template, nil
}

func weekdayColumns(weekdays []time.Weekday) [7]bool {
	var days [7]bool
	for _, day := range weekdays {
		days[day] = true
	}
	return days
}

func weekdaysFromColumns(days [7]bool) []time.Weekday {
	var weekdays []time.Weekday
	for day := time.Sunday; day <= time.Saturday; day++ {
		if days[day] {
			weekdays = append(weekdays, day)
		}
	}
	return weekdays
}
