package persistence

import (
	"context"
	"time"
)

// SeriesFilter narrows queries over the trips generated from one
// RepeatingTrip. Pointer fields are ignored when nil.
type SeriesFilter struct {
	// PickupAfter keeps trips whose pickup time is strictly later.
	PickupAfter *time.Time
	// PickupBefore keeps trips whose pickup time is strictly earlier.
	PickupBefore *time.Time
	// PickupDateAfter keeps trips whose pickup calendar date is strictly
	// later than the date of the supplied reference time.
	PickupDateAfter *time.Time
	// PickupDateOnOrBefore keeps trips whose pickup calendar date is at or
	// earlier than the date of the supplied reference time.
	PickupDateOnOrBefore *time.Time
	// CalledBack filters on the presence of a called-back timestamp.
	CalledBack *bool
}

// TripRepository exposes CRUD and range queries for trips.
type TripRepository interface {
	CreateTrip(ctx context.Context, trip Trip) error
	UpdateTrip(ctx context.Context, trip Trip) error
	GetTrip(ctx context.Context, id string) (Trip, error)
	DeleteTrip(ctx context.Context, id string) error
	// ListTripsForRun returns the trips assigned to a run ordered by pickup
	// time ascending.
	ListTripsForRun(ctx context.Context, runID string) ([]Trip, error)
	// ListVehicleTripsDuring returns every non-cab trip assigned to any run
	// of the vehicle whose [pickup, appointment] window intersects
	// [start, end].
	ListVehicleTripsDuring(ctx context.Context, vehicleID string, start, end time.Time) ([]Trip, error)
	// ListSeriesTrips returns the trips generated from the given series,
	// ordered by pickup time ascending.
	ListSeriesTrips(ctx context.Context, repeatingTripID string, filter SeriesFilter) ([]Trip, error)
	// DeleteTrips removes the identified trips. Unknown IDs are skipped.
	DeleteTrips(ctx context.Context, ids []string) error
	// ClearSeriesLink sets repeating_trip_id to NULL on the identified trips.
	ClearSeriesLink(ctx context.Context, ids []string) error
	// ReassignRunTrips moves every trip on fromRunID onto toRunID.
	ReassignRunTrips(ctx context.Context, fromRunID, toRunID string) error
}

// RunRepository exposes lookups mirroring the three queries the run resolver
// needs: containment, previous neighbor, next neighbor.
type RunRepository interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	DeleteRun(ctx context.Context, id string) error
	// FindContainingRun returns the run for vehicle+provider whose bounds
	// fully contain [pickup, appointment], or ErrNotFound.
	FindContainingRun(ctx context.Context, vehicleID, providerID string, pickup, appointment time.Time) (Run, error)
	// FindPreviousRun returns the latest-starting run for vehicle+provider
	// with scheduled start at or before the reference time, or ErrNotFound.
	FindPreviousRun(ctx context.Context, vehicleID, providerID string, reference time.Time) (Run, error)
	// FindNextRun returns the earliest-starting run for vehicle+provider
	// with scheduled start at or after the reference time, or ErrNotFound.
	FindNextRun(ctx context.Context, vehicleID, providerID string, reference time.Time) (Run, error)
	// ListRunsOverlapping returns the runs for vehicle+provider whose bounds
	// intersect [start, end], ordered by scheduled start ascending.
	ListRunsOverlapping(ctx context.Context, vehicleID, providerID string, start, end time.Time) ([]Run, error)
}

// RepeatingTripRepository stores recurrence templates.
type RepeatingTripRepository interface {
	CreateRepeatingTrip(ctx context.Context, template RepeatingTrip) error
	UpdateRepeatingTrip(ctx context.Context, template RepeatingTrip) error
	GetRepeatingTrip(ctx context.Context, id string) (RepeatingTrip, error)
	ListRepeatingTrips(ctx context.Context) ([]RepeatingTrip, error)
	DeleteRepeatingTrip(ctx context.Context, id string) error
}

// VehicleRepository exposes the vehicle catalog.
type VehicleRepository interface {
	CreateVehicle(ctx context.Context, vehicle Vehicle) error
	UpdateVehicle(ctx context.Context, vehicle Vehicle) error
	GetVehicle(ctx context.Context, id string) (Vehicle, error)
	ListVehicles(ctx context.Context) ([]Vehicle, error)
}

// Repos bundles the repositories participating in one transaction.
type Repos interface {
	Trips() TripRepository
	Runs() RunRepository
	RepeatingTrips() RepeatingTripRepository
	Vehicles() VehicleRepository
}

// Store opens transactions spanning all repositories. Every scheduling
// operation (run lookup, run mutation, trip save, series pruning) runs inside
// one transaction and rolls back as a unit on error.
type Store interface {
	Repos
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repos Repos) error) error
}
