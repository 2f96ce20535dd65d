package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
	"github.com/example/paratransit-scheduler/internal/scheduler"
	"github.com/example/paratransit-scheduler/internal/timeparse"
)

// TripService orchestrates trip persistence: run resolution, capacity and
// driver validation, and recurring-series synchronization. Every save runs in
// one transaction; validation failures roll back all staged run mutations.
type TripService struct {
	store       persistence.Store
	series      *SeriesManager
	hours       scheduler.BusinessHours
	location    *time.Location
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	vehicles    keyedMutex
}

// NewTripService wires dependencies for trip operations. The series manager
// is bound to the service so generated instances flow through the same run
// resolution as directly booked trips.
func NewTripService(store persistence.Store, series *SeriesManager, hours scheduler.BusinessHours, loc *time.Location, idGenerator func() string, now func() time.Time) *TripService {
	return NewTripServiceWithLogger(store, series, hours, loc, idGenerator, now, nil)
}

// NewTripServiceWithLogger wires dependencies with an explicit logger.
func NewTripServiceWithLogger(store persistence.Store, series *SeriesManager, hours scheduler.BusinessHours, loc *time.Location, idGenerator func() string, now func() time.Time, logger *slog.Logger) *TripService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.Local
	}
	svc := &TripService{
		store:       store,
		series:      series,
		hours:       hours,
		location:    loc,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
	if series != nil {
		series.bind(svc)
	}
	return svc
}

// Save validates and persists a trip, resolving its run and synchronizing
// its recurring series. It returns *ValidationError for recoverable input
// and scheduling problems; staged mutations are rolled back in that case.
func (s *TripService) Save(ctx context.Context, input TripInput) (Trip, error) {
	logger := serviceLogger(ctx, s.logger, "trip", "save", "trip_id", input.ID)

	vErr := &ValidationError{}
	pickup := s.parseRequiredTime(input.PickupTime, "pickup_time", vErr)
	appointment := s.parseRequiredTime(input.AppointmentTime, "appointment_time", vErr)
	validateTripInput(input, pickup, appointment, vErr)
	if vErr.HasErrors() {
		return Trip{}, vErr
	}

	// Two concurrent resolutions for one vehicle must not interleave: both
	// could decide to create overlapping runs or merge the same pair.
	if resolutionNeeded(input) {
		unlock := s.vehicles.lock(*input.VehicleID)
		defer unlock()
	}

	var saved persistence.Trip
	err := s.store.WithTransaction(ctx, func(ctx context.Context, repos persistence.Repos) error {
		now := s.now()
		creating := input.ID == ""

		var trip persistence.Trip
		if creating {
			trip = persistence.Trip{ID: s.idGenerator(), CreatedAt: now}
		} else {
			existing, err := repos.Trips().GetTrip(ctx, input.ID)
			if errors.Is(err, persistence.ErrNotFound) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			trip = existing
		}
		oldRunID := trip.RunID

		applyInput(&trip, input, pickup, appointment)
		trip.UpdatedAt = now

		switch {
		case input.RunID != nil:
			trip.RunID = input.RunID
		case resolutionNeeded(input):
			trip.RunID = nil
			if err := s.assignRun(ctx, repos, &trip, *input.VehicleID, derefString(input.DriverID)); err != nil {
				var conflict *scheduler.ConflictError
				if errors.As(err, &conflict) || errors.Is(err, scheduler.ErrOverlappingRuns) {
					vErr.add("base", "the existing runs for this vehicle cannot be rearranged to cover this trip")
					return vErr
				}
				return err
			}
		}

		runErr, err := s.validateRunAssignment(ctx, repos, &trip)
		if err != nil {
			return err
		}
		vErr.merge(runErr)
		if vErr.HasErrors() {
			return vErr
		}

		if creating {
			if err := repos.Trips().CreateTrip(ctx, trip); err != nil {
				return err
			}
		} else {
			if err := repos.Trips().UpdateTrip(ctx, trip); err != nil {
				return err
			}
		}

		if err := s.cleanupAbandonedRun(ctx, repos, oldRunID, trip.RunID); err != nil {
			return err
		}

		if s.series != nil {
			if err := s.series.Sync(ctx, repos, &trip, input.Recurrence, false); err != nil {
				return err
			}
		}

		saved = trip
		return nil
	})
	if err != nil {
		logger.Warn("trip save failed", "error", err, "error_kind", ErrorKind(err))
		return Trip{}, err
	}

	result, err := s.view(ctx, saved)
	if err != nil {
		return Trip{}, err
	}
	logger.Info("trip saved", "trip_id", saved.ID, "run_id", derefString(saved.RunID))
	return result, nil
}

// Get returns a single trip with its effective driver and vehicle resolved.
func (s *TripService) Get(ctx context.Context, id string) (Trip, error) {
	trip, err := s.store.Trips().GetTrip(ctx, id)
	if errors.Is(err, persistence.ErrNotFound) {
		return Trip{}, ErrNotFound
	}
	if err != nil {
		return Trip{}, err
	}
	return s.view(ctx, trip)
}

// Delete removes a trip.
func (s *TripService) Delete(ctx context.Context, id string) error {
	return s.store.WithTransaction(ctx, func(ctx context.Context, repos persistence.Repos) error {
		trip, err := repos.Trips().GetTrip(ctx, id)
		if errors.Is(err, persistence.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := repos.Trips().DeleteTrip(ctx, id); err != nil {
			return err
		}
		return s.cleanupAbandonedRun(ctx, repos, trip.RunID, nil)
	})
}

// resolutionNeeded reports whether the save should compute a run: not fixed
// by the caller, not a cab trip, and a vehicle was requested.
func resolutionNeeded(input TripInput) bool {
	return input.RunID == nil && !input.Cab && input.VehicleID != nil && *input.VehicleID != "" && input.ProviderID != ""
}

func (s *TripService) parseRequiredTime(value, field string, vErr *ValidationError) time.Time {
	if value == "" {
		vErr.add(field, "is required")
		return time.Time{}
	}
	t, err := timeparse.Parse(value, s.location)
	if err != nil {
		vErr.add(field, "is not a recognized date and time")
		return time.Time{}
	}
	return t
}

func validateTripInput(input TripInput, pickup, appointment time.Time, vErr *ValidationError) {
	if input.CustomerID == "" {
		vErr.add("customer_id", "is required")
	}
	if input.GuestCount < 0 {
		vErr.add("guest_count", "must be zero or more")
	}
	if input.AttendantCount < 0 {
		vErr.add("attendant_count", "must be zero or more")
	}
	if input.CustomerGroup && input.GroupSize < 1 {
		vErr.add("group_size", "must be at least one for a group customer")
	}
	if !pickup.IsZero() && !appointment.IsZero() && appointment.Before(pickup) {
		vErr.add("time", "appointment must not be before pickup")
	}
	if input.Recurrence != nil {
		if input.Recurrence.IntervalWeeks < 1 {
			vErr.add("recurrence_interval", "must be at least one week")
		}
		if len(input.Recurrence.Weekdays) == 0 {
			vErr.add("recurrence_weekdays", "must select at least one day")
		}
	}
}

func applyInput(trip *persistence.Trip, input TripInput, pickup, appointment time.Time) {
	trip.ProviderID = input.ProviderID
	trip.CustomerID = input.CustomerID
	trip.CustomerGroup = input.CustomerGroup
	trip.GroupSize = input.GroupSize
	trip.PickupAddress = input.PickupAddress
	trip.DropoffAddress = input.DropoffAddress
	trip.PickupTime = pickup
	trip.AppointmentTime = appointment
	trip.GuestCount = input.GuestCount
	trip.AttendantCount = input.AttendantCount
	trip.Cab = input.Cab
	trip.RoundTrip = input.RoundTrip
	trip.RequestedDriverID = input.DriverID
	trip.RequestedVehicleID = input.VehicleID
	trip.CalledBackAt = input.CalledBackAt
	trip.ResultCode = input.ResultCode
	trip.Memo = input.Memo
}

// assignRun resolves and applies the run for a trip inside the current
// transaction. It implements the instanceAssigner contract used by the
// series manager.
func (s *TripService) assignRun(ctx context.Context, repos persistence.Repos, trip *persistence.Trip, vehicleID, driverID string) error {
	window := scheduler.TimeWindow{Pickup: trip.PickupTime, Appointment: trip.AppointmentTime}
	if !window.Valid() {
		return nil
	}

	neighbors, err := s.loadNeighbors(ctx, repos, vehicleID, trip.ProviderID, window)
	if err != nil {
		return err
	}

	plan, err := scheduler.Resolve(scheduler.Request{
		VehicleID:  vehicleID,
		ProviderID: trip.ProviderID,
		DriverID:   driverID,
		Window:     window,
		Location:   s.location,
	}, neighbors, s.hours)
	if err != nil {
		return err
	}

	if err := s.applyPlan(ctx, repos, trip, plan); err != nil {
		return err
	}

	return s.verifyRunSeparation(ctx, repos, vehicleID, trip.ProviderID, window.Pickup)
}

func (s *TripService) loadNeighbors(ctx context.Context, repos persistence.Repos, vehicleID, providerID string, window scheduler.TimeWindow) (scheduler.Neighbors, error) {
	runs := repos.Runs()

	containing, err := runs.FindContainingRun(ctx, vehicleID, providerID, window.Pickup, window.Appointment)
	if err == nil {
		run := toSchedulerRun(containing)
		return scheduler.Neighbors{Containing: &run}, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return scheduler.Neighbors{}, err
	}

	var neighbors scheduler.Neighbors

	previous, hasPrevious, err := findRun(func() (persistence.Run, error) {
		return runs.FindPreviousRun(ctx, vehicleID, providerID, window.Appointment)
	})
	if err != nil {
		return scheduler.Neighbors{}, err
	}

	next, hasNext, err := findRun(func() (persistence.Run, error) {
		return runs.FindNextRun(ctx, vehicleID, providerID, window.Pickup)
	})
	if err != nil {
		return scheduler.Neighbors{}, err
	}

	// A run starting inside the window satisfies both neighbor queries and
	// shadows the run actually preceding it. Re-anchor the previous lookup at
	// the pickup to recover the true neighbor; when none exists the run is
	// handed over as both neighbors and widened in place.
	if hasPrevious && hasNext && previous.ID == next.ID {
		previous, hasPrevious, err = findRun(func() (persistence.Run, error) {
			return runs.FindPreviousRun(ctx, vehicleID, providerID, window.Pickup)
		})
		if err != nil {
			return scheduler.Neighbors{}, err
		}
		if !hasPrevious {
			previous, hasPrevious = next, true
		}
	}

	if hasPrevious {
		run := toSchedulerRun(previous)
		neighbors.Previous = &run
		neighbors.PreviousTrips, err = s.tripWindows(ctx, repos, previous.ID)
		if err != nil {
			return scheduler.Neighbors{}, err
		}
	}
	if hasNext {
		run := toSchedulerRun(next)
		neighbors.Next = &run
		neighbors.NextTrips, err = s.tripWindows(ctx, repos, next.ID)
		if err != nil {
			return scheduler.Neighbors{}, err
		}
	}

	return neighbors, nil
}

func findRun(lookup func() (persistence.Run, error)) (persistence.Run, bool, error) {
	run, err := lookup()
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.Run{}, false, nil
	}
	if err != nil {
		return persistence.Run{}, false, err
	}
	return run, true, nil
}

func (s *TripService) tripWindows(ctx context.Context, repos persistence.Repos, runID string) ([]scheduler.TimeWindow, error) {
	trips, err := repos.Trips().ListTripsForRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	windows := make([]scheduler.TimeWindow, 0, len(trips))
	for _, t := range trips {
		windows = append(windows, scheduler.TimeWindow{Pickup: t.PickupTime, Appointment: t.AppointmentTime})
	}
	return windows, nil
}

func (s *TripService) applyPlan(ctx context.Context, repos persistence.Repos, trip *persistence.Trip, plan scheduler.Plan) error {
	runs := repos.Runs()
	now := s.now()

	if plan.Create != nil {
		run := persistence.Run{
			ID:             s.idGenerator(),
			ProviderID:     plan.Create.ProviderID,
			Date:           plan.Create.Date,
			ScheduledStart: plan.Create.ScheduledStart,
			ScheduledEnd:   plan.Create.ScheduledEnd,
			VehicleID:      plan.Create.VehicleID,
			DriverID:       plan.Create.DriverID,
			Complete:       plan.Create.Complete,
			Paid:           plan.Create.Paid,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := runs.CreateRun(ctx, run); err != nil {
			return err
		}
		trip.RunID = &run.ID
		return nil
	}

	for _, change := range plan.Changes {
		run, err := runs.GetRun(ctx, change.RunID)
		if err != nil {
			return err
		}
		if change.Start != nil {
			run.ScheduledStart = *change.Start
		}
		if change.End != nil {
			run.ScheduledEnd = *change.End
		}
		if change.EndOdometer != nil {
			run.EndOdometer = change.EndOdometer
		}
		run.UpdatedAt = now
		if err := runs.UpdateRun(ctx, run); err != nil {
			return err
		}
	}

	if plan.ReassignTripsFromRunID != "" {
		if err := repos.Trips().ReassignRunTrips(ctx, plan.ReassignTripsFromRunID, plan.AssignRunID); err != nil {
			return err
		}
	}
	if plan.DestroyRunID != "" {
		if err := runs.DeleteRun(ctx, plan.DestroyRunID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return err
		}
	}

	assigned := plan.AssignRunID
	trip.RunID = &assigned
	return nil
}

// verifyRunSeparation asserts the post-resolution safety invariant for the
// affected vehicle and date. A failure here is a bug, never user input.
func (s *TripService) verifyRunSeparation(ctx context.Context, repos persistence.Repos, vehicleID, providerID string, reference time.Time) error {
	y, m, d := reference.In(s.location).Date()
	dayStart := time.Date(y, m, d, 0, 0, 0, 0, s.location)
	dayEnd := dayStart.AddDate(0, 0, 1)

	stored, err := repos.Runs().ListRunsOverlapping(ctx, vehicleID, providerID, dayStart, dayEnd)
	if err != nil {
		return err
	}
	runs := make([]scheduler.Run, 0, len(stored))
	for _, run := range stored {
		runs = append(runs, toSchedulerRun(run))
	}
	if err := scheduler.VerifyNoOverlap(runs); err != nil {
		return fmt.Errorf("post-resolution check for vehicle %s: %w", vehicleID, err)
	}
	return nil
}

// validateRunAssignment applies the driver-consistency and seating-capacity
// checks. Both are evaluated so that both failures reach the caller, which
// merges the result into its own validation error.
func (s *TripService) validateRunAssignment(ctx context.Context, repos persistence.Repos, trip *persistence.Trip) (*ValidationError, error) {
	vErr := &ValidationError{}
	if trip.RunID == nil {
		return vErr, nil
	}

	run, err := repos.Runs().GetRun(ctx, *trip.RunID)
	if errors.Is(err, persistence.ErrNotFound) {
		vErr.add("run_id", "does not exist")
		return vErr, nil
	}
	if err != nil {
		return nil, err
	}

	if run.DriverID != "" && trip.RequestedDriverID != nil && *trip.RequestedDriverID != "" && *trip.RequestedDriverID != run.DriverID {
		vErr.add("driver_id", "is not the driver for the selected vehicle during this vehicle's run")
	}

	if trip.PickupTime.IsZero() || trip.AppointmentTime.IsZero() {
		return vErr, nil
	}

	vehicle, err := repos.Vehicles().GetVehicle(ctx, run.VehicleID)
	if errors.Is(err, persistence.ErrNotFound) {
		vErr.add("vehicle_id", "does not exist")
		return vErr, nil
	}
	if err != nil {
		return nil, err
	}

	window := scheduler.TimeWindow{Pickup: trip.PickupTime, Appointment: trip.AppointmentTime}
	others, err := repos.Trips().ListVehicleTripsDuring(ctx, run.VehicleID, window.Pickup, window.Appointment)
	if err != nil {
		return nil, err
	}
	occupants := make([]scheduler.Occupant, 0, len(others))
	for _, other := range others {
		occupants = append(occupants, scheduler.Occupant{
			TripID: other.ID,
			Window: scheduler.TimeWindow{Pickup: other.PickupTime, Appointment: other.AppointmentTime},
			Size:   scheduler.TripSize(other.CustomerGroup, other.GroupSize, other.GuestCount, other.AttendantCount),
		})
	}

	size := scheduler.TripSize(trip.CustomerGroup, trip.GroupSize, trip.GuestCount, trip.AttendantCount)
	if scheduler.OpenSeatingCapacity(vehicle.SeatingCapacity, occupants, window, trip.ID) < size {
		vErr.add("base", "there is not enough open capacity on this run to accommodate this trip")
	}
	return vErr, nil
}

// cleanupAbandonedRun removes the previously assigned run when the trip
// moved elsewhere or was deleted and nothing else rides it.
func (s *TripService) cleanupAbandonedRun(ctx context.Context, repos persistence.Repos, oldRunID, newRunID *string) error {
	if oldRunID == nil {
		return nil
	}
	if newRunID != nil && *newRunID == *oldRunID {
		return nil
	}
	remaining, err := repos.Trips().ListTripsForRun(ctx, *oldRunID)
	if err != nil {
		return err
	}
	if len(remaining) > 0 {
		return nil
	}
	if err := repos.Runs().DeleteRun(ctx, *oldRunID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}
	return nil
}

func (s *TripService) view(ctx context.Context, trip persistence.Trip) (Trip, error) {
	result := Trip{
		ID:                 trip.ID,
		ProviderID:         trip.ProviderID,
		CustomerID:         trip.CustomerID,
		PickupAddress:      trip.PickupAddress,
		DropoffAddress:     trip.DropoffAddress,
		PickupTime:         trip.PickupTime,
		AppointmentTime:    trip.AppointmentTime,
		GuestCount:         trip.GuestCount,
		AttendantCount:     trip.AttendantCount,
		Cab:                trip.Cab,
		RoundTrip:          trip.RoundTrip,
		RunID:              trip.RunID,
		EffectiveDriverID:  trip.RequestedDriverID,
		EffectiveVehicleID: trip.RequestedVehicleID,
		RepeatingTripID:    trip.RepeatingTripID,
		CalledBackAt:       trip.CalledBackAt,
		ResultCode:         trip.ResultCode,
		Size:               scheduler.TripSize(trip.CustomerGroup, trip.GroupSize, trip.GuestCount, trip.AttendantCount),
		CreatedAt:          trip.CreatedAt,
		UpdatedAt:          trip.UpdatedAt,
	}
	if trip.RunID != nil {
		run, err := s.store.Runs().GetRun(ctx, *trip.RunID)
		if err != nil && !errors.Is(err, persistence.ErrNotFound) {
			return Trip{}, err
		}
		if err == nil {
			// Effective values come from the run once one is assigned.
			result.EffectiveDriverID = &run.DriverID
			result.EffectiveVehicleID = &run.VehicleID
		}
	}
	return result, nil
}

func toSchedulerRun(run persistence.Run) scheduler.Run {
	return scheduler.Run{
		ID:          run.ID,
		DriverID:    run.DriverID,
		Start:       run.ScheduledStart,
		End:         run.ScheduledEnd,
		EndOdometer: run.EndOdometer,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
