// Package memory provides a map-backed persistence.Store. Transactions take
// a snapshot of every table and restore it when the callback fails, giving
// the same all-or-nothing behavior as the SQL store. It backs the service
// tests and small deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

// Storage implements persistence.Store in memory.
type Storage struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	trips     map[string]persistence.Trip
	runs      map[string]persistence.Run
	repeating map[string]persistence.RepeatingTrip
	vehicles  map[string]persistence.Vehicle
}

// Open returns an empty Storage.
func Open() *Storage {
	return &Storage{
		trips:     make(map[string]persistence.Trip),
		runs:      make(map[string]persistence.Run),
		repeating: make(map[string]persistence.RepeatingTrip),
		vehicles:  make(map[string]persistence.Vehicle),
	}
}

// Trips returns the trip repository.
func (s *Storage) Trips() persistence.TripRepository { return s }

// Runs returns the run repository.
func (s *Storage) Runs() persistence.RunRepository { return s }

// RepeatingTrips returns the template repository.
func (s *Storage) RepeatingTrips() persistence.RepeatingTripRepository { return s }

// Vehicles returns the vehicle repository.
func (s *Storage) Vehicles() persistence.VehicleRepository { return s }

// WithTransaction runs fn with all-or-nothing semantics. Transactions are
// serialized; a failed callback restores the pre-transaction snapshot.
func (s *Storage) WithTransaction(ctx context.Context, fn func(ctx context.Context, repos persistence.Repos) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.restoreLocked(snapshot)
		s.mu.Unlock()
		return err
	}
	return nil
}

type tables struct {
	trips     map[string]persistence.Trip
	runs      map[string]persistence.Run
	repeating map[string]persistence.RepeatingTrip
	vehicles  map[string]persistence.Vehicle
}

func (s *Storage) snapshotLocked() tables {
	snap := tables{
		trips:     make(map[string]persistence.Trip, len(s.trips)),
		runs:      make(map[string]persistence.Run, len(s.runs)),
		repeating: make(map[string]persistence.RepeatingTrip, len(s.repeating)),
		vehicles:  make(map[string]persistence.Vehicle, len(s.vehicles)),
	}
	for id, trip := range s.trips {
		snap.trips[id] = cloneTrip(trip)
	}
	for id, run := range s.runs {
		snap.runs[id] = cloneRun(run)
	}
	for id, template := range s.repeating {
		snap.repeating[id] = cloneRepeatingTrip(template)
	}
	for id, vehicle := range s.vehicles {
		snap.vehicles[id] = vehicle
	}
	return snap
}

func (s *Storage) restoreLocked(snap tables) {
	s.trips = snap.trips
	s.runs = snap.runs
	s.repeating = snap.repeating
	s.vehicles = snap.vehicles
}

// --- TripRepository implementation ---

// CreateTrip stores a new trip.
func (s *Storage) CreateTrip(ctx context.Context, trip persistence.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trip.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.trips[trip.ID]; ok {
		return persistence.ErrConstraintViolation
	}
	s.trips[trip.ID] = cloneTrip(trip)
	return nil
}

// UpdateTrip updates an existing trip.
func (s *Storage) UpdateTrip(ctx context.Context, trip persistence.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[trip.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.trips[trip.ID] = cloneTrip(trip)
	return nil
}

// GetTrip retrieves a trip by ID.
func (s *Storage) GetTrip(ctx context.Context, id string) (persistence.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trip, ok := s.trips[id]
	if !ok {
		return persistence.Trip{}, persistence.ErrNotFound
	}
	return cloneTrip(trip), nil
}

// DeleteTrip removes a trip by ID.
func (s *Storage) DeleteTrip(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trips[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.trips, id)
	return nil
}

// ListTripsForRun returns the trips assigned to a run ordered by pickup time.
func (s *Storage) ListTripsForRun(ctx context.Context, runID string) ([]persistence.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trips []persistence.Trip
	for _, trip := range s.trips {
		if trip.RunID != nil && *trip.RunID == runID {
			trips = append(trips, cloneTrip(trip))
		}
	}
	sortTrips(trips)
	return trips, nil
}

// ListVehicleTripsDuring returns the vehicle's non-cab run trips whose
// windows intersect [start, end].
func (s *Storage) ListVehicleTripsDuring(ctx context.Context, vehicleID string, start, end time.Time) ([]persistence.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trips []persistence.Trip
	for _, trip := range s.trips {
		if trip.Cab || trip.RunID == nil {
			continue
		}
		run, ok := s.runs[*trip.RunID]
		if !ok || run.VehicleID != vehicleID {
			continue
		}
		if trip.PickupTime.Before(end) && trip.AppointmentTime.After(start) {
			trips = append(trips, cloneTrip(trip))
		}
	}
	sortTrips(trips)
	return trips, nil
}

// ListSeriesTrips returns the instances of a series matching the filter.
func (s *Storage) ListSeriesTrips(ctx context.Context, repeatingTripID string, filter persistence.SeriesFilter) ([]persistence.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var trips []persistence.Trip
	for _, trip := range s.trips {
		if trip.RepeatingTripID == nil || *trip.RepeatingTripID != repeatingTripID {
			continue
		}
		if !matchesSeriesFilter(trip, filter) {
			continue
		}
		trips = append(trips, cloneTrip(trip))
	}
	sortTrips(trips)
	return trips, nil
}

// DeleteTrips removes the identified trips; unknown IDs are skipped.
func (s *Storage) DeleteTrips(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		delete(s.trips, id)
	}
	return nil
}

// ClearSeriesLink sets the series reference to nil on the identified trips.
func (s *Storage) ClearSeriesLink(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		trip, ok := s.trips[id]
		if !ok {
			continue
		}
		trip.RepeatingTripID = nil
		s.trips[id] = trip
	}
	return nil
}

// ReassignRunTrips moves every trip on fromRunID onto toRunID.
func (s *Storage) ReassignRunTrips(ctx context.Context, fromRunID, toRunID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, trip := range s.trips {
		if trip.RunID != nil && *trip.RunID == fromRunID {
			target := toRunID
			trip.RunID = &target
			s.trips[id] = trip
		}
	}
	return nil
}

// --- RunRepository implementation ---

// CreateRun stores a new run.
func (s *Storage) CreateRun(ctx context.Context, run persistence.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.runs[run.ID]; ok {
		return persistence.ErrConstraintViolation
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// UpdateRun updates an existing run.
func (s *Storage) UpdateRun(ctx context.Context, run persistence.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[run.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

// GetRun retrieves a run by ID.
func (s *Storage) GetRun(ctx context.Context, id string) (persistence.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return persistence.Run{}, persistence.ErrNotFound
	}
	return cloneRun(run), nil
}

// DeleteRun removes a run by ID.
func (s *Storage) DeleteRun(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.runs, id)
	return nil
}

// FindContainingRun returns the run fully covering [pickup, appointment].
func (s *Storage) FindContainingRun(ctx context.Context, vehicleID, providerID string, pickup, appointment time.Time) (persistence.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *persistence.Run
	for _, run := range s.runs {
		run := run
		if run.VehicleID != vehicleID || run.ProviderID != providerID {
			continue
		}
		if run.ScheduledStart.After(pickup) || run.ScheduledEnd.Before(appointment) {
			continue
		}
		if best == nil || run.ScheduledStart.Before(best.ScheduledStart) {
			best = &run
		}
	}
	if best == nil {
		return persistence.Run{}, persistence.ErrNotFound
	}
	return cloneRun(*best), nil
}

// FindPreviousRun returns the latest run starting at or before reference.
func (s *Storage) FindPreviousRun(ctx context.Context, vehicleID, providerID string, reference time.Time) (persistence.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *persistence.Run
	for _, run := range s.runs {
		run := run
		if run.VehicleID != vehicleID || run.ProviderID != providerID {
			continue
		}
		if run.ScheduledStart.After(reference) {
			continue
		}
		if best == nil || run.ScheduledStart.After(best.ScheduledStart) ||
			(run.ScheduledStart.Equal(best.ScheduledStart) && run.ID > best.ID) {
			best = &run
		}
	}
	if best == nil {
		return persistence.Run{}, persistence.ErrNotFound
	}
	return cloneRun(*best), nil
}

// FindNextRun returns the earliest run starting at or after reference.
func (s *Storage) FindNextRun(ctx context.Context, vehicleID, providerID string, reference time.Time) (persistence.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *persistence.Run
	for _, run := range s.runs {
		run := run
		if run.VehicleID != vehicleID || run.ProviderID != providerID {
			continue
		}
		if run.ScheduledStart.Before(reference) {
			continue
		}
		if best == nil || run.ScheduledStart.Before(best.ScheduledStart) ||
			(run.ScheduledStart.Equal(best.ScheduledStart) && run.ID < best.ID) {
			best = &run
		}
	}
	if best == nil {
		return persistence.Run{}, persistence.ErrNotFound
	}
	return cloneRun(*best), nil
}

// ListRunsOverlapping returns runs intersecting [start, end] ordered by
// scheduled start.
func (s *Storage) ListRunsOverlapping(ctx context.Context, vehicleID, providerID string, start, end time.Time) ([]persistence.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []persistence.Run
	for _, run := range s.runs {
		if run.VehicleID != vehicleID || run.ProviderID != providerID {
			continue
		}
		if run.ScheduledStart.Before(end) && run.ScheduledEnd.After(start) {
			runs = append(runs, cloneRun(run))
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].ScheduledStart.Equal(runs[j].ScheduledStart) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].ScheduledStart.Before(runs[j].ScheduledStart)
	})
	return runs, nil
}

// --- RepeatingTripRepository implementation ---

// CreateRepeatingTrip stores a new template.
func (s *Storage) CreateRepeatingTrip(ctx context.Context, template persistence.RepeatingTrip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if template.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.repeating[template.ID]; ok {
		return persistence.ErrConstraintViolation
	}
	s.repeating[template.ID] = cloneRepeatingTrip(template)
	return nil
}

// UpdateRepeatingTrip updates an existing template.
func (s *Storage) UpdateRepeatingTrip(ctx context.Context, template persistence.RepeatingTrip) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repeating[template.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.repeating[template.ID] = cloneRepeatingTrip(template)
	return nil
}

// GetRepeatingTrip retrieves a template by ID.
func (s *Storage) GetRepeatingTrip(ctx context.Context, id string) (persistence.RepeatingTrip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	template, ok := s.repeating[id]
	if !ok {
		return persistence.RepeatingTrip{}, persistence.ErrNotFound
	}
	return cloneRepeatingTrip(template), nil
}

// ListRepeatingTrips returns every template ordered by creation time.
func (s *Storage) ListRepeatingTrips(ctx context.Context) ([]persistence.RepeatingTrip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	templates := make([]persistence.RepeatingTrip, 0, len(s.repeating))
	for _, template := range s.repeating {
		templates = append(templates, cloneRepeatingTrip(template))
	}
	sort.Slice(templates, func(i, j int) bool {
		if templates[i].CreatedAt.Equal(templates[j].CreatedAt) {
			return templates[i].ID < templates[j].ID
		}
		return templates[i].CreatedAt.Before(templates[j].CreatedAt)
	})
	return templates, nil
}

// DeleteRepeatingTrip removes a template by ID.
func (s *Storage) DeleteRepeatingTrip(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repeating[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(s.repeating, id)
	return nil
}

// --- VehicleRepository implementation ---

// CreateVehicle stores a new vehicle.
func (s *Storage) CreateVehicle(ctx context.Context, vehicle persistence.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if vehicle.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if _, ok := s.vehicles[vehicle.ID]; ok {
		return persistence.ErrConstraintViolation
	}
	s.vehicles[vehicle.ID] = vehicle
	return nil
}

// UpdateVehicle updates an existing vehicle.
func (s *Storage) UpdateVehicle(ctx context.Context, vehicle persistence.Vehicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[vehicle.ID]; !ok {
		return persistence.ErrNotFound
	}
	s.vehicles[vehicle.ID] = vehicle
	return nil
}

// GetVehicle retrieves a vehicle by ID.
func (s *Storage) GetVehicle(ctx context.Context, id string) (persistence.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicle, ok := s.vehicles[id]
	if !ok {
		return persistence.Vehicle{}, persistence.ErrNotFound
	}
	return vehicle, nil
}

// ListVehicles returns every vehicle ordered by name.
func (s *Storage) ListVehicles(ctx context.Context) ([]persistence.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vehicles := make([]persistence.Vehicle, 0, len(s.vehicles))
	for _, vehicle := range s.vehicles {
		vehicles = append(vehicles, vehicle)
	}
	sort.Slice(vehicles, func(i, j int) bool {
		if vehicles[i].Name == vehicles[j].Name {
			return vehicles[i].ID < vehicles[j].ID
		}
		return vehicles[i].Name < vehicles[j].Name
	})
	return vehicles, nil
}

// --- helpers ---

func matchesSeriesFilter(trip persistence.Trip, filter persistence.SeriesFilter) bool {
	if filter.CalledBack != nil {
		if *filter.CalledBack != (trip.CalledBackAt != nil) {
			return false
		}
	}
	if filter.PickupAfter != nil && !trip.PickupTime.After(*filter.PickupAfter) {
		return false
	}
	if filter.PickupBefore != nil && !trip.PickupTime.Before(*filter.PickupBefore) {
		return false
	}
	if filter.PickupDateAfter != nil && !dateOf(trip.PickupTime, filter.PickupDateAfter.Location()).After(dateOf(*filter.PickupDateAfter, filter.PickupDateAfter.Location())) {
		return false
	}
	if filter.PickupDateOnOrBefore != nil && dateOf(trip.PickupTime, filter.PickupDateOnOrBefore.Location()).After(dateOf(*filter.PickupDateOnOrBefore, filter.PickupDateOnOrBefore.Location())) {
		return false
	}
	return true
}

func dateOf(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func sortTrips(trips []persistence.Trip) {
	sort.Slice(trips, func(i, j int) bool {
		if trips[i].PickupTime.Equal(trips[j].PickupTime) {
			return trips[i].ID < trips[j].ID
		}
		return trips[i].PickupTime.Before(trips[j].PickupTime)
	})
}

func cloneTrip(trip persistence.Trip) persistence.Trip {
	out := trip
	out.RunID = cloneStringPtr(trip.RunID)
	out.RequestedDriverID = cloneStringPtr(trip.RequestedDriverID)
	out.RequestedVehicleID = cloneStringPtr(trip.RequestedVehicleID)
	out.RepeatingTripID = cloneStringPtr(trip.RepeatingTripID)
	out.CalledBackAt = cloneTimePtr(trip.CalledBackAt)
	out.ResultCode = cloneStringPtr(trip.ResultCode)
	out.Memo = cloneStringPtr(trip.Memo)
	return out
}

func cloneRun(run persistence.Run) persistence.Run {
	out := run
	out.StartOdometer = cloneIntPtr(run.StartOdometer)
	out.EndOdometer = cloneIntPtr(run.EndOdometer)
	return out
}

func cloneRepeatingTrip(template persistence.RepeatingTrip) persistence.RepeatingTrip {
	out := template
	out.Memo = cloneStringPtr(template.Memo)
	out.DriverID = cloneStringPtr(template.DriverID)
	out.VehicleID = cloneStringPtr(template.VehicleID)
	out.Weekdays = append([]time.Weekday(nil), template.Weekdays...)
	return out
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneIntPtr(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTimePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
