// Package testfixtures provides deterministic clocks, identifier
// generators, and record builders shared by the persistence and
// application test suites.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

var (
	tripCounter    uint64
	runCounter     uint64
	vehicleCounter uint64
	seriesCounter  uint64
)

var referenceTime = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// It is a Monday morning, so weekday-based recurrence fixtures line up.
func ReferenceTime() time.Time {
	return referenceTime
}

// VehicleFixture builds a persistence.Vehicle with sensible defaults.
type VehicleFixture struct {
	ID              string
	ProviderID      string
	Name            string
	SeatingCapacity int
	Active          *bool
}

// Build materialises the vehicle record.
func (f VehicleFixture) Build() persistence.Vehicle {
	n := atomic.AddUint64(&vehicleCounter, 1)
	vehicle := persistence.Vehicle{
		ID:              f.ID,
		ProviderID:      f.ProviderID,
		Name:            f.Name,
		SeatingCapacity: f.SeatingCapacity,
		Active:          true,
		CreatedAt:       referenceTime,
		UpdatedAt:       referenceTime,
	}
	if vehicle.ID == "" {
		vehicle.ID = fmt.Sprintf("vehicle-%d", n)
	}
	if vehicle.ProviderID == "" {
		vehicle.ProviderID = "provider-1"
	}
	if vehicle.Name == "" {
		vehicle.Name = fmt.Sprintf("Bus %d", n)
	}
	if vehicle.SeatingCapacity == 0 {
		vehicle.SeatingCapacity = 12
	}
	if f.Active != nil {
		vehicle.Active = *f.Active
	}
	return vehicle
}

// RunFixture builds a persistence.Run with sensible defaults. Start and End
// default to business hours on the reference date.
type RunFixture struct {
	ID         string
	ProviderID string
	VehicleID  string
	DriverID   string
	Start      time.Time
	End        time.Time
	Complete   bool
	Paid       *bool
}

// Build materialises the run record.
func (f RunFixture) Build() persistence.Run {
	n := atomic.AddUint64(&runCounter, 1)
	start := f.Start
	if start.IsZero() {
		y, m, d := referenceTime.Date()
		start = time.Date(y, m, d, 6, 0, 0, 0, referenceTime.Location())
	}
	end := f.End
	if end.IsZero() {
		y, m, d := start.Date()
		end = time.Date(y, m, d, 20, 0, 0, 0, start.Location())
	}
	run := persistence.Run{
		ID:             f.ID,
		ProviderID:     f.ProviderID,
		Date:           time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location()),
		ScheduledStart: start,
		ScheduledEnd:   end,
		VehicleID:      f.VehicleID,
		DriverID:       f.DriverID,
		Complete:       f.Complete,
		Paid:           true,
		CreatedAt:      referenceTime,
		UpdatedAt:      referenceTime,
	}
	if run.ID == "" {
		run.ID = fmt.Sprintf("run-%d", n)
	}
	if run.ProviderID == "" {
		run.ProviderID = "provider-1"
	}
	if run.VehicleID == "" {
		run.VehicleID = "vehicle-1"
	}
	if run.DriverID == "" {
		run.DriverID = "driver-1"
	}
	if f.Paid != nil {
		run.Paid = *f.Paid
	}
	return run
}

// TripFixture builds a persistence.Trip with sensible defaults. Pickup
// defaults to the reference time, the appointment to thirty minutes later.
type TripFixture struct {
	ID              string
	ProviderID      string
	CustomerID      string
	CustomerGroup   bool
	GroupSize       int
	Pickup          time.Time
	Appointment     time.Time
	GuestCount      int
	AttendantCount  int
	Cab             bool
	RoundTrip       bool
	RunID           string
	VehicleID       string
	DriverID        string
	RepeatingTripID string
	CalledBackAt    *time.Time
}

// Build materialises the trip record.
func (f TripFixture) Build() persistence.Trip {
	n := atomic.AddUint64(&tripCounter, 1)
	pickup := f.Pickup
	if pickup.IsZero() {
		pickup = referenceTime
	}
	appointment := f.Appointment
	if appointment.IsZero() {
		appointment = pickup.Add(30 * time.Minute)
	}
	trip := persistence.Trip{
		ID:              f.ID,
		ProviderID:      f.ProviderID,
		CustomerID:      f.CustomerID,
		CustomerGroup:   f.CustomerGroup,
		GroupSize:       f.GroupSize,
		PickupAddress:   "12 Elm St",
		DropoffAddress:  "400 Clinic Way",
		PickupTime:      pickup,
		AppointmentTime: appointment,
		GuestCount:      f.GuestCount,
		AttendantCount:  f.AttendantCount,
		Cab:             f.Cab,
		RoundTrip:       f.RoundTrip,
		CalledBackAt:    f.CalledBackAt,
		CreatedAt:       referenceTime,
		UpdatedAt:       referenceTime,
	}
	if trip.ID == "" {
		trip.ID = fmt.Sprintf("trip-%d", n)
	}
	if trip.ProviderID == "" {
		trip.ProviderID = "provider-1"
	}
	if trip.CustomerID == "" {
		trip.CustomerID = fmt.Sprintf("customer-%d", n)
	}
	if f.RunID != "" {
		runID := f.RunID
		trip.RunID = &runID
	}
	if f.VehicleID != "" {
		vehicleID := f.VehicleID
		trip.RequestedVehicleID = &vehicleID
	}
	if f.DriverID != "" {
		driverID := f.DriverID
		trip.RequestedDriverID = &driverID
	}
	if f.RepeatingTripID != "" {
		seriesID := f.RepeatingTripID
		trip.RepeatingTripID = &seriesID
	}
	return trip
}

// RepeatingTripFixture builds a persistence.RepeatingTrip with sensible
// defaults: weekly on the reference date's weekday, anchored at the
// reference date.
type RepeatingTripFixture struct {
	ID            string
	ProviderID    string
	CustomerID    string
	VehicleID     string
	DriverID      string
	IntervalWeeks int
	Weekdays      []time.Weekday
	StartDate     time.Time
	SeedPickup    time.Time
}

// Build materialises the template record.
func (f RepeatingTripFixture) Build() persistence.RepeatingTrip {
	n := atomic.AddUint64(&seriesCounter, 1)
	seedPickup := f.SeedPickup
	if seedPickup.IsZero() {
		seedPickup = referenceTime
	}
	startDate := f.StartDate
	if startDate.IsZero() {
		y, m, d := seedPickup.Date()
		startDate = time.Date(y, m, d, 0, 0, 0, 0, seedPickup.Location())
	}
	template := persistence.RepeatingTrip{
		ID:                  f.ID,
		ProviderID:          f.ProviderID,
		CustomerID:          f.CustomerID,
		PickupAddress:       "12 Elm St",
		DropoffAddress:      "400 Clinic Way",
		SeedPickupTime:      seedPickup,
		SeedAppointmentTime: seedPickup.Add(30 * time.Minute),
		IntervalWeeks:       f.IntervalWeeks,
		Weekdays:            append([]time.Weekday(nil), f.Weekdays...),
		StartDate:           startDate,
		CreatedAt:           referenceTime,
		UpdatedAt:           referenceTime,
	}
	if template.ID == "" {
		template.ID = fmt.Sprintf("series-%d", n)
	}
	if template.ProviderID == "" {
		template.ProviderID = "provider-1"
	}
	if template.CustomerID == "" {
		template.CustomerID = fmt.Sprintf("customer-%d", n)
	}
	if template.IntervalWeeks == 0 {
		template.IntervalWeeks = 1
	}
	if len(template.Weekdays) == 0 {
		template.Weekdays = []time.Weekday{seedPickup.Weekday()}
	}
	if f.VehicleID != "" {
		vehicleID := f.VehicleID
		template.VehicleID = &vehicleID
	}
	if f.DriverID != "" {
		driverID := f.DriverID
		template.DriverID = &driverID
	}
	return template
}
