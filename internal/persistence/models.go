package persistence

import "time"

// Trip represents a single transportation request stored in persistence.
//
// RequestedDriverID and RequestedVehicleID hold the caller supplied values.
// Once a run is assigned the run's driver and vehicle are authoritative; the
// requested slots are kept so that edits can re-trigger run resolution.
type Trip struct {
	ID                 string
	ProviderID         string
	CustomerID         string
	CustomerGroup      bool
	GroupSize          int
	PickupAddress      string
	DropoffAddress     string
	PickupTime         time.Time
	AppointmentTime    time.Time
	GuestCount         int
	AttendantCount     int
	Cab                bool
	RoundTrip          bool
	RunID              *string
	RequestedDriverID  *string
	RequestedVehicleID *string
	RepeatingTripID    *string
	CalledBackAt       *time.Time
	ResultCode         *string
	Memo               *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Run represents a vehicle and driver's scheduled block of work on one date.
type Run struct {
	ID             string
	ProviderID     string
	Date           time.Time
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	VehicleID      string
	DriverID       string
	Complete       bool
	Paid           bool
	StartOdometer  *int
	EndOdometer    *int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RepeatingTrip is the recurrence template owning a series of generated trips.
// The seed fields snapshot the schedulable trip attributes; generated
// instances copy them with the occurrence date substituted in.
type RepeatingTrip struct {
	ID                  string
	ProviderID          string
	CustomerID          string
	CustomerGroup       bool
	GroupSize           int
	PickupAddress       string
	DropoffAddress      string
	SeedPickupTime      time.Time
	SeedAppointmentTime time.Time
	GuestCount          int
	AttendantCount      int
	RoundTrip           bool
	Memo                *string
	DriverID            *string
	VehicleID           *string
	CustomerInformed    bool
	IntervalWeeks       int
	Weekdays            []time.Weekday
	StartDate           time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Vehicle is the seating-capacity source for run scheduling.
type Vehicle struct {
	ID              string
	ProviderID      string
	Name            string
	SeatingCapacity int
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
