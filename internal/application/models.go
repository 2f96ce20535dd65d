package application

import "time"

// RecurrenceInput captures the recurrence parameters supplied with a trip.
// A nil *RecurrenceInput on TripInput means the trip is not recurring.
type RecurrenceInput struct {
	IntervalWeeks    int
	Weekdays         []time.Weekday
	CustomerInformed bool
}

// TripInput captures caller provided trip fields. Pickup and appointment
// times arrive as the literal strings typed by dispatchers and are parsed
// against the documented formats.
type TripInput struct {
	ID              string
	ProviderID      string
	CustomerID      string
	CustomerGroup   bool
	GroupSize       int
	PickupAddress   string
	DropoffAddress  string
	PickupTime      string
	AppointmentTime string
	GuestCount      int
	AttendantCount  int
	Cab             bool
	RoundTrip       bool
	// RunID fixes the run explicitly; resolution is skipped when set.
	RunID *string
	// DriverID and VehicleID are the requested values. Once a run is
	// assigned the run's driver and vehicle win.
	DriverID     *string
	VehicleID    *string
	CalledBackAt *time.Time
	ResultCode   *string
	Memo         *string
	Recurrence   *RecurrenceInput
}

// Trip is the application view of a persisted trip with the effective
// driver and vehicle resolved from its run.
type Trip struct {
	ID              string
	ProviderID      string
	CustomerID      string
	PickupAddress   string
	DropoffAddress  string
	PickupTime      time.Time
	AppointmentTime time.Time
	GuestCount      int
	AttendantCount  int
	Cab             bool
	RoundTrip       bool
	RunID           *string
	// EffectiveDriverID is the run's driver when a run is assigned,
	// otherwise the requested driver.
	EffectiveDriverID *string
	// EffectiveVehicleID is the run's vehicle when a run is assigned,
	// otherwise the requested vehicle.
	EffectiveVehicleID *string
	RepeatingTripID    *string
	CalledBackAt       *time.Time
	ResultCode         *string
	Size               int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Complete reports whether the trip finished with the completion result code.
func (t Trip) Complete() bool {
	return t.ResultCode != nil && *t.ResultCode == ResultCodeComplete
}

// Pending reports whether the trip has no result yet.
func (t Trip) Pending() bool {
	return t.ResultCode == nil
}

// RunText is the display label for the trip's run slot.
func (t Trip) RunText() string {
	switch {
	case t.Cab:
		return "Cab"
	case t.RunID != nil:
		return "Run " + *t.RunID
	default:
		return "(No run specified)"
	}
}

// ResultCodeComplete marks a trip that was carried out.
const ResultCodeComplete = "COMP"
