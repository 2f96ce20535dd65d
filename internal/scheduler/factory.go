package scheduler

import (
	"fmt"
	"time"
)

// BusinessHours is the operation's daily service window. A run created from
// scratch spans these hours on the trip's pickup date.
type BusinessHours struct {
	StartHour int
	EndHour   int
}

// Validate reports whether the configured hours describe a usable window.
func (h BusinessHours) Validate() error {
	if h.StartHour < 0 || h.StartHour > 23 {
		return fmt.Errorf("scheduler: business hours start %d out of range", h.StartHour)
	}
	if h.EndHour < 1 || h.EndHour > 24 {
		return fmt.Errorf("scheduler: business hours end %d out of range", h.EndHour)
	}
	if h.EndHour <= h.StartHour {
		return fmt.Errorf("scheduler: business hours end %d not after start %d", h.EndHour, h.StartHour)
	}
	return nil
}

// RunTemplate describes a run to be persisted by the caller. New runs start
// unpaid-agnostic: paid and not complete.
type RunTemplate struct {
	ProviderID     string
	VehicleID      string
	DriverID       string
	Date           time.Time
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	Complete       bool
	Paid           bool
}

// NewRunTemplate builds a run spanning the business-hours window on the
// pickup's calendar date, in the pickup's location.
func NewRunTemplate(hours BusinessHours, vehicleID, driverID, providerID string, pickup time.Time) RunTemplate {
	loc := pickup.Location()
	y, m, d := pickup.Date()
	return RunTemplate{
		ProviderID:     providerID,
		VehicleID:      vehicleID,
		DriverID:       driverID,
		Date:           time.Date(y, m, d, 0, 0, 0, 0, loc),
		ScheduledStart: time.Date(y, m, d, hours.StartHour, 0, 0, 0, loc),
		ScheduledEnd:   time.Date(y, m, d, hours.EndHour, 0, 0, 0, loc),
		Complete:       false,
		Paid:           true,
	}
}
