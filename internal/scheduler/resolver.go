package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// Run is the resolver's view of a persisted run.
type Run struct {
	ID          string
	DriverID    string
	Start       time.Time
	End         time.Time
	EndOdometer *int
}

func (r *Run) window() TimeWindow {
	return TimeWindow{Pickup: r.Start, Appointment: r.End}
}

// Request carries the trip attributes the resolver needs.
type Request struct {
	VehicleID  string
	ProviderID string
	// DriverID is the requested driver, used only when a fresh run must be
	// created. May be empty.
	DriverID string
	Window   TimeWindow
	// Location fixes the calendar-day boundary for the midnight rule.
	Location *time.Location
}

// Neighbors is the snapshot of candidate runs surrounding the requested
// window, loaded by the caller in the same transaction that will apply the
// plan. Trip windows are ordered by pickup time ascending.
type Neighbors struct {
	// Containing fully covers the window; when set the other fields are
	// ignored.
	Containing *Run
	// Previous is the latest run starting at or before the appointment.
	Previous *Run
	// Next is the earliest run starting at or after the pickup.
	Next *Run
	// PreviousTrips and NextTrips are the windows of the trips currently
	// assigned to Previous and Next.
	PreviousTrips []TimeWindow
	NextTrips     []TimeWindow
}

// BoundsChange stages an update to one run's scheduled bounds. Nil fields are
// left untouched.
type BoundsChange struct {
	RunID       string
	Start       *time.Time
	End         *time.Time
	EndOdometer *int
}

// Plan is the set of staged mutations that place the trip on a run. The
// caller applies every change, then the reassignment, then the destruction,
// inside one transaction.
type Plan struct {
	// AssignRunID is the existing run receiving the trip. Empty when Create
	// is set.
	AssignRunID string
	// AssignedDriverID is the driver of the receiving run, for the
	// driver-consistency validation. Empty when no driver is fixed.
	AssignedDriverID string
	// Create describes a fresh run; the trip joins it once persisted.
	Create *RunTemplate
	// Changes are bound adjustments to existing runs.
	Changes []BoundsChange
	// ReassignTripsFromRunID names the merge source whose trips move to
	// AssignRunID before DestroyRunID is removed.
	ReassignTripsFromRunID string
	// DestroyRunID names the run removed by a unification.
	DestroyRunID string
}

// ConflictError reports that two runs with different drivers overlap the
// requested window and neither boundary can shift without a time clash. It is
// an expected scheduling outcome, surfaced to the caller as a validation
// failure rather than a fault.
type ConflictError struct {
	PreviousRunID string
	NextRunID     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scheduler: runs %s and %s cannot be reconciled around the requested window", e.PreviousRunID, e.NextRunID)
}

// ErrOverlappingRuns signals a post-resolution overlap between two runs of
// the same vehicle and provider. It arises when a widened run collides with a
// run outside the neighbor snapshot; callers treat it like a conflict.
var ErrOverlappingRuns = errors.New("scheduler: overlapping runs for one vehicle")

// Resolve decides how the requested trip window maps onto the vehicle's runs.
//
// The decision tree, in order: reuse a containing run untouched; when both
// neighbors overlap, unify them (same driver) or shrink one side (different
// drivers) or report a conflict; when one neighbor overlaps, extend it unless
// it started on a different calendar date; otherwise create a fresh
// business-hours run. Day boundaries are hard: a run is never stretched
// across midnight.
func Resolve(req Request, n Neighbors, hours BusinessHours) (Plan, error) {
	if !req.Window.Valid() {
		return Plan{}, fmt.Errorf("scheduler: invalid trip window %v", req.Window)
	}
	loc := req.Location
	if loc == nil {
		loc = req.Window.Pickup.Location()
	}

	if n.Containing != nil {
		return Plan{AssignRunID: n.Containing.ID, AssignedDriverID: n.Containing.DriverID}, nil
	}

	prev, next := n.Previous, n.Next
	if prev != nil && next != nil && prev.ID == next.ID {
		// One run straddles the window without containing it. Widen it in
		// place rather than merging a run with itself.
		return widenRun(req, prev, loc, hours)
	}

	prevOverlaps := prev != nil && prev.End.After(req.Window.Pickup)
	nextOverlaps := next != nil && next.Start.Before(req.Window.Appointment)

	switch {
	case prevOverlaps && nextOverlaps:
		return resolveOverlapping(req, prev, next, n.PreviousTrips, n.NextTrips)
	case prevOverlaps:
		if !SameDay(prev.Start, req.Window.Pickup, loc) {
			return createPlan(req, hours), nil
		}
		end := req.Window.Appointment
		return Plan{
			AssignRunID:      prev.ID,
			AssignedDriverID: prev.DriverID,
			Changes:          []BoundsChange{{RunID: prev.ID, End: &end}},
		}, nil
	case nextOverlaps:
		if !SameDay(next.Start, req.Window.Pickup, loc) {
			return createPlan(req, hours), nil
		}
		start := req.Window.Pickup
		return Plan{
			AssignRunID:      next.ID,
			AssignedDriverID: next.DriverID,
			Changes:          []BoundsChange{{RunID: next.ID, Start: &start}},
		}, nil
	default:
		return createPlan(req, hours), nil
	}
}

// resolveOverlapping handles the case where the trip window bridges the
// previous and the next run.
func resolveOverlapping(req Request, prev, next *Run, prevTrips, nextTrips []TimeWindow) (Plan, error) {
	if prev.DriverID == next.DriverID {
		// Unify: the previous run absorbs the next run's span, odometer and
		// trips; the next run is destroyed.
		return Plan{
			AssignRunID:            prev.ID,
			AssignedDriverID:       prev.DriverID,
			Changes:                []BoundsChange{{RunID: prev.ID, End: &next.End, EndOdometer: next.EndOdometer}},
			ReassignTripsFromRunID: next.ID,
			DestroyRunID:           next.ID,
		}, nil
	}

	// Different drivers. Try pushing the next run's start later: legal when
	// its first trip picks up after the new trip's appointment.
	if len(nextTrips) == 0 || nextTrips[0].Pickup.After(req.Window.Appointment) {
		boundary := req.Window.Appointment
		return Plan{
			AssignRunID:      prev.ID,
			AssignedDriverID: prev.DriverID,
			Changes: []BoundsChange{
				{RunID: next.ID, Start: &boundary},
				{RunID: prev.ID, End: &boundary},
			},
		}, nil
	}

	// The next run is pinned. Try pulling the previous run's end earlier:
	// legal when its last trip is finished by the new trip's pickup.
	if len(prevTrips) == 0 || !prevTrips[len(prevTrips)-1].Appointment.After(req.Window.Pickup) {
		prevEnd := req.Window.Pickup
		nextStart := req.Window.Appointment
		return Plan{
			AssignRunID:      next.ID,
			AssignedDriverID: next.DriverID,
			Changes: []BoundsChange{
				{RunID: prev.ID, End: &prevEnd},
				{RunID: next.ID, Start: &nextStart},
			},
		}, nil
	}

	return Plan{}, &ConflictError{PreviousRunID: prev.ID, NextRunID: next.ID}
}

// widenRun stretches a single partially-overlapping run to cover the window,
// respecting the day boundary.
func widenRun(req Request, run *Run, loc *time.Location, hours BusinessHours) (Plan, error) {
	if !SameDay(run.Start, req.Window.Pickup, loc) {
		return createPlan(req, hours), nil
	}
	plan := Plan{AssignRunID: run.ID, AssignedDriverID: run.DriverID}
	change := BoundsChange{RunID: run.ID}
	if run.Start.After(req.Window.Pickup) {
		change.Start = &req.Window.Pickup
	}
	if run.End.Before(req.Window.Appointment) {
		change.End = &req.Window.Appointment
	}
	if change.Start != nil || change.End != nil {
		plan.Changes = append(plan.Changes, change)
	}
	return plan, nil
}

func createPlan(req Request, hours BusinessHours) Plan {
	template := NewRunTemplate(hours, req.VehicleID, req.DriverID, req.ProviderID, req.Window.Pickup)
	return Plan{Create: &template, AssignedDriverID: req.DriverID}
}

// VerifyNoOverlap checks the core safety invariant: no two runs of one
// vehicle and provider may overlap after a successful resolution. Runs must
// be the post-plan states for the affected date.
func VerifyNoOverlap(runs []Run) error {
	for i := range runs {
		for j := i + 1; j < len(runs); j++ {
			if runs[i].window().Overlaps(runs[j].window()) {
				return fmt.Errorf("%w: %s and %s", ErrOverlappingRuns, runs[i].ID, runs[j].ID)
			}
		}
	}
	return nil
}
