package scheduler

import (
	"errors"
	"testing"
	"time"
)

var testHours = BusinessHours{StartHour: 6, EndHour: 20}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func window(pickup, appointment time.Time) TimeWindow {
	return TimeWindow{Pickup: pickup, Appointment: appointment}
}

func request(w TimeWindow) Request {
	return Request{
		VehicleID:  "vehicle-1",
		ProviderID: "provider-1",
		DriverID:   "driver-1",
		Window:     w,
		Location:   time.UTC,
	}
}

func TestResolve_InvalidWindow(t *testing.T) {
	_, err := Resolve(request(TimeWindow{}), Neighbors{}, testHours)
	if err == nil {
		t.Fatal("Expected error for invalid window")
	}
}

func TestResolve_ContainingRunIsReusedUntouched(t *testing.T) {
	run := &Run{ID: "run-1", DriverID: "driver-9", Start: at(6, 0), End: at(20, 0)}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{Containing: run}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "run-1" {
		t.Errorf("Expected assignment to run-1, got %q", plan.AssignRunID)
	}
	if plan.AssignedDriverID != "driver-9" {
		t.Errorf("Expected run driver driver-9, got %q", plan.AssignedDriverID)
	}
	if len(plan.Changes) != 0 || plan.Create != nil || plan.DestroyRunID != "" {
		t.Errorf("Expected no staged mutations, got %+v", plan)
	}
}

func TestResolve_NoNeighborsCreatesBusinessHoursRun(t *testing.T) {
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.Create == nil {
		t.Fatal("Expected a run template")
	}
	if !plan.Create.ScheduledStart.Equal(at(6, 0)) {
		t.Errorf("Expected start at business open, got %v", plan.Create.ScheduledStart)
	}
	if !plan.Create.ScheduledEnd.Equal(at(20, 0)) {
		t.Errorf("Expected end at business close, got %v", plan.Create.ScheduledEnd)
	}
	if plan.Create.Complete {
		t.Error("Expected new run to be incomplete")
	}
	if !plan.Create.Paid {
		t.Error("Expected new run to be paid")
	}
	if plan.Create.DriverID != "driver-1" {
		t.Errorf("Expected requested driver on new run, got %q", plan.Create.DriverID)
	}
}

func TestResolve_NonOverlappingNeighborsCreateRun(t *testing.T) {
	prev := &Run{ID: "prev", DriverID: "driver-1", Start: at(6, 0), End: at(8, 0)}
	next := &Run{ID: "next", DriverID: "driver-1", Start: at(12, 0), End: at(20, 0)}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{Previous: prev, Next: next}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.Create == nil {
		t.Fatal("Expected a run template when neither neighbor overlaps")
	}
}

func TestResolve_PreviousOverlapExtendsEnd(t *testing.T) {
	prev := &Run{ID: "prev", DriverID: "driver-2", Start: at(6, 0), End: at(9, 30)}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{Previous: prev}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "prev" {
		t.Fatalf("Expected assignment to prev, got %q", plan.AssignRunID)
	}
	if len(plan.Changes) != 1 {
		t.Fatalf("Expected 1 bounds change, got %d", len(plan.Changes))
	}
	change := plan.Changes[0]
	if change.RunID != "prev" || change.End == nil || !change.End.Equal(at(10, 0)) {
		t.Errorf("Expected prev end pushed to appointment, got %+v", change)
	}
	if change.Start != nil {
		t.Error("Expected start untouched")
	}
}

func TestResolve_NextOverlapPullsStartEarlier(t *testing.T) {
	next := &Run{ID: "next", DriverID: "driver-2", Start: at(9, 30), End: at(20, 0)}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{Next: next}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "next" {
		t.Fatalf("Expected assignment to next, got %q", plan.AssignRunID)
	}
	if len(plan.Changes) != 1 {
		t.Fatalf("Expected 1 bounds change, got %d", len(plan.Changes))
	}
	change := plan.Changes[0]
	if change.RunID != "next" || change.Start == nil || !change.Start.Equal(at(9, 0)) {
		t.Errorf("Expected next start pulled to pickup, got %+v", change)
	}
}

func TestResolve_OverlapAcrossMidnightCreatesRunInstead(t *testing.T) {
	// A run that started yesterday must not be stretched over the day
	// boundary to cover today's trip.
	prevDay := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	prev := &Run{ID: "prev", DriverID: "driver-1", Start: prevDay, End: at(9, 30)}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{Previous: prev}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.Create == nil {
		t.Fatal("Expected a fresh run instead of a cross-midnight extension")
	}
	if plan.AssignRunID != "" {
		t.Errorf("Expected no assignment to prev, got %q", plan.AssignRunID)
	}
}

func TestResolve_SameDriverOverlapUnifiesRuns(t *testing.T) {
	odometer := 4200
	prev := &Run{ID: "prev", DriverID: "driver-1", Start: at(6, 0), End: at(9, 30)}
	next := &Run{ID: "next", DriverID: "driver-1", Start: at(9, 45), End: at(20, 0), EndOdometer: &odometer}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))), Neighbors{Previous: prev, Next: next}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "prev" {
		t.Fatalf("Expected trip on surviving prev run, got %q", plan.AssignRunID)
	}
	if plan.DestroyRunID != "next" {
		t.Errorf("Expected next destroyed, got %q", plan.DestroyRunID)
	}
	if plan.ReassignTripsFromRunID != "next" {
		t.Errorf("Expected next's trips reassigned, got %q", plan.ReassignTripsFromRunID)
	}
	if len(plan.Changes) != 1 {
		t.Fatalf("Expected 1 bounds change, got %d", len(plan.Changes))
	}
	change := plan.Changes[0]
	if change.End == nil || !change.End.Equal(at(20, 0)) {
		t.Errorf("Expected prev end absorbed from next, got %+v", change)
	}
	if change.EndOdometer == nil || *change.EndOdometer != 4200 {
		t.Errorf("Expected odometer carried over, got %v", change.EndOdometer)
	}
}

func TestResolve_DifferentDriversShrinkNextWhenItsTripsAllowIt(t *testing.T) {
	prev := &Run{ID: "prev", DriverID: "driver-1", Start: at(6, 0), End: at(9, 30)}
	next := &Run{ID: "next", DriverID: "driver-2", Start: at(9, 45), End: at(20, 0)}
	nextTrips := []TimeWindow{window(at(11, 0), at(12, 0))}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))),
		Neighbors{Previous: prev, Next: next, NextTrips: nextTrips}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "prev" {
		t.Fatalf("Expected trip on prev, got %q", plan.AssignRunID)
	}
	wantBoundary := at(10, 0)
	var prevChanged, nextChanged bool
	for _, change := range plan.Changes {
		switch change.RunID {
		case "prev":
			prevChanged = change.End != nil && change.End.Equal(wantBoundary)
		case "next":
			nextChanged = change.Start != nil && change.Start.Equal(wantBoundary)
		}
	}
	if !prevChanged || !nextChanged {
		t.Errorf("Expected both runs to meet at the appointment, got %+v", plan.Changes)
	}
}

func TestResolve_DifferentDriversShrinkPrevWhenNextIsPinned(t *testing.T) {
	prev := &Run{ID: "prev", DriverID: "driver-1", Start: at(6, 0), End: at(9, 30)}
	next := &Run{ID: "next", DriverID: "driver-2", Start: at(9, 45), End: at(20, 0)}
	// The next run's first trip starts before the new appointment, pinning
	// its start; the prev run's last trip is done before the new pickup.
	prevTrips := []TimeWindow{window(at(7, 0), at(8, 0))}
	nextTrips := []TimeWindow{window(at(9, 50), at(10, 30))}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))),
		Neighbors{Previous: prev, Next: next, PreviousTrips: prevTrips, NextTrips: nextTrips}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "next" {
		t.Fatalf("Expected trip on next, got %q", plan.AssignRunID)
	}
	var prevEnd, nextStart *time.Time
	for _, change := range plan.Changes {
		switch change.RunID {
		case "prev":
			prevEnd = change.End
		case "next":
			nextStart = change.Start
		}
	}
	if prevEnd == nil || !prevEnd.Equal(at(9, 0)) {
		t.Errorf("Expected prev end at pickup, got %v", prevEnd)
	}
	if nextStart == nil || !nextStart.Equal(at(10, 0)) {
		t.Errorf("Expected next start at appointment, got %v", nextStart)
	}
}

func TestResolve_DifferentDriversPinnedBothSidesConflicts(t *testing.T) {
	prev := &Run{ID: "prev", DriverID: "driver-1", Start: at(6, 0), End: at(9, 30)}
	next := &Run{ID: "next", DriverID: "driver-2", Start: at(9, 45), End: at(20, 0)}
	// Both boundary moves are blocked by existing trips.
	prevTrips := []TimeWindow{window(at(8, 30), at(9, 15))}
	nextTrips := []TimeWindow{window(at(9, 50), at(10, 30))}
	_, err := Resolve(request(window(at(9, 0), at(10, 0))),
		Neighbors{Previous: prev, Next: next, PreviousTrips: prevTrips, NextTrips: nextTrips}, testHours)

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Expected ConflictError, got %v", err)
	}
	if conflict.PreviousRunID != "prev" || conflict.NextRunID != "next" {
		t.Errorf("Expected conflict between prev and next, got %+v", conflict)
	}
}

func TestResolve_SingleRunAsBothNeighborsIsWidened(t *testing.T) {
	run := &Run{ID: "run-1", DriverID: "driver-1", Start: at(9, 15), End: at(9, 45)}
	plan, err := Resolve(request(window(at(9, 0), at(10, 0))),
		Neighbors{Previous: run, Next: run}, testHours)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if plan.AssignRunID != "run-1" {
		t.Fatalf("Expected assignment to run-1, got %q", plan.AssignRunID)
	}
	if plan.DestroyRunID != "" {
		t.Error("Expected the run to survive, not to be merged with itself")
	}
	if len(plan.Changes) != 1 {
		t.Fatalf("Expected 1 bounds change, got %d", len(plan.Changes))
	}
	change := plan.Changes[0]
	if change.Start == nil || !change.Start.Equal(at(9, 0)) {
		t.Errorf("Expected start widened to pickup, got %v", change.Start)
	}
	if change.End == nil || !change.End.Equal(at(10, 0)) {
		t.Errorf("Expected end widened to appointment, got %v", change.End)
	}
}

func TestVerifyNoOverlap(t *testing.T) {
	separated := []Run{
		{ID: "a", Start: at(6, 0), End: at(10, 0)},
		{ID: "b", Start: at(10, 0), End: at(20, 0)},
	}
	if err := VerifyNoOverlap(separated); err != nil {
		t.Fatalf("Expected touching runs to pass, got %v", err)
	}

	overlapping := []Run{
		{ID: "a", Start: at(6, 0), End: at(10, 30)},
		{ID: "b", Start: at(10, 0), End: at(20, 0)},
	}
	err := VerifyNoOverlap(overlapping)
	if !errors.Is(err, ErrOverlappingRuns) {
		t.Fatalf("Expected ErrOverlappingRuns, got %v", err)
	}
}
