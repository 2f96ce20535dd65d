package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

var baseTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func storedTrip(id string) persistence.Trip {
	return persistence.Trip{
		ID:              id,
		ProviderID:      "prov1",
		CustomerID:      "cust1",
		PickupAddress:   "12 Elm St",
		DropoffAddress:  "400 Clinic Way",
		PickupTime:      baseTime,
		AppointmentTime: baseTime.Add(30 * time.Minute),
		CreatedAt:       baseTime,
		UpdatedAt:       baseTime,
	}
}

func storedRun(id string, start, end time.Time) persistence.Run {
	return persistence.Run{
		ID:             id,
		ProviderID:     "prov1",
		VehicleID:      "veh1",
		DriverID:       "driver1",
		Date:           time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC),
		ScheduledStart: start,
		ScheduledEnd:   end,
		Paid:           true,
		CreatedAt:      baseTime,
		UpdatedAt:      baseTime,
	}
}

func TestWithTransaction_RollsBackEveryTable(t *testing.T) {
	store := Open()
	ctx := context.Background()

	if err := store.CreateTrip(ctx, storedTrip("keep")); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}

	sentinel := errors.New("boom")
	err := store.WithTransaction(ctx, func(ctx context.Context, repos persistence.Repos) error {
		if err := repos.Trips().DeleteTrip(ctx, "keep"); err != nil {
			return err
		}
		if err := repos.Trips().CreateTrip(ctx, storedTrip("doomed")); err != nil {
			return err
		}
		if err := repos.Runs().CreateRun(ctx, storedRun("doomed-run", baseTime, baseTime.Add(time.Hour))); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("Expected the callback error, got %v", err)
	}

	if _, err := store.GetTrip(ctx, "keep"); err != nil {
		t.Errorf("Expected deleted trip restored, got %v", err)
	}
	if _, err := store.GetTrip(ctx, "doomed"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected created trip rolled back, got %v", err)
	}
	if _, err := store.GetRun(ctx, "doomed-run"); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected created run rolled back, got %v", err)
	}
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	store := Open()
	ctx := context.Background()

	err := store.WithTransaction(ctx, func(ctx context.Context, repos persistence.Repos) error {
		return repos.Trips().CreateTrip(ctx, storedTrip("t1"))
	})
	if err != nil {
		t.Fatalf("WithTransaction failed: %v", err)
	}
	if _, err := store.GetTrip(ctx, "t1"); err != nil {
		t.Errorf("Expected committed trip visible, got %v", err)
	}
}

func TestGetTrip_ReturnsIsolatedCopy(t *testing.T) {
	store := Open()
	ctx := context.Background()

	runID := "run1"
	trip := storedTrip("t1")
	trip.RunID = &runID
	if err := store.CreateTrip(ctx, trip); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}

	got, err := store.GetTrip(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrip failed: %v", err)
	}
	*got.RunID = "mutated"

	again, err := store.GetTrip(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTrip failed: %v", err)
	}
	if *again.RunID != "run1" {
		t.Errorf("Expected stored trip unaffected by caller mutation, got %q", *again.RunID)
	}
}

func TestRunFinders_ScopeByVehicleAndProvider(t *testing.T) {
	store := Open()
	ctx := context.Background()

	morning := storedRun("morning", baseTime.Add(-3*time.Hour), baseTime.Add(30*time.Minute))
	evening := storedRun("evening", baseTime.Add(45*time.Minute), baseTime.Add(11*time.Hour))
	foreign := storedRun("foreign", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	foreign.ProviderID = "prov2"
	for _, run := range []persistence.Run{morning, evening, foreign} {
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}

	prev, err := store.FindPreviousRun(ctx, "veh1", "prov1", baseTime)
	if err != nil {
		t.Fatalf("FindPreviousRun failed: %v", err)
	}
	if prev.ID != "morning" {
		t.Errorf("Expected morning, got %s", prev.ID)
	}

	next, err := store.FindNextRun(ctx, "veh1", "prov1", baseTime)
	if err != nil {
		t.Fatalf("FindNextRun failed: %v", err)
	}
	if next.ID != "evening" {
		t.Errorf("Expected evening, got %s", next.ID)
	}

	if _, err := store.FindContainingRun(ctx, "veh1", "prov1", baseTime, baseTime.Add(30*time.Minute)); err != nil {
		t.Errorf("Expected morning to contain the window, got %v", err)
	}
	if _, err := store.FindContainingRun(ctx, "veh2", "prov1", baseTime, baseTime.Add(30*time.Minute)); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected no run for another vehicle, got %v", err)
	}

	overlapping, err := store.ListRunsOverlapping(ctx, "veh1", "prov1", baseTime.Add(-24*time.Hour), baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ListRunsOverlapping failed: %v", err)
	}
	if len(overlapping) != 2 || overlapping[0].ID != "morning" || overlapping[1].ID != "evening" {
		t.Errorf("Expected [morning evening], got %v", overlapping)
	}
}

func TestListVehicleTripsDuring_FollowsRunAssignment(t *testing.T) {
	store := Open()
	ctx := context.Background()

	if err := store.CreateRun(ctx, storedRun("run1", baseTime.Add(-3*time.Hour), baseTime.Add(11*time.Hour))); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	runID := "run1"
	onRun := storedTrip("on-run")
	onRun.RunID = &runID
	cab := storedTrip("cab")
	cab.RunID = &runID
	cab.Cab = true
	unassigned := storedTrip("unassigned")
	for _, trip := range []persistence.Trip{onRun, cab, unassigned} {
		if err := store.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("CreateTrip failed: %v", err)
		}
	}

	trips, err := store.ListVehicleTripsDuring(ctx, "veh1", baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListVehicleTripsDuring failed: %v", err)
	}
	if len(trips) != 1 || trips[0].ID != "on-run" {
		t.Errorf("Expected only the assigned non-cab trip, got %v", trips)
	}
}

func TestListSeriesTrips_Filters(t *testing.T) {
	store := Open()
	ctx := context.Background()

	seriesID := "series1"
	calledBackAt := baseTime
	instances := []struct {
		id         string
		pickup     time.Time
		calledBack bool
	}{
		{"past", baseTime.AddDate(0, 0, -7), false},
		{"today", baseTime, false},
		{"next-week", baseTime.AddDate(0, 0, 7), false},
		{"confirmed", baseTime.AddDate(0, 0, 14), true},
	}
	for _, in := range instances {
		trip := storedTrip(in.id)
		trip.PickupTime = in.pickup
		trip.AppointmentTime = in.pickup.Add(30 * time.Minute)
		trip.RepeatingTripID = &seriesID
		if in.calledBack {
			trip.CalledBackAt = &calledBackAt
		}
		if err := store.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("CreateTrip failed: %v", err)
		}
	}
	// Not part of the series.
	if err := store.CreateTrip(ctx, storedTrip("loner")); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}

	ids := func(trips []persistence.Trip) []string {
		out := make([]string, 0, len(trips))
		for _, trip := range trips {
			out = append(out, trip.ID)
		}
		return out
	}
	equal := func(a, b []string) bool {
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}

	tests := []struct {
		name   string
		filter persistence.SeriesFilter
		want   []string
	}{
		{name: "no filter", filter: persistence.SeriesFilter{}, want: []string{"past", "today", "next-week", "confirmed"}},
		{
			name:   "strictly after pickup",
			filter: persistence.SeriesFilter{PickupAfter: &baseTime},
			want:   []string{"next-week", "confirmed"},
		},
		{
			name:   "strictly before pickup",
			filter: persistence.SeriesFilter{PickupBefore: &baseTime},
			want:   []string{"past"},
		},
		{
			name:   "later calendar date",
			filter: persistence.SeriesFilter{PickupDateAfter: &baseTime},
			want:   []string{"next-week", "confirmed"},
		},
		{
			name:   "same calendar date or earlier",
			filter: persistence.SeriesFilter{PickupDateOnOrBefore: &baseTime},
			want:   []string{"past", "today"},
		},
		{
			name: "not called back",
			filter: func() persistence.SeriesFilter {
				notCalledBack := false
				return persistence.SeriesFilter{CalledBack: &notCalledBack}
			}(),
			want: []string{"past", "today", "next-week"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trips, err := store.ListSeriesTrips(ctx, seriesID, tt.filter)
			if err != nil {
				t.Fatalf("ListSeriesTrips failed: %v", err)
			}
			if got := ids(trips); !equal(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestReassignRunTrips_MovesEveryTrip(t *testing.T) {
	store := Open()
	ctx := context.Background()

	from, to := "from-run", "to-run"
	for _, id := range []string{"a", "b"} {
		trip := storedTrip(id)
		source := from
		trip.RunID = &source
		if err := store.CreateTrip(ctx, trip); err != nil {
			t.Fatalf("CreateTrip failed: %v", err)
		}
	}

	if err := store.ReassignRunTrips(ctx, from, to); err != nil {
		t.Fatalf("ReassignRunTrips failed: %v", err)
	}
	for _, id := range []string{"a", "b"} {
		trip, err := store.GetTrip(ctx, id)
		if err != nil {
			t.Fatalf("GetTrip failed: %v", err)
		}
		if trip.RunID == nil || *trip.RunID != to {
			t.Errorf("Expected trip %s on %s, got %v", id, to, trip.RunID)
		}
	}
}

func TestCreateTrip_RejectsDuplicateAndEmptyID(t *testing.T) {
	store := Open()
	ctx := context.Background()

	if err := store.CreateTrip(ctx, storedTrip("t1")); err != nil {
		t.Fatalf("CreateTrip failed: %v", err)
	}
	if err := store.CreateTrip(ctx, storedTrip("t1")); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Errorf("Expected constraint violation for duplicate, got %v", err)
	}
	if err := store.CreateTrip(ctx, storedTrip("")); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Errorf("Expected constraint violation for empty ID, got %v", err)
	}
}
