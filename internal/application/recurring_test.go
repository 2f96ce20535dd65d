package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

func (h *serviceHarness) recurringInput(pickup, appointment string, days ...time.Weekday) TripInput {
	input := h.input(pickup, appointment)
	input.Recurrence = &RecurrenceInput{IntervalWeeks: 1, Weekdays: days, CustomerInformed: true}
	return input
}

// seriesInstances returns the series' trips keyed by pickup date.
func (h *serviceHarness) seriesInstances(t *testing.T, seriesID string) map[string]persistence.Trip {
	t.Helper()
	trips, err := h.store.ListSeriesTrips(context.Background(), seriesID, persistence.SeriesFilter{})
	if err != nil {
		t.Fatalf("ListSeriesTrips failed: %v", err)
	}
	byDay := make(map[string]persistence.Trip, len(trips))
	for _, trip := range trips {
		byDay[trip.PickupTime.In(time.UTC).Format("2006-01-02")] = trip
	}
	return byDay
}

func TestSync_CreateSeriesMaterializesInstances(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))

	if trip.RepeatingTripID == nil {
		t.Fatal("Expected saved trip to be linked to a series")
	}
	template, err := h.store.GetRepeatingTrip(ctx, *trip.RepeatingTripID)
	if err != nil {
		t.Fatalf("GetRepeatingTrip failed: %v", err)
	}
	if template.IntervalWeeks != 1 || !template.CustomerInformed {
		t.Errorf("Expected template to carry the recurrence parameters, got %+v", template)
	}
	if !template.SeedPickupTime.Equal(trip.PickupTime) {
		t.Errorf("Expected seed pickup %v, got %v", trip.PickupTime, template.SeedPickupTime)
	}

	instances := h.seriesInstances(t, template.ID)
	if len(instances) != 3 {
		t.Fatalf("Expected seed plus two materialized instances, got %d", len(instances))
	}
	for _, day := range []string{"2026-03-09", "2026-03-16"} {
		instance, ok := instances[day]
		if !ok {
			t.Fatalf("Expected an instance on %s, got %v", day, instances)
		}
		if instance.RunID == nil {
			t.Errorf("Expected instance on %s to be placed on a run", day)
		}
		if instance.PickupTime.Hour() != 9 || instance.AppointmentTime.Minute() != 30 {
			t.Errorf("Expected seed times carried to %s, got %v-%v", day, instance.PickupTime, instance.AppointmentTime)
		}
		if instance.RepeatingTripID == nil || *instance.RepeatingTripID != template.ID {
			t.Errorf("Expected instance on %s linked to the series", day)
		}
	}
}

func TestMaterializeDueSeries_TopsUpWithoutDuplicates(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))
	seriesID := *trip.RepeatingTripID

	// Same clock, same horizon: nothing new to create.
	if n := h.series.MaterializeDueSeries(ctx, h.store); n != 1 {
		t.Fatalf("Expected one series processed, got %d", n)
	}
	if instances := h.seriesInstances(t, seriesID); len(instances) != 3 {
		t.Fatalf("Expected re-materialization to add nothing, got %d instances", len(instances))
	}

	// A week later the horizon reaches the next Monday.
	*h.now = testNow.AddDate(0, 0, 7)
	if n := h.series.MaterializeDueSeries(ctx, h.store); n != 1 {
		t.Fatalf("Expected one series processed, got %d", n)
	}
	instances := h.seriesInstances(t, seriesID)
	if len(instances) != 4 {
		t.Fatalf("Expected one new instance, got %d total", len(instances))
	}
	if _, ok := instances["2026-03-23"]; !ok {
		t.Errorf("Expected an instance on 2026-03-23, got %v", instances)
	}
}

func TestSync_TemplateEditPrunesFutureButKeepsCalledBack(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))
	seriesID := *trip.RepeatingTripID

	instances := h.seriesInstances(t, seriesID)
	kept := instances["2026-03-09"]
	calledBack := testNow
	kept.CalledBackAt = &calledBack
	if err := h.store.UpdateTrip(ctx, kept); err != nil {
		t.Fatalf("UpdateTrip failed: %v", err)
	}
	doomedID := instances["2026-03-16"].ID

	update := h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday)
	update.ID = trip.ID
	update.DropoffAddress = "90 Harbor Rd"
	h.mustSave(t, update)

	after := h.seriesInstances(t, seriesID)
	if got := after["2026-03-09"]; got.ID != kept.ID || got.CalledBackAt == nil {
		t.Errorf("Expected the called-back instance preserved, got %+v", got)
	}
	regenerated, ok := after["2026-03-16"]
	if !ok {
		t.Fatal("Expected the pruned date to be regenerated")
	}
	if regenerated.ID == doomedID {
		t.Error("Expected a fresh instance to replace the pruned one")
	}
	if regenerated.DropoffAddress != "90 Harbor Rd" {
		t.Errorf("Expected regenerated instance to carry the edit, got %q", regenerated.DropoffAddress)
	}
	if _, err := h.store.GetTrip(ctx, doomedID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected old instance deleted, got %v", err)
	}
}

func TestSync_TemplateEditReanchorsSchedule(t *testing.T) {
	h := newServiceHarness(t, 14)

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))
	seriesID := *trip.RepeatingTripID

	// Moving the occurrence to Tuesday restarts interval counting there.
	update := h.recurringInput("2026-03-03 09:00", "2026-03-03 09:30", time.Tuesday)
	update.ID = trip.ID
	h.mustSave(t, update)

	instances := h.seriesInstances(t, seriesID)
	for day, instance := range instances {
		if instance.PickupTime.Weekday() != time.Tuesday {
			t.Errorf("Expected only Tuesday instances after re-anchoring, got %s", day)
		}
	}
	for _, day := range []string{"2026-03-03", "2026-03-10"} {
		if _, ok := instances[day]; !ok {
			t.Errorf("Expected an instance on %s, got %v", day, instances)
		}
	}

	template, err := h.store.GetRepeatingTrip(context.Background(), seriesID)
	if err != nil {
		t.Fatalf("GetRepeatingTrip failed: %v", err)
	}
	if template.StartDate.Day() != 3 {
		t.Errorf("Expected start date re-anchored to the edited occurrence, got %v", template.StartDate)
	}
}

func TestSync_DetachDestroysSeriesAndPrunesFuture(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))
	seriesID := *trip.RepeatingTripID

	update := h.input("2026-03-02 09:00", "2026-03-02 09:30")
	update.ID = trip.ID
	detached := h.mustSave(t, update)

	if detached.RepeatingTripID != nil {
		t.Errorf("Expected trip unlinked from the series, got %v", detached.RepeatingTripID)
	}
	if _, err := h.store.GetRepeatingTrip(ctx, seriesID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected template destroyed, got %v", err)
	}
	if instances := h.seriesInstances(t, seriesID); len(instances) != 0 {
		t.Errorf("Expected future instances pruned, got %v", instances)
	}
}

func TestSync_DetachAfterInstancesRanKeepsHistory(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))
	seriesID := *trip.RepeatingTripID
	instances := h.seriesInstances(t, seriesID)
	historicID := instances["2026-03-09"].ID
	futureID := instances["2026-03-16"].ID

	// A week in, the March 9 run already happened.
	*h.now = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	update := h.input("2026-03-02 09:00", "2026-03-02 09:30")
	update.ID = trip.ID
	h.mustSave(t, update)

	historic, err := h.store.GetTrip(ctx, historicID)
	if err != nil {
		t.Fatalf("Expected historical instance kept, got %v", err)
	}
	if historic.RepeatingTripID != nil {
		t.Errorf("Expected historical instance unlinked, got %v", historic.RepeatingTripID)
	}
	if _, err := h.store.GetTrip(ctx, futureID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected future instance deleted, got %v", err)
	}
	if _, err := h.store.GetRepeatingTrip(ctx, seriesID); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("Expected template destroyed, got %v", err)
	}
}

func TestSync_RecreatesVanishedTemplate(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	trip := h.mustSave(t, h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday))
	oldSeriesID := *trip.RepeatingTripID
	if err := h.store.DeleteRepeatingTrip(ctx, oldSeriesID); err != nil {
		t.Fatalf("DeleteRepeatingTrip failed: %v", err)
	}

	update := h.recurringInput("2026-03-02 09:00", "2026-03-02 09:30", time.Monday)
	update.ID = trip.ID
	relinked := h.mustSave(t, update)

	if relinked.RepeatingTripID == nil || *relinked.RepeatingTripID == oldSeriesID {
		t.Fatalf("Expected a fresh template, got %v", relinked.RepeatingTripID)
	}
	if _, err := h.store.GetRepeatingTrip(ctx, *relinked.RepeatingTripID); err != nil {
		t.Errorf("GetRepeatingTrip failed: %v", err)
	}
}

func TestMaterializeDueSeries_SkipsUnschedulableOccurrence(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	// Pinned runs with different drivers block the March 9 window.
	morningID, eveningID := "blk-am", "blk-pm"
	runs := []persistence.Run{
		{
			ID: morningID, ProviderID: "prov1", VehicleID: "veh1", DriverID: "driver1",
			Date:           time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			ScheduledStart: time.Date(2026, 3, 9, 6, 0, 0, 0, time.UTC),
			ScheduledEnd:   time.Date(2026, 3, 9, 9, 30, 0, 0, time.UTC),
			Paid:           true, CreatedAt: testNow, UpdatedAt: testNow,
		},
		{
			ID: eveningID, ProviderID: "prov1", VehicleID: "veh1", DriverID: "driver2",
			Date:           time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
			ScheduledStart: time.Date(2026, 3, 9, 9, 45, 0, 0, time.UTC),
			ScheduledEnd:   time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC),
			Paid:           true, CreatedAt: testNow, UpdatedAt: testNow,
		},
	}
	for _, run := range runs {
		if err := h.store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun failed: %v", err)
		}
	}
	pins := []persistence.Trip{
		{
			ID: "pin-am", ProviderID: "prov1", CustomerID: "cust8",
			PickupTime:      time.Date(2026, 3, 9, 8, 30, 0, 0, time.UTC),
			AppointmentTime: time.Date(2026, 3, 9, 9, 15, 0, 0, time.UTC),
			RunID:           &morningID, CreatedAt: testNow, UpdatedAt: testNow,
		},
		{
			ID: "pin-pm", ProviderID: "prov1", CustomerID: "cust9",
			PickupTime:      time.Date(2026, 3, 9, 9, 50, 0, 0, time.UTC),
			AppointmentTime: time.Date(2026, 3, 9, 10, 30, 0, 0, time.UTC),
			RunID:           &eveningID, CreatedAt: testNow, UpdatedAt: testNow,
		},
	}
	for _, pin := range pins {
		if err := h.store.CreateTrip(ctx, pin); err != nil {
			t.Fatalf("CreateTrip failed: %v", err)
		}
	}

	vehicleID := "veh1"
	template := persistence.RepeatingTrip{
		ID: "tmpl1", ProviderID: "prov1", CustomerID: "cust1",
		PickupAddress: "12 Elm St", DropoffAddress: "400 Clinic Way",
		SeedPickupTime:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		SeedAppointmentTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		VehicleID:           &vehicleID,
		IntervalWeeks:       1,
		Weekdays:            []time.Weekday{time.Monday},
		StartDate:           time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt:           testNow, UpdatedAt: testNow,
	}
	if err := h.store.CreateRepeatingTrip(ctx, template); err != nil {
		t.Fatalf("CreateRepeatingTrip failed: %v", err)
	}

	if n := h.series.MaterializeDueSeries(ctx, h.store); n != 1 {
		t.Fatalf("Expected the series to be processed, got %d", n)
	}

	instances := h.seriesInstances(t, template.ID)
	if _, ok := instances["2026-03-09"]; ok {
		t.Error("Expected the blocked occurrence to be skipped")
	}
	for _, day := range []string{"2026-03-02", "2026-03-16"} {
		instance, ok := instances[day]
		if !ok {
			t.Fatalf("Expected an instance on %s, got %v", day, instances)
		}
		if instance.RunID == nil {
			t.Errorf("Expected instance on %s placed on a run", day)
		}
	}
}

func TestMaterializeDueSeries_BadSeriesDoesNotBlockOthers(t *testing.T) {
	h := newServiceHarness(t, 14)
	ctx := context.Background()

	broken := persistence.RepeatingTrip{
		ID: "tmpl-bad", ProviderID: "prov1", CustomerID: "cust2",
		SeedPickupTime:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		SeedAppointmentTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		IntervalWeeks:       0,
		Weekdays:            []time.Weekday{time.Monday},
		StartDate:           time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt:           testNow, UpdatedAt: testNow,
	}
	healthy := persistence.RepeatingTrip{
		ID: "tmpl-ok", ProviderID: "prov1", CustomerID: "cust3",
		SeedPickupTime:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		SeedAppointmentTime: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		IntervalWeeks:       1,
		Weekdays:            []time.Weekday{time.Monday},
		StartDate:           time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt:           testNow, UpdatedAt: testNow,
	}
	for _, template := range []persistence.RepeatingTrip{broken, healthy} {
		if err := h.store.CreateRepeatingTrip(ctx, template); err != nil {
			t.Fatalf("CreateRepeatingTrip failed: %v", err)
		}
	}

	if n := h.series.MaterializeDueSeries(ctx, h.store); n != 1 {
		t.Fatalf("Expected only the healthy series to succeed, got %d", n)
	}
	if instances := h.seriesInstances(t, "tmpl-ok"); len(instances) != 3 {
		t.Errorf("Expected three instances for the healthy series, got %d", len(instances))
	}
	if instances := h.seriesInstances(t, "tmpl-bad"); len(instances) != 0 {
		t.Errorf("Expected no instances for the broken series, got %d", len(instances))
	}
}
