package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
	"github.com/example/paratransit-scheduler/internal/recurrence"
	"github.com/example/paratransit-scheduler/internal/scheduler"
)

// instanceAssigner places a generated series instance on a run inside the
// current transaction. TripService satisfies it.
type instanceAssigner interface {
	assignRun(ctx context.Context, repos persistence.Repos, trip *persistence.Trip, vehicleID, driverID string) error
}

// SeriesManager keeps a recurring template and its generated trip instances
// consistent. It is invoked explicitly from the trip save pipeline and from
// the background materializer; it never runs behind hidden callbacks.
//
// The pruning cutoff is always the wall clock at the moment of the
// operation: instances with a pickup in the past, or marked called back,
// represent history and are preserved.
type SeriesManager struct {
	engine      *recurrence.Engine
	advanceDays int
	location    *time.Location
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
	assigner    instanceAssigner
}

// NewSeriesManager wires dependencies for recurring-series coordination.
func NewSeriesManager(engine *recurrence.Engine, advanceDays int, loc *time.Location, idGenerator func() string, now func() time.Time, logger *slog.Logger) *SeriesManager {
	if advanceDays < 1 {
		advanceDays = 21
	}
	if loc == nil {
		loc = time.Local
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	if engine == nil {
		engine = recurrence.NewEngine(loc)
	}
	return &SeriesManager{
		engine:      engine,
		advanceDays: advanceDays,
		location:    loc,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (m *SeriesManager) bind(assigner instanceAssigner) {
	m.assigner = assigner
}

// Sync applies the recurrence state machine for a just-saved trip:
// standalone trips marked recurring gain a template, template edits
// regenerate future instances, and detached trips prune and destroy the
// series. viaSeries marks instances created by materialization, which never
// mutate their own template.
func (m *SeriesManager) Sync(ctx context.Context, repos persistence.Repos, trip *persistence.Trip, rec *RecurrenceInput, viaSeries bool) error {
	if viaSeries {
		return nil
	}

	switch {
	case rec != nil && trip.RepeatingTripID == nil:
		if err := m.createTemplate(ctx, repos, trip, rec); err != nil {
			return err
		}
	case rec != nil:
		if err := m.updateTemplate(ctx, repos, trip, rec); err != nil {
			return err
		}
	case trip.RepeatingTripID != nil:
		return m.detach(ctx, repos, trip)
	default:
		return nil
	}

	template, err := repos.RepeatingTrips().GetRepeatingTrip(ctx, *trip.RepeatingTripID)
	if err != nil {
		return err
	}
	return m.materialize(ctx, repos, template)
}

// MaterializeDueSeries tops up every series with instances through the
// advance horizon. Each series is synchronized in its own transaction;
// failures are logged and do not block the remaining series.
func (m *SeriesManager) MaterializeDueSeries(ctx context.Context, store persistence.Store) int {
	logger := serviceLogger(ctx, m.logger, "series", "materialize_due")

	templates, err := store.RepeatingTrips().ListRepeatingTrips(ctx)
	if err != nil {
		logger.Error("failed to list series", "error", err)
		return 0
	}

	materialized := 0
	for _, template := range templates {
		template := template
		err := store.WithTransaction(ctx, func(ctx context.Context, repos persistence.Repos) error {
			return m.materialize(ctx, repos, template)
		})
		if err != nil {
			logger.Warn("series materialization failed", "repeating_trip_id", template.ID, "error", err)
			continue
		}
		materialized++
	}
	return materialized
}

func (m *SeriesManager) createTemplate(ctx context.Context, repos persistence.Repos, trip *persistence.Trip, rec *RecurrenceInput) error {
	now := m.now()
	template := templateFromTrip(*trip, rec)
	template.ID = m.idGenerator()
	template.CreatedAt = now
	template.UpdatedAt = now

	if err := repos.RepeatingTrips().CreateRepeatingTrip(ctx, template); err != nil {
		return err
	}

	trip.RepeatingTripID = &template.ID
	trip.UpdatedAt = now
	return repos.Trips().UpdateTrip(ctx, *trip)
}

func (m *SeriesManager) updateTemplate(ctx context.Context, repos persistence.Repos, trip *persistence.Trip, rec *RecurrenceInput) error {
	existing, err := repos.RepeatingTrips().GetRepeatingTrip(ctx, *trip.RepeatingTripID)
	if errors.Is(err, persistence.ErrNotFound) {
		// The template vanished out from under the link; recreate it.
		trip.RepeatingTripID = nil
		return m.createTemplate(ctx, repos, trip, rec)
	}
	if err != nil {
		return err
	}

	// The edited occurrence re-anchors the schedule: its pickup date becomes
	// the series start date, as interval counting restarts from it.
	updated := templateFromTrip(*trip, rec)
	updated.ID = existing.ID
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = existing.UpdatedAt

	if !templateChanged(existing, updated) {
		return nil
	}

	updated.UpdatedAt = m.now()
	if err := repos.RepeatingTrips().UpdateRepeatingTrip(ctx, updated); err != nil {
		return err
	}
	return m.pruneFuture(ctx, repos, *trip)
}

func (m *SeriesManager) detach(ctx context.Context, repos persistence.Repos, trip *persistence.Trip) error {
	seriesID := *trip.RepeatingTripID

	if err := m.pruneFuture(ctx, repos, *trip); err != nil {
		return err
	}
	if err := m.unlinkPast(ctx, repos, *trip); err != nil {
		return err
	}

	if err := repos.RepeatingTrips().DeleteRepeatingTrip(ctx, seriesID); err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return err
	}

	trip.RepeatingTripID = nil
	trip.UpdatedAt = m.now()
	return repos.Trips().UpdateTrip(ctx, *trip)
}

// pruneFuture destroys the series' future, not-called-back instances. The
// candidate set is collected first, then deleted by ID, so the cutoff and
// the transaction boundary stay explicit.
func (m *SeriesManager) pruneFuture(ctx context.Context, repos persistence.Repos, trip persistence.Trip) error {
	notCalledBack := false
	filter := persistence.SeriesFilter{CalledBack: &notCalledBack}

	now := m.now()
	if trip.PickupTime.Before(now) {
		// The edited occurrence is already in the past: only instances on a
		// later calendar date than today may be deleted.
		filter.PickupDateAfter = &now
	} else {
		filter.PickupAfter = &trip.PickupTime
	}

	doomed, err := repos.Trips().ListSeriesTrips(ctx, *trip.RepeatingTripID, filter)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(doomed))
	for _, instance := range doomed {
		if instance.ID == trip.ID {
			continue
		}
		ids = append(ids, instance.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return repos.Trips().DeleteTrips(ctx, ids)
}

// unlinkPast clears the series reference on historical instances instead of
// destroying them.
func (m *SeriesManager) unlinkPast(ctx context.Context, repos persistence.Repos, trip persistence.Trip) error {
	filter := persistence.SeriesFilter{}

	now := m.now()
	if trip.PickupTime.Before(now) {
		filter.PickupDateOnOrBefore = &now
	} else {
		filter.PickupBefore = &trip.PickupTime
	}

	past, err := repos.Trips().ListSeriesTrips(ctx, *trip.RepeatingTripID, filter)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(past))
	for _, instance := range past {
		if instance.ID == trip.ID {
			continue
		}
		ids = append(ids, instance.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return repos.Trips().ClearSeriesLink(ctx, ids)
}

// materialize creates the missing future instances of a series through the
// advance horizon. Dates that already carry an instance are not duplicated.
// Instances that fail run validation are skipped with a warning; the rest of
// the batch proceeds.
func (m *SeriesManager) materialize(ctx context.Context, repos persistence.Repos, template persistence.RepeatingTrip) error {
	logger := serviceLogger(ctx, m.logger, "series", "materialize", "repeating_trip_id", template.ID)

	now := m.now()
	until := now.AddDate(0, 0, m.advanceDays)

	rule := recurrence.Rule{
		IntervalWeeks: template.IntervalWeeks,
		Weekdays:      template.Weekdays,
		StartDate:     template.StartDate,
	}
	dates, err := m.engine.Occurrences(rule, now, until)
	if err != nil {
		return err
	}
	if len(dates) == 0 {
		return nil
	}

	existing, err := repos.Trips().ListSeriesTrips(ctx, template.ID, persistence.SeriesFilter{})
	if err != nil {
		return err
	}
	taken := make(map[string]struct{}, len(existing))
	for _, instance := range existing {
		taken[dayKey(instance.PickupTime, m.location)] = struct{}{}
	}

	for _, date := range dates {
		if _, ok := taken[dayKey(date, m.location)]; ok {
			continue
		}

		instance := m.instanceFromTemplate(template, date)
		if template.VehicleID != nil && *template.VehicleID != "" && m.assigner != nil {
			err := m.assigner.assignRun(ctx, repos, &instance, *template.VehicleID, derefString(template.DriverID))
			if err != nil {
				var conflict *scheduler.ConflictError
				var vErr *ValidationError
				if errors.As(err, &conflict) || errors.As(err, &vErr) || errors.Is(err, scheduler.ErrOverlappingRuns) {
					logger.Warn("skipping unschedulable occurrence", "date", dayKey(date, m.location), "error", err)
					continue
				}
				return err
			}
		}

		if err := repos.Trips().CreateTrip(ctx, instance); err != nil {
			return err
		}
	}
	return nil
}

func (m *SeriesManager) instanceFromTemplate(template persistence.RepeatingTrip, date time.Time) persistence.Trip {
	now := m.now()
	seriesID := template.ID
	return persistence.Trip{
		ID:                 m.idGenerator(),
		ProviderID:         template.ProviderID,
		CustomerID:         template.CustomerID,
		CustomerGroup:      template.CustomerGroup,
		GroupSize:          template.GroupSize,
		PickupAddress:      template.PickupAddress,
		DropoffAddress:     template.DropoffAddress,
		PickupTime:         atTimeOfDay(date, template.SeedPickupTime, m.location),
		AppointmentTime:    atTimeOfDay(date, template.SeedAppointmentTime, m.location),
		GuestCount:         template.GuestCount,
		AttendantCount:     template.AttendantCount,
		RoundTrip:          template.RoundTrip,
		RequestedDriverID:  template.DriverID,
		RequestedVehicleID: template.VehicleID,
		RepeatingTripID:    &seriesID,
		Memo:               template.Memo,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func templateFromTrip(trip persistence.Trip, rec *RecurrenceInput) persistence.RepeatingTrip {
	return persistence.RepeatingTrip{
		ProviderID:          trip.ProviderID,
		CustomerID:          trip.CustomerID,
		CustomerGroup:       trip.CustomerGroup,
		GroupSize:           trip.GroupSize,
		PickupAddress:       trip.PickupAddress,
		DropoffAddress:      trip.DropoffAddress,
		SeedPickupTime:      trip.PickupTime,
		SeedAppointmentTime: trip.AppointmentTime,
		GuestCount:          trip.GuestCount,
		AttendantCount:      trip.AttendantCount,
		RoundTrip:           trip.RoundTrip,
		Memo:                trip.Memo,
		DriverID:            trip.RequestedDriverID,
		VehicleID:           trip.RequestedVehicleID,
		CustomerInformed:    rec.CustomerInformed,
		IntervalWeeks:       rec.IntervalWeeks,
		Weekdays:            append([]time.Weekday(nil), rec.Weekdays...),
		StartDate:           trip.PickupTime,
	}
}

// templateChanged reports whether any recurrence-relevant field differs.
func templateChanged(a, b persistence.RepeatingTrip) bool {
	if a.ProviderID != b.ProviderID ||
		a.CustomerID != b.CustomerID ||
		a.CustomerGroup != b.CustomerGroup ||
		a.GroupSize != b.GroupSize ||
		a.PickupAddress != b.PickupAddress ||
		a.DropoffAddress != b.DropoffAddress ||
		!a.SeedPickupTime.Equal(b.SeedPickupTime) ||
		!a.SeedAppointmentTime.Equal(b.SeedAppointmentTime) ||
		a.GuestCount != b.GuestCount ||
		a.AttendantCount != b.AttendantCount ||
		a.RoundTrip != b.RoundTrip ||
		a.CustomerInformed != b.CustomerInformed ||
		a.IntervalWeeks != b.IntervalWeeks {
		return true
	}
	ay, am, ad := a.StartDate.Date()
	by, bm, bd := b.StartDate.Date()
	if ay != by || am != bm || ad != bd {
		return true
	}
	if derefString(a.Memo) != derefString(b.Memo) ||
		derefString(a.DriverID) != derefString(b.DriverID) ||
		derefString(a.VehicleID) != derefString(b.VehicleID) {
		return true
	}
	if len(a.Weekdays) != len(b.Weekdays) {
		return true
	}
	seen := make(map[time.Weekday]struct{}, len(a.Weekdays))
	for _, day := range a.Weekdays {
		seen[day] = struct{}{}
	}
	for _, day := range b.Weekdays {
		if _, ok := seen[day]; !ok {
			return true
		}
	}
	return false
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

func atTimeOfDay(date, template time.Time, loc *time.Location) time.Time {
	y, m, d := date.In(loc).Date()
	tpl := template.In(loc)
	return time.Date(y, m, d, tpl.Hour(), tpl.Minute(), tpl.Second(), 0, loc)
}
