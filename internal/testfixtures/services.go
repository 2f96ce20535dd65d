package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/paratransit-scheduler/internal/application"
	"github.com/example/paratransit-scheduler/internal/persistence"
	"github.com/example/paratransit-scheduler/internal/recurrence"
	"github.com/example/paratransit-scheduler/internal/scheduler"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Hours       scheduler.BusinessHours
	Location    *time.Location
	AdvanceDays int
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// WithClock overrides the factory clock.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.Clock = clock }
}

// WithIDGenerator overrides the factory identifier generator.
func WithIDGenerator(gen *IDGenerator) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.IDGenerator = gen }
}

// WithBusinessHours overrides the default run creation hours.
func WithBusinessHours(hours scheduler.BusinessHours) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.Hours = hours }
}

// WithAdvanceDays overrides the series materialization horizon.
func WithAdvanceDays(days int) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.AdvanceDays = days }
}

// WithLogger attaches a logger to constructed services.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(f *ServiceFactory) { f.Logger = logger }
}

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Hours:       scheduler.BusinessHours{StartHour: 6, EndHour: 20},
		Location:    time.UTC,
		AdvanceDays: 21,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Location == nil {
		factory.Location = time.UTC
	}
	return factory
}

// TripService builds a TripService, with its SeriesManager bound, over the
// given store.
func (f *ServiceFactory) TripService(store persistence.Store) *application.TripService {
	return application.NewTripServiceWithLogger(
		store,
		f.SeriesManager(),
		f.Hours,
		f.Location,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}

// SeriesManager builds a standalone SeriesManager. Generated instances only
// receive run assignments once the manager is bound to a TripService.
func (f *ServiceFactory) SeriesManager() *application.SeriesManager {
	engine := recurrence.NewEngine(f.Location)
	return application.NewSeriesManager(
		engine,
		f.AdvanceDays,
		f.Location,
		f.IDGenerator.NextFunc(),
		f.Clock.NowFunc(),
		f.Logger,
	)
}
