package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence"
)

// Store implements persistence.Store over a ConnectionPool. The location
// fixes calendar-day boundaries for the date-based series filters.
type Store struct {
	pool     *ConnectionPool
	location *time.Location
}

// NewStore wires a Store over the pool.
func NewStore(pool *ConnectionPool, loc *time.Location) *Store {
	if loc == nil {
		loc = time.Local
	}
	return &Store{pool: pool, location: loc}
}

// Trips returns the trip repository bound to the pool.
func (s *Store) Trips() persistence.TripRepository {
	return &TripRepository{q: s.pool.db, location: s.location}
}

// Runs returns the run repository bound to the pool.
func (s *Store) Runs() persistence.RunRepository {
	return &RunRepository{q: s.pool.db}
}

// RepeatingTrips returns the template repository bound to the pool.
func (s *Store) RepeatingTrips() persistence.RepeatingTripRepository {
	return &RepeatingTripRepository{q: s.pool.db}
}

// Vehicles returns the vehicle repository bound to the pool.
func (s *Store) Vehicles() persistence.VehicleRepository {
	return &VehicleRepository{q: s.pool.db}
}

// WithTransaction executes fn with every repository bound to one
// transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, repos persistence.Repos) error) error {
	return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		return fn(ctx, &txRepos{tx: tx, location: s.location})
	})
}

type txRepos struct {
	tx       *sql.Tx
	location *time.Location
}

func (r *txRepos) Trips() persistence.TripRepository {
	return &TripRepository{q: r.tx, location: r.location}
}

func (r *txRepos) Runs() persistence.RunRepository {
	return &RunRepository{q: r.tx}
}

func (r *txRepos) RepeatingTrips() persistence.RepeatingTripRepository {
	return &RepeatingTripRepository{q: r.tx}
}

func (r *txRepos) Vehicles() persistence.VehicleRepository {
	return &VehicleRepository{q: r.tx}
}

// mapError translates driver errors into persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "NOT NULL constraint failed") ||
		strings.Contains(msg, "FOREIGN KEY constraint failed") {
		return persistence.ErrConstraintViolation
	}
	return err
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
