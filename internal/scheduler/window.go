// Package scheduler contains the pure trip-to-run scheduling core: the time
// window value type, the seating-capacity validator, the run factory and the
// run overlap resolver. The package holds no persistence state; callers load
// a consistent snapshot, ask for a plan, and apply the staged mutations
// inside their own transaction.
package scheduler

import "time"

// TimeWindow is a trip's [pickup, appointment] interval.
type TimeWindow struct {
	Pickup      time.Time
	Appointment time.Time
}

// Valid reports whether the window is well formed.
func (w TimeWindow) Valid() bool {
	return !w.Pickup.IsZero() && !w.Appointment.IsZero() && !w.Appointment.Before(w.Pickup)
}

// Overlaps reports whether the two windows share any interior instant.
// Windows that merely touch at an endpoint do not overlap.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Pickup.Before(other.Appointment) && other.Pickup.Before(w.Appointment)
}

// Contains reports whether the window fully covers other, endpoints included.
func (w TimeWindow) Contains(other TimeWindow) bool {
	return !w.Pickup.After(other.Pickup) && !w.Appointment.Before(other.Appointment)
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.Appointment.Sub(w.Pickup)
}

// SameDay reports whether both instants fall on the same calendar date in the
// given location. Runs never span a day boundary, so the resolver uses this
// to decide between extending a neighbor and creating a fresh run.
func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
