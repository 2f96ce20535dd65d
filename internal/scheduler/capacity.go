package scheduler

// Occupant is a trip already consuming seats on the vehicle during some
// window. The resolver's caller collects occupants across every run of the
// vehicle, not just the run under consideration.
type Occupant struct {
	TripID string
	Window TimeWindow
	Size   int
}

// OpenSeatingCapacity computes the minimum number of free seats on a vehicle
// over the given window. Occupants whose windows do not overlap the window
// are ignored, as is the occupant matching excludeTripID so that an edited
// trip does not count against itself.
func OpenSeatingCapacity(seats int, occupants []Occupant, window TimeWindow, excludeTripID string) int {
	active := make([]Occupant, 0, len(occupants))
	for _, occ := range occupants {
		if occ.TripID != "" && occ.TripID == excludeTripID {
			continue
		}
		if occ.Window.Overlaps(window) {
			active = append(active, occ)
		}
	}

	// Concurrency only changes at pickup instants, so evaluating the load at
	// the window start and at each overlapping pickup covers the maximum.
	points := make([]Occupant, 0, len(active)+1)
	points = append(points, Occupant{Window: window})
	points = append(points, active...)

	maxLoad := 0
	for _, point := range points {
		at := point.Window.Pickup
		if at.Before(window.Pickup) {
			at = window.Pickup
		}
		load := 0
		for _, occ := range active {
			if !occ.Window.Pickup.After(at) && occ.Window.Appointment.After(at) {
				load += occ.Size
			}
		}
		if load > maxLoad {
			maxLoad = load
		}
	}

	return seats - maxLoad
}

// TripSize returns the number of seats a trip occupies: group customers ride
// as a block, individuals bring their guests and attendants.
func TripSize(customerGroup bool, groupSize, guestCount, attendantCount int) int {
	if customerGroup {
		return groupSize
	}
	return 1 + guestCount + attendantCount
}

// TripCount returns the seat count weighted for round trips.
func TripCount(size int, roundTrip bool) int {
	if roundTrip {
		return size * 2
	}
	return size
}
