// Package clock abstracts the time source so bidding windows and renewal
// schedules can be tested against a controlled clock.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns a Clock backed by the wall clock, in UTC.
func System() Clock {
	return systemClock{}
}
