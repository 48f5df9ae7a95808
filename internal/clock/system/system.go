// Package system supplies the wall clock that stamps connection events.
package system

import "time"

// DefaultPrecision matches the resolution of a Postgres timestamptz, so an
// event stamped here reads back from history unchanged.
const DefaultPrecision = time.Microsecond

// Clock reports UTC wall time truncated to Precision. A zero Precision keeps
// full resolution.
type Clock struct {
	Precision time.Duration
}

// New returns a Clock using DefaultPrecision.
func New() *Clock {
	return &Clock{Precision: DefaultPrecision}
}

// Now returns the current UTC time.
func (c Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.Precision > 0 {
		now = now.Truncate(c.Precision)
	}
	return now
}
