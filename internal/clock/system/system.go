// Package system provides a real clock implementation.
package system

import "time"

// Clock stamps content and submissions with the wall clock in UTC, truncated
// to milliseconds so stored timestamps match what browsers emit.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
