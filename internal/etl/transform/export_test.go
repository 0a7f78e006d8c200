package transform

import "time"

// Private members exported for tests.

// WithClock overrides the wall clock used for timestamps and date
// calculations.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}
