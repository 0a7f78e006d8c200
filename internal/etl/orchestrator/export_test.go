package orchestrator

import "time"

// Private members exported for tests.

// WithClock overrides the wall clock used for job timestamps.
func WithClock(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}
