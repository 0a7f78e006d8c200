package validate

import "time"

// SetNow pins the wall clock used by business rules. It returns a restore
// function for the previous clock.
func SetNow(now func() time.Time) (restore func()) {
	prev := nowFunc
	nowFunc = now
	return func() { nowFunc = prev }
}
