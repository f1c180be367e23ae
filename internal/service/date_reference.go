package service

import "time"

// Clock returns the current instant. Services take one so tests can pin "now".
type Clock func() time.Time

// RelativeDate shifts base by offsetDays calendar days in the process local
// time zone. Negative offsets move into the past.
func RelativeDate(offsetDays int, base time.Time) time.Time {
	return base.In(time.Local).AddDate(0, 0, offsetDays)
}
