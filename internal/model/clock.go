package model

import (
	"fmt"
	"time"
)

// DefaultDueTime is used for tasks that do not configure a due time.
const DefaultDueTime = "18:00"

// ParseClock converts an "HH:MM" string into minutes since midnight. Clock
// strings are parsed once at the boundary and compared numerically from then
// on.
func ParseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	for _, c := range []byte{s[0], s[1], s[3], s[4]} {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
		}
	}
	if h > 23 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	return h*60 + m, nil
}

// ClockOn returns the instant at the given minutes-since-midnight on day's
// calendar date, in day's location.
func ClockOn(day time.Time, minutes int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, day.Location()).Add(time.Duration(minutes) * time.Minute)
}
