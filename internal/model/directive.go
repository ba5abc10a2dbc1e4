package model

import (
	"math"
	"time"
)

// MaxIntervalDays is the longest interval a time.Duration can hold.
var MaxIntervalDays = float64(math.MaxInt64) / float64(24*time.Hour)

// Directive is the schedule token carried in a subject line, e.g. [DN3D].
type Directive struct {
	// Code is the category code. It selects the follow-up template.
	Code string `json:"code"`

	// IntervalDays is the nudge period in fractional days.
	IntervalDays float64 `json:"interval_days"`
}

// Interval returns the nudge period as a duration.
func (d Directive) Interval() time.Duration {
	return DaysToDuration(d.IntervalDays)
}

// DaysToDuration converts fractional days to a duration, saturating at
// the largest representable duration instead of overflowing.
func DaysToDuration(days float64) time.Duration {
	if days >= MaxIntervalDays {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(days * float64(24*time.Hour))
}
