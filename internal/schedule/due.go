// Package schedule computes when a tracked message is next due for a
// follow-up.
package schedule

import (
	"time"

	"github.com/nhle/mail-followup/internal/model"
)

// Day is the length of one interval day.
const Day = 24 * time.Hour

// Due is the outcome of a due computation.
type Due struct {
	Due    bool
	Anchor time.Time
	DueAt  time.Time
}

// Remaining returns the time left until DueAt, negative once overdue.
func (d Due) Remaining(now time.Time) time.Duration {
	return d.DueAt.Sub(now)
}

// IsDue reports whether a message sent at sentAt with the given interval
// is due at now. With useLastAsAnchor the cadence slides with the last
// reminder; otherwise it stays fixed to the original send.
func IsDue(
	sentAt time.Time, lastReminderAt *time.Time, intervalDays float64,
	useLastAsAnchor bool, now time.Time,
) Due {
	anchor := sentAt
	if useLastAsAnchor && lastReminderAt != nil &&
		lastReminderAt.After(sentAt) {

		anchor = *lastReminderAt
	}

	dueAt := anchor.Add(Interval(intervalDays))
	return Due{
		Due:    !now.Before(dueAt),
		Anchor: anchor,
		DueAt:  dueAt,
	}
}

// Interval converts fractional days to a duration. Intervals too long to
// represent saturate, so they are never due.
func Interval(days float64) time.Duration {
	return model.DaysToDuration(days)
}

// NearlyDue reports whether d falls due within epsilon of now. It is the
// cheap precheck run before any folder scan.
func NearlyDue(d Due, now time.Time, epsilon time.Duration) bool {
	return d.Remaining(now) <= epsilon
}

// Stale reports whether a message sent at sentAt is older than maxAge.
// A non-positive maxAge disables the guard.
func Stale(sentAt time.Time, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(sentAt) > maxAge
}

// TooSoon reports whether less than interval has passed since the last
// reminder.
func TooSoon(
	lastReminderAt *time.Time, interval time.Duration, now time.Time,
) bool {
	if lastReminderAt == nil {
		return false
	}
	return now.Sub(*lastReminderAt) < interval
}

// CheckAfter returns the later of sentAt and lastReminderAt. Replies
// received at or before it do not count against the next reminder.
func CheckAfter(sentAt time.Time, lastReminderAt *time.Time) time.Time {
	if lastReminderAt != nil && lastReminderAt.After(sentAt) {
		return *lastReminderAt
	}
	return sentAt
}
