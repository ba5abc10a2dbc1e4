package followup

import (
	"strings"
	"time"

	"github.com/nhle/mail-followup/internal/source"
)

// SkipReason names the step at which a sent message left the pipeline.
type SkipReason string

const (
	SkipReminder        SkipReason = "reminder"
	SkipNoDirective     SkipReason = "no-directive"
	SkipOutsideLookback SkipReason = "outside-lookback"
	SkipSuppressed      SkipReason = "suppressed"
	SkipNoRecipients    SkipReason = "no-recipients"
	SkipReplied         SkipReason = "replied"
	SkipNotDue          SkipReason = "not-due"
	SkipStale           SkipReason = "stale"
	SkipTooSoon         SkipReason = "too-soon"
	SkipNewerOutgoing   SkipReason = "newer-outgoing"
	SkipDetectionError  SkipReason = "detection-error"
)

// Report summarises one cycle.
type Report struct {
	StartedAt time.Time
	Elapsed   time.Duration

	// Candidates counts sent messages with a directive inside the
	// lookback window.
	Candidates int

	Dispatched int
	DryRun     int
	Failed     int
	Replies    int

	// Deferred counts sent messages left unexamined when the loop budget
	// ran out or the run was cancelled.
	Deferred       int
	BudgetExceeded bool

	Skipped map[SkipReason]int
}

func (r *Report) skip(reason SkipReason) {
	if r.Skipped == nil {
		r.Skipped = make(map[SkipReason]int)
	}
	r.Skipped[reason]++
}

func joinRecipients(rs []source.Recipient) string {
	addrs := make([]string, 0, len(rs))
	for _, r := range rs {
		addrs = append(addrs, r.Address)
	}
	return strings.Join(addrs, ", ")
}
