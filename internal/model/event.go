package model

import "time"

// EventKind distinguishes journal entries.
type EventKind string

const (
	// EventDispatch records a follow-up handed to the sender.
	EventDispatch EventKind = "dispatch"

	// EventReply records a detected reply.
	EventReply EventKind = "reply"
)

// Event is one entry of the follow-up journal.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `db:"id" json:"id"`

	Kind EventKind `db:"kind" json:"kind"`

	// TrackingKey is the state key the event belongs to.
	TrackingKey string `db:"tracking_key" json:"tracking_key"`

	// ThreadID is the thread identity of the original message.
	ThreadID string `db:"thread_id" json:"thread_id"`

	// Recipient is the nudged address, or the replying sender for reply
	// events. Empty for thread-scoped dispatches.
	Recipient string `db:"recipient" json:"recipient"`

	// Code is the category code of the directive.
	Code string `db:"code" json:"code"`

	Subject string `db:"subject" json:"subject"`

	// Reference is a project or order reference found in the subject.
	Reference string `db:"reference" json:"reference"`

	// Strategy is the detection strategy for reply events.
	Strategy DetectionStrategy `db:"strategy" json:"strategy"`

	// DryRun marks dispatches that were only logged.
	DryRun bool `db:"dry_run" json:"dry_run"`

	// OccurredAt is the dispatch time or the reply's receive time.
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
}
