package model

import (
	"fmt"
	"strings"
	"time"
)

// DetectionStrategy names the reply-detection strategy that matched.
type DetectionStrategy string

const (
	DetectedByConversation DetectionStrategy = "CONVERSATION"
	DetectedByHeader       DetectionStrategy = "HEADER"
	DetectedByTopic        DetectionStrategy = "TOPIC"
	DetectedByFuzzy        DetectionStrategy = "FUZZY"
	DetectedByNone         DetectionStrategy = "NONE"
)

// ParseDetectionStrategy maps a strategy name (case-insensitive, with a few
// short aliases) to its DetectionStrategy.
func ParseDetectionStrategy(name string) (DetectionStrategy, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "CONVERSATION", "CONV":
		return DetectedByConversation, nil
	case "HEADER", "HDR":
		return DetectedByHeader, nil
	case "TOPIC", "CID", "CID/TOPIC":
		return DetectedByTopic, nil
	case "FUZZY", "FUZZ":
		return DetectedByFuzzy, nil
	default:
		return "", fmt.Errorf("unknown detection strategy %q", name)
	}
}

// TrackingMode selects how scheduling state is keyed.
type TrackingMode string

const (
	// TrackPerThread keys state by thread identity; all recipients are
	// nudged together.
	TrackPerThread TrackingMode = "thread"

	// TrackPerRecipient keys state by (thread, recipient); a reply from one
	// recipient silences only that recipient's nudges.
	TrackPerRecipient TrackingMode = "recipient"
)

// ScheduleState is the persisted scheduling state for one tracking key.
type ScheduleState struct {
	// LastReminderAt is when the last follow-up was dispatched, nil if none.
	LastReminderAt *time.Time `json:"last_reminder_at"`

	// ReplyReceived is sticky: the engine never resets it to false.
	ReplyReceived bool `json:"reply_received"`

	// ReplyDetectedBy records which strategy found the reply.
	ReplyDetectedBy DetectionStrategy `json:"reply_detected_by"`

	// DetectedAt is the receive time of the matching reply.
	DetectedAt *time.Time `json:"detected_at,omitempty"`

	// TemplateCode is the category code used for the last follow-up.
	TemplateCode string `json:"template_code,omitempty"`

	// Subject is the original subject, kept for operator listings.
	Subject string `json:"subject"`
}

// Merge folds next into s while preserving the state invariants:
// ReplyReceived never goes back to false and LastReminderAt never moves
// backwards.
func (s ScheduleState) Merge(next ScheduleState) ScheduleState {
	out := next

	if s.ReplyReceived && !next.ReplyReceived {
		out.ReplyReceived = true
		out.ReplyDetectedBy = s.ReplyDetectedBy
		out.DetectedAt = s.DetectedAt
	}

	if s.LastReminderAt != nil {
		if next.LastReminderAt == nil ||
			next.LastReminderAt.Before(*s.LastReminderAt) {

			last := *s.LastReminderAt
			out.LastReminderAt = &last
		}
	}

	if out.ReplyDetectedBy == "" {
		out.ReplyDetectedBy = DetectedByNone
	}
	if out.TemplateCode == "" {
		out.TemplateCode = s.TemplateCode
	}
	if out.Subject == "" {
		out.Subject = s.Subject
	}

	return out
}
