// Package theme holds the lipgloss styles used by the command-line output.
package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mail-followup/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle renders field labels in key/value listings.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(14)

// KeyStyle renders tracking keys.
var KeyStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorBlue)

// HelpStyle is used for hints and secondary text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for summary panels.
var BorderStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// Tracking states shown by StateLabel.
const (
	StateReplied    = "replied"
	StateSuppressed = "suppressed"
	StateNudged     = "nudged"
	StatePending    = "pending"
)

// StateLabel classifies a tracking key for listings.
func StateLabel(st model.ScheduleState, suppressed bool) string {
	switch {
	case suppressed:
		return StateSuppressed
	case st.ReplyReceived:
		return StateReplied
	case st.LastReminderAt != nil:
		return StateNudged
	default:
		return StatePending
	}
}

// StateStyle returns a color-coded style for a StateLabel value.
func StateStyle(label string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch label {
	case StateReplied:
		return base.Foreground(ColorGreen)
	case StateNudged:
		return base.Foreground(ColorYellow)
	case StateSuppressed:
		return base.Foreground(ColorGray)
	default:
		return base.Foreground(ColorBlue)
	}
}

// EventStyle returns a color-coded style for a journal event kind.
func EventStyle(kind model.EventKind, dryRun bool) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch {
	case dryRun:
		return base.Foreground(ColorGray)
	case kind == model.EventReply:
		return base.Foreground(ColorGreen)
	case kind == model.EventDispatch:
		return base.Foreground(ColorMagenta)
	default:
		return base.Foreground(ColorGray)
	}
}

// CycleStyle returns a color-coded style for a scheduler state name.
func CycleStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch state {
	case "running":
		return base.Foreground(ColorYellow)
	case "error":
		return base.Foreground(ColorRed)
	default:
		return base.Foreground(ColorGreen)
	}
}
