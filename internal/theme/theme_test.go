package theme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-followup/internal/model"
)

func TestStateLabel(t *testing.T) {
	now := time.Now()

	require.Equal(t, StatePending, StateLabel(model.ScheduleState{}, false))
	require.Equal(t, StateNudged, StateLabel(
		model.ScheduleState{LastReminderAt: &now}, false,
	))
	require.Equal(t, StateReplied, StateLabel(
		model.ScheduleState{LastReminderAt: &now, ReplyReceived: true}, false,
	))
	require.Equal(t, StateSuppressed, StateLabel(
		model.ScheduleState{ReplyReceived: true}, true,
	))
}
