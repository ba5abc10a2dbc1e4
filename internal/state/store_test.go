package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nhle/mail-followup/internal/model"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, s.Load())
	return s
}

func at(h int) *time.Time {
	ts := time.Date(2026, 1, 1, h, 0, 0, 0, time.UTC)
	return &ts
}

func TestLoadMissingFile(t *testing.T) {
	s := newStore(t)
	require.Empty(t, s.Keys())
	require.Empty(t, s.Suppressed())
}

func TestPutPersistsImmediately(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put("MSGID:a|bob@x", model.ScheduleState{
		LastReminderAt: at(9),
		TemplateCode:   "DN",
		Subject:        "[DN3D] Invoice",
	}))

	reloaded := New(s.Path())
	require.NoError(t, reloaded.Load())

	st, ok := reloaded.Get("MSGID:a|bob@x")
	require.True(t, ok)
	require.True(t, st.LastReminderAt.Equal(*at(9)))
	require.Equal(t, model.DetectedByNone, st.ReplyDetectedBy)
	require.Equal(t, "DN", st.TemplateCode)

	_, err := os.Stat(s.Path() + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestDocumentLayout(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put("k1", model.ScheduleState{Subject: "one"}))
	require.NoError(t, s.Suppress("zz"))
	require.NoError(t, s.Suppress("aa"))

	payload, err := os.ReadFile(s.Path())
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &doc))
	require.Contains(t, doc, "k1")

	var suppressed []string
	require.NoError(t, json.Unmarshal(doc[SuppressedKey], &suppressed))
	require.Equal(t, []string{"aa", "zz"}, suppressed)
}

func TestCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s := New(path)
	require.NoError(t, s.Load())
	require.Empty(t, s.Keys())

	require.NoError(t, s.Put("k", model.ScheduleState{Subject: "s"}))
	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	require.Equal(t, []string{"k"}, reloaded.Keys())
}

func TestEmptyFileIsEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	s := New(path)
	require.NoError(t, s.Load())
	require.Empty(t, s.Keys())
}

func TestSuppression(t *testing.T) {
	s := newStore(t)
	require.False(t, s.IsSuppressed("k"))

	require.NoError(t, s.Suppress("k"))
	require.True(t, s.IsSuppressed("k"))

	reloaded := New(s.Path())
	require.NoError(t, reloaded.Load())
	require.True(t, reloaded.IsSuppressed("k"))

	require.NoError(t, reloaded.Unsuppress("k"))
	require.False(t, reloaded.IsSuppressed("k"))
}

func TestCancel(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put("k", model.ScheduleState{Subject: "s"}))
	require.NoError(t, s.Cancel("k"))

	_, ok := s.Get("k")
	require.False(t, ok)
	require.True(t, s.IsSuppressed("k"))
}

func TestReplyReceivedIsSticky(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Put("k", model.ScheduleState{
		ReplyReceived:   true,
		ReplyDetectedBy: model.DetectedByHeader,
		DetectedAt:      at(10),
	}))
	require.NoError(t, s.Put("k", model.ScheduleState{
		LastReminderAt: at(11),
	}))

	st, _ := s.Get("k")
	require.True(t, st.ReplyReceived)
	require.Equal(t, model.DetectedByHeader, st.ReplyDetectedBy)
	require.True(t, st.LastReminderAt.Equal(*at(11)))
}

func TestLastReminderMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New(filepath.Join(os.TempDir(), "unused-state.json"))
		hours := rapid.SliceOfN(rapid.IntRange(0, 23), 1, 20).Draw(t, "hours")

		var max *time.Time
		for _, h := range hours {
			next := at(h)
			prev := s.snap.States["k"]
			s.snap.States["k"] = prev.Merge(model.ScheduleState{
				LastReminderAt: next,
			})

			if max == nil || next.After(*max) {
				max = next
			}
			got := s.snap.States["k"].LastReminderAt
			require.NotNil(t, got)
			require.True(t, got.Equal(*max))
		}
	})
}

func TestDecodeReportsCorruption(t *testing.T) {
	for _, payload := range []string{
		`{not json`,
		`{"__suppressed__": 5}`,
		`{"k": "not a state"}`,
	} {
		_, err := decode([]byte(payload))
		require.ErrorIs(t, err, ErrCorrupt, payload)
	}
}
