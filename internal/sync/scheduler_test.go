package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nhle/mail-followup/internal/followup"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/source"
)

// fixedDelay is a schedule with sub-second delays for tests.
type fixedDelay time.Duration

func (d fixedDelay) Next(t time.Time) time.Time {
	return t.Add(time.Duration(d))
}

// scriptedRunner plays back one behaviour per call and cancels once the
// script is exhausted.
type scriptedRunner struct {
	mu     gosync.Mutex
	calls  int
	script []func() (followup.Report, error)
	done   context.CancelFunc
}

func (r *scriptedRunner) Run(context.Context) (followup.Report, error) {
	r.mu.Lock()
	i := r.calls
	r.calls++
	r.mu.Unlock()

	if i >= len(r.script)-1 {
		r.done()
	}
	if i >= len(r.script) {
		return followup.Report{}, nil
	}
	return r.script[i]()
}

func (r *scriptedRunner) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestSchedulerSurvivesPanicsAndErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := &scriptedRunner{done: cancel}
	runner.script = []func() (followup.Report, error){
		func() (followup.Report, error) { panic("boom") },
		func() (followup.Report, error) {
			return followup.Report{}, &source.TransportError{
				Op: "sent items", Err: errors.New("refused"),
			}
		},
		func() (followup.Report, error) {
			return followup.Report{Dispatched: 2}, nil
		},
	}

	s := New(runner, fixedDelay(5*time.Millisecond))
	require.NoError(t, s.Run(ctx))

	require.Equal(t, 3, runner.Calls())
	st := s.Status()
	require.Equal(t, 3, st.Cycles)
	require.Equal(t, CycleIdle, st.State)
	require.NoError(t, st.Error)
	require.Equal(t, 2, st.LastReport.Dispatched)
}

func TestSchedulerRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failure := &source.AuthError{Username: "me", Message: "bad password"}
	runner := &scriptedRunner{done: cancel}
	runner.script = []func() (followup.Report, error){
		func() (followup.Report, error) { return followup.Report{}, failure },
	}

	s := New(runner, fixedDelay(time.Hour))
	require.NoError(t, s.Run(ctx))

	st := s.Status()
	require.Equal(t, CycleError, st.State)
	require.ErrorIs(t, st.Error, failure)
	require.Equal(t, "error", st.State.String())
}

func TestSchedulerStopsBeforeFirstCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &scriptedRunner{done: func() {}}
	s := New(runner, fixedDelay(time.Millisecond))
	require.NoError(t, s.Run(ctx))
	require.Zero(t, runner.Calls())
}

func TestSchedulerTrigger(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 4)
	runner := &scriptedRunner{done: func() {}}
	step := func() (followup.Report, error) {
		ran <- struct{}{}
		return followup.Report{}, nil
	}
	runner.script = []func() (followup.Report, error){step, step, step}

	s := New(runner, fixedDelay(time.Hour))
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	<-ran
	require.Eventually(t, func() bool {
		return !s.Status().NextRun.IsZero()
	}, time.Second, time.Millisecond)

	s.Trigger()
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not start a cycle")
	}

	cancel()
	require.NoError(t, <-errCh)
	require.Equal(t, 2, runner.Calls())
}

func TestScheduleFor(t *testing.T) {
	sched, err := ScheduleFor(model.EngineConfig{Interval: time.Minute})
	require.NoError(t, err)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, from.Add(time.Minute), sched.Next(from))

	sched, err = ScheduleFor(model.EngineConfig{Schedule: "*/15 * * * *"})
	require.NoError(t, err)
	require.Equal(t,
		time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC), sched.Next(from),
	)

	_, err = ScheduleFor(model.EngineConfig{Schedule: "not a cron"})
	require.Error(t, err)

	_, err = ScheduleFor(model.EngineConfig{})
	require.Error(t, err)
}
