// Package sync drives the scan cycle in the background: one cycle at a
// time, on a fixed wait interval or a cron schedule, until shutdown.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/nhle/mail-followup/internal/followup"
	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/source"
)

// CycleState represents the current state of the scheduler.
type CycleState int

const (
	CycleIdle CycleState = iota
	CycleRunning
	CycleError
)

func (s CycleState) String() string {
	switch s {
	case CycleRunning:
		return "running"
	case CycleError:
		return "error"
	default:
		return "idle"
	}
}

// Status is a snapshot of the scheduler.
type Status struct {
	State      CycleState
	Cycles     int
	LastRun    time.Time
	NextRun    time.Time
	LastReport followup.Report
	Error      error
}

// Runner runs one cycle.
type Runner interface {
	Run(ctx context.Context) (followup.Report, error)
}

// Scheduler runs cycles sequentially. A cycle that fails or panics is
// logged and the next one runs on schedule.
type Scheduler struct {
	runner    Runner
	schedule  rcron.Schedule
	triggerCh chan struct{}
	log       zerolog.Logger

	mu     gosync.Mutex
	status Status
}

// New creates a scheduler running runner on schedule.
func New(runner Runner, schedule rcron.Schedule) *Scheduler {
	return &Scheduler{
		runner:    runner,
		schedule:  schedule,
		triggerCh: make(chan struct{}, 1),
		log:       logging.Component("scheduler"),
	}
}

// ScheduleFor returns the cron schedule configured for the engine: the
// cron spec when one is set, otherwise a fixed wait of Interval between
// cycles.
func ScheduleFor(cfg model.EngineConfig) (rcron.Schedule, error) {
	if cfg.Schedule != "" {
		sched, err := rcron.ParseStandard(cfg.Schedule)
		if err != nil {
			return nil, fmt.Errorf("parsing schedule %q: %w", cfg.Schedule, err)
		}
		return sched, nil
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return rcron.Every(cfg.Interval), nil
}

// Run runs a cycle immediately and then on schedule until ctx is
// cancelled. Cancellation is checked before and after each cycle and
// during the wait; a running cycle sees it through its own context.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info().Msg("scheduler started")
	defer s.log.Info().Msg("scheduler stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		s.runCycle(ctx)

		if ctx.Err() != nil {
			return nil
		}

		next := s.schedule.Next(time.Now())
		s.setNext(next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		case <-s.triggerCh:
			timer.Stop()
		}
	}
}

// Trigger requests an immediate cycle. It never blocks; a trigger while
// one is pending is dropped.
func (s *Scheduler) Trigger() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

// Status returns the current scheduler status.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// runCycle performs a single cycle and records its outcome.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.setState(CycleRunning, nil)

	report, err := s.safeRun(ctx)

	s.mu.Lock()
	s.status.Cycles++
	s.status.LastRun = report.StartedAt
	if s.status.LastRun.IsZero() {
		s.status.LastRun = time.Now()
	}
	s.status.LastReport = report
	s.mu.Unlock()

	switch {
	case err == nil:
		s.setState(CycleIdle, nil)

	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		s.setState(CycleIdle, nil)

	case source.IsAuthError(err):
		s.log.Error().Err(err).Msg("authentication failed; run 'credentials set'")
		s.setState(CycleError, err)

	case source.IsTransportError(err):
		s.log.Warn().Err(err).Msg("mailbox unavailable, retrying next cycle")
		s.setState(CycleError, err)

	default:
		s.log.Error().Err(err).Msg("cycle failed")
		s.setState(CycleError, err)
	}
}

// safeRun converts a panic inside the cycle into an error.
func (s *Scheduler) safeRun(ctx context.Context) (report followup.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx)
}

func (s *Scheduler) setState(state CycleState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.State = state
	s.status.Error = err
}

func (s *Scheduler) setNext(next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.NextRun = next
}
