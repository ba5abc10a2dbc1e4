// Package followup runs the scan cycle: it enumerates sent mail carrying
// a schedule directive, decides which tracking keys are due, checks for
// replies and dispatches follow-ups, persisting each decision as it is
// made.
package followup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nhle/mail-followup/internal/detect"
	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/schedule"
	"github.com/nhle/mail-followup/internal/source"
	"github.com/nhle/mail-followup/internal/store"
	"github.com/nhle/mail-followup/internal/subject"
	"github.com/nhle/mail-followup/internal/tracking"
	"github.com/rs/zerolog"
)

// StateStore is the scheduling state consumed by a cycle.
type StateStore interface {
	Load() error
	Get(key string) (model.ScheduleState, bool)
	Put(key string, st model.ScheduleState) error
	IsSuppressed(key string) bool
}

// Deps are the collaborators of a cycle.
type Deps struct {
	Mailbox source.Mailbox
	Sender  source.Sender
	State   StateStore

	// Journal is optional. Journal failures are logged, never fatal.
	Journal store.Journal

	// Operators are extra addresses that count as the operator, on top of
	// what the mailbox reports.
	Operators []string

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Cycle is one bounded pass over the sent folder. A Cycle is reusable;
// each Run reloads state and starts a fresh listing cache.
type Cycle struct {
	deps   Deps
	cfg    model.EngineConfig
	parser *subject.Parser
	order  []model.DetectionStrategy
	log    zerolog.Logger
}

// NewCycle validates the engine settings and returns a cycle.
func NewCycle(deps Deps, cfg model.EngineConfig) (*Cycle, error) {
	if deps.Mailbox == nil {
		return nil, errors.New("followup: mailbox is required")
	}
	if deps.Sender == nil {
		return nil, errors.New("followup: sender is required")
	}
	if deps.State == nil {
		return nil, errors.New("followup: state store is required")
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	order, err := detect.ParseOrder(cfg.ReplyMode)
	if err != nil {
		return nil, fmt.Errorf("followup: reply mode: %w", err)
	}
	if cfg.Tracking == "" {
		cfg.Tracking = model.TrackPerRecipient
	}

	return &Cycle{
		deps:   deps,
		cfg:    cfg,
		parser: subject.NewParser(cfg.Codes),
		order:  order,
		log:    logging.Component("cycle"),
	}, nil
}

// Parser returns the directive parser built from the configured codes.
func (c *Cycle) Parser() *subject.Parser {
	return c.parser
}

// run holds the per-run state shared by candidate steps.
type run struct {
	now      time.Time
	cutoff   time.Time
	mailbox  *source.Cache
	detector *detect.Detector
	sent     []source.Message
	report   *Report
}

// Run executes one cycle. It returns an error only when the cycle had to
// stop: the mailbox was unusable, state could not be saved, or ctx was
// cancelled. Per-candidate failures are logged and counted.
func (c *Cycle) Run(ctx context.Context) (Report, error) {
	start := c.deps.Clock()
	report := Report{StartedAt: start, Skipped: make(map[SkipReason]int)}

	if err := c.deps.State.Load(); err != nil {
		return report, fmt.Errorf("loading state: %w", err)
	}

	mb := source.NewCache(c.deps.Mailbox)

	operators, err := mb.OperatorAddresses(ctx)
	if err != nil {
		return report, &source.TransportError{Op: "operator addresses", Err: err}
	}
	operators = append(operators, c.deps.Operators...)

	cutoff := start.Add(-c.cfg.Lookback())
	sent, err := mb.SentItems(ctx, cutoff)
	if err != nil {
		return report, &source.TransportError{Op: "sent items", Err: err}
	}

	env := detect.NewEnv(mb, c.parser, detect.Options{
		Operators:      operators,
		IncludeSelf:    c.cfg.IncludeSelf,
		IncludeTrash:   c.cfg.IncludeTrash,
		Since:          cutoff,
		FuzzyMinLength: c.cfg.FuzzyMinLength,
	})
	detector, err := detect.FromOrder(env, c.order)
	if err != nil {
		return report, err
	}

	r := &run{
		now:      start,
		cutoff:   cutoff,
		mailbox:  mb,
		detector: detector,
		sent:     sent,
		report:   &report,
	}

	for i, msg := range sent {
		if err := ctx.Err(); err != nil {
			report.Deferred = len(sent) - i
			return report, err
		}

		if err := c.process(ctx, r, msg); err != nil {
			report.Elapsed = c.deps.Clock().Sub(start)
			return report, err
		}

		if elapsed := c.deps.Clock().Sub(start); elapsed > c.cfg.LoopBudget {
			report.Deferred = len(sent) - i - 1
			report.BudgetExceeded = report.Deferred > 0
			if report.BudgetExceeded {
				c.log.Info().
					Dur("elapsed", elapsed).
					Dur("budget", c.cfg.LoopBudget).
					Int("deferred", report.Deferred).
					Msg("loop budget exceeded, deferring rest to next cycle")
			}
			break
		}
	}

	report.Elapsed = c.deps.Clock().Sub(start)
	c.log.Info().
		Int("scanned", len(sent)).
		Int("candidates", report.Candidates).
		Int("dispatched", report.Dispatched).
		Int("replies", report.Replies).
		Int("failed", report.Failed).
		Dur("elapsed", report.Elapsed).
		Msg("cycle complete")

	return report, nil
}

// target is one tracking key of a candidate and who it nudges.
type target struct {
	key        string
	recipients []source.Recipient
	filter     fn.Option[string]
	state      model.ScheduleState
}

// targets builds the tracking keys of a candidate according to the
// tracking mode.
func (c *Cycle) targets(msg source.Message, thread string) []target {
	if c.cfg.Tracking == model.TrackPerThread {
		recipients := msg.ReplyAllRecipients()
		if len(recipients) == 0 {
			return nil
		}
		return []target{{
			key:        thread,
			recipients: recipients,
			filter:     fn.None[string](),
		}}
	}

	var out []target
	for _, r := range msg.TrackedRecipients() {
		addr := source.NormalizeAddress(r.Address)
		out = append(out, target{
			key:        tracking.RecipientKey(thread, addr),
			recipients: []source.Recipient{r},
			filter:     fn.Some(addr),
		})
	}
	return out
}

// keep returns the targets for which pred holds.
func keep(targets []target, pred func(t target) bool) []target {
	out := targets[:0]
	for _, t := range targets {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

// process evaluates one sent message. A non-nil error aborts the cycle.
func (c *Cycle) process(ctx context.Context, r *run, msg source.Message) error {
	log := c.log.With().Str("subject", msg.Subject).Logger()

	if subject.IsReminder(msg.Subject, c.cfg.ReminderPrefix) {
		r.report.skip(SkipReminder)
		return nil
	}

	dir, ok := c.parser.Parse(msg.Subject)
	if !ok {
		r.report.skip(SkipNoDirective)
		return nil
	}
	if msg.SentAt.Before(r.cutoff) {
		r.report.skip(SkipOutsideLookback)
		return nil
	}
	r.report.Candidates++

	thread := tracking.ThreadIdentity(msg)
	log = log.With().Str("thread", thread).Str("code", dir.Code).Logger()

	if c.deps.State.IsSuppressed(thread) {
		log.Debug().Msg("thread suppressed")
		r.report.skip(SkipSuppressed)
		return nil
	}

	targets := c.targets(msg, thread)
	if len(targets) == 0 {
		log.Debug().Msg("no trackable recipients")
		r.report.skip(SkipNoRecipients)
		return nil
	}

	targets = keep(targets, func(t target) bool {
		return !c.deps.State.IsSuppressed(t.key)
	})
	if len(targets) == 0 {
		r.report.skip(SkipSuppressed)
		return nil
	}

	for i := range targets {
		targets[i].state, _ = c.deps.State.Get(targets[i].key)
	}
	targets = keep(targets, func(t target) bool {
		return !t.state.ReplyReceived
	})
	if len(targets) == 0 {
		r.report.skip(SkipReplied)
		return nil
	}

	force := c.cfg.ForceSend
	due := func(t target) schedule.Due {
		return schedule.IsDue(
			msg.SentAt, t.state.LastReminderAt, dir.IntervalDays,
			c.cfg.AnchorOnLast, r.now,
		)
	}

	targets = keep(targets, func(t target) bool {
		return force || schedule.NearlyDue(due(t), r.now, c.cfg.PrecheckEpsilon)
	})
	if len(targets) == 0 {
		r.report.skip(SkipNotDue)
		return nil
	}

	if !force && schedule.Stale(msg.SentAt, c.cfg.MaxAge(), r.now) {
		log.Debug().Time("sent", msg.SentAt).Msg("too old, abandoning")
		r.report.skip(SkipStale)
		return nil
	}

	targets = keep(targets, func(t target) bool {
		return force || !schedule.TooSoon(t.state.LastReminderAt, dir.Interval(), r.now)
	})
	if len(targets) == 0 {
		r.report.skip(SkipTooSoon)
		return nil
	}

	if c.cfg.SkipIfNewerOutgoing && c.hasNewerOutgoing(r.sent, msg) {
		log.Debug().Msg("newer outgoing mail in thread")
		r.report.skip(SkipNewerOutgoing)
		return nil
	}

	if !c.cfg.SkipDetection {
		var err error
		targets, err = c.detectReplies(ctx, r, msg, dir, thread, targets)
		if err != nil {
			if source.IsTransportError(err) || ctx.Err() != nil {
				return err
			}
			log.Warn().Err(err).Msg("reply detection failed, skipping")
			r.report.skip(SkipDetectionError)
			return nil
		}
		if len(targets) == 0 {
			return nil
		}
	}

	targets = keep(targets, func(t target) bool {
		return force || due(t).Due
	})
	if len(targets) == 0 {
		r.report.skip(SkipNotDue)
		return nil
	}

	return c.dispatch(ctx, r, msg, dir, thread, targets)
}

// detectReplies runs the detector for every target, records replies and
// returns the targets still without one.
func (c *Cycle) detectReplies(
	ctx context.Context, r *run, msg source.Message, dir model.Directive,
	thread string, targets []target,
) ([]target, error) {

	var remaining []target
	for _, t := range targets {
		match, err := r.detector.Detect(ctx, detect.Query{
			Original:   msg,
			CheckAfter: schedule.CheckAfter(msg.SentAt, t.state.LastReminderAt),
			Recipient:  t.filter,
		})
		if err != nil {
			return nil, err
		}

		if match.IsNone() {
			remaining = append(remaining, t)
			continue
		}

		m := match.UnwrapOr(detect.Match{})
		received := m.Evidence.ReceivedAt
		err = c.deps.State.Put(t.key, model.ScheduleState{
			ReplyReceived:   true,
			ReplyDetectedBy: m.Strategy,
			DetectedAt:      &received,
			TemplateCode:    dir.Code,
			Subject:         msg.Subject,
		})
		if err != nil {
			return nil, fmt.Errorf("persisting reply for %s: %w", t.key, err)
		}
		r.report.Replies++

		c.log.Info().
			Str("key", t.key).
			Str("strategy", string(m.Strategy)).
			Str("from", m.Evidence.SenderAddress).
			Msg("reply detected")

		c.journal(func(j store.Journal) error {
			return j.RecordReply(ctx, model.Event{
				TrackingKey: t.key,
				ThreadID:    thread,
				Recipient:   source.NormalizeAddress(m.Evidence.SenderAddress),
				Code:        dir.Code,
				Subject:     msg.Subject,
				Reference:   c.parser.ExtractReference(msg.Subject),
				Strategy:    m.Strategy,
				OccurredAt:  received,
			})
		})
	}

	return remaining, nil
}

// dispatch sends one follow-up per target. A failed send leaves that
// target's state untouched so it is retried next cycle.
func (c *Cycle) dispatch(
	ctx context.Context, r *run, msg source.Message, dir model.Directive,
	thread string, targets []target,
) error {

	reminder := subject.ReminderSubject(c.cfg.ReminderPrefix, msg.Subject)
	reference := c.parser.ExtractReference(msg.Subject)

	for _, t := range targets {
		log := c.log.With().Str("key", t.key).Logger()
		event := model.Event{
			TrackingKey: t.key,
			ThreadID:    thread,
			Recipient:   t.filter.UnwrapOr(""),
			Code:        dir.Code,
			Subject:     msg.Subject,
			Reference:   reference,
		}

		if c.cfg.DryRun {
			log.Info().Str("to", joinRecipients(t.recipients)).
				Msg("dry run, follow-up not sent")
			r.report.DryRun++
			event.DryRun = true
			event.OccurredAt = r.now
			c.journal(func(j store.Journal) error {
				return j.RecordDispatch(ctx, event)
			})
			continue
		}

		err := c.deps.Sender.SendFollowUp(ctx, source.FollowUp{
			Original:     msg,
			To:           t.recipients,
			TemplateCode: dir.Code,
			Subject:      reminder,
		})
		if err != nil {
			r.report.Failed++
			if errors.Is(err, source.ErrRecipientUnresolvable) {
				log.Warn().Err(err).Msg("recipient unresolvable, skipping")
			} else {
				log.Error().Err(err).Msg("follow-up send failed, will retry")
			}
			continue
		}

		sentAt := c.deps.Clock()
		err = c.deps.State.Put(t.key, model.ScheduleState{
			LastReminderAt: &sentAt,
			TemplateCode:   dir.Code,
			Subject:        msg.Subject,
		})
		if err != nil {
			return fmt.Errorf("persisting dispatch for %s: %w", t.key, err)
		}
		r.report.Dispatched++

		log.Info().Str("to", joinRecipients(t.recipients)).
			Msg("follow-up sent")

		event.OccurredAt = sentAt
		c.journal(func(j store.Journal) error {
			return j.RecordDispatch(ctx, event)
		})
	}

	return nil
}

// hasNewerOutgoing reports whether the operator sent a later, non-reminder
// message in the same thread, judged by canonical subject.
func (c *Cycle) hasNewerOutgoing(sent []source.Message, msg source.Message) bool {
	canonical := c.parser.Canonicalize(msg.Subject)
	if canonical == "" {
		return false
	}
	for _, other := range sent {
		if !other.SentAt.After(msg.SentAt) || other.SameItem(msg) {
			continue
		}
		if subject.IsReminder(other.Subject, c.cfg.ReminderPrefix) {
			continue
		}
		if c.parser.Canonicalize(other.Subject) == canonical {
			return true
		}
	}
	return false
}

func (c *Cycle) journal(record func(store.Journal) error) {
	if c.deps.Journal == nil {
		return
	}
	if err := record(c.deps.Journal); err != nil {
		c.log.Warn().Err(err).Msg("journal write failed")
	}
}
