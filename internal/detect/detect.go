// Package detect decides whether a tracked message has already been
// answered. Detection runs an ordered cascade of strategies; the first
// strategy that finds a qualifying inbound message wins.
package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/source"
	"github.com/nhle/mail-followup/internal/subject"
	"github.com/rs/zerolog"
)

// DefaultFuzzyMinLength is the canonical subject length below which fuzzy
// matching requires exact equality.
const DefaultFuzzyMinLength = 8

// Query describes one detection request.
type Query struct {
	// Original is the tracked sent message.
	Original source.Message

	// CheckAfter is the later of the original send and the last reminder.
	// Only messages received strictly after it count as replies.
	CheckAfter time.Time

	// Recipient restricts matches to replies from one address in
	// per-recipient tracking.
	Recipient fn.Option[string]
}

// Match is a successful detection.
type Match struct {
	Strategy model.DetectionStrategy
	Evidence source.Message
}

// Strategy is one step of the detection cascade.
type Strategy interface {
	Kind() model.DetectionStrategy
	Detect(ctx context.Context, q Query) (fn.Option[source.Message], error)
}

// Options configures the shared reply qualifier and the folder scans.
type Options struct {
	// Operators are the operator's own addresses, lower-cased.
	Operators []string

	IncludeSelf  bool
	IncludeTrash bool

	// Since bounds folder scans; messages older than it are never read.
	Since time.Time

	FuzzyMinLength int
}

// Env is the per-cycle environment shared by the strategies.
type Env struct {
	mailbox   source.Mailbox
	parser    *subject.Parser
	opts      Options
	operators map[string]bool
	log       zerolog.Logger
}

// NewEnv builds a detection environment over mb.
func NewEnv(mb source.Mailbox, parser *subject.Parser, opts Options) *Env {
	if opts.FuzzyMinLength <= 0 {
		opts.FuzzyMinLength = DefaultFuzzyMinLength
	}

	operators := make(map[string]bool, len(opts.Operators))
	for _, a := range opts.Operators {
		operators[source.NormalizeAddress(a)] = true
	}

	return &Env{
		mailbox:   mb,
		parser:    parser,
		opts:      opts,
		operators: operators,
		log:       logging.Component("detect"),
	}
}

// qualifies applies the rules every strategy shares: a mail item other
// than the original, received after CheckAfter, not authored by the
// operator, outside excluded folders and, in per-recipient tracking, sent
// by the tracked recipient.
func (e *Env) qualifies(
	q Query, m source.Message, excluded map[string]bool,
) bool {
	if m.Kind != source.KindMail {
		return false
	}
	if m.SameItem(q.Original) {
		return false
	}
	if !m.ReceivedAt.After(q.CheckAfter) {
		return false
	}

	sender := source.NormalizeAddress(m.SenderAddress)
	if !e.opts.IncludeSelf && e.operators[sender] {
		return false
	}
	if excluded[m.FolderPath] {
		return false
	}

	if want, ok := recipientOf(q); ok && sender != want {
		return false
	}
	return true
}

func recipientOf(q Query) (string, bool) {
	addr := source.NormalizeAddress(q.Recipient.UnwrapOr(""))
	return addr, addr != ""
}

// excludedPaths returns the folder paths outside the scan policy.
func (e *Env) excludedPaths(ctx context.Context) (map[string]bool, error) {
	if e.opts.IncludeTrash {
		return nil, nil
	}
	roots, err := e.mailbox.Folders(ctx)
	if err != nil {
		return nil, err
	}
	return source.ExcludedPaths(roots, source.TrashPolicy(false)), nil
}

// scan walks every reachable folder and returns the first qualifying
// message accepted by match. Folders that fail to list are skipped unless
// the failure makes the mailbox unusable.
func (e *Env) scan(
	ctx context.Context, q Query, sortKey source.SortKey,
	match func(source.Message) bool,
) (fn.Option[source.Message], error) {

	none := fn.None[source.Message]()

	roots, err := e.mailbox.Folders(ctx)
	if err != nil {
		return none, err
	}

	query := source.ItemQuery{
		SortKey:    sortKey,
		Descending: true,
		Since:      e.opts.Since,
	}

	for _, folder := range source.Walk(roots, source.TrashPolicy(e.opts.IncludeTrash)) {
		if err := ctx.Err(); err != nil {
			return none, err
		}

		items, err := e.mailbox.Items(ctx, folder, query)
		if err != nil {
			if source.IsTransportError(err) {
				return none, err
			}
			e.log.Warn().Err(err).
				Str("folder", folder.Path).
				Msg("skipping folder")
			continue
		}

		for _, m := range items {
			if e.qualifies(q, m, nil) && match(m) {
				return fn.Some(m), nil
			}
		}
	}

	return none, nil
}

// Detector runs strategies in order and stops at the first match.
type Detector struct {
	strategies []Strategy
	log        zerolog.Logger
}

// NewDetector returns a detector over the given strategies.
func NewDetector(strategies ...Strategy) *Detector {
	return &Detector{
		strategies: strategies,
		log:        logging.Component("detect"),
	}
}

// FromOrder builds the strategies named by order over env.
func FromOrder(env *Env, order []model.DetectionStrategy) (*Detector, error) {
	strategies := make([]Strategy, 0, len(order))
	for _, kind := range order {
		s, err := env.Strategy(kind)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return NewDetector(strategies...), nil
}

// Strategies returns the configured cascade.
func (d *Detector) Strategies() []Strategy {
	return d.strategies
}

// Detect runs the cascade. A strategy error aborts the cascade so that a
// broken scan is never mistaken for "no reply".
func (d *Detector) Detect(
	ctx context.Context, q Query,
) (fn.Option[Match], error) {

	for _, s := range d.strategies {
		found, err := s.Detect(ctx, q)
		if err != nil {
			return fn.None[Match](), fmt.Errorf(
				"%s detection: %w", s.Kind(), err,
			)
		}

		if found.IsSome() {
			evidence := found.UnwrapOr(source.Message{})
			d.log.Debug().
				Str("strategy", string(s.Kind())).
				Str("folder", evidence.FolderPath).
				Str("from", evidence.SenderAddress).
				Time("received", evidence.ReceivedAt).
				Msg("reply found")

			return fn.Some(Match{
				Strategy: s.Kind(),
				Evidence: evidence,
			}), nil
		}
	}

	return fn.None[Match](), nil
}

// Preset cascade orders.
const (
	ModeConversationFirst = "conv-first"
	ModeHeaderFirst       = "hdr-first"
	ModeHeaderOnly        = "hdr-only"
)

// ParseOrder resolves a preset name or a comma separated list of strategy
// names into a cascade order.
func ParseOrder(mode string) ([]model.DetectionStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeConversationFirst:
		return []model.DetectionStrategy{
			model.DetectedByConversation,
			model.DetectedByTopic,
			model.DetectedByHeader,
			model.DetectedByFuzzy,
		}, nil
	case ModeHeaderFirst:
		return []model.DetectionStrategy{
			model.DetectedByHeader,
			model.DetectedByConversation,
			model.DetectedByTopic,
		}, nil
	case ModeHeaderOnly:
		return []model.DetectionStrategy{model.DetectedByHeader}, nil
	}

	seen := make(map[model.DetectionStrategy]bool)
	var order []model.DetectionStrategy
	for _, name := range strings.Split(mode, ",") {
		kind, err := model.ParseDetectionStrategy(name)
		if err != nil {
			return nil, err
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true
		order = append(order, kind)
	}
	return order, nil
}
