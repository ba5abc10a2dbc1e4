package detect

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/source"
)

// Strategy returns the strategy of the given kind bound to e.
func (e *Env) Strategy(kind model.DetectionStrategy) (Strategy, error) {
	switch kind {
	case model.DetectedByConversation:
		return &Conversation{env: e}, nil
	case model.DetectedByHeader:
		return &Header{env: e}, nil
	case model.DetectedByTopic:
		return &Topic{env: e}, nil
	case model.DetectedByFuzzy:
		return &Fuzzy{env: e}, nil
	default:
		return nil, fmt.Errorf("no detection strategy for %q", kind)
	}
}

// Conversation walks the thread's message graph when the mailbox exposes
// one.
type Conversation struct {
	env *Env
}

func (s *Conversation) Kind() model.DetectionStrategy {
	return model.DetectedByConversation
}

func (s *Conversation) Detect(
	ctx context.Context, q Query,
) (fn.Option[source.Message], error) {

	none := fn.None[source.Message]()

	reader, ok := s.env.mailbox.(source.ConversationReader)
	if !ok {
		return none, nil
	}

	thread, err := reader.Conversation(ctx, q.Original)
	if err != nil {
		return none, err
	}
	if len(thread) == 0 {
		return none, nil
	}

	excluded, err := s.env.excludedPaths(ctx)
	if err != nil {
		return none, err
	}

	for _, m := range thread {
		if s.env.qualifies(q, m, excluded) {
			return fn.Some(m), nil
		}
	}
	return none, nil
}

// Header finds a message whose transport headers reference the original
// Message-ID.
type Header struct {
	env *Env
}

func (s *Header) Kind() model.DetectionStrategy {
	return model.DetectedByHeader
}

func (s *Header) Detect(
	ctx context.Context, q Query,
) (fn.Option[source.Message], error) {

	needle := strings.ToLower(strings.TrimSpace(
		q.Original.GlobalMessageID.UnwrapOr(""),
	))
	if needle == "" {
		return fn.None[source.Message](), nil
	}

	return s.env.scan(ctx, q, source.SortByModified,
		func(m source.Message) bool {
			return m.TransportHeaders != "" &&
				strings.Contains(
					strings.ToLower(m.TransportHeaders), needle,
				)
		},
	)
}

// Topic finds a message sharing the original's conversation id or
// conversation topic.
type Topic struct {
	env *Env
}

func (s *Topic) Kind() model.DetectionStrategy {
	return model.DetectedByTopic
}

func (s *Topic) Detect(
	ctx context.Context, q Query,
) (fn.Option[source.Message], error) {

	convID := strings.TrimSpace(q.Original.ConversationID.UnwrapOr(""))
	topic := strings.TrimSpace(q.Original.ConversationTopic)
	if convID == "" && topic == "" {
		return fn.None[source.Message](), nil
	}

	return s.env.scan(ctx, q, source.SortByModified,
		func(m source.Message) bool {
			id := strings.TrimSpace(m.ConversationID.UnwrapOr(""))
			if convID != "" && id == convID {
				return true
			}
			return topic != "" &&
				strings.TrimSpace(m.ConversationTopic) == topic
		},
	)
}

// Fuzzy compares canonical subjects. It accepts containment either way
// once the original is long enough, so unrelated threads sharing a phrase
// can match.
type Fuzzy struct {
	env *Env
}

func (s *Fuzzy) Kind() model.DetectionStrategy {
	return model.DetectedByFuzzy
}

func (s *Fuzzy) Detect(
	ctx context.Context, q Query,
) (fn.Option[source.Message], error) {

	base := s.env.parser.Canonicalize(q.Original.Subject)
	if base == "" {
		return fn.None[source.Message](), nil
	}
	short := utf8.RuneCountInString(base) < s.env.opts.FuzzyMinLength

	return s.env.scan(ctx, q, source.SortByReceived,
		func(m source.Message) bool {
			return FuzzyMatch(
				base, s.env.parser.Canonicalize(m.Subject), short,
			)
		},
	)
}

// FuzzyMatch reports whether two canonical subjects match. Short bases
// require equality.
func FuzzyMatch(base, candidate string, short bool) bool {
	if base == "" || candidate == "" {
		return false
	}
	if candidate == base {
		return true
	}
	if short {
		return false
	}
	return strings.Contains(candidate, base) ||
		strings.Contains(base, candidate)
}
