package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/source"
	"github.com/nhle/mail-followup/internal/subject"
	"github.com/nhle/mail-followup/tests/testutil"
	"github.com/stretchr/testify/require"
)

const me = "me@corp.example"

var (
	sentAt     = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	checkAfter = sentAt
)

func original() source.Message {
	return source.Message{
		Subject:           "[DN3D] Quarterly invoice approval",
		SentAt:            sentAt,
		ReceivedAt:        sentAt,
		SenderAddress:     me,
		GlobalMessageID:   fn.Some("orig-1@corp.example"),
		StorageID:         fn.Some("Sent;1;10"),
		ConversationID:    fn.Some("conv-abc"),
		ConversationTopic: "Quarterly invoice approval",
		Kind:              source.KindMail,
		FolderPath:        "Sent",
		Recipients: []source.Recipient{
			{Address: "bob@vendor.example", Kind: source.RecipientTo},
		},
	}
}

func newEnv(mb source.Mailbox, opts Options) *Env {
	opts.Operators = append(opts.Operators, me)
	return NewEnv(mb, subject.NewParser(model.DefaultCodes), opts)
}

func query() Query {
	return Query{Original: original(), CheckAfter: checkAfter}
}

func reply(from string, at time.Time) source.Message {
	return source.Message{
		Subject:       "RE: [DN3D] Quarterly invoice approval",
		SenderAddress: from,
		SentAt:        at,
		ReceivedAt:    at,
	}
}

// spy records invocations and returns a fixed result.
type spy struct {
	kind  model.DetectionStrategy
	found bool
	err   error
	calls int
}

func (s *spy) Kind() model.DetectionStrategy { return s.kind }

func (s *spy) Detect(
	context.Context, Query,
) (fn.Option[source.Message], error) {
	s.calls++
	if s.err != nil {
		return fn.None[source.Message](), s.err
	}
	if s.found {
		return fn.Some(source.Message{Subject: "hit"}), nil
	}
	return fn.None[source.Message](), nil
}

func TestDetectorShortCircuits(t *testing.T) {
	conv := &spy{kind: model.DetectedByConversation, found: true}
	topic := &spy{kind: model.DetectedByTopic}
	header := &spy{kind: model.DetectedByHeader}
	fuzzy := &spy{kind: model.DetectedByFuzzy}

	d := NewDetector(conv, topic, header, fuzzy)
	match, err := d.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, match.IsSome())

	m := match.UnwrapOr(Match{})
	require.Equal(t, model.DetectedByConversation, m.Strategy)
	require.Equal(t, 1, conv.calls)
	require.Zero(t, topic.calls)
	require.Zero(t, header.calls)
	require.Zero(t, fuzzy.calls)
}

func TestDetectorFallsThrough(t *testing.T) {
	first := &spy{kind: model.DetectedByHeader}
	second := &spy{kind: model.DetectedByFuzzy, found: true}

	match, err := NewDetector(first, second).
		Detect(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t,
		model.DetectedByFuzzy, match.UnwrapOr(Match{}).Strategy,
	)
	require.Equal(t, 1, first.calls)
}

func TestDetectorNoMatch(t *testing.T) {
	match, err := NewDetector(&spy{kind: model.DetectedByHeader}).
		Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, match.IsNone())
}

func TestDetectorErrorAbortsCascade(t *testing.T) {
	boom := errors.New("boom")
	first := &spy{kind: model.DetectedByTopic, err: boom}
	second := &spy{kind: model.DetectedByFuzzy, found: true}

	_, err := NewDetector(first, second).
		Detect(context.Background(), query())
	require.ErrorIs(t, err, boom)
	require.Zero(t, second.calls)
}

func TestConversationStrategy(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	orig := original()

	self := reply(me, sentAt.Add(time.Hour))
	self.Kind = source.KindMail
	early := reply("bob@vendor.example", sentAt.Add(-time.Minute))
	early.Kind = source.KindMail
	trashed := reply("bob@vendor.example", sentAt.Add(2*time.Hour))
	trashed.Kind = source.KindMail
	trashed.FolderPath = "Trash"
	good := reply("bob@vendor.example", sentAt.Add(3*time.Hour))
	good.Kind = source.KindMail
	good.FolderPath = "INBOX"

	mb.Threads["orig-1@corp.example"] = []source.Message{
		orig, self, early, trashed, good,
	}

	env := newEnv(mb, Options{})
	s, err := env.Strategy(model.DetectedByConversation)
	require.NoError(t, err)

	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t, good.ReceivedAt, found.UnwrapOr(source.Message{}).ReceivedAt)

	mb.Threads["orig-1@corp.example"] = []source.Message{orig, self, trashed}
	found, err = s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsNone())

	trashEnv := newEnv(mb, Options{IncludeTrash: true})
	s, _ = trashEnv.Strategy(model.DetectedByConversation)
	found, err = s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t, "Trash", found.UnwrapOr(source.Message{}).FolderPath)

	selfEnv := newEnv(mb, Options{IncludeSelf: true})
	s, _ = selfEnv.Strategy(model.DetectedByConversation)
	found, err = s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t, me, found.UnwrapOr(source.Message{}).SenderAddress)
}

func TestReceivedStrictlyAfter(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	same := reply("bob@vendor.example", checkAfter)
	same.TransportHeaders = "In-Reply-To: <orig-1@corp.example>"
	mb.Deliver("INBOX", same)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByHeader)
	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsNone())
}

func TestHeaderStrategy(t *testing.T) {
	mb := testutil.NewFakeMailbox()

	unrelated := reply("carol@vendor.example", sentAt.Add(time.Hour))
	unrelated.TransportHeaders = "References: <other@corp.example>"
	mb.Deliver("INBOX", unrelated)

	hit := reply("bob@vendor.example", sentAt.Add(2*time.Hour))
	hit.Subject = "completely different"
	hit.TransportHeaders = "In-Reply-To: <ORIG-1@corp.example>\r\n"
	mb.Deliver("INBOX", hit)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByHeader)
	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.Equal(t,
		"completely different", found.UnwrapOr(source.Message{}).Subject,
	)

	q := query()
	q.Original.GlobalMessageID = fn.None[string]()
	found, err = s.Detect(context.Background(), q)
	require.NoError(t, err)
	require.True(t, found.IsNone())
}

func TestHeaderStrategySkipsTrash(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	hit := reply("bob@vendor.example", sentAt.Add(time.Hour))
	hit.TransportHeaders = "In-Reply-To: <orig-1@corp.example>"
	mb.Deliver("Trash", hit)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByHeader)
	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsNone())

	s, _ = newEnv(mb, Options{IncludeTrash: true}).
		Strategy(model.DetectedByHeader)
	found, err = s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsSome())
}

func TestTopicStrategy(t *testing.T) {
	mb := testutil.NewFakeMailbox()

	byID := reply("bob@vendor.example", sentAt.Add(time.Hour))
	byID.ConversationID = fn.Some("conv-abc")
	mb.Deliver("INBOX", byID)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByTopic)
	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsSome())

	mb = testutil.NewFakeMailbox()
	byTopic := reply("bob@vendor.example", sentAt.Add(time.Hour))
	byTopic.ConversationTopic = "Quarterly invoice approval"
	mb.Deliver("INBOX", byTopic)

	s, _ = newEnv(mb, Options{}).Strategy(model.DetectedByTopic)
	found, err = s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsSome())
}

func TestFuzzyStrategy(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	hit := reply("bob@vendor.example", sentAt.Add(time.Hour))
	hit.Subject = "답장: FW: Quarterly invoice approval (signed)"
	mb.Deliver("INBOX", hit)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByFuzzy)
	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsSome())
}

func TestFuzzyMatch(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		candidate string
		short     bool
		want      bool
	}{
		{"equal", "status", "status", true, true},
		{"short needs equality", "status", "status update", true, false},
		{"long contains", "invoice approval", "invoice approval q3", false, true},
		{"long contained", "invoice approval q3", "invoice approval", false, true},
		{"unrelated", "invoice approval", "lunch", false, false},
		{"empty candidate", "invoice approval", "", false, false},
		{"empty base", "", "anything", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t,
				tt.want, FuzzyMatch(tt.base, tt.candidate, tt.short),
			)
		})
	}
}

func TestRecipientFilter(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	hit := reply("Carol@Vendor.example", sentAt.Add(time.Hour))
	hit.TransportHeaders = "In-Reply-To: <orig-1@corp.example>"
	mb.Deliver("INBOX", hit)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByHeader)

	q := query()
	q.Recipient = fn.Some("bob@vendor.example")
	found, err := s.Detect(context.Background(), q)
	require.NoError(t, err)
	require.True(t, found.IsNone())

	q.Recipient = fn.Some("carol@vendor.example")
	found, err = s.Detect(context.Background(), q)
	require.NoError(t, err)
	require.True(t, found.IsSome())
}

func TestScanSkipsBrokenFolder(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	mb.Tree = append([]*source.Folder{{Path: "Broken"}}, mb.Tree...)
	mb.FolderErrs["Broken"] = errors.New("permission denied")

	hit := reply("bob@vendor.example", sentAt.Add(time.Hour))
	hit.TransportHeaders = "References: <orig-1@corp.example>"
	mb.Deliver("INBOX", hit)

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByHeader)
	found, err := s.Detect(context.Background(), query())
	require.NoError(t, err)
	require.True(t, found.IsSome())
}

func TestScanTransportErrorPropagates(t *testing.T) {
	mb := testutil.NewFakeMailbox()
	mb.FolderErrs["INBOX"] = &source.TransportError{
		Op: "fetch", Err: errors.New("connection reset"),
	}

	s, _ := newEnv(mb, Options{}).Strategy(model.DetectedByHeader)
	_, err := s.Detect(context.Background(), query())
	require.True(t, source.IsTransportError(err))
}

func TestParseOrder(t *testing.T) {
	order, err := ParseOrder("")
	require.NoError(t, err)
	require.Equal(t, []model.DetectionStrategy{
		model.DetectedByConversation,
		model.DetectedByTopic,
		model.DetectedByHeader,
		model.DetectedByFuzzy,
	}, order)

	order, err = ParseOrder("HDR-FIRST")
	require.NoError(t, err)
	require.Equal(t, model.DetectedByHeader, order[0])
	require.Len(t, order, 3)

	order, err = ParseOrder("hdr-only")
	require.NoError(t, err)
	require.Equal(t, []model.DetectionStrategy{model.DetectedByHeader}, order)

	order, err = ParseOrder("fuzzy, header,fuzz")
	require.NoError(t, err)
	require.Equal(t, []model.DetectionStrategy{
		model.DetectedByFuzzy, model.DetectedByHeader,
	}, order)

	_, err = ParseOrder("header,telepathy")
	require.Error(t, err)
}

func TestFromOrder(t *testing.T) {
	env := newEnv(testutil.NewFakeMailbox(), Options{})
	d, err := FromOrder(env, []model.DetectionStrategy{
		model.DetectedByHeader, model.DetectedByFuzzy,
	})
	require.NoError(t, err)
	require.Len(t, d.Strategies(), 2)
	require.Equal(t, model.DetectedByFuzzy, d.Strategies()[1].Kind())

	_, err = FromOrder(env, []model.DetectionStrategy{model.DetectedByNone})
	require.Error(t, err)
}
