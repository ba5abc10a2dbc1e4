package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/nhle/mail-followup/internal/source"
)

// FakeMailbox is an in-memory source.Mailbox and source.ConversationReader.
type FakeMailbox struct {
	mu sync.Mutex

	Sent      []source.Message
	Tree      []*source.Folder
	Contents  map[string][]source.Message
	Threads   map[string][]source.Message
	Operators []string

	// Err, when set, is returned by every call.
	Err error

	// FolderErrs fails Items for specific folder paths.
	FolderErrs map[string]error

	SentCalls   int
	ItemCalls   int
	ThreadCalls int
}

// NewFakeMailbox returns a mailbox with Inbox, Sent and Trash folders.
func NewFakeMailbox(operators ...string) *FakeMailbox {
	return &FakeMailbox{
		Tree: []*source.Folder{
			{Path: "INBOX", Name: "INBOX", Role: source.RoleInbox},
			{Path: "Sent", Name: "Sent", Role: source.RoleSent},
			{Path: "Trash", Name: "Trash", Role: source.RoleTrash},
		},
		Contents:   make(map[string][]source.Message),
		Threads:    make(map[string][]source.Message),
		FolderErrs: make(map[string]error),
		Operators:  operators,
	}
}

// Deliver stores msg in the folder at path, setting FolderPath and Kind.
func (f *FakeMailbox) Deliver(path string, msg source.Message) source.Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	msg.FolderPath = path
	if msg.Kind == "" {
		msg.Kind = source.KindMail
	}
	f.Contents[path] = append(f.Contents[path], msg)
	return msg
}

func (f *FakeMailbox) SentItems(
	_ context.Context, since time.Time,
) ([]source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SentCalls++
	if f.Err != nil {
		return nil, f.Err
	}

	var out []source.Message
	for _, m := range f.Sent {
		if !m.SentAt.Before(since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SentAt.After(out[j].SentAt)
	})
	return out, nil
}

func (f *FakeMailbox) Folders(context.Context) ([]*source.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return f.Tree, nil
}

func (f *FakeMailbox) Items(
	_ context.Context, folder *source.Folder, q source.ItemQuery,
) ([]source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ItemCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	if err := f.FolderErrs[folder.Path]; err != nil {
		return nil, err
	}

	var out []source.Message
	for _, m := range f.Contents[folder.Path] {
		if q.Since.IsZero() || !m.ReceivedAt.Before(q.Since) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if q.Descending {
			return out[i].ReceivedAt.After(out[j].ReceivedAt)
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out, nil
}

func (f *FakeMailbox) OperatorAddresses(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}
	return f.Operators, nil
}

// Conversation returns the thread registered under the original's
// Message-ID.
func (f *FakeMailbox) Conversation(
	_ context.Context, msg source.Message,
) ([]source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ThreadCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Threads[msg.GlobalMessageID.UnwrapOr("")], nil
}

// FakeSender records follow-ups and fails for chosen addresses. Like the
// SMTP sender, an address failing with source.ErrRecipientUnresolvable is
// dropped and the follow-up still goes to the rest; any other failure
// fails the whole follow-up.
type FakeSender struct {
	mu sync.Mutex

	Sent []source.FollowUp

	// Fail maps a normalised address to the error returned when a
	// follow-up addresses it.
	Fail map[string]error
}

// NewFakeSender returns an empty FakeSender.
func NewFakeSender() *FakeSender {
	return &FakeSender{Fail: make(map[string]error)}
}

func (s *FakeSender) SendFollowUp(_ context.Context, f source.FollowUp) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var delivered []source.Recipient
	var unresolved error
	for _, r := range f.To {
		err := s.Fail[source.NormalizeAddress(r.Address)]
		switch {
		case err == nil:
			delivered = append(delivered, r)
		case errors.Is(err, source.ErrRecipientUnresolvable):
			unresolved = err
		default:
			return err
		}
	}
	if len(delivered) == 0 {
		if unresolved != nil {
			return unresolved
		}
		return source.ErrRecipientUnresolvable
	}

	f.To = delivered
	s.Sent = append(s.Sent, f)
	return nil
}

// Count returns the number of successful sends.
func (s *FakeSender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}
