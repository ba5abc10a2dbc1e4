// Package source defines the mailbox collaborators consumed by the
// follow-up engine. Concrete implementations live in sub-packages.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// AuthError indicates that authentication against the mail server failed.
type AuthError struct {
	Username string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Username, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TransportError indicates the mail transport is unreachable. It aborts
// the current cycle; the next scheduled cycle retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport unavailable (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is a TransportError or an AuthError,
// both of which make the mailbox unusable for the rest of a cycle.
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) || IsAuthError(err)
}

// ErrRecipientUnresolvable is returned by a Sender when a recipient
// address cannot be turned into a sendable address.
var ErrRecipientUnresolvable = errors.New("recipient address unresolvable")

// RecipientKind is the header a recipient was addressed in.
type RecipientKind string

const (
	RecipientTo  RecipientKind = "to"
	RecipientCc  RecipientKind = "cc"
	RecipientBcc RecipientKind = "bcc"
)

// Recipient is one addressee of a message.
type Recipient struct {
	Address string
	Kind    RecipientKind
}

// NormalizeAddress lower-cases and trims an address for comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// MessageKind discriminates mail items from other store items such as
// meeting requests or read receipts.
type MessageKind string

const (
	KindMail  MessageKind = "mail"
	KindOther MessageKind = "other"
)

// SortKey selects the ordering of folder items.
type SortKey string

const (
	SortByReceived SortKey = "received"
	SortBySent     SortKey = "sent"
	SortByModified SortKey = "modified"
)

// Message is a mail item as exposed by the mailbox. Identifiers that a
// store may not provide are options; absence is an explicit branch.
type Message struct {
	Subject       string
	SentAt        time.Time
	ReceivedAt    time.Time
	SenderAddress string

	// GlobalMessageID is the RFC 5322 Message-ID, without angle brackets.
	GlobalMessageID fn.Option[string]

	// StorageID is the store's durable identifier for this copy.
	StorageID fn.Option[string]

	// ConversationID is the thread identifier assigned by the store.
	ConversationID fn.Option[string]

	ConversationTopic string
	TransportHeaders  string
	Recipients        []Recipient
	Kind              MessageKind
	FolderPath        string
}

// SameItem reports whether m and other are the same stored message.
func (m Message) SameItem(other Message) bool {
	if sameOption(m.StorageID, other.StorageID) {
		return true
	}
	return sameOption(m.GlobalMessageID, other.GlobalMessageID)
}

func sameOption(a, b fn.Option[string]) bool {
	if a.IsNone() || b.IsNone() {
		return false
	}
	return a.UnwrapOr("") == b.UnwrapOr("")
}

// TrackedRecipients returns the To and Bcc recipients, de-duplicated by
// normalised address.
func (m Message) TrackedRecipients() []Recipient {
	return m.recipientsOf(RecipientTo, RecipientBcc)
}

// ReplyAllRecipients returns the To and Cc recipients, de-duplicated.
func (m Message) ReplyAllRecipients() []Recipient {
	return m.recipientsOf(RecipientTo, RecipientCc)
}

func (m Message) recipientsOf(kinds ...RecipientKind) []Recipient {
	seen := make(map[string]bool)
	var out []Recipient
	for _, r := range m.Recipients {
		addr := NormalizeAddress(r.Address)
		if addr == "" || seen[addr] {
			continue
		}
		for _, k := range kinds {
			if r.Kind == k {
				seen[addr] = true
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// ItemQuery controls how folder items are listed.
type ItemQuery struct {
	SortKey    SortKey
	Descending bool

	// Since limits the listing to items at or after this time. A zero
	// value lists everything.
	Since time.Time
}

// Mailbox enumerates the operator's mail store.
type Mailbox interface {
	// SentItems returns sent mail newer than since, newest first.
	SentItems(ctx context.Context, since time.Time) ([]Message, error)

	// Folders returns the root folders of the store's folder tree.
	Folders(ctx context.Context) ([]*Folder, error)

	// Items lists the messages of a folder.
	Items(ctx context.Context, folder *Folder, q ItemQuery) ([]Message, error)

	// OperatorAddresses returns the addresses that identify the operator.
	OperatorAddresses(ctx context.Context) ([]string, error)
}

// ConversationReader is implemented by mailboxes that can walk the
// message graph of a thread.
type ConversationReader interface {
	Conversation(ctx context.Context, msg Message) ([]Message, error)
}

// FollowUp is one follow-up to dispatch.
type FollowUp struct {
	// Original is the tracked sent message.
	Original Message

	// To are the addressees of this follow-up: a single tracked recipient
	// in per-recipient mode, everyone in per-thread mode.
	To []Recipient

	// TemplateCode selects the body template.
	TemplateCode string

	// Subject is the follow-up subject line.
	Subject string
}

// Sender composes and transmits follow-ups.
type Sender interface {
	SendFollowUp(ctx context.Context, f FollowUp) error
}
