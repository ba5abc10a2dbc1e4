package email

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/rs/zerolog"

	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/source"
)

// headerSection fetches the header block without setting \Seen.
var headerSection = &imap.FetchItemBodySection{
	Specifier: imap.PartSpecifierHeader,
	Peek:      true,
}

// Mailbox reads the operator's mail store over IMAP. Every call opens its
// own session.
type Mailbox struct {
	cfg IMAPConfig
	log zerolog.Logger
}

// NewMailbox creates an IMAP-backed mailbox.
func NewMailbox(cfg IMAPConfig) *Mailbox {
	return &Mailbox{cfg: cfg, log: logging.Component("imap")}
}

var (
	_ source.Mailbox            = (*Mailbox)(nil)
	_ source.ConversationReader = (*Mailbox)(nil)
)

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout on the returned client.
func (m *Mailbox) Connect(_ context.Context) (*imapclient.Client, error) {
	addr := m.cfg.Host + ":" + m.cfg.Port

	opts := &imapclient.Options{}

	var client *imapclient.Client
	var err error

	if m.cfg.TLS {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialStartTLS(addr, opts)
	}
	if err != nil {
		return nil, &source.TransportError{
			Op:  "imap connect " + addr,
			Err: err,
		}
	}

	if err := client.Login(m.cfg.Username, m.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			Username: m.cfg.Username,
			Message:  fmt.Sprintf("IMAP login failed: %v", err),
		}
	}

	return client, nil
}

// withSession runs fn on a fresh authenticated session. Cancelling ctx
// closes the connection, failing any command in flight.
func (m *Mailbox) withSession(
	ctx context.Context, fn func(*imapclient.Client) error,
) error {
	client, err := m.Connect(ctx)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()
	defer func() { _ = client.Logout().Wait() }()

	if err := fn(client); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// ValidateConnection checks that the server is reachable and accepts the
// credentials.
func (m *Mailbox) ValidateConnection(ctx context.Context) error {
	return m.withSession(ctx, func(*imapclient.Client) error { return nil })
}

// OperatorAddresses returns the login address and configured aliases.
func (m *Mailbox) OperatorAddresses(context.Context) ([]string, error) {
	out := []string{source.NormalizeAddress(m.cfg.Username)}
	for _, a := range m.cfg.Aliases {
		if a = source.NormalizeAddress(a); a != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

// Folders lists the folder tree with special-use roles.
func (m *Mailbox) Folders(ctx context.Context) ([]*source.Folder, error) {
	var roots []*source.Folder
	err := m.withSession(ctx, func(c *imapclient.Client) error {
		list, err := c.List("", "*", &imap.ListOptions{
			ReturnSpecialUse: true,
		}).Collect()
		if err != nil {
			return &source.TransportError{Op: "list folders", Err: err}
		}
		roots = buildTree(list)
		return nil
	})
	return roots, err
}

// SentItems returns mail in the sent folder sent at or after since,
// newest first.
func (m *Mailbox) SentItems(
	ctx context.Context, since time.Time,
) ([]source.Message, error) {
	sentPath := m.cfg.SentFolder
	if sentPath == "" {
		roots, err := m.Folders(ctx)
		if err != nil {
			return nil, err
		}
		sent := source.FindRole(roots, source.RoleSent)
		if sent == nil {
			return nil, &source.TransportError{
				Op:  "sent items",
				Err: errors.New("no sent folder found; set mailbox.sent_folder"),
			}
		}
		sentPath = sent.Path
	}

	var items []source.Message
	err := m.withSession(ctx, func(c *imapclient.Client) error {
		var err error
		items, err = listFolder(c, sentPath, &imap.SearchCriteria{
			Since: since,
		})
		if err != nil {
			return &source.TransportError{Op: "sent items", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// SINCE matches by date only.
	out := items[:0]
	for _, msg := range items {
		if !msg.SentAt.Before(since) {
			out = append(out, msg)
		}
	}
	sortMessages(out, source.SortBySent, true)
	return out, nil
}

// Items lists the messages of a folder.
func (m *Mailbox) Items(
	ctx context.Context, folder *source.Folder, q source.ItemQuery,
) ([]source.Message, error) {
	criteria := &imap.SearchCriteria{}
	if !q.Since.IsZero() {
		criteria.Since = q.Since
	}

	var items []source.Message
	err := m.withSession(ctx, func(c *imapclient.Client) error {
		var err error
		items, err = listFolder(c, folder.Path, criteria)
		return err
	})
	if err != nil {
		return nil, err
	}

	sortMessages(items, q.SortKey, q.Descending)
	return items, nil
}

// Conversation returns every message in any folder that replies to or
// references msg.
func (m *Mailbox) Conversation(
	ctx context.Context, msg source.Message,
) ([]source.Message, error) {
	id := msg.GlobalMessageID.UnwrapOr("")
	if id == "" {
		return nil, nil
	}

	roots, err := m.Folders(ctx)
	if err != nil {
		return nil, err
	}

	bracketed := "<" + id + ">"
	criteria := &imap.SearchCriteria{
		Since: msg.SentAt,
		Or: [][2]imap.SearchCriteria{{
			{Header: []imap.SearchCriteriaHeaderField{{
				Key: "In-Reply-To", Value: bracketed,
			}}},
			{Header: []imap.SearchCriteriaHeaderField{{
				Key: "References", Value: bracketed,
			}}},
		}},
	}

	var thread []source.Message
	err = m.withSession(ctx, func(c *imapclient.Client) error {
		var err error
		thread, err = walkConversation(
			source.Walk(roots, source.ExcludeNothing), id,
			func(path string) ([]source.Message, error) {
				return listFolder(c, path, criteria)
			},
			m.log,
		)
		return err
	})
	if err != nil {
		return nil, err
	}

	sortMessages(thread, source.SortByReceived, false)
	return thread, nil
}

// walkConversation lists every folder and keeps the messages whose
// In-Reply-To or References name id. A folder that fails is logged and
// skipped; when every folder fails the walk fails, since an empty result
// would read as "no replies".
func walkConversation(
	folders []*source.Folder, id string,
	list func(path string) ([]source.Message, error), log zerolog.Logger,
) ([]source.Message, error) {

	var thread []source.Message
	var lastErr error
	failed := 0
	for _, f := range folders {
		items, err := list(f.Path)
		if err != nil {
			log.Warn().Err(err).Str("folder", f.Path).
				Msg("conversation scan skipped folder")
			failed++
			lastErr = err
			continue
		}
		for _, msg := range items {
			if references(msg, id) {
				thread = append(thread, msg)
			}
		}
	}

	if failed > 0 && failed == len(folders) {
		return nil, &source.TransportError{
			Op:  "conversation scan",
			Err: fmt.Errorf("all %d folders failed: %w", failed, lastErr),
		}
	}
	return thread, nil
}

// references reports whether msg's In-Reply-To or References header
// names id. HEADER search matches substrings, so results are checked
// against the parsed id list.
func references(msg source.Message, id string) bool {
	h := parseHeader([]byte(msg.TransportHeaders))
	for _, ref := range referencedIDs(h) {
		if strings.EqualFold(ref, id) {
			return true
		}
	}
	return false
}

// listFolder selects a folder read-only and fetches the messages matching
// criteria.
func listFolder(
	c *imapclient.Client, path string, criteria *imap.SearchCriteria,
) ([]source.Message, error) {
	sel, err := c.Select(path, &imap.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", path, err)
	}
	if sel.NumMessages == 0 {
		return nil, nil
	}

	searchData, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", path, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	fetchCmd := c.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		UID:          true,
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{headerSection},
	})
	defer fetchCmd.Close()

	var out []source.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, messageFromBuffer(buf, path, sel.UIDValidity))
	}

	if err := fetchCmd.Close(); err != nil {
		return out, fmt.Errorf("fetching %s: %w", path, err)
	}
	return out, nil
}

// messageFromBuffer converts a fetched message into a source.Message.
func messageFromBuffer(
	buf *imapclient.FetchMessageBuffer, path string, uidValidity uint32,
) source.Message {
	msg := source.Message{
		ReceivedAt: buf.InternalDate,
		FolderPath: path,
		Kind:       source.KindMail,
		StorageID: fn.Some(fmt.Sprintf(
			"%s;%d;%d", path, uidValidity, uint32(buf.UID),
		)),
	}

	raw := buf.FindBodySection(headerSection)
	h := parseHeader(raw)
	msg.TransportHeaders = string(raw)
	if !isMail(h) {
		msg.Kind = source.KindOther
	}

	if env := buf.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.SentAt = env.Date
		if id := strings.Trim(env.MessageID, "<> "); id != "" {
			msg.GlobalMessageID = fn.Some(id)
		}
		if len(env.From) > 0 {
			msg.SenderAddress = env.From[0].Addr()
		}
		msg.Recipients = append(msg.Recipients,
			recipients(env.To, source.RecipientTo)...)
		msg.Recipients = append(msg.Recipients,
			recipients(env.Cc, source.RecipientCc)...)
		msg.Recipients = append(msg.Recipients,
			recipients(env.Bcc, source.RecipientBcc)...)
	}

	if msg.SentAt.IsZero() {
		msg.SentAt = msg.ReceivedAt
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = msg.SentAt
	}

	if id, ok := conversationID(h.Get("Thread-Index")); ok {
		msg.ConversationID = fn.Some(id)
	}
	msg.ConversationTopic = strings.TrimSpace(h.Get("Thread-Topic"))

	return msg
}

func recipients(addrs []imap.Address, kind source.RecipientKind) []source.Recipient {
	out := make([]source.Recipient, 0, len(addrs))
	for _, a := range addrs {
		if a.IsGroupStart() || a.IsGroupEnd() {
			continue
		}
		if addr := a.Addr(); addr != "" {
			out = append(out, source.Recipient{Address: addr, Kind: kind})
		}
	}
	return out
}

func sortMessages(msgs []source.Message, key source.SortKey, desc bool) {
	at := func(m source.Message) time.Time {
		if key == source.SortBySent {
			return m.SentAt
		}
		return m.ReceivedAt
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if desc {
			return at(msgs[i]).After(at(msgs[j]))
		}
		return at(msgs[i]).Before(at(msgs[j]))
	})
}
