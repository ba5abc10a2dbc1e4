// Package tracking derives the identities under which scheduling state is
// stored.
package tracking

import (
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nhle/mail-followup/internal/source"
)

// Identity prefixes, in resolution priority order.
const (
	PrefixMessageID    = "MSGID:"
	PrefixStorageID    = "EID:"
	PrefixConversation = "CID:"
	PrefixTopic        = "TOPIC:"
)

// SentLayout formats the send time in the topic fallback.
const SentLayout = "2006-01-02 15:04:05"

// recipientSeparator joins a thread identity and a recipient address.
const recipientSeparator = "|"

// ThreadIdentity returns the stable identity of msg's thread. The global
// Message-ID wins, then the storage id, then the store's conversation id.
// When none is present the topic and second-precision send time are used;
// two sends with the same topic in the same second collide.
func ThreadIdentity(msg source.Message) string {
	if id, ok := present(msg.GlobalMessageID); ok {
		return PrefixMessageID + id
	}
	if id, ok := present(msg.StorageID); ok {
		return PrefixStorageID + id
	}
	if id, ok := present(msg.ConversationID); ok {
		return PrefixConversation + id
	}

	topic := strings.TrimSpace(msg.ConversationTopic)
	if topic == "" {
		topic = strings.TrimSpace(msg.Subject)
	}
	return PrefixTopic + topic + "|SENT:" +
		msg.SentAt.UTC().Truncate(time.Second).Format(SentLayout)
}

// RecipientKey returns the key scoping thread to one recipient.
func RecipientKey(thread, address string) string {
	return thread + recipientSeparator + source.NormalizeAddress(address)
}

// ThreadOf returns the thread portion of a key produced by RecipientKey,
// or the key itself for a thread-scoped key.
func ThreadOf(key string) string {
	idx := strings.LastIndex(key, recipientSeparator)
	if idx < 0 {
		return key
	}
	if strings.Contains(key[idx+1:], "@") {
		return key[:idx]
	}
	return key
}

func present(opt fn.Option[string]) (string, bool) {
	v := strings.TrimSpace(opt.UnwrapOr(""))
	return v, v != ""
}
