package tracking

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/nhle/mail-followup/internal/source"
	"github.com/stretchr/testify/require"
)

func TestThreadIdentityPriority(t *testing.T) {
	sent := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	full := source.Message{
		Subject:           "[DN3D] Invoice",
		SentAt:            sent,
		GlobalMessageID:   fn.Some("abc@mail.example"),
		StorageID:         fn.Some("Sent;9;12"),
		ConversationID:    fn.Some("c0ffee"),
		ConversationTopic: "Invoice",
	}

	require.Equal(t, "MSGID:abc@mail.example", ThreadIdentity(full))

	full.GlobalMessageID = fn.None[string]()
	require.Equal(t, "EID:Sent;9;12", ThreadIdentity(full))

	full.StorageID = fn.Some("  ")
	require.Equal(t, "CID:c0ffee", ThreadIdentity(full))

	full.ConversationID = fn.None[string]()
	require.Equal(t,
		"TOPIC:Invoice|SENT:2026-03-04 05:06:07", ThreadIdentity(full),
	)
}

func TestThreadIdentityTopicFallsBackToSubject(t *testing.T) {
	local := time.FixedZone("KST", 9*3600)
	msg := source.Message{
		Subject: "Status",
		SentAt:  time.Date(2026, 3, 4, 14, 0, 0, 0, local),
	}
	require.Equal(t,
		"TOPIC:Status|SENT:2026-03-04 05:00:00", ThreadIdentity(msg),
	)
}

func TestRecipientKey(t *testing.T) {
	key := RecipientKey("MSGID:abc@x", "  Bob@Example.COM ")
	require.Equal(t, "MSGID:abc@x|bob@example.com", key)
	require.Equal(t, "MSGID:abc@x", ThreadOf(key))
	require.Equal(t, "MSGID:abc@x", ThreadOf("MSGID:abc@x"))

	topic := "TOPIC:Status|SENT:2026-03-04 05:00:00"
	require.Equal(t, topic, ThreadOf(topic))
	require.Equal(t, topic, ThreadOf(RecipientKey(topic, "a@b.c")))
}
