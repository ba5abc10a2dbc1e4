package email

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
)

// parseHeader parses a raw RFC 5322 header block. A malformed block
// yields an empty header.
func parseHeader(raw []byte) mail.Header {
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return mail.Header{Header: message.Header{}}
	}
	return mail.Header{Header: message.Header{Header: h}}
}

// threadIndexGUIDLen is the size of the conversation GUID that follows the
// 6-byte timestamp at the start of a Thread-Index value.
const threadIndexGUIDLen = 16

// conversationID decodes the conversation GUID carried in a Thread-Index
// header, as lower-case hex. Outlook and Exchange stamp this header on
// every message of a conversation.
func conversationID(threadIndex string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(
		strings.Join(strings.Fields(threadIndex), ""),
	)
	if err != nil || len(raw) < 6+threadIndexGUIDLen {
		return "", false
	}
	return hex.EncodeToString(raw[6 : 6+threadIndexGUIDLen]), true
}

// referencedIDs returns the message ids listed in In-Reply-To and
// References.
func referencedIDs(h mail.Header) []string {
	var ids []string
	for _, key := range []string{"In-Reply-To", "References"} {
		list, err := h.MsgIDList(key)
		if err != nil {
			continue
		}
		ids = append(ids, list...)
	}
	return ids
}

// isMail reports whether the content type is ordinary correspondence
// rather than a receipt, report or calendar item.
func isMail(h mail.Header) bool {
	ct, _, err := h.ContentType()
	if err != nil || ct == "" {
		return true
	}
	switch strings.ToLower(ct) {
	case "multipart/report", "message/disposition-notification",
		"text/calendar":
		return false
	}
	return true
}
