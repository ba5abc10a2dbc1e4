package email

import "time"

// IMAPConfig holds the IMAP server settings for reading the mailbox.
type IMAPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	// SentFolder overrides the \Sent special-use mailbox.
	SentFolder string

	// Aliases are further addresses that belong to the operator.
	Aliases []string
}

// SMTPConfig holds the SMTP server settings for sending follow-ups.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	TLS      bool

	// From overrides Username as the sender address.
	From string
}

// sender returns the envelope and header sender address.
func (c SMTPConfig) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// dialTimeout bounds connection setup to either server.
const dialTimeout = 30 * time.Second
