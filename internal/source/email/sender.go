package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/source"
)

// TemplateFunc returns the markdown body for a category code.
type TemplateFunc func(code string) string

// Sender composes follow-ups as replies to the original message and sends
// them over SMTP.
type Sender struct {
	cfg       SMTPConfig
	templates TemplateFunc
	markdown  goldmark.Markdown
	now       func() time.Time
	log       zerolog.Logger
}

// NewSender creates an SMTP sender.
func NewSender(cfg SMTPConfig, templates TemplateFunc) *Sender {
	return &Sender{
		cfg:       cfg,
		templates: templates,
		markdown: goldmark.New(
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
		now: time.Now,
		log: logging.Component("smtp"),
	}
}

var _ source.Sender = (*Sender)(nil)

// SendFollowUp composes and transmits one follow-up.
func (s *Sender) SendFollowUp(ctx context.Context, f source.FollowUp) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, rcpts, err := s.Compose(f)
	if err != nil {
		return err
	}

	addr := s.cfg.Host + ":" + s.cfg.Port
	if s.cfg.TLS {
		return sendSMTPWithTLS(addr, s.cfg, s.cfg.sender(), rcpts, raw, s.log)
	}
	return sendSMTPWithStartTLS(addr, s.cfg, s.cfg.sender(), rcpts, raw, s.log)
}

// Compose renders the follow-up message and returns it together with the
// envelope recipients. Bcc recipients are addressed in the envelope only;
// the visible To then names the operator. Unparsable addresses are dropped;
// ErrRecipientUnresolvable is returned only when none remain.
func (s *Sender) Compose(f source.FollowUp) ([]byte, []string, error) {
	from, err := mail.ParseAddress(s.cfg.sender())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing sender %q: %w", s.cfg.sender(), err)
	}

	var to, cc []*mail.Address
	var rcpts []string
	for _, r := range f.To {
		addr, err := mail.ParseAddress(r.Address)
		if err != nil {
			s.log.Warn().Err(err).Str("address", r.Address).
				Msg("recipient unresolvable, dropped from follow-up")
			continue
		}
		rcpts = append(rcpts, addr.Address)

		switch r.Kind {
		case source.RecipientCc:
			cc = append(cc, addr)
		case source.RecipientBcc:
		default:
			to = append(to, addr)
		}
	}
	if len(rcpts) == 0 {
		return nil, nil, fmt.Errorf("%w: no recipients", source.ErrRecipientUnresolvable)
	}
	if len(to) == 0 && len(cc) == 0 {
		to = []*mail.Address{from}
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{from})
	h.SetAddressList("To", to)
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(f.Subject)
	if err := h.GenerateMessageID(); err != nil {
		return nil, nil, fmt.Errorf("generating message id: %w", err)
	}
	if id := f.Original.GlobalMessageID.UnwrapOr(""); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", referencesFor(f.Original, id))
	}
	if topic := f.Original.ConversationTopic; topic != "" {
		h.Set("Thread-Topic", topic)
	}

	text := s.body(f)
	htmlBody, err := s.renderHTML(text)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if err := writeAlternative(&buf, h, text, htmlBody); err != nil {
		return nil, nil, fmt.Errorf("composing follow-up: %w", err)
	}
	return buf.Bytes(), rcpts, nil
}

// body returns the markdown body: the template followed by a reference to
// the original message.
func (s *Sender) body(f source.FollowUp) string {
	tmpl := ""
	if s.templates != nil {
		tmpl = s.templates(f.TemplateCode)
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(tmpl))
	b.WriteString("\n\n---\n\n")
	fmt.Fprintf(&b, "> **Subject:** %s  \n", f.Original.Subject)
	if !f.Original.SentAt.IsZero() {
		fmt.Fprintf(&b, "> **Sent:** %s\n",
			f.Original.SentAt.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

func (s *Sender) renderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return buf.String(), nil
}

// referencesFor extends the original's References chain with its own id.
func referencesFor(original source.Message, id string) []string {
	h := parseHeader([]byte(original.TransportHeaders))
	refs, err := h.MsgIDList("References")
	if err != nil {
		refs = nil
	}
	for _, r := range refs {
		if r == id {
			return refs
		}
	}
	return append(refs, id)
}

// writeAlternative writes a multipart/alternative message with a plain
// text and an HTML part.
func writeAlternative(w io.Writer, h mail.Header, text, htmlBody string) error {
	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	tw, err := mw.CreateInline()
	if err != nil {
		return err
	}

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", text},
		{"text/html", htmlBody},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		pw, err := tw.CreatePart(ph)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return mw.Close()
}

// sendSMTPWithTLS sends an email over an implicit TLS connection.
func sendSMTPWithTLS(
	addr string, cfg SMTPConfig,
	from string, to []string, body []byte, log zerolog.Logger,
) error {
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	dialer := &net.Dialer{Timeout: dialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, tlsConfig)
	if err != nil {
		return &source.TransportError{Op: "smtp dial " + addr, Err: err}
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return &source.TransportError{Op: "smtp handshake", Err: err}
	}
	defer client.Close()

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	if err := client.Auth(auth); err != nil {
		return &source.AuthError{
			Username: cfg.Username,
			Message:  fmt.Sprintf("SMTP auth failed: %v", err),
		}
	}

	return sendMailViaSMTPClient(client, from, to, body, log)
}

// sendSMTPWithStartTLS sends an email using STARTTLS.
func sendSMTPWithStartTLS(
	addr string, cfg SMTPConfig,
	from string, to []string, body []byte, log zerolog.Logger,
) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return &source.TransportError{Op: "smtp dial " + addr, Err: err}
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return &source.TransportError{Op: "smtp handshake", Err: err}
	}
	defer client.Close()

	tlsConfig := &tls.Config{ServerName: cfg.Host}
	if err := client.StartTLS(tlsConfig); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	if err := client.Auth(auth); err != nil {
		return &source.AuthError{
			Username: cfg.Username,
			Message:  fmt.Sprintf("SMTP auth failed: %v", err),
		}
	}

	return sendMailViaSMTPClient(client, from, to, body, log)
}

// rcptClient is the part of *smtp.Client that addresses the envelope.
type rcptClient interface {
	Rcpt(to string) error
}

// addRecipients issues RCPT TO for each address, skipping the ones the
// server rejects. It fails only when every recipient was rejected.
func addRecipients(client rcptClient, to []string, log zerolog.Logger) error {
	accepted := 0
	var lastErr error
	for _, rcpt := range to {
		if err := client.Rcpt(rcpt); err != nil {
			log.Warn().Err(err).Str("address", rcpt).
				Msg("recipient rejected by server, skipped")
			lastErr = err
			continue
		}
		accepted++
	}
	if accepted == 0 {
		return fmt.Errorf(
			"%w: SMTP RCPT TO rejected all recipients: %v",
			source.ErrRecipientUnresolvable, lastErr,
		)
	}
	return nil
}

// sendMailViaSMTPClient sends a message using an already-authenticated
// SMTP client. Rejected recipients are skipped as long as one remains.
func sendMailViaSMTPClient(
	client *smtp.Client, from string, to []string, body []byte,
	log zerolog.Logger,
) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}

	if err := addRecipients(client, to, log); err != nil {
		return err
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}

	if _, err := writer.Write(body); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}
