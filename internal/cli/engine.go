package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/nhle/mail-followup/internal/followup"
	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/source/email"
	"github.com/nhle/mail-followup/internal/state"
	"github.com/nhle/mail-followup/internal/store"
)

// engine is a wired scan cycle together with the resources it holds.
type engine struct {
	cycle   *followup.Cycle
	mailbox *email.Mailbox
	state   *state.Store
	journal *store.SQLiteStore
}

func (e *engine) Close() error {
	if e.journal != nil {
		return e.journal.Close()
	}
	return nil
}

// openJournal opens the dispatch journal, creating its directory. An empty
// path disables the journal.
func openJournal(path string) (*store.SQLiteStore, error) {
	if path == "" {
		return nil, nil
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal dir: %w", err)
		}
	}
	return store.NewSQLiteStore(path)
}

// openEngine wires the IMAP mailbox, the SMTP sender, the state file and
// the journal into a scan cycle.
func (a *app) openEngine() (*engine, error) {
	cfg := a.cfg
	if cfg.Mailbox.IMAPHost == "" || cfg.Mailbox.Username == "" {
		return nil, fmt.Errorf(
			"mailbox.imap_host and mailbox.username must be configured",
		)
	}

	password, err := a.credentials.Password(cfg.Mailbox.Username)
	if err != nil {
		return nil, fmt.Errorf(
			"mailbox password: %w (run 'followupd credentials set')", err,
		)
	}

	mb := email.NewMailbox(imapConfig(cfg, password))
	sender := email.NewSender(smtpConfig(cfg, password), cfg.Template)

	journal, err := openJournal(cfg.Journal.Path)
	if err != nil {
		return nil, err
	}

	st := state.New(cfg.State.Path)
	deps := followup.Deps{
		Mailbox:   mb,
		Sender:    sender,
		State:     st,
		Operators: cfg.OperatorAddresses(),
	}
	if journal != nil {
		deps.Journal = journal
	}

	cycle, err := followup.NewCycle(deps, cfg.Engine)
	if err != nil {
		if journal != nil {
			journal.Close()
		}
		return nil, err
	}

	return &engine{
		cycle:   cycle,
		mailbox: mb,
		state:   st,
		journal: journal,
	}, nil
}

func imapConfig(cfg *model.AppConfig, password string) email.IMAPConfig {
	return email.IMAPConfig{
		Host:       cfg.Mailbox.IMAPHost,
		Port:       cfg.Mailbox.IMAPPort,
		Username:   cfg.Mailbox.Username,
		Password:   password,
		TLS:        cfg.Mailbox.TLS,
		SentFolder: cfg.Mailbox.SentFolder,
		Aliases:    cfg.Mailbox.Aliases,
	}
}

func smtpConfig(cfg *model.AppConfig, password string) email.SMTPConfig {
	host := cfg.Mailbox.SMTPHost
	if host == "" {
		host = cfg.Mailbox.IMAPHost
	}
	return email.SMTPConfig{
		Host:     host,
		Port:     cfg.Mailbox.SMTPPort,
		Username: cfg.Mailbox.Username,
		Password: password,
		TLS:      cfg.Mailbox.TLS,
		From:     cfg.Mailbox.Username,
	}
}
