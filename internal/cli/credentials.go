package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-followup/internal/credential"
	"github.com/nhle/mail-followup/internal/source/email"
)

func (a *app) credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage the mailbox password in the system keyring",
	}
	cmd.AddCommand(a.credentialsSetCmd(), a.credentialsDeleteCmd())
	return cmd
}

func (a *app) credentialsSetCmd() *cobra.Command {
	var verify bool

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Prompt for the mailbox password and store it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username := a.cfg.Mailbox.Username
			if username == "" {
				return errors.New("mailbox.username must be configured")
			}

			var password string
			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Mailbox password").
						Description("Password or app password for " + username).
						EchoMode(huh.EchoModePassword).
						Value(&password).
						Validate(validateRequired("Password")),
				),
			)
			if err := form.Run(); err != nil {
				return fmt.Errorf("reading password: %w", err)
			}

			if verify {
				mb := email.NewMailbox(imapConfig(a.cfg, password))
				if err := mb.ValidateConnection(cmdContext(cmd)); err != nil {
					return fmt.Errorf("password not stored: %w", err)
				}
			}

			key := credential.MailboxKey(username)
			if err := a.credentials.Set(key, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored password for %s\n", username)
			return nil
		},
	}

	cmd.Flags().BoolVar(&verify, "verify", true, "Log in to the IMAP server before storing")
	return cmd
}

func (a *app) credentialsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored mailbox password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			username := a.cfg.Mailbox.Username
			if err := a.credentials.Delete(credential.MailboxKey(username)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed password for %s\n", username)
			return nil
		},
	}
}

// validateRequired returns a huh validator rejecting blank input.
func validateRequired(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
