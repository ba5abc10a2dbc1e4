package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"

	"github.com/nhle/mail-followup/internal/source"
	"github.com/nhle/mail-followup/internal/subject"
	"github.com/nhle/mail-followup/internal/theme"
	"github.com/nhle/mail-followup/internal/tracking"
)

// parseResult describes how the engine reads a subject line.
type parseResult struct {
	Subject      string  `json:"subject"`
	HasDirective bool    `json:"has_directive"`
	Code         string  `json:"code,omitempty"`
	IntervalDays float64 `json:"interval_days,omitempty"`
	Canonical    string  `json:"canonical"`
	Reference    string  `json:"reference,omitempty"`
	Reminder     bool    `json:"reminder"`
	Thread       string  `json:"thread,omitempty"`
}

func (a *app) parseCmd() *cobra.Command {
	var messageID string

	cmd := &cobra.Command{
		Use:   "parse SUBJECT",
		Short: "Show the directive and canonical form of a subject",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parser := subject.NewParser(a.cfg.Engine.Codes)
			res := describeSubject(
				parser, a.cfg.Engine.ReminderPrefix,
				strings.Join(args, " "), messageID,
			)

			if a.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), res)
			}

			w := cmd.OutOrStdout()
			row := func(label string, value any) {
				fmt.Fprintf(w, "%s %v\n", theme.LabelStyle.Render(label), value)
			}
			row("Subject", res.Subject)
			if res.HasDirective {
				row("Directive", fmt.Sprintf(
					"%s every %g days", res.Code, res.IntervalDays,
				))
			} else {
				row("Directive", theme.HelpStyle.Render("none"))
			}
			row("Canonical", res.Canonical)
			if res.Reference != "" {
				row("Reference", res.Reference)
			}
			row("Reminder", res.Reminder)
			if res.Thread != "" {
				row("Thread", res.Thread)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(
		&messageID, "message-id", "",
		"Message-ID of the mail, to show its thread key",
	)
	return cmd
}

func describeSubject(
	parser *subject.Parser, prefix, subj, messageID string,
) parseResult {

	res := parseResult{
		Subject:   subj,
		Canonical: parser.Canonicalize(subj),
		Reference: parser.ExtractReference(subj),
		Reminder:  subject.IsReminder(subj, prefix),
	}
	if d, ok := parser.Parse(subj); ok {
		res.HasDirective = true
		res.Code = d.Code
		res.IntervalDays = d.IntervalDays
	}

	if id := strings.Trim(messageID, "<> "); id != "" {
		res.Thread = tracking.ThreadIdentity(source.Message{
			Subject:         subj,
			SentAt:          time.Now(),
			GlobalMessageID: fn.Some(id),
		})
	}
	return res
}
