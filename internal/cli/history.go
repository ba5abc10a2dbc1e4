package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/store"
	"github.com/nhle/mail-followup/internal/theme"
)

func (a *app) historyCmd() *cobra.Command {
	var (
		kind    string
		key     string
		code    string
		query   string
		since   time.Duration
		limit   int
		offset  int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List dispatched follow-ups and detected replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Journal.Path == "" {
				return fmt.Errorf("journal.path is not configured")
			}
			journal, err := openJournal(a.cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer journal.Close()

			ctx := cmdContext(cmd)

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}

			if summary {
				counts, err := journal.CountByCode(ctx, from)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return outputJSON(cmd.OutOrStdout(), counts)
				}
				printCounts(cmd.OutOrStdout(), counts)
				return nil
			}

			filter := store.EventFilter{Limit: limit, Offset: offset}
			if kind != "" {
				k := model.EventKind(strings.ToLower(kind))
				if k != model.EventDispatch && k != model.EventReply {
					return fmt.Errorf("unknown event kind %q", kind)
				}
				filter.Kind = &k
			}
			if key != "" {
				filter.TrackingKey = &key
			}
			if code != "" {
				upper := strings.ToUpper(code)
				filter.Code = &upper
			}
			if query != "" {
				filter.Query = &query
			}
			if !from.IsZero() {
				filter.Since = &from
			}

			events, err := journal.ListEvents(ctx, filter)
			if err != nil {
				return err
			}
			if a.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), events)
			}
			printEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "Only this event kind: dispatch, reply")
	f.StringVar(&key, "key", "", "Only this tracking key")
	f.StringVar(&code, "code", "", "Only this category code")
	f.StringVarP(&query, "query", "q", "", "Search subjects and references")
	f.DurationVar(&since, "since", 0, "Only events newer than this, e.g. 168h")
	f.IntVar(&limit, "limit", 50, "Maximum number of events")
	f.IntVar(&offset, "offset", 0, "Skip this many events")
	f.BoolVar(&summary, "summary", false, "Count sent follow-ups per category code")

	return cmd
}

func printEvents(w io.Writer, events []model.Event) {
	fmt.Fprintln(w, theme.HeaderStyle.Render(
		fmt.Sprintf("Journal (%d)", len(events)),
	))
	if len(events) == 0 {
		fmt.Fprintln(w, theme.HelpStyle.Render("no events"))
		return
	}

	for _, e := range events {
		label := string(e.Kind)
		if e.DryRun {
			label += " (dry run)"
		}

		detail := e.Recipient
		if e.Kind == model.EventReply {
			detail = fmt.Sprintf("%s via %s", e.Recipient, e.Strategy)
		}

		fmt.Fprintf(w, "%s %s [%s] %s\n",
			e.OccurredAt.Local().Format(time.DateTime),
			theme.EventStyle(e.Kind, e.DryRun).Render(label),
			e.Code, e.Subject,
		)
		if detail != "" {
			fmt.Fprintf(w, "  %s\n", theme.HelpStyle.Render(detail))
		}
		if e.Reference != "" {
			fmt.Fprintf(w, "  %s %s\n",
				theme.LabelStyle.Render("Reference"), e.Reference)
		}
	}
}

func printCounts(w io.Writer, counts map[string]int) {
	fmt.Fprintln(w, theme.HeaderStyle.Render("Follow-ups per code"))

	codes := make([]string, 0, len(counts))
	for c := range counts {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	for _, c := range codes {
		fmt.Fprintf(w, "%s %d\n", theme.LabelStyle.Render(c), counts[c])
	}
}
