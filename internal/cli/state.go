package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mail-followup/internal/model"
	"github.com/nhle/mail-followup/internal/state"
	"github.com/nhle/mail-followup/internal/theme"
	"github.com/nhle/mail-followup/internal/tracking"
)

// keyStatus is one row of the status listing.
type keyStatus struct {
	Key        string              `json:"key"`
	Thread     string              `json:"thread"`
	State      string              `json:"state"`
	Suppressed bool                `json:"suppressed"`
	Schedule   model.ScheduleState `json:"schedule"`
}

func (a *app) openState() (*state.Store, error) {
	st := state.New(a.cfg.State.Path)
	if err := st.Load(); err != nil {
		return nil, err
	}
	return st, nil
}

func (a *app) statusCmd() *cobra.Command {
	var filter string
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List tracking keys and their follow-up state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := a.openState()
			if err != nil {
				return err
			}

			rows := collectStatus(st, filter, pendingOnly)
			if a.jsonOutput() {
				return outputJSON(cmd.OutOrStdout(), rows)
			}
			printStatus(cmd.OutOrStdout(), rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "Only keys or subjects containing this text")
	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "Hide replied and suppressed keys")
	return cmd
}

// collectStatus lists every stored key plus suppressed keys that have no
// state of their own.
func collectStatus(st *state.Store, filter string, pendingOnly bool) []keyStatus {
	filter = strings.ToLower(strings.TrimSpace(filter))
	seen := make(map[string]bool)
	var rows []keyStatus

	add := func(key string) {
		if seen[key] {
			return
		}
		seen[key] = true

		sched, _ := st.Get(key)
		suppressed := st.IsSuppressed(key)
		label := theme.StateLabel(sched, suppressed)

		if pendingOnly && (label == theme.StateReplied ||
			label == theme.StateSuppressed) {
			return
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(key), filter) &&
			!strings.Contains(strings.ToLower(sched.Subject), filter) {
			return
		}

		rows = append(rows, keyStatus{
			Key:        key,
			Thread:     tracking.ThreadOf(key),
			State:      label,
			Suppressed: suppressed,
			Schedule:   sched,
		})
	}

	for _, key := range st.Keys() {
		add(key)
	}
	for _, key := range st.Suppressed() {
		add(key)
	}
	return rows
}

func printStatus(w io.Writer, rows []keyStatus) {
	fmt.Fprintln(w, theme.HeaderStyle.Render(
		fmt.Sprintf("Tracking keys (%d)", len(rows)),
	))
	if len(rows) == 0 {
		fmt.Fprintln(w, theme.HelpStyle.Render("nothing tracked yet"))
		return
	}

	for _, r := range rows {
		fmt.Fprintf(w, "%s %s\n",
			theme.StateStyle(r.State).Render(r.State),
			theme.KeyStyle.Render(r.Key),
		)
		if r.Schedule.Subject != "" {
			fmt.Fprintf(w, "  %s %s\n",
				theme.LabelStyle.Render("Subject"), r.Schedule.Subject)
		}
		if t := r.Schedule.LastReminderAt; t != nil {
			fmt.Fprintf(w, "  %s %s (%s)\n",
				theme.LabelStyle.Render("Last nudge"),
				t.Local().Format(time.DateTime), r.Schedule.TemplateCode)
		}
		if r.Schedule.ReplyReceived {
			detected := ""
			if t := r.Schedule.DetectedAt; t != nil {
				detected = " at " + t.Local().Format(time.DateTime)
			}
			fmt.Fprintf(w, "  %s %s%s\n",
				theme.LabelStyle.Render("Reply"),
				r.Schedule.ReplyDetectedBy, detected)
		}
	}
}

func (a *app) suppressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suppress KEY...",
		Short: "Never send follow-ups for the given tracking keys",
		Long: `Add tracking keys to the suppression set. A thread key suppresses
every recipient of the thread.`,
		Args: cobra.MinimumNArgs(1),
		RunE: a.mutateKeys("suppressed", (*state.Store).Suppress),
	}
}

func (a *app) unsuppressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unsuppress KEY...",
		Short: "Remove tracking keys from the suppression set",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.mutateKeys("unsuppressed", (*state.Store).Unsuppress),
	}
}

func (a *app) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel KEY...",
		Short: "Forget the state of tracking keys and suppress them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.mutateKeys("cancelled", (*state.Store).Cancel),
	}
}

// mutateKeys applies op to each argument key against a freshly loaded
// state file.
func (a *app) mutateKeys(
	verb string, op func(*state.Store, string) error,
) func(*cobra.Command, []string) error {

	return func(cmd *cobra.Command, args []string) error {
		st, err := a.openState()
		if err != nil {
			return err
		}

		for _, key := range args {
			key = strings.TrimSpace(key)
			if key == "" || key == state.SuppressedKey {
				return fmt.Errorf("invalid tracking key %q", key)
			}
			if err := op(st, key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n",
				verb, theme.KeyStyle.Render(key))
		}
		return nil
	}
}
