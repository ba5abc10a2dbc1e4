package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mail-followup/internal/followup"
	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/source"
	"github.com/nhle/mail-followup/internal/sync"
	"github.com/nhle/mail-followup/internal/theme"
)

func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("dry-run", false, "Log follow-ups instead of sending them")
	f.Bool("force", false, "Send regardless of due time (never to replied or suppressed keys)")
	f.Bool("skip-detection", false, "Do not look for replies")
	f.String("reply-mode", "", "Reply detection: conv-first, hdr-first, hdr-only or a strategy list")
	f.String("tracking", "", "State keying: recipient or thread")
	f.Int("lookback-days", 0, "Only consider mail sent within this many days")
}

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scan cycles until interrupted",
		Long: `Run a scan cycle immediately and then on schedule until SIGINT or
SIGTERM. SIGUSR1 starts the next cycle early.`,
		Args: cobra.NoArgs,
		RunE: a.runScheduler,
	}
	addEngineFlags(cmd)
	cmd.Flags().Duration("interval", 0, "Wait between cycles")
	cmd.Flags().String("schedule", "", "Cron spec for cycles, e.g. \"*/5 * * * *\"")
	return cmd
}

func (a *app) onceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single scan cycle and print its report",
		Args:  cobra.NoArgs,
		RunE:  a.runOnce,
	}
	addEngineFlags(cmd)
	return cmd
}

func (a *app) runScheduler(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(
		cmdContext(cmd), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	log := logging.Component("cli")

	e, err := a.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	if err := e.mailbox.ValidateConnection(ctx); err != nil {
		if source.IsAuthError(err) {
			return err
		}
		log.Warn().Err(err).Msg("mailbox not reachable yet")
	}

	schedule, err := sync.ScheduleFor(a.cfg.Engine)
	if err != nil {
		return err
	}
	scheduler := sync.New(e.cycle, schedule)

	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGUSR1)
	defer signal.Stop(wake)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				log.Info().Msg("cycle requested")
				scheduler.Trigger()
			}
		}
	}()

	log.Info().
		Str("state", a.cfg.State.Path).
		Bool("dry_run", a.cfg.Engine.DryRun).
		Msg("follow-up scheduler running")

	return scheduler.Run(ctx)
}

func (a *app) runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(
		cmdContext(cmd), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	e, err := a.openEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	report, err := e.cycle.Run(ctx)
	if err != nil {
		return err
	}

	if a.jsonOutput() {
		return outputJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

// printReport writes a cycle summary.
func printReport(w io.Writer, r followup.Report) {
	fmt.Fprintln(w, theme.HeaderStyle.Render("Cycle report"))

	row := func(label string, value any) {
		fmt.Fprintf(w, "%s %v\n", theme.LabelStyle.Render(label), value)
	}
	row("Started", r.StartedAt.Local().Format(time.DateTime))
	row("Elapsed", r.Elapsed.Round(time.Millisecond))
	row("Candidates", r.Candidates)
	row("Dispatched", r.Dispatched)
	if r.DryRun > 0 {
		row("Dry run", r.DryRun)
	}
	row("Failed", r.Failed)
	row("Replies", r.Replies)
	if r.BudgetExceeded {
		row("Deferred", fmt.Sprintf("%d (loop budget exceeded)", r.Deferred))
	}

	reasons := make([]string, 0, len(r.Skipped))
	for reason := range r.Skipped {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		row("Skipped", fmt.Sprintf(
			"%s %d", reason, r.Skipped[followup.SkipReason(reason)],
		))
	}
}

// cmdContext returns the command context, or Background outside Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
