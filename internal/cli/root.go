// Package cli implements the followupd command line: the background
// scheduler, a single cycle, and operator commands over the state file and
// the dispatch journal.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nhle/mail-followup/internal/credential"
	"github.com/nhle/mail-followup/internal/logging"
	"github.com/nhle/mail-followup/internal/model"
)

// flagKeys maps command-line flags to the config keys they override.
var flagKeys = map[string]string{
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"state":          "state.path",
	"journal":        "journal.path",
	"dry-run":        "engine.dry_run",
	"force":          "engine.force_send",
	"skip-detection": "engine.skip_detection",
	"reply-mode":     "engine.reply_mode",
	"tracking":       "engine.tracking",
	"interval":       "engine.interval",
	"schedule":       "engine.schedule",
	"lookback-days":  "engine.lookback_days",
}

// app carries what every command needs once flags are parsed.
type app struct {
	configPath   string
	outputFormat string

	v   *viper.Viper
	cfg *model.AppConfig

	credentials *credential.Store
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{credentials: &credential.Store{}}

	root := &cobra.Command{
		Use:   "followupd",
		Short: "Schedule follow-ups for unanswered mail",
		Long: `followupd scans sent mail for subject directives such as [DN3D],
checks whether the recipients replied and sends a follow-up when a reply
is overdue.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
	}

	pf := root.PersistentFlags()
	pf.StringVar(
		&a.configPath, "config", "",
		"Path to config file (default: ~/.config/mail-followup/config.yaml)",
	)
	pf.StringVar(
		&a.outputFormat, "format", "text",
		"Output format: text, json",
	)
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console, json")
	pf.String("state", "", "Path to the state file")
	pf.String("journal", "", "Path to the journal database")

	root.AddCommand(
		a.runCmd(),
		a.onceCmd(),
		a.statusCmd(),
		a.suppressCmd(),
		a.unsuppressCmd(),
		a.cancelCmd(),
		a.historyCmd(),
		a.parseCmd(),
		a.credentialsCmd(),
	)

	return root
}

// load reads the configuration with flag overrides and sets up logging.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	path := a.configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}

	a.v = model.NewViper(path)
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := a.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}

	cfg, err := model.LoadConfigFrom(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})

	return nil
}

func (a *app) jsonOutput() bool {
	return a.outputFormat == "json"
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
