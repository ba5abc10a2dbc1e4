package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MailboxConfig holds the IMAP/SMTP connection settings.
type MailboxConfig struct {
	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	// Username is used for IMAP and SMTP login and is the operator's
	// primary address.
	Username string `mapstructure:"username" yaml:"username"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// SentFolder overrides the \Sent special-use mailbox.
	SentFolder string `mapstructure:"sent_folder" yaml:"sent_folder"`

	// Aliases are additional addresses that count as the operator.
	Aliases []string `mapstructure:"aliases" yaml:"aliases"`
}

// EngineConfig holds the scan-cycle settings.
type EngineConfig struct {
	// Interval is the wait between cycles. Ignored when Schedule is set.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// Schedule is an optional cron spec ("@every 5m", "*/2 * * * *").
	Schedule string `mapstructure:"schedule" yaml:"schedule"`

	LookbackDays    int           `mapstructure:"lookback_days" yaml:"lookback_days"`
	LoopBudget      time.Duration `mapstructure:"loop_budget" yaml:"loop_budget"`
	PrecheckEpsilon time.Duration `mapstructure:"precheck_epsilon" yaml:"precheck_epsilon"`

	// MaxAgeHours abandons candidates older than this. Zero disables it.
	MaxAgeHours float64 `mapstructure:"max_age_hours" yaml:"max_age_hours"`

	// ReplyMode is a preset (conv-first, hdr-first, hdr-only) or a comma
	// separated list of strategy names.
	ReplyMode string `mapstructure:"reply_mode" yaml:"reply_mode"`

	Tracking       TrackingMode `mapstructure:"tracking" yaml:"tracking"`
	Codes          []string     `mapstructure:"codes" yaml:"codes"`
	ReminderPrefix string       `mapstructure:"reminder_prefix" yaml:"reminder_prefix"`
	FuzzyMinLength int          `mapstructure:"fuzzy_min_length" yaml:"fuzzy_min_length"`

	IncludeSelf         bool `mapstructure:"include_self" yaml:"include_self"`
	IncludeTrash        bool `mapstructure:"include_trash" yaml:"include_trash"`
	AnchorOnLast        bool `mapstructure:"anchor_on_last" yaml:"anchor_on_last"`
	ForceSend           bool `mapstructure:"force_send" yaml:"force_send"`
	DryRun              bool `mapstructure:"dry_run" yaml:"dry_run"`
	SkipDetection       bool `mapstructure:"skip_detection" yaml:"skip_detection"`
	SkipIfNewerOutgoing bool `mapstructure:"skip_if_newer_outgoing" yaml:"skip_if_newer_outgoing"`
}

// Lookback returns the lookback window as a duration.
func (e EngineConfig) Lookback() time.Duration {
	return time.Duration(e.LookbackDays) * 24 * time.Hour
}

// MaxAge returns the staleness ceiling, zero when disabled.
func (e EngineConfig) MaxAge() time.Duration {
	return time.Duration(e.MaxAgeHours * float64(time.Hour))
}

// PathConfig holds a single file location.
type PathConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds log output preferences.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Mailbox MailboxConfig `mapstructure:"mailbox" yaml:"mailbox"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`

	// Templates maps a category code to a markdown follow-up body. The
	// "default" entry is used for codes without their own template.
	Templates map[string]string `mapstructure:"templates" yaml:"templates"`

	State   PathConfig    `mapstructure:"state" yaml:"state"`
	Journal PathConfig    `mapstructure:"journal" yaml:"journal"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// DefaultTemplate is the follow-up body used when no template matches.
const DefaultTemplate = "Hello,\n\nWe have not yet received a reply to the " +
	"message below. Could you please **check and reply** when you have " +
	"a moment?\n\nThank you."

// DefaultCodes are the category codes recognised out of the box.
var DefaultCodes = []string{"DA", "DN", "DH", "FU", "FI", "FP"}

// DefaultConfigDir returns ~/.config/mail-followup.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mail-followup")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mail-followup/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// setDefaults registers a default for every key so that missing keys and
// environment overrides resolve through viper.
func setDefaults(v *viper.Viper) {
	dir := DefaultConfigDir()

	v.SetDefault("mailbox.imap_host", "")
	v.SetDefault("mailbox.imap_port", "993")
	v.SetDefault("mailbox.smtp_host", "")
	v.SetDefault("mailbox.smtp_port", "465")
	v.SetDefault("mailbox.tls", true)
	v.SetDefault("mailbox.username", "")
	v.SetDefault("mailbox.sent_folder", "")

	v.SetDefault("engine.interval", time.Minute)
	v.SetDefault("engine.schedule", "")
	v.SetDefault("engine.lookback_days", 60)
	v.SetDefault("engine.loop_budget", 45*time.Second)
	v.SetDefault("engine.precheck_epsilon", 10*time.Second)
	v.SetDefault("engine.max_age_hours", 0.0)
	v.SetDefault("engine.reply_mode", "conv-first")
	v.SetDefault("engine.tracking", string(TrackPerRecipient))
	v.SetDefault("engine.codes", DefaultCodes)
	v.SetDefault("engine.reminder_prefix", "[Remind] ")
	v.SetDefault("engine.fuzzy_min_length", 8)
	for _, flag := range []string{
		"include_self", "include_trash", "anchor_on_last", "force_send",
		"dry_run", "skip_detection", "skip_if_newer_outgoing",
	} {
		v.SetDefault("engine."+flag, false)
	}

	v.SetDefault("templates.default", DefaultTemplate)

	v.SetDefault("state.path", filepath.Join(dir, "state.json"))
	v.SetDefault("journal.path", filepath.Join(dir, "journal.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// NewViper returns a viper instance with defaults and FOLLOWUP_ environment
// bindings, reading path when it is non-empty.
func NewViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("FOLLOWUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus environment overrides) are
// returned.
func LoadConfig(path string) (*AppConfig, error) {
	return LoadConfigFrom(NewViper(path))
}

// LoadConfigFrom reads and validates configuration from a prepared viper
// instance, which may carry bound CLI flags.
func LoadConfigFrom(v *viper.Viper) (*AppConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf(
				"reading config %s: %w", v.ConfigFileUsed(), err,
			)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Templates == nil {
		cfg.Templates = make(map[string]string)
	}
	if _, ok := cfg.Templates["default"]; !ok {
		cfg.Templates["default"] = DefaultTemplate
	}

	cfg.State.Path = expandTilde(cfg.State.Path)
	cfg.Journal.Path = expandTilde(cfg.Journal.Path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the engine settings for values the cycle cannot run with.
func (c *AppConfig) Validate() error {
	e := c.Engine

	if e.Interval <= 0 && e.Schedule == "" {
		return errors.New("engine.interval must be positive")
	}
	if e.LookbackDays <= 0 {
		return errors.New("engine.lookback_days must be positive")
	}
	if e.LoopBudget <= 0 {
		return errors.New("engine.loop_budget must be positive")
	}
	if e.MaxAgeHours < 0 {
		return errors.New("engine.max_age_hours must not be negative")
	}
	if len(e.Codes) == 0 {
		return errors.New("engine.codes must not be empty")
	}

	switch e.Tracking {
	case TrackPerRecipient, TrackPerThread:
	default:
		return fmt.Errorf(
			"engine.tracking must be %q or %q, got %q",
			TrackPerRecipient, TrackPerThread, e.Tracking,
		)
	}

	if c.State.Path == "" {
		return errors.New("state.path is required")
	}

	return nil
}

// Template returns the follow-up body for a category code.
func (c *AppConfig) Template(code string) string {
	for k, body := range c.Templates {
		if strings.EqualFold(k, code) && body != "" {
			return body
		}
	}
	if body := c.Templates["default"]; body != "" {
		return body
	}
	return DefaultTemplate
}

// OperatorAddresses returns the configured username plus aliases,
// lower-cased.
func (c *AppConfig) OperatorAddresses() []string {
	var out []string
	if c.Mailbox.Username != "" {
		out = append(out, strings.ToLower(c.Mailbox.Username))
	}
	for _, a := range c.Mailbox.Aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// expandTilde expands a leading ~ to the user's home directory.
func expandTilde(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
