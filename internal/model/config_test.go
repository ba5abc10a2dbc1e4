package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	e := cfg.Engine
	require.Equal(t, time.Minute, e.Interval)
	require.Equal(t, 60, e.LookbackDays)
	require.Equal(t, 45*time.Second, e.LoopBudget)
	require.Equal(t, 10*time.Second, e.PrecheckEpsilon)
	require.Equal(t, "conv-first", e.ReplyMode)
	require.Equal(t, TrackPerRecipient, e.Tracking)
	require.Equal(t, DefaultCodes, e.Codes)
	require.Equal(t, "[Remind] ", e.ReminderPrefix)
	require.Equal(t, 8, e.FuzzyMinLength)
	require.False(t, e.DryRun)
	require.Zero(t, e.MaxAge())
	require.Equal(t, 60*24*time.Hour, e.Lookback())

	require.Equal(t, "993", cfg.Mailbox.IMAPPort)
	require.True(t, cfg.Mailbox.TLS)
	require.Equal(t, DefaultTemplate, cfg.Template("DN"))
	require.NotEmpty(t, cfg.State.Path)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
mailbox:
  imap_host: imap.corp.example
  username: Me@Corp.example
  aliases: [Team@corp.example, " "]
engine:
  interval: 5m
  lookback_days: 30
  max_age_hours: 12
  reply_mode: hdr-only
  tracking: thread
  codes: [DN]
templates:
  dn: "Please send the **drawings**."
state:
  path: ~/followup/state.json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "imap.corp.example", cfg.Mailbox.IMAPHost)
	require.Equal(t, 5*time.Minute, cfg.Engine.Interval)
	require.Equal(t, 30, cfg.Engine.LookbackDays)
	require.Equal(t, 12*time.Hour, cfg.Engine.MaxAge())
	require.Equal(t, "hdr-only", cfg.Engine.ReplyMode)
	require.Equal(t, TrackPerThread, cfg.Engine.Tracking)
	require.Equal(t, []string{"DN"}, cfg.Engine.Codes)

	require.Equal(t, "Please send the **drawings**.", cfg.Template("DN"))
	require.Equal(t, DefaultTemplate, cfg.Template("FU"))

	require.Equal(t,
		[]string{"me@corp.example", "team@corp.example"},
		cfg.OperatorAddresses(),
	)

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "followup", "state.json"), cfg.State.Path)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("FOLLOWUP_ENGINE_DRY_RUN", "true")
	t.Setenv("FOLLOWUP_ENGINE_LOOKBACK_DAYS", "7")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.True(t, cfg.Engine.DryRun)
	require.Equal(t, 7, cfg.Engine.LookbackDays)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *AppConfig {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *AppConfig)
		errMsg string
	}{
		{
			name:   "no interval or schedule",
			mutate: func(c *AppConfig) { c.Engine.Interval = 0 },
			errMsg: "engine.interval",
		},
		{
			name: "schedule replaces interval",
			mutate: func(c *AppConfig) {
				c.Engine.Interval = 0
				c.Engine.Schedule = "*/5 * * * *"
			},
		},
		{
			name:   "zero lookback",
			mutate: func(c *AppConfig) { c.Engine.LookbackDays = 0 },
			errMsg: "engine.lookback_days",
		},
		{
			name:   "zero budget",
			mutate: func(c *AppConfig) { c.Engine.LoopBudget = 0 },
			errMsg: "engine.loop_budget",
		},
		{
			name:   "negative max age",
			mutate: func(c *AppConfig) { c.Engine.MaxAgeHours = -1 },
			errMsg: "engine.max_age_hours",
		},
		{
			name:   "no codes",
			mutate: func(c *AppConfig) { c.Engine.Codes = nil },
			errMsg: "engine.codes",
		},
		{
			name:   "bad tracking",
			mutate: func(c *AppConfig) { c.Engine.Tracking = "folder" },
			errMsg: "engine.tracking",
		},
		{
			name:   "no state path",
			mutate: func(c *AppConfig) { c.State.Path = "" },
			errMsg: "state.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestParseDetectionStrategy(t *testing.T) {
	for in, want := range map[string]DetectionStrategy{
		"conversation": DetectedByConversation,
		" hdr ":        DetectedByHeader,
		"CID":          DetectedByTopic,
		"fuzzy":        DetectedByFuzzy,
	} {
		got, err := ParseDetectionStrategy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseDetectionStrategy("subject")
	require.Error(t, err)
}

func TestDirectiveInterval(t *testing.T) {
	require.Equal(t, 36*time.Hour, Directive{IntervalDays: 1.5}.Interval())
}
