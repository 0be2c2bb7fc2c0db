package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

func newTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "mailticket"}
	RegisterFlags(cmd)
	return cmd
}

func setFlags(t *testing.T, cmd *cobra.Command, values map[string]string) {
	t.Helper()
	for flag, value := range values {
		if err := cmd.Flags().Set(flag, value); err != nil {
			t.Fatalf("set --%s=%s: %v", flag, value, err)
		}
	}
}

func minimalFlags() map[string]string {
	return map[string]string{
		"imap-host":      "imap.example.com",
		"imap-user":      "tickets",
		"imap-pass":      "secret",
		"ticket-address": "tickets@example.com",
		"jira-url":       "https://jira.example.com",
		"jira-user":      "bot",
		"jira-pass":      "token",
		"jira-project":   "HD",
	}
}

func TestLoadConfig_Minimal(t *testing.T) {
	cmd := newTestCmd(t)
	setFlags(t, cmd, minimalFlags())

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.IMAPPort != 993 {
		t.Errorf("IMAPPort = %d, want default 993", cfg.IMAPPort)
	}
	if cfg.FolderInbox != "INBOX" || cfg.FolderSuccess != "Archive" {
		t.Errorf("folders = %q/%q, want defaults", cfg.FolderInbox, cfg.FolderSuccess)
	}
	if cfg.IDPrefix != "JI-" || cfg.IDMinLength != 6 {
		t.Errorf("id options = %q/%d, want defaults", cfg.IDPrefix, cfg.IDMinLength)
	}
	if cfg.LoopMode != "continuous" || cfg.LoopDelay != time.Minute {
		t.Errorf("loop options = %q/%v, want defaults", cfg.LoopMode, cfg.LoopDelay)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want default info", cfg.LogLevel)
	}
}

func TestLoadConfig_SMTPDefaultsToIMAPCredentials(t *testing.T) {
	cmd := newTestCmd(t)
	setFlags(t, cmd, minimalFlags())

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.SMTPHost != "imap.example.com" {
		t.Errorf("SMTPHost = %q, want the IMAP host", cfg.SMTPHost)
	}
	if cfg.SMTPUser != "tickets" || cfg.SMTPPass != "secret" {
		t.Errorf("SMTP credentials = %q/%q, want the IMAP credentials", cfg.SMTPUser, cfg.SMTPPass)
	}
}

func TestLoadConfig_ExplicitSMTPUserKeepsOwnPassword(t *testing.T) {
	cmd := newTestCmd(t)
	flags := minimalFlags()
	flags["smtp-user"] = "mailer"
	flags["smtp-pass"] = "other"
	setFlags(t, cmd, flags)

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.SMTPUser != "mailer" || cfg.SMTPPass != "other" {
		t.Errorf("SMTP credentials = %q/%q", cfg.SMTPUser, cfg.SMTPPass)
	}
}

func TestLoadConfig_EnvFallback(t *testing.T) {
	cmd := newTestCmd(t)
	flags := minimalFlags()
	delete(flags, "imap-pass")
	delete(flags, "jira-pass")
	setFlags(t, cmd, flags)
	t.Setenv("MAILTICKET_IMAP_PASS", "env-imap")
	t.Setenv("MAILTICKET_JIRA_PASS", "env-jira")

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.IMAPPass != "env-imap" {
		t.Errorf("IMAPPass = %q, want the environment fallback", cfg.IMAPPass)
	}
	if cfg.JiraPass != "env-jira" {
		t.Errorf("JiraPass = %q, want the environment fallback", cfg.JiraPass)
	}
}

func TestLoadConfig_FlagBeatsEnv(t *testing.T) {
	cmd := newTestCmd(t)
	setFlags(t, cmd, minimalFlags())
	t.Setenv("MAILTICKET_IMAP_PASS", "env-imap")

	cfg, err := LoadConfig(cmd)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.IMAPPass != "secret" {
		t.Errorf("IMAPPass = %q, want the flag value", cfg.IMAPPass)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(map[string]string)
		wantPart string
	}{
		{"missing imap host", func(f map[string]string) { delete(f, "imap-host") }, "--imap-host"},
		{"missing imap pass", func(f map[string]string) { delete(f, "imap-pass") }, "IMAP password"},
		{"missing ticket address", func(f map[string]string) { delete(f, "ticket-address") }, "--ticket-address"},
		{"malformed ticket address", func(f map[string]string) { f["ticket-address"] = "not-an-address" }, "not a mail address"},
		{"missing jira project", func(f map[string]string) { delete(f, "jira-project") }, "--jira-project"},
		{"bad imap port", func(f map[string]string) { f["imap-port"] = "70000" }, "--imap-port"},
		{"same folders", func(f map[string]string) { f["folder-success"] = "INBOX" }, "must differ"},
		{"bad loop mode", func(f map[string]string) { f["loop-mode"] = "forever" }, "--loop-mode"},
		{"zero interval", func(f map[string]string) { f["loop-mode"] = "interval"; f["loop-delay"] = "0s" }, "--loop-delay"},
		{"negative min length", func(f map[string]string) { f["id-min-length"] = "-1" }, "--id-min-length"},
		{"bad log level", func(f map[string]string) { f["log-level"] = "verbose" }, "--log-level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newTestCmd(t)
			flags := minimalFlags()
			tt.mutate(flags)
			setFlags(t, cmd, flags)

			_, err := LoadConfig(cmd)
			if err == nil {
				t.Fatal("LoadConfig() expected an error")
			}
			if tt.wantPart != "" && !strings.Contains(err.Error(), tt.wantPart) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantPart)
			}
		})
	}
}
