// Package config defines the CLI flags, their MAILTICKET_* environment
// fallbacks, and validation of the resulting runtime configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Config captures all options required to run the bridge.
type Config struct {
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	InsecureSkipVerify bool
	FolderInbox        string
	FolderSuccess      string

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string

	TicketAddress string

	JiraURL     string
	JiraUser    string
	JiraPass    string
	JiraProject string

	IDPrefix    string
	IDSalt      string
	IDAlphabet  string
	IDMinLength int

	FilterRules    string
	ThreadTemplate string

	LoopMode  string
	LoopDelay time.Duration

	LogLevel string
	LogDir   string
}

const defaultAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890"

// Mailbox addresses are only sanity-checked; full RFC 5322 validation is
// the mail server's job.
var addressPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// RegisterFlags attaches all CLI flags to the provided command. Every
// string flag left empty falls back to its MAILTICKET_* environment
// variable at load time.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()

	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to MAILTICKET_IMAP_PASS)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("folder-inbox", "INBOX", "IMAP folder polled for incoming mail")
	flags.String("folder-success", "Archive", "IMAP folder processed mail is moved to")

	flags.String("smtp-host", "", "SMTP server hostname (defaults to the IMAP host)")
	flags.Int("smtp-port", 587, "SMTP submission port")
	flags.String("smtp-user", "", "SMTP username (defaults to the IMAP username)")
	flags.String("smtp-pass", "", "SMTP password (defaults to the IMAP password)")

	flags.String("ticket-address", "", "Mail address of the ticket mailbox, e.g. tickets@example.com")

	flags.String("jira-url", "", "Base URL of the Jira instance")
	flags.String("jira-user", "", "Jira username")
	flags.String("jira-pass", "", "Jira password or API token (falls back to MAILTICKET_JIRA_PASS)")
	flags.String("jira-project", "", "Key of the Jira project issues are created in")

	flags.String("id-prefix", "JI-", "Prefix in front of every ticket token")
	flags.String("id-salt", "mailticket", "Salt for the ticket token codec")
	flags.String("id-alphabet", defaultAlphabet, "Alphabet for the ticket token codec")
	flags.Int("id-min-length", 6, "Minimum ticket token length")

	flags.String("filter-rules", "", "Path to the JSON allow/deny rule file (empty passes all mail)")
	flags.String("thread-template", "", "Path to the confirmation mail HTML template (empty uses the built-in one)")

	flags.String("loop-mode", "continuous", "Cycle scheduling: continuous, interval or once")
	flags.Duration("loop-delay", time.Minute, "Pause between continuous cycles, or the interval length")

	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (empty logs to stderr only)")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with
// validation. Empty string flags fall back to MAILTICKET_* environment
// variables, generalizing the usual password-from-env handling.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	var cfg Config
	var err error

	stringFlags := []struct {
		flag string
		dest *string
	}{
		{"imap-host", &cfg.IMAPHost},
		{"imap-user", &cfg.IMAPUser},
		{"imap-pass", &cfg.IMAPPass},
		{"folder-inbox", &cfg.FolderInbox},
		{"folder-success", &cfg.FolderSuccess},
		{"smtp-host", &cfg.SMTPHost},
		{"smtp-user", &cfg.SMTPUser},
		{"smtp-pass", &cfg.SMTPPass},
		{"ticket-address", &cfg.TicketAddress},
		{"jira-url", &cfg.JiraURL},
		{"jira-user", &cfg.JiraUser},
		{"jira-pass", &cfg.JiraPass},
		{"jira-project", &cfg.JiraProject},
		{"id-prefix", &cfg.IDPrefix},
		{"id-salt", &cfg.IDSalt},
		{"id-alphabet", &cfg.IDAlphabet},
		{"filter-rules", &cfg.FilterRules},
		{"thread-template", &cfg.ThreadTemplate},
		{"loop-mode", &cfg.LoopMode},
		{"log-level", &cfg.LogLevel},
		{"log-dir", &cfg.LogDir},
	}
	for _, s := range stringFlags {
		if *s.dest, err = flags.GetString(s.flag); err != nil {
			return Config{}, err
		}
		if *s.dest == "" {
			*s.dest = os.Getenv(envName(s.flag))
		}
	}

	if cfg.IMAPPort, err = flags.GetInt("imap-port"); err != nil {
		return Config{}, err
	}
	if cfg.SMTPPort, err = flags.GetInt("smtp-port"); err != nil {
		return Config{}, err
	}
	if cfg.IDMinLength, err = flags.GetInt("id-min-length"); err != nil {
		return Config{}, err
	}
	if cfg.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
		return Config{}, err
	}
	if cfg.LoopDelay, err = flags.GetDuration("loop-delay"); err != nil {
		return Config{}, err
	}

	if cfg.SMTPHost == "" {
		cfg.SMTPHost = cfg.IMAPHost
	}
	if cfg.SMTPUser == "" {
		cfg.SMTPUser = cfg.IMAPUser
		if cfg.SMTPPass == "" {
			cfg.SMTPPass = cfg.IMAPPass
		}
	}

	cfg.LogLevel = normalizeLogLevel(cfg.LogLevel)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if cfg.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if cfg.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass or MAILTICKET_IMAP_PASS")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return fmt.Errorf("--smtp-port must be between 1 and 65535")
	}
	if cfg.FolderInbox == "" {
		return fmt.Errorf("--folder-inbox is required")
	}
	if cfg.FolderSuccess == "" {
		return fmt.Errorf("--folder-success is required")
	}
	if cfg.FolderInbox == cfg.FolderSuccess {
		return fmt.Errorf("--folder-inbox and --folder-success must differ")
	}

	if cfg.TicketAddress == "" {
		return fmt.Errorf("--ticket-address is required")
	}
	if !addressPattern.MatchString(cfg.TicketAddress) {
		return fmt.Errorf("--ticket-address %q is not a mail address", cfg.TicketAddress)
	}

	if cfg.JiraURL == "" {
		return fmt.Errorf("--jira-url is required")
	}
	if cfg.JiraUser == "" {
		return fmt.Errorf("--jira-user is required")
	}
	if cfg.JiraPass == "" {
		return fmt.Errorf("Jira password must be provided via --jira-pass or MAILTICKET_JIRA_PASS")
	}
	if cfg.JiraProject == "" {
		return fmt.Errorf("--jira-project is required")
	}

	if cfg.IDMinLength < 0 {
		return fmt.Errorf("--id-min-length must not be negative")
	}

	switch cfg.LoopMode {
	case "continuous", "interval", "once":
	default:
		return fmt.Errorf("invalid --loop-mode: %s (want continuous, interval or once)", cfg.LoopMode)
	}
	if cfg.LoopMode != "once" && cfg.LoopDelay <= 0 {
		return fmt.Errorf("--loop-delay must be positive for %s mode", cfg.LoopMode)
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func normalizeLogLevel(level string) string {
	level = strings.ToLower(level)
	if level == "warning" {
		level = "warn"
	}
	return level
}

func envName(flag string) string {
	return "MAILTICKET_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
