package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mailticket/config"
	"mailticket/correlate"
	"mailticket/filter"
	"mailticket/hashid"
	"mailticket/jira"
	"mailticket/mailbox"
	"mailticket/mailout"
	"mailticket/runner"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mailticket",
		Short: "Bridge a ticket mailbox to a Jira project",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg.LogLevel, cfg.LogDir)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mailticket",
				"inbox", cfg.FolderInbox, "archive", cfg.FolderSuccess,
				"project", cfg.JiraProject, "loopMode", cfg.LoopMode)

			return run(cfg, logger)
		},
	}
	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(newImportMboxCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	codec, err := hashid.New(hashid.Options{
		Salt:      cfg.IDSalt,
		Alphabet:  cfg.IDAlphabet,
		MinLength: cfg.IDMinLength,
	})
	if err != nil {
		return fmt.Errorf("hashid.New: %w", err)
	}

	correlator, err := correlate.New(correlate.Options{
		Codec:         codec,
		Prefix:        cfg.IDPrefix,
		TicketAddress: cfg.TicketAddress,
	})
	if err != nil {
		return fmt.Errorf("correlate.New: %w", err)
	}

	flt, err := filter.Load(cfg.FilterRules)
	if err != nil {
		return fmt.Errorf("filter.Load: %w", err)
	}

	tracker, err := jira.NewClient(jira.Options{
		URL:      cfg.JiraURL,
		Username: cfg.JiraUser,
		Password: cfg.JiraPass,
		Project:  cfg.JiraProject,
	})
	if err != nil {
		return fmt.Errorf("jira.NewClient: %w", err)
	}

	box, err := mailbox.New(mailbox.Options{
		Host:               cfg.IMAPHost,
		Port:               cfg.IMAPPort,
		Username:           cfg.IMAPUser,
		Password:           cfg.IMAPPass,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		FolderInbox:        cfg.FolderInbox,
		FolderSuccess:      cfg.FolderSuccess,
	}, logger)
	if err != nil {
		return fmt.Errorf("mailbox.New: %w", err)
	}

	exporter, err := mailout.New(mailout.Options{
		Host:          cfg.SMTPHost,
		Port:          cfg.SMTPPort,
		Username:      cfg.SMTPUser,
		Password:      cfg.SMTPPass,
		TicketAddress: cfg.TicketAddress,
		TemplatePath:  cfg.ThreadTemplate,
	}, logger)
	if err != nil {
		return fmt.Errorf("mailout.New: %w", err)
	}

	if err := checkFolders(box); err != nil {
		return err
	}

	r, err := runner.New(runner.Options{
		Mailbox:    box,
		Filter:     flt,
		Correlator: correlator,
		Syncer:     jira.NewSyncer(tracker, logger),
		Confirmer:  exporter,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	mode, err := runner.ParseLoopMode(cfg.LoopMode)
	if err != nil {
		return err
	}

	return r.Run(runner.NewLoopPolicy(mode, cfg.LoopDelay))
}

// checkFolders fails fast at startup when the configured folders do not
// exist, instead of erroring on every cycle.
func checkFolders(box *mailbox.Client) error {
	if err := box.Login(); err != nil {
		return err
	}
	defer func() {
		_ = box.Logout()
	}()

	if err := box.CheckFolders(); err != nil {
		return err
	}
	return nil
}

func setupLogger(logLevel, logDir string) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch logLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(logDir, fmt.Sprintf("mailticket-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
