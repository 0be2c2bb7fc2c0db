package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"regexp"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"github.com/spf13/cobra"

	"mailticket/mailbox"
	"mailticket/model"
	"mailticket/progress"
)

var errImportFilterConflict = errors.New("include and exclude filters are mutually exclusive")

type importOptions struct {
	MboxPath           string
	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	InsecureSkipVerify bool
	TargetFolder       string
	IncludeHeader      []string
	IncludeBody        []string
	ExcludeHeader      []string
	ExcludeBody        []string
	DryRun             bool
	LogLevel           string
}

func newImportMboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-mbox",
		Short: "Bulk-load an existing mbox archive into the ticket inbox folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadImportOptions(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(opts.LogLevel, "")
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			return runImport(opts, logger)
		},
	}

	flags := cmd.Flags()
	flags.String("mbox", "", "Path to the .mbox file to import")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to MAILTICKET_IMAP_PASS)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", "INBOX", "IMAP folder the messages are appended to")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.Bool("dry-run", false, "Read and filter the mbox without uploading")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")

	return cmd
}

func loadImportOptions(cmd *cobra.Command) (importOptions, error) {
	flags := cmd.Flags()

	var opts importOptions
	var err error

	if opts.MboxPath, err = flags.GetString("mbox"); err != nil {
		return importOptions{}, err
	}
	if opts.IMAPHost, err = flags.GetString("imap-host"); err != nil {
		return importOptions{}, err
	}
	if opts.IMAPPort, err = flags.GetInt("imap-port"); err != nil {
		return importOptions{}, err
	}
	if opts.IMAPUser, err = flags.GetString("imap-user"); err != nil {
		return importOptions{}, err
	}
	if opts.IMAPPass, err = flags.GetString("imap-pass"); err != nil {
		return importOptions{}, err
	}
	if opts.InsecureSkipVerify, err = flags.GetBool("insecure-skip-verify"); err != nil {
		return importOptions{}, err
	}
	if opts.TargetFolder, err = flags.GetString("target-folder"); err != nil {
		return importOptions{}, err
	}
	if opts.IncludeHeader, err = flags.GetStringArray("include-header"); err != nil {
		return importOptions{}, err
	}
	if opts.IncludeBody, err = flags.GetStringArray("include-body"); err != nil {
		return importOptions{}, err
	}
	if opts.ExcludeHeader, err = flags.GetStringArray("exclude-header"); err != nil {
		return importOptions{}, err
	}
	if opts.ExcludeBody, err = flags.GetStringArray("exclude-body"); err != nil {
		return importOptions{}, err
	}
	if opts.DryRun, err = flags.GetBool("dry-run"); err != nil {
		return importOptions{}, err
	}
	if opts.LogLevel, err = flags.GetString("log-level"); err != nil {
		return importOptions{}, err
	}

	if opts.IMAPPass == "" {
		opts.IMAPPass = os.Getenv("MAILTICKET_IMAP_PASS")
	}

	if opts.MboxPath == "" {
		return importOptions{}, fmt.Errorf("--mbox is required")
	}
	if opts.IMAPHost == "" {
		return importOptions{}, fmt.Errorf("--imap-host is required")
	}
	if opts.IMAPUser == "" {
		return importOptions{}, fmt.Errorf("--imap-user is required")
	}
	if !opts.DryRun && opts.IMAPPass == "" {
		return importOptions{}, fmt.Errorf("IMAP password must be provided via --imap-pass or MAILTICKET_IMAP_PASS")
	}

	return opts, nil
}

func runImport(opts importOptions, logger *slog.Logger) error {
	flt, err := newImportFilter(opts)
	if err != nil {
		return err
	}

	total, err := countMboxMessages(opts.MboxPath)
	if err != nil {
		return err
	}
	logger.Info("starting mbox import", "mbox", opts.MboxPath, "messages", total, "target", opts.TargetFolder, "dryRun", opts.DryRun)

	var box *mailbox.Client
	if !opts.DryRun {
		box, err = mailbox.New(mailbox.Options{
			Host:               opts.IMAPHost,
			Port:               opts.IMAPPort,
			Username:           opts.IMAPUser,
			Password:           opts.IMAPPass,
			InsecureSkipVerify: opts.InsecureSkipVerify,
			FolderInbox:        opts.TargetFolder,
			FolderSuccess:      opts.TargetFolder,
		}, logger)
		if err != nil {
			return err
		}
		if err := box.Login(); err != nil {
			return err
		}
		defer func() {
			if err := box.Logout(); err != nil {
				logger.Warn("imap logout failed", "err", err)
			}
		}()
	}

	bar := progress.New(total, opts.LogLevel)
	var uploaded, skipped, failed int

	err = streamMbox(opts.MboxPath, func(idx int, raw []byte) error {
		header, body := splitRawMessage(raw)
		if !flt.allows(header, body) {
			skipped++
			bar.Increment("")
			return nil
		}

		msg, err := parseImportMessage(raw)
		if err != nil {
			logger.Warn("skipping unparseable message", "index", idx, "err", err)
			failed++
			bar.Error(fmt.Errorf("message %d: %w", idx, err))
			bar.Increment("")
			return nil
		}

		if opts.DryRun {
			logger.Debug("dry-run upload", "id", msg.ID)
			uploaded++
			bar.Increment(msg.ID)
			return nil
		}

		if err := box.Append(opts.TargetFolder, msg.Raw, msg.ReceivedAt); err != nil {
			logger.Error("append failed", "id", msg.ID, "err", err)
			failed++
			bar.Error(err)
			bar.Increment(msg.ID)
			return nil
		}

		uploaded++
		bar.Increment(msg.ID)
		return nil
	})

	bar.Stop(uploaded, skipped, failed)
	logger.Info("mbox import finished", "uploaded", uploaded, "skipped", skipped, "failed", failed)
	return err
}

// streamMbox hands every raw message of the mbox file to fn in order.
func streamMbox(path string, fn func(idx int, raw []byte) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return fmt.Errorf("message %d read: %w", idx, err)
		}

		if err := fn(idx, raw); err != nil {
			return err
		}
	}
}

func countMboxMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			count++
			continue
		}
		count++
	}
}

func parseImportMessage(raw []byte) (model.ImportMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return model.ImportMessage{}, err
	}

	id := strings.TrimSpace(msg.Header.Get("Message-Id"))
	if id == "" {
		id = strings.TrimSpace(msg.Header.Get("Message-ID"))
	}
	id = strings.Trim(id, " <>")
	if id == "" {
		return model.ImportMessage{}, errors.New("missing Message-Id header")
	}

	var receivedAt time.Time
	if date := msg.Header.Get("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			receivedAt = t
		}
	}

	return model.ImportMessage{ID: id, ReceivedAt: receivedAt, Raw: raw}, nil
}

type importFilter struct {
	includeMode   bool
	excludeMode   bool
	includeHeader []*regexp.Regexp
	includeBody   []*regexp.Regexp
	excludeHeader []*regexp.Regexp
	excludeBody   []*regexp.Regexp
}

func newImportFilter(opts importOptions) (*importFilter, error) {
	includeHeader, err := compilePatterns(opts.IncludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile include-header pattern: %w", err)
	}
	includeBody, err := compilePatterns(opts.IncludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile include-body pattern: %w", err)
	}
	excludeHeader, err := compilePatterns(opts.ExcludeHeader)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-header pattern: %w", err)
	}
	excludeBody, err := compilePatterns(opts.ExcludeBody)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-body pattern: %w", err)
	}

	includeActive := len(includeHeader) > 0 || len(includeBody) > 0
	excludeActive := len(excludeHeader) > 0 || len(excludeBody) > 0
	if includeActive && excludeActive {
		return nil, errImportFilterConflict
	}

	return &importFilter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeHeader: includeHeader,
		includeBody:   includeBody,
		excludeHeader: excludeHeader,
		excludeBody:   excludeBody,
	}, nil
}

func (f *importFilter) allows(header, body []byte) bool {
	if f.includeMode {
		return matchAny(f.includeHeader, string(header)) || matchAny(f.includeBody, string(body))
	}
	if f.excludeMode {
		if matchAny(f.excludeHeader, string(header)) || matchAny(f.excludeBody, string(body)) {
			return false
		}
	}
	return true
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func splitRawMessage(raw []byte) (header, body []byte) {
	if len(raw) == 0 {
		return nil, nil
	}
	if idx := bytes.Index(raw, []byte("\r\n\r\n")); idx >= 0 {
		return raw[:idx], raw[idx+4:]
	}
	if idx := bytes.Index(raw, []byte("\n\n")); idx >= 0 {
		return raw[:idx], raw[idx+2:]
	}
	return raw, nil
}
