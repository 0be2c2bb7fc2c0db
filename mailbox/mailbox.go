// Package mailbox is the IMAP collaborator: it lists, fetches, archives
// and appends messages in the ticket folders.
package mailbox

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"mailticket/model"
)

// ErrLogin classifies authentication/connection failures. They are fatal
// for the running cycle and must propagate to the caller.
var ErrLogin = errors.New("imap login failed")

// Options configure the IMAP connection and folders.
type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	InsecureSkipVerify bool
	FolderInbox        string
	FolderSuccess      string
}

// Client wraps one IMAP connection. A connection is held from Login until
// Logout; the orchestrator acquires it per cycle phase.
type Client struct {
	opts     Options
	logger   *slog.Logger
	client   *imapclient.Client
	selected string
}

// New validates the options. No connection is made until Login.
func New(opts Options, logger *slog.Logger) (*Client, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.FolderInbox == "" || opts.FolderSuccess == "" {
		return nil, fmt.Errorf("imap folders must be configured")
	}
	return &Client{opts: opts, logger: logger}, nil
}

// Login dials the server over TLS and authenticates.
func (c *Client) Login() error {
	address := net.JoinHostPort(c.opts.Host, strconv.Itoa(c.opts.Port))
	options := &imapclient.Options{
		TLSConfig: &tls.Config{
			ServerName:         c.opts.Host,
			InsecureSkipVerify: c.opts.InsecureSkipVerify,
		},
	}

	client, err := imapclient.DialTLS(address, options)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrLogin, address, err)
	}
	if err := client.Login(c.opts.Username, c.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: %v", ErrLogin, err)
	}

	c.client = client
	c.selected = ""
	c.logger.Debug("imap connection established", "address", address, "user", c.opts.Username)
	return nil
}

// Logout ends the session and closes the connection.
func (c *Client) Logout() error {
	if c.client == nil {
		return nil
	}
	defer func() {
		_ = c.client.Close()
		c.client = nil
		c.selected = ""
	}()

	if err := c.client.Logout().Wait(); err != nil {
		return fmt.Errorf("imap logout: %w", err)
	}
	return nil
}

// CheckFolders verifies that the configured folders exist. A missing
// folder is a startup-fatal configuration problem.
func (c *Client) CheckFolders() error {
	for _, folder := range []string{c.opts.FolderInbox, c.opts.FolderSuccess} {
		if err := c.selectFolder(folder); err != nil {
			return fmt.Errorf("folder %q not accessible: %w", folder, err)
		}
	}
	return nil
}

// ListUIDs returns the UIDs of every message currently in the inbox.
func (c *Client) ListUIDs() ([]uint32, error) {
	data, err := c.selectData(c.opts.FolderInbox)
	if err != nil {
		return nil, err
	}
	if data.NumMessages == 0 {
		return nil, nil
	}

	searchData, err := c.client.UIDSearch(&imap.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("uid search in %q: %w", c.opts.FolderInbox, err)
	}

	var uids []uint32
	for _, uid := range searchData.AllUIDs() {
		uids = append(uids, uint32(uid))
	}
	return uids, nil
}

// FetchRaw downloads the full raw message for one UID without touching
// its flags.
func (c *Client) FetchRaw(uid uint32) (model.RawMessage, error) {
	if err := c.selectFolder(c.opts.FolderInbox); err != nil {
		return model.RawMessage{}, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := c.client.Fetch(imap.UIDSetNum(imap.UID(uid)), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return model.RawMessage{}, fmt.Errorf("message uid %d not found", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return model.RawMessage{}, fmt.Errorf("collect message uid %d: %w", uid, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return model.RawMessage{}, fmt.Errorf("fetch uid %d: %w", uid, err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return model.RawMessage{}, fmt.Errorf("message uid %d has no body", uid)
	}
	return model.RawMessage{UID: uid, Raw: raw}, nil
}

// Archive copies a message to the success folder, flags the original as
// deleted and expunges it, making it permanently unavailable for re-fetch.
func (c *Client) Archive(uid uint32) error {
	if err := c.selectFolder(c.opts.FolderInbox); err != nil {
		return err
	}

	uidSet := imap.UIDSetNum(imap.UID(uid))

	if _, err := c.client.Copy(uidSet, c.opts.FolderSuccess).Wait(); err != nil {
		return fmt.Errorf("copy uid %d to %q: %w", uid, c.opts.FolderSuccess, err)
	}

	storeCmd := c.client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flag uid %d deleted: %w", uid, err)
	}

	if err := c.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge after uid %d: %w", uid, err)
	}

	c.logger.Debug("archived message", "uid", uid, "folder", c.opts.FolderSuccess)
	return nil
}

// Append uploads a raw message into the given folder. Used by the mbox
// import path.
func (c *Client) Append(folder string, raw []byte, receivedAt time.Time) error {
	var opts *imap.AppendOptions
	if !receivedAt.IsZero() {
		opts = &imap.AppendOptions{Time: receivedAt}
	}

	cmd := c.client.Append(folder, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}
	return nil
}

func (c *Client) selectFolder(folder string) error {
	if c.client != nil && c.selected == folder {
		return nil
	}
	_, err := c.selectData(folder)
	return err
}

func (c *Client) selectData(folder string) (*imap.SelectData, error) {
	if c.client == nil {
		return nil, fmt.Errorf("imap connection not logged in")
	}
	data, err := c.client.Select(folder, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %q: %w", folder, err)
	}
	c.selected = folder
	return data, nil
}
