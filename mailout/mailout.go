// Package mailout sends the confirmation mail that starts a ticket's
// email thread. The confirmation carries the correlation headers that let
// its own echo be recognized when it arrives back in the inbox.
package mailout

import (
	"bytes"
	_ "embed"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"mailticket/correlate"
	"mailticket/mailparse"
	"mailticket/model"
)

//go:embed threadtemplate.html
var defaultTemplate string

// Options configure the SMTP connection and the confirmation content.
type Options struct {
	Host          string
	Port          int
	Username      string
	Password      string
	TicketAddress string
	TemplatePath  string
}

// Exporter builds and submits confirmation mails.
type Exporter struct {
	opts   Options
	tmpl   *htmltemplate.Template
	logger *slog.Logger
}

// New loads the confirmation template (falling back to the embedded one)
// and validates the submission options.
func New(opts Options, logger *slog.Logger) (*Exporter, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("smtp host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("smtp port must be positive")
	}
	if opts.TicketAddress == "" {
		return nil, fmt.Errorf("ticket address is empty")
	}

	source := defaultTemplate
	if opts.TemplatePath != "" {
		data, err := os.ReadFile(opts.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("read thread template: %w", err)
		}
		source = string(data)
	}
	tmpl, err := htmltemplate.New("threadstarter").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse thread template: %w", err)
	}

	return &Exporter{opts: opts, tmpl: tmpl, logger: logger}, nil
}

// SendThreadStarter builds the confirmation for a freshly created ticket
// and submits it over SMTP (STARTTLS, PLAIN auth).
func (e *Exporter) SendThreadStarter(m *mailparse.Mail, identity model.TicketIdentity) error {
	raw, recipients, err := e.BuildThreadStarter(m, identity)
	if err != nil {
		return err
	}

	address := net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port))
	auth := sasl.NewPlainClient("", e.opts.Username, e.opts.Password)
	if err := smtp.SendMail(address, auth, e.opts.TicketAddress, recipients, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("send confirmation for %s: %w", identity.PrefixedToken, err)
	}

	e.logger.Info("confirmation sent", "token", identity.PrefixedToken, "to", recipients)
	return nil
}

// BuildThreadStarter renders the confirmation mail for a new ticket and
// returns its raw bytes together with the envelope recipients. The mail
// replies to the original message and goes to its sender, the ticket
// address, and any CC'd addresses, so every involved mailbox learns the
// ticket token.
func (e *Exporter) BuildThreadStarter(m *mailparse.Mail, identity model.TicketIdentity) ([]byte, []string, error) {
	var body bytes.Buffer
	err := e.tmpl.Execute(&body, struct {
		TicketID string
		Subject  string
	}{
		TicketID: identity.PrefixedToken,
		Subject:  m.Subject,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("render thread template: %w", err)
	}

	to := make([]*mail.Address, 0, len(m.FromAddrs)+1)
	to = append(to, m.FromAddrs...)
	to = append(to, &mail.Address{Address: e.opts.TicketAddress})

	var h mail.Header
	h.SetDate(time.Now())
	h.SetAddressList("From", []*mail.Address{{Address: e.opts.TicketAddress}})
	h.SetAddressList("To", to)
	if len(m.CCAddrs) > 0 {
		h.SetAddressList("Cc", m.CCAddrs)
	}
	h.SetSubject(fmt.Sprintf("[#%s] %s", identity.PrefixedToken, m.Subject))
	if m.MessageID != "" {
		h.SetMsgIDList("In-Reply-To", []string{m.MessageID})
		h.Set(correlate.HeaderInitialReplyID, "<"+m.MessageID+">")
	}
	h.Set(correlate.HeaderToken, identity.Token)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})

	var raw bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&raw, h)
	if err != nil {
		return nil, nil, fmt.Errorf("compose confirmation: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		_ = w.Close()
		return nil, nil, fmt.Errorf("write confirmation body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, nil, fmt.Errorf("finish confirmation: %w", err)
	}

	recipients := make([]string, 0, len(to)+len(m.CCAddrs))
	for _, addr := range to {
		recipients = append(recipients, addr.Address)
	}
	for _, addr := range m.CCAddrs {
		recipients = append(recipients, addr.Address)
	}

	return raw.Bytes(), recipients, nil
}
