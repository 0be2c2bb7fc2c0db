package mailout

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"mailticket/correlate"
	"mailticket/hashid"
	"mailticket/mailparse"
	"mailticket/model"
)

func testExporter(t *testing.T) *Exporter {
	t.Helper()
	e, err := New(Options{
		Host:          "smtp.example.com",
		Port:          587,
		Username:      "tickets@example.com",
		Password:      "secret",
		TicketAddress: "tickets@example.com",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e
}

func originalMail(t *testing.T) *mailparse.Mail {
	t.Helper()
	raw := strings.ReplaceAll(`From: Alice <alice@example.com>
To: tickets@example.com
Cc: bob@example.com
Subject: Printer broken
Message-ID: <orig-1@example.com>

the printer is on fire
`, "\n", "\r\n")
	m, err := mailparse.Parse(42, []byte(raw))
	if err != nil {
		t.Fatalf("mailparse.Parse() error = %v", err)
	}
	return m
}

var threadIdentity = model.TicketIdentity{
	SequenceNumber: 42,
	Token:          "AB12CD",
	PrefixedToken:  "JI-AB12CD",
}

func TestBuildThreadStarter_HeadersAndRecipients(t *testing.T) {
	e := testExporter(t)

	raw, recipients, err := e.BuildThreadStarter(originalMail(t), threadIdentity)
	if err != nil {
		t.Fatalf("BuildThreadStarter() error = %v", err)
	}

	confirmation, err := mailparse.Parse(0, raw)
	if err != nil {
		t.Fatalf("confirmation does not parse back: %v", err)
	}

	if confirmation.Subject != "[#JI-AB12CD] Printer broken" {
		t.Errorf("Subject = %q", confirmation.Subject)
	}
	if got := confirmation.Header.Get(correlate.HeaderToken); got != "AB12CD" {
		t.Errorf("%s = %q", correlate.HeaderToken, got)
	}
	if confirmation.InReplyTo != "orig-1@example.com" {
		t.Errorf("In-Reply-To = %q", confirmation.InReplyTo)
	}
	initial := confirmation.Header.Get(correlate.HeaderInitialReplyID)
	if strings.Trim(initial, "<>") != "orig-1@example.com" {
		t.Errorf("%s = %q", correlate.HeaderInitialReplyID, initial)
	}

	wantRecipients := map[string]bool{
		"alice@example.com":   true,
		"tickets@example.com": true,
		"bob@example.com":     true,
	}
	if len(recipients) != len(wantRecipients) {
		t.Fatalf("recipients = %v", recipients)
	}
	for _, r := range recipients {
		if !wantRecipients[r] {
			t.Errorf("unexpected recipient %q", r)
		}
	}

	if body := confirmation.RenderBody(); !strings.Contains(body, "JI-AB12CD") {
		t.Errorf("body = %q, want ticket id embedded", body)
	}
}

// The confirmation must be recognizable as our own echo once it is
// fetched back from the inbox.
func TestBuildThreadStarter_EchoRoundTrip(t *testing.T) {
	e := testExporter(t)

	codec, err := hashid.New(hashid.Options{
		Salt:      "TestSalt",
		Alphabet:  "ABCDEFGHIJKLMNOPQRSTUVWXYZ1234567890",
		MinLength: 6,
	})
	if err != nil {
		t.Fatalf("hashid.New() error = %v", err)
	}
	token, err := codec.Encode(42)
	if err != nil {
		t.Fatalf("Encode error = %v", err)
	}
	identity := model.TicketIdentity{SequenceNumber: 42, Token: token, PrefixedToken: "JI-" + token}

	raw, _, err := e.BuildThreadStarter(originalMail(t), identity)
	if err != nil {
		t.Fatalf("BuildThreadStarter() error = %v", err)
	}

	echo, err := mailparse.Parse(77, raw)
	if err != nil {
		t.Fatalf("parse confirmation: %v", err)
	}

	c, err := correlate.New(correlate.Options{
		Codec:         codec,
		Prefix:        "JI-",
		TicketAddress: "tickets@example.com",
	})
	if err != nil {
		t.Fatalf("correlate.New() error = %v", err)
	}

	gotIdentity, corr, err := c.Correlate(echo)
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}
	if corr != model.EchoIgnore {
		t.Errorf("correlation = %v, want echo-ignore", corr)
	}
	if gotIdentity.SequenceNumber != 42 {
		t.Errorf("SequenceNumber = %d, want identity recovered from echo", gotIdentity.SequenceNumber)
	}
}

func TestNew_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		opts Options
	}{
		{"missing host", Options{Port: 587, TicketAddress: "t@e.com"}},
		{"bad port", Options{Host: "h", Port: 0, TicketAddress: "t@e.com"}},
		{"missing ticket address", Options{Host: "h", Port: 587}},
		{"missing template file", Options{Host: "h", Port: 587, TicketAddress: "t@e.com", TemplatePath: "/does/not/exist.html"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts, logger); err == nil {
				t.Errorf("New(%+v) expected error", tt.opts)
			}
		})
	}
}
