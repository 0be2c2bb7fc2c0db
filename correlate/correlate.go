// Package correlate decides whether an inbox mail starts a new ticket, is
// a reply to a known ticket, or is an echo of our own confirmation mail.
package correlate

import (
	"fmt"
	"regexp"
	"strings"

	"mailticket/hashid"
	"mailticket/mailparse"
	"mailticket/model"
)

// Headers written into every confirmation mail and recognized on import.
const (
	// HeaderToken carries the ticket token assigned by this system.
	HeaderToken = "X-Jicket-HashID"
	// HeaderInitialReplyID holds the Message-ID the confirmation replies
	// to. When it equals a mail's own In-Reply-To, that mail is our own
	// confirmation coming back.
	HeaderInitialReplyID = "X-Jicket-Initial-ReplyID"
)

// Options configure a Correlator.
type Options struct {
	Codec         *hashid.Codec
	Prefix        string
	TicketAddress string
}

// Correlator recovers or mints ticket identities for parsed mails.
type Correlator struct {
	codec         *hashid.Codec
	prefix        string
	ticketAddress string
	subjectToken  *regexp.Regexp
}

// New builds a Correlator. The subject pattern matches the literal form
// "[#<prefix><token>]" with a token drawn from the codec's alphabet.
func New(opts Options) (*Correlator, error) {
	if opts.Codec == nil {
		return nil, fmt.Errorf("correlator requires a codec")
	}
	if opts.TicketAddress == "" {
		return nil, fmt.Errorf("correlator requires the ticket mailbox address")
	}

	pattern := fmt.Sprintf(`\[#%s([%s]{%d,}?)\]`,
		regexp.QuoteMeta(opts.Prefix),
		escapeCharClass(opts.Codec.Alphabet()),
		opts.Codec.MinLength())
	subjectToken, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile subject token pattern: %w", err)
	}

	return &Correlator{
		codec:         opts.Codec,
		prefix:        opts.Prefix,
		ticketAddress: opts.TicketAddress,
		subjectToken:  subjectToken,
	}, nil
}

// Correlate derives the ticket identity for a mail and classifies it.
// A token that is present but does not decode is an error: a corrupted or
// forged token must not silently spawn a duplicate ticket.
func (c *Correlator) Correlate(m *mailparse.Mail) (model.TicketIdentity, model.Correlation, error) {
	echo := c.isEcho(m)

	// The header is written by this system and beats any token the sender
	// may have altered in the subject line.
	if token := strings.TrimSpace(m.Header.Get(HeaderToken)); token != "" {
		identity, err := c.identityFromToken(token)
		if err != nil {
			return model.TicketIdentity{}, 0, fmt.Errorf("token header: %w", err)
		}
		return identity, classifyRecovered(echo), nil
	}

	if match := c.subjectToken.FindStringSubmatch(m.Subject); match != nil {
		identity, err := c.identityFromToken(match[1])
		if err != nil {
			return model.TicketIdentity{}, 0, fmt.Errorf("subject token: %w", err)
		}
		return identity, classifyRecovered(echo), nil
	}

	// Mailbox UIDs are unique at fetch time, so a fresh identity minted
	// from the UID cannot collide.
	identity, err := c.mint(m.UID)
	if err != nil {
		return model.TicketIdentity{}, 0, err
	}
	if echo {
		return identity, model.EchoIgnore, nil
	}
	return identity, model.NewTicket, nil
}

func classifyRecovered(echo bool) model.Correlation {
	if echo {
		return model.EchoIgnore
	}
	return model.ExistingReply
}

func (c *Correlator) isEcho(m *mailparse.Mail) bool {
	if initial := normalizeMsgID(m.Header.Get(HeaderInitialReplyID)); initial != "" {
		if initial == normalizeMsgID(m.InReplyTo) {
			return true
		}
	}
	return strings.Contains(m.FromHeader, c.ticketAddress)
}

func (c *Correlator) identityFromToken(token string) (model.TicketIdentity, error) {
	seq, err := c.codec.Decode(token)
	if err != nil {
		return model.TicketIdentity{}, err
	}
	return model.TicketIdentity{
		SequenceNumber: seq,
		Token:          token,
		PrefixedToken:  c.prefix + token,
	}, nil
}

func (c *Correlator) mint(uid uint32) (model.TicketIdentity, error) {
	token, err := c.codec.Encode(int(uid))
	if err != nil {
		return model.TicketIdentity{}, fmt.Errorf("mint identity for uid %d: %w", uid, err)
	}
	return model.TicketIdentity{
		SequenceNumber: int(uid),
		Token:          token,
		PrefixedToken:  c.prefix + token,
	}, nil
}

func normalizeMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// escapeCharClass escapes characters that are special inside a regexp
// character class.
func escapeCharClass(alphabet string) string {
	var b strings.Builder
	for _, r := range alphabet {
		switch r {
		case '\\', ']', '^', '-':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
