// Package mailparse turns raw RFC 5322 bytes into an immutable view of the
// headers and text content the ticket pipeline needs.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jaytaylor/html2text"
)

// NoTextContent is rendered when a mail carries no text part at all.
const NoTextContent = "Mail contains no text content"

// MIME trees are finite, but a hostile message can nest deeply.
const maxPartDepth = 32

// Mail is one parsed inbox message. Immutable once constructed.
type Mail struct {
	UID    uint32
	Header mail.Header

	Subject    string
	FromHeader string
	FromAddrs  []*mail.Address
	CCAddrs    []*mail.Address
	MessageID  string
	InReplyTo  string

	parts *TextParts
}

// Parse reads a raw message fetched under the given mailbox UID. An
// unparseable MIME structure degrades to a mail without text content
// rather than failing; only a completely unreadable header errors.
func Parse(uid uint32, raw []byte) (*Mail, error) {
	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse mail: %w", err)
	}

	header := mail.Header{Header: ent.Header}

	m := &Mail{
		UID:        uid,
		Header:     header,
		FromHeader: ent.Header.Get("From"),
		parts:      newTextParts(),
	}

	if subject, err := header.Subject(); err == nil {
		m.Subject = subject
	} else {
		m.Subject = ent.Header.Get("Subject")
	}
	if from, err := header.AddressList("From"); err == nil {
		m.FromAddrs = from
	}
	if cc, err := header.AddressList("Cc"); err == nil {
		m.CCAddrs = cc
	}
	if id, err := header.MessageID(); err == nil {
		m.MessageID = id
	}
	if ids, err := header.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		m.InReplyTo = ids[0]
	}

	collectText(ent, m.parts, 0)

	return m, nil
}

// FromAddr returns the addr-spec of the first From address, or the raw
// header when the address list could not be parsed.
func (m *Mail) FromAddr() string {
	if len(m.FromAddrs) > 0 {
		return m.FromAddrs[0].Address
	}
	return strings.TrimSpace(m.FromHeader)
}

// TextParts returns the decoded text content found in the part tree.
func (m *Mail) TextParts() *TextParts {
	return m.parts
}

// RenderBody produces the tracker-ready text body: the plain part verbatim
// when present, else the html part rendered to text, else the first text
// part seen, else a fixed sentinel.
func (m *Mail) RenderBody() string {
	return Render(m.parts)
}

// TextParts maps MIME subtypes to decoded text, preserving the order in
// which subtypes were first seen. A repeated subtype overwrites the
// earlier text but keeps its position (last-wins).
type TextParts struct {
	order []string
	text  map[string]string
}

func newTextParts() *TextParts {
	return &TextParts{text: make(map[string]string)}
}

// Set records decoded text for a subtype.
func (p *TextParts) Set(subtype, text string) {
	if _, ok := p.text[subtype]; !ok {
		p.order = append(p.order, subtype)
	}
	p.text[subtype] = text
}

// Get returns the text for a subtype.
func (p *TextParts) Get(subtype string) (string, bool) {
	text, ok := p.text[subtype]
	return text, ok
}

// Subtypes lists the recorded subtypes in first-seen order.
func (p *TextParts) Subtypes() []string {
	return p.order
}

// Len returns the number of recorded subtypes.
func (p *TextParts) Len() int {
	return len(p.order)
}

// html2text renders every source line followed by a blank line; collapsing
// each single interior blank line turns that back into readable paragraphs.
var singleBlankLine = regexp.MustCompile("(\n[^\n]*?)\n")

// Render applies the body priority rule to extracted text parts.
func Render(parts *TextParts) string {
	if text, ok := parts.Get("plain"); ok {
		return text
	}
	if html, ok := parts.Get("html"); ok {
		if rendered, err := html2text.FromString(html, html2text.Options{}); err == nil {
			return singleBlankLine.ReplaceAllString(rendered, "$1")
		}
	}
	for _, subtype := range parts.Subtypes() {
		if text, ok := parts.Get(subtype); ok {
			return text
		}
	}
	return NoTextContent
}

func collectText(ent *message.Entity, parts *TextParts, depth int) {
	if depth > maxPartDepth {
		return
	}

	if mr := ent.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return
			}
			if err != nil && !message.IsUnknownCharset(err) {
				return
			}
			collectText(part, parts, depth+1)
		}
	}

	mediaType, _, err := ent.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	if !strings.HasPrefix(mediaType, "text/") {
		return
	}

	body, err := io.ReadAll(ent.Body)
	if err != nil {
		// Undecodable payload contributes nothing; the rest of the
		// message is still usable.
		body = nil
	}
	parts.Set(strings.TrimPrefix(mediaType, "text/"), string(body))
}
