// Package email builds raw RFC 5322 messages and mbox exports for tests.
package email

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"
)

// Attachment is a file part added to a multipart message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type field struct{ key, value string }

// MessageBuilder assembles a message with \n line endings.
type MessageBuilder struct {
	from, to, cc string
	subject      *string
	date         string
	contentType  string
	body         string
	extra        []field
	attachments  []Attachment
}

// NewMessage returns a plain-text message with fixed defaults.
func NewMessage() *MessageBuilder {
	subject := "Test Message"
	return &MessageBuilder{
		from:    "sender@example.com",
		to:      "recipient@example.com",
		subject: &subject,
		date:    "Mon, 01 Jan 2024 12:00:00 +0000",
		body:    "This is a test message body.",
	}
}

func (b *MessageBuilder) From(v string) *MessageBuilder { b.from = v; return b }
func (b *MessageBuilder) To(v string) *MessageBuilder   { b.to = v; return b }
func (b *MessageBuilder) Cc(v string) *MessageBuilder   { b.cc = v; return b }
func (b *MessageBuilder) Body(v string) *MessageBuilder { b.body = v; return b }

// Date sets the Date header; empty omits it.
func (b *MessageBuilder) Date(v string) *MessageBuilder { b.date = v; return b }

func (b *MessageBuilder) Subject(v string) *MessageBuilder { b.subject = &v; return b }

// NoSubject omits the Subject header.
func (b *MessageBuilder) NoSubject() *MessageBuilder { b.subject = nil; return b }

// ContentType overrides the body type of a single-part message.
func (b *MessageBuilder) ContentType(v string) *MessageBuilder { b.contentType = v; return b }

// Header appends a header after the standard ones, in call order.
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.extra = append(b.extra, field{key, value})
	return b
}

func (b *MessageBuilder) MessageID(v string) *MessageBuilder  { return b.Header("Message-ID", v) }
func (b *MessageBuilder) InReplyTo(v string) *MessageBuilder  { return b.Header("In-Reply-To", v) }
func (b *MessageBuilder) References(v string) *MessageBuilder { return b.Header("References", v) }

// ReplyTo makes b a reply to parent: threading headers point at the parent's
// Message-ID, the subject gains "RE: " and From/To are swapped.
func (b *MessageBuilder) ReplyTo(parent *MessageBuilder) *MessageBuilder {
	b.from, b.to = parent.to, parent.from
	if parent.subject != nil {
		b.Subject("RE: " + *parent.subject)
	}
	id := parent.header("Message-ID")
	if id == "" {
		return b
	}
	refs := strings.TrimSpace(parent.header("References") + " " + id)
	return b.InReplyTo(id).References(refs)
}

func (b *MessageBuilder) header(key string) string {
	for _, f := range b.extra {
		if strings.EqualFold(f.key, key) {
			return f.value
		}
	}
	return ""
}

// WithAttachment adds a base64 encoded attachment part.
func (b *MessageBuilder) WithAttachment(filename, contentType string, data []byte) *MessageBuilder {
	b.attachments = append(b.attachments, Attachment{Filename: filename, ContentType: contentType, Data: data})
	return b
}

// Bytes renders the message.
func (b *MessageBuilder) Bytes() []byte {
	var buf bytes.Buffer
	hdr := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\n", k, v) }

	hdr("From", b.from)
	hdr("To", b.to)
	if b.cc != "" {
		hdr("Cc", b.cc)
	}
	if b.subject != nil {
		hdr("Subject", *b.subject)
	}
	if b.date != "" {
		hdr("Date", b.date)
	}
	for _, f := range b.extra {
		hdr(f.key, f.value)
	}

	if len(b.attachments) == 0 {
		ct := b.contentType
		if ct == "" {
			ct = `text/plain; charset="utf-8"`
		}
		hdr("Content-Type", ct)
		buf.WriteString("\n" + b.body + "\n")
		return buf.Bytes()
	}

	const boundary = "mailtrail-part"
	hdr("MIME-Version", "1.0")
	hdr("Content-Type", fmt.Sprintf("multipart/mixed; boundary=%q", boundary))
	fmt.Fprintf(&buf, "\n--%s\nContent-Type: text/plain; charset=\"utf-8\"\n\n%s\n", boundary, b.body)
	for _, att := range b.attachments {
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		fmt.Fprintf(&buf, "--%s\n", boundary)
		hdr("Content-Type", fmt.Sprintf("%s; name=%q", ct, att.Filename))
		hdr("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))
		hdr("Content-Transfer-Encoding", "base64")
		buf.WriteString("\n" + base64.StdEncoding.EncodeToString(att.Data) + "\n")
	}
	fmt.Fprintf(&buf, "--%s--\n", boundary)
	return buf.Bytes()
}

// Mbox joins raw messages into an mboxrd export. Body lines that start with
// "From " (after any '>' quoting) gain one more '>'.
func Mbox(msgs ...[]byte) []byte {
	var buf bytes.Buffer
	for _, m := range msgs {
		buf.WriteString("From someone@example.com Tue Mar 12 09:30:00 2024\n")
		sc := bufio.NewScanner(bytes.NewReader(m))
		sc.Buffer(make([]byte, 0, 64*1024), len(m)+1)
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(strings.TrimLeft(line, ">"), "From ") {
				buf.WriteByte('>')
			}
			buf.WriteString(line + "\n")
		}
		buf.WriteString("\n")
	}
	return buf.Bytes()
}
