// Package mime parses raw RFC 5322 messages into the fields the mirror
// stores, using enmime for MIME structure.
package mime

import (
	"bytes"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/jhillyerd/enmime"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/textutil"
)

// Message is a parsed email.
type Message struct {
	MessageID  string
	InReplyTo  string
	References []string
	Subject    string
	// ThreadTopic is the Thread-Topic header when present.
	ThreadTopic string
	Date        time.Time
	From        Address
	To          []Address
	Cc          []Address
	BodyText    string
	BodyHTML    string
	Attachments []Attachment
	// Warnings holds non-fatal parse problems reported by enmime.
	Warnings []string
}

// Address is one mailbox of an address header.
type Address struct {
	Name  string
	Email string
}

// String formats a as "Name <email>", or the bare email.
func (a Address) String() string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Attachment describes a non-body MIME part.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Inline      bool
}

// Parse parses raw message bytes.
func Parse(raw []byte) (*Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	msg := &Message{
		MessageID:   trimAngle(env.GetHeader("Message-ID")),
		InReplyTo:   firstRef(env.GetHeader("In-Reply-To")),
		References:  parseReferences(env.GetHeader("References")),
		Subject:     textutil.EnsureUTF8(env.GetHeader("Subject")),
		ThreadTopic: textutil.EnsureUTF8(env.GetHeader("Thread-Topic")),
		BodyText:    textutil.EnsureUTF8(env.Text),
		BodyHTML:    env.HTML,
	}
	if d := env.GetHeader("Date"); d != "" {
		msg.Date = ParseDate(d)
	}
	if from := addressList(env, "From"); len(from) > 0 {
		msg.From = from[0]
	}
	msg.To = addressList(env, "To")
	msg.Cc = addressList(env, "Cc")

	msg.Attachments = append(msg.Attachments, attachments(env.Attachments, false)...)
	msg.Attachments = append(msg.Attachments, attachments(env.Inlines, true)...)

	for _, e := range env.Errors {
		msg.Warnings = append(msg.Warnings, e.Error())
	}
	return msg, nil
}

// ConversationID returns the id shared by every message of a thread: the
// root of the References chain, else In-Reply-To, else the message's own
// Message-ID.
func (m *Message) ConversationID() string {
	if len(m.References) > 0 {
		return m.References[0]
	}
	if m.InReplyTo != "" {
		return m.InReplyTo
	}
	return m.MessageID
}

// Topic returns the normalized conversation topic.
func (m *Message) Topic() string {
	if m.ThreadTopic != "" {
		return filter.NormalizeTopic(m.ThreadTopic)
	}
	return filter.NormalizeTopic(m.Subject)
}

// Body returns the plain-text body, falling back to stripped HTML.
func (m *Message) Body() string {
	if strings.TrimSpace(m.BodyText) != "" {
		return m.BodyText
	}
	if m.BodyHTML != "" {
		return StripHTML(textutil.EnsureUTF8(m.BodyHTML))
	}
	return ""
}

func addressList(env *enmime.Envelope, header string) []Address {
	list, err := env.AddressList(header)
	if err != nil {
		return nil
	}
	var out []Address
	for _, a := range list {
		if a.Address == "" {
			continue
		}
		out = append(out, Address{Name: a.Name, Email: strings.ToLower(a.Address)})
	}
	return out
}

// isBodyPart reports whether part is text body content rather than an
// attachment: text/plain or text/html with no filename and no explicit
// attachment disposition.
func isBodyPart(part *enmime.Part) bool {
	ct := strings.ToLower(part.ContentType)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct != "text/plain" && ct != "text/html" {
		return false
	}
	if part.FileName != "" {
		return false
	}
	disp := strings.ToLower(part.Disposition)
	if i := strings.IndexByte(disp, ';'); i >= 0 {
		disp = strings.TrimSpace(disp[:i])
	}
	return disp != "attachment"
}

func attachments(parts []*enmime.Part, inline bool) []Attachment {
	var out []Attachment
	for _, p := range parts {
		if isBodyPart(p) {
			continue
		}
		out = append(out, Attachment{
			Filename:    p.FileName,
			ContentType: p.ContentType,
			Size:        len(p.Content),
			Inline:      inline,
		})
	}
	return out
}

func trimAngle(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func firstRef(s string) string {
	refs := parseReferences(s)
	if len(refs) == 0 {
		return ""
	}
	return refs[0]
}

// parseReferences splits a References-style header into message ids.
func parseReferences(refs string) []string {
	var out []string
	for _, ref := range strings.Fields(refs) {
		if ref = strings.Trim(ref, "<>,"); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

var dateFormats = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"02 Jan 2006 15:04:05 -0700",
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

// ParseDate parses a Date header in the common formats seen in mail and
// returns it in UTC. Unparseable input yields the zero time.
func ParseDate(s string) time.Time {
	s = strings.Join(strings.Fields(s), " ")
	if i := strings.LastIndexByte(s, '('); i > 0 {
		s = strings.TrimSpace(s[:i])
	}
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

var (
	blockTagRe  = regexp.MustCompile(`(?i)<(/?)(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|ul|ol)[^>]*>`)
	scriptTagRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTagRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	headTagRe   = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	anyTagRe    = regexp.MustCompile(`<[^>]*>`)
)

// StripHTML reduces an HTML body to readable plain text.
func StripHTML(raw string) string {
	text := scriptTagRe.ReplaceAllString(raw, "")
	text = styleTagRe.ReplaceAllString(text, "")
	text = headTagRe.ReplaceAllString(text, "")
	text = blockTagRe.ReplaceAllString(text, "\n")
	text = anyTagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\u00a0", " ")

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []string
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
