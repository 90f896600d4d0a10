package mime

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	testemail "github.com/wesm/mailtrail/internal/testutil/email"
)

func mustParse(t *testing.T, raw []byte) *Message {
	t.Helper()
	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	return msg
}

func TestParse_Basic(t *testing.T) {
	raw := testemail.NewMessage().
		From(`"Alice Smith" <Alice@Acme.com>`).
		To("Bob <bob@other.org>, carol@partner.net").
		Cc("dave@acme.com").
		Subject("RE: Budget").
		Date("Tue, 12 Mar 2024 09:30:00 -0500").
		MessageID("<m2@acme.com>").
		InReplyTo("<m1@acme.com>").
		References("<m0@acme.com> <m1@acme.com>").
		Body("Sounds good.").
		Bytes()

	msg := mustParse(t, raw)

	if msg.From != (Address{Name: "Alice Smith", Email: "alice@acme.com"}) {
		t.Errorf("From = %+v", msg.From)
	}
	wantTo := []Address{{Name: "Bob", Email: "bob@other.org"}, {Email: "carol@partner.net"}}
	if diff := cmp.Diff(wantTo, msg.To); diff != "" {
		t.Errorf("To mismatch (-want +got):\n%s", diff)
	}
	if len(msg.Cc) != 1 || msg.Cc[0].Email != "dave@acme.com" {
		t.Errorf("Cc = %+v", msg.Cc)
	}
	if want := time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC); !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if msg.MessageID != "m2@acme.com" || msg.InReplyTo != "m1@acme.com" {
		t.Errorf("ids = %q / %q", msg.MessageID, msg.InReplyTo)
	}
	if got := msg.ConversationID(); got != "m0@acme.com" {
		t.Errorf("ConversationID() = %q, want root reference", got)
	}
	if got := msg.Topic(); got != "Budget" {
		t.Errorf("Topic() = %q, want %q", got, "Budget")
	}
	if got := msg.Body(); got != "Sounds good.\n" && got != "Sounds good." {
		t.Errorf("Body() = %q", got)
	}
}

func TestConversationID(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"references root", Message{MessageID: "c", InReplyTo: "b", References: []string{"a", "b"}}, "a"},
		{"in-reply-to", Message{MessageID: "c", InReplyTo: "b"}, "b"},
		{"own id", Message{MessageID: "c"}, "c"},
		{"none", Message{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.ConversationID(); got != tt.want {
				t.Errorf("ConversationID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTopic_PrefersThreadTopic(t *testing.T) {
	raw := testemail.NewMessage().
		Subject("Fwd: RE: Renewal [ticket 4]").
		Header("Thread-Topic", "Renewal").
		Bytes()
	if got := mustParse(t, raw).Topic(); got != "Renewal" {
		t.Errorf("Topic() = %q, want %q", got, "Renewal")
	}
}

func TestParse_Attachments(t *testing.T) {
	raw := testemail.NewMessage().
		Body("See attached.").
		WithAttachment("report.pdf", "application/pdf", []byte("%PDF-1.4")).
		WithAttachment("notes.txt", "text/plain", []byte("notes")).
		Bytes()

	msg := mustParse(t, raw)
	if len(msg.Attachments) != 2 {
		t.Fatalf("got %d attachments, want 2: %+v", len(msg.Attachments), msg.Attachments)
	}
	if msg.Attachments[0].Filename != "report.pdf" || msg.Attachments[0].Size != 8 {
		t.Errorf("first attachment = %+v", msg.Attachments[0])
	}
	if msg.Attachments[1].Filename != "notes.txt" {
		t.Errorf("text attachment with filename should be kept, got %+v", msg.Attachments[1])
	}
}

func TestParse_HTMLOnlyBody(t *testing.T) {
	raw := testemail.NewMessage().
		ContentType(`text/html; charset="utf-8"`).
		Body("<p>Hello</p><p>World &amp; co</p>").
		Bytes()
	got := mustParse(t, raw).Body()
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "World & co") || strings.Contains(got, "<p>") {
		t.Errorf("Body() = %q", got)
	}
}

func TestParse_Latin1Charset(t *testing.T) {
	raw := testemail.NewMessage().
		ContentType("text/plain; charset=iso-8859-1").
		Body("Caf\xe9").
		Bytes()
	msg := mustParse(t, raw)
	if msg.BodyText != "Café\n" && msg.BodyText != "Café" {
		t.Errorf("BodyText = %q", msg.BodyText)
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"RFC1123Z", "Mon, 02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"no weekday", "02 Jan 2006 15:04:05 -0700", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"parenthesized zone", "Mon, 02 Jan 2006 15:04:05 -0700 (PST)", time.Date(2006, 1, 2, 22, 4, 5, 0, time.UTC)},
		{"double space", "Mon,  2 Dec 2024 11:42:03 +0000 (UTC)", time.Date(2024, 12, 2, 11, 42, 3, 0, time.UTC)},
		{"ISO 8601", "2006-01-02T15:04:05Z", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"SQL-like", "2006-01-02 15:04:05", time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC)},
		{"empty", "", time.Time{}},
		{"garbage", "not a date", time.Time{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseDate(tc.input)
			if !got.Equal(tc.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"paragraph", "<p>Hello</p>", "Hello"},
		{"inline_tags", "<b>Bold</b> and <i>italic</i>", "Bold and italic"},
		{"script_removed", "<script>alert('x')</script>Text", "Text"},
		{"style_removed", "<style>.c{color:red}</style>Content", "Content"},
		{"entities", "Tom &amp; Jerry&nbsp;&lt;3", "Tom & Jerry <3"},
		{"br_tag", "Line1<br>Line2", "Line1\nLine2"},
		{"paragraph_breaks", "<p>Para1</p><p>Para2</p>", "Para1\n\nPara2"},
		{"collapse_newlines", "Multiple\n\n\n\nNewlines", "Multiple\n\nNewlines"},
		{"spaces", "Hello    World", "Hello World"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := StripHTML(tc.input); got != tc.want {
				t.Errorf("StripHTML() = %q, want %q", got, tc.want)
			}
		})
	}
}
