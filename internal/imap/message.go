package imap

import (
	"bufio"
	"bytes"
	"fmt"
	"sort"
	"strings"

	imap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/textutil"
)

// domainKeywordPrefix marks keywords that carry the recipient-domain
// field. A bare prefix records an empty domain set.
const domainKeywordPrefix = "mailtrail-rd:"

const previewLen = 500

var (
	threadHeaderSection = &imap.FetchItemBodySection{
		Specifier:    imap.PartSpecifierHeader,
		HeaderFields: []string{"References", "Thread-Topic"},
		Peek:         true,
	}
	previewSection = &imap.FetchItemBodySection{
		Specifier: imap.PartSpecifierText,
		Partial:   &imap.SectionPartial{Offset: 0, Size: 4096},
		Peek:      true,
	}
	fullSection = &imap.FetchItemBodySection{Peek: true}
)

func listFetchOptions() *imap.FetchOptions {
	return &imap.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		Envelope:     true,
		BodySection:  []*imap.FetchItemBodySection{threadHeaderSection, previewSection},
	}
}

// toMessage converts a fetched message into the store model.
func toMessage(mailbox string, folder mailstore.Folder, buf *imapclient.FetchMessageBuffer) (*mailstore.Message, error) {
	env := buf.Envelope
	if env == nil {
		return nil, fmt.Errorf("uid %d: missing envelope", buf.UID)
	}

	m := &mailstore.Message{
		ID:                compositeID(mailbox, buf.UID),
		InternetMessageID: strings.Trim(env.MessageID, "<>"),
		Subject:           textutil.EnsureUTF8(env.Subject),
		Received:          buf.InternalDate.UTC(),
		Direction:         folder.Direction(),
		Folder:            string(folder),
	}
	if m.Received.IsZero() {
		m.Received = env.Date.UTC()
	}
	if len(env.From) > 0 {
		m.SenderName = env.From[0].Name
		m.SenderEmail = strings.ToLower(env.From[0].Addr())
		m.SenderDomain = mailstore.DomainOf(m.SenderEmail)
	}
	m.To = formatAddrs(env.To)
	m.Cc = formatAddrs(env.Cc)

	refs, topic := threadHeaders(buf.FindBodySection(threadHeaderSection))
	switch {
	case len(refs) > 0:
		m.ConversationID = refs[0]
	case len(env.InReplyTo) > 0:
		m.ConversationID = strings.Trim(env.InReplyTo[0], "<>")
	default:
		m.ConversationID = m.InternetMessageID
	}
	if topic == "" {
		topic = m.Subject
	}
	m.ConversationTopic = filter.NormalizeTopic(topic)

	m.Tags, m.RecipientDomains = splitKeywords(buf.Flags)
	if text := buf.FindBodySection(previewSection); len(text) > 0 {
		m.Preview = textutil.Preview(string(text), previewLen)
	}
	return m, nil
}

func formatAddrs(addrs []imap.Address) []string {
	var out []string
	for _, a := range addrs {
		addr := a.Addr()
		if addr == "" {
			continue
		}
		if a.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", a.Name, strings.ToLower(addr)))
		} else {
			out = append(out, strings.ToLower(addr))
		}
	}
	return out
}

// threadHeaders extracts References and Thread-Topic from a header block.
func threadHeaders(raw []byte) (refs []string, topic string) {
	if len(raw) == 0 {
		return nil, ""
	}
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, ""
	}
	mh := mail.Header{Header: message.Header{Header: h}}
	refs, _ = mh.MsgIDList("References")
	topic, _ = mh.Text("Thread-Topic")
	return refs, textutil.EnsureUTF8(topic)
}

// splitKeywords separates user keywords (tags) from recipient-domain
// keywords. System flags are ignored. domains is nil when no domain
// keyword is present.
func splitKeywords(flags []imap.Flag) (tags, domains []string) {
	for _, f := range flags {
		s := string(f)
		switch {
		case strings.HasPrefix(s, `\`):
		case strings.HasPrefix(s, domainKeywordPrefix):
			if domains == nil {
				domains = []string{}
			}
			if d := strings.TrimPrefix(s, domainKeywordPrefix); d != "" {
				domains = append(domains, d)
			}
		default:
			tags = append(tags, s)
		}
	}
	sort.Strings(tags)
	sort.Strings(domains)
	return tags, domains
}

func domainKeywords(domains []string) []imap.Flag {
	if len(domains) == 0 {
		return []imap.Flag{imap.Flag(domainKeywordPrefix)}
	}
	out := make([]imap.Flag, len(domains))
	for i, d := range domains {
		out[i] = imap.Flag(domainKeywordPrefix + d)
	}
	return out
}

func isDomainKeyword(f imap.Flag) bool {
	return strings.HasPrefix(string(f), domainKeywordPrefix)
}

func isTagKeyword(f imap.Flag) bool {
	s := string(f)
	return !strings.HasPrefix(s, `\`) && !isDomainKeyword(f)
}
