package mailstore

import (
	"sort"
	"strings"

	"github.com/emersion/go-message/mail"
)

// AddressOf extracts the bare lower-cased address from a recipient entry
// such as "Bob <bob@example.com>".
func AddressOf(entry string) string {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return ""
	}
	if a, err := mail.ParseAddress(entry); err == nil {
		return strings.ToLower(a.Address)
	}
	if i := strings.LastIndexByte(entry, '<'); i >= 0 {
		if j := strings.IndexByte(entry[i:], '>'); j > 0 {
			return strings.ToLower(strings.TrimSpace(entry[i+1 : i+j]))
		}
	}
	return strings.ToLower(entry)
}

// DomainOf returns the lower-cased domain of an address, or "".
func DomainOf(addr string) string {
	addr = AddressOf(addr)
	i := strings.LastIndexByte(addr, '@')
	if i < 0 || i == len(addr)-1 {
		return ""
	}
	return addr[i+1:]
}

// RecipientDomainsOf computes the sorted, de-duplicated domain set of the
// To and Cc recipients of m. It never returns nil.
func RecipientDomainsOf(m *Message) []string {
	seen := make(map[string]bool)
	domains := []string{}
	for _, list := range [][]string{m.To, m.Cc} {
		for _, r := range list {
			d := DomainOf(r)
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)
	return domains
}

// Participants returns the lower-cased addresses of the sender and all
// recipients of m, in first-seen order.
func Participants(m *Message) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(entry string) {
		a := AddressOf(entry)
		if a == "" || seen[a] {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	add(m.SenderEmail)
	for _, r := range m.To {
		add(r)
	}
	for _, r := range m.Cc {
		add(r)
	}
	return out
}
