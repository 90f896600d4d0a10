package mailstore

import (
	"context"
	"sort"
	"strings"
	"time"
)

// TriageTagPrefix marks the tags owned by triage. A message carrying any
// tag with this prefix has been triaged.
const TriageTagPrefix = "mailtrail:"

// NoDomain groups messages whose sender has no domain.
const NoDomain = "(no domain)"

// MaxSampleSubjects bounds DomainCount.SampleSubjects.
const MaxSampleSubjects = 3

// IsTriaged reports whether tags hold a triage status.
func IsTriaged(tags []string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, TriageTagPrefix) {
			return true
		}
	}
	return false
}

// SenderDomainOf returns the stored sender domain of m, derived from the
// address when unset, or NoDomain.
func SenderDomainOf(m *Message) string {
	d := m.SenderDomain
	if d == "" {
		d = DomainOf(m.SenderEmail)
	}
	if d == "" {
		return NoDomain
	}
	return strings.ToLower(d)
}

// PendingQuery selects the newest inbox messages to aggregate.
type PendingQuery struct {
	Since time.Time
	// Domain restricts the scan to one sender domain when set.
	Domain string
	// ScanLimit caps the number of messages considered, newest first.
	ScanLimit int
}

// DomainCount aggregates the untriaged messages from one sender domain.
type DomainCount struct {
	Domain         string    `json:"domain"`
	Count          int       `json:"count"`
	Latest         time.Time `json:"latest"`
	SampleSubjects []string  `json:"sample_subjects"`
}

// PendingSummary is the result of a pending aggregation. Scanned counts
// every message considered, triaged or not; Truncated is set when the scan
// stopped at its limit.
type PendingSummary struct {
	Domains   []DomainCount
	Scanned   int
	Truncated bool
}

// PendingCounter is implemented by stores that aggregate untriaged mail
// natively. Others are scanned through List.
type PendingCounter interface {
	CountPending(ctx context.Context, q PendingQuery) (*PendingSummary, error)
}

// CountPending groups the untriaged messages of msgs by sender domain.
// msgs must be ordered newest first so samples are the newest subjects.
// Domains are returned by descending count, then most recent message.
func CountPending(msgs []*Message) []DomainCount {
	byDomain := make(map[string]*DomainCount)
	for _, m := range msgs {
		if IsTriaged(m.Tags) {
			continue
		}
		d := SenderDomainOf(m)
		dc, ok := byDomain[d]
		if !ok {
			dc = &DomainCount{Domain: d, SampleSubjects: []string{}}
			byDomain[d] = dc
		}
		dc.Count++
		if m.Received.After(dc.Latest) {
			dc.Latest = m.Received
		}
		if len(dc.SampleSubjects) < MaxSampleSubjects {
			dc.SampleSubjects = append(dc.SampleSubjects, DisplaySubject(m.Subject))
		}
	}
	out := make([]DomainCount, 0, len(byDomain))
	for _, dc := range byDomain {
		out = append(out, *dc)
	}
	SortDomainCounts(out)
	return out
}

// SortDomainCounts orders counts by descending count, then most recent
// message, then domain name.
func SortDomainCounts(counts []DomainCount) {
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.Latest.Equal(b.Latest) {
			return a.Latest.After(b.Latest)
		}
		return a.Domain < b.Domain
	})
}

// DisplaySubject returns s, or a placeholder for an empty subject.
func DisplaySubject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(No Subject)"
	}
	return s
}
