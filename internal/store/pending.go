package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wesm/mailtrail/internal/mailstore"
)

// scannedCTE selects the newest inbox rows considered by CountPending.
const scannedCTE = `scanned AS (
	SELECT m.id, m.subject, m.received_at,
		CASE WHEN m.sender_domain = '' THEN ? ELSE lower(m.sender_domain) END AS domain
	FROM messages m
	WHERE m.folder = 'inbox' AND m.received_at >= ?%s
	ORDER BY m.received_at DESC, m.id DESC
	LIMIT ?
)`

// CountPending implements mailstore.PendingCounter. It groups the untriaged
// messages among the newest q.ScanLimit inbox rows by sender domain.
func (s *Store) CountPending(ctx context.Context, q mailstore.PendingQuery) (*mailstore.PendingSummary, error) {
	if q.ScanLimit <= 0 {
		return nil, fmt.Errorf("count pending: scan limit must be positive")
	}
	domainCond := ""
	cteArgs := []any{mailstore.NoDomain, q.Since.UTC().Format(receivedLayout)}
	if d := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(q.Domain), "@")); d != "" {
		domainCond = ` AND lower(m.sender_domain) = ?`
		cteArgs = append(cteArgs, d)
	}
	cte := fmt.Sprintf(scannedCTE, domainCond)

	summary := &mailstore.PendingSummary{Domains: []mailstore.DomainCount{}}

	// One extra row tells whether the scan was cut short.
	var n int
	countArgs := append(append([]any{}, cteArgs...), q.ScanLimit+1)
	if err := s.db.QueryRowContext(ctx,
		`WITH `+cte+` SELECT COUNT(*) FROM scanned`, countArgs...,
	).Scan(&n); err != nil {
		return nil, fmt.Errorf("count scanned messages: %w", err)
	}
	summary.Scanned = min(n, q.ScanLimit)
	summary.Truncated = n > q.ScanLimit

	rows, err := s.db.QueryContext(ctx, `WITH `+cte+`,
		pending AS (
			SELECT sc.* FROM scanned sc
			WHERE NOT EXISTS (
				SELECT 1 FROM message_tags t
				WHERE t.message_id = sc.id AND substr(t.tag, 1, ?) = ?
			)
		)
		SELECT domain, cnt, latest, subject FROM (
			SELECT p.domain, p.subject,
				COUNT(*) OVER (PARTITION BY p.domain) AS cnt,
				MAX(p.received_at) OVER (PARTITION BY p.domain) AS latest,
				ROW_NUMBER() OVER (PARTITION BY p.domain ORDER BY p.received_at DESC, p.id DESC) AS rn
			FROM pending p
		)
		WHERE rn <= ?
		ORDER BY domain, rn`,
		append(append([]any{}, cteArgs...), q.ScanLimit,
			len(mailstore.TriageTagPrefix), mailstore.TriageTagPrefix,
			mailstore.MaxSampleSubjects)...)
	if err != nil {
		return nil, fmt.Errorf("aggregate pending: %w", err)
	}
	defer rows.Close()

	var cur *mailstore.DomainCount
	for rows.Next() {
		var domain, latest, subject string
		var cnt int
		if err := rows.Scan(&domain, &cnt, &latest, &subject); err != nil {
			return nil, fmt.Errorf("scan pending row: %w", err)
		}
		if cur == nil || cur.Domain != domain {
			t, err := time.Parse(receivedLayout, latest)
			if err != nil {
				return nil, fmt.Errorf("bad received_at %q: %w", latest, err)
			}
			summary.Domains = append(summary.Domains, mailstore.DomainCount{
				Domain: domain, Count: cnt, Latest: t, SampleSubjects: []string{},
			})
			cur = &summary.Domains[len(summary.Domains)-1]
		}
		cur.SampleSubjects = append(cur.SampleSubjects, mailstore.DisplaySubject(subject))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate pending: %w", err)
	}
	mailstore.SortDomainCounts(summary.Domains)
	return summary, nil
}
