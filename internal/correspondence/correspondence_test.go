package correspondence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/mailstore/memstore"
)

var now = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

func newSearcher(s *memstore.Store) *Searcher {
	f := fetch.New(fetch.NewSession(mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) {
		return s, nil
	})))
	return NewSearcher(f, NewBackfiller(f, 50)).WithClock(func() time.Time { return now })
}

func inbound(id, sender string, daysAgo int) *mailstore.Message {
	return &mailstore.Message{
		ID:          id,
		SenderEmail: sender,
		Subject:     "hello " + id,
		Received:    now.AddDate(0, 0, -daysAgo),
		To:          []string{"me@home.net"},
	}
}

func outbound(id string, to []string, daysAgo int) *mailstore.Message {
	return &mailstore.Message{
		ID:          id,
		SenderEmail: "me@home.net",
		Subject:     "reply " + id,
		Received:    now.AddDate(0, 0, -daysAgo),
		To:          to,
	}
}

func TestSearchDeduplicatesAcrossScopes(t *testing.T) {
	s := memstore.New()
	for i := 0; i < 4; i++ {
		s.Add(mailstore.FolderInbox, inbound(fmt.Sprintf("in-%d", i), fmt.Sprintf("p%d@acme.com", i), i+1))
	}
	for i := 0; i < 2; i++ {
		s.Add(mailstore.FolderSent, outbound(fmt.Sprintf("out-%d", i), []string{"p0@acme.com"}, i+1))
	}
	// One message reachable through the sender domain, the contact address
	// and the outbound recipient domain.
	shared := &mailstore.Message{
		ID:          "shared",
		SenderEmail: "ceo@acme.com",
		Subject:     "shared",
		Received:    now.AddDate(0, 0, -2),
		To:          []string{"me@home.net", "cfo@acme.com"},
	}
	s.Add(mailstore.FolderInbox, shared)
	s.Add(mailstore.FolderSent, shared)

	res, err := newSearcher(s).Search(context.Background(), Request{
		Domains:  []string{"acme.com"},
		Contacts: []string{"ceo@acme.com"},
		Limit:    100,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	raw := 0
	for _, sc := range res.Scopes {
		raw += sc.Count
	}
	if raw != 9 {
		t.Errorf("raw scope matches = %d, want 9 (scopes %+v)", raw, res.Scopes)
	}
	if len(res.Messages) != 7 {
		t.Errorf("unique count = %d, want 7", len(res.Messages))
	}
	if res.Truncated {
		t.Error("unexpected truncation")
	}
}

func TestSearchMergeOrderAndTruncation(t *testing.T) {
	s := memstore.New()
	domains := []string{"a.com", "b.com", "c.com"}
	for i := 0; i < 25; i++ {
		d := domains[i%3]
		s.Add(mailstore.FolderInbox, inbound(fmt.Sprintf("m%02d", i), fmt.Sprintf("x%d@%s", i, d), i%20+1))
	}

	res, err := newSearcher(s).Search(context.Background(), Request{Domains: domains, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages) != 10 || !res.Truncated {
		t.Fatalf("count=%d truncated=%v, want 10 true", len(res.Messages), res.Truncated)
	}
	// a.com has 9 matches; they are merged before anything from b.com.
	for i, m := range res.Messages {
		want := "a.com"
		if i == 9 {
			want = "b.com"
		}
		if got := mailstore.DomainOf(m.SenderEmail); got != want {
			t.Errorf("message %d (%s) from %s, want domain %s", i, m.ID, got, want)
		}
	}
}

func TestSearchAppliesLookback(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderInbox, inbound("recent", "a@acme.com", 3), inbound("old", "b@acme.com", 90))

	res, err := newSearcher(s).Search(context.Background(), Request{Domains: []string{"acme.com"}, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0].ID != "recent" {
		t.Errorf("messages = %v, want only recent", res.Messages)
	}

	res, err = newSearcher(s).Search(context.Background(), Request{Domains: []string{"acme.com"}, Days: 120, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages) != 2 {
		t.Errorf("with 120 days got %d messages, want 2", len(res.Messages))
	}
}

func TestSearchSkipsFailingScope(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderInbox, inbound("in", "a@acme.com", 1))
	s.FailFolder(mailstore.FolderSent, errors.New("folder unavailable"))

	res, err := newSearcher(s).Search(context.Background(), Request{Domains: []string{"acme.com"}, Limit: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(res.Messages))
	}
	var failed int
	for _, sc := range res.Scopes {
		if sc.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed scopes = %d, want 1", failed)
	}
}

func TestSearchValidation(t *testing.T) {
	sr := newSearcher(memstore.New())
	if _, err := sr.Search(context.Background(), Request{Domains: []string{"a.com"}}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("zero limit err = %v", err)
	}
	if _, err := sr.Search(context.Background(), Request{Domains: []string{" ", "@"}, Limit: 5}); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("empty identifiers err = %v", err)
	}
}

func TestBackfill(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderSent,
		outbound("new", []string{"A@Beta.io", "c@alpha.com"}, 1),
		outbound("done", []string{"x@gamma.org"}, 2),
	)
	if err := s.SetRecipientDomains(context.Background(), "done", []string{"gamma.org"}); err != nil {
		t.Fatal(err)
	}
	f := fetch.New(fetch.NewSession(mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) {
		return s, nil
	})))

	stats, err := NewBackfiller(f, 10).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := BackfillStats{Processed: 2, Updated: 1, Skipped: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	m, err := s.Get(context.Background(), "new")
	if err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(m.RecipientDomains); got != "[alpha.com beta.io]" {
		t.Errorf("recipient domains = %s", got)
	}

	again, err := NewBackfiller(f, 10).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again.Updated != 0 || again.Skipped != 2 {
		t.Errorf("second pass = %+v, want nothing updated", again)
	}
}

func TestBackfillRespectsInterval(t *testing.T) {
	s := memstore.New()
	sr := newSearcher(s).WithBackfillInterval(time.Hour)
	ctx := context.Background()
	req := Request{Domains: []string{"acme.com"}, Limit: 5}
	if _, err := sr.Search(ctx, req); err != nil {
		t.Fatal(err)
	}
	first := len(s.Calls)
	if _, err := sr.Search(ctx, req); err != nil {
		t.Fatal(err)
	}
	// The second search issues only the two scope listings.
	if got := len(s.Calls) - first; got != 2 {
		t.Errorf("second search made %d calls, want 2", got)
	}
}

func TestDirectoryLookup(t *testing.T) {
	d := NewDirectory([]Entity{{Name: "Acme Corp", Domains: []string{"acme.com"}}})
	e, err := d.Lookup("  acme corp ")
	if err != nil || e.Domains[0] != "acme.com" {
		t.Errorf("Lookup = %+v, %v", e, err)
	}
	if _, err := d.Lookup("Globex"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("unknown entity err = %v", err)
	}
}
