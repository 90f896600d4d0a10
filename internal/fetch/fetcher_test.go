package fetch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/mailstore/memstore"
)

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func seed(s *memstore.Store, folder mailstore.Folder, n int, sender string) {
	for i := 0; i < n; i++ {
		s.Add(folder, &mailstore.Message{
			ID:          fmt.Sprintf("%s-%s-%d", folder, sender, i),
			SenderEmail: sender,
			Subject:     fmt.Sprintf("message %d", i),
			Received:    base.Add(time.Duration(i) * time.Hour),
			To:          []string{"owner@home.net"},
		})
	}
}

func newFetcher(s mailstore.Store) *Fetcher {
	return New(NewSession(mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) {
		return s, nil
	})))
}

func TestFetchTruncation(t *testing.T) {
	tests := []struct {
		name          string
		stored, limit int
		wantCount     int
		wantTruncated bool
	}{
		{"fewer than limit", 3, 10, 3, false},
		{"exactly limit", 10, 10, 10, false},
		{"one more than limit", 11, 10, 10, true},
		{"many more", 25, 10, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memstore.New()
			seed(s, mailstore.FolderInbox, tt.stored, "a@acme.com")
			res, err := newFetcher(s).Fetch(context.Background(), Request{Folder: mailstore.FolderInbox, Limit: tt.limit})
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if len(res.Messages) != tt.wantCount || res.Truncated != tt.wantTruncated {
				t.Errorf("got %d messages truncated=%v, want %d truncated=%v",
					len(res.Messages), res.Truncated, tt.wantCount, tt.wantTruncated)
			}
		})
	}
}

func TestFetchOrdering(t *testing.T) {
	s := memstore.New()
	seed(s, mailstore.FolderInbox, 5, "a@acme.com")
	f := newFetcher(s)

	desc, err := f.Fetch(context.Background(), Request{Folder: mailstore.FolderInbox, Limit: 5})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	for i := 1; i < len(desc.Messages); i++ {
		if desc.Messages[i].Received.After(desc.Messages[i-1].Received) {
			t.Fatalf("default order is not newest first at %d", i)
		}
	}

	asc, err := f.Fetch(context.Background(), Request{Folder: mailstore.FolderInbox, Limit: 5, Ascending: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if asc.Messages[0].ID != "inbox-a@acme.com-0" {
		t.Errorf("ascending first = %s", asc.Messages[0].ID)
	}
}

func TestFetchRejectsNonPositiveLimit(t *testing.T) {
	_, err := newFetcher(memstore.New()).Fetch(context.Background(), Request{Folder: mailstore.FolderInbox})
	if apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("err = %v, want validation error", err)
	}
}

func TestFetchFallsBackWhenFilterRejected(t *testing.T) {
	s := memstore.New()
	seed(s, mailstore.FolderSent, 4, "owner@home.net")
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("sent-owner@home.net-%d", i)
		domains := []string{"other.org"}
		if i%2 == 0 {
			domains = []string{"acme.com"}
		}
		if err := s.SetRecipientDomains(context.Background(), id, domains); err != nil {
			t.Fatal(err)
		}
	}
	s.Reject(filter.PropRecipientDomain)

	res, err := newFetcher(s).Fetch(context.Background(), Request{
		Folder:   mailstore.FolderSent,
		Criteria: filter.Criteria{RecipientDomain: "acme.com"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded result")
	}
	if len(res.Messages) != 2 {
		t.Errorf("got %d messages, want 2", len(res.Messages))
	}
	if len(s.Calls) != 2 {
		t.Errorf("store calls = %v, want original + fallback", s.Calls)
	}
}

func TestFetchFallbackScanLimitReportsTruncation(t *testing.T) {
	s := memstore.New()
	seed(s, mailstore.FolderInbox, 20, "a@acme.com")
	s.Reject(filter.PropSubject)

	res, err := newFetcher(s).WithScanLimit(5).Fetch(context.Background(), Request{
		Folder:   mailstore.FolderInbox,
		Criteria: filter.Criteria{Subject: "message 1"},
		Limit:    10,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !res.Truncated {
		t.Error("expected truncation when the fallback scan is capped")
	}
}

func TestFetchCarriesSkips(t *testing.T) {
	s := memstore.New()
	seed(s, mailstore.FolderInbox, 3, "a@acme.com")
	s.Break("inbox-a@acme.com-1", "corrupt item")
	res, err := newFetcher(s).Fetch(context.Background(), Request{Folder: mailstore.FolderInbox, Limit: 10})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Messages) != 2 || len(res.Skipped) != 1 {
		t.Errorf("messages=%d skipped=%v", len(res.Messages), res.Skipped)
	}
}

func TestSessionReconnectsAfterFailedProbe(t *testing.T) {
	first := memstore.New()
	second := memstore.New()
	connects := 0
	sess := NewSession(mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) {
		connects++
		if connects == 1 {
			return first, nil
		}
		return second, nil
	}))
	ctx := context.Background()

	got, err := sess.EnsureConnected(ctx)
	if err != nil || got != first {
		t.Fatalf("first connect = %v, %v", got, err)
	}
	if got, _ := sess.EnsureConnected(ctx); got != first {
		t.Fatal("healthy session reconnected")
	}

	first.SetPingError(errors.New("connection reset"))
	got, err = sess.EnsureConnected(ctx)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if got != second || connects != 2 {
		t.Errorf("reconnect returned %p after %d connects", got, connects)
	}
}

func TestSessionConnectError(t *testing.T) {
	sess := NewSession(mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) {
		return nil, errors.New("dial tcp: refused")
	}))
	if _, err := sess.EnsureConnected(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
