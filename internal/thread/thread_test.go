package thread

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/fetch"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/mailstore/memstore"
)

var t0 = time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

func newResolver(s *memstore.Store) *Resolver {
	return NewResolver(fetch.New(fetch.NewSession(mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) {
		return s, nil
	}))))
}

func threadMsg(id, conv string, hour int, from string, to ...string) *mailstore.Message {
	return &mailstore.Message{
		ID:                id,
		Subject:           "Re: Budget",
		ConversationTopic: "Budget",
		ConversationID:    conv,
		SenderEmail:       from,
		To:                to,
		Received:          t0.Add(time.Duration(hour) * time.Hour),
	}
}

func TestResolveExcludesTopicCollisions(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderInbox,
		threadMsg("in-1", "conv-A", 1, "Alice@acme.com", "me@home.net"),
		threadMsg("in-2", "conv-A", 5, "bob@acme.com", "me@home.net"),
		threadMsg("other", "conv-B", 2, "eve@else.org", "me@home.net"),
	)
	s.Add(mailstore.FolderSent,
		threadMsg("out-1", "conv-A", 3, "me@home.net", "alice@acme.com"),
	)
	s.Add(mailstore.FolderFiled,
		threadMsg("filed-1", "conv-A", 4, "me@home.net", "carol@acme.com"),
	)

	got, err := newResolver(s).Resolve(context.Background(), "in-2", DefaultOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var ids []string
	for _, m := range got.Messages {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff([]string{"in-1", "out-1", "in-2"}, ids); diff != "" {
		t.Errorf("thread ids (-want +got):\n%s", diff)
	}
	wantPeople := []string{"alice@acme.com", "bob@acme.com", "me@home.net"}
	if diff := cmp.Diff(wantPeople, got.Participants); diff != "" {
		t.Errorf("participants (-want +got):\n%s", diff)
	}
	if !got.DateRange.First.Equal(t0.Add(time.Hour)) || !got.DateRange.Last.Equal(t0.Add(5*time.Hour)) {
		t.Errorf("date range = %+v", got.DateRange)
	}
	if got.Truncated {
		t.Error("unexpected truncation")
	}

	withFiled, err := newResolver(s).Resolve(context.Background(), "in-2", Options{IncludeSent: true, IncludeFiled: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(withFiled.Messages) != 4 {
		t.Errorf("with filed scope got %d messages, want 4", len(withFiled.Messages))
	}
}

func TestResolveTruncation(t *testing.T) {
	s := memstore.New()
	for i := 0; i < 6; i++ {
		s.Add(mailstore.FolderInbox, threadMsg(fmt.Sprintf("m%d", i), "conv", i, "a@x.com", "me@home.net"))
	}
	got, err := newResolver(s).Resolve(context.Background(), "m0", Options{Limit: 4})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got.Messages) != 4 || !got.Truncated {
		t.Errorf("count=%d truncated=%v, want 4 true", len(got.Messages), got.Truncated)
	}
	if got.Messages[0].ID != "m0" {
		t.Errorf("first = %s, want oldest m0", got.Messages[0].ID)
	}
}

func TestResolveErrors(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderInbox, &mailstore.Message{ID: "lonely", Subject: "hi", Received: t0})
	r := newResolver(s)

	if _, err := r.Resolve(context.Background(), "missing", DefaultOptions()); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("missing seed err = %v", err)
	}
	_, err := r.Resolve(context.Background(), "lonely", DefaultOptions())
	if !errors.Is(err, ErrMissingThreadContext) || apperr.KindOf(err) != apperr.KindMissingThreadContext {
		t.Errorf("no-conversation err = %v", err)
	}
}

func TestResolveSkipsFailingScope(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderInbox, threadMsg("in-1", "conv", 1, "a@x.com", "me@home.net"))
	s.FailFolder(mailstore.FolderSent, errors.New("sent folder offline"))

	got, err := newResolver(s).Resolve(context.Background(), "in-1", DefaultOptions())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(got.Messages) != 1 {
		t.Errorf("got %d messages, want 1", len(got.Messages))
	}
}

func TestLocations(t *testing.T) {
	s := memstore.New()
	s.Add(mailstore.FolderInbox, threadMsg("in-1", "conv", 2, "a@x.com", "me@home.net"))
	s.Add(mailstore.FolderSent, threadMsg("out-1", "conv", 1, "me@home.net", "a@x.com"))

	locs, _, err := newResolver(s).Locations(context.Background(), "in-1", DefaultOptions())
	if err != nil {
		t.Fatalf("Locations: %v", err)
	}
	want := []Location{
		{ID: "out-1", Folder: "sent", Direction: mailstore.Outbound, Received: t0.Add(time.Hour)},
		{ID: "in-1", Folder: "inbox", Direction: mailstore.Inbound, Received: t0.Add(2 * time.Hour)},
	}
	if diff := cmp.Diff(want, locs); diff != "" {
		t.Errorf("locations (-want +got):\n%s", diff)
	}
}
