package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/store"
	"github.com/wesm/mailtrail/internal/testutil"
)

func day(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func seedBasic(t *testing.T) (*store.Store, []string) {
	t.Helper()
	st := testutil.NewTestStore(t)
	ids := testutil.SeedMessages(t, st,
		&store.NewMessage{
			InternetMessageID: "<m1@acme.com>",
			Folder:            mailstore.FolderInbox,
			Subject:           "Quarterly report",
			SenderName:        "Alice",
			SenderEmail:       "Alice@Acme.com",
			Received:          day(2024, 3, 10, 9, 0),
			To:                []store.Recipient{{Address: "me@home.test", DisplayName: "Me"}},
			ConversationID:    "c1",
			BodyText:          "numbers attached 100%_done",
			Attachments:       []store.Attachment{{Filename: "q1.pdf", ContentType: "application/pdf", Size: 10}},
		},
		&store.NewMessage{
			InternetMessageID: "<m2@other.org>",
			Folder:            mailstore.FolderInbox,
			Subject:           "Lunch",
			SenderEmail:       "bob@other.org",
			Received:          day(2024, 3, 12, 23, 59),
			To:                []store.Recipient{{Address: "me@home.test"}},
			ConversationID:    "c2",
		},
		&store.NewMessage{
			InternetMessageID: "<m3@home.test>",
			Folder:            mailstore.FolderSent,
			Subject:           "RE: Quarterly report",
			SenderEmail:       "me@home.test",
			Received:          day(2024, 3, 11, 8, 0),
			To:                []store.Recipient{{Address: "alice@acme.com", DisplayName: "Alice"}},
			Cc:                []store.Recipient{{Address: "carol@partner.net"}},
			ConversationID:    "c1",
		},
	)
	return st, ids
}

func list(t *testing.T, st *store.Store, folder mailstore.Folder, c filter.Criteria) []*mailstore.Message {
	t.Helper()
	listing, err := st.List(context.Background(), folder, filter.Compile(c), mailstore.ListOptions{Limit: 100})
	testutil.MustNoErr(t, err, "List")
	return listing.Messages
}

func TestInsertMessage_Idempotent(t *testing.T) {
	st := testutil.NewTestStore(t)
	ctx := context.Background()
	m := &store.NewMessage{InternetMessageID: "<dup@x>", Subject: "Hi", SenderEmail: "a@x.com", Received: testutil.BaseTime}

	id1, inserted, err := st.InsertMessage(ctx, m)
	testutil.MustNoErr(t, err, "first insert")
	if !inserted {
		t.Fatal("first insert reported not inserted")
	}
	id2, inserted, err := st.InsertMessage(ctx, m)
	testutil.MustNoErr(t, err, "second insert")
	if inserted {
		t.Error("duplicate insert reported inserted")
	}
	if id1 != id2 {
		t.Errorf("duplicate id = %s, want %s", id2, id1)
	}

	// Same message id in another folder is a distinct copy.
	m.Folder = mailstore.FolderFiled
	_, inserted, err = st.InsertMessage(ctx, m)
	testutil.MustNoErr(t, err, "filed insert")
	if !inserted {
		t.Error("filed copy should be inserted")
	}
}

func TestList_SenderDomain(t *testing.T) {
	st, ids := seedBasic(t)
	got := list(t, st, mailstore.FolderInbox, filter.Criteria{SenderDomain: "acme.com"})
	testutil.AssertIDs(t, got, ids[0])
}

func TestList_Ordering(t *testing.T) {
	st, ids := seedBasic(t)
	ctx := context.Background()

	desc, err := st.List(ctx, mailstore.FolderInbox, filter.Expression{}, mailstore.ListOptions{Limit: 10})
	testutil.MustNoErr(t, err, "List desc")
	testutil.AssertIDs(t, desc.Messages, ids[1], ids[0])

	asc, err := st.List(ctx, mailstore.FolderInbox, filter.Expression{}, mailstore.ListOptions{Limit: 10, Ascending: true})
	testutil.MustNoErr(t, err, "List asc")
	testutil.AssertIDs(t, asc.Messages, ids[0], ids[1])

	one, err := st.List(ctx, mailstore.FolderInbox, filter.Expression{}, mailstore.ListOptions{Limit: 1})
	testutil.MustNoErr(t, err, "List limit")
	testutil.AssertIDs(t, one.Messages, ids[1])
}

func TestList_DateBoundsInclusive(t *testing.T) {
	st, ids := seedBasic(t)
	from := day(2024, 3, 12, 0, 0)
	to := day(2024, 3, 12, 0, 0)

	got := list(t, st, mailstore.FolderInbox, filter.Criteria{DateFrom: &from, DateTo: &to})
	testutil.AssertIDs(t, got, ids[1])
}

func TestList_LikeIsLiteral(t *testing.T) {
	st, ids := seedBasic(t)

	got := list(t, st, mailstore.FolderInbox, filter.Criteria{Body: "100%_done"})
	testutil.AssertIDs(t, got, ids[0])

	// '_' must not act as a single-character wildcard.
	got = list(t, st, mailstore.FolderInbox, filter.Criteria{Body: "attached_100"})
	if len(got) != 0 {
		t.Errorf("literal underscore matched: %v", testutil.IDs(got))
	}
}

func TestList_RecipientAddress(t *testing.T) {
	st, ids := seedBasic(t)
	got := list(t, st, mailstore.FolderSent, filter.Criteria{RecipientAddress: "alice@acme.com"})
	testutil.AssertIDs(t, got, ids[2])
}

func TestList_RecipientDomainNeedsBackfill(t *testing.T) {
	st, ids := seedBasic(t)
	ctx := context.Background()

	got := list(t, st, mailstore.FolderSent, filter.Criteria{RecipientDomain: "acme.com"})
	if len(got) != 0 {
		t.Fatalf("unbackfilled message matched recipient domain: %v", testutil.IDs(got))
	}

	testutil.MustNoErr(t, st.SetRecipientDomains(ctx, ids[2], []string{"acme.com", "partner.net"}), "SetRecipientDomains")
	got = list(t, st, mailstore.FolderSent, filter.Criteria{RecipientDomain: "partner.net"})
	testutil.AssertIDs(t, got, ids[2])
}

func TestList_TopicEquality(t *testing.T) {
	st, _ := seedBasic(t)
	ctx := context.Background()

	for _, folder := range []mailstore.Folder{mailstore.FolderInbox, mailstore.FolderSent} {
		listing, err := st.List(ctx, folder, filter.TopicEquals("quarterly REPORT"), mailstore.ListOptions{Limit: 10})
		testutil.MustNoErr(t, err, "List topic")
		if len(listing.Messages) != 1 {
			t.Fatalf("%s: got %d messages, want 1", folder, len(listing.Messages))
		}
	}
}

func TestList_RejectsUnparseable(t *testing.T) {
	st, _ := seedBasic(t)
	_, err := st.List(context.Background(), mailstore.FolderInbox,
		filter.Expression{Text: "@SQL=\"urn:unknown\" LIKE '%x%'", Dialect: filter.Pattern},
		mailstore.ListOptions{Limit: 10})
	if !errors.Is(err, mailstore.ErrFilterRejected) {
		t.Fatalf("err = %v, want ErrFilterRejected", err)
	}
	testutil.AssertKind(t, err, apperr.KindFilterRejected)
}

func TestGet(t *testing.T) {
	st, ids := seedBasic(t)
	ctx := context.Background()

	m, err := st.Get(ctx, ids[0])
	testutil.MustNoErr(t, err, "Get")

	want := &mailstore.Message{
		ID:                ids[0],
		InternetMessageID: "<m1@acme.com>",
		Subject:           "Quarterly report",
		SenderName:        "Alice",
		SenderEmail:       "alice@acme.com",
		SenderDomain:      "acme.com",
		Received:          day(2024, 3, 10, 9, 0),
		Direction:         mailstore.Inbound,
		To:                []string{"Me <me@home.test>"},
		ConversationID:    "c1",
		ConversationTopic: "Quarterly report",
		Folder:            "inbox",
		AttachmentNames:   []string{"q1.pdf"},
		Preview:           "numbers attached 100%_done",
		Body:              "numbers attached 100%_done",
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	byMsgID, err := st.Get(ctx, "<m3@home.test>")
	testutil.MustNoErr(t, err, "Get by message id")
	if byMsgID.ID != ids[2] {
		t.Errorf("Get by message id = %s, want %s", byMsgID.ID, ids[2])
	}
	testutil.AssertStrings(t, byMsgID.Cc, "carol@partner.net")

	_, err = st.Get(ctx, "999")
	testutil.AssertKind(t, err, apperr.KindNotFound)
}

func TestSetTags(t *testing.T) {
	st, ids := seedBasic(t)
	ctx := context.Background()

	testutil.MustNoErr(t, st.SetTags(ctx, ids[0], []string{"mailtrail:action", "work"}), "SetTags")
	testutil.MustNoErr(t, st.SetTags(ctx, ids[0], []string{"mailtrail:processed", "work"}), "SetTags replace")

	m, err := st.Get(ctx, ids[0])
	testutil.MustNoErr(t, err, "Get")
	testutil.AssertStrings(t, m.Tags, "mailtrail:processed", "work")

	err = st.SetTags(ctx, "424242", []string{"x"})
	testutil.AssertKind(t, err, apperr.KindNotFound)
}

func TestRecipientDomainsNilVersusEmpty(t *testing.T) {
	st, ids := seedBasic(t)
	ctx := context.Background()

	m, err := st.Get(ctx, ids[2])
	testutil.MustNoErr(t, err, "Get")
	if m.RecipientDomains != nil {
		t.Fatalf("RecipientDomains = %v, want nil before backfill", m.RecipientDomains)
	}

	testutil.MustNoErr(t, st.SetRecipientDomains(ctx, ids[2], nil), "SetRecipientDomains")
	m, err = st.Get(ctx, ids[2])
	testutil.MustNoErr(t, err, "Get")
	if m.RecipientDomains == nil || len(m.RecipientDomains) != 0 {
		t.Errorf("RecipientDomains = %#v, want empty non-nil", m.RecipientDomains)
	}
}

func TestGetStats(t *testing.T) {
	st, _ := seedBasic(t)
	stats, err := st.GetStats(context.Background())
	testutil.MustNoErr(t, err, "GetStats")
	if stats.MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", stats.MessageCount)
	}
	if stats.ByFolder["inbox"] != 2 || stats.ByFolder["sent"] != 1 {
		t.Errorf("ByFolder = %v", stats.ByFolder)
	}
	if stats.MissingDomainCount != 1 {
		t.Errorf("MissingDomainCount = %d, want 1", stats.MissingDomainCount)
	}
}
