package service_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailtrail/internal/apperr"
	"github.com/wesm/mailtrail/internal/correspondence"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/mailstore/memstore"
	"github.com/wesm/mailtrail/internal/resultcache"
	"github.com/wesm/mailtrail/internal/service"
	"github.com/wesm/mailtrail/internal/testutil"
)

var clock = func() time.Time { return testutil.BaseTime.Add(time.Hour) }

func newService(t *testing.T, st *memstore.Store, entities ...correspondence.Entity) *service.Service {
	t.Helper()
	conn := mailstore.ConnectorFunc(func(context.Context) (mailstore.Store, error) { return st, nil })
	svc := service.New(conn, correspondence.NewDirectory(entities), service.Options{
		AutoFileThreshold: 20,
		PreviewSize:       5,
		CacheDir:          t.TempDir(),
	}).WithClock(clock)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// envelopeJSON renders env the way tools return it.
func envelopeJSON(t *testing.T, env *resultcache.Envelope) map[string]any {
	t.Helper()
	data, err := json.Marshal(env)
	testutil.MustNoErr(t, err, "marshal envelope")
	var out map[string]any
	testutil.MustNoErr(t, json.Unmarshal(data, &out), "unmarshal envelope")
	return out
}

func envelopeIDs(items []resultcache.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID()
	}
	return ids
}

func TestSearchEmails(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderInbox, testutil.Messages("acme", "bob@acme.com", 3)...)
	st.Add(mailstore.FolderInbox, testutil.NewMessage("other").From("x@other.org").Build())
	svc := newService(t, st)

	t.Run("criteria", func(t *testing.T) {
		env, err := svc.SearchEmails(context.Background(), service.SearchRequest{
			Criteria: filter.Criteria{SenderDomain: "acme.com"},
			Limit:    2,
		})
		testutil.MustNoErr(t, err, "SearchEmails")
		if env.Count != 2 || !env.ResultsTruncated || env.AutoFiled {
			t.Fatalf("envelope = count %d truncated %v filed %v", env.Count, env.ResultsTruncated, env.AutoFiled)
		}
		testutil.AssertStrings(t, envelopeIDs(env.Items), "acme-0", "acme-1")
	})

	t.Run("query string", func(t *testing.T) {
		env, err := svc.SearchEmails(context.Background(), service.SearchRequest{Query: "from:other.org in:inbox"})
		testutil.MustNoErr(t, err, "SearchEmails")
		testutil.AssertStrings(t, envelopeIDs(env.Items), "other")
		out := envelopeJSON(t, env)
		if _, ok := out["emails"]; !ok {
			t.Errorf("envelope keys = %v, want emails", out)
		}
		if out["folder"] != "inbox" {
			t.Errorf("folder = %v, want inbox", out["folder"])
		}
	})

	t.Run("bad query", func(t *testing.T) {
		_, err := svc.SearchEmails(context.Background(), service.SearchRequest{Query: "after:yesterdayish"})
		testutil.AssertKind(t, err, apperr.KindValidation)
	})

	t.Run("inverted dates", func(t *testing.T) {
		from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
		to := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		_, err := svc.SearchEmails(context.Background(), service.SearchRequest{
			Criteria: filter.Criteria{DateFrom: &from, DateTo: &to},
		})
		testutil.AssertKind(t, err, apperr.KindValidation)
	})
}

func TestSearchEmailsLookback(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderInbox,
		testutil.NewMessage("recent").DaysAgo(3).Build(),
		testutil.NewMessage("old").DaysAgo(45).Build(),
	)
	svc := newService(t, st)

	env, err := svc.SearchEmails(context.Background(), service.SearchRequest{})
	testutil.MustNoErr(t, err, "SearchEmails")
	testutil.AssertStrings(t, envelopeIDs(env.Items), "recent")

	env, err = svc.SearchEmails(context.Background(), service.SearchRequest{Days: 60})
	testutil.MustNoErr(t, err, "SearchEmails")
	testutil.AssertStrings(t, envelopeIDs(env.Items), "recent", "old")
}

func TestSearchEmailsAutoFiles(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderInbox, testutil.Messages("m", "bob@acme.com", 30)...)
	svc := newService(t, st)

	env, err := svc.SearchEmails(context.Background(), service.SearchRequest{Limit: 100})
	testutil.MustNoErr(t, err, "SearchEmails")
	if !env.AutoFiled || len(env.Preview) != 5 || env.Count != 30 {
		t.Fatalf("envelope = filed %v preview %d count %d", env.AutoFiled, len(env.Preview), env.Count)
	}

	page, err := svc.Cache().Read(env.FullDataFile, resultcache.ReadOptions{Limit: 20})
	testutil.MustNoErr(t, err, "Read")
	if page.RemainingUnretrieved != 10 {
		t.Errorf("RemainingUnretrieved = %d, want 10", page.RemainingUnretrieved)
	}

	inline, err := svc.SearchEmails(context.Background(), service.SearchRequest{Limit: 100, Output: service.Output{ForceInline: true}})
	testutil.MustNoErr(t, err, "SearchEmails")
	if inline.AutoFiled || len(inline.Items) != 30 {
		t.Errorf("force inline: filed %v items %d", inline.AutoFiled, len(inline.Items))
	}
}

func TestGetEmail(t *testing.T) {
	st := memstore.New()
	m := testutil.NewMessage("m1").From("bob@acme.com").Body("0123456789abcdef").Build()
	m.SenderName = "Bob"
	m.AttachmentNames = []string{"report.pdf"}
	m.Tags = []string{"mailtrail:waiting"}
	st.Add(mailstore.FolderInbox, m)
	svc := newService(t, st)

	d, err := svc.GetEmail(context.Background(), "m1", service.GetOptions{IncludeBody: true, IncludeAttachments: true, MaxBodyLength: 10})
	testutil.MustNoErr(t, err, "GetEmail")
	if d.Body == nil || *d.Body != "0123456789... [6 more chars]" {
		t.Errorf("Body = %v", d.Body)
	}
	if d.Sender != "Bob <bob@acme.com>" || d.Domain != "acme.com" || d.TriageStatus != "waiting" {
		t.Errorf("detail = %+v", d)
	}
	testutil.AssertStrings(t, d.Attachments, "report.pdf")

	d, err = svc.GetEmail(context.Background(), "m1", service.GetOptions{})
	testutil.MustNoErr(t, err, "GetEmail")
	if d.Body != nil || d.Attachments != nil {
		t.Errorf("expected body and attachments omitted, got %+v", d)
	}

	_, err = svc.GetEmail(context.Background(), "missing", service.GetOptions{})
	testutil.AssertKind(t, err, apperr.KindNotFound)
	_, err = svc.GetEmail(context.Background(), " ", service.GetOptions{})
	testutil.AssertKind(t, err, apperr.KindValidation)
}

func TestTruncateText(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"héllo wörld", 5, "héllo... [6 more chars]"},
		{"anything", 0, "anything"},
	}
	for _, tt := range tests {
		if got := service.TruncateText(tt.in, tt.max); got != tt.want {
			t.Errorf("TruncateText(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestTriage(t *testing.T) {
	st := memstore.New()
	m := testutil.NewMessage("m1").Build()
	m.Tags = []string{"client:acme", "mailtrail:action"}
	st.Add(mailstore.FolderInbox, m)
	svc := newService(t, st)

	res, err := svc.Triage(context.Background(), "m1", "Processed")
	testutil.MustNoErr(t, err, "Triage")
	if diff := cmp.Diff([]string{"client:acme", "mailtrail:processed"}, res.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	got, err := st.Get(context.Background(), "m1")
	testutil.MustNoErr(t, err, "Get")
	testutil.AssertStrings(t, got.Tags, "client:acme", "mailtrail:processed")

	_, err = svc.Triage(context.Background(), "m1", "deferred")
	testutil.AssertKind(t, err, apperr.KindValidation)
	_, err = svc.Triage(context.Background(), "nope", "action")
	testutil.AssertKind(t, err, apperr.KindNotFound)
}

func TestCorrespondenceByEntity(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderInbox,
		testutil.NewMessage("in-1").From("a@acme.com").DaysAgo(1).Build(),
		testutil.NewMessage("in-2").From("partner@gmail.com").DaysAgo(2).Build(),
		testutil.NewMessage("noise").From("x@other.org").DaysAgo(1).Build(),
	)
	st.Add(mailstore.FolderSent,
		testutil.NewMessage("out-1").From("me@home.test").To("a@acme.com").Sent().DaysAgo(3).Build(),
	)
	svc := newService(t, st, correspondence.Entity{
		Name:     "Acme Ltd",
		Domains:  []string{"acme.com"},
		Contacts: []string{"partner@gmail.com"},
	})

	env, err := svc.Correspondence(context.Background(), service.CorrespondenceRequest{Entity: "acme ltd"})
	testutil.MustNoErr(t, err, "Correspondence")
	testutil.AssertStrings(t, envelopeIDs(env.Items), "in-1", "in-2", "out-1")
	out := envelopeJSON(t, env)
	if out["entity"] != "Acme Ltd" {
		t.Errorf("entity = %v", out["entity"])
	}

	// The outbound scope backfilled the recipient domains.
	got, err := st.Get(context.Background(), "out-1")
	testutil.MustNoErr(t, err, "Get")
	testutil.AssertStrings(t, got.RecipientDomains, "acme.com")

	_, err = svc.Correspondence(context.Background(), service.CorrespondenceRequest{Entity: "Unknown"})
	testutil.AssertKind(t, err, apperr.KindNotFound)
	_, err = svc.Correspondence(context.Background(), service.CorrespondenceRequest{})
	testutil.AssertKind(t, err, apperr.KindValidation)
}

func TestThread(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderInbox,
		testutil.NewMessage("a").Subject("Budget").Conversation("c1", "Budget").DaysAgo(3).Build(),
		testutil.NewMessage("collide").Subject("Budget").Conversation("c2", "Budget").DaysAgo(2).Build(),
	)
	st.Add(mailstore.FolderSent,
		testutil.NewMessage("b").Subject("RE: Budget").Conversation("c1", "Budget").Sent().DaysAgo(1).Build(),
	)
	st.Add(mailstore.FolderFiled,
		testutil.NewMessage("f").Subject("Budget").Conversation("c1", "Budget").Filed().Build(),
	)
	svc := newService(t, st)

	env, err := svc.Thread(context.Background(), "a", service.ThreadRequest{IncludeSent: true})
	testutil.MustNoErr(t, err, "Thread")
	testutil.AssertStrings(t, envelopeIDs(env.Items), "a", "b")
	out := envelopeJSON(t, env)
	if out["conversation_id"] != "c1" {
		t.Errorf("conversation_id = %v", out["conversation_id"])
	}
	if _, ok := out["messages"]; !ok {
		t.Errorf("envelope keys = %v, want messages", out)
	}

	locs, err := svc.ThreadLocations(context.Background(), "a", service.ThreadRequest{IncludeSent: true, IncludeFiled: true})
	testutil.MustNoErr(t, err, "ThreadLocations")
	if locs.Count != 3 || locs.Locations[2].Folder != "filed" {
		t.Errorf("locations = %+v", locs)
	}

	noThread := testutil.NewMessage("lonely").Conversation("", "").Build()
	st.Add(mailstore.FolderInbox, noThread)
	_, err = svc.Thread(context.Background(), "lonely", service.ThreadRequest{})
	testutil.AssertKind(t, err, apperr.KindMissingThreadContext)
}

func TestThreadOutputFile(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderInbox, testutil.NewMessage("a").Conversation("c1", "Topic").Build())
	svc := newService(t, st)

	path := t.TempDir() + "/thread.json"
	env, err := svc.Thread(context.Background(), "a", service.ThreadRequest{Output: service.Output{OutputFile: path}})
	testutil.MustNoErr(t, err, "Thread")
	if env.OutputFile != path {
		t.Errorf("OutputFile = %q, want %q", env.OutputFile, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output file not written: %v", err)
	}
}

func TestBackfill(t *testing.T) {
	st := memstore.New()
	st.Add(mailstore.FolderSent,
		testutil.NewMessage("s1").To("x@acme.com", "y@beta.io").Sent().Build(),
		testutil.NewMessage("s2").To("z@acme.com").Sent().RecipientDomains("acme.com").Build(),
	)
	svc := newService(t, st)

	stats, err := svc.Backfill(context.Background())
	testutil.MustNoErr(t, err, "Backfill")
	if diff := cmp.Diff(correspondence.BackfillStats{Processed: 2, Updated: 1, Skipped: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}
