package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/wesm/mailtrail/internal/mailstore"
	"github.com/wesm/mailtrail/internal/store"
	"github.com/wesm/mailtrail/internal/testutil"
)

func daysAgo(n int) time.Time { return testutil.BaseTime.AddDate(0, 0, -n) }

func seedPending(t *testing.T) *store.Store {
	t.Helper()
	st := testutil.NewTestStore(t)
	ids := testutil.SeedMessages(t, st,
		testutil.StoreMessage(testutil.NewMessage("b1").From("bob@beta.io").Subject("").DaysAgo(0).Build()),
		testutil.StoreMessage(testutil.NewMessage("a1").From("news@acme.com").Subject("A1").DaysAgo(1).Build()),
		testutil.StoreMessage(testutil.NewMessage("a2").From("news@acme.com").Subject("A2").DaysAgo(2).Build()),
		testutil.StoreMessage(testutil.NewMessage("a3").From("News@Acme.com").Subject("A3").DaysAgo(3).Build()),
		testutil.StoreMessage(testutil.NewMessage("a4").From("news@acme.com").Subject("A4").DaysAgo(4).Build()),
		testutil.StoreMessage(testutil.NewMessage("anon").From("undisclosed").Subject("anon").DaysAgo(5).Build()),
		testutil.StoreMessage(testutil.NewMessage("s1").From("me@home.test").Subject("sent").Sent().DaysAgo(1).Build()),
		testutil.StoreMessage(testutil.NewMessage("old").From("news@acme.com").Subject("old").DaysAgo(60).Build()),
	)
	ctx := context.Background()
	testutil.MustNoErr(t, st.SetTags(ctx, ids[2], []string{"mailtrail:processed"}), "SetTags")
	testutil.MustNoErr(t, st.SetTags(ctx, ids[3], []string{"work"}), "SetTags")
	return st
}

func TestCountPending(t *testing.T) {
	st := seedPending(t)

	got, err := st.CountPending(context.Background(), mailstore.PendingQuery{Since: daysAgo(30), ScanLimit: 100})
	testutil.MustNoErr(t, err, "CountPending")
	want := &mailstore.PendingSummary{
		Domains: []mailstore.DomainCount{
			{Domain: "acme.com", Count: 3, Latest: daysAgo(1), SampleSubjects: []string{"A1", "A3", "A4"}},
			{Domain: "beta.io", Count: 1, Latest: daysAgo(0), SampleSubjects: []string{"(No Subject)"}},
			{Domain: mailstore.NoDomain, Count: 1, Latest: daysAgo(5), SampleSubjects: []string{"anon"}},
		},
		Scanned: 6,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("CountPending mismatch (-want +got):\n%s", diff)
	}
}

func TestCountPending_ScanLimit(t *testing.T) {
	st := seedPending(t)

	got, err := st.CountPending(context.Background(), mailstore.PendingQuery{Since: daysAgo(30), ScanLimit: 3})
	testutil.MustNoErr(t, err, "CountPending")
	if got.Scanned != 3 || !got.Truncated {
		t.Fatalf("scanned %d truncated %v, want 3 true", got.Scanned, got.Truncated)
	}
	want := []mailstore.DomainCount{
		{Domain: "beta.io", Count: 1, Latest: daysAgo(0), SampleSubjects: []string{"(No Subject)"}},
		{Domain: "acme.com", Count: 1, Latest: daysAgo(1), SampleSubjects: []string{"A1"}},
	}
	if diff := cmp.Diff(want, got.Domains); diff != "" {
		t.Errorf("domains mismatch (-want +got):\n%s", diff)
	}

	if _, err := st.CountPending(context.Background(), mailstore.PendingQuery{ScanLimit: 0}); err == nil {
		t.Error("expected error for non-positive scan limit")
	}
}

func TestCountPending_Domain(t *testing.T) {
	st := seedPending(t)

	got, err := st.CountPending(context.Background(), mailstore.PendingQuery{
		Since: daysAgo(90), Domain: "@ACME.com", ScanLimit: 100,
	})
	testutil.MustNoErr(t, err, "CountPending")
	if got.Scanned != 5 || len(got.Domains) != 1 {
		t.Fatalf("scanned %d domains %+v", got.Scanned, got.Domains)
	}
	if d := got.Domains[0]; d.Domain != "acme.com" || d.Count != 4 {
		t.Errorf("domain = %+v, want acme.com with 4", d)
	}
}
