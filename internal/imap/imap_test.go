package imap

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
)

func mustPreds(t *testing.T, c filter.Criteria) []filter.Predicate {
	t.Helper()
	preds, err := filter.Parse(filter.Compile(c))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return preds
}

func TestPlanSearch_DatesAndHeaders(t *testing.T) {
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	preds := mustPreds(t, filter.Criteria{SenderDomain: "acme.com", Subject: "budget", DateFrom: &from, DateTo: &to})

	plan, err := planSearch(preds)
	if err != nil {
		t.Fatalf("planSearch: %v", err)
	}
	if !plan.criteria.Since.Equal(from) {
		t.Errorf("Since = %v, want %v", plan.criteria.Since, from)
	}
	if want := to.AddDate(0, 0, 1); !plan.criteria.Before.Equal(want) {
		t.Errorf("Before = %v, want %v", plan.criteria.Before, want)
	}
	wantHeaders := []imap.SearchCriteriaHeaderField{
		{Key: "From", Value: "@acme.com"},
		{Key: "Subject", Value: "budget"},
	}
	if diff := cmp.Diff(wantHeaders, plan.criteria.Header); diff != "" {
		t.Errorf("headers mismatch (-want +got):\n%s", diff)
	}
	if len(plan.refine) != len(preds) {
		t.Errorf("refine = %d predicates, want %d", len(plan.refine), len(preds))
	}
}

func TestPlanSearch_BodyNotRefined(t *testing.T) {
	plan, err := planSearch(mustPreds(t, filter.Criteria{Body: "invoice"}))
	if err != nil {
		t.Fatalf("planSearch: %v", err)
	}
	if diff := cmp.Diff([]string{"invoice"}, plan.criteria.Body); diff != "" {
		t.Errorf("body mismatch: %s", diff)
	}
	if len(plan.refine) != 0 {
		t.Errorf("body terms should be left to the server, refine = %v", plan.refine)
	}
}

func TestPlanSearch_RejectsRecipientDomain(t *testing.T) {
	_, err := planSearch(mustPreds(t, filter.Criteria{RecipientDomain: "acme.com"}))
	if !errors.Is(err, mailstore.ErrFilterRejected) {
		t.Fatalf("err = %v, want ErrFilterRejected", err)
	}
}

func TestPlanSearch_Topic(t *testing.T) {
	preds, err := filter.Parse(filter.TopicEquals("Budget"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	plan, err := planSearch(preds)
	if err != nil {
		t.Fatalf("planSearch: %v", err)
	}
	if len(plan.criteria.Header) != 1 || plan.criteria.Header[0].Value != "Budget" {
		t.Errorf("headers = %+v", plan.criteria.Header)
	}
	if len(plan.refine) != 1 {
		t.Errorf("topic equality must be refined in memory")
	}
}

func TestSplitKeywords(t *testing.T) {
	tags, domains := splitKeywords([]imap.Flag{
		imap.FlagSeen, "mailtrail:action", "mailtrail-rd:b.com", "mailtrail-rd:a.com", "work",
	})
	if diff := cmp.Diff([]string{"mailtrail:action", "work"}, tags); diff != "" {
		t.Errorf("tags mismatch: %s", diff)
	}
	if diff := cmp.Diff([]string{"a.com", "b.com"}, domains); diff != "" {
		t.Errorf("domains mismatch: %s", diff)
	}

	_, domains = splitKeywords([]imap.Flag{imap.FlagSeen})
	if domains != nil {
		t.Errorf("no domain keywords should give nil, got %v", domains)
	}
	_, domains = splitKeywords(domainKeywords(nil))
	if domains == nil || len(domains) != 0 {
		t.Errorf("empty marker should give empty non-nil, got %#v", domains)
	}
}

func TestCompositeID(t *testing.T) {
	id := compositeID("Sent Items", 42)
	mailbox, uid, err := parseCompositeID(id)
	if err != nil || mailbox != "Sent Items" || uid != 42 {
		t.Fatalf("round trip = %q %d %v", mailbox, uid, err)
	}
	for _, bad := range []string{"", "INBOX", "|5", "INBOX|x", "INBOX|0"} {
		if _, _, err := parseCompositeID(bad); !errors.Is(err, mailstore.ErrNotFound) {
			t.Errorf("parseCompositeID(%q) err = %v, want ErrNotFound", bad, err)
		}
	}
}

func TestThreadHeaders(t *testing.T) {
	raw := []byte("References: <root@x> <mid@x>\r\nThread-Topic: Budget\r\n\r\n")
	refs, topic := threadHeaders(raw)
	if diff := cmp.Diff([]string{"root@x", "mid@x"}, refs); diff != "" {
		t.Errorf("refs mismatch: %s", diff)
	}
	if topic != "Budget" {
		t.Errorf("topic = %q", topic)
	}
}

func TestConfigMailboxes(t *testing.T) {
	cfg := &Config{Host: "mail.example.com", Username: "me", Sent: "Sent Items"}
	if got := cfg.Mailbox(mailstore.FolderSent); got != "Sent Items" {
		t.Errorf("Mailbox(sent) = %q", got)
	}
	if got := cfg.Mailbox(mailstore.FolderInbox); got != "INBOX" {
		t.Errorf("Mailbox(inbox) = %q", got)
	}
	if got := cfg.Folder("sent items"); got != mailstore.FolderSent {
		t.Errorf("Folder(sent items) = %q", got)
	}
	if got := cfg.Addr(); got != "mail.example.com:143" {
		t.Errorf("Addr() = %q", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
	bad := &Config{Host: "h", Username: "u", TLS: true, STARTTLS: true}
	if err := bad.Validate(); err == nil {
		t.Error("tls+starttls should fail validation")
	}
}

func TestResolvePassword(t *testing.T) {
	t.Setenv("MAILTRAIL_TEST_PW", "secret")
	cfg := &Config{PasswordEnv: "MAILTRAIL_TEST_PW"}
	pw, err := cfg.ResolvePassword()
	if err != nil || pw != "secret" {
		t.Fatalf("ResolvePassword = %q, %v", pw, err)
	}
	if _, err := (&Config{}).ResolvePassword(); err == nil {
		t.Error("missing password_env should fail")
	}
}
