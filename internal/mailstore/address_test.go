package mailstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddressOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Bob <Bob@Example.com>", "bob@example.com"},
		{"carol@example.org", "carol@example.org"},
		{"  ", ""},
		{"Weird Name <dave@x.io", "weird name <dave@x.io"},
		{"\"Smith, J\" <j.smith@corp.net>", "j.smith@corp.net"},
	}
	for _, tt := range tests {
		if got := AddressOf(tt.in); got != tt.want {
			t.Errorf("AddressOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecipientDomainsOf(t *testing.T) {
	m := &Message{
		To: []string{"a@Beta.io", "Bob <b@alpha.com>", "nobody"},
		Cc: []string{"c@beta.io"},
	}
	want := []string{"alpha.com", "beta.io"}
	if diff := cmp.Diff(want, RecipientDomainsOf(m)); diff != "" {
		t.Errorf("RecipientDomainsOf mismatch (-want +got):\n%s", diff)
	}
	if got := RecipientDomainsOf(&Message{}); got == nil || len(got) != 0 {
		t.Errorf("empty message domains = %#v, want empty non-nil", got)
	}
}

func TestParticipants(t *testing.T) {
	m := &Message{
		SenderEmail: "Alice@acme.com",
		To:          []string{"bob@beta.io", "alice@ACME.com"},
		Cc:          []string{"Carol <carol@gamma.org>"},
	}
	want := []string{"alice@acme.com", "bob@beta.io", "carol@gamma.org"}
	if diff := cmp.Diff(want, Participants(m)); diff != "" {
		t.Errorf("Participants mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFolder(t *testing.T) {
	if f, err := ParseFolder(" Sent "); err != nil || f != FolderSent {
		t.Errorf("ParseFolder(Sent) = %q, %v", f, err)
	}
	if f, err := ParseFolder(""); err != nil || f != FolderInbox {
		t.Errorf("ParseFolder(\"\") = %q, %v", f, err)
	}
	if _, err := ParseFolder("trash"); err == nil {
		t.Error("expected error for unknown folder")
	}
}
