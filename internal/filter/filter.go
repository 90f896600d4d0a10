// Package filter compiles search criteria into store filter expressions.
//
// A store accepts exactly one of two dialects per listing call. The
// structured dialect only understands received-time bounds:
//
//	[ReceivedTime] >= '01 Jan 2024 00:00:00' AND [ReceivedTime] < '02 Jan 2024 00:00:00'
//
// The pattern dialect carries substring matches on message properties and
// must also carry the date range when it is used:
//
//	@SQL="urn:schemas:httpmail:fromemail" LIKE '%@acme.com' AND "urn:schemas:httpmail:datereceived" >= '2024-01-01T00:00:00Z'
//
// Literals are single-quoted with embedded quotes doubled.
package filter

import (
	"strings"
	"time"
)

// Dialect names the grammar of an Expression.
type Dialect string

const (
	Structured Dialect = "structured"
	Pattern    Dialect = "pattern"
)

// Expression is a compiled filter. An empty Text means "no filter".
type Expression struct {
	Text    string
	Dialect Dialect
}

// IsEmpty reports whether the expression filters nothing.
func (e Expression) IsEmpty() bool {
	return strings.TrimSpace(e.Text) == ""
}

func (e Expression) String() string {
	return e.Text
}

// Property identifies a filterable message property.
type Property string

const (
	PropReceived        Property = "urn:schemas:httpmail:datereceived"
	PropFromEmail       Property = "urn:schemas:httpmail:fromemail"
	PropDisplayTo       Property = "urn:schemas:httpmail:displayto"
	PropSubject         Property = "urn:schemas:httpmail:subject"
	PropBody            Property = "urn:schemas:httpmail:textdescription"
	PropTopic           Property = "urn:schemas:httpmail:thread-topic"
	PropRecipientDomain Property = "http://schemas.microsoft.com/mapi/string/{00020329-0000-0000-C000-000000000046}/RecipientDomain"
)

// structuredReceived is the only property name the structured dialect knows.
const structuredReceived = "[ReceivedTime]"

const patternPrefix = "@SQL="

// Op is a comparison operator.
type Op string

const (
	OpLike  Op = "LIKE"
	OpEqual Op = "="
	OpGTE   Op = ">="
	OpLT    Op = "<"
)

// Date layouts. The structured layout spells out the month so that the
// rendered value cannot be read as month/day by a locale-sensitive store.
const (
	structuredLayout = "02 Jan 2006 15:04:05"
	patternLayout    = "2006-01-02T15:04:05Z"
)

// Fields is the view of a message that predicates are evaluated against.
type Fields struct {
	FromEmail string
	DisplayTo string
	Subject   string
	Body      string
	Topic     string
	Received  time.Time

	// RecipientDomains is the ";"-joined derived domain set. HasRecipientDomains
	// is false when the derived field has never been written.
	RecipientDomains    string
	HasRecipientDomains bool
}

func (f Fields) text(p Property) (string, bool) {
	switch p {
	case PropFromEmail:
		return f.FromEmail, true
	case PropDisplayTo:
		return f.DisplayTo, true
	case PropSubject:
		return f.Subject, true
	case PropBody:
		return f.Body, true
	case PropTopic:
		return f.Topic, true
	case PropRecipientDomain:
		return f.RecipientDomains, f.HasRecipientDomains
	}
	return "", false
}
