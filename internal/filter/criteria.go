package filter

import (
	"strings"
	"time"
)

// Criteria is the structured input to Compile. Zero-valued fields are
// unset. DateFrom and DateTo are calendar days; DateTo is inclusive of the
// whole day.
type Criteria struct {
	SenderDomain     string
	SenderAddress    string
	RecipientDomain  string
	RecipientAddress string
	Subject          string
	Body             string
	DateFrom         *time.Time
	DateTo           *time.Time
}

// HasPatternTerms reports whether any substring condition is set, which
// forces the pattern dialect.
func (c Criteria) HasPatternTerms() bool {
	return c.SenderDomain != "" || c.SenderAddress != "" ||
		c.RecipientDomain != "" || c.RecipientAddress != "" ||
		c.Subject != "" || c.Body != ""
}

// IsEmpty reports whether no condition is set.
func (c Criteria) IsEmpty() bool {
	return !c.HasPatternTerms() && c.DateFrom == nil && c.DateTo == nil
}

// DateOnly returns a copy of c with every substring condition removed.
func (c Criteria) DateOnly() Criteria {
	return Criteria{DateFrom: c.DateFrom, DateTo: c.DateTo}
}

// Predicates returns the conditions of c in compile order.
func (c Criteria) Predicates() []Predicate {
	var preds []Predicate
	add := func(prop Property, op Op, value string) {
		preds = append(preds, Predicate{Property: prop, Op: op, Value: value})
	}
	// A sender address is more specific than a domain and replaces it.
	if a := strings.TrimSpace(c.SenderAddress); a != "" {
		add(PropFromEmail, OpLike, "%"+a+"%")
	} else if d := strings.TrimPrefix(strings.TrimSpace(c.SenderDomain), "@"); d != "" {
		add(PropFromEmail, OpLike, "%@"+d)
	}
	if d := strings.TrimPrefix(strings.TrimSpace(c.RecipientDomain), "@"); d != "" {
		add(PropRecipientDomain, OpLike, "%"+d+"%")
	}
	if a := strings.TrimSpace(c.RecipientAddress); a != "" {
		add(PropDisplayTo, OpLike, "%"+a+"%")
	}
	if c.Subject != "" {
		add(PropSubject, OpLike, "%"+c.Subject+"%")
	}
	if c.Body != "" {
		add(PropBody, OpLike, "%"+c.Body+"%")
	}
	if c.DateFrom != nil {
		preds = append(preds, Predicate{Property: PropReceived, Op: OpGTE, Time: StartOfDay(*c.DateFrom)})
	}
	if c.DateTo != nil {
		preds = append(preds, Predicate{Property: PropReceived, Op: OpLT, Time: StartOfDay(*c.DateTo).AddDate(0, 0, 1)})
	}
	return preds
}

// Match evaluates c against f in memory. It is the fallback used when a
// store rejects a compiled expression.
func (c Criteria) Match(f Fields) bool {
	return matchAll(c.Predicates(), f)
}

// WithLookback returns c with DateFrom defaulted to days before now when no
// lower bound was given. A non-positive days leaves c unchanged.
func (c Criteria) WithLookback(days int, now time.Time) Criteria {
	if c.DateFrom != nil || days <= 0 {
		return c
	}
	from := DaysBack(now, days)
	c.DateFrom = &from
	return c
}
