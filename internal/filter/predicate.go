package filter

import (
	"strings"
	"time"
)

// Predicate is one comparison of a compiled expression. Date comparisons use
// Time; all others use Value.
type Predicate struct {
	Property Property
	Op       Op
	Value    string
	Time     time.Time
}

// IsDate reports whether p compares the received timestamp.
func (p Predicate) IsDate() bool {
	return p.Property == PropReceived
}

func (p Predicate) render(d Dialect) string {
	if d == Structured {
		return structuredReceived + " " + string(p.Op) + " " + Quote(p.Time.UTC().Format(structuredLayout))
	}
	lit := p.Value
	if p.IsDate() {
		lit = p.Time.UTC().Format(patternLayout)
	}
	return `"` + string(p.Property) + `" ` + string(p.Op) + " " + Quote(lit)
}

// Match evaluates p against f. Text comparisons are case-insensitive. A
// predicate on a property the message does not carry never matches.
func (p Predicate) Match(f Fields) bool {
	if p.IsDate() {
		switch p.Op {
		case OpGTE:
			return !f.Received.Before(p.Time)
		case OpLT:
			return f.Received.Before(p.Time)
		case OpEqual:
			return f.Received.Equal(p.Time)
		}
		return false
	}
	v, ok := f.text(p.Property)
	if !ok {
		return false
	}
	switch p.Op {
	case OpLike:
		return Like(p.Value, v)
	case OpEqual:
		return strings.EqualFold(p.Value, v)
	}
	return false
}

func matchAll(preds []Predicate, f Fields) bool {
	for _, p := range preds {
		if !p.Match(f) {
			return false
		}
	}
	return true
}

// MatchAll reports whether every predicate matches f.
func MatchAll(preds []Predicate, f Fields) bool {
	return matchAll(preds, f)
}

// Like reports whether s matches pattern, where '%' matches any run of
// characters. Matching is case-insensitive.
func Like(pattern, s string) bool {
	pattern = strings.ToLower(pattern)
	s = strings.ToLower(s)
	segs := strings.Split(pattern, "%")
	if len(segs) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, segs[0]) {
		return false
	}
	s = s[len(segs[0]):]
	last := segs[len(segs)-1]
	for _, seg := range segs[1 : len(segs)-1] {
		i := strings.Index(s, seg)
		if i < 0 {
			return false
		}
		s = s[i+len(seg):]
	}
	return strings.HasSuffix(s, last)
}
