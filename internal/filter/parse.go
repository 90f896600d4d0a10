package filter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSyntax is returned by Parse for expressions outside either grammar.
var ErrSyntax = errors.New("malformed filter expression")

var knownProps = map[Property]bool{
	PropReceived:        true,
	PropFromEmail:       true,
	PropDisplayTo:       true,
	PropSubject:         true,
	PropBody:            true,
	PropTopic:           true,
	PropRecipientDomain: true,
}

// Parse decodes an expression produced by Compile or TopicEquals back into
// predicates. An empty expression yields no predicates.
func Parse(e Expression) ([]Predicate, error) {
	text := strings.TrimSpace(e.Text)
	if text == "" {
		return nil, nil
	}
	if strings.HasPrefix(text, patternPrefix) {
		if e.Dialect == Structured {
			return nil, fmt.Errorf("%w: pattern text in structured expression", ErrSyntax)
		}
		return (&scanner{src: text[len(patternPrefix):], dialect: Pattern}).predicates()
	}
	if e.Dialect == Pattern {
		return nil, fmt.Errorf("%w: pattern expression missing %s prefix", ErrSyntax, patternPrefix)
	}
	return (&scanner{src: text, dialect: Structured}).predicates()
}

type scanner struct {
	src     string
	pos     int
	dialect Dialect
}

func (s *scanner) predicates() ([]Predicate, error) {
	var preds []Predicate
	for {
		p, err := s.predicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
		s.skipSpace()
		if s.pos >= len(s.src) {
			return preds, nil
		}
		if !s.keyword("AND") {
			return nil, s.errorf("expected AND")
		}
	}
}

func (s *scanner) predicate() (Predicate, error) {
	s.skipSpace()
	prop, err := s.property()
	if err != nil {
		return Predicate{}, err
	}
	s.skipSpace()
	op, err := s.operator()
	if err != nil {
		return Predicate{}, err
	}
	s.skipSpace()
	lit, err := s.literal()
	if err != nil {
		return Predicate{}, err
	}
	p := Predicate{Property: prop, Op: op}
	if prop == PropReceived {
		if op == OpLike {
			return Predicate{}, s.errorf("LIKE on date property")
		}
		t, err := parseExprDate(lit, s.dialect)
		if err != nil {
			return Predicate{}, s.errorf("bad date %q", lit)
		}
		p.Time = t
		return p, nil
	}
	p.Value = lit
	return p, nil
}

func (s *scanner) property() (Property, error) {
	if s.dialect == Structured {
		if strings.HasPrefix(s.src[s.pos:], structuredReceived) {
			s.pos += len(structuredReceived)
			return PropReceived, nil
		}
		return "", s.errorf("structured filters only support %s", structuredReceived)
	}
	if s.pos >= len(s.src) || s.src[s.pos] != '"' {
		return "", s.errorf("expected quoted property")
	}
	end := strings.IndexByte(s.src[s.pos+1:], '"')
	if end < 0 {
		return "", s.errorf("unterminated property")
	}
	prop := Property(s.src[s.pos+1 : s.pos+1+end])
	s.pos += end + 2
	if !knownProps[prop] {
		return "", s.errorf("unknown property %q", prop)
	}
	return prop, nil
}

func (s *scanner) operator() (Op, error) {
	for _, op := range []Op{OpGTE, OpLT, OpEqual} {
		if strings.HasPrefix(s.src[s.pos:], string(op)) {
			s.pos += len(op)
			return op, nil
		}
	}
	if s.keyword(string(OpLike)) {
		return OpLike, nil
	}
	return "", s.errorf("expected operator")
}

// literal reads a single-quoted string, collapsing doubled quotes.
func (s *scanner) literal() (string, error) {
	if s.pos >= len(s.src) || s.src[s.pos] != '\'' {
		return "", s.errorf("expected quoted literal")
	}
	var b strings.Builder
	for i := s.pos + 1; i < len(s.src); i++ {
		c := s.src[i]
		if c != '\'' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s.src) && s.src[i+1] == '\'' {
			b.WriteByte('\'')
			i++
			continue
		}
		s.pos = i + 1
		return b.String(), nil
	}
	return "", s.errorf("unterminated literal")
}

func (s *scanner) keyword(kw string) bool {
	end := s.pos + len(kw)
	if end > len(s.src) || !strings.EqualFold(s.src[s.pos:end], kw) {
		return false
	}
	if end < len(s.src) && s.src[end] != ' ' && s.src[end] != '\'' {
		return false
	}
	s.pos = end
	return true
}

func (s *scanner) skipSpace() {
	for s.pos < len(s.src) && (s.src[s.pos] == ' ' || s.src[s.pos] == '\t') {
		s.pos++
	}
}

func (s *scanner) errorf(format string, args ...any) error {
	return fmt.Errorf("%w at offset %d: %s", ErrSyntax, s.pos, fmt.Sprintf(format, args...))
}

func parseExprDate(lit string, d Dialect) (time.Time, error) {
	layout := patternLayout
	if d == Structured {
		layout = structuredLayout
	}
	return time.ParseInLocation(layout, lit, time.UTC)
}
