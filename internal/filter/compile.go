package filter

import (
	"strings"
)

// Compile turns criteria into a single expression. Any substring condition
// selects the pattern dialect and moves the date range into it as well;
// otherwise only the date range is rendered in the structured dialect.
func Compile(c Criteria) Expression {
	preds := c.Predicates()
	if c.HasPatternTerms() {
		return render(Pattern, preds)
	}
	if len(preds) == 0 {
		return Expression{Dialect: Structured}
	}
	return render(Structured, preds)
}

// TopicEquals returns a pattern expression matching the exact conversation
// topic.
func TopicEquals(topic string) Expression {
	return render(Pattern, []Predicate{{Property: PropTopic, Op: OpEqual, Value: topic}})
}

func render(d Dialect, preds []Predicate) Expression {
	parts := make([]string, len(preds))
	for i, p := range preds {
		parts[i] = p.render(d)
	}
	text := strings.Join(parts, " AND ")
	if d == Pattern && text != "" {
		text = patternPrefix + text
	}
	return Expression{Text: text, Dialect: d}
}

// Quote wraps s in single quotes, doubling any embedded quote.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// DateBounds renders only the received-time predicates of preds in the
// structured dialect. Stores that reject a pattern expression are retried
// with this and the remaining predicates are evaluated in memory.
func DateBounds(preds []Predicate) Expression {
	var dates []Predicate
	for _, p := range preds {
		if p.IsDate() {
			dates = append(dates, p)
		}
	}
	if len(dates) == 0 {
		return Expression{Dialect: Structured}
	}
	return render(Structured, dates)
}
