package store

import (
	"fmt"
	"strings"

	"github.com/wesm/mailtrail/internal/filter"
)

// escapeLike escapes SQL LIKE special characters (%, _, \) so they match
// literally when used with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// likeArg converts a filter LIKE pattern, where only '%' is a wildcard, to
// a SQLite LIKE argument.
func likeArg(pattern string) string {
	parts := strings.Split(pattern, "%")
	for i, p := range parts {
		parts[i] = escapeLike(p)
	}
	return strings.Join(parts, "%")
}

// buildWhere translates parsed predicates into a WHERE clause over the
// messages table aliased as m. SQLite's LIKE is case-insensitive for ASCII,
// matching the in-memory evaluator.
func buildWhere(preds []filter.Predicate) (string, []any, error) {
	var conds []string
	var args []any
	for _, p := range preds {
		if p.IsDate() {
			switch p.Op {
			case filter.OpGTE, filter.OpLT, filter.OpEqual:
				conds = append(conds, "m.received_at "+string(p.Op)+" ?")
				args = append(args, p.Time.UTC().Format(receivedLayout))
				continue
			}
			return "", nil, fmt.Errorf("unsupported date operator %s", p.Op)
		}

		var cmp string
		var arg any
		switch p.Op {
		case filter.OpLike:
			cmp = `LIKE ? ESCAPE '\'`
			arg = likeArg(p.Value)
		case filter.OpEqual:
			cmp = "= ? COLLATE NOCASE"
			arg = p.Value
		default:
			return "", nil, fmt.Errorf("unsupported operator %s on %s", p.Op, p.Property)
		}

		switch p.Property {
		case filter.PropFromEmail:
			conds = append(conds, "m.sender_email "+cmp)
			args = append(args, arg)
		case filter.PropSubject:
			conds = append(conds, "m.subject "+cmp)
			args = append(args, arg)
		case filter.PropBody:
			conds = append(conds, "m.body_text "+cmp)
			args = append(args, arg)
		case filter.PropTopic:
			conds = append(conds, "m.conversation_topic "+cmp)
			args = append(args, arg)
		case filter.PropRecipientDomain:
			conds = append(conds, "m.recipient_domains IS NOT NULL AND m.recipient_domains "+cmp)
			args = append(args, arg)
		case filter.PropDisplayTo:
			conds = append(conds, `EXISTS (SELECT 1 FROM message_recipients r
				WHERE r.message_id = m.id AND r.kind = 'to'
				AND (r.address `+cmp+` OR r.display_name `+cmp+`))`)
			args = append(args, arg, arg)
		default:
			return "", nil, fmt.Errorf("unsupported property %s", p.Property)
		}
	}
	if len(conds) == 0 {
		return "", nil, nil
	}
	return " AND " + strings.Join(conds, " AND "), args, nil
}
