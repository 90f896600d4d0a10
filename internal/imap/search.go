package imap

import (
	"fmt"
	"strings"
	"time"

	imap "github.com/emersion/go-imap/v2"
	"github.com/wesm/mailtrail/internal/filter"
	"github.com/wesm/mailtrail/internal/mailstore"
)

// searchPlan is a server-side SEARCH that over-approximates a predicate
// list, plus the predicates that must be re-checked on fetched messages.
type searchPlan struct {
	criteria imap.SearchCriteria
	refine   []filter.Predicate
}

// planSearch translates predicates into IMAP SEARCH criteria. IMAP dates
// have day granularity and header/body keys are plain substrings, so
// everything except body terms is refined in memory. The recipient-domain
// property has no server equivalent and is rejected.
func planSearch(preds []filter.Predicate) (*searchPlan, error) {
	p := &searchPlan{}
	for _, pred := range preds {
		if pred.IsDate() {
			day := pred.Time.UTC().Truncate(24 * time.Hour)
			switch pred.Op {
			case filter.OpGTE:
				p.criteria.Since = laterOf(p.criteria.Since, day)
			case filter.OpLT:
				before := day
				if !pred.Time.Equal(day) {
					before = day.AddDate(0, 0, 1)
				}
				p.criteria.Before = earlierOf(p.criteria.Before, before)
			case filter.OpEqual:
				p.criteria.Since = laterOf(p.criteria.Since, day)
				p.criteria.Before = earlierOf(p.criteria.Before, day.AddDate(0, 0, 1))
			default:
				return nil, rejected(pred)
			}
			p.refine = append(p.refine, pred)
			continue
		}

		switch pred.Property {
		case filter.PropFromEmail:
			p.addHeader("From", pred)
		case filter.PropDisplayTo:
			p.addHeader("To", pred)
		case filter.PropSubject:
			p.addHeader("Subject", pred)
		case filter.PropTopic:
			if pred.Op != filter.OpEqual {
				return nil, rejected(pred)
			}
			p.criteria.Header = append(p.criteria.Header, imap.SearchCriteriaHeaderField{Key: "Subject", Value: pred.Value})
			p.refine = append(p.refine, pred)
		case filter.PropBody:
			if pred.Op != filter.OpLike {
				return nil, rejected(pred)
			}
			p.criteria.Body = append(p.criteria.Body, segments(pred.Value)...)
		default:
			return nil, rejected(pred)
		}
	}
	return p, nil
}

func (p *searchPlan) addHeader(key string, pred filter.Predicate) {
	for _, seg := range segments(pred.Value) {
		p.criteria.Header = append(p.criteria.Header, imap.SearchCriteriaHeaderField{Key: key, Value: seg})
	}
	p.refine = append(p.refine, pred)
}

// segments returns the literal parts of a LIKE pattern.
func segments(pattern string) []string {
	var out []string
	for _, s := range strings.Split(pattern, "%") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func rejected(pred filter.Predicate) error {
	return fmt.Errorf("%w: IMAP cannot search %s %s", mailstore.ErrFilterRejected, pred.Property, pred.Op)
}

func laterOf(a, b time.Time) time.Time {
	if a.IsZero() || b.After(a) {
		return b
	}
	return a
}

func earlierOf(a, b time.Time) time.Time {
	if a.IsZero() || b.Before(a) {
		return b
	}
	return a
}
