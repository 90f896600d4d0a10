package filter

import (
	"regexp"
	"strings"
)

// replyPrefix matches one reply or forward marker, including numbered forms
// like "Re[2]:".
var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fw|fwd|aw|wg|sv)(\[\d+\])?\s*:\s*`)

// NormalizeTopic strips any number of reply/forward prefixes from subject.
func NormalizeTopic(subject string) string {
	s := subject
	for {
		loc := replyPrefix.FindStringIndex(s)
		if loc == nil {
			break
		}
		s = s[loc[1]:]
	}
	return strings.TrimSpace(s)
}
