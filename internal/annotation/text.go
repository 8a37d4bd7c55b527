package annotation

import (
	"regexp"
	"strings"
)

// DefaultSubjectLimit bounds a discussion subject, in runes.
const DefaultSubjectLimit = 500

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeText collapses whitespace runs to a single space and trims.
func NormalizeText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// MergeSubject appends highlight to base unless base already contains it,
// ignoring case. The result is normalized and, when limit is positive,
// truncated to limit runes keeping the leading text.
func MergeSubject(base, highlight string, limit int) string {
	base = NormalizeText(base)
	highlight = NormalizeText(highlight)
	merged := base
	if highlight != "" && !strings.Contains(strings.ToLower(base), strings.ToLower(highlight)) {
		merged = NormalizeText(base + " " + highlight)
	}
	return truncateRunes(merged, limit)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return strings.TrimSpace(string(runes[:limit]))
}
