package structuring

import (
	"regexp"
	"strings"
	"time"
)

// dateLayouts covers the formats documents actually carry. Ambiguous
// DD/MM vs MM/DD input is resolved as day-first, which matches the
// issuing conventions of the supported document types.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02/01/2006",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006/01/02",
}

var dateCleanup = regexp.MustCompile(`(?i)\b(\d{1,2})(st|nd|rd|th)\b`)

// NormalizeDate converts a date string to YYYY-MM-DD. It returns
// ("", false) when the input cannot be parsed as a date.
func NormalizeDate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	s = dateCleanup.ReplaceAllString(s, "$1")
	s = strings.Join(strings.Fields(s), " ")

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
