package protocol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrUnrecognizedDate = errors.New("unrecognized date format")

var relativePattern = regexp.MustCompile(`(?i)(\d+)\s+(hour|minute)s?\s+ago`)

// absoluteLayouts are tried in order after the relative form.
var absoluteLayouts = []string{
	"January 2, 2006",
	"Jan. 2, 2006",
	"Jan 2, 2006",
}

// ResolveDate turns a result timestamp into an absolute time. "3 hours ago" and
// "45 minutes ago" are anchored at now; "January 5, 2024" is midnight of that day in now's
// location.
func ResolveDate(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if m := relativePattern.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("%q: %w", text, ErrUnrecognizedDate)
		}
		unit := time.Minute
		if strings.EqualFold(m[2], "hour") {
			unit = time.Hour
		}
		return now.Add(-time.Duration(n) * unit), nil
	}

	// AP style abbreviates September as "Sept."
	normalized := strings.Replace(text, "Sept.", "Sep.", 1)
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, normalized, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q: %w", text, ErrUnrecognizedDate)
}
