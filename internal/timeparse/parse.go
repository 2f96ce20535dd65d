// Package timeparse parses the literal date-time formats accepted on trip
// entry. The parser accepts exactly the documented layouts and reports a
// typed error for anything else; it never guesses.
package timeparse

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ParseError reports an input that matches none of the accepted layouts.
type ParseError struct {
	Input string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timeparse: unrecognized date-time %q", e.Input)
}

// layouts are the documented literal formats, tried in order.
var layouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 3:04 pm",
	"01/02/2006 15:04",
	"01/02/2006 3:04 pm",
}

// Dispatchers habitually type a bare "a" or "p" for the meridiem.
var meridiem = regexp.MustCompile(`\b([ap])\b`)

// Parse interprets s in the given location. Layouts carrying their own offset
// (RFC 3339) keep it; all others are wall-clock values in loc.
func Parse(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	normalized := strings.TrimSpace(strings.ToLower(s))
	normalized = meridiem.ReplaceAllString(normalized, "${1}m")

	for _, layout := range layouts {
		var (
			t   time.Time
			err error
		)
		if layout == time.RFC3339 {
			t, err = time.Parse(layout, strings.TrimSpace(s))
		} else {
			t, err = time.ParseInLocation(layout, normalized, loc)
		}
		if err == nil {
			return t, nil
		}
	}

	return time.Time{}, &ParseError{Input: s}
}
