// Package timewindow parses the short time-range expressions users type
// when asking for balance history. It is deliberately independent of the
// collection scheduler.
package timewindow

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is a half-open interval [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// ErrUnrecognized is returned when the input matches none of the supported
// forms.
var ErrUnrecognized = errors.New("timewindow: unrecognized expression")

var relativePattern = regexp.MustCompile(`^-?(\d+)([hdw])$`)

// Parse resolves an expression against a reference instant. Supported forms:
//
//	""                      the last 24 hours
//	"-3d", "12h", "2w"      a relative offset ending at now
//	"20260115", "0115"      one compact-digit day (current year when 4 digits)
//	"2026-01-15"            one delimited day
//	"2026-01-15 08:00"      one hour starting at the given minute
//	"<a>~<b>"               an explicit range of two point expressions
func Parse(input string, now time.Time) (Window, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Window{From: now.Add(-24 * time.Hour), To: now}, nil
	}

	if before, after, found := strings.Cut(trimmed, "~"); found {
		from, _, err := parsePoint(strings.TrimSpace(before), now)
		if err != nil {
			return Window{}, err
		}
		to, span, err := parsePoint(strings.TrimSpace(after), now)
		if err != nil {
			return Window{}, err
		}
		to = to.Add(span)
		if !from.Before(to) {
			return Window{}, fmt.Errorf("timewindow: range start %s is not before end %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
		}
		return Window{From: from, To: to}, nil
	}

	if match := relativePattern.FindStringSubmatch(trimmed); match != nil {
		count, err := strconv.Atoi(match[1])
		if err != nil || count == 0 {
			return Window{}, ErrUnrecognized
		}
		var unit time.Duration
		switch match[2] {
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		return Window{From: now.Add(-time.Duration(count) * unit), To: now}, nil
	}

	point, span, err := parsePoint(trimmed, now)
	if err != nil {
		return Window{}, err
	}
	return Window{From: point, To: point.Add(span)}, nil
}

// parsePoint resolves one point expression, returning the implied span of
// the expression's precision (a bare day covers 24 hours, a minute-precise
// point covers one hour).
func parsePoint(input string, now time.Time) (time.Time, time.Duration, error) {
	if isDigits(input) {
		switch len(input) {
		case 8:
			day, err := time.ParseInLocation("20060102", input, now.Location())
			if err != nil {
				return time.Time{}, 0, ErrUnrecognized
			}
			return day, 24 * time.Hour, nil
		case 4:
			day, err := time.ParseInLocation("0102", input, now.Location())
			if err != nil {
				return time.Time{}, 0, ErrUnrecognized
			}
			return day.AddDate(now.Year(), 0, 0), 24 * time.Hour, nil
		}
		return time.Time{}, 0, ErrUnrecognized
	}

	for _, layout := range []string{"2006-01-02 15:04", "2006/01/02 15:04"} {
		if point, err := time.ParseInLocation(layout, input, now.Location()); err == nil {
			return point, time.Hour, nil
		}
	}
	for _, layout := range []string{time.DateOnly, "2006/01/02"} {
		if day, err := time.ParseInLocation(layout, input, now.Location()); err == nil {
			return day, 24 * time.Hour, nil
		}
	}
	return time.Time{}, 0, ErrUnrecognized
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
