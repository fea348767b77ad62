// Package normalizer resolves raw local time strings extracted from a gym's
// schedule page into absolute UTC instants.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdayTokens = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

var dayTokenRe = regexp.MustCompile(`(?i)\b(sunday|monday|tuesday|wednesday|thursday|friday|saturday|sun|mon|tue|wed|thu|fri|sat|today|tomorrow)\b`)

// leadingWordRe picks up a leading alphabetic word that is not a known day
// token, so it can be reported as unrecognized.
var leadingWordRe = regexp.MustCompile(`^\s*([A-Za-z]+)\b`)

var (
	time12hRe = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	time24hRe = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
)

// Result is a successfully normalized instant, or a failure with a warning.
type Result struct {
	InstantUTC time.Time
	Warning    string
}

// Normalize resolves raw (a local time string, optionally carrying a day
// token) against ianaTZ, relative to reference (the "now" the day token
// resolution is computed from). It returns an error only when no recognized
// time shape can be parsed from raw; an unrecognized day token is tolerated
// by falling back to the reference date, with a warning.
func Normalize(raw string, ianaTZ string, reference time.Time) (Result, error) {
	loc, err := time.LoadLocation(ianaTZ)
	if err != nil {
		return Result{}, fmt.Errorf("load location %q: %w", ianaTZ, err)
	}
	refInZone := reference.In(loc)

	date, warning := resolveDate(raw, refInZone)
	hour, minute, err := parseTimeToken(raw)
	if err != nil {
		return Result{}, err
	}

	local := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
	return Result{InstantUTC: local.UTC(), Warning: warning}, nil
}

func resolveDate(raw string, refInZone time.Time) (time.Time, string) {
	match := dayTokenRe.FindString(raw)
	if match == "" {
		if w := leadingWordRe.FindStringSubmatch(raw); w != nil {
			return refInZone, fmt.Sprintf("unrecognized day token %q; used reference date", w[1])
		}
		return refInZone, ""
	}
	token := strings.ToLower(match)
	switch token {
	case "today":
		return refInZone, ""
	case "tomorrow":
		return refInZone.AddDate(0, 0, 1), ""
	}
	weekday, ok := weekdayTokens[token]
	if !ok {
		return refInZone, fmt.Sprintf("unrecognized day token %q; used reference date", match)
	}
	offset := (int(weekday) - int(refInZone.Weekday()) + 7) % 7
	return refInZone.AddDate(0, 0, offset), ""
}

func parseTimeToken(raw string) (hour, minute int, err error) {
	if m := time12hRe.FindStringSubmatch(raw); m != nil {
		h, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return 0, 0, fmt.Errorf("parse hour: %w", convErr)
		}
		min := 0
		if m[2] != "" {
			min, convErr = strconv.Atoi(m[2])
			if convErr != nil {
				return 0, 0, fmt.Errorf("parse minute: %w", convErr)
			}
		}
		meridiem := strings.ToLower(m[3])
		hour24 := to24Hour(h, meridiem)
		return hour24, min, nil
	}
	if m := time24hRe.FindStringSubmatch(raw); m != nil {
		h, convErr := strconv.Atoi(m[1])
		if convErr != nil {
			return 0, 0, fmt.Errorf("parse hour: %w", convErr)
		}
		min, convErr := strconv.Atoi(m[2])
		if convErr != nil {
			return 0, 0, fmt.Errorf("parse minute: %w", convErr)
		}
		return h, min, nil
	}
	return 0, 0, fmt.Errorf("no recognized time shape in %q", raw)
}

// to24Hour converts a 12-hour clock hour+meridiem to 24-hour: 12 AM = 0,
// 12 PM = 12.
func to24Hour(h int, meridiem string) int {
	if meridiem == "am" {
		if h == 12 {
			return 0
		}
		return h
	}
	if h == 12 {
		return 12
	}
	return h + 12
}
