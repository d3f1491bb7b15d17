// Package cells converts raw CSV cell strings into typed values. Lab exports carry
// qualifier text, units and inconsistent date/time spellings, so numeric parsing is
// lenient while date and time parsing fail loudly with the offending row.
package cells

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

var numberRe = regexp.MustCompile(`[-+]?\d*\.?\d+(?:[eE][-+]?\d+)?`)

var months = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// Norm folds a header or lookup name for case-insensitive matching: NFKC
// (NBSP becomes a plain space), whitespace runs collapsed, trimmed, lower-cased.
func Norm(s string) string {
	s = norm.NFKC.String(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ExtractNumber returns the first numeric token in the cell. "ND" (non-detect)
// is reported as 0. The boolean is false when no usable number is present.
func ExtractNumber(cell string) (float64, bool) {
	s := strings.TrimSpace(cell)
	if strings.EqualFold(s, "ND") {
		return 0, true
	}
	if s == "" {
		return 0, false
	}
	tok := numberRe.FindString(s)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// ParseDate parses a D-Mon-YY date ("29-Jan-25") into midnight UTC of that day.
func ParseDate(raw string, row int) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	parts := strings.Split(trimmed, "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf(`Row %d: "Date" must be DD-Mon-YY (e.g. 29-Jan-25). Got %q`, row, raw)
	}

	month, ok := months[strings.ToLower(strings.TrimSpace(parts[1]))]
	if !ok {
		return time.Time{}, fmt.Errorf(`Row %d: Unknown month %q in Date %q. Expected Jan, Feb, ...`, row, parts[1], raw)
	}

	yy := strings.TrimSpace(parts[2])
	year, err := strconv.Atoi(yy)
	if err != nil || year < 0 {
		return time.Time{}, fmt.Errorf(`Row %d: Invalid year %q in Date %q.`, row, parts[2], raw)
	}
	if len(yy) == 2 {
		year += 2000
	}

	day, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf(`Row %d: Invalid day %q in Date %q.`, row, parts[0], raw)
	}

	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, fmt.Errorf(`Row %d: Day %d does not exist in %s %d (Date %q).`, row, day, month, year, raw)
	}
	return t, nil
}

// NormalizeDate converts "29-Jan-25" into "2025-01-29".
func NormalizeDate(raw string, row int) (string, error) {
	t, err := ParseDate(raw, row)
	if err != nil {
		return "", err
	}
	return t.Format(time.DateOnly), nil
}

// NormalizeTime converts H:MM[:SS] into zero-padded HH:MM:SS.
func NormalizeTime(raw string, row int) (string, error) {
	h, m, s, err := parseClock(raw, row)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s), nil
}

// ClockOffset returns the time of day of raw as a duration since midnight.
func ClockOffset(raw string, row int) (time.Duration, error) {
	h, m, s, err := parseClock(raw, row)
	if err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second, nil
}

func parseClock(raw string, row int) (int, int, int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf(`Row %d: "TimeSample" must be HH:MM[:SS] (e.g. 06:03:00). Got %q`, row, raw)
	}
	if len(parts) == 2 {
		parts = append(parts, "00")
	}

	limits := [3]int{23, 59, 59}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > limits[i] {
			return 0, 0, 0, fmt.Errorf(`Row %d: Invalid time %q for TimeSample.`, row, raw)
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], nil
}

// SplitParameters splits the Parameters cell on commas and line breaks.
func SplitParameters(cell string) []string {
	fields := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
