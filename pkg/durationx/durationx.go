// Package durationx parses human duration text such as "1 hour",
// "7 days, 45 minutes" or "1y11d20m" into calendar-aware durations.
package durationx

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrParse reports duration text that has no recognisable unit or contains
// fragments that do not belong to any unit.
var ErrParse = errors.New("durationx: cannot parse duration")

// ParseError carries the offending input alongside ErrParse.
type ParseError struct {
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil && !errors.Is(e.Err, ErrParse) {
		return fmt.Sprintf("durationx: cannot parse %q: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("durationx: cannot parse %q", e.Input)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, ErrParse) {
		return []error{ErrParse}
	}
	return []error{ErrParse, e.Err}
}

// Units are matched in a fixed order. Months must come before minutes so
// that "mo" is claimed by months before "m" falls through to minutes.
var pattern = regexp.MustCompile(`^` +
	`(?:(?P<years>\d+)y[a-z]*)?` +
	`(?:(?P<months>\d+)mo[a-z]*)?` +
	`(?:(?P<days>\d+)d[a-z]*)?` +
	`(?:(?P<hours>\d+)h[a-z]*)?` +
	`(?:(?P<minutes>\d+)m[a-z]*)?` +
	`(?:(?P<seconds>\d+)s[a-z]*)?` +
	`$`)

// Duration is a calendar duration. Years, months and days are applied with
// calendar arithmetic so they are not fixed lengths of time.
type Duration struct {
	Years   int
	Months  int
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Parse turns free-form duration text into a Duration. Spaces and commas are
// ignored and matching is case-insensitive.
func Parse(text string) (Duration, error) {
	normalized := strings.ToLower(strings.NewReplacer(" ", "", ",", "").Replace(text))
	if normalized == "" {
		return Duration{}, &ParseError{Input: text}
	}

	match := pattern.FindStringSubmatch(normalized)
	if match == nil {
		return Duration{}, &ParseError{Input: text}
	}

	var (
		d     Duration
		found bool
	)
	fields := map[string]*int{
		"years":   &d.Years,
		"months":  &d.Months,
		"days":    &d.Days,
		"hours":   &d.Hours,
		"minutes": &d.Minutes,
		"seconds": &d.Seconds,
	}

	for i, name := range pattern.SubexpNames() {
		dst, ok := fields[name]
		if !ok || match[i] == "" {
			continue
		}

		n, err := strconv.Atoi(match[i])
		if err != nil {
			return Duration{}, &ParseError{Input: text, Err: err}
		}
		*dst = n
		found = true
	}

	if !found {
		return Duration{}, &ParseError{Input: text}
	}

	return d, nil
}

// MustParse is like Parse but panics on error. Use it for constants and tests.
func MustParse(text string) Duration {
	d, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return d
}

// AddTo returns t moved forward by d. Calendar units go through AddDate, so
// adding one month to January 31st follows time.Time normalisation.
func (d Duration) AddTo(t time.Time) time.Time {
	return t.AddDate(d.Years, d.Months, d.Days).Add(
		time.Duration(d.Hours)*time.Hour +
			time.Duration(d.Minutes)*time.Minute +
			time.Duration(d.Seconds)*time.Second,
	)
}

// IsZero reports whether every unit is zero.
func (d Duration) IsZero() bool {
	return d == Duration{}
}

// String formats d in the compact form accepted by Parse, e.g. "1y2mo3d".
func (d Duration) String() string {
	var b strings.Builder
	units := []struct {
		n      int
		suffix string
	}{
		{d.Years, "y"},
		{d.Months, "mo"},
		{d.Days, "d"},
		{d.Hours, "h"},
		{d.Minutes, "m"},
		{d.Seconds, "s"},
	}
	for _, u := range units {
		if u.n == 0 {
			continue
		}
		b.WriteString(strconv.Itoa(u.n))
		b.WriteString(u.suffix)
	}
	if b.Len() == 0 {
		return "0s"
	}
	return b.String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

