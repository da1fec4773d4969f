// Package cronexpr parses the cron expressions of scheduled rules and
// computes their occurrences in the rule's timezone.
//
// Both the 5-field form and the 6-field form with a leading seconds field
// ("0 0 * * * *" is hourly) are accepted, as are descriptors like @daily.
package cronexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // rule timezones must resolve in minimal containers

	"github.com/robfig/cron/v3"
)

// ErrInvalid wraps every parse failure of an expression or timezone.
var ErrInvalid = errors.New("invalid cron expression")

// MaxPreview bounds NextN.
const MaxPreview = 100

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Parse parses expr.
func Parse(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalid)
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalid, expr, err)
	}
	return s, nil
}

// Location resolves an IANA timezone name. Empty means UTC.
func Location(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown timezone %q", ErrInvalid, tz)
	}
	return loc, nil
}

// Validate checks both the expression and the timezone.
func Validate(expr, tz string) error {
	if _, err := Location(tz); err != nil {
		return err
	}
	_, err := Parse(expr)
	return err
}

// Next returns the first occurrence strictly after the given instant,
// evaluated in timezone tz.
func Next(expr, tz string, after time.Time) (time.Time, error) {
	times, err := NextN(expr, tz, after, 1)
	if err != nil {
		return time.Time{}, err
	}
	return times[0], nil
}

// NextN returns the next n occurrences after the given instant. n is
// clamped to [1, MaxPreview].
func NextN(expr, tz string, after time.Time, n int) ([]time.Time, error) {
	loc, err := Location(tz)
	if err != nil {
		return nil, err
	}
	s, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if n < 1 {
		n = 1
	}
	if n > MaxPreview {
		n = MaxPreview
	}
	out := make([]time.Time, 0, n)
	t := after.In(loc)
	for i := 0; i < n; i++ {
		t = s.Next(t)
		if t.IsZero() {
			// robfig returns the zero time when nothing matches within five years.
			if len(out) == 0 {
				return nil, fmt.Errorf("%w %q: no upcoming occurrence", ErrInvalid, expr)
			}
			break
		}
		out = append(out, t)
	}
	return out, nil
}
