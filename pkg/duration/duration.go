// Package duration parses and formats durations with calendar-style units
// on top of the standard nanosecond-through-hour set: days, weeks, months
// (30 days), and years (365 days). Components may be written run together
// ("1w2d12h") or spaced out ("30 days"), using short or word unit forms.
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

var units = map[string]time.Duration{
	"ns": time.Nanosecond, "nano": time.Nanosecond, "nanos": time.Nanosecond,
	"nanosecond": time.Nanosecond, "nanoseconds": time.Nanosecond,

	"us": time.Microsecond, "µs": time.Microsecond, "μs": time.Microsecond,
	"micro": time.Microsecond, "micros": time.Microsecond,
	"microsecond": time.Microsecond, "microseconds": time.Microsecond,

	"ms": time.Millisecond, "milli": time.Millisecond, "millis": time.Millisecond,
	"millisecond": time.Millisecond, "milliseconds": time.Millisecond,

	"s": time.Second, "sec": time.Second, "secs": time.Second,
	"second": time.Second, "seconds": time.Second,

	"m": time.Minute, "min": time.Minute, "mins": time.Minute,
	"minute": time.Minute, "minutes": time.Minute,

	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour,
	"hour": time.Hour, "hours": time.Hour,

	"d": Day, "day": Day, "days": Day,

	"w": Week, "wk": Week, "wks": Week,
	"week": Week, "weeks": Week,

	"mo": Month, "mos": Month,
	"month": Month, "months": Month,

	"y": Year, "yr": Year, "yrs": Year,
	"year": Year, "years": Year,
}

// Parse converts a human-readable duration string. Each component is a
// number followed by a unit; "0" alone is valid. Units are
// case-insensitive and whitespace between components is ignored.
func Parse(s string) (time.Duration, error) {
	input := strings.TrimSpace(s)
	if input == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(input, "-")
	if negative {
		input = strings.TrimSpace(input[1:])
	}
	if input == "0" {
		return 0, nil
	}

	var total time.Duration
	rest := input
	for rest != "" {
		rest = strings.TrimSpace(rest)

		// Number.
		numEnd := 0
		for numEnd < len(rest) && (rest[numEnd] >= '0' && rest[numEnd] <= '9' || rest[numEnd] == '.') {
			numEnd++
		}
		if numEnd == 0 {
			return 0, fmt.Errorf("duration: expected number in %q", s)
		}
		num := rest[:numEnd]
		rest = strings.TrimSpace(rest[numEnd:])

		// Unit: a run of letters (including µ).
		unitEnd := 0
		for _, r := range rest {
			if !unicode.IsLetter(r) {
				break
			}
			unitEnd += len(string(r))
		}
		if unitEnd == 0 {
			return 0, fmt.Errorf("duration: missing unit after %q in %q", num, s)
		}
		unit := strings.ToLower(rest[:unitEnd])
		rest = rest[unitEnd:]

		mult, ok := units[unit]
		if !ok {
			return 0, fmt.Errorf("duration: unknown unit %q in %q", unit, s)
		}

		// Integer components multiply exactly; fractions go through float.
		if strings.Contains(num, ".") {
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("duration: invalid number %q: %w", num, err)
			}
			total += time.Duration(f * float64(mult))
		} else {
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("duration: invalid number %q: %w", num, err)
			}
			total += time.Duration(n) * mult
		}
	}

	if negative {
		total = -total
	}
	return total, nil
}

// Format renders a duration using the largest fitting units, omitting zero
// components: 90 minutes formats as "1h30m", 8 days as "1w1d".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	steps := []struct {
		unit time.Duration
		name string
	}{
		{Year, "y"}, {Month, "mo"}, {Week, "w"}, {Day, "d"},
		{time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"},
		{time.Millisecond, "ms"}, {time.Microsecond, "µs"}, {time.Nanosecond, "ns"},
	}
	for _, st := range steps {
		if n := d / st.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, st.name)
			d -= n * st.unit
		}
	}
	return b.String()
}
