package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"hours", "720h", 720 * time.Hour, false},
		{"minutes", "30m", 30 * time.Minute, false},
		{"seconds", "45s", 45 * time.Second, false},
		{"milliseconds", "100ms", 100 * time.Millisecond, false},
		{"combined", "1h30m", 90 * time.Minute, false},
		{"fractional hours", "1.5h", 90 * time.Minute, false},

		{"days short", "30d", 30 * Day, false},
		{"days word", "30 days", 30 * Day, false},
		{"day singular", "1 day", Day, false},
		{"weeks short", "2w", 2 * Week, false},
		{"weeks word", "2 weeks", 2 * Week, false},
		{"wk abbrev", "2wks", 2 * Week, false},
		{"months", "2 months", 2 * Month, false},
		{"month short", "1mo", Month, false},
		{"years", "1 year", Year, false},
		{"year abbrev", "2yrs", 2 * Year, false},

		{"run together", "1w2d12h", Week + 2*Day + 12*time.Hour, false},
		{"spaced out", "1 week 2 days 3h", Week + 2*Day + 3*time.Hour, false},
		{"calendar ladder", "1y1mo1w1d", Year + Month + Week + Day, false},
		{"word time units", "2 hours 30 minutes", 2*time.Hour + 30*time.Minute, false},

		{"uppercase", "30DAYS", 30 * Day, false},
		{"mixed case", "30Days", 30 * Day, false},

		{"bare zero", "0", 0, false},
		{"zero seconds", "0s", 0, false},
		{"negative", "-30d", -30 * Day, false},
		{"negative word form", "-30 days", -30 * Day, false},

		{"retention year as days", "365d", Year, false},
		{"retention year as weeks and days", "52w1d", Year, false},

		{"empty", "", 0, true},
		{"no number", "days", 0, true},
		{"missing unit", "30", 0, true},
		{"unknown unit", "5 fortnights", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got, "Parse(%q)", tt.input)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name  string
		input time.Duration
		want  string
	}{
		{"zero", 0, "0s"},
		{"seconds", 45 * time.Second, "45s"},
		{"minutes", 30 * time.Minute, "30m"},
		{"compound time", 90 * time.Minute, "1h30m"},
		{"one day", Day, "1d"},
		{"week and days", 9 * Day, "1w2d"},
		{"month and week", 37 * Day, "1mo1w"},
		{"year and month", Year + Month, "1y1mo"},
		{"sub second", 1500 * time.Microsecond, "1ms500µs"},
		{"negative", -3 * Day, "-3d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.input))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range []time.Duration{
		0, time.Second, time.Minute, time.Hour,
		Day, Week, Month, Year,
		Year + 2*Month + 3*Day + 4*time.Hour,
	} {
		parsed, err := Parse(Format(d))
		require.NoError(t, err)
		assert.Equal(t, d, parsed, "round trip through %q", Format(d))
	}
}

func TestParseEquivalence(t *testing.T) {
	groups := [][]string{
		{"1d", "1 day", "24h"},
		{"1w", "1 week", "7d", "168h"},
		{"1mo", "1 month", "30d"},
		{"1y", "1 year", "365d", "52w1d"},
		{"1d12h", "36h", "1.5d"},
	}

	for _, group := range groups {
		want, err := Parse(group[0])
		require.NoError(t, err)
		for _, s := range group[1:] {
			got, err := Parse(s)
			require.NoError(t, err)
			assert.Equal(t, want, got, "%q should equal %q", s, group[0])
		}
	}
}
