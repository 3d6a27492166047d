package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmylchreest/flowmux/pkg/duration"
)

// Duration is a time.Duration accepting calendar-style values ("30d",
// "2w", "1w2d12h") in YAML, JSON, and environment variables, alongside the
// standard Go forms.
type Duration time.Duration

// ParseDuration parses a humanized duration string.
func ParseDuration(s string) (Duration, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return 0, err
	}
	return Duration(d), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}
	// Plain numbers are nanoseconds, matching time.Duration's own JSON shape.
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return err
	}
	*d = Duration(ns)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String renders week and day components ahead of the standard clock units,
// so a 30-day retention reads "4w2d" rather than "720h0m0s".
func (d Duration) String() string {
	dur := time.Duration(d)
	if dur == 0 {
		return "0s"
	}

	var sign string
	if dur < 0 {
		sign, dur = "-", -dur
	}

	weeks := dur / (7 * 24 * time.Hour)
	dur -= weeks * 7 * 24 * time.Hour
	days := dur / (24 * time.Hour)
	dur -= days * 24 * time.Hour

	out := sign
	if weeks > 0 {
		out += fmt.Sprintf("%dw", weeks)
	}
	if days > 0 {
		out += fmt.Sprintf("%dd", days)
	}
	if dur > 0 || out == sign {
		out += dur.String()
	}
	return out
}
