// Package bytesize parses and formats human-readable byte sizes using
// binary (1024) multiples. "5MB", "1.5 GB", and bare byte counts are all
// accepted; KiB-style spellings are treated the same as KB.
package bytesize

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

const (
	B  Size = 1
	KB Size = 1024 * B
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
	PB Size = 1024 * TB
)

var units = map[string]Size{
	"":      B,
	"b":     B,
	"byte":  B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
	"t":     TB,
	"tb":    TB,
	"tib":   TB,
	"p":     PB,
	"pb":    PB,
	"pib":   PB,
}

// Parse converts a string like "500KB" or "1.5 GB" to a Size. A bare
// number is a byte count. Units are case-insensitive.
func Parse(s string) (Size, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	// Split at the first unit character.
	split := len(trimmed)
	for i, r := range trimmed {
		if (r < '0' || r > '9') && r != '.' {
			split = i
			break
		}
	}

	num := strings.TrimSpace(trimmed[:split])
	unit := strings.ToLower(strings.TrimSpace(trimmed[split:]))
	if num == "" {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", num, err)
	}
	mult, ok := units[unit]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", unit)
	}
	return Size(value * float64(mult)), nil
}

// Format renders a Size with the largest unit that keeps the value at or
// above one, trimming trailing zeros: 1536*KB formats as "1.5MB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}
	sign := ""
	if s < 0 {
		sign, s = "-", -s
	}

	type step struct {
		unit Size
		name string
	}
	for _, st := range []step{{PB, "PB"}, {TB, "TB"}, {GB, "GB"}, {MB, "MB"}, {KB, "KB"}} {
		if s < st.unit {
			continue
		}
		v := float64(s) / float64(st.unit)
		if v == float64(int64(v)) {
			return fmt.Sprintf("%s%d%s", sign, int64(v), st.name)
		}
		txt := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
		return sign + txt + st.name
	}
	return fmt.Sprintf("%s%dB", sign, s)
}

// Bytes returns the size as a plain int64.
func (s Size) Bytes() int64 { return int64(s) }

func (s Size) String() string { return Format(s) }
