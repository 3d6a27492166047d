package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"standard hours", "720h", 720 * time.Hour, false},
		{"clock combo", "1h30m", 90 * time.Minute, false},
		{"retention days", "30d", 30 * 24 * time.Hour, false},
		{"retention weeks", "4w", 4 * 7 * 24 * time.Hour, false},
		{"calendar combo", "1w2d12h", (7*24 + 2*24 + 12) * time.Hour, false},
		{"full ladder", "1w2d3h4m5s", 9*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second, false},
		{"zero", "0s", 0, false},
		{"garbage", "soon", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration())
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("30d")))
	assert.Equal(t, 30*24*time.Hour, d.Duration())
}

func TestDurationJSON(t *testing.T) {
	// Strings and raw nanosecond counts both unmarshal.
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"2w"`), &d))
	assert.Equal(t, 14*24*time.Hour, d.Duration())

	require.NoError(t, json.Unmarshal([]byte(`2592000000000000`), &d))
	assert.Equal(t, 30*24*time.Hour, d.Duration())

	data, err := json.Marshal(Duration(30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, `"4w2d"`, string(data))
}

func TestDurationString(t *testing.T) {
	tests := []struct {
		input Duration
		want  string
	}{
		{Duration(0), "0s"},
		{Duration(14 * 24 * time.Hour), "2w"},
		{Duration(3 * 24 * time.Hour), "3d"},
		{Duration(9 * 24 * time.Hour), "1w2d"},
		{Duration(12 * time.Hour), "12h0m0s"},
		{Duration(7*24*time.Hour + 12*time.Hour), "1w12h0m0s"},
		{Duration(-3 * 24 * time.Hour), "-3d"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.input.String())
	}
}
