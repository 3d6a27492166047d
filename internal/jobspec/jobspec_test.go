package jobspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSpec = `
input: capture.ts.gz
outputs:
  - path: main.ts
    streams: [0, 1]
    filters:
      - name: pts_offset
        params:
          offset: "9000"
      - name: monotonic_guard
  - path: video-only.ts
    streams: [0]
`

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(sampleSpec))
	require.NoError(t, err)

	assert.Equal(t, "capture.ts.gz", spec.Input)
	require.Len(t, spec.Outputs, 2)

	main := spec.Outputs[0]
	assert.Equal(t, "main.ts", main.Path)
	assert.Equal(t, []int{0, 1}, main.Streams)
	require.Len(t, main.Filters, 2)
	assert.Equal(t, "pts_offset", main.Filters[0].Name)
	assert.Equal(t, "9000", main.Filters[0].Params["offset"])
	assert.Equal(t, "monotonic_guard", main.Filters[1].Name)

	second := spec.Outputs[1]
	assert.Equal(t, "video-only.ts", second.Path)
	assert.Empty(t, second.Filters)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleSpec), 0o600))

	spec, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "capture.ts.gz", spec.Input)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("input: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr string
	}{
		{
			name:    "missing input",
			spec:    Spec{Outputs: []Output{{Path: "a.ts"}}},
			wantErr: "input is required",
		},
		{
			name:    "no outputs",
			spec:    Spec{Input: "in.ts"},
			wantErr: "at least one output",
		},
		{
			name:    "output without path",
			spec:    Spec{Input: "in.ts", Outputs: []Output{{}}},
			wantErr: "outputs[0].path",
		},
		{
			name: "duplicate output paths",
			spec: Spec{Input: "in.ts", Outputs: []Output{
				{Path: "a.ts"}, {Path: "a.ts"},
			}},
			wantErr: "duplicate output path",
		},
		{
			name: "negative stream id",
			spec: Spec{Input: "in.ts", Outputs: []Output{
				{Path: "a.ts", Streams: []int{-1}},
			}},
			wantErr: "negative",
		},
		{
			name: "unnamed filter",
			spec: Spec{Input: "in.ts", Outputs: []Output{
				{Path: "a.ts", Filters: []Filter{{}}},
			}},
			wantErr: "filters[0].name",
		},
		{
			name: "valid",
			spec: Spec{Input: "in.ts", Outputs: []Output{{Path: "a.ts"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
