// Package jobspec loads and validates job documents: the YAML description
// of one transcoding run's input, output targets, and per-target filters.
package jobspec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Spec describes one job: a single input fanned out to one or more output
// targets.
type Spec struct {
	// Input is the path to the source container. Compressed inputs
	// (gzip, bzip2, xz, brotli) are detected and unwrapped.
	Input string `yaml:"input"`

	// Outputs are the targets. Each target gets its own encoder branch
	// per selected stream, so one target failing leaves the others
	// running.
	Outputs []Output `yaml:"outputs"`
}

// Output describes one output target.
type Output struct {
	// Path is the output container path, relative to the configured
	// output directory unless absolute.
	Path string `yaml:"path"`

	// Streams selects input streams by ID. Empty selects all.
	Streams []int `yaml:"streams"`

	// Filters run in order on every selected stream's frames.
	Filters []Filter `yaml:"filters"`
}

// Filter names one filter and its parameters.
type Filter struct {
	Name   string            `yaml:"name"`
	Params map[string]string `yaml:"params"`
}

// Load reads and validates a job document from path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading job spec: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a job document.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing job spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks the document for structural errors.
func (s *Spec) Validate() error {
	if s.Input == "" {
		return fmt.Errorf("input is required")
	}
	if len(s.Outputs) == 0 {
		return fmt.Errorf("at least one output is required")
	}

	seen := make(map[string]bool, len(s.Outputs))
	for i, out := range s.Outputs {
		if out.Path == "" {
			return fmt.Errorf("outputs[%d].path is required", i)
		}
		if seen[out.Path] {
			return fmt.Errorf("duplicate output path %q", out.Path)
		}
		seen[out.Path] = true

		for j, sid := range out.Streams {
			if sid < 0 {
				return fmt.Errorf("outputs[%d].streams[%d] is negative", i, j)
			}
		}
		for j, f := range out.Filters {
			if f.Name == "" {
				return fmt.Errorf("outputs[%d].filters[%d].name is required", i, j)
			}
		}
	}
	return nil
}
