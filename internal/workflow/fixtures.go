package workflow

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Fixtures is a YAML file of applications to submit, typically one QA
// scenario per file.
type Fixtures struct {
	RunID        string        `yaml:"run_id,omitempty"`
	Actor        string        `yaml:"actor,omitempty"`
	Applications []Application `yaml:"applications"`
}

// LoadFixtures reads and validates a fixture file.
// Unknown fields are rejected to catch typos.
func LoadFixtures(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load fixtures: %w", err)
	}

	var f Fixtures
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("load fixtures: parse %s: %w", path, err)
	}
	if len(f.Applications) == 0 {
		return nil, fmt.Errorf("load fixtures: %s: no applications", path)
	}
	for i := range f.Applications {
		if err := f.Applications[i].Validate(); err != nil {
			return nil, fmt.Errorf("load fixtures: %s: application %d: %w", path, i, err)
		}
	}
	return &f, nil
}
