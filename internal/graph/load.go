package graph

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

// cueSchema constrains tier files written in CUE. Unification with the
// closed #Graph definition also rejects misspelled fields.
const cueSchema = `
#Table: {
	name:        =~"^[a-z_][a-z0-9_]*$"
	tier:        int & >=0
	junction?:   bool
	references?: [...string]
}

#Graph: {
	default_tier?: int & >=0
	tables: [...#Table]
}
`

// Load reads a tier file, choosing the decoder by extension
// (.yaml, .yml, .json or .cue), and builds the Graph.
func Load(path string) (*Graph, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return LoadCUE(path)
	case ".yaml", ".yml", ".json":
		return LoadYAML(path)
	default:
		return nil, fmt.Errorf("load graph: unsupported file extension %q", filepath.Ext(path))
	}
}

// LoadYAML reads a YAML (or JSON) tier file.
// Unknown fields are rejected to catch typos like "teir:".
func LoadYAML(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("load graph: parse %s: %w", path, err)
	}

	g, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("load graph: %s: %w", path, err)
	}
	return g, nil
}

// LoadCUE reads a CUE tier file and checks it against the #Graph schema
// before decoding.
func LoadCUE(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(cueSchema).LookupPath(cue.ParsePath("#Graph"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("load graph: compile schema: %w", err)
	}

	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("load graph: %s: %s", path, cueerrors.Details(err, nil))
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("load graph: %s: %s", path, cueerrors.Details(err, nil))
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("load graph: decode %s: %w", path, err)
	}

	g, err := New(cfg)
	if err != nil {
		return nil, fmt.Errorf("load graph: %s: %w", path, err)
	}
	return g, nil
}
