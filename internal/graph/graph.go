package graph

import (
	"fmt"
	"regexp"
	"sort"
)

// TableConfig declares one table's tier and the tables it references.
type TableConfig struct {
	Name       string   `json:"name" yaml:"name"`
	Tier       int      `json:"tier" yaml:"tier"`
	Junction   bool     `json:"junction,omitempty" yaml:"junction,omitempty"`
	References []string `json:"references,omitempty" yaml:"references,omitempty"`
}

// Config is the authored form of a Graph, as found in YAML or CUE files.
type Config struct {
	// DefaultTier is the tier for tables missing from Tables.
	// Nil means one above the highest configured tier.
	DefaultTier *int          `json:"default_tier,omitempty" yaml:"default_tier,omitempty"`
	Tables      []TableConfig `json:"tables" yaml:"tables"`
}

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Graph maps table names to deletion tiers.
// A Graph is immutable after New and safe for concurrent use.
type Graph struct {
	tiers       map[string]int
	junctions   map[string]bool
	references  map[string][]string
	defaultTier int
}

// New validates cfg and builds a Graph.
//
// Validation rejects empty or malformed names, duplicates, negative tiers,
// references to unknown tables, a default tier at or below a configured
// tier, references to junction tables, and any reference A -> B where
// tier(A) >= tier(B). Self references are ignored: a table cannot be
// ordered before itself.
func New(cfg Config) (*Graph, error) {
	g := &Graph{
		tiers:      make(map[string]int, len(cfg.Tables)),
		junctions:  make(map[string]bool),
		references: make(map[string][]string),
	}

	maxTier := -1
	for _, t := range cfg.Tables {
		if t.Name == "" {
			return nil, &ConfigError{Message: "table with empty name"}
		}
		if !tableNamePattern.MatchString(t.Name) {
			return nil, &ConfigError{Table: t.Name, Message: "name must match " + tableNamePattern.String()}
		}
		if _, dup := g.tiers[t.Name]; dup {
			return nil, &ConfigError{Table: t.Name, Message: "declared more than once"}
		}
		if t.Tier < 0 {
			return nil, &ConfigError{Table: t.Name, Message: fmt.Sprintf("negative tier %d", t.Tier)}
		}
		g.tiers[t.Name] = t.Tier
		if t.Junction {
			g.junctions[t.Name] = true
		}
		if len(t.References) > 0 {
			g.references[t.Name] = append([]string(nil), t.References...)
		}
		if t.Tier > maxTier {
			maxTier = t.Tier
		}
	}

	g.defaultTier = maxTier + 1
	if cfg.DefaultTier != nil {
		if *cfg.DefaultTier <= maxTier {
			return nil, &ConfigError{Message: fmt.Sprintf("default tier %d must be above configured tier %d", *cfg.DefaultTier, maxTier)}
		}
		g.defaultTier = *cfg.DefaultTier
	}

	if err := g.validateReferences(); err != nil {
		return nil, err
	}
	return g, nil
}

// validateReferences enforces tier(A) < tier(B) for every declared A -> B
// and that no table references a junction. Junctions are deleted first
// regardless of tier, so they must have no dependents. Tables are visited in name order so the reported violation is stable.
func (g *Graph) validateReferences() error {
	names := make([]string, 0, len(g.references))
	for name := range g.references {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, ref := range g.references[name] {
			if ref == name {
				continue
			}
			refTier, ok := g.tiers[ref]
			if !ok {
				return &ConfigError{Table: name, Message: fmt.Sprintf("references unknown table %q", ref)}
			}
			if g.junctions[ref] {
				return &ConfigError{Table: name, Message: fmt.Sprintf("references junction table %q", ref)}
			}
			if g.tiers[name] >= refTier {
				return &InvariantError{
					Table:         name,
					Reference:     ref,
					TableTier:     g.tiers[name],
					ReferenceTier: refTier,
				}
			}
		}
	}
	return nil
}

// Tier returns the table's tier, or the default tier for unknown tables.
func (g *Graph) Tier(table string) int {
	if tier, ok := g.tiers[table]; ok {
		return tier
	}
	return g.defaultTier
}

// DefaultTier returns the tier assigned to tables missing from the graph.
func (g *Graph) DefaultTier() int {
	return g.defaultTier
}

// Known reports whether the table was configured.
func (g *Graph) Known(table string) bool {
	_, ok := g.tiers[table]
	return ok
}

// IsJunction reports whether the table was configured as a link table.
func (g *Graph) IsJunction(table string) bool {
	return g.junctions[table]
}

// References returns the tables the given table was declared to reference.
func (g *Graph) References(table string) []string {
	return append([]string(nil), g.references[table]...)
}

// Tables returns every configured table in deletion order.
func (g *Graph) Tables() []string {
	names := make([]string, 0, len(g.tiers))
	for name := range g.tiers {
		names = append(names, name)
	}
	return g.Order(names)
}
