package graph

import (
	"fmt"
	"io"
	"sort"
)

// Order returns the distinct tables in safe deletion order: junction tables
// first, then ascending tier, ties broken by name. Unknown tables take the
// default tier and therefore sort after every configured table.
func (g *Graph) Order(tables []string) []string {
	seen := make(map[string]bool, len(tables))
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ji, jj := g.IsJunction(out[i]), g.IsJunction(out[j])
		if ji != jj {
			return ji
		}
		ti, tj := g.Tier(out[i]), g.Tier(out[j])
		if ti != tj {
			return ti < tj
		}
		return out[i] < out[j]
	})
	return out
}

// Render writes one line per table in the given order:
// tier, table name and a "junction" marker for link tables.
func (g *Graph) Render(w io.Writer, tables []string) error {
	for _, t := range tables {
		line := fmt.Sprintf("%d\t%s", g.Tier(t), t)
		if g.IsJunction(t) {
			line += "\tjunction"
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
