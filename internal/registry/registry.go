// Package registry accumulates the resources a saga has created so far.
//
// A Registry lives for exactly one saga invocation. It is append-only: the
// compensation engine reads a snapshot and deletes from the backing store,
// it never removes entries from the Registry itself.
package registry

import "github.com/Freedom-Code-Compliance/testlab-sub000/internal/resource"

// Entry is every id recorded for one table.
type Entry struct {
	Table    string   `json:"table"`
	IDs      []string `json:"ids"`
	Junction bool     `json:"junction,omitempty"`
}

type tableSet struct {
	ids      []string
	seen     map[string]bool
	junction bool
}

// Registry groups recorded ids by table.
//
// Not safe for concurrent use: one Registry per request, threaded through
// the steps of a single saga.
type Registry struct {
	order  []string
	tables map[string]*tableSet
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tables: make(map[string]*tableSet)}
}

// Record adds one confirmed (table, id) pair.
// Empty table names or ids are ignored; duplicates are stored once.
func (r *Registry) Record(table, id string) {
	r.add(table, []string{id}, false)
}

// RecordRef adds a Ref.
func (r *Registry) RecordRef(ref resource.Ref) {
	r.add(ref.Table, []string{ref.ID}, false)
}

// RecordBatch adds link-table rows created together.
// The table is marked as a junction so compensation visits it first.
func (r *Registry) RecordBatch(table string, ids []string) {
	r.add(table, ids, true)
}

// RecordJunction adds a JunctionBatch.
func (r *Registry) RecordJunction(b resource.JunctionBatch) {
	r.add(b.Table, b.IDs, true)
}

func (r *Registry) add(table string, ids []string, junction bool) {
	if table == "" {
		return
	}
	set, ok := r.tables[table]
	if !ok {
		set = &tableSet{seen: make(map[string]bool)}
		r.tables[table] = set
		r.order = append(r.order, table)
	}
	if junction {
		set.junction = true
	}
	for _, id := range ids {
		if id == "" || set.seen[id] {
			continue
		}
		set.seen[id] = true
		set.ids = append(set.ids, id)
	}
}

// Snapshot returns a copy of the recorded ids, tables in first-seen order.
// Tables whose every id was empty are omitted.
func (r *Registry) Snapshot() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, table := range r.order {
		set := r.tables[table]
		if len(set.ids) == 0 {
			continue
		}
		out = append(out, Entry{
			Table:    table,
			IDs:      append([]string(nil), set.ids...),
			Junction: set.junction,
		})
	}
	return out
}

// Refs flattens the registry into individual references.
func (r *Registry) Refs() []resource.Ref {
	var refs []resource.Ref
	for _, e := range r.Snapshot() {
		for _, id := range e.IDs {
			refs = append(refs, resource.Ref{Table: e.Table, ID: id})
		}
	}
	return refs
}

// Len returns the number of recorded ids across all tables.
func (r *Registry) Len() int {
	n := 0
	for _, set := range r.tables {
		n += len(set.ids)
	}
	return n
}

// Empty reports whether nothing has been recorded.
func (r *Registry) Empty() bool {
	return r.Len() == 0
}
