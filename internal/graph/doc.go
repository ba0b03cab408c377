// Package graph holds the deletion-precedence table for Test Lab resources.
//
// Every table is assigned an integer tier. Lower tiers are deleted earlier:
// a row in a tier-1 table may reference a row in a tier-3 table, never the
// other way around. Junction (link) tables sit at the bottom because nothing
// references them.
//
// The tiers are authored by hand, not derived from schema introspection.
// Whoever adds a table also adds its tier and the tables it references;
// New rejects any configuration where a table does not sit strictly below
// every table it references.
//
// Tables absent from the graph get the default tier, which is never lower
// than any configured tier, so unknown tables are deleted last.
package graph
