// Package resource defines the shared vocabulary of the Test Lab core:
// references to created rows, the durable audit trail records, and the
// storage contract every backing store implements.
//
// The backing store only offers single-table inserts and deletes. Nothing in
// this package assumes a multi-table transaction is available; ordering and
// compensation are the job of the graph, saga and purge packages.
package resource
