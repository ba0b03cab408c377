// Package purge deletes every resource tracked under one or more runs.
//
// The Engine reads the durable tracked-record ledger, groups record ids by
// table, and deletes table by table in dependency order (link tables first,
// tables missing from the graph last). Unlike saga compensation a purge is
// all-or-nothing from the caller's point of view: the first failing table
// aborts the purge and no counts are returned. Every invocation that passes
// validation appends one audit entry, whatever its outcome.
package purge
