// Package saga runs multi-step create workflows against a store that only
// offers single-table inserts and deletes.
//
// A workflow is an ordered list of steps. Each step inserts zero or more rows
// through an Execution, which records every confirmed id in a request-scoped
// registry (and, for tracked runs, in the durable audit trail). Steps run
// strictly in sequence because later steps use ids produced by earlier ones.
//
// When a step fails the Coordinator hands everything recorded so far to the
// Compensator, which deletes it children-first using the dependency graph,
// and then returns the original step error. Compensation is best effort:
// a table that cannot be cleaned up is logged and skipped, never reported
// back to the caller as a new failure.
//
// State machine:
//
//	Pending -> (step ok)* -> Committed
//	Pending -> (step ok)* -> step failed -> Compensating -> Failed
//
// Only Committed and Failed are visible to callers.
package saga
