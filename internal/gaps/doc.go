// Package gaps maintains the gap ledger: the set of change-id ranges that
// may still receive late commits and must keep being scanned.
//
// Change ids are allocated when a transaction writes its first capture row
// but become visible only when the transaction commits. A reader that
// advanced a plain high-water mark would silently pass over ids committed
// later. Instead the Tracker keeps a ledger of OPEN ranges; routing scans
// only those ranges, and Reconcile shrinks them as ids are routed.
//
// # Reconcile
//
// Ids with at least one data_event row are landmarks. For each OPEN gap,
// Reconcile finds the landmarks inside it. A gap with none stays open. A gap
// with landmarks is resolved and replaced by the holes between consecutive
// landmarks (using start-1 and end+1 as virtual landmarks), where a hole
// exists when two landmarks differ by more than the configured id step.
// The open-ended trailing gap is replaced by [highWaterMark+1, ∞).
//
// A finite open gap is skipped only when the change log holds no rows in it
// and either the source reports no transaction pending since the gap was
// created, or the gap is older than the gap timeout. Rows that exist but are
// not yet routed always keep the gap open.
//
// ResolveRouted runs inside a flush. It resolves and splits like Reconcile
// but leaves every skip decision to the next Reconcile, so it never queries
// the change log.
package gaps
