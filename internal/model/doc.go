// Package model provides the data types shared by the routing packages.
//
// This package contains type definitions and small helpers only. All other
// internal packages import model; model imports nothing internal, which keeps
// it the leaf of the dependency graph.
//
// Key conventions:
//   - Change ids are one global, monotonically assigned int64 sequence
//   - OpenEnd marks the upper bound of the single trailing gap
//   - An empty TransactionID means the source could not report one
//   - Row payloads (RowData, OldData, PKData) are carried through unparsed;
//     only router strategies look inside them
package model
