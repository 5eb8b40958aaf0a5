package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialPassIDs generates pass ids "pass-0001", "pass-0002", ...
//
// Engine golden snapshots include the pass id; a sequential generator keeps
// them byte-identical across runs.
//
// Thread-safety: safe for concurrent use.
type SequentialPassIDs struct {
	n atomic.Int64
}

// Generate implements engine.PassIDGenerator.
func (g *SequentialPassIDs) Generate() string {
	return fmt.Sprintf("pass-%04d", g.n.Add(1))
}
