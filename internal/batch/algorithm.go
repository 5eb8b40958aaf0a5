package batch

import (
	"sort"
	"sync"

	"github.com/roach88/rowroute/internal/model"
)

// Algorithm names understood by the default registry.
const (
	AlgorithmDefault          = "default"
	AlgorithmTransactional    = "transactional"
	AlgorithmNonTransactional = "nontransactional"
)

// Algorithm decides whether an open batch is complete.
//
// It is consulted after each record is added (pc.TransactionBoundary false)
// and again at each transaction boundary (pc.TransactionBoundary true).
// Open batches are flushed at every boundary regardless, so the verdict
// that matters is the one given inside a transaction.
type Algorithm interface {
	IsComplete(b *model.OutgoingBatch, rec model.ChangeRecord, pc *model.PassContext) bool
}

// AlgorithmFunc adapts a function to Algorithm.
type AlgorithmFunc func(b *model.OutgoingBatch, rec model.ChangeRecord, pc *model.PassContext) bool

func (f AlgorithmFunc) IsComplete(b *model.OutgoingBatch, rec model.ChangeRecord, pc *model.PassContext) bool {
	return f(b, rec, pc)
}

func sizeReached(b *model.OutgoingBatch, pc *model.PassContext) bool {
	limit := pc.Channel.MaxBatchSize
	return limit > 0 && b.EventCount >= limit
}

// Default never completes a batch inside a transaction; at a boundary it
// reports completion once the channel's max batch size is reached.
// Batches may exceed the size to keep a transaction whole.
var Default = AlgorithmFunc(func(b *model.OutgoingBatch, _ model.ChangeRecord, pc *model.PassContext) bool {
	return pc.TransactionBoundary && sizeReached(b, pc)
})

// Transactional completes a batch at every transaction boundary.
var Transactional = AlgorithmFunc(func(_ *model.OutgoingBatch, _ model.ChangeRecord, pc *model.PassContext) bool {
	return pc.TransactionBoundary
})

// NonTransactional completes a batch as soon as it reaches the channel's
// max batch size, even inside a transaction.
var NonTransactional = AlgorithmFunc(func(b *model.OutgoingBatch, _ model.ChangeRecord, pc *model.PassContext) bool {
	return sizeReached(b, pc)
})

// Registry maps algorithm names to implementations.
// Safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	algs map[string]Algorithm
}

// NewRegistry returns a registry holding the built-in algorithms.
func NewRegistry() *Registry {
	r := &Registry{algs: make(map[string]Algorithm)}
	r.Register(AlgorithmDefault, Default)
	r.Register(AlgorithmTransactional, Transactional)
	r.Register(AlgorithmNonTransactional, NonTransactional)
	return r
}

// Register adds or replaces an algorithm.
func (r *Registry) Register(name string, alg Algorithm) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.algs[name] = alg
}

// Lookup returns the named algorithm. An empty name means AlgorithmDefault.
func (r *Registry) Lookup(name string) (Algorithm, bool) {
	if name == "" {
		name = AlgorithmDefault
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	alg, ok := r.algs[name]
	return alg, ok
}

// Names returns the registered algorithm names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.algs))
	for name := range r.algs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
