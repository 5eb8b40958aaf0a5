// Package route decides which nodes receive each change record.
//
// The Dispatcher resolves the trigger/router bindings for a record's table,
// asks each binding's Router for a subset of the binding's candidate nodes,
// and unions the answers. Routers are selected by type from a Registry.
package route

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/rowroute/internal/model"
)

// Router type names understood by the default registry.
const (
	TypeDefault = "default"
	TypeColumn  = "column"
	TypeCUE     = "cue"
)

// Router selects destination nodes for one change under one binding.
// candidates are the enabled nodes of the binding's target group; the
// result must be a subset of their ids.
type Router interface {
	RouteToNodes(ctx context.Context, rec model.ChangeRecord, b model.Binding, candidates []model.Node) ([]string, error)
}

// ExpressionValidator is implemented by routers whose bindings carry an
// expression that can be checked before routing starts.
type ExpressionValidator interface {
	ValidateExpression(expr string) error
}

// Catalog is the configuration collaborator the dispatcher reads.
type Catalog interface {
	// Bindings returns the active bindings for a table.
	Bindings(tableName string) []model.Binding

	// CandidateNodes returns the nodes in a node group.
	CandidateNodes(groupID string) []model.Node
}

// Registry maps router type names to implementations.
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	routers map[string]Router
}

// NewRegistry returns a registry with the default, column and cue routers.
func NewRegistry() *Registry {
	r := &Registry{routers: make(map[string]Router)}
	r.Register(TypeDefault, DefaultRouter{})
	r.Register(TypeColumn, NewColumnRouter())
	r.Register(TypeCUE, NewCUERouter())
	return r
}

// Register adds or replaces the router for typ.
func (r *Registry) Register(typ string, rt Router) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routers[typ] = rt
}

// Lookup returns the router for typ. An empty type means TypeDefault.
func (r *Registry) Lookup(typ string) (Router, bool) {
	if typ == "" {
		typ = TypeDefault
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routers[typ]
	return rt, ok
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routers))
	for typ := range r.routers {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Validate checks that typ is registered and that expr is acceptable to it.
func (r *Registry) Validate(typ, expr string) error {
	rt, ok := r.Lookup(typ)
	if !ok {
		return fmt.Errorf("unknown router type %q", typ)
	}
	if v, ok := rt.(ExpressionValidator); ok {
		return v.ValidateExpression(expr)
	}
	return nil
}

// DefaultRouter routes every change to every candidate.
type DefaultRouter struct{}

func (DefaultRouter) RouteToNodes(_ context.Context, _ model.ChangeRecord, _ model.Binding, candidates []model.Node) ([]string, error) {
	ids := make([]string, len(candidates))
	for i, n := range candidates {
		ids[i] = n.ID
	}
	return ids, nil
}
