package route

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"

	"github.com/roach88/rowroute/internal/model"
)

// CUERouter evaluates a boolean CUE expression once per candidate node.
// The expression sees these identifiers:
//
//	row    new row columns (old row for deletes)
//	old    old row columns
//	node   {id, group_id, external_id} of the candidate
//	event  "INSERT", "UPDATE", "DELETE" or "RAW_SQL"
//	table  table name
//
// For example:
//
//	row.region == node.external_id && event != "DELETE"
//
// An expression that cannot be evaluated for a row (a missing column, for
// instance) does not select the node.
type CUERouter struct {
	mu  sync.Mutex // guards ctx
	ctx *cue.Context
}

// NewCUERouter creates a router with its own CUE context.
func NewCUERouter() *CUERouter {
	return &CUERouter{ctx: cuecontext.New()}
}

// ValidateExpression checks that expr is a syntactically valid CUE
// expression.
func (r *CUERouter) ValidateExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("cue expression is empty")
	}
	if _, err := parser.ParseExpr("router", expr); err != nil {
		return fmt.Errorf("cue expression %q: %w", expr, err)
	}
	return nil
}

func (r *CUERouter) RouteToNodes(_ context.Context, rec model.ChangeRecord, b model.Binding, candidates []model.Node) ([]string, error) {
	if err := r.ValidateExpression(b.Expression); err != nil {
		return nil, err
	}

	row, err := rec.Columns()
	if err != nil {
		return nil, err
	}
	old, err := rec.OldColumns()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, n := range candidates {
		scope := r.ctx.Encode(map[string]any{
			"row":   row,
			"old":   old,
			"event": rec.EventType.String(),
			"table": rec.TableName,
			"node": map[string]any{
				"id":          n.ID,
				"group_id":    n.GroupID,
				"external_id": n.ExternalID,
			},
		})
		if err := scope.Err(); err != nil {
			return nil, fmt.Errorf("encode router scope for data %d: %w", rec.ID, err)
		}

		v := r.ctx.CompileString(b.Expression, cue.Scope(scope), cue.Filename(b.Key()))
		ok, err := v.Bool()
		if err != nil {
			if v.Err() != nil || !v.IsConcrete() {
				slog.Debug("cue router expression not satisfied",
					"data_id", rec.ID,
					"node", n.ID,
					"error", err,
				)
				continue
			}
			return nil, fmt.Errorf("cue expression %q must evaluate to a bool: %w", b.Expression, err)
		}
		if ok {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}
