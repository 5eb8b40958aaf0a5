package route

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/roach88/rowroute/internal/model"
)

// Tokens a column expression may compare against.
const (
	tokenNodeID      = ":NODE_ID"
	tokenExternalID  = ":EXTERNAL_ID"
	tokenNodeGroupID = ":NODE_GROUP_ID"
	tokenNull        = "NULL"
)

var orSplit = regexp.MustCompile(`(?i)\s+or\s+|\r?\n`)

// columnClause is one COLUMN=value or COLUMN!=value test.
type columnClause struct {
	column string // upper case
	value  string
	negate bool
}

// ColumnRouter routes on column values of the new row (the old row for
// deletes). An expression is one or more clauses joined by "or" or
// newlines:
//
//	STATUS=ACTIVE
//	REGION=:EXTERNAL_ID or REGION=ALL
//	OWNER!=NULL
//
// A clause against a constant selects all candidates when it holds. A
// clause against :NODE_ID, :EXTERNAL_ID or :NODE_GROUP_ID selects the
// candidates whose attribute equals (or, with !=, differs from) the column
// value. Column names are case-insensitive.
type ColumnRouter struct {
	cache sync.Map // expression -> []columnClause
}

// NewColumnRouter creates a column router.
func NewColumnRouter() *ColumnRouter {
	return &ColumnRouter{}
}

// ValidateExpression reports whether expr parses.
func (r *ColumnRouter) ValidateExpression(expr string) error {
	_, err := r.parse(expr)
	return err
}

func (r *ColumnRouter) RouteToNodes(_ context.Context, rec model.ChangeRecord, b model.Binding, candidates []model.Node) ([]string, error) {
	clauses, err := r.parse(b.Expression)
	if err != nil {
		return nil, err
	}

	cols, err := rec.Columns()
	if err != nil {
		return nil, err
	}
	upper := make(map[string]any, len(cols))
	for k, v := range cols {
		upper[strings.ToUpper(k)] = v
	}

	selected := make(map[string]bool)
	for _, c := range clauses {
		raw, present := upper[c.column]
		isNull := !present || raw == nil
		val := formatColumn(raw)

		for _, n := range candidates {
			var hit bool
			switch c.value {
			case tokenNodeID:
				hit = !isNull && val == n.ID
			case tokenExternalID:
				hit = !isNull && val == n.ExternalID
			case tokenNodeGroupID:
				hit = !isNull && val == n.GroupID
			case tokenNull:
				hit = isNull
			default:
				hit = !isNull && val == c.value
			}
			if hit != c.negate {
				selected[n.ID] = true
			}
		}
	}

	ids := make([]string, 0, len(selected))
	for _, n := range candidates {
		if selected[n.ID] {
			ids = append(ids, n.ID)
		}
	}
	return ids, nil
}

func (r *ColumnRouter) parse(expr string) ([]columnClause, error) {
	if v, ok := r.cache.Load(expr); ok {
		return v.([]columnClause), nil
	}

	var clauses []columnClause
	for _, part := range orSplit.Split(expr, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		c := columnClause{}
		var col string
		if i := strings.Index(part, "!="); i >= 0 {
			col, c.value, c.negate = part[:i], part[i+2:], true
		} else if i := strings.Index(part, "="); i >= 0 {
			col, c.value = part[:i], part[i+1:]
		} else {
			return nil, fmt.Errorf("column expression %q: clause %q has no = or !=", expr, part)
		}
		c.column = strings.ToUpper(strings.TrimSpace(col))
		c.value = strings.TrimSpace(c.value)
		if c.column == "" {
			return nil, fmt.Errorf("column expression %q: clause %q has no column", expr, part)
		}
		clauses = append(clauses, c)
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("column expression is empty")
	}

	r.cache.Store(expr, clauses)
	return clauses, nil
}

// formatColumn renders a decoded JSON value the way it would be written in
// an expression.
func formatColumn(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}
