package executor

import (
	"fmt"

	"github.com/arkilian/docrune/internal/query/eval"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// project shapes a matched document by the SELECT list. Unaliased paths keep
// their nesting; other columns are named by their alias or $1, $2, ... in
// order. Columns that evaluate to undefined are left out.
func project(stmt *parser.SelectStatement, doc types.Document) types.Document {
	if stmt.Star {
		return doc.Clone()
	}

	var paths []types.FieldPath
	for _, col := range stmt.Columns {
		if p, ok := col.Expr.(*parser.PathExpr); ok && col.Alias == "" && len(p.Path) > 0 {
			paths = append(paths, p.Path)
		}
	}
	out := doc.Project(paths)

	unnamed := 0
	for _, col := range stmt.Columns {
		p, isPath := col.Expr.(*parser.PathExpr)
		switch {
		case isPath && col.Alias == "" && len(p.Path) > 0:
			continue
		case isPath && col.Alias == "":
			// the bare collection alias selects the whole document
			out[p.Root] = types.Object(doc)
			continue
		}
		name := col.Alias
		if name == "" {
			unnamed++
			name = fmt.Sprintf("$%d", unnamed)
		}
		if v := eval.Eval(col.Expr, doc); v.IsDefined() {
			out[name] = v
		}
	}
	return out
}
