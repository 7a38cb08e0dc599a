package parser

import (
	"fmt"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/pkg/types"
)

// resolve makes every path relative to the document. Paths written with
// the FROM alias drop it; paths written without it already start at a field.
func resolve(stmt *SelectStatement) error {
	root := ""
	if stmt.From != nil {
		root = stmt.From.Root()
	}
	fix := func(p *PathExpr) {
		if root != "" && p.Root == root {
			return
		}
		full := make(types.FieldPath, 0, len(p.Path)+1)
		full = append(full, types.PathStep{Name: p.Root})
		p.Path = append(full, p.Path...)
		p.Root = root
	}
	visit := func(e Expression) bool {
		if p, ok := e.(*PathExpr); ok {
			fix(p)
		}
		return true
	}

	for _, col := range stmt.Columns {
		Walk(col.Expr, visit)
	}
	if stmt.Where != nil {
		Walk(stmt.Where, visit)
	}
	for _, o := range stmt.OrderBy {
		fix(o.Path)
		if len(o.Path.Path) == 0 {
			return &ParseError{Message: fmt.Sprintf("ORDER BY requires a field path below %s", o.Path.Root)}
		}
	}
	return nil
}

// Walk calls fn for expr and, while fn returns true, for its children.
func Walk(expr Expression, fn func(Expression) bool) {
	if expr == nil || !fn(expr) {
		return
	}
	switch e := expr.(type) {
	case *BinaryExpr:
		Walk(e.Left, fn)
		Walk(e.Right, fn)
	case *UnaryExpr:
		Walk(e.Operand, fn)
	case *ParenExpr:
		Walk(e.Expr, fn)
	case *FunctionCall:
		for _, a := range e.Args {
			Walk(a, fn)
		}
	case *InExpr:
		Walk(e.Expr, fn)
		for _, v := range e.Values {
			Walk(v, fn)
		}
	case *BetweenExpr:
		Walk(e.Expr, fn)
		Walk(e.Low, fn)
		Walk(e.High, fn)
	case *IsNullExpr:
		Walk(e.Expr, fn)
	case *ArrayExpr:
		for _, el := range e.Elems {
			Walk(el, fn)
		}
	}
}

// rewrite rebuilds expr bottom-up, replacing each node with fn's result.
func rewrite(expr Expression, fn func(Expression) (Expression, error)) (Expression, error) {
	if expr == nil {
		return nil, nil
	}
	var err error
	each := func(in []Expression) ([]Expression, error) {
		out := make([]Expression, len(in))
		for i, x := range in {
			if out[i], err = rewrite(x, fn); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	switch e := expr.(type) {
	case *BinaryExpr:
		n := *e
		if n.Left, err = rewrite(e.Left, fn); err != nil {
			return nil, err
		}
		if n.Right, err = rewrite(e.Right, fn); err != nil {
			return nil, err
		}
		expr = &n
	case *UnaryExpr:
		n := *e
		if n.Operand, err = rewrite(e.Operand, fn); err != nil {
			return nil, err
		}
		expr = &n
	case *ParenExpr:
		n := *e
		if n.Expr, err = rewrite(e.Expr, fn); err != nil {
			return nil, err
		}
		expr = &n
	case *FunctionCall:
		n := *e
		if n.Args, err = each(e.Args); err != nil {
			return nil, err
		}
		expr = &n
	case *InExpr:
		n := *e
		if n.Expr, err = rewrite(e.Expr, fn); err != nil {
			return nil, err
		}
		if n.Values, err = each(e.Values); err != nil {
			return nil, err
		}
		expr = &n
	case *BetweenExpr:
		n := *e
		if n.Expr, err = rewrite(e.Expr, fn); err != nil {
			return nil, err
		}
		if n.Low, err = rewrite(e.Low, fn); err != nil {
			return nil, err
		}
		if n.High, err = rewrite(e.High, fn); err != nil {
			return nil, err
		}
		expr = &n
	case *IsNullExpr:
		n := *e
		if n.Expr, err = rewrite(e.Expr, fn); err != nil {
			return nil, err
		}
		expr = &n
	case *ArrayExpr:
		n := *e
		if n.Elems, err = each(e.Elems); err != nil {
			return nil, err
		}
		expr = &n
	}
	return fn(expr)
}

// Params lists the parameter names a statement references.
func Params(stmt *SelectStatement) []string {
	seen := map[string]bool{}
	var names []string
	visit := func(e Expression) bool {
		if p, ok := e.(*ParamExpr); ok && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
		return true
	}
	for _, col := range stmt.Columns {
		Walk(col.Expr, visit)
	}
	Walk(stmt.Where, visit)
	return names
}

// Bind returns a copy of stmt with every parameter replaced by its value.
// Parameter names are given without the leading @.
func Bind(stmt *SelectStatement, params map[string]types.Value) (*SelectStatement, error) {
	bind := func(e Expression) (Expression, error) {
		p, ok := e.(*ParamExpr)
		if !ok {
			return e, nil
		}
		v, ok := params[p.Name]
		if !ok {
			return nil, errors.InvalidQuery("missing value for parameter @%s", p.Name)
		}
		return &Literal{Value: v}, nil
	}

	out := *stmt
	out.Columns = make([]SelectColumn, len(stmt.Columns))
	for i, col := range stmt.Columns {
		expr, err := rewrite(col.Expr, bind)
		if err != nil {
			return nil, err
		}
		out.Columns[i] = SelectColumn{Expr: expr, Alias: col.Alias}
	}
	where, err := rewrite(stmt.Where, bind)
	if err != nil {
		return nil, err
	}
	out.Where = where
	return &out, nil
}
