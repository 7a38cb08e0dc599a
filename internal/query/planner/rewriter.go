package planner

import (
	"github.com/arkilian/docrune/internal/query/eval"
	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// Simplify folds the constant parts of a bound WHERE clause. Subexpressions
// that read no document field are evaluated once; AND and OR drop operands
// that are the literal true or false. The returned statement is a copy.
//
// unsatisfiable is true when the whole clause folded to something other
// than true, so no document can match. A clause folding to true is removed.
func Simplify(stmt *parser.SelectStatement) (out *parser.SelectStatement, unsatisfiable bool) {
	cp := *stmt
	if stmt.Where == nil {
		return &cp, false
	}
	where := rewriteExpr(stmt.Where)
	if lit, ok := where.(*parser.Literal); ok {
		if isBoolLiteral(lit, true) {
			cp.Where = nil
			return &cp, false
		}
		cp.Where = lit
		return &cp, true
	}
	cp.Where = where
	return &cp, false
}

// rewriteExpr returns a folded copy of expr. Nodes that cannot be folded
// are rebuilt around their folded children; the input is never modified.
func rewriteExpr(expr parser.Expression) parser.Expression {
	if expr == nil {
		return nil
	}
	if eval.IsConstant(expr) {
		if lit, ok := expr.(*parser.Literal); ok {
			return lit
		}
		return &parser.Literal{Value: eval.Eval(expr, nil)}
	}

	switch e := expr.(type) {
	case *parser.BinaryExpr:
		left := rewriteExpr(e.Left)
		right := rewriteExpr(e.Right)
		switch e.Operator {
		case "AND":
			if isBoolLiteral(left, false) || isBoolLiteral(right, false) {
				return &parser.Literal{Value: types.Bool(false)}
			}
			if isBoolLiteral(left, true) {
				return right
			}
			if isBoolLiteral(right, true) {
				return left
			}
		case "OR":
			if isBoolLiteral(left, true) || isBoolLiteral(right, true) {
				return &parser.Literal{Value: types.Bool(true)}
			}
			if isBoolLiteral(left, false) {
				return right
			}
			if isBoolLiteral(right, false) {
				return left
			}
		}
		return foldIfConstant(&parser.BinaryExpr{Left: left, Operator: e.Operator, Right: right})

	case *parser.ParenExpr:
		inner := rewriteExpr(e.Expr)
		if lit, ok := inner.(*parser.Literal); ok {
			return lit
		}
		return &parser.ParenExpr{Expr: inner}

	case *parser.UnaryExpr:
		return foldIfConstant(&parser.UnaryExpr{Operator: e.Operator, Operand: rewriteExpr(e.Operand)})

	case *parser.FunctionCall:
		return foldIfConstant(&parser.FunctionCall{Name: e.Name, Args: rewriteList(e.Args)})

	case *parser.InExpr:
		return foldIfConstant(&parser.InExpr{Expr: rewriteExpr(e.Expr), Values: rewriteList(e.Values), Not: e.Not})

	case *parser.BetweenExpr:
		return foldIfConstant(&parser.BetweenExpr{
			Expr: rewriteExpr(e.Expr),
			Low:  rewriteExpr(e.Low),
			High: rewriteExpr(e.High),
			Not:  e.Not,
		})

	case *parser.IsNullExpr:
		return foldIfConstant(&parser.IsNullExpr{Expr: rewriteExpr(e.Expr), Not: e.Not})

	case *parser.ArrayExpr:
		return foldIfConstant(&parser.ArrayExpr{Elems: rewriteList(e.Elems)})
	}

	return expr
}

// foldIfConstant evaluates a rebuilt node whose children all folded away.
func foldIfConstant(expr parser.Expression) parser.Expression {
	if eval.IsConstant(expr) {
		return &parser.Literal{Value: eval.Eval(expr, nil)}
	}
	return expr
}

func rewriteList(in []parser.Expression) []parser.Expression {
	out := make([]parser.Expression, len(in))
	for i, x := range in {
		out[i] = rewriteExpr(x)
	}
	return out
}

func isBoolLiteral(expr parser.Expression, want bool) bool {
	lit, ok := expr.(*parser.Literal)
	return ok && lit.Value.Kind() == types.KindBool && lit.Value.AsBool() == want
}
