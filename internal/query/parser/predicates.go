package parser

import (
	"github.com/arkilian/docrune/pkg/types"
)

// Index-servable operators reported in Conjunct.Op.
const (
	OpEq        = "="
	OpLt        = "<"
	OpLe        = "<="
	OpGt        = ">"
	OpGe        = ">="
	OpBetween   = "BETWEEN"
	OpIn        = "IN"
	OpIsDefined = "IS_DEFINED"
)

// Conjunct is one top-level AND term of a WHERE clause.
type Conjunct struct {
	Expr Expression
	// Path is set when the term tests exactly one path.
	Path *PathExpr
	// Op and Values describe an index-servable test of Path. Op is empty
	// for terms that can only be applied as a residual filter.
	Op     string
	Values []types.Value
	// Operator names the test for statistics, e.g. "=", "STARTSWITH", "NOT".
	Operator string
}

// Indexable reports whether an index on Path can serve the term.
func (c Conjunct) Indexable() bool { return c.Op != "" }

// Conjuncts splits a bound WHERE clause into its top-level AND terms.
// Parameters must have been bound first.
func Conjuncts(where Expression) []Conjunct {
	var terms []Expression
	var split func(Expression)
	split = func(e Expression) {
		switch ex := e.(type) {
		case *ParenExpr:
			if isAnd(ex.Expr) {
				split(ex.Expr)
				return
			}
		case *BinaryExpr:
			if ex.Operator == "AND" {
				split(ex.Left)
				split(ex.Right)
				return
			}
		}
		terms = append(terms, e)
	}
	if where != nil {
		split(where)
	}

	out := make([]Conjunct, len(terms))
	for i, t := range terms {
		out[i] = analyze(t)
	}
	return out
}

func isAnd(e Expression) bool {
	b, ok := e.(*BinaryExpr)
	return ok && b.Operator == "AND"
}

func unparen(e Expression) Expression {
	for {
		p, ok := e.(*ParenExpr)
		if !ok {
			return e
		}
		e = p.Expr
	}
}

var flipped = map[string]string{OpEq: OpEq, OpLt: OpGt, OpLe: OpGe, OpGt: OpLt, OpGe: OpLe}

func analyze(term Expression) Conjunct {
	c := Conjunct{Expr: term}
	paths := ReferencedPaths(term)
	if len(paths) == 1 {
		c.Path = paths[0]
	}

	switch e := unparen(term).(type) {
	case *BinaryExpr:
		c.Operator = e.Operator
		if _, ok := flipped[e.Operator]; !ok || c.Path == nil {
			return c
		}
		left, right := unparen(e.Left), unparen(e.Right)
		op := e.Operator
		if _, ok := left.(*Literal); ok {
			left, right = right, left
			op = flipped[op]
		}
		path, okPath := left.(*PathExpr)
		lit, okLit := right.(*Literal)
		if okPath && okLit && path == c.Path && lit.Value.IsDefined() {
			c.Op = op
			c.Values = []types.Value{lit.Value}
		}
	case *InExpr:
		c.Operator = OpIn
		if e.Not {
			c.Operator = "NOT IN"
			return c
		}
		path, ok := unparen(e.Expr).(*PathExpr)
		if !ok || path != c.Path {
			return c
		}
		values := make([]types.Value, 0, len(e.Values))
		for _, v := range e.Values {
			lit, ok := unparen(v).(*Literal)
			if !ok {
				return c
			}
			values = append(values, lit.Value)
		}
		c.Op = OpIn
		c.Values = values
	case *BetweenExpr:
		c.Operator = OpBetween
		if e.Not {
			c.Operator = "NOT BETWEEN"
			return c
		}
		path, ok := unparen(e.Expr).(*PathExpr)
		lo, okLo := unparen(e.Low).(*Literal)
		hi, okHi := unparen(e.High).(*Literal)
		if ok && okLo && okHi && path == c.Path {
			c.Op = OpBetween
			c.Values = []types.Value{lo.Value, hi.Value}
		}
	case *FunctionCall:
		c.Operator = e.Name
		if e.Name == OpIsDefined {
			if path, ok := unparen(e.Args[0]).(*PathExpr); ok && path == c.Path {
				c.Op = OpIsDefined
			}
		}
	case *UnaryExpr:
		c.Operator = e.Operator
	case *IsNullExpr:
		c.Operator = "IS NULL"
		if e.Not {
			c.Operator = "IS NOT NULL"
		}
	}
	return c
}

// ReferencedPaths returns the distinct paths an expression reads, in the
// order they first appear. Paths that address the same location collapse
// to their first occurrence.
func ReferencedPaths(expr Expression) []*PathExpr {
	var out []*PathExpr
	Walk(expr, func(e Expression) bool {
		p, ok := e.(*PathExpr)
		if !ok {
			return true
		}
		for _, seen := range out {
			if seen.Path.Equal(p.Path) {
				return true
			}
		}
		out = append(out, p)
		return true
	})
	return out
}
