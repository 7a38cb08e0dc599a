package parser

import (
	"fmt"
	"strings"

	"github.com/arkilian/docrune/pkg/types"
)

// Expression represents an expression in the AST.
type Expression interface {
	expressionNode()
	String() string
}

// SelectStatement represents a parsed query.
type SelectStatement struct {
	Top     *int64
	Star    bool
	Columns []SelectColumn
	From    *TableRef
	Where   Expression
	OrderBy []OrderByClause
	Offset  *int64
	Limit   *int64
}

// String returns the SQL representation of the statement.
func (s *SelectStatement) String() string {
	var sb strings.Builder

	sb.WriteString("SELECT ")
	if s.Top != nil {
		fmt.Fprintf(&sb, "TOP %d ", *s.Top)
	}
	if s.Star {
		sb.WriteString("*")
	} else {
		cols := make([]string, len(s.Columns))
		for i, col := range s.Columns {
			cols[i] = col.String()
		}
		sb.WriteString(strings.Join(cols, ", "))
	}

	if s.From != nil {
		sb.WriteString(" FROM ")
		sb.WriteString(s.From.String())
	}

	if s.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(s.Where.String())
	}

	if len(s.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		orders := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			orders[i] = o.String()
		}
		sb.WriteString(strings.Join(orders, ", "))
	}

	if s.Offset != nil {
		fmt.Fprintf(&sb, " OFFSET %d", *s.Offset)
	}
	if s.Limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *s.Limit)
	}

	return sb.String()
}

// SelectColumn represents a projected expression.
type SelectColumn struct {
	Expr  Expression
	Alias string
}

// String returns the SQL representation of the select column.
func (c SelectColumn) String() string {
	if c.Alias != "" {
		return fmt.Sprintf("%s AS %s", c.Expr.String(), c.Alias)
	}
	return c.Expr.String()
}

// TableRef is the FROM clause: the container and the alias documents are
// referred to by.
type TableRef struct {
	Name  string
	Alias string
}

// Root returns the name paths are rooted at.
func (t *TableRef) Root() string {
	if t.Alias != "" {
		return t.Alias
	}
	return t.Name
}

// String returns the SQL representation of the table reference.
func (t *TableRef) String() string {
	if t.Alias != "" {
		return fmt.Sprintf("%s %s", t.Name, t.Alias)
	}
	return t.Name
}

// OrderByClause represents an ORDER BY item. Only paths can be sorted on.
type OrderByClause struct {
	Path *PathExpr
	Desc bool
}

// String returns the SQL representation of the ORDER BY clause.
func (o OrderByClause) String() string {
	if o.Desc {
		return fmt.Sprintf("%s DESC", o.Path.String())
	}
	return fmt.Sprintf("%s ASC", o.Path.String())
}

// PathExpr references a value inside the current document. Root is the
// alias the path was written with, if any; Path is relative to the
// document.
type PathExpr struct {
	Root string
	Path types.FieldPath
}

func (p *PathExpr) expressionNode() {}

// String returns the path as written against its root, e.g. c.tags.name.
func (p *PathExpr) String() string {
	if len(p.Path) == 0 {
		return p.Root
	}
	if p.Root == "" {
		return p.Path.String()
	}
	rest := p.Path.String()
	if strings.HasPrefix(rest, "[") {
		return p.Root + rest
	}
	return p.Root + "." + rest
}

// Literal represents a constant value.
type Literal struct {
	Value types.Value
}

func (l *Literal) expressionNode() {}

// String returns the SQL representation of the literal.
func (l *Literal) String() string {
	if !l.Value.IsDefined() {
		return "undefined"
	}
	return l.Value.String()
}

// ParamExpr is a named parameter such as @group.
type ParamExpr struct {
	Name string
}

func (p *ParamExpr) expressionNode() {}

func (p *ParamExpr) String() string { return "@" + p.Name }

// BinaryExpr represents a binary operation (e.g., a = b, a AND b).
type BinaryExpr struct {
	Left     Expression
	Operator string
	Right    Expression
}

func (b *BinaryExpr) expressionNode() {}

// String returns the SQL representation of the binary expression.
func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Operator, b.Right.String())
}

// UnaryExpr represents a unary operation (NOT x, -x).
type UnaryExpr struct {
	Operator string
	Operand  Expression
}

func (u *UnaryExpr) expressionNode() {}

// String returns the SQL representation of the unary expression.
func (u *UnaryExpr) String() string {
	if u.Operator == "-" {
		return "-" + u.Operand.String()
	}
	return fmt.Sprintf("%s %s", u.Operator, u.Operand.String())
}

// FunctionCall represents a built-in function call. Name is upper case.
type FunctionCall struct {
	Name string
	Args []Expression
}

func (f *FunctionCall) expressionNode() {}

// String returns the SQL representation of the function call.
func (f *FunctionCall) String() string {
	args := make([]string, len(f.Args))
	for i, arg := range f.Args {
		args[i] = arg.String()
	}
	return fmt.Sprintf("%s(%s)", f.Name, strings.Join(args, ", "))
}

// InExpr represents an IN expression (e.g., x IN (1, 2, 3)).
type InExpr struct {
	Expr   Expression
	Values []Expression
	Not    bool
}

func (i *InExpr) expressionNode() {}

// String returns the SQL representation of the IN expression.
func (i *InExpr) String() string {
	values := make([]string, len(i.Values))
	for j, v := range i.Values {
		values[j] = v.String()
	}
	if i.Not {
		return fmt.Sprintf("%s NOT IN (%s)", i.Expr.String(), strings.Join(values, ", "))
	}
	return fmt.Sprintf("%s IN (%s)", i.Expr.String(), strings.Join(values, ", "))
}

// BetweenExpr represents a BETWEEN expression (e.g., x BETWEEN 1 AND 10).
type BetweenExpr struct {
	Expr Expression
	Low  Expression
	High Expression
	Not  bool
}

func (b *BetweenExpr) expressionNode() {}

// String returns the SQL representation of the BETWEEN expression.
func (b *BetweenExpr) String() string {
	if b.Not {
		return fmt.Sprintf("%s NOT BETWEEN %s AND %s", b.Expr.String(), b.Low.String(), b.High.String())
	}
	return fmt.Sprintf("%s BETWEEN %s AND %s", b.Expr.String(), b.Low.String(), b.High.String())
}

// IsNullExpr represents an IS NULL or IS NOT NULL expression.
type IsNullExpr struct {
	Expr Expression
	Not  bool
}

func (i *IsNullExpr) expressionNode() {}

// String returns the SQL representation of the IS NULL expression.
func (i *IsNullExpr) String() string {
	if i.Not {
		return fmt.Sprintf("%s IS NOT NULL", i.Expr.String())
	}
	return fmt.Sprintf("%s IS NULL", i.Expr.String())
}

// ParenExpr represents a parenthesized expression.
type ParenExpr struct {
	Expr Expression
}

func (p *ParenExpr) expressionNode() {}

// String returns the SQL representation of the parenthesized expression.
func (p *ParenExpr) String() string {
	return fmt.Sprintf("(%s)", p.Expr.String())
}

// ArrayExpr is an array constructor such as [1, 2].
type ArrayExpr struct {
	Elems []Expression
}

func (a *ArrayExpr) expressionNode() {}

func (a *ArrayExpr) String() string {
	elems := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		elems[i] = e.String()
	}
	return "[" + strings.Join(elems, ", ") + "]"
}
