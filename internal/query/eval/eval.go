// Package eval evaluates parsed query expressions against documents.
//
// Evaluation is three-valued: an operator whose operands are missing or of
// the wrong kind yields undefined instead of failing, and a WHERE clause only
// matches a document when it evaluates to true.
package eval

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

// Matches reports whether where evaluates to true for doc. A nil clause
// matches every document.
func Matches(where parser.Expression, doc types.Document) bool {
	if where == nil {
		return true
	}
	v := Eval(where, doc)
	return v.Kind() == types.KindBool && v.AsBool()
}

// Eval evaluates expr against doc. Unbound parameters evaluate to undefined.
func Eval(expr parser.Expression, doc types.Document) types.Value {
	switch e := expr.(type) {
	case *parser.PathExpr:
		return e.Path.Resolve(doc)
	case *parser.Literal:
		return e.Value
	case *parser.ParenExpr:
		return Eval(e.Expr, doc)
	case *parser.BinaryExpr:
		return evalBinary(e, doc)
	case *parser.UnaryExpr:
		v := Eval(e.Operand, doc)
		switch e.Operator {
		case "NOT":
			if v.Kind() == types.KindBool {
				return types.Bool(!v.AsBool())
			}
		case "-":
			if v.Kind() == types.KindNumber {
				return types.Number(-v.AsNumber())
			}
		}
		return types.Undefined()
	case *parser.InExpr:
		v := Eval(e.Expr, doc)
		if !v.IsDefined() {
			return types.Undefined()
		}
		found := false
		for _, x := range e.Values {
			if xv := Eval(x, doc); xv.IsDefined() && types.Equal(v, xv) {
				found = true
				break
			}
		}
		return types.Bool(found != e.Not)
	case *parser.BetweenExpr:
		v := Eval(e.Expr, doc)
		lo, hi := Eval(e.Low, doc), Eval(e.High, doc)
		if !types.Comparable(v, lo) || !types.Comparable(v, hi) {
			return types.Undefined()
		}
		in := types.Compare(v, lo) >= 0 && types.Compare(v, hi) <= 0
		return types.Bool(in != e.Not)
	case *parser.IsNullExpr:
		v := Eval(e.Expr, doc)
		if !v.IsDefined() {
			return types.Bool(false)
		}
		return types.Bool(v.IsNull() != e.Not)
	case *parser.FunctionCall:
		return evalFunction(e, doc)
	case *parser.ArrayExpr:
		elems := make([]types.Value, 0, len(e.Elems))
		for _, el := range e.Elems {
			if v := Eval(el, doc); v.IsDefined() {
				elems = append(elems, v)
			}
		}
		return types.Array(elems...)
	}
	return types.Undefined()
}

func evalBinary(e *parser.BinaryExpr, doc types.Document) types.Value {
	switch e.Operator {
	case "AND":
		l := Eval(e.Left, doc)
		if isFalse(l) {
			return types.Bool(false)
		}
		r := Eval(e.Right, doc)
		if isFalse(r) {
			return types.Bool(false)
		}
		if isTrue(l) && isTrue(r) {
			return types.Bool(true)
		}
		return types.Undefined()
	case "OR":
		l := Eval(e.Left, doc)
		if isTrue(l) {
			return types.Bool(true)
		}
		r := Eval(e.Right, doc)
		if isTrue(r) {
			return types.Bool(true)
		}
		if isFalse(l) && isFalse(r) {
			return types.Bool(false)
		}
		return types.Undefined()
	}

	l, r := Eval(e.Left, doc), Eval(e.Right, doc)
	if !l.IsDefined() || !r.IsDefined() {
		return types.Undefined()
	}
	switch e.Operator {
	case "=":
		return types.Bool(types.Equal(l, r))
	case "!=":
		return types.Bool(!types.Equal(l, r))
	case "<", "<=", ">", ">=":
		if !types.Comparable(l, r) {
			return types.Undefined()
		}
		c := types.Compare(l, r)
		switch e.Operator {
		case "<":
			return types.Bool(c < 0)
		case "<=":
			return types.Bool(c <= 0)
		case ">":
			return types.Bool(c > 0)
		default:
			return types.Bool(c >= 0)
		}
	}

	if l.Kind() != types.KindNumber || r.Kind() != types.KindNumber {
		return types.Undefined()
	}
	a, b := l.AsNumber(), r.AsNumber()
	switch e.Operator {
	case "+":
		return types.Number(a + b)
	case "-":
		return types.Number(a - b)
	case "*":
		return types.Number(a * b)
	case "/":
		if b == 0 {
			return types.Undefined()
		}
		return types.Number(a / b)
	case "%":
		if b == 0 {
			return types.Undefined()
		}
		return types.Number(math.Mod(a, b))
	}
	return types.Undefined()
}

func isTrue(v types.Value) bool  { return v.Kind() == types.KindBool && v.AsBool() }
func isFalse(v types.Value) bool { return v.Kind() == types.KindBool && !v.AsBool() }

func evalFunction(f *parser.FunctionCall, doc types.Document) types.Value {
	args := make([]types.Value, len(f.Args))
	for i, a := range f.Args {
		args[i] = Eval(a, doc)
	}

	switch f.Name {
	case "IS_DEFINED":
		return types.Bool(args[0].IsDefined())
	case "IS_NULL":
		return types.Bool(args[0].IsNull())
	case "IS_BOOL":
		return types.Bool(args[0].Kind() == types.KindBool)
	case "IS_NUMBER":
		return types.Bool(args[0].Kind() == types.KindNumber)
	case "IS_STRING":
		return types.Bool(args[0].Kind() == types.KindString)
	case "IS_ARRAY":
		return types.Bool(args[0].Kind() == types.KindArray)
	case "IS_OBJECT":
		return types.Bool(args[0].Kind() == types.KindObject)
	case "IS_PRIMITIVE":
		return types.Bool(args[0].IsScalar())
	case "STARTSWITH", "ENDSWITH", "CONTAINS":
		return stringTest(f.Name, args)
	case "ARRAY_CONTAINS":
		return arrayContains(args)
	case "ARRAY_LENGTH":
		if args[0].Kind() != types.KindArray {
			return types.Undefined()
		}
		return types.Number(float64(args[0].Len()))
	case "LENGTH":
		if args[0].Kind() != types.KindString {
			return types.Undefined()
		}
		return types.Number(float64(utf8.RuneCountInString(args[0].AsString())))
	case "LOWER", "UPPER":
		if args[0].Kind() != types.KindString {
			return types.Undefined()
		}
		if f.Name == "LOWER" {
			return types.String(strings.ToLower(args[0].AsString()))
		}
		return types.String(strings.ToUpper(args[0].AsString()))
	case "ABS":
		if args[0].Kind() != types.KindNumber {
			return types.Undefined()
		}
		return types.Number(math.Abs(args[0].AsNumber()))
	case "CONCAT":
		var b strings.Builder
		for _, a := range args {
			if a.Kind() != types.KindString {
				return types.Undefined()
			}
			b.WriteString(a.AsString())
		}
		return types.String(b.String())
	}
	return types.Undefined()
}

// stringTest implements STARTSWITH, ENDSWITH and CONTAINS. The optional
// third argument requests a case-insensitive comparison.
func stringTest(name string, args []types.Value) types.Value {
	if args[0].Kind() != types.KindString || args[1].Kind() != types.KindString {
		return types.Undefined()
	}
	s, sub := args[0].AsString(), args[1].AsString()
	if len(args) == 3 {
		if args[2].Kind() != types.KindBool {
			return types.Undefined()
		}
		if args[2].AsBool() {
			s, sub = strings.ToLower(s), strings.ToLower(sub)
		}
	}
	switch name {
	case "STARTSWITH":
		return types.Bool(strings.HasPrefix(s, sub))
	case "ENDSWITH":
		return types.Bool(strings.HasSuffix(s, sub))
	default:
		return types.Bool(strings.Contains(s, sub))
	}
}

// arrayContains implements ARRAY_CONTAINS(arr, item[, partial]). With
// partial set, an object item matches any element object holding at least
// its members.
func arrayContains(args []types.Value) types.Value {
	arr, item := args[0], args[1]
	if arr.Kind() != types.KindArray || !item.IsDefined() {
		return types.Undefined()
	}
	partial := false
	if len(args) == 3 {
		if args[2].Kind() != types.KindBool {
			return types.Undefined()
		}
		partial = args[2].AsBool()
	}
	for _, e := range arr.Elements() {
		if types.Equal(e, item) {
			return types.Bool(true)
		}
		if partial && item.Kind() == types.KindObject && e.Kind() == types.KindObject && containsMembers(e, item) {
			return types.Bool(true)
		}
	}
	return types.Bool(false)
}

func containsMembers(obj, subset types.Value) bool {
	for _, k := range subset.Keys() {
		if !types.Equal(obj.Field(k), subset.Field(k)) {
			return false
		}
	}
	return true
}

// IsConstant reports whether expr reads nothing from the document and has
// no unbound parameters.
func IsConstant(expr parser.Expression) bool {
	constant := true
	parser.Walk(expr, func(e parser.Expression) bool {
		switch e.(type) {
		case *parser.PathExpr, *parser.ParamExpr:
			constant = false
		}
		return constant
	})
	return constant
}
