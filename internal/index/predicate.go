package index

import (
	"fmt"

	"github.com/arkilian/docrune/pkg/types"
)

// Op is an index-servable predicate operator.
type Op int

const (
	OpEq Op = iota
	OpLt
	OpLe
	OpGt
	OpGe
	OpBetween
	OpIn
	OpDefined
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	case OpBetween:
		return "BETWEEN"
	case OpIn:
		return "IN"
	case OpDefined:
		return "IS_DEFINED"
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Predicate is a condition on the value found at one path. Values holds one
// operand for comparisons, two for BETWEEN and any number for IN.
type Predicate struct {
	Op     Op
	Values []types.Value
}

// Eq builds an equality predicate.
func Eq(v types.Value) Predicate { return Predicate{Op: OpEq, Values: []types.Value{v}} }

// Matches evaluates the predicate against a resolved value. Equality uses
// deep equality; range operators only hold between scalars of one kind.
func (p Predicate) Matches(v types.Value) bool {
	if !v.IsDefined() {
		return false
	}
	switch p.Op {
	case OpDefined:
		return true
	case OpEq:
		return len(p.Values) == 1 && p.Values[0].IsDefined() && types.Equal(v, p.Values[0])
	case OpIn:
		for _, x := range p.Values {
			if x.IsDefined() && types.Equal(v, x) {
				return true
			}
		}
		return false
	case OpBetween:
		if len(p.Values) != 2 {
			return false
		}
		lo, hi := p.Values[0], p.Values[1]
		return types.Comparable(v, lo) && types.Comparable(v, hi) &&
			types.Compare(v, lo) >= 0 && types.Compare(v, hi) <= 0
	}
	if len(p.Values) != 1 || !types.Comparable(v, p.Values[0]) {
		return false
	}
	c := types.Compare(v, p.Values[0])
	switch p.Op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// bounds returns the scalar kind and the value range a range predicate can
// match. ok is false when nothing can match.
func (p Predicate) bounds() (lo, hi types.Value, loIncl, hiIncl, ok bool) {
	switch p.Op {
	case OpBetween:
		if len(p.Values) != 2 {
			return
		}
		lo, hi = p.Values[0], p.Values[1]
		if !types.Comparable(lo, hi) {
			return
		}
		return lo, hi, true, true, true
	case OpLt, OpLe, OpGt, OpGe:
		if len(p.Values) != 1 || !p.Values[0].IsScalar() {
			return
		}
		v := p.Values[0]
		switch p.Op {
		case OpLt, OpLe:
			return types.MinOfKind(v.Kind()), v, true, p.Op == OpLe, true
		default:
			return v, types.Undefined(), p.Op == OpGe, false, true
		}
	}
	return
}
