package planner

import (
	"testing"

	"github.com/arkilian/docrune/internal/query/parser"
)

func mustParse(t *testing.T, sql string) *parser.SelectStatement {
	t.Helper()
	stmt, err := parser.Parse(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	return stmt
}

func TestSimplify(t *testing.T) {
	tests := []struct {
		where string
		want  string
		unsat bool
	}{
		{"c.a = 1 + 1", "(c.a = 2)", false},
		{"TRUE AND c.a = 1", "(c.a = 1)", false},
		{"c.a = 1 AND (2 > 1)", "(c.a = 1)", false},
		{"c.a = 1 OR 1 = 1", "", false},
		{"c.a = 1 OR FALSE", "(c.a = 1)", false},
		{"c.a IN (1 * 2, 3)", "c.a IN (2, 3)", false},
		{"c.a = [1, 2]", "(c.a = [1,2])", false},
		{"c.a = UPPER('x')", `(c.a = "X")`, false},
		{"NOT (c.a = 1 AND FALSE)", "", false},
		{"c.a = 1 AND NOT (c.b = 2 OR TRUE)", "false", true},
		{"1 = 2", "false", true},
		{"c.a = 1 AND 1 = 2", "false", true},
		{"'x' + 1", "undefined", true},
		{"1 = 1", "", false},
	}
	for _, tt := range tests {
		stmt := mustParse(t, "SELECT * FROM c WHERE "+tt.where)
		out, unsat := Simplify(stmt)
		got := ""
		if out.Where != nil {
			got = out.Where.String()
		}
		if got != tt.want || unsat != tt.unsat {
			t.Errorf("%s: got %q unsat=%v, want %q unsat=%v", tt.where, got, unsat, tt.want, tt.unsat)
		}
		if stmt.Where == nil {
			t.Errorf("%s: original statement was modified", tt.where)
		}
	}
}

func TestSimplify_FoldedTermsBecomeIndexable(t *testing.T) {
	stmt := mustParse(t, "SELECT * FROM c WHERE c.version >= 10 / 5")
	if parser.Conjuncts(stmt.Where)[0].Indexable() {
		t.Fatal("arithmetic operand should not be indexable before folding")
	}
	out, _ := Simplify(stmt)
	c := parser.Conjuncts(out.Where)[0]
	if !c.Indexable() || c.Op != parser.OpGe || c.Values[0].AsNumber() != 2 {
		t.Errorf("folded conjunct = %+v", c)
	}
}
