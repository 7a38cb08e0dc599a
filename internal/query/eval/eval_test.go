package eval

import (
	"testing"

	"github.com/arkilian/docrune/internal/query/parser"
	"github.com/arkilian/docrune/pkg/types"
)

func sampleDoc(t *testing.T) types.Document {
	t.Helper()
	doc, err := types.ParseDocument([]byte(`{
		"id": "19294",
		"foodGroup": "Baby Foods",
		"description": "Babyfood, dessert, fruit pudding, orange, strained",
		"version": 1,
		"isFromSurvey": false,
		"manufacturerName": null,
		"tags": [{"name": "babyfood"}, {"name": "dessert"}],
		"nutrients": {"protein": 0.5}
	}`))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func where(t *testing.T, clause string) parser.Expression {
	t.Helper()
	stmt, err := parser.Parse("SELECT * FROM c WHERE " + clause)
	if err != nil {
		t.Fatalf("parse %q: %v", clause, err)
	}
	return stmt.Where
}

func TestMatches(t *testing.T) {
	doc := sampleDoc(t)
	tests := []struct {
		clause string
		want   bool
	}{
		{`c.foodGroup = "Baby Foods"`, true},
		{`c.foodGroup = "Sweets"`, false},
		{`c.foodGroup != "Sweets"`, true},
		{`c.version >= 1 AND c.version < 2`, true},
		{`c.version > "0"`, false},
		{`NOT (c.version > "0")`, false},
		{`c.missing = 1`, false},
		{`c.missing != 1`, false},
		{`NOT IS_DEFINED(c.missing)`, true},
		{`IS_DEFINED(c.description)`, true},
		{`IS_DEFINED(c.manufacturerName)`, true},
		{`c.manufacturerName IS NULL`, true},
		{`c.missing IS NULL`, false},
		{`c.tags[1].name = "dessert"`, true},
		{`c.tags.name = "dessert"`, false},
		{`c.nutrients.protein BETWEEN 0 AND 1`, true},
		{`c.nutrients.protein NOT BETWEEN 0 AND 1`, false},
		{`c.version IN (3, 2, 1)`, true},
		{`c.version NOT IN (3, 2)`, true},
		{`STARTSWITH(c.description, "baby", true)`, true},
		{`STARTSWITH(c.description, "baby")`, false},
		{`CONTAINS(c.description, "pudding")`, true},
		{`ENDSWITH(c.description, "strained")`, true},
		{`ARRAY_LENGTH(c.tags) = 2`, true},
		{`LOWER(c.foodGroup) = "baby foods"`, true},
		{`c.version + 1 = 2`, true},
		{`c.version / 0 = 1`, false},
		{`c.isFromSurvey = false OR c.missing = 1`, true},
		{`c.missing = 1 OR c.missing = 2`, false},
		{`c.version = 1 AND c.missing = 1`, false},
		{`LENGTH(CONCAT(c.foodGroup, "!")) = 11`, true},
		{`ABS(-2) = 2`, true},
	}
	for _, tt := range tests {
		if got := Matches(where(t, tt.clause), doc); got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.clause, got, tt.want)
		}
	}
}

func TestArrayContainsPartial(t *testing.T) {
	doc := types.Document{
		"tags": types.Array(
			types.Object(map[string]types.Value{"name": types.String("a"), "rank": types.Number(1)}),
		),
	}
	expr := &parser.FunctionCall{Name: "ARRAY_CONTAINS", Args: []parser.Expression{
		&parser.PathExpr{Root: "c", Path: types.MustParsePath("tags")},
		&parser.Literal{Value: types.Object(map[string]types.Value{"name": types.String("a")})},
		&parser.Literal{Value: types.Bool(true)},
	}}
	if !Matches(expr, doc) {
		t.Error("partial ARRAY_CONTAINS should match an element holding the members")
	}
	expr.Args = expr.Args[:2]
	if Matches(expr, doc) {
		t.Error("full ARRAY_CONTAINS should require an equal element")
	}
}

func TestEvalThreeValued(t *testing.T) {
	doc := types.Document{"a": types.Number(1)}
	if v := Eval(where(t, "c.a = 1 AND c.b = 1"), doc); v.IsDefined() {
		t.Errorf("true AND undefined = %s, want undefined", v)
	}
	if v := Eval(where(t, "c.a = 2 AND c.b = 1"), doc); v.Kind() != types.KindBool || v.AsBool() {
		t.Errorf("false AND undefined = %s, want false", v)
	}
	if v := Eval(where(t, "c.b = 1 OR c.a = 1"), doc); v.Kind() != types.KindBool || !v.AsBool() {
		t.Errorf("undefined OR true = %s, want true", v)
	}
}

func TestIsConstant(t *testing.T) {
	if !IsConstant(where(t, "1 + 2 = 3")) {
		t.Error("literal arithmetic should be constant")
	}
	if IsConstant(where(t, "c.a = 1")) {
		t.Error("path reference is not constant")
	}
	if IsConstant(where(t, "@p = 1")) {
		t.Error("unbound parameter is not constant")
	}
}
