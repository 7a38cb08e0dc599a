package parser

import (
	"testing"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/pkg/types"
)

func TestLexer(t *testing.T) {
	tests := []struct {
		input    string
		expected []TokenType
	}{
		{
			"SELECT * FROM c",
			[]TokenType{TokenSelect, TokenStar, TokenFrom, TokenIdent, TokenEOF},
		},
		{
			"SELECT c.id FROM c WHERE c.version >= 1.5e2",
			[]TokenType{TokenSelect, TokenIdent, TokenDot, TokenIdent, TokenFrom, TokenIdent, TokenWhere, TokenIdent, TokenDot, TokenIdent, TokenGe, TokenNumber, TokenEOF},
		},
		{
			`SELECT * FROM c WHERE c["food group"] = @group AND c.tags[0].name != 'x'`,
			[]TokenType{TokenSelect, TokenStar, TokenFrom, TokenIdent, TokenWhere,
				TokenIdent, TokenLBracket, TokenString, TokenRBracket, TokenEq, TokenParam, TokenAnd,
				TokenIdent, TokenDot, TokenIdent, TokenLBracket, TokenNumber, TokenRBracket, TokenDot, TokenIdent, TokenNe, TokenString, TokenEOF},
		},
	}

	for _, tt := range tests {
		lexer := NewLexer(tt.input)
		tokens := lexer.Tokenize()

		if len(tokens) != len(tt.expected) {
			t.Errorf("input %q: expected %d tokens, got %d: %v", tt.input, len(tt.expected), len(tokens), tokens)
			continue
		}

		for i, tok := range tokens {
			if tok.Type != tt.expected[i] {
				t.Errorf("input %q: token %d: expected %s, got %s", tt.input, i, tt.expected[i], tok.Type)
			}
		}
	}
}

func TestLexerStrings(t *testing.T) {
	tests := map[string]string{
		`'it''s'`:      "it's",
		`"say \"hi\""`: `say "hi"`,
		`'a\nb'`:       "a\nb",
		`'tab\tx'`:     "tab\tx",
	}
	for input, want := range tests {
		tok := NewLexer(input).NextToken()
		if tok.Type != TokenString || tok.Literal != want {
			t.Errorf("%s: got %s", input, tok)
		}
	}
	if tok := NewLexer(`'open`).NextToken(); tok.Type != TokenError {
		t.Errorf("unterminated string: got %s", tok)
	}
}

func TestParseFoodQuery(t *testing.T) {
	sql := `SELECT * FROM c WHERE c.foodGroup = "Baby Foods" AND IS_DEFINED(c.description)
		AND IS_DEFINED(c.manufacturerName) ORDER BY c.tags.name ASC, c.version ASC`
	stmt, err := Parse(sql)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stmt.Star {
		t.Error("expected SELECT *")
	}
	if stmt.From == nil || stmt.From.Root() != "c" {
		t.Fatalf("from = %v", stmt.From)
	}
	if len(stmt.OrderBy) != 2 {
		t.Fatalf("expected 2 order by clauses, got %d", len(stmt.OrderBy))
	}
	if got := stmt.OrderBy[0].Path.Path.String(); got != "tags.name" {
		t.Errorf("first order path = %s", got)
	}
	if stmt.OrderBy[1].Desc {
		t.Error("version should be ascending")
	}

	conj := Conjuncts(stmt.Where)
	if len(conj) != 3 {
		t.Fatalf("expected 3 conjuncts, got %d", len(conj))
	}
	if conj[0].Op != OpEq || conj[0].Path.Path.String() != "foodGroup" || !types.Equal(conj[0].Values[0], types.String("Baby Foods")) {
		t.Errorf("conjunct 0 = %+v", conj[0])
	}
	for _, c := range conj[1:] {
		if c.Op != OpIsDefined {
			t.Errorf("conjunct %s: op %q", c.Expr, c.Op)
		}
	}
}

func TestParsePathsWithAndWithoutAlias(t *testing.T) {
	tests := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM c WHERE c.tags.name = 1", "tags.name"},
		{"SELECT * FROM c WHERE tags.name = 1", "tags.name"},
		{"SELECT * FROM Foods f WHERE f.tags[0].name = 1", "tags[0].name"},
		{`SELECT * FROM c WHERE c["food group"] = 1`, `["food group"]`},
		{"SELECT * FROM c WHERE c.value = 1", "value"},
		{"SELECT * WHERE version = 1", "version"},
	}
	for _, tt := range tests {
		stmt, err := Parse(tt.sql)
		if err != nil {
			t.Errorf("%s: %v", tt.sql, err)
			continue
		}
		conj := Conjuncts(stmt.Where)
		if len(conj) != 1 || conj[0].Path == nil {
			t.Errorf("%s: conjuncts %+v", tt.sql, conj)
			continue
		}
		if got := conj[0].Path.Path.String(); got != tt.want {
			t.Errorf("%s: path %s, want %s", tt.sql, got, tt.want)
		}
	}
}

func TestParseTopOffsetLimit(t *testing.T) {
	stmt, err := Parse("SELECT TOP 5 c.id FROM c OFFSET 10 LIMIT 20")
	if err != nil {
		t.Fatal(err)
	}
	if *stmt.Top != 5 || *stmt.Offset != 10 || *stmt.Limit != 20 {
		t.Errorf("top=%d offset=%d limit=%d", *stmt.Top, *stmt.Offset, *stmt.Limit)
	}
	stmt, err = Parse("SELECT * FROM c LIMIT 3 OFFSET 1")
	if err != nil {
		t.Fatal(err)
	}
	if *stmt.Offset != 1 || *stmt.Limit != 3 {
		t.Errorf("offset=%d limit=%d", *stmt.Offset, *stmt.Limit)
	}
}

func TestParseProjection(t *testing.T) {
	stmt, err := Parse("SELECT c.id, c.tags.name AS tag, UPPER(c.description) FROM c")
	if err != nil {
		t.Fatal(err)
	}
	if len(stmt.Columns) != 3 {
		t.Fatalf("columns = %v", stmt.Columns)
	}
	if stmt.Columns[1].Alias != "tag" {
		t.Errorf("alias = %q", stmt.Columns[1].Alias)
	}
	if fn, ok := stmt.Columns[2].Expr.(*FunctionCall); !ok || fn.Name != "UPPER" {
		t.Errorf("third column = %s", stmt.Columns[2].Expr)
	}
}

func TestConjunctAnalysis(t *testing.T) {
	tests := []struct {
		where    string
		op       string
		operator string
		values   int
	}{
		{"1 < c.version", OpGt, "<", 1},
		{"c.version BETWEEN 1 AND 3", OpBetween, "BETWEEN", 2},
		{"c.version IN (1, 2, 3)", OpIn, "IN", 3},
		{"c.version NOT IN (1)", "", "NOT IN", 0},
		{"c.version != 1", "", "!=", 0},
		{"NOT IS_DEFINED(c.version)", "", "NOT", 0},
		{"STARTSWITH(c.description, 'Pu')", "", "STARTSWITH", 0},
		{"c.version = undefined", "", "=", 0},
		{"(c.version >= -2)", OpGe, ">=", 1},
		{"c.version IS NULL", "", "IS NULL", 0},
	}
	for _, tt := range tests {
		stmt, err := Parse("SELECT * FROM c WHERE " + tt.where)
		if err != nil {
			t.Errorf("%s: %v", tt.where, err)
			continue
		}
		conj := Conjuncts(stmt.Where)
		if len(conj) != 1 {
			t.Errorf("%s: %d conjuncts", tt.where, len(conj))
			continue
		}
		c := conj[0]
		if c.Op != tt.op || c.Operator != tt.operator || len(c.Values) != tt.values {
			t.Errorf("%s: op=%q operator=%q values=%v", tt.where, c.Op, c.Operator, c.Values)
		}
		if c.Path == nil || c.Path.Path.String() != "version" && c.Path.Path.String() != "description" {
			t.Errorf("%s: path %v", tt.where, c.Path)
		}
	}
}

func TestConjunctsOnlySplitTopLevelAnd(t *testing.T) {
	stmt, err := Parse("SELECT * FROM c WHERE (c.a = 1 AND c.b = 2) AND (c.c = 3 OR c.d = 4)")
	if err != nil {
		t.Fatal(err)
	}
	conj := Conjuncts(stmt.Where)
	if len(conj) != 3 {
		t.Fatalf("expected 3 conjuncts, got %d", len(conj))
	}
	if conj[2].Path != nil || conj[2].Indexable() {
		t.Errorf("OR term should be residual without a single path: %+v", conj[2])
	}
}

func TestBind(t *testing.T) {
	stmt, err := Parse("SELECT * FROM c WHERE c.foodGroup = @group AND c.version IN (@v, 2)")
	if err != nil {
		t.Fatal(err)
	}
	if got := Params(stmt); len(got) != 2 || got[0] != "group" || got[1] != "v" {
		t.Errorf("Params = %v", got)
	}

	bound, err := Bind(stmt, map[string]types.Value{"group": types.String("Sweets"), "v": types.Number(1)})
	if err != nil {
		t.Fatal(err)
	}
	conj := Conjuncts(bound.Where)
	if conj[0].Op != OpEq || conj[0].Values[0].AsString() != "Sweets" {
		t.Errorf("bound equality = %+v", conj[0])
	}
	if conj[1].Op != OpIn || len(conj[1].Values) != 2 {
		t.Errorf("bound IN = %+v", conj[1])
	}
	// the original statement is untouched
	if Conjuncts(stmt.Where)[0].Op != "" {
		t.Error("Bind modified the original statement")
	}

	_, err = Bind(stmt, map[string]types.Value{"group": types.String("x")})
	if !errorsIsInvalidQuery(err) {
		t.Errorf("missing parameter: got %v", err)
	}
}

func TestParseErrors(t *testing.T) {
	bad := []string{
		"",
		"DELETE FROM c",
		"SELECT * FROM c WHERE",
		"SELECT * FROM c WHERE c.a = ",
		"SELECT * FROM c WHERE c. = 1",
		"SELECT * FROM c WHERE c.tags[-1] = 1",
		"SELECT * FROM c WHERE c.tags[0 = 1",
		"SELECT * FROM c WHERE NOPE(c.a)",
		"SELECT * FROM c WHERE IS_DEFINED(c.a, c.b)",
		"SELECT * FROM c ORDER BY UPPER(c.a)",
		"SELECT * FROM c ORDER BY c",
		"SELECT * FROM c ORDER c.a",
		"SELECT * FROM c LIMIT -1",
		"SELECT * FROM c LIMIT 1 LIMIT 2",
		"SELECT * FROM c WHERE c.a = 'open",
		"SELECT * FROM c WHERE c.a IN 1",
		"SELECT * FROM c WHERE c.a BETWEEN 1 OR 2",
		"SELECT * FROM c extra tokens",
	}
	for _, sql := range bad {
		_, err := Parse(sql)
		if err == nil {
			t.Errorf("%q: expected error", sql)
			continue
		}
		if !errorsIsInvalidQuery(err) {
			t.Errorf("%q: error %v is not an invalid query error", sql, err)
		}
	}
}

func errorsIsInvalidQuery(err error) bool {
	return errors.GetCode(err) == errors.CodeInvalidQuery
}

func TestStatementString(t *testing.T) {
	stmt, err := Parse("select top 2 * from c where c.a = 'x' and not c.b > 1 order by c.a desc offset 1 limit 2")
	if err != nil {
		t.Fatal(err)
	}
	want := `SELECT TOP 2 * FROM c WHERE ((c.a = "x") AND NOT (c.b > 1)) ORDER BY c.a DESC OFFSET 1 LIMIT 2`
	if got := stmt.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
}
