package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/arkilian/docrune/internal/errors"
	"github.com/arkilian/docrune/pkg/types"
)

// ParseError represents a parsing error with location information.
type ParseError struct {
	Message  string
	Position int
	Token    Token
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %q)", e.Position, e.Message, e.Token.Literal)
}

// functionArity lists the built-in functions with their minimum and maximum
// argument counts.
var functionArity = map[string][2]int{
	"IS_DEFINED":     {1, 1},
	"IS_NULL":        {1, 1},
	"IS_BOOL":        {1, 1},
	"IS_NUMBER":      {1, 1},
	"IS_STRING":      {1, 1},
	"IS_ARRAY":       {1, 1},
	"IS_OBJECT":      {1, 1},
	"IS_PRIMITIVE":   {1, 1},
	"STARTSWITH":     {2, 3},
	"ENDSWITH":       {2, 3},
	"CONTAINS":       {2, 3},
	"ARRAY_CONTAINS": {2, 3},
	"ARRAY_LENGTH":   {1, 1},
	"LENGTH":         {1, 1},
	"LOWER":          {1, 1},
	"UPPER":          {1, 1},
	"ABS":            {1, 1},
	"CONCAT":         {2, 16},
}

// IsFunction reports whether name is a built-in function.
func IsFunction(name string) bool {
	_, ok := functionArity[strings.ToUpper(name)]
	return ok
}

// Parser parses SQL statements into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
}

// NewParser creates a new Parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to initialize curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a query. Paths written against the FROM alias are resolved
// relative to the document. Errors are InvalidQuery errors wrapping a
// *ParseError.
func Parse(input string) (*SelectStatement, error) {
	p := NewParser(input)
	stmt, err := p.ParseStatement()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryQuery, errors.CodeInvalidQuery, err.Error(), err)
	}
	return stmt, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

func (p *Parser) errorf(format string, args ...interface{}) *ParseError {
	return &ParseError{
		Message:  fmt.Sprintf(format, args...),
		Position: p.curToken.Pos,
		Token:    p.curToken,
	}
}

// ParseStatement parses a SELECT statement and checks it.
func (p *Parser) ParseStatement() (*SelectStatement, error) {
	if p.curTokenIs(TokenError) {
		return nil, p.errorf("invalid token")
	}
	if !p.curTokenIs(TokenSelect) {
		return nil, p.errorf("expected SELECT")
	}
	stmt, err := p.parseSelectStatement()
	if err != nil {
		return nil, err
	}
	if p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
	if !p.curTokenIs(TokenEOF) {
		return nil, p.errorf("unexpected token after statement")
	}
	if err := resolve(stmt); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseSelectStatement() (*SelectStatement, error) {
	stmt := &SelectStatement{}

	// Skip SELECT
	p.nextToken()

	if p.curTokenIs(TokenTop) {
		p.nextToken()
		n, err := p.parseCount("TOP")
		if err != nil {
			return nil, err
		}
		stmt.Top = &n
	}

	if p.curTokenIs(TokenStar) {
		stmt.Star = true
		p.nextToken()
	} else {
		columns, err := p.parseSelectColumns()
		if err != nil {
			return nil, err
		}
		stmt.Columns = columns
	}

	if p.curTokenIs(TokenFrom) {
		p.nextToken()
		tableRef, err := p.parseTableRef()
		if err != nil {
			return nil, err
		}
		stmt.From = tableRef
	}

	if p.curTokenIs(TokenWhere) {
		p.nextToken()
		where, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		stmt.Where = where
	}

	if p.curTokenIs(TokenOrderBy) {
		p.nextToken()
		if !p.curTokenIs(TokenBy) {
			return nil, p.errorf("expected BY after ORDER")
		}
		p.nextToken()
		orderBy, err := p.parseOrderByList()
		if err != nil {
			return nil, err
		}
		stmt.OrderBy = orderBy
	}

	// OFFSET n LIMIT m, or either alone, in either order
	for p.curTokenIs(TokenOffset) || p.curTokenIs(TokenLimit) {
		clause := p.curToken.Type
		p.nextToken()
		n, err := p.parseCount(clause.String())
		if err != nil {
			return nil, err
		}
		if clause == TokenOffset {
			if stmt.Offset != nil {
				return nil, p.errorf("duplicate OFFSET")
			}
			stmt.Offset = &n
		} else {
			if stmt.Limit != nil {
				return nil, p.errorf("duplicate LIMIT")
			}
			stmt.Limit = &n
		}
	}

	return stmt, nil
}

// parseCount parses the non-negative integer after TOP, OFFSET or LIMIT.
func (p *Parser) parseCount(clause string) (int64, error) {
	if !p.curTokenIs(TokenNumber) {
		return 0, p.errorf("expected number after %s", clause)
	}
	n, err := strconv.ParseInt(p.curToken.Literal, 10, 64)
	if err != nil || n < 0 {
		return 0, p.errorf("invalid %s value", clause)
	}
	p.nextToken()
	return n, nil
}

func (p *Parser) parseSelectColumns() ([]SelectColumn, error) {
	var columns []SelectColumn

	for {
		col, err := p.parseSelectColumn()
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return columns, nil
}

func (p *Parser) parseSelectColumn() (SelectColumn, error) {
	col := SelectColumn{}

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return col, err
	}
	col.Expr = expr

	if p.curTokenIs(TokenAs) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return col, p.errorf("expected identifier after AS")
		}
		col.Alias = p.curToken.Literal
		p.nextToken()
	} else if p.curTokenIs(TokenIdent) {
		// Alias without AS
		col.Alias = p.curToken.Literal
		p.nextToken()
	}

	return col, nil
}

func (p *Parser) parseTableRef() (*TableRef, error) {
	if !p.curTokenIs(TokenIdent) {
		return nil, p.errorf("expected container name")
	}

	ref := &TableRef{Name: p.curToken.Literal}
	p.nextToken()

	if p.curTokenIs(TokenAs) {
		p.nextToken()
		if !p.curTokenIs(TokenIdent) {
			return nil, p.errorf("expected identifier after AS")
		}
		ref.Alias = p.curToken.Literal
		p.nextToken()
	} else if p.curTokenIs(TokenIdent) {
		ref.Alias = p.curToken.Literal
		p.nextToken()
	}

	return ref, nil
}

func (p *Parser) parseOrderByList() ([]OrderByClause, error) {
	var clauses []OrderByClause

	for {
		expr, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		path, ok := expr.(*PathExpr)
		if !ok {
			return nil, p.errorf("ORDER BY requires a field path, got %s", expr.String())
		}

		clause := OrderByClause{Path: path}
		if p.curTokenIs(TokenAsc) {
			p.nextToken()
		} else if p.curTokenIs(TokenDesc) {
			clause.Desc = true
			p.nextToken()
		}

		clauses = append(clauses, clause)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken() // Skip comma
	}

	return clauses, nil
}

// Operator precedence levels
const (
	precLowest  = 0
	precOr      = 1
	precAnd     = 2
	precNot     = 3
	precCompare = 4
	precAdd     = 5
	precMul     = 6
	precUnary   = 7
)

func (p *Parser) getPrecedence() int {
	switch p.curToken.Type {
	case TokenOr:
		return precOr
	case TokenAnd:
		return precAnd
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe, TokenIn, TokenBetween, TokenIs, TokenNot:
		return precCompare
	case TokenPlus, TokenMinus:
		return precAdd
	case TokenStar, TokenSlash, TokenPercent:
		return precMul
	default:
		return precLowest
	}
}

// parseExpression parses an expression with operator precedence.
func (p *Parser) parseExpression(precedence int) (Expression, error) {
	left, err := p.parsePrefixExpression()
	if err != nil {
		return nil, err
	}

	for !p.curTokenIs(TokenEOF) && precedence < p.getPrecedence() {
		left, err = p.parseInfixExpression(left)
		if err != nil {
			return nil, err
		}
	}

	return left, nil
}

func (p *Parser) parsePrefixExpression() (Expression, error) {
	switch p.curToken.Type {
	case TokenIdent:
		return p.parseIdentifierOrFunction()
	case TokenNumber:
		return p.parseNumber()
	case TokenString:
		lit := &Literal{Value: types.String(p.curToken.Literal)}
		p.nextToken()
		return lit, nil
	case TokenParam:
		param := &ParamExpr{Name: p.curToken.Literal}
		p.nextToken()
		return param, nil
	case TokenNull:
		p.nextToken()
		return &Literal{Value: types.Null()}, nil
	case TokenTrue, TokenFalse:
		v := p.curTokenIs(TokenTrue)
		p.nextToken()
		return &Literal{Value: types.Bool(v)}, nil
	case TokenUndefined:
		p.nextToken()
		return &Literal{Value: types.Undefined()}, nil
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenLBracket:
		return p.parseArray()
	case TokenNot:
		return p.parseNotExpression()
	case TokenMinus:
		return p.parseUnaryMinus()
	case TokenError:
		return nil, p.errorf("invalid token")
	default:
		return nil, p.errorf("unexpected token in expression")
	}
}

// parseIdentifierOrFunction parses a function call or a path such as
// c.tags[0]["display name"].
func (p *Parser) parseIdentifierOrFunction() (Expression, error) {
	name := p.curToken.Literal
	p.nextToken()

	if p.curTokenIs(TokenLParen) {
		return p.parseFunctionCall(name)
	}

	path := &PathExpr{Root: name}
	for {
		switch {
		case p.curTokenIs(TokenDot):
			p.nextToken()
			if !isNameToken(p.curToken) {
				return nil, p.errorf("expected field name after dot")
			}
			path.Path = append(path.Path, types.PathStep{Name: p.curToken.Literal})
			p.nextToken()
		case p.curTokenIs(TokenLBracket):
			p.nextToken()
			switch p.curToken.Type {
			case TokenNumber:
				idx, err := strconv.Atoi(p.curToken.Literal)
				if err != nil || idx < 0 {
					return nil, p.errorf("invalid array index")
				}
				path.Path = append(path.Path, types.PathStep{Index: idx, IsIndex: true})
			case TokenString:
				path.Path = append(path.Path, types.PathStep{Name: p.curToken.Literal})
			default:
				return nil, p.errorf("expected array index or quoted field name")
			}
			p.nextToken()
			if !p.curTokenIs(TokenRBracket) {
				return nil, p.errorf("expected ]")
			}
			p.nextToken()
		default:
			return path, nil
		}
	}
}

// isNameToken reports whether tok can be a field name after a dot. Keywords
// are allowed there, e.g. c.value or c.top.
func isNameToken(tok Token) bool {
	if tok.Type == TokenIdent {
		return true
	}
	_, ok := keywords[strings.ToUpper(tok.Literal)]
	return ok && tok.Literal != ""
}

func (p *Parser) parseFunctionCall(name string) (Expression, error) {
	upper := strings.ToUpper(name)
	arity, ok := functionArity[upper]
	if !ok {
		return nil, p.errorf("unknown function %s", name)
	}
	p.nextToken() // Skip (

	var args []Expression
	if !p.curTokenIs(TokenRParen) {
		for {
			arg, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)

			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after function arguments")
	}
	p.nextToken()

	if len(args) < arity[0] || len(args) > arity[1] {
		return nil, p.errorf("%s takes %d to %d arguments, got %d", upper, arity[0], arity[1], len(args))
	}
	return &FunctionCall{Name: upper, Args: args}, nil
}

func (p *Parser) parseNumber() (Expression, error) {
	literal := p.curToken.Literal
	val, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return nil, p.errorf("invalid number")
	}
	p.nextToken()
	return &Literal{Value: types.Number(val)}, nil
}

func (p *Parser) parseGroupedExpression() (Expression, error) {
	p.nextToken() // Skip (

	expr, err := p.parseExpression(precLowest)
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected )")
	}
	p.nextToken()

	return &ParenExpr{Expr: expr}, nil
}

func (p *Parser) parseArray() (Expression, error) {
	p.nextToken() // Skip [
	arr := &ArrayExpr{}
	if !p.curTokenIs(TokenRBracket) {
		for {
			elem, err := p.parseExpression(precLowest)
			if err != nil {
				return nil, err
			}
			arr.Elems = append(arr.Elems, elem)
			if !p.curTokenIs(TokenComma) {
				break
			}
			p.nextToken()
		}
	}
	if !p.curTokenIs(TokenRBracket) {
		return nil, p.errorf("expected ]")
	}
	p.nextToken()
	return arr, nil
}

func (p *Parser) parseNotExpression() (Expression, error) {
	p.nextToken() // Skip NOT

	expr, err := p.parseExpression(precNot)
	if err != nil {
		return nil, err
	}

	return &UnaryExpr{Operator: "NOT", Operand: expr}, nil
}

// parseUnaryMinus folds -<number> into a literal.
func (p *Parser) parseUnaryMinus() (Expression, error) {
	p.nextToken() // Skip -

	expr, err := p.parseExpression(precUnary)
	if err != nil {
		return nil, err
	}
	if lit, ok := expr.(*Literal); ok && lit.Value.Kind() == types.KindNumber {
		return &Literal{Value: types.Number(-lit.Value.AsNumber())}, nil
	}

	return &UnaryExpr{Operator: "-", Operand: expr}, nil
}

func (p *Parser) parseInfixExpression(left Expression) (Expression, error) {
	switch p.curToken.Type {
	case TokenAnd, TokenOr,
		TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe,
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenPercent:
		return p.parseBinaryExpression(left)
	case TokenIn:
		return p.parseInExpression(left, false)
	case TokenBetween:
		return p.parseBetweenExpression(left, false)
	case TokenIs:
		return p.parseIsExpression(left)
	case TokenNot:
		return p.parseNotInfix(left)
	default:
		return left, nil
	}
}

func (p *Parser) parseBinaryExpression(left Expression) (Expression, error) {
	op := strings.ToUpper(p.curToken.Literal)
	if p.curTokenIs(TokenNe) {
		op = "!="
	}
	precedence := p.getPrecedence()
	p.nextToken()

	right, err := p.parseExpression(precedence)
	if err != nil {
		return nil, err
	}

	return &BinaryExpr{Left: left, Operator: op, Right: right}, nil
}

func (p *Parser) parseInExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip IN

	if !p.curTokenIs(TokenLParen) {
		return nil, p.errorf("expected ( after IN")
	}
	p.nextToken()

	var values []Expression
	for {
		val, err := p.parseExpression(precLowest)
		if err != nil {
			return nil, err
		}
		values = append(values, val)

		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}

	if !p.curTokenIs(TokenRParen) {
		return nil, p.errorf("expected ) after IN values")
	}
	p.nextToken()

	return &InExpr{Expr: left, Values: values, Not: not}, nil
}

func (p *Parser) parseBetweenExpression(left Expression, not bool) (Expression, error) {
	p.nextToken() // Skip BETWEEN

	low, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	if !p.curTokenIs(TokenAnd) {
		return nil, p.errorf("expected AND in BETWEEN expression")
	}
	p.nextToken()

	high, err := p.parseExpression(precCompare)
	if err != nil {
		return nil, err
	}

	return &BetweenExpr{Expr: left, Low: low, High: high, Not: not}, nil
}

func (p *Parser) parseIsExpression(left Expression) (Expression, error) {
	p.nextToken() // Skip IS

	not := false
	if p.curTokenIs(TokenNot) {
		not = true
		p.nextToken()
	}

	if !p.curTokenIs(TokenNull) {
		return nil, p.errorf("expected NULL after IS")
	}
	p.nextToken()

	return &IsNullExpr{Expr: left, Not: not}, nil
}

// parseNotInfix parses NOT IN and NOT BETWEEN.
func (p *Parser) parseNotInfix(left Expression) (Expression, error) {
	p.nextToken() // Skip NOT

	switch p.curToken.Type {
	case TokenIn:
		return p.parseInExpression(left, true)
	case TokenBetween:
		return p.parseBetweenExpression(left, true)
	default:
		return nil, p.errorf("expected IN or BETWEEN after NOT")
	}
}
