package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: Recursive descent parser
// ---------------------------------------------------------------------------

// Parser parses source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	prevEnd   Position // end of the last consumed token
	errors    []string
	diags     []Diagnostic
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.prevEnd = p.curToken.End
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// expect advances if the current token matches, otherwise records an error.
func (p *Parser) expect(t TokenType) bool {
	if p.curTokenIs(t) {
		p.nextToken()
		return true
	}
	p.errorf("expected %s, got %s", t, p.describe(p.curToken))
	return false
}

// errorf records a parse error at the current token.
func (p *Parser) errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.errors = append(p.errors, fmt.Sprintf("line %d: %s", p.curToken.Pos.Line, msg))
	p.diags = append(p.diags, Diagnostic{
		Span:     MakeSpan(p.curToken.Pos, p.curToken.End),
		Severity: SeverityError,
		Message:  msg,
	})
}

func (p *Parser) describe(tok Token) string {
	switch tok.Type {
	case TokenError:
		return tok.Literal
	case TokenIdentifier, TokenInteger, TokenFloat:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	}
	return tok.Type.String()
}

// Errors returns accumulated parse errors.
func (p *Parser) Errors() []string {
	return p.errors
}

// Diagnostics returns accumulated parse errors with their source ranges.
func (p *Parser) Diagnostics() []Diagnostic {
	return p.diags
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses a whole source file.
func (p *Parser) ParseProgram() *Program {
	start := p.curToken.Pos
	prog := &Program{}
	p.skipSemicolons()
	for !p.curTokenIs(TokenEOF) {
		if stmt := p.parseStatementOrRecover(); stmt != nil {
			prog.Statements = append(prog.Statements, stmt)
		}
	}
	prog.SpanVal = MakeSpan(start, p.curToken.End)
	return prog
}

// parseStatementOrRecover parses one statement. After an error it skips
// to a likely statement boundary so later errors are still reported.
func (p *Parser) parseStatementOrRecover() Stmt {
	before := len(p.errors)
	startOffset := p.curToken.Pos.Offset
	stmt := p.ParseStatement()
	if len(p.errors) == before {
		p.skipSemicolons()
		return stmt
	}
	if p.curToken.Pos.Offset == startOffset && !p.curTokenIs(TokenEOF) {
		p.nextToken()
	}
	p.synchronize()
	return nil
}

func (p *Parser) synchronize() {
	for {
		switch p.curToken.Type {
		case TokenEOF, TokenVar, TokenPrint, TokenRead, TokenIf, TokenWhile, TokenLBrace, TokenRBrace:
			return
		case TokenSemicolon:
			p.skipSemicolons()
			return
		}
		p.nextToken()
	}
}

func (p *Parser) skipSemicolons() {
	for p.curTokenIs(TokenSemicolon) {
		p.nextToken()
	}
}

// ParseStatement parses a single statement.
func (p *Parser) ParseStatement() Stmt {
	switch p.curToken.Type {
	case TokenLBrace:
		return p.parseBlock()
	case TokenVar:
		return p.parseVarDecl()
	case TokenPrint:
		return p.parsePrint()
	case TokenRead:
		return p.parseRead()
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		return p.parseWhile()
	case TokenIdentifier:
		return p.parseAssign()
	case TokenError:
		p.errorf("%s", p.curToken.Literal)
		return nil
	default:
		p.errorf("unexpected %s at start of statement", p.describe(p.curToken))
		return nil
	}
}

func (p *Parser) parseBlock() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume {

	block := &Block{}
	p.skipSemicolons()
	for !p.curTokenIs(TokenRBrace) && !p.curTokenIs(TokenEOF) {
		if stmt := p.parseStatementOrRecover(); stmt != nil {
			block.Statements = append(block.Statements, stmt)
		}
	}
	if !p.expect(TokenRBrace) {
		return nil
	}
	block.SpanVal = MakeSpan(start, p.prevEnd)
	return block
}

func (p *Parser) parseVarDecl() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume var

	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected variable name after var, got %s", p.describe(p.curToken))
		return nil
	}
	decl := &VarDecl{
		Name:     p.curToken.Literal,
		NameSpan: MakeSpan(p.curToken.Pos, p.curToken.End),
	}
	p.nextToken()

	if p.curTokenIs(TokenColon) {
		p.nextToken()
		if !p.curTokenIs(TokenIdentifier) || !isTypeName(p.curToken.Literal) {
			p.errorf("expected type (%s), got %s", strings.Join(TypeNames, ", "), p.describe(p.curToken))
			return nil
		}
		decl.Type = p.curToken.Literal
		p.nextToken()
	}

	if p.curTokenIs(TokenAssign) {
		p.nextToken()
		decl.Init = p.ParseExpression()
		if decl.Init == nil {
			return nil
		}
	}
	decl.SpanVal = MakeSpan(start, p.prevEnd)
	return decl
}

func (p *Parser) parseAssign() Stmt {
	name := p.curToken
	p.nextToken()
	if !p.curTokenIs(TokenAssign) {
		if p.curTokenIs(TokenEQ) {
			p.errorf("expected = in assignment to %s, got == (comparison)", name.Literal)
		} else {
			p.errorf("expected = after %s, got %s", name.Literal, p.describe(p.curToken))
		}
		return nil
	}
	p.nextToken()
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &Assign{
		SpanVal:  MakeSpan(name.Pos, p.prevEnd),
		Name:     name.Literal,
		NameSpan: MakeSpan(name.Pos, name.End),
		Value:    value,
	}
}

func (p *Parser) parsePrint() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume print
	value := p.ParseExpression()
	if value == nil {
		return nil
	}
	return &Print{SpanVal: MakeSpan(start, p.prevEnd), Value: value}
}

// parseRead accepts both read x and read(x).
func (p *Parser) parseRead() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume read

	paren := p.curTokenIs(TokenLParen)
	if paren {
		p.nextToken()
	}
	if !p.curTokenIs(TokenIdentifier) {
		p.errorf("expected variable name after read, got %s", p.describe(p.curToken))
		return nil
	}
	in := &Input{
		Name:     p.curToken.Literal,
		NameSpan: MakeSpan(p.curToken.Pos, p.curToken.End),
	}
	p.nextToken()
	if paren && !p.expect(TokenRParen) {
		return nil
	}
	in.SpanVal = MakeSpan(start, p.prevEnd)
	return in
}

func (p *Parser) parseIf() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume if

	cond := p.ParseExpression()
	if cond == nil {
		return nil
	}
	then := p.parseBody("if")
	if then == nil {
		return nil
	}
	stmt := &If{Cond: cond, Then: then}

	// else may follow a statement separator
	if p.curTokenIs(TokenSemicolon) && p.peekToken.Type == TokenElse {
		p.nextToken()
	}
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		stmt.Else = p.parseBody("else")
		if stmt.Else == nil {
			return nil
		}
	}
	stmt.SpanVal = MakeSpan(start, p.prevEnd)
	return stmt
}

func (p *Parser) parseWhile() Stmt {
	start := p.curToken.Pos
	p.nextToken() // consume while

	cond := p.ParseExpression()
	if cond == nil {
		return nil
	}
	body := p.parseBody("while")
	if body == nil {
		return nil
	}
	return &While{SpanVal: MakeSpan(start, p.prevEnd), Cond: cond, Body: body}
}

// parseBody parses the statement controlled by if, else or while.
func (p *Parser) parseBody(keyword string) Stmt {
	if p.curTokenIs(TokenEOF) || p.curTokenIs(TokenSemicolon) || p.curTokenIs(TokenRBrace) {
		p.errorf("missing statement after %s", keyword)
		return nil
	}
	return p.ParseStatement()
}

func isTypeName(s string) bool {
	for _, t := range TypeNames {
		if s == t {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Expressions, lowest precedence first
// ---------------------------------------------------------------------------

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() Expr {
	return p.parseLogical(true)
}

// parseLogical parses an or-chain (or=true) or an and-chain.
func (p *Parser) parseLogical(or bool) Expr {
	op, next := TokenAnd, func() Expr { return p.parseEquality() }
	if or {
		op, next = TokenOr, func() Expr { return p.parseLogical(false) }
	}

	first := next()
	if first == nil {
		return nil
	}
	if !p.curTokenIs(op) {
		return first
	}
	operands := []Expr{first}
	for p.curTokenIs(op) {
		p.nextToken()
		operand := next()
		if operand == nil {
			return nil
		}
		operands = append(operands, operand)
	}
	return &LogicalExpr{
		SpanVal:  MakeSpan(first.Span().Start, p.prevEnd),
		Or:       or,
		Operands: operands,
	}
}

var equalityOps = map[TokenType]string{TokenEQ: OpEQ, TokenNE: OpNE}

var relationalOps = map[TokenType]string{TokenLT: OpLT, TokenGT: OpGT, TokenLE: OpLE, TokenGE: OpGE}

func (p *Parser) parseEquality() Expr {
	return p.parseComparison(equalityOps, p.parseRelational)
}

func (p *Parser) parseRelational() Expr {
	return p.parseComparison(relationalOps, p.parseAdditive)
}

// parseComparison parses at most one comparison; the operators do not
// chain.
func (p *Parser) parseComparison(ops map[TokenType]string, next func() Expr) Expr {
	left := next()
	if left == nil {
		return nil
	}
	op, ok := ops[p.curToken.Type]
	if !ok {
		return left
	}
	p.nextToken()
	right := next()
	if right == nil {
		return nil
	}
	if _, again := ops[p.curToken.Type]; again {
		p.errorf("comparison operators do not chain; use and")
		return nil
	}
	return &CompareExpr{
		SpanVal: MakeSpan(left.Span().Start, p.prevEnd),
		Left:    left,
		Op:      op,
		Right:   right,
	}
}

var additiveOps = map[TokenType]string{TokenPlus: OpAdd, TokenMinus: OpSub}

var multiplicativeOps = map[TokenType]string{TokenStar: OpMul, TokenSlash: OpDiv}

func (p *Parser) parseAdditive() Expr {
	return p.parseArith(additiveOps, p.parseMultiplicative)
}

func (p *Parser) parseMultiplicative() Expr {
	return p.parseArith(multiplicativeOps, p.parsePower)
}

func (p *Parser) parseArith(ops map[TokenType]string, next func() Expr) Expr {
	first := next()
	if first == nil {
		return nil
	}
	if _, ok := ops[p.curToken.Type]; !ok {
		return first
	}
	expr := &ArithExpr{Operands: []Expr{first}}
	for {
		op, ok := ops[p.curToken.Type]
		if !ok {
			break
		}
		p.nextToken()
		operand := next()
		if operand == nil {
			return nil
		}
		expr.Ops = append(expr.Ops, op)
		expr.Operands = append(expr.Operands, operand)
	}
	expr.SpanVal = MakeSpan(first.Span().Start, p.prevEnd)
	return expr
}

// parsePower parses unary ** power, which groups to the right.
func (p *Parser) parsePower() Expr {
	base := p.parseUnary()
	if base == nil {
		return nil
	}
	if !p.curTokenIs(TokenPower) {
		return base
	}
	p.nextToken()
	exponent := p.parsePower()
	if exponent == nil {
		return nil
	}
	return &PowerExpr{
		SpanVal:  MakeSpan(base.Span().Start, p.prevEnd),
		Base:     base,
		Exponent: exponent,
	}
}

func (p *Parser) parseUnary() Expr {
	start := p.curToken.Pos
	var ops []string
	for p.curTokenIs(TokenMinus) || p.curTokenIs(TokenNot) {
		if p.curTokenIs(TokenMinus) {
			ops = append(ops, OpNeg)
		} else {
			ops = append(ops, OpNot)
		}
		p.nextToken()
	}
	operand := p.parsePrimary()
	if operand == nil {
		return nil
	}
	if len(ops) == 0 {
		return operand
	}
	return &UnaryExpr{
		SpanVal: MakeSpan(start, p.prevEnd),
		Ops:     ops,
		Operand: operand,
	}
}

// parsePrimary parses literals, identifiers and parenthesized expressions.
func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	span := MakeSpan(tok.Pos, tok.End)

	switch tok.Type {
	case TokenInteger:
		p.nextToken()
		v, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.errorf("integer literal out of range: %s", tok.Literal)
			return nil
		}
		return &IntLiteral{SpanVal: span, Value: v}

	case TokenFloat:
		p.nextToken()
		v, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			p.errorf("invalid float: %s", tok.Literal)
			return nil
		}
		return &FloatLiteral{SpanVal: span, Value: v}

	case TokenString:
		p.nextToken()
		return &StringLiteral{SpanVal: span, Value: tok.Literal}

	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{SpanVal: span, Value: tok.Type == TokenTrue}

	case TokenIdentifier:
		p.nextToken()
		return &Identifier{SpanVal: span, Name: tok.Literal}

	case TokenLParen:
		p.nextToken()
		inner := p.ParseExpression()
		if inner == nil {
			return nil
		}
		if !p.expect(TokenRParen) {
			return nil
		}
		return inner

	default:
		p.errorf("expected expression, got %s", p.describe(tok))
		return nil
	}
}

// ---------------------------------------------------------------------------
// Entry points
// ---------------------------------------------------------------------------

// Parse parses a whole source file. All syntax errors are reported
// together.
func Parse(source string) (*Program, error) {
	p := NewParser(source)
	prog := p.ParseProgram()
	if len(p.Errors()) > 0 {
		return nil, fmt.Errorf("parse errors: %s", strings.Join(p.Errors(), "; "))
	}
	return prog, nil
}
